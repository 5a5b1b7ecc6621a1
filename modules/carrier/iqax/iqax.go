// Package iqax integrates the IQAX sailing-schedule gateway, which fronts
// both OOCL (OOLU) and COSCO (COSU). Results come back grouped per
// operating carrier.
package iqax

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/neckchi/scheduleapi/modules/carrier"
	"github.com/neckchi/scheduleapi/modules/settings"
	"github.com/neckchi/scheduleapi/pkg/fetch"
	"github.com/neckchi/scheduleapi/pkg/sched"
)

var transportTypes = map[string]sched.TransportType{
	"VESSEL": sched.TransportVessel,
	"FEEDER": sched.TransportFeeder,
	"TRUCK":  sched.TransportTruck,
	"BARGE":  sched.TransportBarge,
	"RAIL":   sched.TransportRail,
}

type Adapter struct {
	deps carrier.Deps
	cfg  settings.IQAX
}

func New(deps carrier.Deps, cfg settings.IQAX) *Adapter {
	return &Adapter{deps: deps, cfg: cfg}
}

func (a *Adapter) Name() string { return "iqax" }

func (a *Adapter) SCACs() []sched.CarrierCode {
	return []sched.CarrierCode{sched.OOLU, sched.COSU}
}

type scheduleResponse struct {
	RouteGroupsList []routeGroup `json:"routeGroupsList"`
}

type routeGroup struct {
	CarrierScac string  `json:"carrierScac"`
	Route       []route `json:"route"`
}

type route struct {
	TransitTime int        `json:"transitTime"`
	Leg         []routeLeg `json:"leg"`
}

type routeLeg struct {
	FromPoint            routePoint `json:"fromPoint"`
	ToPoint              routePoint `json:"toPoint"`
	FromETD              string     `json:"fromETD"`
	ToETA                string     `json:"toETA"`
	TransitTimeInDays    int        `json:"transitTimeInDays"`
	TransportMode        string     `json:"transportMode"`
	Vessel               legVessel  `json:"vessel"`
	Service              legService `json:"service"`
	InternalVoyageNumber string     `json:"internalVoyageNumber"`
	ExternalVoyageNumber string     `json:"externalVoyageNumber"`
	CyCutoffTime         string     `json:"cyCutoffTime"`
	DocCutoffTime        string     `json:"docCutoffTime"`
	VgmCutoffTime        string     `json:"vgmCutoffTime"`
}

type routePoint struct {
	LocationName string `json:"locationName"`
	Unlocode     string `json:"unlocode"`
	FacilityName string `json:"facilityName"`
	FacilityCode string `json:"facilityCode"`
}

type legVessel struct {
	Name      string `json:"name"`
	IMONumber string `json:"IMONumber"`
}

type legService struct {
	Code string `json:"code"`
}

func (a *Adapter) Fetch(ctx context.Context, q *carrier.Query) ([]sched.Schedule, error) {
	params := url.Values{
		"appKey":         {a.cfg.Token.String()},
		"porID":          {q.Origin},
		"fndID":          {q.Destination},
		"searchDuration": {strconv.Itoa(int(q.SearchRange))},
		"departureFrom":  {q.StartDate.Format(sched.DateLayout)},
	}
	if q.StartDateType == sched.StartDateArrival {
		params.Del("departureFrom")
		params.Set("arrivalFrom", q.StartDate.Format(sched.DateLayout))
	}
	if q.SCAC != "" {
		params.Set("scac", string(q.SCAC))
	}
	if q.DirectOnly != nil {
		if *q.DirectOnly {
			params.Set("routing", "Direct")
		} else {
			params.Set("routing", "Transshipment")
		}
	}

	var resp scheduleResponse
	res, err := a.deps.Fetch.Do(ctx, fetch.Request{
		Name:   a.Name(),
		Method: http.MethodGet,
		URL:    a.cfg.URL,
		Params: params,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, nil
	}

	var schedules []sched.Schedule
	for gi := range resp.RouteGroupsList {
		group := &resp.RouteGroupsList[gi]
		if group.CarrierScac == "" {
			continue
		}
		if q.SCAC != "" && group.CarrierScac != string(q.SCAC) {
			continue
		}
		for ri := range group.Route {
			if s, ok := mapRoute(group.CarrierScac, &group.Route[ri]); ok {
				schedules = append(schedules, s)
			}
		}
	}
	return carrier.Filter(schedules, q), nil
}

func mapRoute(scac string, doc *route) (sched.Schedule, bool) {
	if len(doc.Leg) == 0 {
		return sched.Schedule{}, false
	}
	legs := make([]sched.Leg, 0, len(doc.Leg))
	for i := range doc.Leg {
		legs = append(legs, mapLeg(&doc.Leg[i]))
	}
	last := len(legs) - 1
	return sched.Schedule{
		SCAC:          scac,
		PointFrom:     legs[0].PointFrom.LocationCode,
		PointTo:       legs[last].PointTo.LocationCode,
		ETD:           legs[0].ETD,
		ETA:           legs[last].ETA,
		TransitTime:   doc.TransitTime,
		Transshipment: len(legs) > 1,
		Legs:          legs,
	}, true
}

func mapLeg(doc *routeLeg) sched.Leg {
	transit := doc.TransitTimeInDays
	if transit == 0 {
		if days, err := sched.CalendarDays(doc.FromETD, doc.ToETA); err == nil {
			transit = days
		}
	}
	leg := sched.Leg{
		PointFrom:   mapPoint(doc.FromPoint),
		PointTo:     mapPoint(doc.ToPoint),
		ETD:         doc.FromETD,
		ETA:         doc.ToETA,
		TransitTime: transit,
		Transportations: sched.Transportation{
			TransportType: carrier.NormalizeTransport(doc.TransportMode, transportTypes, sched.TransportVessel),
			TransportName: sched.PtrIfNotEmpty(doc.Vessel.Name),
		},
	}
	if doc.Vessel.IMONumber != "" {
		leg.Transportations.ReferenceType = sched.Ptr(sched.ReferenceTypeIMO)
		leg.Transportations.Reference = sched.Ptr(doc.Vessel.IMONumber)
	}
	if doc.Service.Code != "" {
		leg.Services = &sched.Service{ServiceCode: doc.Service.Code}
	}
	if doc.InternalVoyageNumber != "" || doc.ExternalVoyageNumber != "" {
		leg.Voyages = &sched.Voyage{
			InternalVoyage: sched.PtrIfNotEmpty(doc.InternalVoyageNumber),
			ExternalVoyage: sched.PtrIfNotEmpty(doc.ExternalVoyageNumber),
		}
	}
	cutoffs := &sched.Cutoff{
		CyCutoffDate:  sched.PtrIfNotEmpty(doc.CyCutoffTime),
		DocCutoffDate: sched.PtrIfNotEmpty(doc.DocCutoffTime),
		VgmCutoffDate: sched.PtrIfNotEmpty(doc.VgmCutoffTime),
	}
	if !cutoffs.Empty() {
		leg.Cutoffs = cutoffs
	}
	return leg
}

func mapPoint(p routePoint) sched.PointBase {
	return sched.PointBase{
		LocationName: p.LocationName,
		LocationCode: p.Unlocode,
		TerminalName: sched.PtrIfNotEmpty(p.FacilityName),
		TerminalCode: sched.PtrIfNotEmpty(p.FacilityCode),
	}
}
