// Package sudu integrates the Hamburg Süd group schedule gateway, which
// serves the Hamburg Süd (SUDU) and Aliança (ANRM) liner brands from one
// endpoint. Routes carry their operating brand on the route itself.
package sudu

import (
	"context"
	"net/http"
	"net/url"

	"github.com/neckchi/scheduleapi/modules/carrier"
	"github.com/neckchi/scheduleapi/modules/settings"
	"github.com/neckchi/scheduleapi/pkg/fetch"
	"github.com/neckchi/scheduleapi/pkg/sched"
)

// The gateway labels deep-sea sailings "Liner".
var transportTypes = map[string]sched.TransportType{
	"Liner":  sched.TransportVessel,
	"Feeder": sched.TransportFeeder,
	"Truck":  sched.TransportTruck,
	"Rail":   sched.TransportRail,
	"Barge":  sched.TransportBarge,
}

type Adapter struct {
	deps carrier.Deps
	cfg  settings.Sudu
}

func New(deps carrier.Deps, cfg settings.Sudu) *Adapter {
	return &Adapter{deps: deps, cfg: cfg}
}

func (a *Adapter) Name() string { return "sudu" }

func (a *Adapter) SCACs() []sched.CarrierCode {
	return []sched.CarrierCode{sched.SUDU, sched.ANRM}
}

type scheduleResponse struct {
	Routes []routeDoc `json:"routes"`
}

type routeDoc struct {
	CarrierCode string    `json:"carrierCode"`
	TransitTime int       `json:"transitTime"`
	Segments    []segment `json:"segments"`
}

type segment struct {
	Origin            port   `json:"origin"`
	Destination       port   `json:"destination"`
	DepartureDateTime string `json:"departureDateTime"`
	ArrivalDateTime   string `json:"arrivalDateTime"`
	Mode              string `json:"mode"`
	VesselName        string `json:"vesselName"`
	VesselIMO         string `json:"vesselImo"`
	ServiceCode       string `json:"serviceCode"`
	VoyageNumber      string `json:"voyageNumber"`
	CargoCutOff       string `json:"cargoCutOff"`
	DocumentCutOff    string `json:"documentCutOff"`
	VgmCutOff         string `json:"vgmCutOff"`
}

type port struct {
	Name           string `json:"name"`
	UNLocationCode string `json:"unLocationCode"`
	TerminalName   string `json:"terminalName"`
	TerminalCode   string `json:"terminalCode"`
}

func (a *Adapter) Fetch(ctx context.Context, q *carrier.Query) ([]sched.Schedule, error) {
	from, to := q.Window()
	params := url.Values{
		"origin":      {q.Origin},
		"destination": {q.Destination},
		"startDate":   {from},
		"endDate":     {to},
		"dateType":    {"departure"},
	}
	if q.StartDateType == sched.StartDateArrival {
		params.Set("dateType", "arrival")
	}
	if q.SCAC != "" {
		params.Set("carrier", string(q.SCAC))
	}

	var resp scheduleResponse
	res, err := a.deps.Fetch.Do(ctx, fetch.Request{
		Name:    a.Name(),
		Method:  http.MethodGet,
		URL:     a.cfg.URL,
		Params:  params,
		Headers: map[string]string{"API-Key": a.cfg.Token.String()},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, nil
	}

	schedules := make([]sched.Schedule, 0, len(resp.Routes))
	for i := range resp.Routes {
		doc := &resp.Routes[i]
		if doc.CarrierCode == "" {
			continue
		}
		if q.SCAC != "" && doc.CarrierCode != string(q.SCAC) {
			continue
		}
		if s, ok := mapRoute(doc); ok {
			schedules = append(schedules, s)
		}
	}
	return carrier.Filter(schedules, q), nil
}

func mapRoute(doc *routeDoc) (sched.Schedule, bool) {
	if len(doc.Segments) == 0 {
		return sched.Schedule{}, false
	}
	legs := make([]sched.Leg, 0, len(doc.Segments))
	for i := range doc.Segments {
		legs = append(legs, mapSegment(&doc.Segments[i]))
	}
	last := len(legs) - 1
	return sched.Schedule{
		SCAC:          doc.CarrierCode,
		PointFrom:     legs[0].PointFrom.LocationCode,
		PointTo:       legs[last].PointTo.LocationCode,
		ETD:           legs[0].ETD,
		ETA:           legs[last].ETA,
		TransitTime:   doc.TransitTime,
		Transshipment: len(legs) > 1,
		Legs:          legs,
	}, true
}

func mapSegment(doc *segment) sched.Leg {
	transit, err := sched.CalendarDays(doc.DepartureDateTime, doc.ArrivalDateTime)
	if err != nil {
		transit = 0
	}
	leg := sched.Leg{
		PointFrom:   mapPort(doc.Origin),
		PointTo:     mapPort(doc.Destination),
		ETD:         doc.DepartureDateTime,
		ETA:         doc.ArrivalDateTime,
		TransitTime: transit,
		Transportations: sched.Transportation{
			TransportType: carrier.NormalizeTransport(doc.Mode, transportTypes, sched.TransportVessel),
			TransportName: sched.PtrIfNotEmpty(doc.VesselName),
		},
	}
	if doc.VesselIMO != "" {
		leg.Transportations.ReferenceType = sched.Ptr(sched.ReferenceTypeIMO)
		leg.Transportations.Reference = sched.Ptr(doc.VesselIMO)
	}
	if doc.ServiceCode != "" {
		leg.Services = &sched.Service{ServiceCode: doc.ServiceCode}
	}
	if doc.VoyageNumber != "" {
		leg.Voyages = &sched.Voyage{InternalVoyage: sched.Ptr(doc.VoyageNumber)}
	}
	cutoffs := &sched.Cutoff{
		CyCutoffDate:  sched.PtrIfNotEmpty(doc.CargoCutOff),
		DocCutoffDate: sched.PtrIfNotEmpty(doc.DocumentCutOff),
		VgmCutoffDate: sched.PtrIfNotEmpty(doc.VgmCutOff),
	}
	if !cutoffs.Empty() {
		leg.Cutoffs = cutoffs
	}
	return leg
}

func mapPort(p port) sched.PointBase {
	return sched.PointBase{
		LocationName: p.Name,
		LocationCode: p.UNLocationCode,
		TerminalName: sched.PtrIfNotEmpty(p.TerminalName),
		TerminalCode: sched.PtrIfNotEmpty(p.TerminalCode),
	}
}
