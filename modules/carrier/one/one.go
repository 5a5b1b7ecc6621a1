// Package one integrates the Ocean Network Express e-commerce gateway
// (ONEY). Schedule calls carry both the subscription key and a bearer token
// issued against the same key.
package one

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"

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
	deps   carrier.Deps
	cfg    settings.ONE
	tokens carrier.TokenSource
}

func New(deps carrier.Deps, cfg settings.ONE) *Adapter {
	a := &Adapter{deps: deps, cfg: cfg}
	a.tokens = carrier.NewTokenSource(deps.Cache, "one token", cfg.Token.String(), a.fetchToken, deps.Logger)
	return a
}

func (a *Adapter) Name() string { return "one" }

func (a *Adapter) SCACs() []sched.CarrierCode {
	return []sched.CarrierCode{sched.ONEY}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (a *Adapter) fetchToken(ctx context.Context) (*oauth2.Token, error) {
	var resp tokenResponse
	res, err := a.deps.Fetch.Do(ctx, fetch.Request{
		Name:   a.Name(),
		Method: http.MethodPost,
		URL:    a.cfg.TokenURL,
		Headers: map[string]string{
			"apikey":        a.cfg.Token.String(),
			"Authorization": "Basic " + a.cfg.Auth.String(),
		},
		Form: url.Values{"grant_type": {"client_credentials"}},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !res.OK || resp.AccessToken == "" {
		return nil, fmt.Errorf("one token endpoint returned no access token")
	}
	return &oauth2.Token{AccessToken: resp.AccessToken}, nil
}

type scheduleResponse struct {
	RouteSchedules []routeSchedule `json:"routeSchedules"`
}

type routeSchedule struct {
	PortOfLoadingCode   string        `json:"portOfLoadingCode"`
	PortOfDischargeCode string        `json:"portOfDischargeCode"`
	TransitTime         int           `json:"transitTime"`
	LegSchedules        []legSchedule `json:"legSchedules"`
}

type legSchedule struct {
	DeparturePortCode     string `json:"departurePortCode"`
	DeparturePortName     string `json:"departurePortName"`
	DepartureTerminalCode string `json:"departureTerminalCode"`
	DepartureTerminalName string `json:"departureTerminalName"`
	ArrivalPortCode       string `json:"arrivalPortCode"`
	ArrivalPortName       string `json:"arrivalPortName"`
	ArrivalTerminalCode   string `json:"arrivalTerminalCode"`
	ArrivalTerminalName   string `json:"arrivalTerminalName"`
	DepartureDate         string `json:"departureDate"`
	ArrivalDate           string `json:"arrivalDate"`
	TransportMode         string `json:"transportMode"`
	VesselName            string `json:"vesselName"`
	LloydsCode            string `json:"lloydsCode"`
	ServiceCode           string `json:"serviceCode"`
	ConveyanceNumber      string `json:"conveyanceNumber"`
	CargoCutOffDate       string `json:"cargoCutOffDate"`
	DocCutOffDate         string `json:"docCutOffDate"`
	VgmCutOffDate         string `json:"vgmCutOffDate"`
}

func (a *Adapter) Fetch(ctx context.Context, q *carrier.Query) ([]sched.Schedule, error) {
	tok, err := a.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"originPortCode":      {q.Origin},
		"destinationPortCode": {q.Destination},
		"searchDate":          {q.StartDate.Format(sched.DateLayout)},
		"searchDateType":      {"BY_DEPARTURE_DATE"},
		"weeks":               {strconv.Itoa(int(q.SearchRange))},
	}
	if q.StartDateType == sched.StartDateArrival {
		params.Set("searchDateType", "BY_ARRIVAL_DATE")
	}

	var resp scheduleResponse
	res, err := a.deps.Fetch.Do(ctx, fetch.Request{
		Name:   a.Name(),
		Method: http.MethodGet,
		URL:    a.cfg.URL,
		Params: params,
		Headers: map[string]string{
			"apikey":        a.cfg.Token.String(),
			"Authorization": "Bearer " + tok.AccessToken,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, nil
	}

	schedules := make([]sched.Schedule, 0, len(resp.RouteSchedules))
	for i := range resp.RouteSchedules {
		if s, ok := mapRoute(&resp.RouteSchedules[i]); ok {
			schedules = append(schedules, s)
		}
	}
	return carrier.Filter(schedules, q), nil
}

func mapRoute(doc *routeSchedule) (sched.Schedule, bool) {
	if len(doc.LegSchedules) == 0 {
		return sched.Schedule{}, false
	}
	legs := make([]sched.Leg, 0, len(doc.LegSchedules))
	for i := range doc.LegSchedules {
		legs = append(legs, mapLeg(&doc.LegSchedules[i]))
	}
	last := len(legs) - 1
	return sched.Schedule{
		SCAC:          string(sched.ONEY),
		PointFrom:     legs[0].PointFrom.LocationCode,
		PointTo:       legs[last].PointTo.LocationCode,
		ETD:           legs[0].ETD,
		ETA:           legs[last].ETA,
		TransitTime:   doc.TransitTime,
		Transshipment: len(legs) > 1,
		Legs:          legs,
	}, true
}

func mapLeg(doc *legSchedule) sched.Leg {
	transit, err := sched.CalendarDays(doc.DepartureDate, doc.ArrivalDate)
	if err != nil {
		transit = 0
	}
	leg := sched.Leg{
		PointFrom: sched.PointBase{
			LocationName: doc.DeparturePortName,
			LocationCode: doc.DeparturePortCode,
			TerminalName: sched.PtrIfNotEmpty(doc.DepartureTerminalName),
			TerminalCode: sched.PtrIfNotEmpty(doc.DepartureTerminalCode),
		},
		PointTo: sched.PointBase{
			LocationName: doc.ArrivalPortName,
			LocationCode: doc.ArrivalPortCode,
			TerminalName: sched.PtrIfNotEmpty(doc.ArrivalTerminalName),
			TerminalCode: sched.PtrIfNotEmpty(doc.ArrivalTerminalCode),
		},
		ETD:         doc.DepartureDate,
		ETA:         doc.ArrivalDate,
		TransitTime: transit,
		Transportations: sched.Transportation{
			TransportType: carrier.NormalizeTransport(doc.TransportMode, transportTypes, sched.TransportVessel),
			TransportName: sched.PtrIfNotEmpty(doc.VesselName),
		},
	}
	if doc.LloydsCode != "" {
		leg.Transportations.ReferenceType = sched.Ptr(sched.ReferenceTypeIMO)
		leg.Transportations.Reference = sched.Ptr(doc.LloydsCode)
	}
	if doc.ServiceCode != "" {
		leg.Services = &sched.Service{ServiceCode: doc.ServiceCode}
	}
	if doc.ConveyanceNumber != "" {
		leg.Voyages = &sched.Voyage{InternalVoyage: sched.Ptr(doc.ConveyanceNumber)}
	}
	cutoffs := &sched.Cutoff{
		CyCutoffDate:  sched.PtrIfNotEmpty(doc.CargoCutOffDate),
		DocCutoffDate: sched.PtrIfNotEmpty(doc.DocCutOffDate),
		VgmCutoffDate: sched.PtrIfNotEmpty(doc.VgmCutOffDate),
	}
	if !cutoffs.Empty() {
		leg.Cutoffs = cutoffs
	}
	return leg
}
