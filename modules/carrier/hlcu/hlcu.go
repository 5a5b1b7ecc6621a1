// Package hlcu integrates the Hapag-Lloyd schedule gateway (HLCU), a DCSA
// point-to-point document served behind an IBM API Connect frontend.
package hlcu

import (
	"context"
	"net/http"
	"net/url"
	"sort"

	"github.com/neckchi/scheduleapi/modules/carrier"
	"github.com/neckchi/scheduleapi/modules/settings"
	"github.com/neckchi/scheduleapi/pkg/fetch"
	"github.com/neckchi/scheduleapi/pkg/sched"
)

var transportTypes = map[string]sched.TransportType{
	"VESSEL": sched.TransportVessel,
	"FEEDER": sched.TransportFeeder,
	"BARGE":  sched.TransportBarge,
	"RAIL":   sched.TransportRail,
	"TRUCK":  sched.TransportTruck,
}

// DCSA cut-off codes carried in cutOffTimes.
const (
	cutOffCargo         = "FCO"
	cutOffDocumentation = "DCO"
	cutOffVGM           = "VCO"
)

type Adapter struct {
	deps carrier.Deps
	cfg  settings.HapagLloyd
}

func New(deps carrier.Deps, cfg settings.HapagLloyd) *Adapter {
	return &Adapter{deps: deps, cfg: cfg}
}

func (a *Adapter) Name() string { return "hlcu" }

func (a *Adapter) SCACs() []sched.CarrierCode {
	return []sched.CarrierCode{sched.HLCU}
}

type routing struct {
	TransitTime int          `json:"transitTime"`
	CutOffTimes []cutOffTime `json:"cutOffTimes"`
	Legs        []routeLeg   `json:"legs"`
}

type cutOffTime struct {
	CutOffDateTimeCode string `json:"cutOffDateTimeCode"`
	CutOffDateTime     string `json:"cutOffDateTime"`
}

type routeLeg struct {
	SequenceNumber int       `json:"sequenceNumber"`
	Departure      callEvent `json:"departure"`
	Arrival        callEvent `json:"arrival"`
	Transport      transport `json:"transport"`
}

type callEvent struct {
	DateTime string       `json:"dateTime"`
	Location callLocation `json:"location"`
}

type callLocation struct {
	LocationName     string `json:"locationName"`
	UNLocationCode   string `json:"UNLocationCode"`
	FacilityName     string `json:"facilityName"`
	FacilitySMDGCode string `json:"facilitySMDGCode"`
}

type transport struct {
	ModeOfTransport                string `json:"modeOfTransport"`
	Vessel                         vessel `json:"vessel"`
	CarrierServiceCode             string `json:"carrierServiceCode"`
	CarrierExportVoyageNumber      string `json:"carrierExportVoyageNumber"`
	UniversalExportVoyageReference string `json:"universalExportVoyageReference"`
}

type vessel struct {
	VesselIMONumber string `json:"vesselIMONumber"`
	Name            string `json:"name"`
}

func (a *Adapter) Fetch(ctx context.Context, q *carrier.Query) ([]sched.Schedule, error) {
	params := url.Values{
		"placeOfReceipt":  {q.Origin},
		"placeOfDelivery": {q.Destination},
	}
	from, to := q.Window()
	if q.StartDateType == sched.StartDateArrival {
		params.Set("arrivalStartDate", from)
		params.Set("arrivalEndDate", to)
	} else {
		params.Set("departureStartDate", from)
		params.Set("departureEndDate", to)
	}

	var routings []routing
	res, err := a.deps.Fetch.Do(ctx, fetch.Request{
		Name:   a.Name(),
		Method: http.MethodGet,
		URL:    a.cfg.URL,
		Params: params,
		Headers: map[string]string{
			"X-IBM-Client-Id":     a.cfg.ClientID,
			"X-IBM-Client-Secret": a.cfg.ClientSecret.String(),
		},
	}, &routings)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, nil
	}

	schedules := make([]sched.Schedule, 0, len(routings))
	for i := range routings {
		if s, ok := mapRouting(&routings[i]); ok {
			schedules = append(schedules, s)
		}
	}
	return carrier.Filter(schedules, q), nil
}

// mapRouting orders the legs by sequence number and hangs the routing-level
// cut-offs on the departure leg.
func mapRouting(doc *routing) (sched.Schedule, bool) {
	if len(doc.Legs) == 0 {
		return sched.Schedule{}, false
	}
	sort.SliceStable(doc.Legs, func(i, j int) bool {
		return doc.Legs[i].SequenceNumber < doc.Legs[j].SequenceNumber
	})

	legs := make([]sched.Leg, 0, len(doc.Legs))
	for i := range doc.Legs {
		legs = append(legs, mapLeg(&doc.Legs[i]))
	}
	if cutoffs := mapCutOffs(doc.CutOffTimes); !cutoffs.Empty() {
		legs[0].Cutoffs = cutoffs
	}

	last := len(legs) - 1
	return sched.Schedule{
		SCAC:          string(sched.HLCU),
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
	transit, err := sched.CalendarDays(doc.Departure.DateTime, doc.Arrival.DateTime)
	if err != nil {
		transit = 0
	}
	leg := sched.Leg{
		PointFrom:   mapPoint(doc.Departure.Location),
		PointTo:     mapPoint(doc.Arrival.Location),
		ETD:         doc.Departure.DateTime,
		ETA:         doc.Arrival.DateTime,
		TransitTime: transit,
		Transportations: sched.Transportation{
			TransportType: carrier.NormalizeTransport(doc.Transport.ModeOfTransport, transportTypes, sched.TransportVessel),
			TransportName: sched.PtrIfNotEmpty(doc.Transport.Vessel.Name),
		},
	}
	if imo := doc.Transport.Vessel.VesselIMONumber; imo != "" {
		leg.Transportations.ReferenceType = sched.Ptr(sched.ReferenceTypeIMO)
		leg.Transportations.Reference = sched.Ptr(imo)
	}
	if doc.Transport.CarrierServiceCode != "" {
		leg.Services = &sched.Service{ServiceCode: doc.Transport.CarrierServiceCode}
	}
	if doc.Transport.CarrierExportVoyageNumber != "" || doc.Transport.UniversalExportVoyageReference != "" {
		leg.Voyages = &sched.Voyage{
			InternalVoyage: sched.PtrIfNotEmpty(doc.Transport.CarrierExportVoyageNumber),
			ExternalVoyage: sched.PtrIfNotEmpty(doc.Transport.UniversalExportVoyageReference),
		}
	}
	return leg
}

func mapPoint(loc callLocation) sched.PointBase {
	return sched.PointBase{
		LocationName: loc.LocationName,
		LocationCode: loc.UNLocationCode,
		TerminalName: sched.PtrIfNotEmpty(loc.FacilityName),
		TerminalCode: sched.PtrIfNotEmpty(loc.FacilitySMDGCode),
	}
}

func mapCutOffs(times []cutOffTime) *sched.Cutoff {
	var cutoffs sched.Cutoff
	for _, ct := range times {
		if ct.CutOffDateTime == "" {
			continue
		}
		switch ct.CutOffDateTimeCode {
		case cutOffCargo:
			cutoffs.CyCutoffDate = sched.Ptr(ct.CutOffDateTime)
		case cutOffDocumentation:
			cutoffs.DocCutoffDate = sched.Ptr(ct.CutOffDateTime)
		case cutOffVGM:
			cutoffs.VgmCutoffDate = sched.Ptr(ct.CutOffDateTime)
		}
	}
	if cutoffs.Empty() {
		return nil
	}
	return &cutoffs
}
