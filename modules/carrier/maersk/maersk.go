// Package maersk integrates the A.P. Moller group point-to-point gateway.
// Ocean products arrive as newline-delimited JSON, one product per line,
// and the same endpoint serves five operating brands selected through the
// vesselOperatorCarrierCode parameter.
package maersk

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sync"

	"github.com/grafana/dskit/flagext"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/multierr"

	"github.com/neckchi/scheduleapi/modules/carrier"
	"github.com/neckchi/scheduleapi/modules/settings"
	"github.com/neckchi/scheduleapi/pkg/cache"
	"github.com/neckchi/scheduleapi/pkg/fetch"
	"github.com/neckchi/scheduleapi/pkg/sched"
)

// The product gateway reports transit in minutes.
const minutesPerDay = 24 * 60

var brands = []sched.CarrierCode{sched.MAEU, sched.SEAU, sched.SEJJ, sched.MCPU, sched.MAEI}

var transportTypes = map[string]sched.TransportType{
	"MVS": sched.TransportVessel,
	"FEF": sched.TransportFeeder,
	"FEO": sched.TransportFeeder,
	"TRK": sched.TransportTruck,
	"BAR": sched.TransportBarge,
	"BCO": sched.TransportBarge,
	"RR":  sched.TransportRail,
	"RCO": sched.TransportRail,
}

// Adapter serves the five Maersk brand SCACs from the shared product stream.
type Adapter struct {
	deps carrier.Deps
	cfg  settings.Maersk
}

func New(deps carrier.Deps, cfg settings.Maersk) *Adapter {
	return &Adapter{deps: deps, cfg: cfg}
}

func (a *Adapter) Name() string { return "maersk" }

func (a *Adapter) SCACs() []sched.CarrierCode {
	return append([]sched.CarrierCode(nil), brands...)
}

// location is one entry from the geography endpoint. The product gateway
// keys origins and destinations by carrier geo ID, not UN/LOCODE, so every
// search starts by resolving both ends here.
type location struct {
	CityName         string `json:"cityName"`
	CarrierCityGeoID string `json:"carrierCityGeoID"`
	UNLocationCode   string `json:"UNLocationCode"`
}

type oceanProduct struct {
	VesselOperatorCarrierCode string              `json:"vesselOperatorCarrierCode"`
	TransportSchedules        []transportSchedule `json:"transportSchedules"`
}

type transportSchedule struct {
	DepartureDateTime string         `json:"departureDateTime"`
	ArrivalDateTime   string         `json:"arrivalDateTime"`
	TransitTime       int            `json:"transitTime"`
	TransportLegs     []transportLeg `json:"transportLegs"`
}

type transportLeg struct {
	DepartureDateTime string        `json:"departureDateTime"`
	ArrivalDateTime   string        `json:"arrivalDateTime"`
	Facilities        legFacilities `json:"facilities"`
	Transport         legTransport  `json:"transport"`
}

type legFacilities struct {
	StartLocation facility `json:"startLocation"`
	EndLocation   facility `json:"endLocation"`
}

type facility struct {
	CityName            string `json:"cityName"`
	UNLocationCode      string `json:"UNLocationCode"`
	CarrierTerminalName string `json:"carrierTerminalName"`
	CarrierTerminalCode string `json:"carrierTerminalCode"`
}

type legTransport struct {
	TransportMode                string `json:"transportMode"`
	Vessel                       vessel `json:"vessel"`
	CarrierServiceCode           string `json:"carrierServiceCode"`
	CarrierDepartureVoyageNumber string `json:"carrierDepartureVoyageNumber"`
}

type vessel struct {
	VesselIMONumber string `json:"vesselIMONumber"`
	VesselName      string `json:"vesselName"`
}

type deadlineDoc struct {
	Deadlines []deadline `json:"deadlines"`
}

type deadline struct {
	DeadlineName  string `json:"deadlineName"`
	DeadlineLocal string `json:"deadlineLocal"`
}

// Fetch resolves both ends of the lane to carrier geo IDs, then streams the
// product feed once per brand. A pinned SCAC queries only that brand; an
// open request fans out over all five.
func (a *Adapter) Fetch(ctx context.Context, q *carrier.Query) ([]sched.Schedule, error) {
	origin, err := a.resolveLocation(ctx, q.Origin)
	if err != nil {
		return nil, err
	}
	destination, err := a.resolveLocation(ctx, q.Destination)
	if err != nil {
		return nil, err
	}
	if origin == nil || destination == nil {
		return nil, nil
	}

	codes := brands
	if q.SCAC != "" {
		codes = []sched.CarrierCode{q.SCAC}
	}

	var wg sync.WaitGroup
	byCode := make([][]sched.Schedule, len(codes))
	errs := make([]error, len(codes))
	for i, code := range codes {
		wg.Add(1)
		go func(i int, code sched.CarrierCode) {
			defer wg.Done()
			byCode[i], errs[i] = a.fetchBrand(ctx, q, code, origin, destination)
		}(i, code)
	}
	wg.Wait()
	if err := multierr.Combine(errs...); err != nil {
		return nil, err
	}

	var schedules []sched.Schedule
	for _, part := range byCode {
		schedules = append(schedules, part...)
	}
	return carrier.Filter(schedules, q), nil
}

// resolveLocation maps a UN/LOCODE to the gateway's geography record. The
// raw response is cached under a per-location fingerprint so repeat lanes
// skip the lookup. A well-formed response that knows nothing about the code
// resolves to nil without error.
func (a *Adapter) resolveLocation(ctx context.Context, code string) (*location, error) {
	key := cache.Key("maersk location", code)
	if buf, ok := a.deps.Cache.FetchKey(ctx, key); ok {
		var cached []location
		if err := jsoniter.Unmarshal(buf, &cached); err == nil && len(cached) > 0 {
			return &cached[0], nil
		}
	}

	var docs []location
	res, err := a.deps.Fetch.Do(ctx, fetch.Request{
		Name:     a.Name(),
		Method:   http.MethodGet,
		URL:      a.cfg.LocationURL,
		Params:   url.Values{"UNLocationCode": {code}},
		Headers:  a.headers(a.cfg.Token),
		CacheKey: key,
		CacheTTL: a.deps.ScheduleExpiry,
	}, &docs)
	if err != nil {
		return nil, err
	}
	if !res.OK || len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

func (a *Adapter) fetchBrand(ctx context.Context, q *carrier.Query, code sched.CarrierCode, origin, destination *location) ([]sched.Schedule, error) {
	stream, err := a.deps.Fetch.Stream(ctx, fetch.Request{
		Name:    a.Name(),
		Method:  http.MethodGet,
		URL:     a.cfg.P2PURL,
		Params:  a.productParams(q, code, origin, destination),
		Headers: a.headers(a.cfg.Token),
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var schedules []sched.Schedule
	for stream.Next() {
		var product oceanProduct
		if err := jsoniter.Unmarshal(stream.Record(), &product); err != nil {
			return nil, fmt.Errorf("decoding maersk product: %w", err)
		}
		schedules = append(schedules, a.mapProduct(ctx, &product, code)...)
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return schedules, nil
}

func (a *Adapter) productParams(q *carrier.Query, code sched.CarrierCode, origin, destination *location) url.Values {
	params := url.Values{
		"carrierCollectionOriginGeoID":    {origin.CarrierCityGeoID},
		"carrierDeliveryDestinationGeoID": {destination.CarrierCityGeoID},
		"vesselOperatorCarrierCode":       {string(code)},
		"startDate":                       {q.StartDate.Format(sched.DateLayout)},
		"dateRange":                       {fmt.Sprintf("P%dW", q.SearchRange)},
		"startDateType":                   {"D"},
	}
	if q.StartDateType == sched.StartDateArrival {
		params.Set("startDateType", "A")
	}
	return params
}

func (a *Adapter) headers(token flagext.Secret) map[string]string {
	return map[string]string{"Consumer-Key": token.String()}
}

// mapProduct normalizes every transport schedule under one product. The
// record's own operator code wins over the brand that was queried, since an
// open fan-out sees partner sailings under their operating SCAC.
func (a *Adapter) mapProduct(ctx context.Context, product *oceanProduct, queried sched.CarrierCode) []sched.Schedule {
	scac := product.VesselOperatorCarrierCode
	if scac == "" {
		scac = string(queried)
	}
	schedules := make([]sched.Schedule, 0, len(product.TransportSchedules))
	for i := range product.TransportSchedules {
		if s, ok := a.mapTransportSchedule(ctx, scac, &product.TransportSchedules[i]); ok {
			schedules = append(schedules, s)
		}
	}
	return schedules
}

func (a *Adapter) mapTransportSchedule(ctx context.Context, scac string, doc *transportSchedule) (sched.Schedule, bool) {
	if len(doc.TransportLegs) == 0 {
		return sched.Schedule{}, false
	}
	legs := make([]sched.Leg, 0, len(doc.TransportLegs))
	for i := range doc.TransportLegs {
		legs = append(legs, mapLeg(&doc.TransportLegs[i]))
	}
	if cutoffs := a.firstLegCutoffs(ctx, &doc.TransportLegs[0]); !cutoffs.Empty() {
		legs[0].Cutoffs = cutoffs
	}
	last := len(legs) - 1
	return sched.Schedule{
		SCAC:          scac,
		PointFrom:     legs[0].PointFrom.LocationCode,
		PointTo:       legs[last].PointTo.LocationCode,
		ETD:           legs[0].ETD,
		ETA:           legs[last].ETA,
		TransitTime:   transitDays(doc.TransitTime),
		Transshipment: len(legs) > 1,
		Legs:          legs,
	}, true
}

func mapLeg(doc *transportLeg) sched.Leg {
	transit, err := sched.CalendarDays(doc.DepartureDateTime, doc.ArrivalDateTime)
	if err != nil {
		transit = 0
	}
	leg := sched.Leg{
		PointFrom:   mapPoint(doc.Facilities.StartLocation),
		PointTo:     mapPoint(doc.Facilities.EndLocation),
		ETD:         doc.DepartureDateTime,
		ETA:         doc.ArrivalDateTime,
		TransitTime: transit,
		Transportations: sched.Transportation{
			TransportType: carrier.NormalizeTransport(doc.Transport.TransportMode, transportTypes, sched.TransportVessel),
			TransportName: sched.PtrIfNotEmpty(doc.Transport.Vessel.VesselName),
		},
	}
	if imo := doc.Transport.Vessel.VesselIMONumber; imo != "" {
		leg.Transportations.ReferenceType = sched.Ptr(sched.ReferenceTypeIMO)
		leg.Transportations.Reference = sched.Ptr(imo)
	}
	if doc.Transport.CarrierServiceCode != "" {
		leg.Services = &sched.Service{ServiceCode: doc.Transport.CarrierServiceCode}
	}
	if doc.Transport.CarrierDepartureVoyageNumber != "" {
		leg.Voyages = &sched.Voyage{InternalVoyage: sched.Ptr(doc.Transport.CarrierDepartureVoyageNumber)}
	}
	return leg
}

func mapPoint(f facility) sched.PointBase {
	return sched.PointBase{
		LocationName: f.CityName,
		LocationCode: f.UNLocationCode,
		TerminalName: sched.PtrIfNotEmpty(f.CarrierTerminalName),
		TerminalCode: sched.PtrIfNotEmpty(f.CarrierTerminalCode),
	}
}

// firstLegCutoffs looks up the published deadlines for the first sailing on
// the separate deadline endpoint, which runs under its own consumer key.
// The lookup is best effort: any failure leaves the leg without cutoffs.
func (a *Adapter) firstLegCutoffs(ctx context.Context, leg *transportLeg) *sched.Cutoff {
	imo := leg.Transport.Vessel.VesselIMONumber
	voyage := leg.Transport.CarrierDepartureVoyageNumber
	port := leg.Facilities.StartLocation.UNLocationCode
	if imo == "" || voyage == "" || port == "" {
		return nil
	}

	key := cache.Key("maersk deadlines", imo, voyage, port)
	if buf, ok := a.deps.Cache.FetchKey(ctx, key); ok {
		var cached deadlineDoc
		if err := jsoniter.Unmarshal(buf, &cached); err == nil {
			return mapDeadlines(cached.Deadlines)
		}
	}

	var doc deadlineDoc
	res, err := a.deps.Fetch.Do(ctx, fetch.Request{
		Name:   a.Name(),
		Method: http.MethodGet,
		URL:    a.cfg.CutoffURL,
		Params: url.Values{
			"vesselIMONumber": {imo},
			"voyageNumber":    {voyage},
			"UNLocationCode":  {port},
		},
		Headers:  a.headers(a.cfg.Token2),
		CacheKey: key,
		CacheTTL: a.deps.ScheduleExpiry,
	}, &doc)
	if err != nil || !res.OK {
		return nil
	}
	return mapDeadlines(doc.Deadlines)
}

func mapDeadlines(deadlines []deadline) *sched.Cutoff {
	var cutoffs sched.Cutoff
	for _, d := range deadlines {
		if d.DeadlineLocal == "" {
			continue
		}
		switch d.DeadlineName {
		case "Commercial Cargo Cutoff":
			cutoffs.CyCutoffDate = sched.Ptr(d.DeadlineLocal)
		case "Shipping Instructions Deadline":
			cutoffs.DocCutoffDate = sched.Ptr(d.DeadlineLocal)
		case "VGM Deadline":
			cutoffs.VgmCutoffDate = sched.Ptr(d.DeadlineLocal)
		}
	}
	if cutoffs.Empty() {
		return nil
	}
	return &cutoffs
}

func transitDays(minutes int) int {
	return int(math.Round(float64(minutes) / minutesPerDay))
}
