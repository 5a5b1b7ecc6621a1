// Package hmm integrates the Hyundai Merchant Marine gateway (HDMU).
//
// One carrier search is a POST whose body restates the query; identical
// searches within the schedule expiry window are served from the response
// cache without calling the gateway again.
package hmm

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/neckchi/scheduleapi/modules/carrier"
	"github.com/neckchi/scheduleapi/modules/settings"
	"github.com/neckchi/scheduleapi/pkg/cache"
	"github.com/neckchi/scheduleapi/pkg/fetch"
	"github.com/neckchi/scheduleapi/pkg/sched"
)

const periodDateLayout = "20060102"

type Adapter struct {
	deps carrier.Deps
	cfg  settings.HMM
}

func New(deps carrier.Deps, cfg settings.HMM) *Adapter {
	return &Adapter{deps: deps, cfg: cfg}
}

func (a *Adapter) Name() string { return "hmm" }

func (a *Adapter) SCACs() []sched.CarrierCode {
	return []sched.CarrierCode{sched.HDMU}
}

type scheduleRequest struct {
	FromLocationCode string `json:"fromLocationCode"`
	ReceiveTermCode  string `json:"receiveTermCode"`
	ToLocationCode   string `json:"toLocationCode"`
	DeliveryTermCode string `json:"deliveryTermCode"`
	PeriodDate       string `json:"periodDate"`
	WeekTerm         string `json:"weekTerm"`
	WebSort          string `json:"webSort"`
	WebPriority      string `json:"webPriority"`
}

type scheduleResponse struct {
	ResultMessage string      `json:"resultMessage"`
	ResultData    []routeData `json:"resultData"`
}

type routeData struct {
	LoadingPortCode       string `json:"loadingPortCode"`
	DischargePortCode     string `json:"dischargePortCode"`
	TransshipPortCode     string `json:"transshipPortCode"`
	TotalTransitDay       int    `json:"totalTransitDay"`
	DepartureDate         string `json:"departureDate"`
	ArrivalDate           string `json:"arrivalDate"`
	CargoCutOffTime       string `json:"cargoCutOffTime"`
	DocuCutOffTime        string `json:"docuCutOffTime"`
	LoadingTerminalName   string `json:"loadingTerminalName"`
	LoadingTerminalCode   string `json:"loadingTerminalCode"`
	TransshipTerminalName string `json:"transshipTerminalName"`
	TransshipTerminalCode string `json:"transshipTerminalCode"`
	DischargeTerminalName string `json:"dischargeTerminalName"`
	DischargeTerminalCode string `json:"dischargeTerminalCode"`
	PorFacilityName       string `json:"porFacilityName"`
	PorFacilityCode       string `json:"porFacilityCode"`
	DeliveryFacilityName  string `json:"deliveryFacilityName"`
	// The gateway really does spell it this way.
	DeliveryFacilityCode string       `json:"deliveryFaciltyCode"`
	OutboundInland       *inlandMove  `json:"outboundInland"`
	InboundInland        *inlandMove  `json:"inboundInland"`
	Vessel               []vesselMove `json:"vessel"`
}

type inlandMove struct {
	FromUnLocationCode string `json:"fromUnLocationCode"`
	ToUnLocationCode   string `json:"toUnLocationCode"`
	FromLocationName   string `json:"fromLocationName"`
	ToLocationName     string `json:"toLocationName"`
	// Departure is misspelled on the wire.
	FromLocationDepartureDate string `json:"fromLocationDepatureDate"`
	ToLocationArrivalDate     string `json:"toLocationArrivalDate"`
	TransMode                 string `json:"transMode"`
}

type vesselMove struct {
	LoadPort            string `json:"loadPort"`
	LoadPortCode        string `json:"loadPortCode"`
	DischargePort       string `json:"dischargePort"`
	DischargePortCode   string `json:"dischargePortCode"`
	VesselName          string `json:"vesselName"`
	VesselLoop          string `json:"vesselLoop"`
	VoyageNumber        string `json:"voyageNumber"`
	LloydRegisterNo     string `json:"lloydRegisterNo"`
	VesselSequence      int    `json:"vesselSequence"`
	VesselDepartureDate string `json:"vesselDepartureDate"`
	VesselArrivalDate   string `json:"vesselArrivalDate"`
}

func (a *Adapter) Fetch(ctx context.Context, q *carrier.Query) ([]sched.Schedule, error) {
	body := scheduleRequest{
		FromLocationCode: q.Origin,
		ReceiveTermCode:  "CY",
		ToLocationCode:   q.Destination,
		DeliveryTermCode: "CY",
		PeriodDate:       q.StartDate.Format(periodDateLayout),
		WeekTerm:         strconv.Itoa(int(q.SearchRange)),
		WebSort:          "D",
		WebPriority:      webPriority(q.DirectOnly),
	}
	key := cache.Key("hmm response", q.Origin, q.Destination, body.PeriodDate, body.WeekTerm, body.WebPriority,
		carrier.TriState(q.DirectOnly), carrier.OrNone(q.VesselIMO), carrier.OrNone(q.Service), carrier.OrNone(q.TSP))

	resp, err := a.loadResponse(ctx, key, body)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}

	schedules := make([]sched.Schedule, 0, len(resp.ResultData))
	for _, doc := range resp.ResultData {
		if s, ok := mapRoute(doc); ok {
			schedules = append(schedules, s)
		}
	}
	return carrier.Filter(schedules, q), nil
}

// webPriority encodes the direct-routing preference the gateway filters on:
// D direct only, T transshipment only, A all.
func webPriority(directOnly *bool) string {
	switch {
	case directOnly == nil:
		return "A"
	case *directOnly:
		return "D"
	default:
		return "T"
	}
}

// loadResponse returns the carrier response for the search, from the
// response cache when an identical search was served recently. Only a
// successful response body is cached, in the background.
func (a *Adapter) loadResponse(ctx context.Context, key string, body scheduleRequest) (*scheduleResponse, error) {
	if buf, ok := a.deps.Cache.FetchKey(ctx, key); ok {
		var cached scheduleResponse
		if err := jsoniter.Unmarshal(buf, &cached); err == nil {
			return &cached, nil
		}
	}

	var raw jsoniter.RawMessage
	res, err := a.deps.Fetch.Do(ctx, fetch.Request{
		Name:    a.Name(),
		Method:  http.MethodPost,
		URL:     a.cfg.URL,
		Headers: map[string]string{"x-Gateway-APIKey": a.cfg.Token.String()},
		JSON:    body,
	}, &raw)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, nil
	}

	var resp scheduleResponse
	if err := jsoniter.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding hmm response: %w", err)
	}
	if resp.ResultMessage != "Success" {
		return nil, nil
	}

	buf := []byte(raw)
	a.deps.Background.Enqueue(func(ctx context.Context) {
		a.deps.Cache.Store(ctx, key, buf, a.deps.ScheduleExpiry)
	})
	return &resp, nil
}

// mapRoute composes a schedule from the optional outbound inland move, the
// vessel legs with a published departure, and the optional inbound inland
// move. Terminal names ride on the route document rather than the legs;
// which one applies depends on the leg's position in the route.
func mapRoute(doc routeData) (sched.Schedule, bool) {
	transship := doc.TransshipPortCode != ""

	var legs []sched.Leg
	if out := doc.OutboundInland; out != nil {
		legs = append(legs, mapInland(*out,
			sched.PointBase{
				LocationName: out.FromLocationName,
				LocationCode: out.FromUnLocationCode,
				TerminalName: sched.PtrIfNotEmpty(doc.PorFacilityName),
				TerminalCode: sched.PtrIfNotEmpty(doc.PorFacilityCode),
			},
			sched.PointBase{
				LocationName: out.ToLocationName,
				LocationCode: doc.LoadingPortCode,
				TerminalName: sched.PtrIfNotEmpty(doc.LoadingTerminalName),
				TerminalCode: sched.PtrIfNotEmpty(doc.LoadingTerminalCode),
			}))
	}
	for idx, v := range doc.Vessel {
		if v.VesselDepartureDate == "" {
			continue
		}
		legs = append(legs, mapVessel(doc, idx, v, transship))
	}
	if in := doc.InboundInland; in != nil {
		legs = append(legs, mapInland(*in,
			sched.PointBase{
				LocationName: in.FromLocationName,
				LocationCode: in.FromUnLocationCode,
				TerminalName: sched.PtrIfNotEmpty(doc.DischargeTerminalName),
				TerminalCode: sched.PtrIfNotEmpty(doc.DischargeTerminalCode),
			},
			sched.PointBase{
				LocationName: in.ToLocationName,
				LocationCode: in.ToUnLocationCode,
				TerminalName: sched.PtrIfNotEmpty(doc.DeliveryFacilityName),
				TerminalCode: sched.PtrIfNotEmpty(doc.DeliveryFacilityCode),
			}))
	}
	if len(legs) == 0 {
		return sched.Schedule{}, false
	}

	return sched.Schedule{
		SCAC:          string(sched.HDMU),
		PointFrom:     legs[0].PointFrom.LocationCode,
		PointTo:       legs[len(legs)-1].PointTo.LocationCode,
		ETD:           legs[0].ETD,
		ETA:           legs[len(legs)-1].ETA,
		TransitTime:   doc.TotalTransitDay,
		Transshipment: len(legs) > 1,
		Legs:          legs,
	}, true
}

// mapInland normalizes a door move. Inland legs carry no voyage of their
// own, so the voyage number is the NA placeholder.
func mapInland(move inlandMove, from, to sched.PointBase) sched.Leg {
	transit, err := sched.CalendarDays(move.FromLocationDepartureDate, move.ToLocationArrivalDate)
	if err != nil {
		transit = 0
	}
	return sched.Leg{
		PointFrom:   from,
		PointTo:     to,
		ETD:         move.FromLocationDepartureDate,
		ETA:         move.ToLocationArrivalDate,
		TransitTime: transit,
		Transportations: sched.Transportation{
			TransportType: sched.TransportType(carrier.TitleCase(move.TransMode)),
		},
		Voyages: &sched.Voyage{InternalVoyage: sched.Ptr("NA")},
	}
}

// mapVessel normalizes one ocean leg. The first sailing loads at the
// loading terminal and, on a transshipped route, discharges at the
// transshipment terminal; later sailings load there and discharge at the
// final terminal. A sailing without a vessel name is a feeder. Cargo
// deadlines apply to the route's first published sailing only.
func mapVessel(doc routeData, idx int, v vesselMove, transship bool) sched.Leg {
	fromTerminalName, fromTerminalCode := doc.TransshipTerminalName, doc.TransshipTerminalCode
	if v.VesselSequence == 1 {
		fromTerminalName, fromTerminalCode = doc.LoadingTerminalName, doc.LoadingTerminalCode
	}
	toTerminalName, toTerminalCode := doc.DischargeTerminalName, doc.DischargeTerminalCode
	if transship && v.VesselSequence == 1 {
		toTerminalName, toTerminalCode = doc.TransshipTerminalName, doc.TransshipTerminalCode
	}

	transit, err := sched.CalendarDays(v.VesselDepartureDate, v.VesselArrivalDate)
	if err != nil {
		transit = 0
	}

	transport := sched.TransportFeeder
	if v.VesselName != "" {
		transport = sched.TransportVessel
	}

	leg := sched.Leg{
		PointFrom: sched.PointBase{
			LocationName: v.LoadPort,
			LocationCode: v.LoadPortCode,
			TerminalName: sched.PtrIfNotEmpty(fromTerminalName),
			TerminalCode: sched.PtrIfNotEmpty(fromTerminalCode),
		},
		PointTo: sched.PointBase{
			LocationName: v.DischargePort,
			LocationCode: v.DischargePortCode,
			TerminalName: sched.PtrIfNotEmpty(toTerminalName),
			TerminalCode: sched.PtrIfNotEmpty(toTerminalCode),
		},
		ETD:         v.VesselDepartureDate,
		ETA:         v.VesselArrivalDate,
		TransitTime: transit,
		Transportations: sched.Transportation{
			TransportType: transport,
			TransportName: sched.PtrIfNotEmpty(v.VesselName),
		},
	}
	if v.LloydRegisterNo != "" {
		leg.Transportations.ReferenceType = sched.Ptr(sched.ReferenceTypeIMO)
		leg.Transportations.Reference = sched.Ptr(v.LloydRegisterNo)
	}
	if v.VesselLoop != "" {
		leg.Services = &sched.Service{ServiceCode: v.VesselLoop}
	}
	if v.VoyageNumber != "" {
		leg.Voyages = &sched.Voyage{InternalVoyage: sched.Ptr(v.VoyageNumber)}
	}
	if idx == 0 && (doc.CargoCutOffTime != "" || doc.DocuCutOffTime != "") {
		leg.Cutoffs = &sched.Cutoff{
			CyCutoffDate:  sched.PtrIfNotEmpty(doc.CargoCutOffTime),
			DocCutoffDate: sched.PtrIfNotEmpty(doc.DocuCutOffTime),
		}
	}
	return leg
}
