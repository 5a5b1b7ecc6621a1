// Package cma integrates the CMA CGM group routing gateway, one endpoint
// serving four carriers (CMDU, ANNU, CHNL, APLU) addressed by an internal
// shipping-company code.
package cma

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/multierr"

	"github.com/neckchi/scheduleapi/modules/carrier"
	"github.com/neckchi/scheduleapi/modules/settings"
	"github.com/neckchi/scheduleapi/pkg/fetch"
	"github.com/neckchi/scheduleapi/pkg/sched"
)

// The gateway pages in blocks of 50 routings, answering a partial block
// with 206 and the total item count in Content-Range.
const pageSize = 50

// govCode is APL's internal company code. US-flag services only appear when
// it is queried under the USGovernment routing scope.
const govCode = "0015"

const (
	routingCommercial   = "Commercial"
	routingUSGovernment = "USGovernment"
)

// Legs the gateway publishes without dates fall back to the wall-clock time
// of the request, at second precision with the local offset.
const defaultDateLayout = "2006-01-02T15:04:05-07:00"

var scacByCode = map[string]string{
	"0001": string(sched.CMDU),
	"0002": string(sched.ANNU),
	"0011": string(sched.CHNL),
	"0015": string(sched.APLU),
}

var codeBySCAC = map[sched.CarrierCode]string{
	sched.CMDU: "0001",
	sched.ANNU: "0002",
	sched.CHNL: "0011",
	sched.APLU: "0015",
}

type Adapter struct {
	deps carrier.Deps
	cfg  settings.CMA
}

func New(deps carrier.Deps, cfg settings.CMA) *Adapter {
	return &Adapter{deps: deps, cfg: cfg}
}

func (a *Adapter) Name() string { return "cma" }

func (a *Adapter) SCACs() []sched.CarrierCode {
	return []sched.CarrierCode{sched.CMDU, sched.ANNU, sched.CHNL, sched.APLU}
}

type routing struct {
	ShippingCompany string          `json:"shippingCompany"`
	TransitTime     int             `json:"transitTime"`
	RoutingDetails  []routingDetail `json:"routingDetails"`
}

type routingDetail struct {
	PointFrom      routingPoint      `json:"pointFrom"`
	PointTo        routingPoint      `json:"pointTo"`
	LegTransitTime int               `json:"legTransitTime"`
	Transportation legTransportation `json:"transportation"`
}

type routingPoint struct {
	Location           pointLocation `json:"location"`
	DepartureDateLocal string        `json:"departureDateLocal"`
	ArrivalDateLocal   string        `json:"arrivalDateLocal"`
	CutOff             *pointCutoff  `json:"cutOff"`
}

type pointLocation struct {
	Name         string         `json:"name"`
	InternalCode string         `json:"internalCode"`
	Facility     *pointFacility `json:"facility"`
}

type pointFacility struct {
	Name          string         `json:"name"`
	Codifications []codification `json:"facilityCodifications"`
}

type codification struct {
	Codification string `json:"codification"`
}

type pointCutoff struct {
	ShippingInstructionAcceptance *localTime `json:"shippingInstructionAcceptance"`
	PortCutoff                    *localTime `json:"portCutoff"`
	VGM                           *localTime `json:"vgm"`
}

type localTime struct {
	Local string `json:"local"`
}

type legTransportation struct {
	MeanOfTransport string     `json:"meanOfTransport"`
	Vehicule        *vehicule  `json:"vehicule"`
	Voyage          *legVoyage `json:"voyage"`
}

type vehicule struct {
	VehiculeName string `json:"vehiculeName"`
	Reference    string `json:"reference"`
}

type legVoyage struct {
	Service         *voyageService `json:"service"`
	VoyageReference string         `json:"voyageReference"`
}

type voyageService struct {
	Code string `json:"code"`
}

// Fetch queries the group gateway once per shipping-company code. A request
// pinned to one SCAC queries just that company; an open request queries the
// whole group plus APL separately, whose US-flag routings hide behind the
// government scope.
func (a *Adapter) Fetch(ctx context.Context, q *carrier.Query) ([]sched.Schedule, error) {
	codes := []string{"", govCode}
	if q.SCAC != "" {
		code, ok := codeBySCAC[q.SCAC]
		if !ok {
			return nil, fmt.Errorf("cma does not serve %s", q.SCAC)
		}
		codes = []string{code}
	}
	usGov := strings.HasPrefix(q.Origin, "US") && strings.HasPrefix(q.Destination, "US")

	var (
		wg     sync.WaitGroup
		byCode = make([][]routing, len(codes))
		errs   = make([]error, len(codes))
	)
	for i, code := range codes {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			byCode[i], errs[i] = a.fetchRoutings(ctx, q, code, usGov)
		}(i, code)
	}
	wg.Wait()
	if err := multierr.Combine(errs...); err != nil {
		return nil, err
	}

	defaultDate := time.Now().Format(defaultDateLayout)
	var schedules []sched.Schedule
	for _, routings := range byCode {
		for _, doc := range routings {
			schedules = append(schedules, mapRouting(doc, defaultDate))
		}
	}
	return carrier.Filter(schedules, q), nil
}

// fetchRoutings runs one shipping-company query, following the paging
// protocol when the gateway answers with a partial block.
func (a *Adapter) fetchRoutings(ctx context.Context, q *carrier.Query, code string, usGov bool) ([]routing, error) {
	var page []routing
	res, err := a.deps.Fetch.Do(ctx, fetch.Request{
		Name:    a.Name(),
		Method:  http.MethodGet,
		URL:     a.cfg.URL,
		Params:  a.routingParams(q, code, usGov),
		Headers: a.headers(""),
	}, &page)
	if err != nil {
		return nil, err
	}
	if res.Partial != nil {
		return a.collectPages(ctx, q, res.Partial, usGov)
	}
	if !res.OK {
		return nil, nil
	}
	return page, nil
}

// collectPages decodes the first partial block and fans out over the rest.
// The X-Shipping-Company-Routings header names the company code(s) the
// gateway resolved the query to: a single code is pinned on the follow-up
// requests, several mean the query spans carriers and the company parameter
// stays open.
func (a *Adapter) collectPages(ctx context.Context, q *carrier.Query, first *http.Response, usGov bool) ([]routing, error) {
	body, err := io.ReadAll(first.Body)
	_ = first.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading cma partial response: %w", err)
	}
	var routings []routing
	if err := jsoniter.Unmarshal(body, &routings); err != nil {
		return nil, fmt.Errorf("decoding cma partial response: %w", err)
	}

	total, err := contentRangeTotal(first.Header.Get("Content-Range"))
	if err != nil {
		return nil, err
	}

	resolved := first.Header.Get("X-Shipping-Company-Routings")
	var params url.Values
	if strings.Contains(resolved, ",") {
		params = a.routingParams(q, "", usGov)
	} else {
		params = a.routingParams(q, resolved, usGov)
	}

	var offsets []int
	for num := pageSize; num < total; num += pageSize {
		offsets = append(offsets, num)
	}
	if len(offsets) == 0 {
		return routings, nil
	}

	var (
		wg    sync.WaitGroup
		pages = make([][]routing, len(offsets))
		errs  = make([]error, len(offsets))
	)
	for i, num := range offsets {
		wg.Add(1)
		go func(i, num int) {
			defer wg.Done()
			pages[i], errs[i] = a.fetchPage(ctx, params, fmt.Sprintf("%d-%d", num, num+pageSize-1))
		}(i, num)
	}
	wg.Wait()
	if err := multierr.Combine(errs...); err != nil {
		return nil, err
	}

	for _, page := range pages {
		routings = append(routings, page...)
	}
	return routings, nil
}

// fetchPage fetches one follow-up block. The gateway answers these with 206
// as well, so a partial result decodes the same way as a full one.
func (a *Adapter) fetchPage(ctx context.Context, params url.Values, pageRange string) ([]routing, error) {
	var page []routing
	res, err := a.deps.Fetch.Do(ctx, fetch.Request{
		Name:    a.Name(),
		Method:  http.MethodGet,
		URL:     a.cfg.URL,
		Params:  params,
		Headers: a.headers(pageRange),
	}, &page)
	if err != nil {
		return nil, err
	}
	if res.Partial != nil {
		body, err := io.ReadAll(res.Partial.Body)
		_ = res.Partial.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading cma page %s: %w", pageRange, err)
		}
		if err := jsoniter.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decoding cma page %s: %w", pageRange, err)
		}
	}
	return page, nil
}

func (a *Adapter) headers(pageRange string) map[string]string {
	h := map[string]string{"keyID": a.cfg.Token.String()}
	if pageRange != "" {
		h["Range"] = pageRange
	}
	return h
}

// routingParams renders the query for one shipping-company code. The empty
// code leaves the company open and queries the whole group at once.
func (a *Adapter) routingParams(q *carrier.Query, code string, usGov bool) url.Values {
	v := url.Values{
		"placeOfLoading":   {q.Origin},
		"placeOfDischarge": {q.Destination},
		"searchRange":      {strconv.Itoa(int(q.SearchRange))},
	}
	if q.StartDateType == sched.StartDateArrival {
		v.Set("arrivalDate", q.StartDate.Format(sched.DateLayout))
	} else {
		v.Set("departureDate", q.StartDate.Format(sched.DateLayout))
	}
	maxTs := "3"
	if q.DirectOnly != nil && *q.DirectOnly {
		maxTs = "0"
	}
	v.Set("maxTs", maxTs)
	if q.VesselIMO != "" {
		v.Set("polVesselIMO", q.VesselIMO)
	}
	if q.Service != "" {
		v.Set("polServiceCode", q.Service)
	}
	if q.TSP != "" {
		v.Set("tsPortCode", q.TSP)
	}
	if code != "" {
		v.Set("shippingCompany", code)
	}
	routings := routingCommercial
	if code == govCode && usGov {
		routings = routingUSGovernment
	}
	v.Set("specificRoutings", routings)
	return v
}

// contentRangeTotal extracts the total item count from a Content-Range
// value like "items 0-49/120".
func contentRangeTotal(h string) (int, error) {
	_, totalPart, ok := strings.Cut(h, "/")
	if !ok {
		return 0, fmt.Errorf("malformed content-range %q", h)
	}
	total, err := strconv.Atoi(totalPart)
	if err != nil {
		return 0, fmt.Errorf("malformed content-range %q", h)
	}
	return total, nil
}

func mapRouting(doc routing, defaultDate string) sched.Schedule {
	legs := make([]sched.Leg, 0, len(doc.RoutingDetails))
	for _, rd := range doc.RoutingDetails {
		legs = append(legs, mapLeg(rd, defaultDate))
	}

	s := sched.Schedule{
		SCAC:          scacByCode[doc.ShippingCompany],
		TransitTime:   doc.TransitTime,
		Transshipment: len(legs) > 1,
		Legs:          legs,
	}
	if len(legs) > 0 {
		s.PointFrom = legs[0].PointFrom.LocationCode
		s.PointTo = legs[len(legs)-1].PointTo.LocationCode
		s.ETD = legs[0].ETD
		s.ETA = legs[len(legs)-1].ETA
	}
	return s
}

func mapLeg(rd routingDetail, defaultDate string) sched.Leg {
	etd := rd.PointFrom.DepartureDateLocal
	if etd == "" {
		etd = defaultDate
	}
	eta := rd.PointTo.ArrivalDateLocal
	if eta == "" {
		eta = defaultDate
	}

	leg := sched.Leg{
		PointFrom:   mapPoint(rd.PointFrom),
		PointTo:     mapPoint(rd.PointTo),
		ETD:         etd,
		ETA:         eta,
		TransitTime: rd.LegTransitTime,
		Transportations: sched.Transportation{
			TransportType: sched.TransportType(carrier.TitleCase(rd.Transportation.MeanOfTransport)),
		},
	}
	if v := rd.Transportation.Vehicule; v != nil {
		leg.Transportations.TransportName = sched.PtrIfNotEmpty(v.VehiculeName)
		if v.Reference != "" {
			leg.Transportations.ReferenceType = sched.Ptr(sched.ReferenceTypeIMO)
			leg.Transportations.Reference = sched.Ptr(v.Reference)
		}
	}
	if voy := rd.Transportation.Voyage; voy != nil {
		if voy.Service != nil && voy.Service.Code != "" {
			leg.Services = &sched.Service{ServiceCode: voy.Service.Code}
		}
		if voy.VoyageReference != "" {
			leg.Voyages = &sched.Voyage{InternalVoyage: sched.Ptr(voy.VoyageReference)}
		}
	}
	if co := rd.PointFrom.CutOff; co != nil {
		cutoffs := &sched.Cutoff{
			DocCutoffDate: localOf(co.ShippingInstructionAcceptance),
			CyCutoffDate:  localOf(co.PortCutoff),
			VgmCutoffDate: localOf(co.VGM),
		}
		if !cutoffs.Empty() {
			leg.Cutoffs = cutoffs
		}
	}
	return leg
}

func mapPoint(p routingPoint) sched.PointBase {
	base := sched.PointBase{
		LocationName: p.Location.Name,
		LocationCode: p.Location.InternalCode,
	}
	if f := p.Location.Facility; f != nil {
		base.TerminalName = sched.PtrIfNotEmpty(f.Name)
		if len(f.Codifications) > 0 {
			base.TerminalCode = sched.PtrIfNotEmpty(f.Codifications[0].Codification)
		}
	}
	return base
}

func localOf(t *localTime) *string {
	if t == nil {
		return nil
	}
	return sched.PtrIfNotEmpty(t.Local)
}
