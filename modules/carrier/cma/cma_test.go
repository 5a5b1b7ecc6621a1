package cma

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/grafana/dskit/flagext"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neckchi/scheduleapi/modules/carrier"
	"github.com/neckchi/scheduleapi/modules/carrier/carriertest"
	"github.com/neckchi/scheduleapi/modules/settings"
	"github.com/neckchi/scheduleapi/pkg/sched"
)

type gatewayRequest struct {
	params    url.Values
	pageRange string
}

type fakeGateway struct {
	mtx      sync.Mutex
	requests []gatewayRequest

	routings []routing
	pageSize int    // 0 serves everything in one 200
	resolved string // X-Shipping-Company-Routings on partial responses
}

func (g *fakeGateway) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cma-key", r.Header.Get("keyID"))

		g.mtx.Lock()
		g.requests = append(g.requests, gatewayRequest{params: r.URL.Query(), pageRange: r.Header.Get("Range")})
		g.mtx.Unlock()

		if g.pageSize == 0 {
			writeJSON(t, w, http.StatusOK, g.routings)
			return
		}

		from := 0
		if rng := r.Header.Get("Range"); rng != "" {
			_, err := fmt.Sscanf(rng, "%d-", &from)
			require.NoError(t, err)
		}
		to := from + g.pageSize
		if to > len(g.routings) {
			to = len(g.routings)
		}
		w.Header().Set("Content-Range", fmt.Sprintf("items %d-%d/%d", from, from+g.pageSize-1, len(g.routings)))
		w.Header().Set("X-Shipping-Company-Routings", g.resolved)
		writeJSON(t, w, http.StatusPartialContent, g.routings[from:to])
	})
}

func (g *fakeGateway) observed() []gatewayRequest {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return append([]gatewayRequest(nil), g.requests...)
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	body, err := jsoniter.Marshal(v)
	require.NoError(t, err)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func newTestAdapter(t *testing.T, g *fakeGateway) *Adapter {
	t.Helper()
	srv := httptest.NewServer(g.handler(t))
	t.Cleanup(srv.Close)

	deps, _ := carriertest.NewDeps(t)
	return New(deps, settings.CMA{
		URL:   srv.URL + "/routings",
		Token: flagext.SecretWithValue("cma-key"),
	})
}

func testQuery() *carrier.Query {
	return &carrier.Query{
		SCAC:          sched.CMDU,
		Origin:        "CNSHA",
		Destination:   "SGSIN",
		StartDateType: sched.StartDateDeparture,
		StartDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		SearchRange:   sched.SearchRangeTwoWeeks,
	}
}

func sampleRouting() routing {
	return routing{
		ShippingCompany: "0001",
		TransitTime:     4,
		RoutingDetails: []routingDetail{{
			PointFrom: routingPoint{
				Location: pointLocation{
					Name:         "Shanghai",
					InternalCode: "CNSHA",
					Facility: &pointFacility{
						Name:          "Terminal A",
						Codifications: []codification{{Codification: "TERM1"}},
					},
				},
				DepartureDateLocal: "2024-01-01T12:00:00",
				CutOff: &pointCutoff{
					ShippingInstructionAcceptance: &localTime{Local: "2024-01-01T10:00:00"},
					PortCutoff:                    &localTime{Local: "2024-01-01T11:00:00"},
					VGM:                           &localTime{Local: "2024-01-01T09:00:00"},
				},
			},
			PointTo: routingPoint{
				Location: pointLocation{
					Name:         "Singapore",
					InternalCode: "SGSIN",
					Facility: &pointFacility{
						Name:          "Terminal B",
						Codifications: []codification{{Codification: "TERM2"}},
					},
				},
				ArrivalDateLocal: "2024-01-05T14:00:00",
			},
			LegTransitTime: 4,
			Transportation: legTransportation{
				MeanOfTransport: "Vessel",
				Vehicule:        &vehicule{VehiculeName: "CMA CGM JACQUES SAADE", Reference: "9839179"},
				Voyage:          &legVoyage{Service: &voyageService{Code: "FAL1"}, VoyageReference: "0FAL1E1MA"},
			},
		}},
	}
}

func genRoutings(n int) []routing {
	routings := make([]routing, 0, n)
	for i := 0; i < n; i++ {
		doc := sampleRouting()
		doc.RoutingDetails[0].Transportation.Voyage.VoyageReference = fmt.Sprintf("0FAL%03dE", i)
		routings = append(routings, doc)
	}
	return routings
}

func TestFetchMapsRouting(t *testing.T) {
	g := &fakeGateway{routings: []routing{sampleRouting()}}
	a := newTestAdapter(t, g)

	schedules, err := a.Fetch(context.Background(), testQuery())
	require.NoError(t, err)
	require.Len(t, schedules, 1)

	s := schedules[0]
	assert.Equal(t, "CMDU", s.SCAC)
	assert.Equal(t, "CNSHA", s.PointFrom)
	assert.Equal(t, "SGSIN", s.PointTo)
	assert.Equal(t, "2024-01-01T12:00:00", s.ETD)
	assert.Equal(t, "2024-01-05T14:00:00", s.ETA)
	assert.Equal(t, 4, s.TransitTime)
	assert.False(t, s.Transshipment)
	require.Len(t, s.Legs, 1)

	leg := s.Legs[0]
	assert.Equal(t, "Shanghai", leg.PointFrom.LocationName)
	require.NotNil(t, leg.PointFrom.TerminalName)
	assert.Equal(t, "Terminal A", *leg.PointFrom.TerminalName)
	require.NotNil(t, leg.PointFrom.TerminalCode)
	assert.Equal(t, "TERM1", *leg.PointFrom.TerminalCode)
	require.NotNil(t, leg.PointTo.TerminalCode)
	assert.Equal(t, "TERM2", *leg.PointTo.TerminalCode)

	assert.Equal(t, sched.TransportVessel, leg.Transportations.TransportType)
	require.NotNil(t, leg.Transportations.TransportName)
	assert.Equal(t, "CMA CGM JACQUES SAADE", *leg.Transportations.TransportName)
	require.NotNil(t, leg.Transportations.Reference)
	assert.Equal(t, "9839179", *leg.Transportations.Reference)

	require.NotNil(t, leg.Services)
	assert.Equal(t, "FAL1", leg.Services.ServiceCode)
	require.NotNil(t, leg.Voyages)
	assert.Equal(t, "0FAL1E1MA", *leg.Voyages.InternalVoyage)

	require.NotNil(t, leg.Cutoffs)
	assert.Equal(t, "2024-01-01T10:00:00", *leg.Cutoffs.DocCutoffDate)
	assert.Equal(t, "2024-01-01T11:00:00", *leg.Cutoffs.CyCutoffDate)
	assert.Equal(t, "2024-01-01T09:00:00", *leg.Cutoffs.VgmCutoffDate)

	require.NoError(t, s.Validate())
}

func TestMapRoutingCarrierCodes(t *testing.T) {
	for company, want := range map[string]string{
		"0001": "CMDU",
		"0002": "ANNU",
		"0011": "CHNL",
		"0015": "APLU",
	} {
		doc := sampleRouting()
		doc.ShippingCompany = company
		assert.Equal(t, want, mapRouting(doc, "2024-01-01T00:00:00+00:00").SCAC, company)
	}
}

func TestFetchFansOutOverGroup(t *testing.T) {
	g := &fakeGateway{}
	a := newTestAdapter(t, g)

	q := testQuery()
	q.SCAC = ""
	_, err := a.Fetch(context.Background(), q)
	require.NoError(t, err)

	requests := g.observed()
	require.Len(t, requests, 2)

	companies := map[string]string{}
	for _, req := range requests {
		companies[req.params.Get("shippingCompany")] = req.params.Get("specificRoutings")
	}
	assert.Equal(t, map[string]string{"": "Commercial", "0015": "Commercial"}, companies)
}

func TestFetchUSGovernmentRouting(t *testing.T) {
	g := &fakeGateway{}
	a := newTestAdapter(t, g)

	q := testQuery()
	q.SCAC = ""
	q.Origin, q.Destination = "USNYC", "USLAX"
	_, err := a.Fetch(context.Background(), q)
	require.NoError(t, err)

	companies := map[string]string{}
	for _, req := range g.observed() {
		companies[req.params.Get("shippingCompany")] = req.params.Get("specificRoutings")
	}
	assert.Equal(t, map[string]string{"": "Commercial", "0015": "USGovernment"}, companies)
}

func TestFetchQueryParams(t *testing.T) {
	g := &fakeGateway{}
	a := newTestAdapter(t, g)

	q := testQuery()
	q.DirectOnly = sched.Ptr(true)
	q.Service = "FAL1"
	q.VesselIMO = "9839179"
	q.TSP = "SGSIN"
	_, err := a.Fetch(context.Background(), q)
	require.NoError(t, err)

	params := g.observed()[0].params
	assert.Equal(t, "CNSHA", params.Get("placeOfLoading"))
	assert.Equal(t, "SGSIN", params.Get("placeOfDischarge"))
	assert.Equal(t, "2024-01-01", params.Get("departureDate"))
	assert.False(t, params.Has("arrivalDate"))
	assert.Equal(t, "2", params.Get("searchRange"))
	assert.Equal(t, "0", params.Get("maxTs"))
	assert.Equal(t, "FAL1", params.Get("polServiceCode"))
	assert.Equal(t, "9839179", params.Get("polVesselIMO"))
	assert.Equal(t, "SGSIN", params.Get("tsPortCode"))
	assert.Equal(t, "0001", params.Get("shippingCompany"))
}

func TestFetchQueryParamsArrivalAnchor(t *testing.T) {
	g := &fakeGateway{}
	a := newTestAdapter(t, g)

	q := testQuery()
	q.StartDateType = sched.StartDateArrival
	_, err := a.Fetch(context.Background(), q)
	require.NoError(t, err)

	params := g.observed()[0].params
	assert.Equal(t, "2024-01-01", params.Get("arrivalDate"))
	assert.False(t, params.Has("departureDate"))
	assert.Equal(t, "3", params.Get("maxTs"))
}

func TestFetchPaginatedFollowUps(t *testing.T) {
	g := &fakeGateway{
		routings: genRoutings(120),
		pageSize: 50,
		resolved: "0001",
	}
	a := newTestAdapter(t, g)

	schedules, err := a.Fetch(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Len(t, schedules, 120)

	requests := g.observed()
	require.Len(t, requests, 3)
	assert.Equal(t, "", requests[0].pageRange)

	ranges := map[string]bool{}
	for _, req := range requests[1:] {
		ranges[req.pageRange] = true
		assert.Equal(t, "0001", req.params.Get("shippingCompany"))
	}
	assert.Equal(t, map[string]bool{"50-99": true, "100-149": true}, ranges)
}

func TestFetchPagedMultiCompanyFollowUps(t *testing.T) {
	g := &fakeGateway{
		routings: genRoutings(60),
		pageSize: 50,
		resolved: "0001,0015",
	}
	a := newTestAdapter(t, g)

	schedules, err := a.Fetch(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Len(t, schedules, 60)

	requests := g.observed()
	require.Len(t, requests, 2)

	followUp := requests[1]
	assert.Equal(t, "50-99", followUp.pageRange)
	assert.False(t, followUp.params.Has("shippingCompany"))
	assert.Equal(t, "Commercial", followUp.params.Get("specificRoutings"))
}

func TestFetchDefaultsMissingDates(t *testing.T) {
	doc := sampleRouting()
	doc.RoutingDetails[0].PointFrom.DepartureDateLocal = ""
	doc.RoutingDetails[0].PointTo.ArrivalDateLocal = ""

	g := &fakeGateway{routings: []routing{doc}}
	a := newTestAdapter(t, g)

	schedules, err := a.Fetch(context.Background(), testQuery())
	require.NoError(t, err)
	require.Len(t, schedules, 1)

	s := schedules[0]
	assert.NotEmpty(t, s.ETD)
	assert.NotEmpty(t, s.ETA)
	assert.Equal(t, s.Legs[0].ETD, s.ETD)
	assert.Equal(t, s.Legs[0].ETA, s.ETA)
	require.NoError(t, s.Validate())
}

func TestContentRangeTotal(t *testing.T) {
	total, err := contentRangeTotal("items 0-49/120")
	require.NoError(t, err)
	assert.Equal(t, 120, total)

	_, err = contentRangeTotal("items 0-49")
	assert.Error(t, err)

	_, err = contentRangeTotal("items 0-49/many")
	assert.Error(t, err)
}
