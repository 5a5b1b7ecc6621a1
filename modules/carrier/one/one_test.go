package one

import (
	"context"
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

type fakeGateway struct {
	mtx              sync.Mutex
	tokenRequests    int
	scheduleRequests []url.Values
	resp             scheduleResponse
}

func (g *fakeGateway) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "one-key", r.Header.Get("apikey"))
		assert.Equal(t, "Basic b25lLWF1dGg=", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))

		g.mtx.Lock()
		g.tokenRequests++
		g.mtx.Unlock()

		buf, err := jsoniter.Marshal(tokenResponse{AccessToken: "one-bearer"})
		require.NoError(t, err)
		_, _ = w.Write(buf)
	})

	mux.HandleFunc("/schedules", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "one-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer one-bearer", r.Header.Get("Authorization"))

		g.mtx.Lock()
		g.scheduleRequests = append(g.scheduleRequests, r.URL.Query())
		g.mtx.Unlock()

		buf, err := jsoniter.Marshal(g.resp)
		require.NoError(t, err)
		_, _ = w.Write(buf)
	})

	return mux
}

func (g *fakeGateway) counts() (tokens, schedules int) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.tokenRequests, len(g.scheduleRequests)
}

func (g *fakeGateway) lastParams() url.Values {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.scheduleRequests[len(g.scheduleRequests)-1]
}

func newTestAdapter(t *testing.T, g *fakeGateway) *Adapter {
	t.Helper()
	srv := httptest.NewServer(g.handler(t))
	t.Cleanup(srv.Close)

	deps, _ := carriertest.NewDeps(t)
	return New(deps, settings.ONE{
		URL:      srv.URL + "/schedules",
		TokenURL: srv.URL + "/token",
		Token:    flagext.SecretWithValue("one-key"),
		Auth:     flagext.SecretWithValue("b25lLWF1dGg="),
	})
}

func testQuery() *carrier.Query {
	return &carrier.Query{
		SCAC:          sched.ONEY,
		Origin:        "JPTYO",
		Destination:   "NLRTM",
		StartDateType: sched.StartDateDeparture,
		StartDate:     time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC),
		SearchRange:   sched.SearchRangeThreeWeeks,
	}
}

func transshipRoute() routeSchedule {
	return routeSchedule{
		PortOfLoadingCode:   "JPTYO",
		PortOfDischargeCode: "NLRTM",
		TransitTime:         34,
		LegSchedules: []legSchedule{
			{
				DeparturePortCode:     "JPTYO",
				DeparturePortName:     "Tokyo",
				DepartureTerminalCode: "JPTYO01",
				DepartureTerminalName: "Ohi Terminal 1/2",
				ArrivalPortCode:       "SGSIN",
				ArrivalPortName:       "Singapore",
				ArrivalTerminalCode:   "SGSIN05",
				ArrivalTerminalName:   "Keppel Terminal",
				DepartureDate:         "2024-05-08T09:00:00",
				ArrivalDate:           "2024-05-16T18:00:00",
				TransportMode:         "VESSEL",
				VesselName:            "ONE STORK",
				LloydsCode:            "9806079",
				ServiceCode:           "JSM",
				ConveyanceNumber:      "052E",
				CargoCutOffDate:       "2024-05-06T16:00:00",
				DocCutOffDate:         "2024-05-05T12:00:00",
				VgmCutOffDate:         "2024-05-06T12:00:00",
			},
			{
				DeparturePortCode: "SGSIN",
				DeparturePortName: "Singapore",
				ArrivalPortCode:   "NLRTM",
				ArrivalPortName:   "Rotterdam",
				DepartureDate:     "2024-05-19T07:00:00",
				ArrivalDate:       "2024-06-09T06:00:00",
				TransportMode:     "VESSEL",
				VesselName:        "ONE INNOVATION",
				LloydsCode:        "9865087",
				ServiceCode:       "FE4",
				ConveyanceNumber:  "019W",
			},
		},
	}
}

func TestFetchMapsRoute(t *testing.T) {
	g := &fakeGateway{resp: scheduleResponse{RouteSchedules: []routeSchedule{transshipRoute()}}}
	a := newTestAdapter(t, g)

	schedules, err := a.Fetch(context.Background(), testQuery())
	require.NoError(t, err)
	require.Len(t, schedules, 1)

	s := schedules[0]
	assert.Equal(t, "ONEY", s.SCAC)
	assert.Equal(t, "JPTYO", s.PointFrom)
	assert.Equal(t, "NLRTM", s.PointTo)
	assert.Equal(t, "2024-05-08T09:00:00", s.ETD)
	assert.Equal(t, "2024-06-09T06:00:00", s.ETA)
	assert.Equal(t, 34, s.TransitTime)
	assert.True(t, s.Transshipment)
	require.Len(t, s.Legs, 2)

	first := s.Legs[0]
	assert.Equal(t, "Tokyo", first.PointFrom.LocationName)
	require.NotNil(t, first.PointFrom.TerminalName)
	assert.Equal(t, "Ohi Terminal 1/2", *first.PointFrom.TerminalName)
	require.NotNil(t, first.PointTo.TerminalCode)
	assert.Equal(t, "SGSIN05", *first.PointTo.TerminalCode)
	assert.Equal(t, 8, first.TransitTime)
	assert.Equal(t, sched.TransportVessel, first.Transportations.TransportType)
	require.NotNil(t, first.Transportations.Reference)
	assert.Equal(t, "9806079", *first.Transportations.Reference)
	require.NotNil(t, first.Services)
	assert.Equal(t, "JSM", first.Services.ServiceCode)
	require.NotNil(t, first.Voyages)
	assert.Equal(t, "052E", *first.Voyages.InternalVoyage)
	require.NotNil(t, first.Cutoffs)
	assert.Equal(t, "2024-05-06T16:00:00", *first.Cutoffs.CyCutoffDate)
	assert.Equal(t, "2024-05-05T12:00:00", *first.Cutoffs.DocCutoffDate)
	assert.Equal(t, "2024-05-06T12:00:00", *first.Cutoffs.VgmCutoffDate)

	second := s.Legs[1]
	assert.Nil(t, second.Cutoffs)
	assert.Nil(t, second.PointFrom.TerminalName)
	assert.Equal(t, 21, second.TransitTime)

	require.NoError(t, s.Validate())
}

func TestFetchQueryParams(t *testing.T) {
	g := &fakeGateway{}
	a := newTestAdapter(t, g)

	_, err := a.Fetch(context.Background(), testQuery())
	require.NoError(t, err)

	params := g.lastParams()
	assert.Equal(t, "JPTYO", params.Get("originPortCode"))
	assert.Equal(t, "NLRTM", params.Get("destinationPortCode"))
	assert.Equal(t, "2024-05-06", params.Get("searchDate"))
	assert.Equal(t, "BY_DEPARTURE_DATE", params.Get("searchDateType"))
	assert.Equal(t, "3", params.Get("weeks"))
}

func TestFetchArrivalAnchor(t *testing.T) {
	g := &fakeGateway{}
	a := newTestAdapter(t, g)

	q := testQuery()
	q.StartDateType = sched.StartDateArrival
	_, err := a.Fetch(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, "BY_ARRIVAL_DATE", g.lastParams().Get("searchDateType"))
}

func TestFetchReusesToken(t *testing.T) {
	g := &fakeGateway{resp: scheduleResponse{RouteSchedules: []routeSchedule{transshipRoute()}}}
	a := newTestAdapter(t, g)

	_, err := a.Fetch(context.Background(), testQuery())
	require.NoError(t, err)
	_, err = a.Fetch(context.Background(), testQuery())
	require.NoError(t, err)

	tokens, schedules := g.counts()
	assert.Equal(t, 1, tokens)
	assert.Equal(t, 2, schedules)
}

func TestFetchNoRoutes(t *testing.T) {
	g := &fakeGateway{}
	a := newTestAdapter(t, g)

	schedules, err := a.Fetch(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Empty(t, schedules)
}
