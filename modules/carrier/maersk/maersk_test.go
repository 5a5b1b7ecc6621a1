package maersk

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
	locationRequests []url.Values
	productRequests  []url.Values
	deadlineRequests []url.Values
	locations        map[string]location
	products         []oceanProduct
	deadlines        map[string][]deadline
}

func (g *fakeGateway) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/locations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "maersk-key", r.Header.Get("Consumer-Key"))
		params := r.URL.Query()
		g.mtx.Lock()
		g.locationRequests = append(g.locationRequests, params)
		g.mtx.Unlock()

		docs := []location{}
		if loc, ok := g.locations[params.Get("UNLocationCode")]; ok {
			docs = append(docs, loc)
		}
		writeJSON(t, w, docs)
	})

	mux.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "maersk-key", r.Header.Get("Consumer-Key"))
		params := r.URL.Query()
		g.mtx.Lock()
		g.productRequests = append(g.productRequests, params)
		g.mtx.Unlock()

		brand := params.Get("vesselOperatorCarrierCode")
		for _, p := range g.products {
			if p.VesselOperatorCarrierCode != "" && p.VesselOperatorCarrierCode != brand {
				continue
			}
			buf, err := jsoniter.Marshal(p)
			require.NoError(t, err)
			_, _ = w.Write(buf)
			_, _ = w.Write([]byte("\n"))
		}
	})

	mux.HandleFunc("/deadlines", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "maersk-key-2", r.Header.Get("Consumer-Key"))
		params := r.URL.Query()
		g.mtx.Lock()
		g.deadlineRequests = append(g.deadlineRequests, params)
		g.mtx.Unlock()

		writeJSON(t, w, deadlineDoc{Deadlines: g.deadlines[params.Get("vesselIMONumber")]})
	})

	return mux
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	buf, err := jsoniter.Marshal(v)
	require.NoError(t, err)
	_, _ = w.Write(buf)
}

func (g *fakeGateway) counts() (locations, products, deadlines int) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return len(g.locationRequests), len(g.productRequests), len(g.deadlineRequests)
}

func (g *fakeGateway) productParams() []url.Values {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return append([]url.Values(nil), g.productRequests...)
}

func newTestAdapter(t *testing.T, g *fakeGateway) (*Adapter, carrier.Deps) {
	t.Helper()
	srv := httptest.NewServer(g.handler(t))
	t.Cleanup(srv.Close)

	deps, _ := carriertest.NewDeps(t)
	a := New(deps, settings.Maersk{
		P2PURL:      srv.URL + "/products",
		LocationURL: srv.URL + "/locations",
		CutoffURL:   srv.URL + "/deadlines",
		Token:       flagext.SecretWithValue("maersk-key"),
		Token2:      flagext.SecretWithValue("maersk-key-2"),
	})
	return a, deps
}

func testQuery() *carrier.Query {
	return &carrier.Query{
		SCAC:          sched.MAEU,
		Origin:        "CNSHA",
		Destination:   "USLAX",
		StartDateType: sched.StartDateDeparture,
		StartDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		SearchRange:   sched.SearchRangeTwoWeeks,
	}
}

func testLocations() map[string]location {
	return map[string]location{
		"CNSHA": {CityName: "Shanghai", CarrierCityGeoID: "2IW9P6J7XAW8H", UNLocationCode: "CNSHA"},
		"USLAX": {CityName: "Los Angeles", CarrierCityGeoID: "1HPBVVVPKEFVO", UNLocationCode: "USLAX"},
	}
}

func transshipProduct() oceanProduct {
	return oceanProduct{
		VesselOperatorCarrierCode: "MAEU",
		TransportSchedules: []transportSchedule{{
			DepartureDateTime: "2024-03-05T10:00:00",
			ArrivalDateTime:   "2024-03-21T08:00:00",
			TransitTime:       23040,
			TransportLegs: []transportLeg{
				{
					DepartureDateTime: "2024-03-05T10:00:00",
					ArrivalDateTime:   "2024-03-10T14:00:00",
					Facilities: legFacilities{
						StartLocation: facility{CityName: "Shanghai", UNLocationCode: "CNSHA", CarrierTerminalName: "Yangshan SGH Guandong Terminal", CarrierTerminalCode: "CNYSA08"},
						EndLocation:   facility{CityName: "Singapore", UNLocationCode: "SGSIN", CarrierTerminalName: "Pasir Panjang Terminal", CarrierTerminalCode: "SGSIN04"},
					},
					Transport: legTransport{
						TransportMode:                "MVS",
						Vessel:                       vessel{VesselIMONumber: "9778791", VesselName: "MAERSK EMDEN"},
						CarrierServiceCode:           "AE11",
						CarrierDepartureVoyageNumber: "409E",
					},
				},
				{
					DepartureDateTime: "2024-03-12T16:00:00",
					ArrivalDateTime:   "2024-03-21T08:00:00",
					Facilities: legFacilities{
						StartLocation: facility{CityName: "Singapore", UNLocationCode: "SGSIN", CarrierTerminalName: "Pasir Panjang Terminal", CarrierTerminalCode: "SGSIN04"},
						EndLocation:   facility{CityName: "Los Angeles", UNLocationCode: "USLAX", CarrierTerminalName: "APM Terminals Pier 400", CarrierTerminalCode: "USLAX03"},
					},
					Transport: legTransport{
						TransportMode: "FEF",
						Vessel:        vessel{VesselName: "MCC TOKYO"},
					},
				},
			},
		}},
	}
}

func TestFetchMapsProduct(t *testing.T) {
	g := &fakeGateway{
		locations: testLocations(),
		products:  []oceanProduct{transshipProduct()},
		deadlines: map[string][]deadline{
			"9778791": {
				{DeadlineName: "Commercial Cargo Cutoff", DeadlineLocal: "2024-03-03T18:00:00"},
				{DeadlineName: "Shipping Instructions Deadline", DeadlineLocal: "2024-03-02T12:00:00"},
				{DeadlineName: "VGM Deadline", DeadlineLocal: "2024-03-03T12:00:00"},
				{DeadlineName: "Customs Declaration Deadline", DeadlineLocal: "2024-03-04T09:00:00"},
			},
		},
	}
	a, _ := newTestAdapter(t, g)

	schedules, err := a.Fetch(context.Background(), testQuery())
	require.NoError(t, err)
	require.Len(t, schedules, 1)

	s := schedules[0]
	assert.Equal(t, "MAEU", s.SCAC)
	assert.Equal(t, "CNSHA", s.PointFrom)
	assert.Equal(t, "USLAX", s.PointTo)
	assert.Equal(t, "2024-03-05T10:00:00", s.ETD)
	assert.Equal(t, "2024-03-21T08:00:00", s.ETA)
	assert.Equal(t, 16, s.TransitTime)
	assert.True(t, s.Transshipment)
	require.Len(t, s.Legs, 2)

	first := s.Legs[0]
	assert.Equal(t, "Shanghai", first.PointFrom.LocationName)
	assert.Equal(t, "CNSHA", first.PointFrom.LocationCode)
	require.NotNil(t, first.PointFrom.TerminalName)
	assert.Equal(t, "Yangshan SGH Guandong Terminal", *first.PointFrom.TerminalName)
	require.NotNil(t, first.PointFrom.TerminalCode)
	assert.Equal(t, "CNYSA08", *first.PointFrom.TerminalCode)
	assert.Equal(t, 5, first.TransitTime)
	assert.Equal(t, sched.TransportVessel, first.Transportations.TransportType)
	require.NotNil(t, first.Transportations.TransportName)
	assert.Equal(t, "MAERSK EMDEN", *first.Transportations.TransportName)
	require.NotNil(t, first.Transportations.ReferenceType)
	assert.Equal(t, "IMO", *first.Transportations.ReferenceType)
	require.NotNil(t, first.Transportations.Reference)
	assert.Equal(t, "9778791", *first.Transportations.Reference)
	require.NotNil(t, first.Services)
	assert.Equal(t, "AE11", first.Services.ServiceCode)
	require.NotNil(t, first.Voyages)
	assert.Equal(t, "409E", *first.Voyages.InternalVoyage)
	require.NotNil(t, first.Cutoffs)
	assert.Equal(t, "2024-03-03T18:00:00", *first.Cutoffs.CyCutoffDate)
	assert.Equal(t, "2024-03-02T12:00:00", *first.Cutoffs.DocCutoffDate)
	assert.Equal(t, "2024-03-03T12:00:00", *first.Cutoffs.VgmCutoffDate)

	second := s.Legs[1]
	assert.Equal(t, "SGSIN", second.PointFrom.LocationCode)
	assert.Equal(t, sched.TransportFeeder, second.Transportations.TransportType)
	assert.Nil(t, second.Transportations.Reference)
	assert.Nil(t, second.Cutoffs)
	assert.Equal(t, 9, second.TransitTime)

	require.NoError(t, s.Validate())
}

func TestFetchProductParams(t *testing.T) {
	g := &fakeGateway{locations: testLocations()}
	a, _ := newTestAdapter(t, g)

	_, err := a.Fetch(context.Background(), testQuery())
	require.NoError(t, err)

	requests := g.productParams()
	require.Len(t, requests, 1)
	params := requests[0]
	assert.Equal(t, "2IW9P6J7XAW8H", params.Get("carrierCollectionOriginGeoID"))
	assert.Equal(t, "1HPBVVVPKEFVO", params.Get("carrierDeliveryDestinationGeoID"))
	assert.Equal(t, "MAEU", params.Get("vesselOperatorCarrierCode"))
	assert.Equal(t, "2024-03-01", params.Get("startDate"))
	assert.Equal(t, "P2W", params.Get("dateRange"))
	assert.Equal(t, "D", params.Get("startDateType"))
}

func TestFetchArrivalAnchor(t *testing.T) {
	g := &fakeGateway{locations: testLocations()}
	a, _ := newTestAdapter(t, g)

	q := testQuery()
	q.StartDateType = sched.StartDateArrival
	q.SearchRange = sched.SearchRangeFourWeeks
	_, err := a.Fetch(context.Background(), q)
	require.NoError(t, err)

	requests := g.productParams()
	require.Len(t, requests, 1)
	assert.Equal(t, "A", requests[0].Get("startDateType"))
	assert.Equal(t, "P4W", requests[0].Get("dateRange"))
}

func TestFetchFansOutBrands(t *testing.T) {
	direct := func(code string) oceanProduct {
		return oceanProduct{
			VesselOperatorCarrierCode: code,
			TransportSchedules: []transportSchedule{{
				DepartureDateTime: "2024-03-05T10:00:00",
				ArrivalDateTime:   "2024-03-19T08:00:00",
				TransitTime:       20160,
				TransportLegs: []transportLeg{{
					DepartureDateTime: "2024-03-05T10:00:00",
					ArrivalDateTime:   "2024-03-19T08:00:00",
					Facilities: legFacilities{
						StartLocation: facility{CityName: "Shanghai", UNLocationCode: "CNSHA"},
						EndLocation:   facility{CityName: "Los Angeles", UNLocationCode: "USLAX"},
					},
					Transport: legTransport{TransportMode: "MVS", Vessel: vessel{VesselName: "SEALAND WASHINGTON"}},
				}},
			}},
		}
	}
	g := &fakeGateway{
		locations: testLocations(),
		products:  []oceanProduct{direct("MAEU"), direct("SEAU")},
	}
	a, _ := newTestAdapter(t, g)

	q := testQuery()
	q.SCAC = ""
	schedules, err := a.Fetch(context.Background(), q)
	require.NoError(t, err)

	queried := map[string]bool{}
	for _, params := range g.productParams() {
		queried[params.Get("vesselOperatorCarrierCode")] = true
	}
	assert.Equal(t, map[string]bool{"MAEU": true, "SEAU": true, "SEJJ": true, "MCPU": true, "MAEI": true}, queried)

	require.Len(t, schedules, 2)
	scacs := map[string]bool{}
	for _, s := range schedules {
		scacs[s.SCAC] = true
	}
	assert.Equal(t, map[string]bool{"MAEU": true, "SEAU": true}, scacs)
}

func TestFetchCachesLookups(t *testing.T) {
	g := &fakeGateway{
		locations: testLocations(),
		products:  []oceanProduct{transshipProduct()},
		deadlines: map[string][]deadline{
			"9778791": {{DeadlineName: "VGM Deadline", DeadlineLocal: "2024-03-03T12:00:00"}},
		},
	}
	a, deps := newTestAdapter(t, g)

	_, err := a.Fetch(context.Background(), testQuery())
	require.NoError(t, err)
	deps.Background.Shutdown()

	_, err = a.Fetch(context.Background(), testQuery())
	require.NoError(t, err)

	locations, products, deadlines := g.counts()
	assert.Equal(t, 2, locations)
	assert.Equal(t, 2, products)
	assert.Equal(t, 1, deadlines)
}

func TestFetchUnknownLocation(t *testing.T) {
	g := &fakeGateway{
		locations: map[string]location{
			"CNSHA": {CityName: "Shanghai", CarrierCityGeoID: "2IW9P6J7XAW8H", UNLocationCode: "CNSHA"},
		},
		products: []oceanProduct{transshipProduct()},
	}
	a, _ := newTestAdapter(t, g)

	schedules, err := a.Fetch(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Empty(t, schedules)

	_, products, _ := g.counts()
	assert.Zero(t, products)
}

func TestFetchDropsLeglessSchedules(t *testing.T) {
	g := &fakeGateway{
		locations: testLocations(),
		products: []oceanProduct{{
			VesselOperatorCarrierCode: "MAEU",
			TransportSchedules: []transportSchedule{{
				DepartureDateTime: "2024-03-05T10:00:00",
				ArrivalDateTime:   "2024-03-19T08:00:00",
				TransitTime:       20160,
			}},
		}},
	}
	a, _ := newTestAdapter(t, g)

	schedules, err := a.Fetch(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Empty(t, schedules)
}

func TestMapDeadlines(t *testing.T) {
	cutoffs := mapDeadlines([]deadline{
		{DeadlineName: "Commercial Cargo Cutoff", DeadlineLocal: "2024-03-03T18:00:00"},
		{DeadlineName: "Shipping Instructions Deadline", DeadlineLocal: ""},
		{DeadlineName: "Customs Declaration Deadline", DeadlineLocal: "2024-03-04T09:00:00"},
	})
	require.NotNil(t, cutoffs)
	require.NotNil(t, cutoffs.CyCutoffDate)
	assert.Equal(t, "2024-03-03T18:00:00", *cutoffs.CyCutoffDate)
	assert.Nil(t, cutoffs.DocCutoffDate)
	assert.Nil(t, cutoffs.VgmCutoffDate)

	assert.Nil(t, mapDeadlines(nil))
	assert.Nil(t, mapDeadlines([]deadline{{DeadlineName: "VGM Deadline"}}))
}

func TestTransitDays(t *testing.T) {
	assert.Equal(t, 0, transitDays(0))
	assert.Equal(t, 1, transitDays(1440))
	assert.Equal(t, 2, transitDays(2160))
	assert.Equal(t, 16, transitDays(23040))
}
