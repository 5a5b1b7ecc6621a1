package carrier

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/neckchi/scheduleapi/pkg/sched"
)

func multiLegSchedule() sched.Schedule {
	return sched.Schedule{
		SCAC:          "ZIMU",
		PointFrom:     "ILASH",
		PointTo:       "USNYC",
		Transshipment: true,
		Legs: []sched.Leg{
			{
				PointFrom: sched.PointBase{LocationCode: "ILASH"},
				PointTo:   sched.PointBase{LocationCode: "ESALG"},
				Transportations: sched.Transportation{
					TransportType: sched.TransportVessel,
					ReferenceType: sched.Ptr(sched.ReferenceTypeIMO),
					Reference:     sched.Ptr("9876543"),
				},
				Services: &sched.Service{ServiceCode: "ZCA"},
				Voyages:  &sched.Voyage{InternalVoyage: sched.Ptr("42E")},
			},
			{
				PointFrom: sched.PointBase{LocationCode: "ESALG"},
				PointTo:   sched.PointBase{LocationCode: "USNYC"},
				Transportations: sched.Transportation{
					TransportType: sched.TransportVessel,
					ReferenceType: sched.Ptr(sched.ReferenceTypeIMO),
					Reference:     sched.Ptr("9123456"),
				},
				Services: &sched.Service{ServiceCode: "ZNA"},
				Voyages:  &sched.Voyage{InternalVoyage: sched.Ptr("7W")},
			},
		},
	}
}

func directSchedule() sched.Schedule {
	s := multiLegSchedule()
	s.Transshipment = false
	s.Legs = s.Legs[:1]
	s.PointTo = "ESALG"
	return s
}

func TestQueryAcceptsDirectOnly(t *testing.T) {
	direct, multi := directSchedule(), multiLegSchedule()

	q := &Query{}
	assert.True(t, q.Accepts(direct))
	assert.True(t, q.Accepts(multi))

	q = &Query{DirectOnly: sched.Ptr(true)}
	assert.True(t, q.Accepts(direct))
	assert.False(t, q.Accepts(multi))

	q = &Query{DirectOnly: sched.Ptr(false)}
	assert.False(t, q.Accepts(direct))
	assert.True(t, q.Accepts(multi))
}

func TestQueryAcceptsService(t *testing.T) {
	q := &Query{Service: "ZNA"}
	assert.True(t, q.Accepts(multiLegSchedule()))

	q = &Query{Service: "XXX"}
	assert.False(t, q.Accepts(multiLegSchedule()))

	// A matching service code on a leg without a voyage does not count.
	s := multiLegSchedule()
	s.Legs[1].Voyages = nil
	q = &Query{Service: "ZNA"}
	assert.False(t, q.Accepts(s))
}

func TestQueryAcceptsVesselIMO(t *testing.T) {
	q := &Query{VesselIMO: "9123456"}
	assert.True(t, q.Accepts(multiLegSchedule()))

	q = &Query{VesselIMO: "1111111"}
	assert.False(t, q.Accepts(multiLegSchedule()))
}

func TestQueryAcceptsTSP(t *testing.T) {
	q := &Query{TSP: "ESALG"}
	assert.True(t, q.Accepts(multiLegSchedule()))
	assert.False(t, q.Accepts(directSchedule()))

	q = &Query{TSP: "MAPTM"}
	assert.False(t, q.Accepts(multiLegSchedule()))
}

func TestWindow(t *testing.T) {
	q := &Query{
		StartDate:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		SearchRange: sched.SearchRangeFourWeeks,
	}
	from, to := q.Window()
	assert.Equal(t, "2024-05-01", from)
	assert.Equal(t, "2024-05-29", to)
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Vessel", TitleCase("VESSEL"))
	assert.Equal(t, "Barge", TitleCase("barge"))
	assert.Equal(t, "", TitleCase(""))
}

func TestNormalizeTransport(t *testing.T) {
	table := map[string]sched.TransportType{
		"Land Trans": sched.TransportTruck,
		"Feeder":     sched.TransportFeeder,
	}
	assert.Equal(t, sched.TransportTruck, NormalizeTransport("Land Trans", table, sched.TransportVessel))
	assert.Equal(t, sched.TransportVessel, NormalizeTransport("MV UNKNOWN", table, sched.TransportVessel))
}

type stubAdapter struct {
	name  string
	scacs []sched.CarrierCode
}

func (a *stubAdapter) Name() string               { return a.name }
func (a *stubAdapter) SCACs() []sched.CarrierCode { return a.scacs }
func (a *stubAdapter) Fetch(context.Context, *Query) ([]sched.Schedule, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	zim := &stubAdapter{name: "zim", scacs: []sched.CarrierCode{sched.ZIMU}}
	cma := &stubAdapter{name: "cma", scacs: []sched.CarrierCode{sched.CMDU, sched.ANNU, sched.CHNL, sched.APLU}}
	r := NewRegistry(zim, cma)

	got, ok := r.For(sched.APLU)
	require.True(t, ok)
	assert.Equal(t, "cma", got.Name())

	_, ok = r.For(sched.CSFU)
	assert.False(t, ok)

	assert.Len(t, r.Select(""), 2)
	assert.Len(t, r.Select(sched.ZIMU), 1)
	assert.Empty(t, r.Select(sched.CSFU))
}

type memoryCache struct {
	items map[string][]byte
}

func (m *memoryCache) FetchKey(_ context.Context, key string) ([]byte, bool) {
	v, ok := m.items[key]
	return v, ok
}

func (m *memoryCache) Store(_ context.Context, key string, val []byte, _ time.Duration) {
	m.items[key] = val
}

func (m *memoryCache) Stop() {}

func TestTokenSourceCaches(t *testing.T) {
	mc := &memoryCache{items: map[string][]byte{}}
	fetches := 0
	src := NewTokenSource(mc, "zim token", "client-a", func(context.Context) (*oauth2.Token, error) {
		fetches++
		return &oauth2.Token{AccessToken: "tok-1"}, nil
	}, log.NewNopLogger())

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.AccessToken)

	tok, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.AccessToken)
	assert.Equal(t, 1, fetches)
}

func TestTokenSourceKeysByClient(t *testing.T) {
	mc := &memoryCache{items: map[string][]byte{}}
	newSrc := func(client, token string) TokenSource {
		return NewTokenSource(mc, "oney token", client, func(context.Context) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: token}, nil
		}, log.NewNopLogger())
	}

	a, err := newSrc("client-a", "tok-a").Token(context.Background())
	require.NoError(t, err)
	b, err := newSrc("client-b", "tok-b").Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tok-a", a.AccessToken)
	assert.Equal(t, "tok-b", b.AccessToken)
}
