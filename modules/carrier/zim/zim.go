// Package zim integrates the ZIM vessel-schedule gateway (ZIMU).
package zim

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-kit/log/level"
	"golang.org/x/oauth2"

	"github.com/neckchi/scheduleapi/modules/carrier"
	"github.com/neckchi/scheduleapi/modules/settings"
	"github.com/neckchi/scheduleapi/pkg/fetch"
	"github.com/neckchi/scheduleapi/pkg/sched"
)

// ZIM keys its conveyance on the published vessel name: placeholder names
// mark non-vessel moves.
var transportTypes = map[string]sched.TransportType{
	"Land Trans":  sched.TransportTruck,
	"Feeder":      sched.TransportFeeder,
	"TO BE NAMED": sched.TransportVessel,
	"BAR":         sched.TransportBarge,
}

type Adapter struct {
	deps   carrier.Deps
	cfg    settings.ZIM
	tokens carrier.TokenSource
}

func New(deps carrier.Deps, cfg settings.ZIM) *Adapter {
	a := &Adapter{deps: deps, cfg: cfg}
	a.tokens = carrier.NewTokenSource(deps.Cache, "zim token", cfg.Client, a.fetchToken, deps.Logger)
	return a
}

func (a *Adapter) Name() string { return "zim" }

func (a *Adapter) SCACs() []sched.CarrierCode {
	return []sched.CarrierCode{sched.ZIMU}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (a *Adapter) fetchToken(ctx context.Context) (*oauth2.Token, error) {
	var resp tokenResponse
	res, err := a.deps.Fetch.Do(ctx, fetch.Request{
		Name:    a.Name(),
		Method:  http.MethodPost,
		URL:     a.cfg.TokenURL,
		Headers: map[string]string{"Ocp-Apim-Subscription-Key": a.cfg.Token.String()},
		Form: url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {a.cfg.Client},
			"client_secret": {a.cfg.Secret.String()},
			"scope":         {"Vessel Schedule"},
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !res.OK || resp.AccessToken == "" {
		return nil, fmt.Errorf("zim token endpoint returned no access token")
	}
	return &oauth2.Token{AccessToken: resp.AccessToken}, nil
}

type scheduleResponse struct {
	Response struct {
		Routes []route `json:"routes"`
	} `json:"response"`
}

type route struct {
	DeparturePort string     `json:"departurePort"`
	ArrivalPort   string     `json:"arrivalPort"`
	ArrivalDate   string     `json:"arrivalDate"`
	TransitTime   int        `json:"transitTime"`
	RouteLegCount int        `json:"routeLegCount"`
	RouteLegs     []routeLeg `json:"routeLegs"`
}

type routeLeg struct {
	LegOrder             int    `json:"legOrder"`
	DeparturePort        string `json:"departurePort"`
	DeparturePortName    string `json:"departurePortName"`
	ArrivalPort          string `json:"arrivalPort"`
	ArrivalPortName      string `json:"arrivalPortName"`
	DepartureDate        string `json:"departureDate"`
	ArrivalDate          string `json:"arrivalDate"`
	VesselName           string `json:"vesselName"`
	LloydsCode           string `json:"lloydsCode"`
	Line                 string `json:"line"`
	Voyage               string `json:"voyage"`
	Leg                  string `json:"leg"`
	ConsortSailingNumber string `json:"consortSailingNumber"`
	ContainerClosingDate string `json:"containerClosingDate"`
	DocClosingDate       string `json:"docClosingDate"`
	VGMClosingDate       string `json:"vgmClosingDate"`
}

func (a *Adapter) Fetch(ctx context.Context, q *carrier.Query) ([]sched.Schedule, error) {
	tok, err := a.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	from, to := q.Window()
	var resp scheduleResponse
	res, err := a.deps.Fetch.Do(ctx, fetch.Request{
		Name:   a.Name(),
		Method: http.MethodGet,
		URL:    a.cfg.URL,
		Params: url.Values{
			"originCode":               {q.Origin},
			"destCode":                 {q.Destination},
			"fromDate":                 {from},
			"toDate":                   {to},
			"sortByDepartureOrArrival": {string(q.StartDateType)},
		},
		Headers: map[string]string{
			"Ocp-Apim-Subscription-Key": a.cfg.Token.String(),
			"Authorization":             "Bearer " + tok.AccessToken,
			"Accept":                    "application/json",
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, nil
	}

	schedules := make([]sched.Schedule, 0, len(resp.Response.Routes))
	for _, r := range resp.Response.Routes {
		s, ok := a.mapRoute(r)
		if !ok {
			continue
		}
		schedules = append(schedules, s)
	}
	return carrier.Filter(schedules, q), nil
}

// mapRoute normalizes one route. Legs published before the sailing that
// actually departs the requested origin are clipped: the route's effective
// first leg is the latest one departing the origin port. Routes with no
// such leg are dropped.
func (a *Adapter) mapRoute(r route) (sched.Schedule, bool) {
	nearestOrder := 0
	found := false
	for i := len(r.RouteLegs) - 1; i >= 0; i-- {
		if r.RouteLegs[i].DeparturePort == r.DeparturePort {
			nearestOrder = r.RouteLegs[i].LegOrder
			found = true
			break
		}
	}
	if !found {
		level.Warn(a.deps.Logger).Log("msg", "zim route has no leg departing its origin port, dropping", "origin", r.DeparturePort, "destination", r.ArrivalPort)
		return sched.Schedule{}, false
	}

	var legs []sched.Leg
	for _, leg := range r.RouteLegs {
		if leg.LegOrder < nearestOrder {
			continue
		}
		legs = append(legs, a.mapLeg(leg))
	}
	if len(legs) == 0 {
		return sched.Schedule{}, false
	}

	return sched.Schedule{
		SCAC:          string(sched.ZIMU),
		PointFrom:     r.DeparturePort,
		PointTo:       r.ArrivalPort,
		ETD:           legs[0].ETD,
		ETA:           legs[len(legs)-1].ETA,
		TransitTime:   r.TransitTime,
		Transshipment: len(legs) > 1,
		Legs:          legs,
	}, true
}

func (a *Adapter) mapLeg(leg routeLeg) sched.Leg {
	transport := carrier.NormalizeTransport(leg.VesselName, transportTypes, sched.TransportVessel)
	transit, err := sched.CalendarDays(leg.DepartureDate, leg.ArrivalDate)
	if err != nil {
		transit = 0
	}

	var services *sched.Service
	var voyages *sched.Voyage
	if leg.Voyage != "" {
		services = &sched.Service{ServiceCode: leg.Line}
		voyages = &sched.Voyage{
			InternalVoyage: sched.Ptr(leg.Voyage + leg.Leg),
			ExternalVoyage: sched.PtrIfNotEmpty(leg.ConsortSailingNumber),
		}
	} else if leg.ConsortSailingNumber != "" {
		voyages = &sched.Voyage{ExternalVoyage: sched.Ptr(leg.ConsortSailingNumber)}
	}

	var cutoffs *sched.Cutoff
	if leg.ContainerClosingDate != "" || leg.DocClosingDate != "" || leg.VGMClosingDate != "" {
		cutoffs = &sched.Cutoff{
			CyCutoffDate:  sched.PtrIfNotEmpty(leg.ContainerClosingDate),
			DocCutoffDate: sched.PtrIfNotEmpty(leg.DocClosingDate),
			VgmCutoffDate: sched.PtrIfNotEmpty(leg.VGMClosingDate),
		}
	}

	return sched.Leg{
		PointFrom:   sched.PointBase{LocationName: leg.DeparturePortName, LocationCode: leg.DeparturePort},
		PointTo:     sched.PointBase{LocationName: leg.ArrivalPortName, LocationCode: leg.ArrivalPort},
		ETD:         leg.DepartureDate,
		ETA:         leg.ArrivalDate,
		TransitTime: transit,
		Transportations: sched.Transportation{
			TransportType: transport,
			TransportName: sched.PtrIfNotEmpty(leg.VesselName),
			ReferenceType: sched.Ptr(sched.ReferenceTypeIMO),
			Reference:     sched.Ptr(mapIMO(leg.LloydsCode, leg.VesselName, leg.Line, transport)),
		},
		Services: services,
		Voyages:  voyages,
		Cutoffs:  cutoffs,
	}
}

// mapIMO resolves the IMO reference for a leg. Real Lloyd's codes pass
// through; everything else gets a placeholder encoding the conveyance:
// "9" for unnamed or feeder sailings, "3" for truck moves, "1" otherwise.
func mapIMO(legIMO, vesselName, line string, transport sched.TransportType) string {
	switch {
	case legIMO != "" && vesselName != "TO BE NAMED" && transport != sched.TransportTruck:
		return legIMO
	case (line == "UNK" && legIMO == "" && transport != sched.TransportTruck) || transport == sched.TransportFeeder:
		return "9"
	case transport == sched.TransportTruck:
		return "3"
	default:
		return "1"
	}
}
