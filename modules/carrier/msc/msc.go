// Package msc integrates the MSC developer portal gateway (MSCU). The
// identity provider authenticates clients with a signed RS256 JWT assertion
// rather than a shared secret.
package msc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/neckchi/scheduleapi/modules/carrier"
	"github.com/neckchi/scheduleapi/modules/settings"
	"github.com/neckchi/scheduleapi/pkg/fetch"
	"github.com/neckchi/scheduleapi/pkg/sched"
)

const (
	assertionType     = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	assertionValidity = 10 * time.Minute
)

type Adapter struct {
	deps   carrier.Deps
	cfg    settings.MSC
	tokens carrier.TokenSource
}

func New(deps carrier.Deps, cfg settings.MSC) *Adapter {
	a := &Adapter{deps: deps, cfg: cfg}
	a.tokens = carrier.NewTokenSource(deps.Cache, "msc token", cfg.Client, a.fetchToken, deps.Logger)
	return a
}

func (a *Adapter) Name() string { return "msc" }

func (a *Adapter) SCACs() []sched.CarrierCode {
	return []sched.CarrierCode{sched.MSCU}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (a *Adapter) fetchToken(ctx context.Context) (*oauth2.Token, error) {
	assertion, err := a.signAssertion(time.Now())
	if err != nil {
		return nil, err
	}

	var resp tokenResponse
	res, err := a.deps.Fetch.Do(ctx, fetch.Request{
		Name:   a.Name(),
		Method: http.MethodPost,
		URL:    a.cfg.OAuthURL,
		Form: url.Values{
			"grant_type":            {"client_credentials"},
			"client_id":             {a.cfg.Client},
			"scope":                 {a.cfg.Scope},
			"client_assertion_type": {assertionType},
			"client_assertion":      {assertion},
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !res.OK || resp.AccessToken == "" {
		return nil, fmt.Errorf("msc token endpoint returned no access token")
	}
	return &oauth2.Token{AccessToken: resp.AccessToken}, nil
}

// signAssertion builds the client assertion the identity provider expects:
// issuer and subject are the client ID, the audience is the provider, and
// the certificate thumbprint rides in the x5t header.
func (a *Adapter) signAssertion(now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(a.cfg.RSAKey.String()))
	if err != nil {
		return "", fmt.Errorf("parsing msc signing key: %w", err)
	}
	claims := jwt.RegisteredClaims{
		Issuer:    a.cfg.Client,
		Subject:   a.cfg.Client,
		Audience:  jwt.ClaimStrings{a.cfg.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionValidity)),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["x5t"] = a.cfg.Thumbprint
	return token.SignedString(key)
}

// The schedule document keeps MSC's PascalCase field names.
type scheduleResponse struct {
	MSCSchedule mscSchedule `json:"MSCSchedule"`
}

type mscSchedule struct {
	Transactions []transaction `json:"Transactions"`
}

type transaction struct {
	Schedules []routing `json:"Schedules"`
}

type routing struct {
	TransitTime int          `json:"TransitTime"`
	Legs        []routingLeg `json:"Legs"`
}

type routingLeg struct {
	DeparturePortCode       string `json:"DeparturePortCode"`
	DeparturePortName       string `json:"DeparturePortName"`
	DepartureTerminalName   string `json:"DepartureTerminalName"`
	ArrivalPortCode         string `json:"ArrivalPortCode"`
	ArrivalPortName         string `json:"ArrivalPortName"`
	ArrivalTerminalName     string `json:"ArrivalTerminalName"`
	DepartureDate           string `json:"DepartureDate"`
	ArrivalDate             string `json:"ArrivalDate"`
	VesselName              string `json:"VesselName"`
	VesselIMONumber         string `json:"VesselIMONumber"`
	ServiceName             string `json:"ServiceName"`
	VoyageNumber            string `json:"VoyageNumber"`
	CargoCutOffDate         string `json:"CargoCutOffDate"`
	DocumentationCutOffDate string `json:"DocumentationCutOffDate"`
	VGMCutOffDate           string `json:"VGMCutOffDate"`
}

func (a *Adapter) Fetch(ctx context.Context, q *carrier.Query) ([]sched.Schedule, error) {
	tok, err := a.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	from, to := q.Window()
	params := url.Values{
		"fromPortUNCode": {q.Origin},
		"toPortUNCode":   {q.Destination},
		"fromDate":       {from},
		"toDate":         {to},
		"datesRelateTo":  {"POL"},
	}
	if q.StartDateType == sched.StartDateArrival {
		params.Set("datesRelateTo", "POD")
	}

	var resp scheduleResponse
	res, err := a.deps.Fetch.Do(ctx, fetch.Request{
		Name:    a.Name(),
		Method:  http.MethodGet,
		URL:     a.cfg.URL,
		Params:  params,
		Headers: map[string]string{"Authorization": "Bearer " + tok.AccessToken},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, nil
	}

	var schedules []sched.Schedule
	for _, tx := range resp.MSCSchedule.Transactions {
		for i := range tx.Schedules {
			if s, ok := mapRouting(&tx.Schedules[i]); ok {
				schedules = append(schedules, s)
			}
		}
	}
	return carrier.Filter(schedules, q), nil
}

func mapRouting(doc *routing) (sched.Schedule, bool) {
	if len(doc.Legs) == 0 {
		return sched.Schedule{}, false
	}
	legs := make([]sched.Leg, 0, len(doc.Legs))
	for i := range doc.Legs {
		legs = append(legs, mapLeg(&doc.Legs[i]))
	}
	last := len(legs) - 1
	return sched.Schedule{
		SCAC:          string(sched.MSCU),
		PointFrom:     legs[0].PointFrom.LocationCode,
		PointTo:       legs[last].PointTo.LocationCode,
		ETD:           legs[0].ETD,
		ETA:           legs[last].ETA,
		TransitTime:   doc.TransitTime,
		Transshipment: len(legs) > 1,
		Legs:          legs,
	}, true
}

// mapLeg treats a named conveyance as the mother vessel and an unnamed one
// as an unannounced feeder, the same way the portal renders them.
func mapLeg(doc *routingLeg) sched.Leg {
	transit, err := sched.CalendarDays(doc.DepartureDate, doc.ArrivalDate)
	if err != nil {
		transit = 0
	}
	transportType := sched.TransportFeeder
	if doc.VesselName != "" {
		transportType = sched.TransportVessel
	}
	leg := sched.Leg{
		PointFrom: sched.PointBase{
			LocationName: doc.DeparturePortName,
			LocationCode: doc.DeparturePortCode,
			TerminalName: sched.PtrIfNotEmpty(doc.DepartureTerminalName),
		},
		PointTo: sched.PointBase{
			LocationName: doc.ArrivalPortName,
			LocationCode: doc.ArrivalPortCode,
			TerminalName: sched.PtrIfNotEmpty(doc.ArrivalTerminalName),
		},
		ETD:         doc.DepartureDate,
		ETA:         doc.ArrivalDate,
		TransitTime: transit,
		Transportations: sched.Transportation{
			TransportType: transportType,
			TransportName: sched.PtrIfNotEmpty(doc.VesselName),
		},
	}
	if doc.VesselIMONumber != "" {
		leg.Transportations.ReferenceType = sched.Ptr(sched.ReferenceTypeIMO)
		leg.Transportations.Reference = sched.Ptr(doc.VesselIMONumber)
	}
	if doc.ServiceName != "" {
		leg.Services = &sched.Service{ServiceCode: doc.ServiceName}
	}
	if doc.VoyageNumber != "" {
		leg.Voyages = &sched.Voyage{InternalVoyage: sched.Ptr(doc.VoyageNumber)}
	}
	cutoffs := &sched.Cutoff{
		CyCutoffDate:  sched.PtrIfNotEmpty(doc.CargoCutOffDate),
		DocCutoffDate: sched.PtrIfNotEmpty(doc.DocumentationCutOffDate),
		VgmCutoffDate: sched.PtrIfNotEmpty(doc.VGMCutOffDate),
	}
	if !cutoffs.Empty() {
		leg.Cutoffs = cutoffs
	}
	return leg
}
