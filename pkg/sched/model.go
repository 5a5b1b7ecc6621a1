package sched

import (
	"github.com/google/uuid"
)

// TransportType is the closed set of conveyance kinds a leg can use.
type TransportType string

const (
	TransportVessel TransportType = "Vessel"
	TransportFeeder TransportType = "Feeder"
	TransportTruck  TransportType = "Truck"
	TransportBarge  TransportType = "Barge"
	TransportRail   TransportType = "Rail"
)

// ReferenceTypeIMO marks Transportation.Reference as an IMO vessel number.
const ReferenceTypeIMO = "IMO"

// PointBase is one end of a leg: a UN/LOCODE plus an optional terminal.
type PointBase struct {
	LocationName string  `json:"locationName"`
	LocationCode string  `json:"locationCode"`
	TerminalName *string `json:"terminalName,omitempty"`
	TerminalCode *string `json:"terminalCode,omitempty"`
}

// Transportation describes the conveyance used on a leg. Reference carries
// the vessel IMO number when ReferenceType is "IMO".
type Transportation struct {
	TransportType TransportType `json:"transportType"`
	TransportName *string       `json:"transportName,omitempty"`
	ReferenceType *string       `json:"referenceType,omitempty"`
	Reference     *string       `json:"reference,omitempty"`
}

// Service is the carrier service loop a leg sails on.
type Service struct {
	ServiceCode string `json:"serviceCode"`
}

// Voyage numbers for a leg. InternalVoyage is the carrier's own voyage
// reference, ExternalVoyage the consortium one where published.
type Voyage struct {
	InternalVoyage *string `json:"internalVoyage,omitempty"`
	ExternalVoyage *string `json:"externalVoyage,omitempty"`
}

// Cutoff holds the cargo deadlines published for the loading end of a leg.
type Cutoff struct {
	CyCutoffDate  *string `json:"cyCutoffDate,omitempty"`
	DocCutoffDate *string `json:"docCutoffDate,omitempty"`
	VgmCutoffDate *string `json:"vgmCutoffDate,omitempty"`
}

// Empty reports whether no cutoff date is present. An empty Cutoff must be
// elided from the leg rather than serialized as an empty object.
func (c *Cutoff) Empty() bool {
	return c == nil || (c.CyCutoffDate == nil && c.DocCutoffDate == nil && c.VgmCutoffDate == nil)
}

// Leg is one transportation segment between two points under one conveyance.
type Leg struct {
	PointFrom       PointBase      `json:"pointFrom"`
	PointTo         PointBase      `json:"pointTo"`
	ETD             string         `json:"etd"`
	ETA             string         `json:"eta"`
	TransitTime     int            `json:"transitTime"`
	Transportations Transportation `json:"transportations"`
	Services        *Service       `json:"services,omitempty"`
	Voyages         *Voyage        `json:"voyages,omitempty"`
	Cutoffs         *Cutoff        `json:"cutoffs,omitempty"`
}

// Schedule is one point-to-point sailing option, normalized from a carrier
// response. ETD and ETA are ISO-8601 local timestamps as published by the
// carrier; lexicographic order on them is chronological order.
type Schedule struct {
	SCAC          string `json:"scac"`
	PointFrom     string `json:"pointFrom"`
	PointTo       string `json:"pointTo"`
	ETD           string `json:"etd"`
	ETA           string `json:"eta"`
	TransitTime   int    `json:"transitTime"`
	Transshipment bool   `json:"transshipment"`
	Legs          []Leg  `json:"legs"`
}

// Product is the aggregated envelope returned to the caller.
type Product struct {
	ProductID    uuid.UUID  `json:"productid"`
	Origin       string     `json:"origin"`
	Destination  string     `json:"destination"`
	NoOfSchedule int        `json:"noofSchedule"`
	Schedules    []Schedule `json:"schedules"`
}

// ErrorEnvelope is returned with HTTP 200 when no schedule matched.
type ErrorEnvelope struct {
	ProductID uuid.UUID `json:"productid"`
	Details   string    `json:"details"`
}
