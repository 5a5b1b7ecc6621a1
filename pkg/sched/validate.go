package sched

import (
	"errors"
	"fmt"
)

// Validate checks the cross-field consistency rules every emitted schedule
// must satisfy. The aggregator drops a schedule that fails validation and
// logs a warning; one bad schedule never fails the request.
func (s *Schedule) Validate() error {
	if s.SCAC == "" || s.PointFrom == "" || s.PointTo == "" || s.ETD == "" || s.ETA == "" {
		return errors.New("missing required schedule fields")
	}
	if len(s.Legs) == 0 {
		return errors.New("schedule has no legs")
	}

	first := &s.Legs[0]
	last := &s.Legs[len(s.Legs)-1]

	if first.PointFrom.LocationCode != s.PointFrom {
		return fmt.Errorf("first leg departs %s but schedule origin is %s", first.PointFrom.LocationCode, s.PointFrom)
	}
	if last.PointTo.LocationCode != s.PointTo {
		return fmt.Errorf("last leg arrives %s but schedule destination is %s", last.PointTo.LocationCode, s.PointTo)
	}
	if s.Transshipment != (len(s.Legs) > 1) {
		return fmt.Errorf("transshipment flag %t does not match leg count %d", s.Transshipment, len(s.Legs))
	}
	if first.ETD != s.ETD {
		return fmt.Errorf("schedule etd %s does not match first leg etd %s", s.ETD, first.ETD)
	}
	if last.ETA != s.ETA {
		return fmt.Errorf("schedule eta %s does not match last leg eta %s", s.ETA, last.ETA)
	}
	if s.TransitTime < 0 {
		return fmt.Errorf("negative transit time %d", s.TransitTime)
	}

	for i := range s.Legs {
		if err := s.Legs[i].validate(); err != nil {
			return fmt.Errorf("leg %d: %w", i, err)
		}
	}
	return nil
}

func (l *Leg) validate() error {
	if l.PointFrom.LocationCode == "" || l.PointTo.LocationCode == "" {
		return errors.New("missing leg location codes")
	}
	if l.ETD == "" || l.ETA == "" {
		return errors.New("missing leg dates")
	}

	days, err := CalendarDays(l.ETD, l.ETA)
	if err != nil {
		return err
	}
	if days < 0 {
		return fmt.Errorf("eta %s before etd %s", l.ETA, l.ETD)
	}

	switch l.Transportations.TransportType {
	case TransportVessel, TransportFeeder, TransportTruck, TransportBarge, TransportRail:
	default:
		return fmt.Errorf("unknown transport type %q", l.Transportations.TransportType)
	}

	if rt := l.Transportations.ReferenceType; rt != nil && *rt == ReferenceTypeIMO {
		if l.Transportations.Reference == nil || *l.Transportations.Reference == "" {
			return errors.New("reference type IMO without a reference")
		}
	}

	if l.Cutoffs != nil && l.Cutoffs.Empty() {
		return errors.New("cutoffs present without any cutoff date")
	}
	return nil
}
