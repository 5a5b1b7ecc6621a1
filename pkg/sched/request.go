package sched

import (
	"fmt"
	"time"
)

// StartDateType selects whether the requested date window anchors on
// departure or arrival.
type StartDateType string

const (
	StartDateDeparture StartDateType = "Departure"
	StartDateArrival   StartDateType = "Arrival"
)

// ParseStartDateType validates the start date type query value.
func ParseStartDateType(s string) (StartDateType, error) {
	switch StartDateType(s) {
	case StartDateDeparture, StartDateArrival:
		return StartDateType(s), nil
	}
	return "", fmt.Errorf("invalid start date type %q, expected Departure or Arrival", s)
}

// SearchRange is the requested window length. Only the four enumerated
// values are accepted.
type SearchRange int

const (
	SearchRangeOneWeek    SearchRange = 1
	SearchRangeTwoWeeks   SearchRange = 2
	SearchRangeThreeWeeks SearchRange = 3
	SearchRangeFourWeeks  SearchRange = 4
)

// ParseSearchRange validates the search range query value.
func ParseSearchRange(s string) (SearchRange, error) {
	switch s {
	case "1":
		return SearchRangeOneWeek, nil
	case "2":
		return SearchRangeTwoWeeks, nil
	case "3":
		return SearchRangeThreeWeeks, nil
	case "4":
		return SearchRangeFourWeeks, nil
	}
	return 0, fmt.Errorf("invalid search range %q, expected 1, 2, 3 or 4", s)
}

// Days returns the window length in days.
func (r SearchRange) Days() int {
	return int(r) * 7
}

// Duration returns the window length as a time.Duration.
func (r SearchRange) Duration() time.Duration {
	return time.Duration(r.Days()) * 24 * time.Hour
}

// CarrierCode is a 4-letter SCAC.
type CarrierCode string

const (
	MSCU CarrierCode = "MSCU"
	CMDU CarrierCode = "CMDU"
	ANNU CarrierCode = "ANNU"
	APLU CarrierCode = "APLU"
	CHNL CarrierCode = "CHNL"
	CSFU CarrierCode = "CSFU"
	SUDU CarrierCode = "SUDU"
	ANRM CarrierCode = "ANRM"
	ONEY CarrierCode = "ONEY"
	HDMU CarrierCode = "HDMU"
	ZIMU CarrierCode = "ZIMU"
	MAEU CarrierCode = "MAEU"
	SEAU CarrierCode = "SEAU"
	SEJJ CarrierCode = "SEJJ"
	MCPU CarrierCode = "MCPU"
	MAEI CarrierCode = "MAEI"
	OOLU CarrierCode = "OOLU"
	COSU CarrierCode = "COSU"
	HLCU CarrierCode = "HLCU"
)

// CarrierCodes lists every SCAC the service accepts in requests.
var CarrierCodes = []CarrierCode{
	MSCU, CMDU, ANNU, APLU, CHNL, CSFU, SUDU, ANRM, ONEY, HDMU,
	ZIMU, MAEU, SEAU, SEJJ, MCPU, MAEI, OOLU, COSU, HLCU,
}

// ParseCarrierCode validates a SCAC query value against the known set.
func ParseCarrierCode(s string) (CarrierCode, error) {
	for _, c := range CarrierCodes {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown carrier code %q", s)
}
