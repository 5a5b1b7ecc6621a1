package sched

import "sort"

// SortSchedules orders schedules ascending by ETD, ties broken by transit
// time, further ties left in arrival order. ETD strings are ISO-8601, so
// lexicographic comparison is chronological.
func SortSchedules(schedules []Schedule) {
	sort.SliceStable(schedules, func(i, j int) bool {
		if schedules[i].ETD != schedules[j].ETD {
			return schedules[i].ETD < schedules[j].ETD
		}
		return schedules[i].TransitTime < schedules[j].TransitTime
	})
}

// Ptr returns a pointer to v. Adapters use it to fill the optional fields
// of the unified model.
func Ptr[T any](v T) *T {
	return &v
}

// PtrIfNotEmpty returns a pointer to s, or nil when s is empty. Optional
// string fields absent from a carrier payload stay absent in the unified
// model instead of becoming empty strings.
func PtrIfNotEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
