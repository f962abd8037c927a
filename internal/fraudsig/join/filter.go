package join

import (
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/enrich"
	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
)

// Filter discards a matched (first, second) pair when Reject returns true.
// Filters run in order and stop at the first rejection.
type Filter struct {
	Name   string
	Reject func(first, second model.Transaction) bool
}

const (
	FilterIdentity  = "identity"
	FilterLocation  = "location"
	FilterZeroDelta = "zero_delta"
	FilterMinSpeed  = "min_speed"
	FilterInvariant = "invariant"
)

// Identity drops a transaction paired with itself.
var Identity = Filter{
	Name: FilterIdentity,
	Reject: func(first, second model.Transaction) bool {
		return first.SameEvent(second)
	},
}

// Location drops repeat transactions at exactly the same coordinates.
var Location = Filter{
	Name: FilterLocation,
	Reject: func(first, second model.Transaction) bool {
		return first.Location == second.Location
	},
}

// ZeroDelta drops simultaneous pairs; speed is undefined for them.
var ZeroDelta = Filter{
	Name: FilterZeroDelta,
	Reject: func(first, second model.Transaction) bool {
		return second.EventTime == first.EventTime
	},
}

// DefaultFilters is the canonical order.
func DefaultFilters() []Filter {
	return []Filter{Identity, Location, ZeroDelta}
}

// MinSpeed drops pairs whose implied speed is below kmh. Append it after
// DefaultFilters; it assumes a non-zero delta.
func MinSpeed(kmh float64) Filter {
	return Filter{
		Name: FilterMinSpeed,
		Reject: func(first, second model.Transaction) bool {
			d := enrich.HaversineKm(first.Location, second.Location)
			return enrich.SpeedKmh(d, second.EventTime-first.EventTime) < kmh
		},
	}
}
