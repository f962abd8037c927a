// Package enrich derives distance and implied speed for a matched pair.
package enrich

import (
	"errors"
	"fmt"
	"math"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
)

// EarthRadiusKm is the mean earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

const msPerHour = 3_600_000

// ErrInvariant means the caller passed a pair the join filters should have
// discarded. It is unreachable through the engine.
var ErrInvariant = errors.New("enrich: pair violates join invariants")

// HaversineKm returns the great-circle distance between a and b.
func HaversineKm(a, b model.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	s1 := math.Sin(dLat / 2)
	s2 := math.Sin(dLon / 2)
	h := s1*s1 + math.Cos(lat1)*math.Cos(lat2)*s2*s2
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// SpeedKmh returns km per hour for a distance covered in deltaMs (> 0).
func SpeedKmh(distanceKm float64, deltaMs int64) float64 {
	return distanceKm / (float64(deltaMs) / msPerHour)
}

// Enrich builds the candidate for (first, second). first must be strictly
// earlier than second and both must share the account.
func Enrich(first, second model.Transaction) (model.FraudCandidate, error) {
	if first.AccountID != second.AccountID {
		return model.FraudCandidate{}, fmt.Errorf("%w: account %q != %q", ErrInvariant, first.AccountID, second.AccountID)
	}
	delta := second.EventTime - first.EventTime
	if delta <= 0 {
		return model.FraudCandidate{}, fmt.Errorf("%w: time delta %dms", ErrInvariant, delta)
	}

	dist := HaversineKm(first.Location, second.Location)
	return model.FraudCandidate{
		CandidateID:         model.CandidateID(first.TransactionID, second.TransactionID),
		AccountID:           first.AccountID,
		FirstTransactionID:  first.TransactionID,
		SecondTransactionID: second.TransactionID,
		FirstEventTime:      first.EventTime,
		SecondEventTime:     second.EventTime,
		FirstLocation:       first.Location,
		SecondLocation:      second.Location,
		FirstSourceLabel:    first.SourceLabel,
		SecondSourceLabel:   second.SourceLabel,
		FirstAmount:         first.Amount,
		SecondAmount:        second.Amount,
		DistanceKm:          dist,
		TimeDeltaMs:         delta,
		ImpliedSpeedKmh:     SpeedKmh(dist, delta),
	}, nil
}
