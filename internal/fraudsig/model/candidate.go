package model

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// candidateNS namespaces name-based candidate ids. Changing it changes every id.
var candidateNS = uuid.MustParse("6f1c7c1e-3a52-4c1b-9a57-2d0f6b1e8a40")

// FraudCandidate is one suspicious ordered pair (First earlier than Second).
// It is append-only: never mutated after being built.
type FraudCandidate struct {
	CandidateID string `json:"candidate_id"`
	AccountID   string `json:"account_id"`

	FirstTransactionID  string `json:"first_transaction_id"`
	SecondTransactionID string `json:"second_transaction_id"`
	FirstEventTime      int64  `json:"first_event_time"`
	SecondEventTime     int64  `json:"second_event_time"`

	FirstLocation  Location `json:"first_location"`
	SecondLocation Location `json:"second_location"`

	FirstSourceLabel  string          `json:"first_source_label,omitempty"`
	SecondSourceLabel string          `json:"second_source_label,omitempty"`
	FirstAmount       decimal.Decimal `json:"first_amount"`
	SecondAmount      decimal.Decimal `json:"second_amount"`

	DistanceKm      float64 `json:"distance_km"`
	TimeDeltaMs     int64   `json:"time_delta_ms"`
	ImpliedSpeedKmh float64 `json:"implied_speed_kmh"`

	DetectedAt int64 `json:"detected_at"` // unix milli, processing time

	AccountContact *AccountContact `json:"account_contact,omitempty"`
}

// CandidateID is stable for an ordered pair, so replays map to the same id
// and sinks can upsert on it.
func CandidateID(firstTxID, secondTxID string) string {
	return uuid.NewSHA1(candidateNS, []byte(firstTxID+"\x00"+secondTxID)).String()
}

// WithContact returns a copy carrying contact metadata.
func (c FraudCandidate) WithContact(ac *AccountContact) FraudCandidate {
	c.AccountContact = ac
	return c
}
