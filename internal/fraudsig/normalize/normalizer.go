package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
)

var ErrMalformedEvent = errors.New("malformed event")

// MalformedEventError names the field that failed to parse.
type MalformedEventError struct {
	Field  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event: field=%s: %s", e.Field, e.Reason)
}

func (e *MalformedEventError) Unwrap() error { return ErrMalformedEvent }

func malformed(field, format string, args ...any) error {
	return &MalformedEventError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TimePolicy decides what happens when the payload carries no timestamp.
// It is chosen per deployment, never per event.
type TimePolicy int

const (
	// PayloadTime rejects events without a timestamp.
	PayloadTime TimePolicy = iota
	// ArrivalTime falls back to the arrival time observed at the boundary.
	ArrivalTime
)

func ParseTimePolicy(s string) (TimePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "payload":
		return PayloadTime, nil
	case "arrival":
		return ArrivalTime, nil
	}
	return PayloadTime, fmt.Errorf("unknown time policy %q", s)
}

func (p TimePolicy) String() string {
	if p == ArrivalTime {
		return "arrival"
	}
	return "payload"
}

type rawLocation struct {
	Lat json.RawMessage `json:"lat"`
	Lon json.RawMessage `json:"lon"`
}

type rawEvent struct {
	AccountID     json.RawMessage `json:"account_id"`
	TransactionID json.RawMessage `json:"transaction_id"`
	ATM           json.RawMessage `json:"atm"`
	SourceLabel   json.RawMessage `json:"source_label"`
	Location      *rawLocation    `json:"location"`
	Amount        json.RawMessage `json:"amount"`
	Timestamp     json.RawMessage `json:"timestamp"`
}

// Normalizer translates raw payloads into model.Transaction. It holds no state.
type Normalizer struct {
	Policy TimePolicy
}

func New(policy TimePolicy) *Normalizer {
	return &Normalizer{Policy: policy}
}

// Normalize parses one JSON object. arrival is only consulted under ArrivalTime.
func (n *Normalizer) Normalize(raw []byte, arrival time.Time) (model.Transaction, error) {
	var ev rawEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return model.Transaction{}, malformed("$", "decode: %v", err)
	}

	accountID, err := requiredString("account_id", ev.AccountID)
	if err != nil {
		return model.Transaction{}, err
	}
	txID, err := requiredString("transaction_id", ev.TransactionID)
	if err != nil {
		return model.Transaction{}, err
	}

	if ev.Location == nil {
		return model.Transaction{}, malformed("location", "missing")
	}
	lat, err := requiredNumber("location.lat", ev.Location.Lat)
	if err != nil {
		return model.Transaction{}, err
	}
	if lat < -90 || lat > 90 {
		return model.Transaction{}, malformed("location.lat", "out of range: %v", lat)
	}
	lon, err := requiredNumber("location.lon", ev.Location.Lon)
	if err != nil {
		return model.Transaction{}, err
	}
	if lon < -180 || lon > 180 {
		return model.Transaction{}, malformed("location.lon", "out of range: %v", lon)
	}

	amount, err := requiredDecimal("amount", ev.Amount)
	if err != nil {
		return model.Transaction{}, err
	}

	eventTime, err := n.eventTime(ev.Timestamp, arrival)
	if err != nil {
		return model.Transaction{}, err
	}

	label, _ := optionalString(ev.SourceLabel)
	if label == "" {
		label, _ = optionalString(ev.ATM)
	}

	return model.Transaction{
		AccountID:     accountID,
		TransactionID: txID,
		EventTime:     eventTime,
		Amount:        amount,
		Location:      model.Location{Lat: lat, Lon: lon},
		SourceLabel:   label,
	}, nil
}

func (n *Normalizer) eventTime(raw json.RawMessage, arrival time.Time) (int64, error) {
	if isAbsent(raw) {
		if n.Policy == ArrivalTime && !arrival.IsZero() {
			return arrival.UnixMilli(), nil
		}
		return 0, malformed("timestamp", "missing")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, malformed("timestamp", "decode: %v", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			if n.Policy == ArrivalTime && !arrival.IsZero() {
				return arrival.UnixMilli(), nil
			}
			return 0, malformed("timestamp", "empty")
		}
		t, err := parseISO(s)
		if err != nil {
			return 0, malformed("timestamp", "%v", err)
		}
		return t.UnixMilli(), nil
	}
	// bare integers are epoch milli
	ms, err := strconv.ParseInt(string(bytes.TrimSpace(raw)), 10, 64)
	if err != nil {
		return 0, malformed("timestamp", "not an ISO-8601 string or epoch milli: %s", raw)
	}
	return ms, nil
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseISO assumes UTC when the layout carries no zone.
func parseISO(s string) (time.Time, error) {
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format %q", s)
}

func isAbsent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func optionalString(raw json.RawMessage) (string, bool) {
	if isAbsent(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func requiredString(field string, raw json.RawMessage) (string, error) {
	if isAbsent(raw) {
		return "", malformed(field, "missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", malformed(field, "want string, got %s", raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", malformed(field, "empty")
	}
	return s, nil
}

// requiredNumber accepts a JSON number or a numeric string.
func requiredNumber(field string, raw json.RawMessage) (float64, error) {
	if isAbsent(raw) {
		return 0, malformed(field, "missing")
	}
	var v float64
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, malformed(field, "decode: %v", err)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, malformed(field, "not numeric: %q", s)
		}
		v = f
	} else if err := json.Unmarshal(raw, &v); err != nil {
		return 0, malformed(field, "want number, got %s", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, malformed(field, "not finite")
	}
	return v, nil
}

// requiredDecimal keeps the amount exact; floats would round cents.
func requiredDecimal(field string, raw json.RawMessage) (decimal.Decimal, error) {
	if isAbsent(raw) {
		return decimal.Zero, malformed(field, "missing")
	}
	text := string(bytes.TrimSpace(raw))
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, malformed(field, "decode: %v", err)
		}
		text = strings.TrimSpace(s)
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, malformed(field, "not numeric: %q", text)
	}
	return d, nil
}
