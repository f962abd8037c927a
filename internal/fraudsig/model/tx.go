package model

import "github.com/shopspring/decimal"

// Location is a coordinate pair in decimal degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Transaction is the canonical, validated unit fed into the window buffer.
// EventTime is unix milli taken from the payload, not arrival time.
type Transaction struct {
	AccountID     string          `json:"account_id"`
	TransactionID string          `json:"transaction_id"`
	EventTime     int64           `json:"event_time"`
	Amount        decimal.Decimal `json:"amount"`
	Location      Location        `json:"location"`
	SourceLabel   string          `json:"source_label,omitempty"`
}

// SameEvent reports whether t and o are the same logical event.
func (t Transaction) SameEvent(o Transaction) bool {
	return t.TransactionID == o.TransactionID
}
