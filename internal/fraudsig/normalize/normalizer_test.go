package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNormalizeFullPayload(t *testing.T) {
	n := New(PayloadTime)
	raw := []byte(`{
		"account_id": "ac_03",
		"atm": "ATM : 1 Market St",
		"location": {"lat": "37.55", "lon": -121.98},
		"amount": 40,
		"timestamp": "2018-07-13T10:00:00Z",
		"transaction_id": "04"
	}`)
	tx, err := n.Normalize(raw, time.Time{})
	if err != nil {
		t.Fatalf("Normalize err=%v", err)
	}
	if tx.AccountID != "ac_03" || tx.TransactionID != "04" {
		t.Fatalf("ids: got %+v", tx)
	}
	if tx.Location.Lat != 37.55 || tx.Location.Lon != -121.98 {
		t.Fatalf("location: got %+v", tx.Location)
	}
	if !tx.Amount.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("amount=%v want=40", tx.Amount)
	}
	want := time.Date(2018, 7, 13, 10, 0, 0, 0, time.UTC).UnixMilli()
	if tx.EventTime != want {
		t.Fatalf("event_time=%d want=%d", tx.EventTime, want)
	}
	if tx.SourceLabel != "ATM : 1 Market St" {
		t.Fatalf("source_label=%q", tx.SourceLabel)
	}
}

func TestNormalizeSourceLabelWinsOverATM(t *testing.T) {
	n := New(PayloadTime)
	raw := []byte(`{"account_id":"a","transaction_id":"t","source_label":"POS 9","atm":"ATM 1",
		"location":{"lat":1,"lon":2},"amount":"12.5","timestamp":1531476000000}`)
	tx, err := n.Normalize(raw, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if tx.SourceLabel != "POS 9" {
		t.Fatalf("source_label=%q want=POS 9", tx.SourceLabel)
	}
	if tx.Amount.String() != "12.5" {
		t.Fatalf("amount=%v want=12.5", tx.Amount)
	}
	if tx.EventTime != 1531476000000 {
		t.Fatalf("event_time=%d", tx.EventTime)
	}
}

func TestNormalizeTimestampLayouts(t *testing.T) {
	n := New(PayloadTime)
	want := time.Date(2018, 7, 13, 10, 5, 58, 0, time.UTC).UnixMilli()
	for _, ts := range []string{
		"2018-07-13T10:05:58Z",
		"2018-07-13T12:05:58+02:00",
		"2018-07-13T10:05:58",
		"2018-07-13 10:05:58",
		"2018-07-13T10:05:58.000Z",
	} {
		raw := []byte(`{"account_id":"a","transaction_id":"t","location":{"lat":1,"lon":2},"amount":1,"timestamp":"` + ts + `"}`)
		tx, err := n.Normalize(raw, time.Time{})
		if err != nil {
			t.Fatalf("%s: err=%v", ts, err)
		}
		if tx.EventTime != want {
			t.Fatalf("%s: event_time=%d want=%d", ts, tx.EventTime, want)
		}
	}
}

func TestNormalizeArrivalFallback(t *testing.T) {
	raw := []byte(`{"account_id":"a","transaction_id":"t","location":{"lat":1,"lon":2},"amount":1}`)
	arrival := time.UnixMilli(1_700_000_000_123)

	if _, err := New(PayloadTime).Normalize(raw, arrival); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("payload policy: want ErrMalformedEvent, got %v", err)
	}

	tx, err := New(ArrivalTime).Normalize(raw, arrival)
	if err != nil {
		t.Fatalf("arrival policy: err=%v", err)
	}
	if tx.EventTime != arrival.UnixMilli() {
		t.Fatalf("event_time=%d want=%d", tx.EventTime, arrival.UnixMilli())
	}

	// an explicit payload timestamp always wins over arrival
	withTs := []byte(`{"account_id":"a","transaction_id":"t","location":{"lat":1,"lon":2},"amount":1,"timestamp":5}`)
	tx, err = New(ArrivalTime).Normalize(withTs, arrival)
	if err != nil {
		t.Fatal(err)
	}
	if tx.EventTime != 5 {
		t.Fatalf("event_time=%d want=5", tx.EventTime)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		field string
	}{
		{"not json", `{`, "$"},
		{"missing account", `{"transaction_id":"t","location":{"lat":1,"lon":2},"amount":1,"timestamp":1}`, "account_id"},
		{"empty account", `{"account_id":" ","transaction_id":"t","location":{"lat":1,"lon":2},"amount":1,"timestamp":1}`, "account_id"},
		{"numeric tx id", `{"account_id":"a","transaction_id":7,"location":{"lat":1,"lon":2},"amount":1,"timestamp":1}`, "transaction_id"},
		{"missing location", `{"account_id":"a","transaction_id":"t","amount":1,"timestamp":1}`, "location"},
		{"bad lat", `{"account_id":"a","transaction_id":"t","location":{"lat":"north","lon":2},"amount":1,"timestamp":1}`, "location.lat"},
		{"lat range", `{"account_id":"a","transaction_id":"t","location":{"lat":91,"lon":2},"amount":1,"timestamp":1}`, "location.lat"},
		{"missing lon", `{"account_id":"a","transaction_id":"t","location":{"lat":1},"amount":1,"timestamp":1}`, "location.lon"},
		{"lon range", `{"account_id":"a","transaction_id":"t","location":{"lat":1,"lon":-180.5},"amount":1,"timestamp":1}`, "location.lon"},
		{"amount nan", `{"account_id":"a","transaction_id":"t","location":{"lat":1,"lon":2},"amount":"NaN","timestamp":1}`, "amount"},
		{"missing amount", `{"account_id":"a","transaction_id":"t","location":{"lat":1,"lon":2},"timestamp":1}`, "amount"},
		{"bad timestamp", `{"account_id":"a","transaction_id":"t","location":{"lat":1,"lon":2},"amount":1,"timestamp":"yesterday"}`, "timestamp"},
	}
	n := New(ArrivalTime)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := n.Normalize([]byte(tc.raw), time.UnixMilli(1))
			if !errors.Is(err, ErrMalformedEvent) {
				t.Fatalf("want ErrMalformedEvent, got %v", err)
			}
			var me *MalformedEventError
			if !errors.As(err, &me) {
				t.Fatalf("want *MalformedEventError, got %T", err)
			}
			if me.Field != tc.field {
				t.Fatalf("field=%q want=%q", me.Field, tc.field)
			}
		})
	}
}

func TestParseTimePolicy(t *testing.T) {
	if p, err := ParseTimePolicy("Arrival"); err != nil || p != ArrivalTime {
		t.Fatalf("got %v %v", p, err)
	}
	if p, err := ParseTimePolicy(""); err != nil || p != PayloadTime {
		t.Fatalf("got %v %v", p, err)
	}
	if _, err := ParseTimePolicy("wallclock"); err == nil {
		t.Fatal("want error")
	}
}
