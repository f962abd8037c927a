package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/model"
)

func TestDescribe(t *testing.T) {
	c := model.FraudCandidate{
		CandidateID:         model.CandidateID("04", "X05"),
		AccountID:           "ac_03",
		FirstTransactionID:  "04",
		SecondTransactionID: "X05",
		FirstEventTime:      1531476000000,
		SecondEventTime:     1531476358000,
		DistanceKm:          453.878,
		TimeDeltaMs:         358000,
		ImpliedSpeedKmh:     4564.1,
		AccountContact:      &model.AccountContact{Name: "Ada"},
	}
	b, _ := json.Marshal(c)
	got := describe(b)
	for _, want := range []string{"account=ac_03", "04@2018-07-13T10:00:00Z", "X05@2018-07-13T10:05:58Z", "453.9km", "5m58s", "4564 km/h", `contact="Ada"`} {
		if !strings.Contains(got, want) {
			t.Errorf("%q missing %q", got, want)
		}
	}
	if !strings.HasPrefix(describe([]byte("{")), "undecodable") {
		t.Fatal("bad json not reported")
	}
}
