package listing

import (
	"testing"
	"time"
)

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform(" Craigslist ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != PlatformCraigslist {
		t.Fatalf("got %s", p)
	}
	if _, err := ParsePlatform("ebay"); err == nil {
		t.Fatal("ebay should be rejected")
	}
}

func TestSearchTargetDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Minute)
	old := now.Add(-2 * time.Hour)

	tests := []struct {
		name   string
		target SearchTarget
		want   bool
	}{
		{"manual never due", SearchTarget{Enabled: true}, false},
		{"disabled never due", SearchTarget{Cadence: time.Hour}, false},
		{"never ran", SearchTarget{Enabled: true, Cadence: time.Hour}, true},
		{"ran recently", SearchTarget{Enabled: true, Cadence: time.Hour, LastRunAt: &recent}, false},
		{"ran long ago", SearchTarget{Enabled: true, Cadence: time.Hour, LastRunAt: &old}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.target.Due(now); got != tt.want {
				t.Errorf("Due() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDraftKey(t *testing.T) {
	d := Draft{Platform: PlatformOfferUp, ExternalID: "abc"}
	if d.Key() != "offerup:abc" {
		t.Fatalf("unexpected key %s", d.Key())
	}
}
