package risk

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rigscout/internal/listing"
	"rigscout/internal/valuation"
)

func mustScorer(t *testing.T, cfg Config) *Scorer {
	t.Helper()
	s, err := NewScorer(cfg)
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	return s
}

func cleanDraft() listing.Draft {
	return listing.Draft{
		ExternalID:  "123",
		Platform:    listing.PlatformCraigslist,
		Title:       "Gaming PC RTX 3070 i7-10700K 32GB",
		Price:       decimal.NewFromInt(700),
		Description: "Built two years ago, used lightly for games. Local pickup, cash on pickup, can demo it running.",
		Images:      []string{"https://images.craigslist.org/abc_600x450.jpg"},
		SellerRef:   "seller-42",
	}
}

func fmv(total int64) valuation.FMVResult {
	return valuation.FMVResult{Total: decimal.NewFromInt(total), Confidence: 0.9}
}

func hasRule(a Assessment, name string) bool {
	for _, f := range a.Flags {
		if f.Rule == name {
			return true
		}
	}
	return false
}

func TestAssessCleanListingIsSafe(t *testing.T) {
	s := mustScorer(t, DefaultConfig())
	a := s.Assess(Input{Draft: cleanDraft(), FMV: fmv(800)})
	if a.Score != 0 || len(a.Flags) != 0 {
		t.Fatalf("expected no flags, got %d: %+v", a.Score, a.Flags)
	}
	if a.Recommendation != Safe {
		t.Fatalf("expected safe, got %s", a.Recommendation)
	}
}

func TestAssessScamScenario(t *testing.T) {
	s := mustScorer(t, DefaultConfig())
	d := cleanDraft()
	d.Price = decimal.NewFromInt(250)
	d.Description = "Zelle only, no photos sorry"
	d.Images = nil

	a := s.Assess(Input{
		Draft:  d,
		FMV:    fmv(800),
		Seller: SellerTrust{Known: true, AccountAge: 3 * 24 * time.Hour},
	})

	for _, rule := range []string{"price_below_fmv", "new_seller_account", "scam_phrases", "missing_photos"} {
		if !hasRule(a, rule) {
			t.Errorf("expected %s flag", rule)
		}
	}
	if a.Score < 7 {
		t.Fatalf("score %d should be at least 7", a.Score)
	}
	if a.Recommendation != Avoid {
		t.Fatalf("expected avoid, got %s", a.Recommendation)
	}
}

func TestAssessScoreClamped(t *testing.T) {
	s := mustScorer(t, DefaultConfig())
	d := listing.Draft{
		Title:       "pc",
		Price:       decimal.NewFromInt(50),
		Description: "gift card, currently abroad",
	}
	a := s.Assess(Input{Draft: d, FMV: fmv(1000), Seller: SellerTrust{Known: true}})
	if a.Score != MaxScore {
		t.Fatalf("expected clamped score %d, got %d", MaxScore, a.Score)
	}
}

func TestAssessFlagOrderIsDeterministic(t *testing.T) {
	s := mustScorer(t, DefaultConfig())
	d := listing.Draft{Description: "wire transfer", Price: decimal.NewFromInt(10)}
	in := Input{Draft: d, FMV: fmv(900)}

	first := s.Assess(in)
	names := s.RuleNames()
	pos := make(map[string]int, len(names))
	for i, n := range names {
		pos[n] = i
	}
	for i := 1; i < len(first.Flags); i++ {
		if pos[first.Flags[i-1].Rule] >= pos[first.Flags[i].Rule] {
			t.Fatalf("flags out of rule order: %+v", first.Flags)
		}
	}
	for i := 0; i < 5; i++ {
		again := s.Assess(in)
		if again.Score != first.Score || len(again.Flags) != len(first.Flags) {
			t.Fatalf("assessment is not deterministic")
		}
	}
}

func TestPriceRuleSkipsUnknownFMV(t *testing.T) {
	s := mustScorer(t, DefaultConfig())
	d := cleanDraft()
	d.Price = decimal.NewFromInt(10)
	a := s.Assess(Input{Draft: d, FMV: valuation.FMVResult{Total: decimal.NewFromInt(100), Unknown: true}})
	if hasRule(a, "price_below_fmv") {
		t.Fatal("price rule must not fire against an unknown FMV")
	}
}

func TestStockPhotoHost(t *testing.T) {
	s := mustScorer(t, DefaultConfig())
	d := cleanDraft()
	d.Images = []string{"https://www.shutterstock.com/image-photo/gaming-pc.jpg"}
	a := s.Assess(Input{Draft: d, FMV: fmv(800)})
	if !hasRule(a, "stock_photos") {
		t.Fatal("expected stock_photos flag")
	}
	for _, f := range a.Flags {
		if f.Rule == "stock_photos" && !strings.Contains(f.Description, "shutterstock.com") {
			t.Fatalf("description should name the host: %s", f.Description)
		}
	}
}

func TestUnknownSellerDoesNotTripAccountAge(t *testing.T) {
	s := mustScorer(t, DefaultConfig())
	trust, err := NoTrustSignals{}.Lookup(context.Background(), listing.PlatformFacebook, "x")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	a := s.Assess(Input{Draft: cleanDraft(), FMV: fmv(800), Seller: trust})
	if hasRule(a, "new_seller_account") {
		t.Fatal("unknown seller must not be treated as a new account")
	}
}

func TestWeightOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = map[string]int{"missing_photos": 0}
	s := mustScorer(t, cfg)
	d := cleanDraft()
	d.Images = nil
	a := s.Assess(Input{Draft: d, FMV: fmv(800)})
	if !hasRule(a, "missing_photos") {
		t.Fatal("zero-weight rule should still flag")
	}
	if a.Score != 0 {
		t.Fatalf("expected score 0, got %d", a.Score)
	}
}

func TestRecommendBoundaries(t *testing.T) {
	cases := []struct {
		score int
		want  Recommendation
	}{
		{0, Safe}, {3, Safe}, {4, Caution}, {6, Caution}, {7, Avoid}, {10, Avoid},
	}
	for _, tc := range cases {
		if got := Recommend(tc.score, 3, 6); got != tc.want {
			t.Errorf("score %d: got %s want %s", tc.score, got, tc.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CautionMax = cfg.SafeMax
	if _, err := NewScorer(cfg); err == nil {
		t.Fatal("caution_max equal to safe_max should fail")
	}
	cfg = DefaultConfig()
	cfg.PriceRatioThreshold = 1.5
	if _, err := NewScorer(cfg); err == nil {
		t.Fatal("ratio above 1 should fail")
	}
}
