package valuation

import (
	"testing"

	"github.com/shopspring/decimal"
)

func fmvOf(total string) FMVResult {
	return FMVResult{Total: decimal.RequireFromString(total), Confidence: 1}
}

func TestAnchorsBaseFractions(t *testing.T) {
	a := ComputeAnchors(fmvOf("1000"), 2, DefaultAnchorOptions())
	if !a.Open.Equal(decimal.NewFromInt(750)) || !a.Target.Equal(decimal.NewFromInt(850)) || !a.Walkaway.Equal(decimal.NewFromInt(950)) {
		t.Fatalf("unexpected anchors %s/%s/%s", a.Open, a.Target, a.Walkaway)
	}
}

func TestAnchorsHighRiskScenario(t *testing.T) {
	a := ComputeAnchors(fmvOf("1000"), 8, DefaultAnchorOptions())

	if a.Open.GreaterThan(decimal.NewFromInt(690)) {
		t.Errorf("open %s above 690", a.Open)
	}
	if a.Target.GreaterThan(decimal.NewFromInt(790)) {
		t.Errorf("target %s above 790", a.Target)
	}
	if a.Walkaway.GreaterThan(decimal.NewFromInt(890)) {
		t.Errorf("walkaway %s above 890", a.Walkaway)
	}
	if !(a.Open.LessThan(a.Target) && a.Target.LessThan(a.Walkaway)) {
		t.Errorf("ordering broken: %s/%s/%s", a.Open, a.Target, a.Walkaway)
	}
}

func TestAnchorsRoundToIncrement(t *testing.T) {
	a := ComputeAnchors(fmvOf("1234"), 0, DefaultAnchorOptions())
	ten := decimal.NewFromInt(10)
	for _, v := range []decimal.Decimal{a.Open, a.Target, a.Walkaway} {
		if !v.Mod(ten).IsZero() {
			t.Errorf("%s is not a multiple of 10", v)
		}
	}
}

func TestAnchorsStrictOrderingForAllScores(t *testing.T) {
	opts := DefaultAnchorOptions()
	totals := []string{"0.05", "1", "12", "37.5", "99", "450", "1000", "2599.99"}
	for _, total := range totals {
		for score := 0; score <= 10; score++ {
			fmv := fmvOf(total)
			a := ComputeAnchors(fmv, score, opts)
			if !(a.Open.LessThan(a.Target) && a.Target.LessThan(a.Walkaway) && a.Walkaway.LessThan(fmv.Total)) {
				t.Errorf("total %s score %d: %s/%s/%s not strictly ordered", total, score, a.Open, a.Target, a.Walkaway)
			}
		}
	}
}

func TestAnchorsZeroFMV(t *testing.T) {
	a := ComputeAnchors(fmvOf("0"), 5, DefaultAnchorOptions())
	if !a.Open.IsZero() || !a.Target.IsZero() || !a.Walkaway.IsZero() {
		t.Fatalf("expected zero anchors, got %+v", a)
	}
}

func TestAnchorOptionsValidate(t *testing.T) {
	opts := DefaultAnchorOptions()
	opts.TargetDiscount = opts.OpenDiscount
	if _, err := NewAnchors(opts); err == nil {
		t.Fatal("target equal to open should be rejected")
	}

	opts = DefaultAnchorOptions()
	opts.Increment = decimal.Zero
	if _, err := NewAnchors(opts); err == nil {
		t.Fatal("zero increment should be rejected")
	}

	if _, err := NewAnchors(DefaultAnchorOptions()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
