package valuation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// OfferAnchors are the negotiation price points derived from an FMV.
type OfferAnchors struct {
	Open     decimal.Decimal `json:"open"`
	Target   decimal.Decimal `json:"target"`
	Walkaway decimal.Decimal `json:"walkaway"`
}

// AnchorOptions hold the discount fractions below FMV and how risk widens them.
type AnchorOptions struct {
	OpenDiscount     decimal.Decimal
	TargetDiscount   decimal.Decimal
	WalkawayDiscount decimal.Decimal
	StepPerRiskPoint decimal.Decimal
	RiskPivot        int
	MaxDiscount      decimal.Decimal
	Increment        decimal.Decimal
}

// DefaultAnchorOptions returns 25/15/5 percent below FMV, two points per risk
// point above 5, rounded to $10.
func DefaultAnchorOptions() AnchorOptions {
	return AnchorOptions{
		OpenDiscount:     decimal.RequireFromString("0.25"),
		TargetDiscount:   decimal.RequireFromString("0.15"),
		WalkawayDiscount: decimal.RequireFromString("0.05"),
		StepPerRiskPoint: decimal.RequireFromString("0.02"),
		RiskPivot:        5,
		MaxDiscount:      decimal.RequireFromString("0.9"),
		Increment:        decimal.NewFromInt(10),
	}
}

// Validate checks the discounts keep open below target below walkaway.
func (o AnchorOptions) Validate() error {
	if !o.WalkawayDiscount.IsPositive() {
		return errors.New("anchors: walkaway discount must be positive")
	}
	if !o.TargetDiscount.GreaterThan(o.WalkawayDiscount) {
		return errors.New("anchors: target discount must exceed walkaway discount")
	}
	if !o.OpenDiscount.GreaterThan(o.TargetDiscount) {
		return errors.New("anchors: open discount must exceed target discount")
	}
	if o.MaxDiscount.LessThan(o.OpenDiscount) || o.MaxDiscount.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("anchors: max discount must be in [%s, 1)", o.OpenDiscount)
	}
	if o.StepPerRiskPoint.IsNegative() {
		return errors.New("anchors: risk step cannot be negative")
	}
	if !o.Increment.IsPositive() {
		return errors.New("anchors: rounding increment must be positive")
	}
	return nil
}

var minIncrement = decimal.RequireFromString("0.01")

// ComputeAnchors derives open/target/walkaway offers from fmv and a risk score.
// For any positive FMV the result satisfies open < target < walkaway < FMV.
func ComputeAnchors(fmv FMVResult, riskScore int, opts AnchorOptions) OfferAnchors {
	total := fmv.Total
	if !total.IsPositive() {
		return OfferAnchors{}
	}

	if riskScore < 0 {
		riskScore = 0
	}
	if riskScore > 10 {
		riskScore = 10
	}

	extra := decimal.Zero
	if over := riskScore - opts.RiskPivot; over > 0 {
		extra = opts.StepPerRiskPoint.Mul(decimal.NewFromInt(int64(over)))
	}
	if room := opts.MaxDiscount.Sub(opts.OpenDiscount); extra.GreaterThan(room) {
		extra = room
	}

	one := decimal.NewFromInt(1)
	exact := OfferAnchors{
		Open:     total.Mul(one.Sub(opts.OpenDiscount.Add(extra))),
		Target:   total.Mul(one.Sub(opts.TargetDiscount.Add(extra))),
		Walkaway: total.Mul(one.Sub(opts.WalkawayDiscount.Add(extra))),
	}

	// coarse increments can collapse neighbouring anchors on small totals
	for inc := opts.Increment; inc.GreaterThanOrEqual(minIncrement); inc = inc.Div(decimal.NewFromInt(10)) {
		rounded := OfferAnchors{
			Open:     roundTo(exact.Open, inc),
			Target:   roundTo(exact.Target, inc),
			Walkaway: roundTo(exact.Walkaway, inc),
		}
		if rounded.ordered(total) {
			return rounded
		}
	}
	return exact
}

func roundTo(v, inc decimal.Decimal) decimal.Decimal {
	return v.Div(inc).Round(0).Mul(inc)
}

func (a OfferAnchors) ordered(total decimal.Decimal) bool {
	return a.Open.IsPositive() &&
		a.Open.LessThan(a.Target) &&
		a.Target.LessThan(a.Walkaway) &&
		a.Walkaway.LessThan(total)
}

// Anchors binds validated options for repeated use.
type Anchors struct {
	opts AnchorOptions
}

// NewAnchors validates opts.
func NewAnchors(opts AnchorOptions) (*Anchors, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Anchors{opts: opts}, nil
}

// Compute applies ComputeAnchors with the bound options.
func (a *Anchors) Compute(fmv FMVResult, riskScore int) OfferAnchors {
	return ComputeAnchors(fmv, riskScore, a.opts)
}
