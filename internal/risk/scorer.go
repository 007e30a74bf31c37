package risk

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rigscout/internal/listing"
	"rigscout/internal/valuation"
)

// Severity grades a single flag.
type Severity string

// Flag severities.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Recommendation is the overall verdict derived from the score.
type Recommendation string

// Recommendations.
const (
	Safe    Recommendation = "safe"
	Caution Recommendation = "caution"
	Avoid   Recommendation = "avoid"
)

// MaxScore caps the summed rule weights.
const MaxScore = 10

// Flag records one triggered rule.
type Flag struct {
	Rule        string   `json:"rule"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Mitigation  string   `json:"mitigation,omitempty"`
}

// Assessment is the scored result for one listing.
type Assessment struct {
	Score          int            `json:"score"`
	Flags          []Flag         `json:"flags"`
	Recommendation Recommendation `json:"recommendation"`
}

// SellerTrust carries marketplace reputation signals. Known is false when the
// platform exposed nothing about the seller.
type SellerTrust struct {
	Known      bool
	AccountAge time.Duration
	Ratings    int
	Verified   bool
}

// TrustSource looks up seller reputation.
type TrustSource interface {
	Lookup(ctx context.Context, platform listing.Platform, sellerRef string) (SellerTrust, error)
}

// NoTrustSignals is the TrustSource used when no reputation data is available.
type NoTrustSignals struct{}

// Lookup always reports an unknown seller.
func (NoTrustSignals) Lookup(context.Context, listing.Platform, string) (SellerTrust, error) {
	return SellerTrust{}, nil
}

// Input is everything a rule may inspect.
type Input struct {
	Draft  listing.Draft
	FMV    valuation.FMVResult
	Seller SellerTrust
}

// Config holds thresholds and phrase lists. Weights overrides a rule's default
// weight by rule name.
type Config struct {
	SafeMax              int
	CautionMax           int
	PriceRatioThreshold  float64
	MinAccountAge        time.Duration
	MinDescriptionLength int
	ScamPhrases          []string
	CrossBorderPhrases   []string
	StockPhotoHosts      []string
	Weights              map[string]int
}

// DefaultConfig returns the stock heuristics.
func DefaultConfig() Config {
	return Config{
		SafeMax:              3,
		CautionMax:           6,
		PriceRatioThreshold:  0.5,
		MinAccountAge:        30 * 24 * time.Hour,
		MinDescriptionLength: 40,
		ScamPhrases: []string{
			"zelle only", "cash app only", "gift card", "wire transfer", "western union",
			"deposit required", "deposit to hold", "shipping only", "cashier's check",
			"text me at", "email me at",
		},
		CrossBorderPhrases: []string{
			"out of the country", "overseas", "currently abroad", "deployed",
			"international shipping", "ship from", "paypal friends",
		},
		StockPhotoHosts: []string{
			"shutterstock.com", "istockphoto.com", "gettyimages.com", "alamy.com",
			"m.media-amazon.com", "images-na.ssl-images-amazon.com", "bestbuy.com", "newegg.com",
		},
	}
}

// Validate checks the recommendation thresholds.
func (c Config) Validate() error {
	if c.SafeMax < 0 || c.CautionMax <= c.SafeMax || c.CautionMax >= MaxScore {
		return fmt.Errorf("risk thresholds must satisfy 0 <= safe_max < caution_max < %d", MaxScore)
	}
	if c.PriceRatioThreshold <= 0 || c.PriceRatioThreshold >= 1 {
		return errors.New("risk price_ratio_threshold must be in (0, 1)")
	}
	for name, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("risk weight for %s cannot be negative", name)
		}
	}
	return nil
}

type rule struct {
	name       string
	weight     int
	severity   Severity
	mitigation string
	check      func(in Input, cfg Config) (bool, string)
}

// Scorer evaluates the fixed rule list.
type Scorer struct {
	cfg   Config
	rules []rule
}

// NewScorer validates cfg and binds the rule list.
func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rules := defaultRules()
	for i := range rules {
		if w, ok := cfg.Weights[rules[i].name]; ok {
			rules[i].weight = w
		}
	}
	return &Scorer{cfg: cfg, rules: rules}, nil
}

// RuleNames lists the rules in evaluation order.
func (s *Scorer) RuleNames() []string {
	names := make([]string, 0, len(s.rules))
	for _, r := range s.rules {
		names = append(names, r.name)
	}
	return names
}

// Assess scores in. Flags come back in rule order.
func (s *Scorer) Assess(in Input) Assessment {
	score := 0
	flags := make([]Flag, 0)
	for _, r := range s.rules {
		hit, desc := r.check(in, s.cfg)
		if !hit {
			continue
		}
		score += r.weight
		flags = append(flags, Flag{
			Rule:        r.name,
			Severity:    r.severity,
			Description: desc,
			Mitigation:  r.mitigation,
		})
	}
	if score > MaxScore {
		score = MaxScore
	}
	if score < 0 {
		score = 0
	}
	return Assessment{
		Score:          score,
		Flags:          flags,
		Recommendation: Recommend(score, s.cfg.SafeMax, s.cfg.CautionMax),
	}
}

// Recommend maps a score onto safe / caution / avoid.
func Recommend(score, safeMax, cautionMax int) Recommendation {
	switch {
	case score <= safeMax:
		return Safe
	case score <= cautionMax:
		return Caution
	default:
		return Avoid
	}
}

func defaultRules() []rule {
	return []rule{
		{
			name:       "price_below_fmv",
			weight:     3,
			severity:   SeverityHigh,
			mitigation: "Inspect and benchmark the machine in person before paying.",
			check:      priceBelowFMV,
		},
		{
			name:       "new_seller_account",
			weight:     2,
			severity:   SeverityMedium,
			mitigation: "Ask for proof of ownership such as receipts or serial photos.",
			check: func(in Input, cfg Config) (bool, string) {
				if !in.Seller.Known || in.Seller.AccountAge >= cfg.MinAccountAge {
					return false, ""
				}
				days := int(in.Seller.AccountAge.Hours() / 24)
				return true, fmt.Sprintf("seller account is %d days old", days)
			},
		},
		{
			name:       "scam_phrases",
			weight:     3,
			severity:   SeverityHigh,
			mitigation: "Only pay in person with cash or a reversible method after testing.",
			check: func(in Input, cfg Config) (bool, string) {
				return phraseHit(in.Draft.Text(), cfg.ScamPhrases, "listing mentions")
			},
		},
		{
			name:       "missing_photos",
			weight:     2,
			severity:   SeverityMedium,
			mitigation: "Request photos of the running machine with today's date.",
			check: func(in Input, _ Config) (bool, string) {
				if len(in.Draft.Images) > 0 {
					return false, ""
				}
				return true, "listing has no photos"
			},
		},
		{
			name:       "stock_photos",
			weight:     2,
			severity:   SeverityMedium,
			mitigation: "Request photos of the running machine with today's date.",
			check:      stockPhotos,
		},
		{
			name:       "cross_border_payment",
			weight:     3,
			severity:   SeverityHigh,
			mitigation: "Decline remote or international payment arrangements.",
			check: func(in Input, cfg Config) (bool, string) {
				return phraseHit(in.Draft.Text(), cfg.CrossBorderPhrases, "seller mentions")
			},
		},
		{
			name:     "anonymous_seller",
			weight:   1,
			severity: SeverityLow,
			check: func(in Input, _ Config) (bool, string) {
				if strings.TrimSpace(in.Draft.SellerRef) != "" {
					return false, ""
				}
				return true, "seller profile is not visible"
			},
		},
		{
			name:       "thin_description",
			weight:     1,
			severity:   SeverityLow,
			mitigation: "Ask for the full parts list before travelling.",
			check: func(in Input, cfg Config) (bool, string) {
				n := len(strings.TrimSpace(in.Draft.Description))
				if n >= cfg.MinDescriptionLength {
					return false, ""
				}
				return true, fmt.Sprintf("description is only %d characters", n)
			},
		},
	}
}

func priceBelowFMV(in Input, cfg Config) (bool, string) {
	if in.FMV.Unknown || !in.FMV.Total.IsPositive() || !in.Draft.Price.IsPositive() {
		return false, ""
	}
	limit := in.FMV.Total.Mul(decimal.NewFromFloat(cfg.PriceRatioThreshold))
	if !in.Draft.Price.LessThan(limit) {
		return false, ""
	}
	pct := in.Draft.Price.Div(in.FMV.Total).Mul(decimal.NewFromInt(100)).Round(0)
	return true, fmt.Sprintf("asking %s is %s%% of estimated value %s",
		in.Draft.Price.StringFixed(2), pct.String(), in.FMV.Total.StringFixed(2))
}

func stockPhotos(in Input, cfg Config) (bool, string) {
	for _, img := range in.Draft.Images {
		u, err := url.Parse(img)
		if err != nil {
			continue
		}
		host := strings.ToLower(u.Hostname())
		for _, stock := range cfg.StockPhotoHosts {
			if host == stock || strings.HasSuffix(host, "."+stock) {
				return true, "photo hosted on " + host
			}
		}
	}
	return false, ""
}

func phraseHit(text string, phrases []string, lead string) (bool, string) {
	lower := strings.ToLower(text)
	var hits []string
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			hits = append(hits, fmt.Sprintf("%q", p))
		}
	}
	if len(hits) == 0 {
		return false, ""
	}
	return true, lead + " " + strings.Join(hits, ", ")
}
