package pipeline

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rigscout/internal/listing"
	"rigscout/internal/risk"
	"rigscout/internal/specs"
	"rigscout/internal/valuation"
)

// Candidate is a scanned listing enriched with valuation and risk, before it
// becomes a tracked Deal.
type Candidate struct {
	Listing        listing.Draft          `json:"listing"`
	Specs          specs.ComponentSet     `json:"specs"`
	FMV            valuation.FMVResult    `json:"fmv"`
	Risk           risk.Assessment        `json:"risk"`
	Anchors        valuation.OfferAnchors `json:"anchors"`
	ScannedAt      time.Time              `json:"scanned_at"`
	ExpectedProfit decimal.Decimal        `json:"expected_profit"`
}

// NewCandidate assembles a candidate and derives its expected profit.
func NewCandidate(d listing.Draft, cs specs.ComponentSet, fmv valuation.FMVResult, ra risk.Assessment, anchors valuation.OfferAnchors, scannedAt time.Time) Candidate {
	return Candidate{
		Listing:        d,
		Specs:          cs,
		FMV:            fmv,
		Risk:           ra,
		Anchors:        anchors,
		ScannedAt:      scannedAt,
		ExpectedProfit: ExpectedProfit(fmv, d.Price),
	}
}

// ExpectedProfit is FMV minus asking price. It is zero for an unknown valuation.
func ExpectedProfit(fmv valuation.FMVResult, asking decimal.Decimal) decimal.Decimal {
	if fmv.Unknown {
		return decimal.Zero
	}
	return fmv.Total.Sub(asking)
}

// Summary renders the candidate for text notifications.
func (c Candidate) Summary() string {
	return fmt.Sprintf("%s\nAsking: $%s  FMV: $%s (conf %.2f)\nProfit: $%s  Risk: %d (%s)\nOffers: open $%s / target $%s / walk $%s\n%s",
		c.Listing.Title,
		c.Listing.Price.StringFixed(0), c.FMV.Total.StringFixed(0), c.FMV.Confidence,
		c.ExpectedProfit.StringFixed(0), c.Risk.Score, c.Risk.Recommendation,
		c.Anchors.Open.StringFixed(0), c.Anchors.Target.StringFixed(0), c.Anchors.Walkaway.StringFixed(0),
		c.Listing.URL)
}

// Snapshot is the valuation recorded on a deal.
type Snapshot struct {
	Specs          specs.ComponentSet     `json:"specs"`
	FMV            valuation.FMVResult    `json:"fmv"`
	Risk           risk.Assessment        `json:"risk"`
	Anchors        valuation.OfferAnchors `json:"anchors"`
	ExpectedProfit decimal.Decimal        `json:"expected_profit"`
	AppraisedAt    time.Time              `json:"appraised_at"`
}

func snapshotOf(c Candidate) Snapshot {
	return Snapshot{
		Specs:          c.Specs,
		FMV:            c.FMV,
		Risk:           c.Risk,
		Anchors:        c.Anchors,
		ExpectedProfit: c.ExpectedProfit,
		AppraisedAt:    c.ScannedAt,
	}
}

// Note is a free-text annotation.
type Note struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is a follow-up item on a deal.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Due         *time.Time `json:"due,omitempty"`
	Done        bool       `json:"done"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Metrics are derived counters kept on each deal.
type Metrics struct {
	DaysInPipeline int `json:"days_in_pipeline"`
	Touchpoints    int `json:"touchpoints"`
	Sightings      int `json:"sightings"`
}

// Deal tracks one listing through the lifecycle.
type Deal struct {
	ID         string        `json:"id"`
	ListingKey string        `json:"listing_key"`
	Listing    listing.Draft `json:"listing"`
	Stage      Stage         `json:"stage"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	LastSeenAt time.Time     `json:"last_seen_at"`
	Notes      []Note        `json:"notes"`
	Tasks      []Task        `json:"tasks"`
	Metrics    Metrics       `json:"metrics"`
	Valuation  Snapshot      `json:"valuation"`
}

// Clone returns a copy that shares no slices with d.
func (d Deal) Clone() Deal {
	out := d
	out.Notes = append([]Note(nil), d.Notes...)
	out.Tasks = append([]Task(nil), d.Tasks...)
	out.Listing.Images = append([]string(nil), d.Listing.Images...)
	out.Valuation.Risk.Flags = append([]risk.Flag(nil), d.Valuation.Risk.Flags...)
	return out
}

// OpenTasks counts tasks not yet completed.
func (d Deal) OpenTasks() int {
	n := 0
	for _, t := range d.Tasks {
		if !t.Done {
			n++
		}
	}
	return n
}

// daysAt is the whole days elapsed since creation, never below the stored value.
func (d Deal) daysAt(now time.Time) int {
	days := d.Metrics.DaysInPipeline
	if d.Stage.Terminal() {
		return days
	}
	if elapsed := int(now.Sub(d.CreatedAt) / (24 * time.Hour)); elapsed > days {
		return elapsed
	}
	return days
}

// StageChange is the payload of a DealStageChanged event.
type StageChange struct {
	DealID     string    `json:"deal_id"`
	ListingKey string    `json:"listing_key"`
	Title      string    `json:"title"`
	From       Stage     `json:"from"`
	To         Stage     `json:"to"`
	At         time.Time `json:"at"`
}

// Summary renders the change for text notifications.
func (c StageChange) Summary() string {
	return fmt.Sprintf("%s\n%s → %s", c.Title, c.From, c.To)
}
