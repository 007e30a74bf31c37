package listing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Platform identifies a classified-ad marketplace.
type Platform string

// Supported marketplaces. The set is closed.
const (
	PlatformFacebook   Platform = "facebook"
	PlatformCraigslist Platform = "craigslist"
	PlatformOfferUp    Platform = "offerup"
)

// Platforms lists every supported marketplace in a stable order.
func Platforms() []Platform {
	return []Platform{PlatformFacebook, PlatformCraigslist, PlatformOfferUp}
}

// ParsePlatform validates a platform name.
func ParsePlatform(raw string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(raw)))
	if p.Valid() {
		return p, nil
	}
	return "", fmt.Errorf("unknown platform %q", raw)
}

// Valid reports whether p belongs to the supported set.
func (p Platform) Valid() bool {
	switch p {
	case PlatformFacebook, PlatformCraigslist, PlatformOfferUp:
		return true
	}
	return false
}

// SearchTarget is a saved marketplace search that the scanner revisits.
// Cadence zero means the target only runs on manual request.
type SearchTarget struct {
	ID           string        `json:"id"`
	Platform     Platform      `json:"platform"`
	URL          string        `json:"url"`
	Cadence      time.Duration `json:"cadence"`
	Enabled      bool          `json:"enabled"`
	LastRunAt    *time.Time    `json:"last_run_at,omitempty"`
	ResultsFound int           `json:"results_found"`
}

// Manual reports whether the target has no automatic cadence.
func (t SearchTarget) Manual() bool {
	return t.Cadence <= 0
}

// Due reports whether an enabled, scheduled target should run at now.
func (t SearchTarget) Due(now time.Time) bool {
	if !t.Enabled || t.Manual() {
		return false
	}
	if t.LastRunAt == nil {
		return true
	}
	return !now.Before(t.LastRunAt.Add(t.Cadence))
}

// Draft is a raw listing as returned by a page extractor. Drafts are never mutated
// after extraction.
type Draft struct {
	ExternalID  string          `json:"external_id"`
	Platform    Platform        `json:"platform"`
	URL         string          `json:"url"`
	Title       string          `json:"title"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	Location    string          `json:"location,omitempty"`
	Images      []string        `json:"images,omitempty"`
	PostedAt    *time.Time      `json:"posted_at,omitempty"`
	SellerRef   string          `json:"seller_ref,omitempty"`
}

// Key is the dedup key shared by the spec cache and the deal store.
func (d Draft) Key() string {
	return Key(d.Platform, d.ExternalID)
}

// Text returns the searchable body of the listing.
func (d Draft) Text() string {
	if d.Description == "" {
		return d.Title
	}
	return d.Title + "\n" + d.Description
}

// Key builds a dedup key from its parts.
func Key(p Platform, externalID string) string {
	return string(p) + ":" + externalID
}
