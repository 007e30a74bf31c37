package scanner

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"rigscout/internal/listing"
)

// PageExtractor turns an open page into listing drafts. It may be slow or hang;
// the scanner enforces the timeout.
type PageExtractor interface {
	Extract(ctx context.Context, platform listing.Platform, h Handle) ([]listing.Draft, error)
}

// Selectors locate listing cards on a search results page. An empty Link means
// the card element itself carries the href.
type Selectors struct {
	Card        string
	Link        string
	Title       string
	Price       string
	Location    string
	Description string
	Image       string
	Seller      string
	ID          *regexp.Regexp
}

// DefaultSelectors returns the search-card layouts known per marketplace.
func DefaultSelectors() map[listing.Platform]Selectors {
	return map[listing.Platform]Selectors{
		listing.PlatformCraigslist: {
			Card:     "li.cl-static-search-result, li.cl-search-result, li.result-row",
			Link:     "a",
			Title:    ".title, .titlestring, .result-title",
			Price:    ".price, .priceinfo, .result-price",
			Location: ".location, .result-hood",
			Image:    "img",
			ID:       regexp.MustCompile(`/(\d{6,})\.html`),
		},
		listing.PlatformFacebook: {
			Card:     `a[href*="/marketplace/item/"]`,
			Title:    `span[style*="line-clamp"], span[dir="auto"]`,
			Price:    `span[dir="auto"]`,
			Location: `span[class*="location"]`,
			Image:    "img",
			ID:       regexp.MustCompile(`/marketplace/item/(\d+)`),
		},
		listing.PlatformOfferUp: {
			Card:     `a[href*="/item/detail/"]`,
			Title:    `[data-testid="item-title"], span[class*="Title"]`,
			Price:    `[data-testid="item-price"], span[class*="Price"]`,
			Location: `[data-testid="item-location"]`,
			Image:    "img",
			ID:       regexp.MustCompile(`/item/detail/([\w-]+)`),
		},
	}
}

// CardExtractor parses search result cards with goquery.
type CardExtractor struct {
	selectors map[listing.Platform]Selectors
	limit     int
}

// NewCardExtractor builds an extractor. overrides replace the default layout of a
// platform; limit caps drafts per page (0 = unlimited).
func NewCardExtractor(overrides map[listing.Platform]Selectors, limit int) *CardExtractor {
	sel := DefaultSelectors()
	for p, s := range overrides {
		sel[p] = s
	}
	return &CardExtractor{selectors: sel, limit: limit}
}

// Extract reads the handle's HTML and returns drafts in page order.
func (e *CardExtractor) Extract(ctx context.Context, platform listing.Platform, h Handle) ([]listing.Draft, error) {
	sel, ok := e.selectors[platform]
	if !ok {
		return nil, fmt.Errorf("no selectors for platform %s", platform)
	}
	html, err := h.Content(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, _ := url.Parse(h.URL())

	drafts := make([]listing.Draft, 0)
	seen := make(map[string]struct{})
	doc.Find(sel.Card).EachWithBreak(func(_ int, card *goquery.Selection) bool {
		if e.limit > 0 && len(drafts) >= e.limit {
			return false
		}
		d, ok := parseCard(card, sel, platform, base)
		if !ok {
			return true
		}
		if _, dup := seen[d.ExternalID]; dup {
			return true
		}
		seen[d.ExternalID] = struct{}{}
		drafts = append(drafts, d)
		return true
	})
	return drafts, ctx.Err()
}

func parseCard(card *goquery.Selection, sel Selectors, platform listing.Platform, base *url.URL) (listing.Draft, bool) {
	link := card
	if sel.Link != "" {
		link = card.Find(sel.Link).First()
	}
	href, ok := link.Attr("href")
	if !ok || href == "" {
		return listing.Draft{}, false
	}
	abs := resolve(base, href)

	var id string
	if sel.ID != nil {
		if m := sel.ID.FindStringSubmatch(abs); len(m) > 1 {
			id = m[1]
		}
	}
	if id == "" {
		return listing.Draft{}, false
	}

	title := firstText(card, sel.Title)
	if title == "" {
		title, _ = card.Find("img").First().Attr("alt")
	}
	price, _ := ParsePrice(pickPriceText(card, sel.Price))

	d := listing.Draft{
		ExternalID:  id,
		Platform:    platform,
		URL:         abs,
		Title:       strings.TrimSpace(title),
		Price:       price,
		Description: firstText(card, sel.Description),
		Location:    firstText(card, sel.Location),
		SellerRef:   firstText(card, sel.Seller),
	}
	if sel.Image != "" {
		card.Find(sel.Image).Each(func(_ int, img *goquery.Selection) {
			src, ok := img.Attr("src")
			if !ok || src == "" || strings.HasPrefix(src, "data:") {
				src, ok = img.Attr("data-src")
			}
			if ok && src != "" && !strings.HasPrefix(src, "data:") {
				d.Images = append(d.Images, resolve(base, src))
			}
		})
	}
	return d, true
}

func firstText(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(s.Find(selector).First().Text())
}

// pickPriceText returns the first match of selector that looks like a price.
func pickPriceText(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	var out string
	s.Find(selector).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		text := strings.TrimSpace(el.Text())
		if priceRe.MatchString(text) || strings.EqualFold(text, "free") {
			out = text
			return false
		}
		return true
	})
	return out
}

func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

var priceRe = regexp.MustCompile(`\$\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)

// ParsePrice reads the first dollar amount in raw. "Free" parses as zero.
func ParsePrice(raw string) (decimal.Decimal, bool) {
	if strings.EqualFold(strings.TrimSpace(raw), "free") {
		return decimal.Zero, true
	}
	m := priceRe.FindStringSubmatch(raw)
	if len(m) < 2 {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

var _ PageExtractor = (*CardExtractor)(nil)
