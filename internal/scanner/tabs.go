package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/gocolly/colly/v2"
)

// Handle is an isolated browsing context opened on a search page.
type Handle interface {
	URL() string
	Content(ctx context.Context) (string, error)
}

// TabProvisioner opens and releases browsing contexts. Close must be safe to
// call more than once on the same handle.
type TabProvisioner interface {
	Open(ctx context.Context, url string) (Handle, error)
	Close(h Handle) error
}

// BrowserOptions configure the headless Chrome allocator.
type BrowserOptions struct {
	Headless    bool
	ExecPath    string
	UserAgent   string
	SettleDelay time.Duration
}

// BrowserProvisioner opens one chromedp tab per handle on a shared allocator.
type BrowserProvisioner struct {
	opts        BrowserOptions
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
}

// NewBrowserProvisioner starts the Chrome allocator. Call Shutdown when done.
func NewBrowserProvisioner(opts BrowserOptions) *BrowserProvisioner {
	flags := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.UserAgent != "" {
		flags = append(flags, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		flags = append(flags, chromedp.ExecPath(opts.ExecPath))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), flags...)
	return &BrowserProvisioner{opts: opts, allocCtx: allocCtx, cancelAlloc: cancel}
}

// Shutdown stops the browser process.
func (p *BrowserProvisioner) Shutdown() {
	p.cancelAlloc()
}

type browserTab struct {
	url    string
	ctx    context.Context
	once   sync.Once
	cancel context.CancelFunc
	stop   func() bool
}

func (t *browserTab) URL() string { return t.url }

func (t *browserTab) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var html string
	if err := chromedp.Run(t.ctx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

func (t *browserTab) release() {
	t.once.Do(func() {
		t.stop()
		t.cancel()
	})
}

// Open creates a tab and navigates to url. The tab is torn down if ctx ends.
func (p *BrowserProvisioner) Open(ctx context.Context, url string) (Handle, error) {
	tabCtx, cancel := chromedp.NewContext(p.allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	tab := &browserTab{url: url, ctx: tabCtx, cancel: cancel}
	tab.stop = context.AfterFunc(ctx, cancel)

	actions := []chromedp.Action{chromedp.Navigate(url)}
	if p.opts.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(p.opts.SettleDelay))
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		tab.release()
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	return tab, nil
}

// Close releases the tab. Repeated calls are no-ops.
func (p *BrowserProvisioner) Close(h Handle) error {
	tab, ok := h.(*browserTab)
	if !ok {
		return fmt.Errorf("browser provisioner cannot close %T", h)
	}
	tab.release()
	return nil
}

// HTTPOptions configure the static page fetcher.
type HTTPOptions struct {
	UserAgent      string
	RequestTimeout time.Duration
	MaxBodySize    int
}

// HTTPProvisioner fetches pages without a browser. Suitable for marketplaces that
// render listing cards server side.
type HTTPProvisioner struct {
	opts HTTPOptions
}

// NewHTTPProvisioner builds an HTTPProvisioner.
func NewHTTPProvisioner(opts HTTPOptions) *HTTPProvisioner {
	return &HTTPProvisioner{opts: opts}
}

type staticPage struct {
	url    string
	mu     sync.Mutex
	body   string
	closed bool
}

func (p *staticPage) URL() string { return p.url }

func (p *staticPage) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", errors.New("page already closed")
	}
	return p.body, nil
}

func (p *HTTPProvisioner) collector(ctx context.Context) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
	}
	if p.opts.UserAgent != "" {
		opts = append(opts, colly.UserAgent(p.opts.UserAgent))
	}
	if p.opts.MaxBodySize > 0 {
		opts = append(opts, colly.MaxBodySize(p.opts.MaxBodySize))
	}
	c := colly.NewCollector(opts...)
	if p.opts.RequestTimeout > 0 {
		c.SetRequestTimeout(p.opts.RequestTimeout)
	}
	return c
}

// Open fetches url synchronously.
func (p *HTTPProvisioner) Open(ctx context.Context, url string) (Handle, error) {
	c := p.collector(ctx)

	page := &staticPage{url: url}
	var fetchErr error
	c.OnResponse(func(r *colly.Response) {
		page.body = string(r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("fetch %s: status %d: %w", url, r.StatusCode, err)
	})

	if err := c.Visit(url); err != nil {
		return nil, fmt.Errorf("visit %s: %w", url, err)
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	return page, nil
}

// Close drops the page body.
func (p *HTTPProvisioner) Close(h Handle) error {
	page, ok := h.(*staticPage)
	if !ok {
		return fmt.Errorf("http provisioner cannot close %T", h)
	}
	page.mu.Lock()
	page.closed = true
	page.body = ""
	page.mu.Unlock()
	return nil
}

var (
	_ TabProvisioner = (*BrowserProvisioner)(nil)
	_ TabProvisioner = (*HTTPProvisioner)(nil)
)
