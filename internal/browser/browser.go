package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/maltedev/grid-scraper/internal/models"
	"github.com/playwright-community/playwright-go"
)

// DefaultMaxLinks is how many candidate links are taken from a listing page.
const DefaultMaxLinks = 5

// Consent buttons tried in order after a listing page loads.
var consentSelectors = []string{
	`input[name="accept"]`,
	`button:has-text("Accept")`,
}

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	timeout time.Duration
	settle  time.Duration
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        60 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "en-US",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
		},
	}
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}
	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: opts.ProxyServer}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		timeout: opts.Timeout,
		settle:  2 * time.Second,
		logger:  logger.With("component", "browser"),
	}, nil
}

func (b *Browser) newPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(b.timeout.Milliseconds()))
	return page, nil
}

// FetchHTML renders pageURL and returns the resulting document markup.
func (b *Browser) FetchHTML(ctx context.Context, pageURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	page, err := b.newPage()
	if err != nil {
		return "", err
	}
	defer page.Close()

	if _, err := page.Goto(pageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(b.timeout.Milliseconds())),
	}); err != nil {
		return "", fmt.Errorf("failed to navigate to %s: %w", pageURL, err)
	}

	content, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return content, nil
}

// DiscoverLinks loads a listing page and returns up to max absolute product
// links matched by the source's link selector.
func (b *Browser) DiscoverLinks(ctx context.Context, source models.SeedSource, max int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := b.newPage()
	if err != nil {
		return nil, err
	}
	defer page.Close()

	if _, err := page.Goto(source.URL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(b.timeout.Milliseconds())),
	}); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", source.URL, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(b.settle):
	}

	b.dismissConsent(page)

	anchors := page.Locator(source.LinkSelector)
	count, err := anchors.Count()
	if err != nil {
		return nil, fmt.Errorf("failed to query links on %s: %w", source.URL, err)
	}

	hrefs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		href, err := anchors.Nth(i).GetAttribute("href")
		if err != nil || href == "" {
			continue
		}
		hrefs = append(hrefs, href)
	}

	links := ResolveLinks(source.URL, hrefs, max)
	b.logger.Info("discovered links",
		"source", source.Name,
		"candidates", len(hrefs),
		"links", len(links))

	return links, nil
}

// dismissConsent clicks the first visible cookie consent control, if any.
func (b *Browser) dismissConsent(page playwright.Page) {
	for _, selector := range consentSelectors {
		button := page.Locator(selector).First()
		count, err := button.Count()
		if err != nil || count == 0 {
			continue
		}
		if err := button.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(3000)}); err != nil {
			b.logger.Debug("consent click failed", "selector", selector, "error", err)
			continue
		}
		b.logger.Debug("dismissed consent", "selector", selector)
		return
	}
}

// ResolveLinks turns raw hrefs from base into absolute http(s) URLs. Only the
// first max hrefs are considered; duplicates are removed keeping order.
func ResolveLinks(base string, hrefs []string, max int) []string {
	if max <= 0 {
		max = DefaultMaxLinks
	}
	if len(hrefs) > max {
		hrefs = hrefs[:max]
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}

	links := make([]string, 0, len(hrefs))
	seen := make(map[string]struct{}, len(hrefs))
	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if href == "" {
			continue
		}
		if strings.HasPrefix(href, "//") {
			href = "https:" + href
		}

		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := baseURL.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			continue
		}

		link := abs.String()
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		links = append(links, link)
	}
	return links
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}
