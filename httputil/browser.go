package httputil

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// BrowserFetcher renders pages in headless Chromium for providers whose listings are
// built client-side. The browser is started on first use and reused afterwards.
type BrowserFetcher struct {
	timeout time.Duration

	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser
	context     playwright.BrowserContext
	initialized bool
}

func NewBrowserFetcher(timeout time.Duration) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &BrowserFetcher{timeout: timeout}
}

func (b *BrowserFetcher) ensureBrowser() error {
	if b.initialized {
		return nil
	}

	var err error
	b.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	b.browser, err = b.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		b.pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	b.context, err = b.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(UserAgent),
		Locale:    playwright.String("de-DE"),
	})
	if err != nil {
		b.browser.Close()
		b.pw.Stop()
		return fmt.Errorf("failed to create browser context: %w", err)
	}

	b.initialized = true
	return nil
}

func (b *BrowserFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, bool) {
	if ctx.Err() != nil {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureBrowser(); err != nil {
		log.Printf("browser fetch %s: %v", rawURL, err)
		return nil, false
	}

	page, err := b.context.NewPage()
	if err != nil {
		log.Printf("browser fetch %s: new page: %v", rawURL, err)
		return nil, false
	}
	defer page.Close()

	timeout := b.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	resp, err := page.Goto(rawURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	})
	if err != nil {
		log.Printf("browser fetch %s: %v", rawURL, err)
		return nil, false
	}
	if resp == nil || !resp.Ok() {
		status := 0
		if resp != nil {
			status = resp.Status()
		}
		log.Printf("browser fetch %s: non-2xx status %d", rawURL, status)
		return nil, false
	}

	content, err := page.Content()
	if err != nil {
		log.Printf("browser fetch %s: read content: %v", rawURL, err)
		return nil, false
	}
	return []byte(content), true
}

func (b *BrowserFetcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return
	}
	if b.context != nil {
		b.context.Close()
	}
	if b.browser != nil {
		b.browser.Close()
	}
	if b.pw != nil {
		b.pw.Stop()
	}
	b.initialized = false
}
