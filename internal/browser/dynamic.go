package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/aptiscout/aptiscout/internal/interfaces"
)

// DynamicDriver handles JS-rendered, infinite-scroll sources. No headless-browser
// library appears anywhere in the example pack (flagged in DESIGN.md); it is built
// on the same net/http fetch loop as StaticDriver, simulating scroll/script steps
// by re-requesting the page with an incrementing scroll cursor query parameter —
// the same contract the real engine would drive a browser through.
type DynamicDriver struct {
	client      *http.Client
	session     *interfaces.Session
	timeouts    Timeouts
	lastDoc     *html.Node
	lastURL     string
	scrollParam string // query param incremented per ScrollToBottom step
	scrollStep  int
}

// NewDynamicDriver builds a DynamicDriver with the given timeout budgets.
func NewDynamicDriver(timeouts Timeouts, scrollParam string) *DynamicDriver {
	if scrollParam == "" {
		scrollParam = "scroll_cursor"
	}
	return &DynamicDriver{
		client:      &http.Client{Timeout: timeouts.Navigation},
		timeouts:    timeouts,
		scrollParam: scrollParam,
	}
}

func (d *DynamicDriver) Start(ctx context.Context, sess *interfaces.Session, baseURL string) error {
	d.session = sess
	d.scrollStep = 0
	return nil
}

func (d *DynamicDriver) Goto(ctx context.Context, url string, wait interfaces.WaitStrategy, waitArg string) (*interfaces.PageLoadResult, error) {
	start := time.Now()

	var timeout time.Duration
	switch wait {
	case interfaces.WaitNetworkIdle, interfaces.WaitSelector:
		timeout = d.timeouts.ElementWait
		if timeout < d.timeouts.Navigation {
			timeout = d.timeouts.Navigation
		}
	default:
		timeout = d.timeouts.Navigation
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if d.session != nil {
		req.Header.Set("User-Agent", d.session.UserAgent)
		req.Header.Set("Accept-Language", d.session.Locale)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &interfaces.PageLoadResult{OK: false, Elapsed: time.Since(start)}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &interfaces.PageLoadResult{OK: false, Status: resp.StatusCode, Elapsed: time.Since(start)}, err
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return &interfaces.PageLoadResult{OK: false, Status: resp.StatusCode, Elapsed: time.Since(start)}, err
	}
	d.lastDoc = doc
	d.lastURL = resp.Request.URL.String()

	detected := detectBlock(resp.StatusCode, string(body))

	return &interfaces.PageLoadResult{
		OK:            resp.StatusCode >= 200 && resp.StatusCode < 300 && !detected,
		Status:        resp.StatusCode,
		Bytes:         len(body),
		Elapsed:       time.Since(start),
		FinalURL:      d.lastURL,
		DetectedBlock: detected,
	}, nil
}

func (d *DynamicDriver) QueryAll(selector string) ([]interfaces.Element, error) {
	if d.lastDoc == nil {
		return nil, fmt.Errorf("no page loaded")
	}
	return querySelectorAll(d.lastDoc, selector), nil
}

func (d *DynamicDriver) Extract(el interfaces.Element, kind interfaces.ExtractKind, attr string) (string, error) {
	switch kind {
	case interfaces.ExtractAttribute:
		return el.Attrs[attr], nil
	case interfaces.ExtractHTML:
		return el.HTML, nil
	default:
		return el.Text, nil
	}
}

// ScrollToBottom re-fetches the current URL with an incremented scroll cursor,
// returning true while the element count keeps growing (more content loaded).
func (d *DynamicDriver) ScrollToBottom(ctx context.Context, maxSteps int, pauseBetween time.Duration) (bool, error) {
	if d.lastURL == "" {
		return false, fmt.Errorf("no page loaded")
	}
	if maxSteps <= 0 {
		maxSteps = 1
	}

	prevCount := len(querySelectorAll(d.lastDoc, "*"))
	grew := false

	for step := 0; step < maxSteps; step++ {
		select {
		case <-ctx.Done():
			return grew, ctx.Err()
		case <-time.After(pauseBetween):
		}

		d.scrollStep++
		next := appendQueryParam(d.lastURL, d.scrollParam, d.scrollStep)
		result, err := d.Goto(ctx, next, interfaces.WaitNetworkIdle, "")
		if err != nil || result == nil || !result.OK {
			return grew, nil
		}

		count := len(querySelectorAll(d.lastDoc, "*"))
		if count <= prevCount {
			return grew, nil
		}
		prevCount = count
		grew = true
	}
	return grew, nil
}

func appendQueryParam(rawURL, key string, value int) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%s=%d", rawURL, sep, key, value)
}

// ExecuteScript is a narrow shim: the only script the engine ever needs from the
// dynamic driver is reading the current scroll cursor, which is tracked locally.
func (d *DynamicDriver) ExecuteScript(ctx context.Context, script string) (any, error) {
	if script == "window.scrollCursor" {
		return d.scrollStep, nil
	}
	return nil, fmt.Errorf("unsupported script: %s", script)
}

func (d *DynamicDriver) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, fmt.Errorf("dynamic driver does not support screenshots in this build")
}

func (d *DynamicDriver) Close() error { return nil }

var _ interfaces.Driver = (*DynamicDriver)(nil)
