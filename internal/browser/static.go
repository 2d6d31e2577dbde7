// Package browser implements the two interchangeable C3 drivers behind the
// common interfaces.Driver contract: a synchronous static-DOM fetch driver and
// a dynamic-JS driver that models lazy-loading / infinite scroll.
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

// Timeouts bundles the kind-specific timeout budgets.
type Timeouts struct {
	Navigation  time.Duration
	ElementWait time.Duration
	ScriptExec  time.Duration
}

// DefaultTimeouts returns the documented default timeout budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{Navigation: 30 * time.Second, ElementWait: 15 * time.Second, ScriptExec: 30 * time.Second}
}

// botWallMarkers are substrings that indicate a bot-wall/challenge page.
var botWallMarkers = []string{"captcha", "challenge-platform", "cf-chl", "are you a robot", "access denied"}

// StaticDriver is the synchronous, JS-free driver used for paginated quiz sources.
type StaticDriver struct {
	client   *http.Client
	session  *interfaces.Session
	timeouts Timeouts
	lastDoc  *html.Node
	lastURL  string
}

// NewStaticDriver builds a StaticDriver with the given timeout budgets.
func NewStaticDriver(timeouts Timeouts) *StaticDriver {
	return &StaticDriver{
		client:   &http.Client{Timeout: timeouts.Navigation},
		timeouts: timeouts,
	}
}

func (d *StaticDriver) Start(ctx context.Context, sess *interfaces.Session, baseURL string) error {
	d.session = sess
	return nil
}

func (d *StaticDriver) Goto(ctx context.Context, url string, wait interfaces.WaitStrategy, waitArg string) (*interfaces.PageLoadResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, d.timeouts.Navigation)
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

func detectBlock(status int, body string) bool {
	if status == 429 || status == 503 {
		return true
	}
	lower := strings.ToLower(body)
	for _, marker := range botWallMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (d *StaticDriver) QueryAll(selector string) ([]interfaces.Element, error) {
	if d.lastDoc == nil {
		return nil, fmt.Errorf("no page loaded")
	}
	return querySelectorAll(d.lastDoc, selector), nil
}

func (d *StaticDriver) Extract(el interfaces.Element, kind interfaces.ExtractKind, attr string) (string, error) {
	switch kind {
	case interfaces.ExtractAttribute:
		return el.Attrs[attr], nil
	case interfaces.ExtractHTML:
		return el.HTML, nil
	default:
		return el.Text, nil
	}
}

// ScrollToBottom is a no-op on the static driver: there is no JS-driven lazy load.
func (d *StaticDriver) ScrollToBottom(ctx context.Context, maxSteps int, pauseBetween time.Duration) (bool, error) {
	return false, nil
}

// ExecuteScript is unsupported on the static driver.
func (d *StaticDriver) ExecuteScript(ctx context.Context, script string) (any, error) {
	return nil, fmt.Errorf("static driver does not support script execution")
}

func (d *StaticDriver) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, fmt.Errorf("static driver does not support screenshots")
}

func (d *StaticDriver) Close() error { return nil }

var _ interfaces.Driver = (*StaticDriver)(nil)
