package interfaces

import (
	"context"
	"time"
)

// Session is a behavioral identity handed out by the anti-detection substrate (C1).
type Session struct {
	ID               string
	UserAgent        string
	Viewport         string
	Locale           string
	ProxyEndpoint    string
	BehavioralProfile string
	cookies          map[string]string
}

// Cookie returns a cookie value set on this session, if any.
func (s *Session) Cookie(name string) (string, bool) {
	if s.cookies == nil {
		return "", false
	}
	v, ok := s.cookies[name]
	return v, ok
}

// SetCookie records a cookie value on the session's jar.
func (s *Session) SetCookie(name, value string) {
	if s.cookies == nil {
		s.cookies = make(map[string]string)
	}
	s.cookies[name] = value
}

// AntiDetectSubstrate is the C1 contract.
type AntiDetectSubstrate interface {
	AcquireSession(ctx context.Context, sourceID string) (*Session, error)
	NotifyOutcome(sourceID string, sess *Session, url string, status int, latency time.Duration, detectedBlock bool)
	DelayBetweenActions(sess *Session) time.Duration
	ShouldPauseSource(sourceID string) (bool, time.Duration)
	ConfigureSource(sourceID string, riskThreshold float64, cooldown time.Duration, halfLife time.Duration, proxyEndpoints []string, proxyStrategy string)
}

// LimitGrant is the result of an acquire() call on a C2 rate limiter.
type LimitGrant struct {
	Granted  bool
	WaitHint time.Duration
}

// RateLimiter is the common C2 contract shared by token-window, backoff, and adaptive limiters.
type RateLimiter interface {
	Acquire(ctx context.Context) (LimitGrant, error)
	NotifyResult(success bool)
}

// WaitSelector, WaitNetworkIdle, WaitTimeout are the wait_for strategies goto() accepts.
type WaitStrategy string

const (
	WaitSelector     WaitStrategy = "selector"
	WaitNetworkIdle  WaitStrategy = "network_idle"
	WaitTimeout      WaitStrategy = "timeout"
)

// PageLoadResult is returned by a driver's goto call.
type PageLoadResult struct {
	OK            bool
	Status        int
	Bytes         int
	Elapsed       time.Duration
	FinalURL      string
	DetectedBlock bool
}

// Element is an opaque handle to a matched DOM node returned by QueryAll.
type Element struct {
	Selector string
	Text     string
	HTML     string
	Attrs    map[string]string
}

// ExtractKind selects what Extract pulls off an Element.
type ExtractKind string

const (
	ExtractText      ExtractKind = "text"
	ExtractAttribute ExtractKind = "attribute"
	ExtractHTML      ExtractKind = "html"
)

// Driver is the common C3 contract implemented by the static-DOM and dynamic-JS drivers.
type Driver interface {
	Start(ctx context.Context, sess *Session, baseURL string) error
	Goto(ctx context.Context, url string, wait WaitStrategy, waitArg string) (*PageLoadResult, error)
	QueryAll(selector string) ([]Element, error)
	Extract(el Element, kind ExtractKind, attr string) (string, error)
	ScrollToBottom(ctx context.Context, maxSteps int, pauseBetween time.Duration) (bool, error)
	ExecuteScript(ctx context.Context, script string) (any, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// CategorizeResult is the AI categorizer capability's response.
type CategorizeResult struct {
	Category   string
	Confidence float64
}

// AICapabilityClient is the vendor-agnostic AI capability contract
// only as an interface: generate-question, rate-answer, embed-text, classify-category.
// google.golang.org/genai backs the concrete Gemini implementation.
type AICapabilityClient interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Categorize(ctx context.Context, questionText string, candidates []string) (CategorizeResult, error)
	RateAnswer(ctx context.Context, questionText string, options []string, correctIndex int) (float64, string, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
}
