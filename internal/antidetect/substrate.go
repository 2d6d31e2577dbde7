// Package antidetect implements the C1 anti-detection substrate: session
// acquisition with UA/viewport rotation, behavioral pacing, and per-source
// detection-risk scoring with EMA decay, plus optional proxy rotation.
package antidetect

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

// behavioralProfile is one of at least 10 distinct UA/viewport templates the
// this package requires.
type behavioralProfile struct {
	UserAgent    string
	Viewport     string
	Locale       string
	MinDelayMS   int
	MaxDelayMS   int
}

var defaultProfiles = []behavioralProfile{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/124.0 Safari/537.36", "1920x1080", "en-US", 400, 1200},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15", "1440x900", "en-US", 500, 1500},
	{"Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/125.0", "1366x768", "en-GB", 350, 1100},
	{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X)", "390x844", "en-US", 600, 1800},
	{"Mozilla/5.0 (Linux; Android 14; Pixel 8) Chrome/124.0", "412x915", "en-US", 600, 1700},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Firefox/125.0", "1536x864", "en-AU", 400, 1300},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6) Safari/605.1.15", "1680x1050", "en-CA", 450, 1400},
	{"Mozilla/5.0 (X11; Ubuntu; Linux x86_64) Chrome/123.0", "1280x720", "en-US", 300, 1000},
	{"Mozilla/5.0 (iPad; CPU OS 17_4 like Mac OS X)", "820x1180", "en-US", 550, 1600},
	{"Mozilla/5.0 (Windows NT 6.1; Win64; x64) Chrome/122.0", "1600x900", "en-IE", 500, 1400},
}

// proxyState tracks the health of one proxy endpoint for rotation strategies.
type proxyState struct {
	endpoint        string
	consecutiveFail int
	unhealthyUntil  time.Time
	lastUsed        time.Time
}

type sourceState struct {
	mu           sync.Mutex
	risk         float64
	lastDecay    time.Time
	halfLife     time.Duration
	threshold    float64
	cooldown     time.Duration
	pausedUntil  time.Time
	proxies      []*proxyState
	proxyIdx     int
	proxyStrategy string
}

func (s *sourceState) decayedRisk(now time.Time) float64 {
	if s.halfLife <= 0 {
		return s.risk
	}
	elapsed := now.Sub(s.lastDecay)
	if elapsed <= 0 {
		return s.risk
	}
	decayFactor := math.Pow(0.5, elapsed.Seconds()/s.halfLife.Seconds())
	return s.risk * decayFactor
}

// Substrate is the C1 implementation.
type Substrate struct {
	mu      sync.Mutex
	states  map[string]*sourceState
	logger  *common.Logger
	rng     *rand.Rand
}

// NewSubstrate builds a fresh anti-detection substrate.
func NewSubstrate(logger *common.Logger) *Substrate {
	return &Substrate{
		states: make(map[string]*sourceState),
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ConfigureSource registers per-source risk/cooldown/proxy parameters; callers
// invoke this once per SourceConfig before scraping begins.
func (s *Substrate) ConfigureSource(sourceID string, riskThreshold float64, cooldown time.Duration, halfLife time.Duration, proxyEndpoints []string, proxyStrategy string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateLocked(sourceID)
	st.threshold = riskThreshold
	st.cooldown = cooldown
	st.halfLife = halfLife
	st.proxyStrategy = proxyStrategy
	st.proxies = make([]*proxyState, 0, len(proxyEndpoints))
	for _, ep := range proxyEndpoints {
		st.proxies = append(st.proxies, &proxyState{endpoint: ep})
	}
}

func (s *Substrate) stateLocked(sourceID string) *sourceState {
	key := models.NormalizeSourceID(sourceID)
	st, ok := s.states[key]
	if !ok {
		st = &sourceState{lastDecay: time.Now(), halfLife: 10 * time.Minute, threshold: 0.7, cooldown: 5 * time.Minute}
		s.states[key] = st
	}
	return st
}

// AcquireSession returns a session carrying a UA/viewport/locale/proxy/cookie-jar
// drawn from the behavioral profile pool.
func (s *Substrate) AcquireSession(ctx context.Context, sourceID string) (*interfaces.Session, error) {
	s.mu.Lock()
	st := s.stateLocked(sourceID)
	s.mu.Unlock()

	profile := defaultProfiles[s.rng.Intn(len(defaultProfiles))]

	sess := &interfaces.Session{
		ID:                uuid.New().String(),
		UserAgent:         profile.UserAgent,
		Viewport:          profile.Viewport,
		Locale:            profile.Locale,
		BehavioralProfile: fmt.Sprintf("%s@%s", profile.Viewport, profile.Locale),
	}

	st.mu.Lock()
	if proxy := s.pickProxyLocked(st); proxy != nil {
		sess.ProxyEndpoint = proxy.endpoint
		proxy.lastUsed = time.Now()
	}
	st.mu.Unlock()

	return sess, nil
}

func (s *Substrate) pickProxyLocked(st *sourceState) *proxyState {
	healthy := make([]*proxyState, 0, len(st.proxies))
	now := time.Now()
	for _, p := range st.proxies {
		if p.unhealthyUntil.IsZero() || now.After(p.unhealthyUntil) {
			healthy = append(healthy, p)
		}
	}
	if len(healthy) == 0 {
		return nil
	}
	switch st.proxyStrategy {
	case "random":
		return healthy[s.rng.Intn(len(healthy))]
	case "lru":
		oldest := healthy[0]
		for _, p := range healthy[1:] {
			if p.lastUsed.Before(oldest.lastUsed) {
				oldest = p
			}
		}
		return oldest
	case "health_weighted":
		best := healthy[0]
		for _, p := range healthy[1:] {
			if p.consecutiveFail < best.consecutiveFail {
				best = p
			}
		}
		return best
	default: // round_robin
		st.proxyIdx = (st.proxyIdx + 1) % len(healthy)
		return healthy[st.proxyIdx]
	}
}

// NotifyOutcome updates the per-source risk EMA and the proxy health state.
func (s *Substrate) NotifyOutcome(sourceID string, sess *interfaces.Session, url string, status int, latency time.Duration, detectedBlock bool) {
	s.mu.Lock()
	st := s.stateLocked(sourceID)
	s.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	decayed := st.decayedRisk(now)

	sample := 0.0
	if detectedBlock {
		sample = 1.0
	} else if status >= 500 || status == 429 {
		sample = 0.6
	} else if status >= 400 {
		sample = 0.2
	}

	// EMA with a fixed weight of 0.3 on the new sample; the half-life only
	// decays the previous risk for the time elapsed since the last sample.
	st.risk = decayed*0.7 + sample*0.3
	st.lastDecay = now

	if sess != nil && sess.ProxyEndpoint != "" {
		for _, p := range st.proxies {
			if p.endpoint != sess.ProxyEndpoint {
				continue
			}
			if detectedBlock || status >= 500 {
				p.consecutiveFail++
				if p.consecutiveFail >= 3 {
					cooldown := time.Duration(math.Min(float64(time.Hour), float64(time.Minute)*math.Pow(2, float64(p.consecutiveFail-3))))
					p.unhealthyUntil = now.Add(cooldown)
				}
			} else {
				p.consecutiveFail = 0
				p.unhealthyUntil = time.Time{}
			}
			break
		}
	}

	if st.risk >= st.threshold {
		st.pausedUntil = now.Add(st.cooldown)
		if s.logger != nil {
			s.logger.Warn().Str("source_id", sourceID).Float64("risk", st.risk).Msg("anti-detect risk threshold exceeded; source paused")
		}
	}
}

// DelayBetweenActions samples a pacing delay from the session's behavioral profile.
func (s *Substrate) DelayBetweenActions(sess *interfaces.Session) time.Duration {
	min, max := 400, 1200
	for _, p := range defaultProfiles {
		if p.Viewport == sess.Viewport {
			min, max = p.MinDelayMS, p.MaxDelayMS
			break
		}
	}
	if max <= min {
		return time.Duration(min) * time.Millisecond
	}
	jitter := s.rng.Intn(max - min)
	return time.Duration(min+jitter) * time.Millisecond
}

// ShouldPauseSource reports whether risk currently exceeds the configured
// threshold, and for how much longer.
func (s *Substrate) ShouldPauseSource(sourceID string) (bool, time.Duration) {
	s.mu.Lock()
	st := s.stateLocked(sourceID)
	s.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.pausedUntil.IsZero() {
		return false, 0
	}
	remaining := time.Until(st.pausedUntil)
	if remaining <= 0 {
		st.pausedUntil = time.Time{}
		return false, 0
	}
	return true, remaining
}

// CurrentRisk returns the decayed risk score for a source (used by the adaptive limiter).
func (s *Substrate) CurrentRisk(sourceID string) float64 {
	s.mu.Lock()
	st := s.stateLocked(sourceID)
	s.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.decayedRisk(time.Now())
}

var _ interfaces.AntiDetectSubstrate = (*Substrate)(nil)
