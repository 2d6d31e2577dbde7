package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

// NotificationChannel delivers an Alert transition to an external sink.
// At least `log` and `webhook` are provided; each retries with backoff.
type NotificationChannel interface {
	Notify(ctx context.Context, alert *models.Alert) error
}

// LogChannel writes alert transitions through the structured logger.
type LogChannel struct {
	logger *common.Logger
}

// NewLogChannel builds a log-backed notification channel.
func NewLogChannel(logger *common.Logger) *LogChannel { return &LogChannel{logger: logger} }

func (c *LogChannel) Notify(ctx context.Context, alert *models.Alert) error {
	c.logger.Warn().
		Str("alert_id", alert.AlertID).
		Str("rule_id", alert.RuleID).
		Str("severity", string(alert.Severity)).
		Str("state", string(alert.State)).
		Msg(alert.Message)
	return nil
}

// WebhookChannel POSTs alert transitions to a configured URL, retrying with
// exponential backoff on failure.
type WebhookChannel struct {
	url        string
	httpClient *http.Client
	maxRetries int
	logger     *common.Logger
}

// NewWebhookChannel builds a webhook notification channel.
func NewWebhookChannel(url string, logger *common.Logger) *WebhookChannel {
	return &WebhookChannel{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		logger:     logger,
	}
}

func (c *WebhookChannel) Notify(ctx context.Context, alert *models.Alert) error {
	body := fmt.Sprintf(`{"alert_id":%q,"rule_id":%q,"severity":%q,"state":%q,"message":%q}`,
		alert.AlertID, alert.RuleID, alert.Severity, alert.State, alert.Message)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return nil
			}
			lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		} else {
			lastErr = err
		}
		select {
		case <-time.After(time.Duration(1<<attempt) * 200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.logger != nil {
		c.logger.Warn().Err(lastErr).Str("url", c.url).Msg("webhook notification failed after retries")
	}
	return lastErr
}

// ruleExprPattern matches `rate(<metric>[<window>]) > <threshold>`, the only
// common expression shape. No general expression-language
// library exists in the dependency pack for this; a small regex evaluator is
// the pragmatic stdlib fallback.
var ruleExprPattern = regexp.MustCompile(`^rate\((\w+)\[(\d+[smh])\]\)\s*([<>]=?)\s*([\d.]+)$`)

type parsedExpr struct {
	metric    string
	window    time.Duration
	op        string
	threshold float64
}

func parseExpression(expr string) (*parsedExpr, error) {
	m := ruleExprPattern.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return nil, fmt.Errorf("unsupported alert expression: %s", expr)
	}
	window, err := time.ParseDuration(m[2])
	if err != nil {
		return nil, fmt.Errorf("invalid window %q: %w", m[2], err)
	}
	threshold, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid threshold %q: %w", m[4], err)
	}
	return &parsedExpr{metric: m[1], window: window, op: m[3], threshold: threshold}, nil
}

func (p *parsedExpr) evaluate(value float64) bool {
	switch p.op {
	case ">":
		return value > p.threshold
	case ">=":
		return value >= p.threshold
	case "<":
		return value < p.threshold
	case "<=":
		return value <= p.threshold
	default:
		return false
	}
}

// ruleRuntime tracks the hysteresis state machine for one AlertRule: the
// timestamp the expression first went true (pendingSince) and the timestamp
// it first went false again while firing (recoveringSince) (testable
// property 9).
type ruleRuntime struct {
	rule           models.AlertRule
	expr           *parsedExpr
	pendingSince   time.Time
	recoveringSince time.Time
	current        *models.Alert
}

// AlertManager evaluates declarative rules every `evalInterval` against the
// Registry's aggregates, applying hysteresis and dedup semantics.
type AlertManager struct {
	mu           sync.Mutex
	registry     *Registry
	bus          *EventBus
	hub          *StreamHub
	store        interfaces.AlertStore
	channels     map[string]NotificationChannel
	rules        map[string]*ruleRuntime
	evalInterval time.Duration
	logger       *common.Logger
}

// NewAlertManager builds an AlertManager. channels maps a notification
// channel name (as referenced by AlertRule.NotificationChannels) to its
// implementation. hub may be nil when no live stream is attached.
func NewAlertManager(registry *Registry, bus *EventBus, hub *StreamHub, store interfaces.AlertStore, channels map[string]NotificationChannel, evalInterval time.Duration, logger *common.Logger) *AlertManager {
	if evalInterval <= 0 {
		evalInterval = 10 * time.Second
	}
	return &AlertManager{
		registry:     registry,
		bus:          bus,
		hub:          hub,
		store:        store,
		channels:     channels,
		rules:        make(map[string]*ruleRuntime),
		evalInterval: evalInterval,
		logger:       logger,
	}
}

// AddRule registers (or replaces) a declarative alert rule.
func (m *AlertManager) AddRule(rule models.AlertRule) error {
	expr, err := parseExpression(rule.Expression)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.Name] = &ruleRuntime{rule: rule, expr: expr}
	return nil
}

// Run evaluates every registered rule on evalInterval until ctx is cancelled.
func (m *AlertManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.evalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evaluateAll(ctx)
		}
	}
}

func (m *AlertManager) evaluateAll(ctx context.Context) {
	m.mu.Lock()
	runtimes := make([]*ruleRuntime, 0, len(m.rules))
	for _, rt := range m.rules {
		runtimes = append(runtimes, rt)
	}
	m.mu.Unlock()

	for _, rt := range runtimes {
		m.evaluateRule(ctx, rt)
	}
}

func (m *AlertManager) evaluateRule(ctx context.Context, rt *ruleRuntime) {
	value := m.registry.Rate(rt.expr.metric, rt.expr.window)
	truthy := rt.expr.evaluate(value)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if truthy {
		rt.recoveringSince = time.Time{}
		if rt.pendingSince.IsZero() {
			rt.pendingSince = now
		}
		if rt.current == nil && now.Sub(rt.pendingSince) >= rt.rule.For {
			alert := &models.Alert{
				AlertID:  uuid.New().String(),
				RuleID:   rt.rule.Name,
				Severity: rt.rule.Severity,
				State:    models.AlertFiring,
				OpenedAt: now,
				Labels:   rt.rule.Labels,
				Message:  fmt.Sprintf("%s: %s held true for %s", rt.rule.Name, rt.rule.Expression, rt.rule.For),
			}
			rt.current = alert
			m.persistAndNotify(ctx, alert)
			if m.bus != nil {
				m.bus.Publish(ctx, models.EventAlertRaised, "", "", map[string]any{"rule_id": rt.rule.Name, "alert_id": alert.AlertID})
			}
		}
		// While firing, re-evaluations do not open new alerts (dedup).
		return
	}

	rt.pendingSince = time.Time{}
	if rt.current == nil {
		return
	}
	if rt.recoveringSince.IsZero() {
		rt.recoveringSince = now
	}
	if now.Sub(rt.recoveringSince) >= rt.rule.For {
		rt.current.State = models.AlertResolved
		rt.current.ClosedAt = now
		m.persistAndNotify(ctx, rt.current)
		rt.current = nil
		rt.recoveringSince = time.Time{}
	}
}

func (m *AlertManager) persistAndNotify(ctx context.Context, alert *models.Alert) {
	if m.store != nil {
		if err := m.store.Upsert(ctx, alert); err != nil && m.logger != nil {
			m.logger.Warn().Err(err).Str("alert_id", alert.AlertID).Msg("failed to persist alert")
		}
	}
	if m.hub != nil {
		m.hub.BroadcastAlertTransition(alert)
	}
	rule, ok := m.ruleByID(alert.RuleID)
	if !ok {
		return
	}
	for _, chName := range rule.NotificationChannels {
		ch, ok := m.channels[chName]
		if !ok {
			continue
		}
		if err := ch.Notify(ctx, alert); err != nil && m.logger != nil {
			m.logger.Warn().Err(err).Str("channel", chName).Msg("alert notification failed")
		}
	}
}

func (m *AlertManager) ruleByID(ruleID string) (models.AlertRule, bool) {
	rt, ok := m.rules[ruleID]
	if !ok {
		return models.AlertRule{}, false
	}
	return rt.rule, true
}

// FiringCount returns the number of rules currently in the firing state.
func (m *AlertManager) FiringCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, rt := range m.rules {
		if rt.current != nil && rt.current.State == models.AlertFiring {
			count++
		}
	}
	return count
}

// Acknowledge transitions a firing alert to acknowledged.
func (m *AlertManager) Acknowledge(ctx context.Context, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.rules[ruleID]
	if !ok || rt.current == nil {
		return fmt.Errorf("no firing alert for rule %s", ruleID)
	}
	rt.current.State = models.AlertAcknowledged
	if m.store != nil {
		return m.store.Upsert(ctx, rt.current)
	}
	return nil
}
