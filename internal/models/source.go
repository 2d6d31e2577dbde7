package models

import "time"

// ExtractionMethod selects which browser driver a source requires.
type ExtractionMethod string

const (
	ExtractionStaticDOM ExtractionMethod = "static_dom"
	ExtractionDynamicJS ExtractionMethod = "dynamic_js"
)

// PaginationKind describes how a Target advances across pages.
type PaginationKind string

const (
	PaginationNone           PaginationKind = "none"
	PaginationNextLink       PaginationKind = "next_link"
	PaginationNumbered       PaginationKind = "numbered"
	PaginationInfiniteScroll PaginationKind = "infinite_scroll"
)

// SelectorSet holds the DOM selectors an extractor uses to pull fields out of a question block.
type SelectorSet struct {
	Question      string            `json:"question"`
	Options       []string          `json:"options"`
	CorrectAnswer string            `json:"correct_answer"`
	Explanation   string            `json:"explanation,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ExtractionConstraints bounds how many records a Target may yield in one page visit.
type ExtractionConstraints struct {
	MinCount int `json:"min_count"`
	MaxCount int `json:"max_count"`
}

// Target is a single page plan within a SourceConfig.
type Target struct {
	ID             string                 `json:"id"`
	Category       string                 `json:"category"`
	DifficultyHint string                 `json:"difficulty_hint,omitempty"`
	EntryURL       string                 `json:"entry_url"`
	Pagination     PaginationKind         `json:"pagination"`
	MaxSteps       int                    `json:"max_steps,omitempty"` // infinite-scroll step cap
	Selectors      SelectorSet            `json:"selectors"`
	Constraints    ExtractionConstraints  `json:"constraints"`
	HardCap        int                    `json:"hard_cap,omitempty"` // overrides quota spill for this target
}

// QualityThresholds centralizes the gate thresholds and component weights for a source,
// the validator and AI processor read thresholds only from here, never from a global default.
type QualityThresholds struct {
	AutoApproveThreshold  float64 `json:"auto_approve_threshold"`
	HumanReviewThreshold  float64 `json:"human_review_threshold"`
	AutoRejectThreshold   float64 `json:"auto_reject_threshold"`
	WeightCompleteness    float64 `json:"weight_completeness"`
	WeightClarity         float64 `json:"weight_clarity"`
	WeightAccuracy        float64 `json:"weight_accuracy"`
	WeightUniqueness      float64 `json:"weight_uniqueness"`
	RuleFuseWeight        float64 `json:"rule_fuse_weight"` // default 0.6
	AIFuseWeight          float64 `json:"ai_fuse_weight"`   // default 0.4
	MinQuestionLen        int     `json:"min_question_len"`
	MaxQuestionLen        int     `json:"max_question_len"`
}

// DefaultQualityThresholds returns the documented default thresholds.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		AutoApproveThreshold: 80,
		HumanReviewThreshold: 55,
		AutoRejectThreshold:  0,
		WeightCompleteness:   0.35,
		WeightClarity:        0.25,
		WeightAccuracy:       0.25,
		WeightUniqueness:     0.15,
		RuleFuseWeight:       0.6,
		AIFuseWeight:         0.4,
		MinQuestionLen:       8,
		MaxQuestionLen:       2000,
	}
}

// RateLimitParams configures the token-window/backoff/adaptive limiter for a source.
type RateLimitParams struct {
	Permits         int     `json:"permits"`
	WindowSeconds   int     `json:"window_seconds"`
	BackoffBase     float64 `json:"backoff_base"`
	MinIntervalMS   int     `json:"min_interval_ms"`
	MaxIntervalMS   int     `json:"max_interval_ms"`
	ErrorRateTarget float64 `json:"error_rate_target"`
}

// AntiDetectParams configures C1 behavior for a source.
type AntiDetectParams struct {
	RiskThreshold    float64 `json:"risk_threshold"`
	CooldownSeconds  int     `json:"cooldown_seconds"`
	RiskHalfLifeSecs int     `json:"risk_half_life_seconds"`
	ProxyRotation    string  `json:"proxy_rotation,omitempty"` // "", round_robin, random, lru, health_weighted
}

// SourceConfig is the stable identity for a scrapeable source.
// source_id lookups are case-insensitive throughout the system.
type SourceConfig struct {
	SourceID          string            `json:"source_id"`
	Version           int               `json:"version"`
	DisplayName       string            `json:"display_name"`
	Method            ExtractionMethod  `json:"method"`
	BaseURL           string            `json:"base_url"`
	Targets           []Target          `json:"targets"`
	RateLimit         RateLimitParams   `json:"rate_limit"`
	AntiDetect        AntiDetectParams  `json:"anti_detect"`
	QualityThresholds QualityThresholds `json:"quality_thresholds"`
	Enabled           bool              `json:"enabled"`
	ReliabilityScore  float64           `json:"reliability_score"` // 0..1, maintained by the system
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// NormalizedID returns the canonical lowercase identity used for lookups.
func (s *SourceConfig) NormalizedID() string {
	return normalizeSourceID(s.SourceID)
}

func normalizeSourceID(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// NormalizeSourceID exposes the case-insensitive normalization used for lookups everywhere else.
func NormalizeSourceID(id string) string {
	return normalizeSourceID(id)
}
