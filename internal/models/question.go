package models

import "time"

// DifficultyLevel is the canonical difficulty enum for ProcessedQuestion.
type DifficultyLevel string

const (
	DifficultyEasy   DifficultyLevel = "easy"
	DifficultyMedium DifficultyLevel = "medium"
	DifficultyHard   DifficultyLevel = "hard"
)

// GateVerdict is the routing decision for a processed record (C4/C7).
type GateVerdict string

const (
	VerdictAutoApprove  GateVerdict = "auto_approve"
	VerdictHumanReview  GateVerdict = "human_review"
	VerdictAutoReject   GateVerdict = "auto_reject"
)

// ExtractionMeta records where/when/how a RawQuestion was pulled off a page.
type ExtractionMeta struct {
	URL         string    `json:"url"`
	DOMPath     string    `json:"dom_path,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Confidence  float64   `json:"confidence"` // 0..1
}

// RawQuestion is pre-enrichment output of a source extractor (C5). Transient by default;
// may be persisted for idempotent replay.
type RawQuestion struct {
	ID            string          `json:"id"`
	SourceID      string          `json:"source_id"`
	TargetID      string          `json:"target_id"`
	JobRunID      string          `json:"job_run_id"`
	QuestionText  string          `json:"question_text"`
	Options       []string        `json:"options"`
	CorrectAnswer string          `json:"correct_answer"`
	Explanation   string          `json:"explanation,omitempty"`
	Category      string          `json:"category,omitempty"`
	Extraction    ExtractionMeta  `json:"extraction"`
	RawHTML       string          `json:"raw_html,omitempty"`
	StableKey     string          `json:"stable_key"` // content hash dedupe key: (source_id, target_id, stable_key)
}

// QualityComponents are the four C4 rule-score dimensions, each in [0,100].
type QualityComponents struct {
	Completeness float64 `json:"completeness"`
	Clarity      float64 `json:"clarity"`
	Accuracy     float64 `json:"accuracy"`
	Uniqueness   float64 `json:"uniqueness"`
}

// QualityReport is the C4 validator's output for one RawQuestion.
type QualityReport struct {
	Components   QualityComponents `json:"components"`
	Overall      float64           `json:"overall"` // weighted mean, [0,100]
	FailedRules  []string          `json:"failed_rules,omitempty"`
}

// ProcessedQuestion is RawQuestion plus normalization and enrichment (C7/C8 output).
type ProcessedQuestion struct {
	ID              string            `json:"id"`
	RawQuestionID   string            `json:"raw_question_id"`
	SourceID        string            `json:"source_id"`
	TargetID        string            `json:"target_id"`
	JobRunID        string            `json:"job_run_id"`
	QuestionText    string            `json:"question_text"` // canonical whitespace
	Options         []string          `json:"options"`        // deduplicated
	CorrectIndex    int               `json:"correct_index"`  // resolved to single option index
	Explanation     string            `json:"explanation,omitempty"`
	Category        string            `json:"category"`   // canonical
	Difficulty      DifficultyLevel   `json:"difficulty"`
	RuleQuality     QualityComponents `json:"rule_quality"`
	AIQualityScore  float64           `json:"ai_quality_score,omitempty"`
	OverallScore    float64           `json:"overall_score"` // fused, [0,100]
	Verdict         GateVerdict       `json:"verdict"`
	VerdictReason   string            `json:"verdict_reason,omitempty"`
	Embedding       []float32         `json:"embedding,omitempty"`
	DuplicateCluster string           `json:"duplicate_cluster_id,omitempty"`
	NeedsReview     bool              `json:"needs_review"`
	AIReviewerNotes string            `json:"ai_reviewer_notes,omitempty"`
	ExtractedAt     time.Time         `json:"extracted_at"`
	ProcessedAt     time.Time         `json:"processed_at"`
}

// IsApprovedPublic reports whether a record is visible to public queries;
// rejected records are retained with reason but excluded from public queries.
func (p *ProcessedQuestion) IsApprovedPublic() bool {
	return p.Verdict == VerdictAutoApprove || p.Verdict == VerdictHumanReview
}
