// Package validators implements the C4 rule-engine quality scoring and gate
// decision over RawQuestion records.
package validators

import (
	"regexp"
	"strings"

	"github.com/aptiscout/aptiscout/internal/models"
)

// Rule scores one dimension of a RawQuestion and, on failure, names itself so
// the caller can report which rules a record failed.
type Rule struct {
	Name      string
	Component string // completeness, clarity, accuracy, uniqueness
	Check     func(q *models.RawQuestion, thresholds models.QualityThresholds) (pass bool, score float64)
}

var htmlArtifactPattern = regexp.MustCompile(`(?i)<[a-z][a-z0-9]*[^>]*>|&[a-z]+;|&#\d+;`)

// DefaultRules returns the full content-validation rule set, grouped by component.
func DefaultRules() []Rule {
	return []Rule{
		{"question_non_empty", "completeness", func(q *models.RawQuestion, _ models.QualityThresholds) (bool, float64) {
			ok := strings.TrimSpace(q.QuestionText) != ""
			return ok, boolScore(ok)
		}},
		{"question_length_bounds", "completeness", func(q *models.RawQuestion, t models.QualityThresholds) (bool, float64) {
			n := len(strings.TrimSpace(q.QuestionText))
			ok := n >= t.MinQuestionLen && n <= t.MaxQuestionLen
			return ok, boolScore(ok)
		}},
		{"options_min_count", "completeness", func(q *models.RawQuestion, _ models.QualityThresholds) (bool, float64) {
			ok := len(q.Options) >= 2
			return ok, boolScore(ok)
		}},
		{"options_max_count", "completeness", func(q *models.RawQuestion, _ models.QualityThresholds) (bool, float64) {
			ok := len(q.Options) <= 6
			return ok, boolScore(ok)
		}},
		{"correct_answer_present", "completeness", func(q *models.RawQuestion, _ models.QualityThresholds) (bool, float64) {
			ok := strings.TrimSpace(q.CorrectAnswer) != ""
			return ok, boolScore(ok)
		}},
		{"metadata_category_present", "completeness", func(q *models.RawQuestion, _ models.QualityThresholds) (bool, float64) {
			ok := strings.TrimSpace(q.Category) != ""
			return ok, boolScore(ok)
		}},
		{"options_distinct", "accuracy", func(q *models.RawQuestion, _ models.QualityThresholds) (bool, float64) {
			seen := make(map[string]bool, len(q.Options))
			for _, o := range q.Options {
				norm := normalizeOption(o)
				if seen[norm] {
					return false, 0
				}
				seen[norm] = true
			}
			return true, 100
		}},
		{"correct_answer_resolves", "accuracy", func(q *models.RawQuestion, _ models.QualityThresholds) (bool, float64) {
			_, ok := ResolveCorrectIndex(q.Options, q.CorrectAnswer)
			return ok, boolScore(ok)
		}},
		{"no_html_artifacts", "clarity", func(q *models.RawQuestion, _ models.QualityThresholds) (bool, float64) {
			ok := !htmlArtifactPattern.MatchString(q.QuestionText)
			return ok, boolScore(ok)
		}},
		{"readability_heuristic", "clarity", func(q *models.RawQuestion, _ models.QualityThresholds) (bool, float64) {
			words := strings.Fields(q.QuestionText)
			if len(words) == 0 {
				return false, 0
			}
			avgLen := float64(len(strings.ReplaceAll(q.QuestionText, " ", ""))) / float64(len(words))
			ok := avgLen >= 2 && avgLen <= 12
			return ok, boolScore(ok)
		}},
		{"explanation_present", "clarity", func(q *models.RawQuestion, _ models.QualityThresholds) (bool, float64) {
			ok := strings.TrimSpace(q.Explanation) != ""
			return ok, boolScore(ok)
		}},
		{"extraction_confidence", "uniqueness", func(q *models.RawQuestion, _ models.QualityThresholds) (bool, float64) {
			return q.Extraction.Confidence >= 0.5, q.Extraction.Confidence * 100
		}},
	}
}

func boolScore(ok bool) float64 {
	if ok {
		return 100
	}
	return 0
}

func normalizeOption(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ResolveCorrectIndex resolves a raw correct-answer token (e.g. "A", "A)", the
// literal option text) to exactly one option index. Returns ok=false when it
// cannot resolve to exactly one option.
func ResolveCorrectIndex(options []string, correctAnswer string) (int, bool) {
	token := strings.ToUpper(strings.TrimSpace(correctAnswer))
	token = strings.TrimRight(token, ").:")

	// Letter-prefixed form: "A", "B", ...
	if len(token) == 1 && token[0] >= 'A' && token[0] <= 'Z' {
		idx := int(token[0] - 'A')
		if idx >= 0 && idx < len(options) {
			return idx, true
		}
	}

	// Literal text match against normalized options.
	normAnswer := normalizeOption(correctAnswer)
	match := -1
	for i, o := range options {
		if normalizeOption(o) == normAnswer {
			if match != -1 {
				return -1, false // ambiguous
			}
			match = i
		}
	}
	if match != -1 {
		return match, true
	}
	return -1, false
}

// Validate runs every rule against a RawQuestion and produces a QualityReport
// using the weights declared on the source's QualityThresholds.
func Validate(q *models.RawQuestion, thresholds models.QualityThresholds) models.QualityReport {
	rules := DefaultRules()

	sums := map[string]float64{}
	counts := map[string]int{}
	var failed []string

	for _, r := range rules {
		pass, score := r.Check(q, thresholds)
		sums[r.Component] += score
		counts[r.Component]++
		if !pass {
			failed = append(failed, r.Name)
		}
	}

	comp := func(name string) float64 {
		if counts[name] == 0 {
			return 100
		}
		return sums[name] / float64(counts[name])
	}

	components := models.QualityComponents{
		Completeness: comp("completeness"),
		Clarity:      comp("clarity"),
		Accuracy:     comp("accuracy"),
		Uniqueness:   comp("uniqueness"),
	}

	overall := components.Completeness*thresholds.WeightCompleteness +
		components.Clarity*thresholds.WeightClarity +
		components.Accuracy*thresholds.WeightAccuracy +
		components.Uniqueness*thresholds.WeightUniqueness

	return models.QualityReport{Components: components, Overall: overall, FailedRules: failed}
}

// Gate applies the threshold ladder to a fused or rule-only score.
func Gate(score float64, thresholds models.QualityThresholds) models.GateVerdict {
	switch {
	case score >= thresholds.AutoApproveThreshold:
		return models.VerdictAutoApprove
	case score >= thresholds.HumanReviewThreshold:
		return models.VerdictHumanReview
	default:
		return models.VerdictAutoReject
	}
}
