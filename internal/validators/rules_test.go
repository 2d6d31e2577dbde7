package validators

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aptiscout/aptiscout/internal/models"
)

func sampleQuestion() *models.RawQuestion {
	return &models.RawQuestion{
		QuestionText:  "What is the next number in the sequence 2, 4, 6, 8?",
		Options:       []string{"9", "10", "11", "12"},
		CorrectAnswer: "B",
		Explanation:   "The sequence increases by 2 each step.",
		Category:      "logical",
		Extraction:    models.ExtractionMeta{Confidence: 0.9},
	}
}

func TestValidate_GoodRecordScoresHigh(t *testing.T) {
	q := sampleQuestion()
	report := Validate(q, models.DefaultQualityThresholds())
	assert.Empty(t, report.FailedRules)
	assert.Greater(t, report.Overall, 80.0)
}

func TestValidate_EmptyQuestionFails(t *testing.T) {
	q := sampleQuestion()
	q.QuestionText = ""
	report := Validate(q, models.DefaultQualityThresholds())
	assert.Contains(t, report.FailedRules, "question_non_empty")
	assert.Less(t, report.Overall, 80.0)
}

func TestValidate_DuplicateOptionsFails(t *testing.T) {
	q := sampleQuestion()
	q.Options = []string{"9", "9", "11", "12"}
	report := Validate(q, models.DefaultQualityThresholds())
	assert.Contains(t, report.FailedRules, "options_distinct")
}

func TestResolveCorrectIndex_LetterPrefixed(t *testing.T) {
	idx, ok := ResolveCorrectIndex([]string{"a", "b", "c"}, "B)")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestResolveCorrectIndex_LiteralTextMatch(t *testing.T) {
	idx, ok := ResolveCorrectIndex([]string{"Paris", "London", "Berlin"}, "london")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestResolveCorrectIndex_AmbiguousFails(t *testing.T) {
	_, ok := ResolveCorrectIndex([]string{"same", "same"}, "same")
	assert.False(t, ok)
}

func TestGate_ThresholdLadder(t *testing.T) {
	th := models.DefaultQualityThresholds()
	assert.Equal(t, models.VerdictAutoApprove, Gate(90, th))
	assert.Equal(t, models.VerdictHumanReview, Gate(60, th))
	assert.Equal(t, models.VerdictAutoReject, Gate(10, th))
}
