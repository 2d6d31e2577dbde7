package aiprocessor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/dedup"
	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

type fakeAI struct {
	category   interfaces.CategorizeResult
	catErr     error
	score      float64
	notes      string
	rateErr    error
	embedding  []float32
	embedErr   error
}

func (f *fakeAI) GenerateContent(ctx context.Context, prompt string) (string, error) { return "", nil }
func (f *fakeAI) Categorize(ctx context.Context, text string, candidates []string) (interfaces.CategorizeResult, error) {
	return f.category, f.catErr
}
func (f *fakeAI) RateAnswer(ctx context.Context, text string, options []string, correctIndex int) (float64, string, error) {
	return f.score, f.notes, f.rateErr
}
func (f *fakeAI) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return f.embedding, f.embedErr
}

type fakeQuestionStore struct {
	saved []*models.ProcessedQuestion
}

func (s *fakeQuestionStore) SaveRaw(ctx context.Context, q *models.RawQuestion) error { return nil }
func (s *fakeQuestionStore) ExistsByStableKey(ctx context.Context, sourceID, targetID, stableKey string) (bool, error) {
	return false, nil
}
func (s *fakeQuestionStore) UpsertProcessed(ctx context.Context, q *models.ProcessedQuestion) error {
	s.saved = append(s.saved, q)
	return nil
}
func (s *fakeQuestionStore) FindProcessed(ctx context.Context, id string) (*models.ProcessedQuestion, error) {
	return nil, nil
}
func (s *fakeQuestionStore) RangeProcessed(ctx context.Context, opts interfaces.QuestionRangeOptions) ([]*models.ProcessedQuestion, error) {
	return s.saved, nil
}
func (s *fakeQuestionStore) CountByVerdict(ctx context.Context, jobRunID string) (map[models.GateVerdict]int, error) {
	return nil, nil
}
func (s *fakeQuestionStore) FindByText(ctx context.Context, sourceID, normalizedText string) (*models.ProcessedQuestion, error) {
	return nil, nil
}

type fakeDuplicateStore struct{}

func (f *fakeDuplicateStore) Upsert(ctx context.Context, c *models.DuplicateCluster) error { return nil }
func (f *fakeDuplicateStore) Find(ctx context.Context, clusterID string) (*models.DuplicateCluster, error) {
	return nil, nil
}
func (f *fakeDuplicateStore) CrossSourceCount(ctx context.Context, since time.Time) (int, error) {
	return 0, nil
}
func (f *fakeDuplicateStore) TopBySize(ctx context.Context, limit int) ([]*models.DuplicateCluster, error) {
	return nil, nil
}

func testThresholds(sourceID string) models.QualityThresholds {
	return models.DefaultQualityThresholds()
}

func TestProcessorApprovesHighQualityQuestion(t *testing.T) {
	ai := &fakeAI{
		category:  interfaces.CategorizeResult{Category: "arithmetic", Confidence: 0.95},
		score:     90,
		notes:     "clear and correct",
		embedding: []float32{0.1, 0.2, 0.3},
	}
	qs := &fakeQuestionStore{}
	detector := dedup.NewDetector(&fakeDuplicateStore{}, common.NewSilentLogger(), dedup.DefaultConfig(), nil)

	p := NewProcessor(ai, detector, qs, testThresholds, nil, common.NewSilentLogger(), DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	raw := models.RawQuestion{
		ID:            "r1",
		SourceID:      "quizbank",
		QuestionText:  "What is 2 + 2?",
		Options:       []string{"3", "4", "5"},
		CorrectAnswer: "B",
		Category:      "arithmetic",
	}
	report := models.QualityReport{Overall: 92}

	require.NoError(t, p.Submit(ctx, raw, report))
	require.Eventually(t, func() bool { return len(qs.saved) == 1 }, time.Second, 5*time.Millisecond)

	got := qs.saved[0]
	require.Equal(t, models.VerdictAutoApprove, got.Verdict)
	require.Equal(t, 1, got.CorrectIndex)
	require.False(t, got.NeedsReview)
}

func TestProcessorFailsOpenOnAIUnavailable(t *testing.T) {
	ai := &fakeAI{
		catErr:   context.DeadlineExceeded,
		rateErr:  context.DeadlineExceeded,
		embedErr: context.DeadlineExceeded,
	}
	qs := &fakeQuestionStore{}
	detector := dedup.NewDetector(&fakeDuplicateStore{}, common.NewSilentLogger(), dedup.DefaultConfig(), nil)

	p := NewProcessor(ai, detector, qs, testThresholds, nil, common.NewSilentLogger(), DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	raw := models.RawQuestion{
		ID:            "r2",
		SourceID:      "quizbank",
		QuestionText:  "What is the capital of France?",
		Options:       []string{"Paris", "Rome"},
		CorrectAnswer: "A",
		Category:      "general_knowledge",
	}
	report := models.QualityReport{Overall: 95}

	require.NoError(t, p.Submit(ctx, raw, report))
	require.Eventually(t, func() bool { return len(qs.saved) == 1 }, time.Second, 5*time.Millisecond)

	got := qs.saved[0]
	require.True(t, got.NeedsReview)
	require.NotEqual(t, models.VerdictAutoApprove, got.Verdict)
}

func TestProcessorSignalsBackpressureWhenQueueFull(t *testing.T) {
	ai := &fakeAI{}
	qs := &fakeQuestionStore{}
	detector := dedup.NewDetector(&fakeDuplicateStore{}, common.NewSilentLogger(), dedup.DefaultConfig(), nil)

	cfg := DefaultConfig()
	cfg.BatchSize = 1
	cfg.QueueCapacity = 1
	p := NewProcessor(ai, detector, qs, testThresholds, nil, common.NewSilentLogger(), cfg)

	ctx := context.Background()
	raw := models.RawQuestion{ID: "r3", SourceID: "quizbank", QuestionText: "x", Options: []string{"a", "b"}, CorrectAnswer: "A"}
	report := models.QualityReport{Overall: 50}

	// Dispatcher never started: the single queue slot fills, so the second
	// call must observe backpressure.
	require.NoError(t, p.Submit(ctx, raw, report))
	err := p.Submit(ctx, raw, report)
	require.Error(t, err)
}
