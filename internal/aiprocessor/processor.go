// Package aiprocessor implements C7: normalization, AI-assisted categorize /
// rate / embed, rule+AI score fusion, gating, and handoff into C8's duplicate
// detector, sitting behind the engine.Submitter boundary.
package aiprocessor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/dedup"
	"github.com/aptiscout/aptiscout/internal/engine"
	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
	"github.com/aptiscout/aptiscout/internal/validators"
)

// Config tunes batch discipline and intake backpressure.
type Config struct {
	BatchSize     int // concurrent in-flight AI calls, default 25
	QueueCapacity int // bounded intake queue, default 10x BatchSize
	// CategoryDisagreementMargin is the AI confidence above which a
	// categorize disagreement with the rule-based category flags needs_review.
	CategoryDisagreementMargin float64
}

// DefaultConfig returns the documented default batch and queue sizing.
func DefaultConfig() Config {
	return Config{BatchSize: 25, QueueCapacity: 250, CategoryDisagreementMargin: 0.6}
}

// ThresholdResolver resolves a source's quality thresholds for fuse weights
// and the gate ladder.
type ThresholdResolver func(sourceID string) models.QualityThresholds

type submission struct {
	raw    models.RawQuestion
	report models.QualityReport
}

// Processor implements engine.Submitter.
type Processor struct {
	ai         interfaces.AICapabilityClient
	detector   *dedup.Detector
	questions  interfaces.QuestionStore
	thresholds ThresholdResolver
	bus        publisher
	logger     *common.Logger
	cfg        Config

	sem   chan struct{}
	queue chan submission
	wg    sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}
}

// publisher is the narrow slice of monitoring.EventBus the processor needs,
// kept as an interface so tests can stub it without pulling in monitoring.
type publisher interface {
	Publish(ctx context.Context, kind models.EventKind, jobID, sourceID string, payload map[string]any) models.Event
}

// NewProcessor builds a Processor. bus may be nil to disable event emission.
func NewProcessor(ai interfaces.AICapabilityClient, detector *dedup.Detector, questions interfaces.QuestionStore, thresholds ThresholdResolver, bus publisher, logger *common.Logger, cfg Config) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = cfg.BatchSize * 10
	}
	if cfg.CategoryDisagreementMargin <= 0 {
		cfg.CategoryDisagreementMargin = 0.6
	}
	return &Processor{
		ai:         ai,
		detector:   detector,
		questions:  questions,
		thresholds: thresholds,
		bus:        bus,
		logger:     logger,
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.BatchSize),
		queue:      make(chan submission, cfg.QueueCapacity),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the dispatcher that drains the intake queue into up to
// BatchSize concurrent processing goroutines.
func (p *Processor) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.dispatchLoop(ctx)
}

// Stop drains in-flight work and halts the dispatcher.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Processor) dispatchLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case sub := <-p.queue:
			select {
			case p.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			p.wg.Add(1)
			go func(s submission) {
				defer p.wg.Done()
				defer func() { <-p.sem }()
				p.processOne(ctx, s)
			}(sub)
		}
	}
}

// Submit implements engine.Submitter. It never blocks: a full queue signals
// backpressure so the engine pauses the owning target rather than dropping
// the record.
func (p *Processor) Submit(ctx context.Context, raw models.RawQuestion, report models.QualityReport) error {
	select {
	case p.queue <- submission{raw: raw, report: report}:
		return nil
	default:
		return engine.ErrBackpressure
	}
}

var markupPattern = regexp.MustCompile(`<[^>]*>`)

func normalizeText(s string) string {
	s = markupPattern.ReplaceAllString(s, "")
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func textHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (p *Processor) processOne(ctx context.Context, sub submission) {
	raw := sub.raw
	report := sub.report
	thresholds := p.thresholds(raw.SourceID)

	text := normalizeText(raw.QuestionText)
	options := make([]string, 0, len(raw.Options))
	seen := make(map[string]bool, len(raw.Options))
	for _, o := range raw.Options {
		norm := strings.ToLower(strings.TrimSpace(o))
		if seen[norm] {
			continue
		}
		seen[norm] = true
		options = append(options, normalizeText(o))
	}

	correctIndex, resolved := validators.ResolveCorrectIndex(raw.Options, raw.CorrectAnswer)
	if !resolved {
		correctIndex = -1
	}

	processed := &models.ProcessedQuestion{
		ID:            uuid.New().String(),
		RawQuestionID: raw.ID,
		SourceID:      raw.SourceID,
		TargetID:      raw.TargetID,
		JobRunID:      raw.JobRunID,
		QuestionText:  text,
		Options:       options,
		CorrectIndex:  correctIndex,
		Explanation:   raw.Explanation,
		Category:      raw.Category,
		RuleQuality:   report.Components,
		ExtractedAt:   raw.Extraction.Timestamp,
		ProcessedAt:   time.Now(),
	}

	needsReview := !resolved
	aiAvailable := p.ai != nil

	candidates := candidateCategories(raw.Category)
	if !aiAvailable {
		// No AI client configured: the rule-based category stands.
	} else if catResult, err := p.ai.Categorize(ctx, text, candidates); err != nil {
		p.logger.Warn().Err(err).Str("source_id", raw.SourceID).Msg("categorize call failed, falling back to rule-based category")
		aiAvailable = false
	} else {
		if catResult.Category != "" {
			processed.Category = catResult.Category
		}
		if !strings.EqualFold(catResult.Category, raw.Category) && catResult.Confidence >= p.cfg.CategoryDisagreementMargin {
			needsReview = true
		}
	}

	hash := textHash(text)
	embedding, cached := p.detector.CachedEmbedding(hash)
	if !cached && p.ai != nil {
		var err error
		embedding, err = p.ai.EmbedText(ctx, text)
		if err != nil {
			p.logger.Warn().Err(err).Str("source_id", raw.SourceID).Msg("embed call failed")
			aiAvailable = false
		} else {
			p.detector.CacheEmbedding(hash, embedding)
		}
	}
	processed.Embedding = embedding

	var fused float64
	if resolved && p.ai != nil {
		if score, notes, err := p.ai.RateAnswer(ctx, text, options, correctIndex); err != nil {
			p.logger.Warn().Err(err).Str("source_id", raw.SourceID).Msg("rate-answer call failed, using rule score only")
			aiAvailable = false
			fused = report.Overall
		} else {
			processed.AIQualityScore = score
			processed.AIReviewerNotes = notes
			fused = thresholds.RuleFuseWeight*report.Overall + thresholds.AIFuseWeight*score
		}
	} else {
		fused = report.Overall
	}

	processed.OverallScore = fused
	processed.Difficulty = difficultyFromScore(fused)

	if !aiAvailable {
		needsReview = true
		processed.VerdictReason = "ai_unavailable"
	}
	processed.NeedsReview = needsReview

	verdict := validators.Gate(fused, thresholds)
	if needsReview && verdict == models.VerdictAutoApprove {
		verdict = models.VerdictHumanReview
	}
	processed.Verdict = verdict

	if clusterID, err := p.detector.Evaluate(ctx, processed); err != nil {
		p.logger.Warn().Err(err).Str("id", processed.ID).Msg("duplicate evaluation failed")
	} else if clusterID != "" {
		processed.DuplicateCluster = clusterID
		p.publish(ctx, models.EventDuplicateFound, raw.JobRunID, raw.SourceID, map[string]any{"question_id": processed.ID, "cluster_id": clusterID})
	}

	if err := p.questions.UpsertProcessed(ctx, processed); err != nil {
		p.logger.Warn().Err(err).Str("id", processed.ID).Msg("failed to persist processed question")
	}
}

func (p *Processor) publish(ctx context.Context, kind models.EventKind, jobID, sourceID string, payload map[string]any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(ctx, kind, jobID, sourceID, payload)
}

// difficultyFromScore maps the fused score onto the three-level difficulty
// taxonomy as a simple proxy until a source supplies an explicit hint.
func difficultyFromScore(score float64) models.DifficultyLevel {
	switch {
	case score >= 80:
		return models.DifficultyEasy
	case score >= 55:
		return models.DifficultyMedium
	default:
		return models.DifficultyHard
	}
}

// candidateCategories builds the classifier's candidate set around whatever
// category the extractor's selectors already pulled off the page, so
// Categorize always has the locally-observed value as one option.
func candidateCategories(local string) []string {
	base := []string{"arithmetic", "algebra", "logical_reasoning", "verbal_reasoning", "reading_comprehension", "general_knowledge"}
	if local == "" {
		return base
	}
	for _, c := range base {
		if strings.EqualFold(c, local) {
			return base
		}
	}
	return append([]string{local}, base...)
}

var _ engine.Submitter = (*Processor)(nil)
