// Package extractors implements the C5 per-source adapters that translate a
// target's selector set into RawQuestion records, and the shared
// schema-drift detection used by every adapter.
package extractors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

// ExtractionResult is the per-page-visit outcome.
type ExtractionResult struct {
	OK              bool
	Records         []models.RawQuestion
	Warnings        []string
	Elapsed         time.Duration
	SelectorHitRate float64
}

// SchemaDriftThreshold is the selector_hit_rate floor below which a schema_drift
// event must be raised.
const SchemaDriftThreshold = 0.5

// Extractor is the C5 contract: extract_page + advance (pagination).
type Extractor interface {
	ExtractPage(ctx context.Context, driver interfaces.Driver, target models.Target, jobRunID, sourceID string) (ExtractionResult, error)
	Advance(ctx context.Context, driver interfaces.Driver, target models.Target) (bool, error)
}

// DOMExtractor is a generic, selector-set-driven extractor shared by both the
// static-DOM and dynamic-JS sources — the DOM shape differs per site, but the
// field resolution is the same once a driver has produced a page and the
// caller supplies the right SelectorSet. Options have their letter prefix
// ("A)", "B.") stripped; the explanation is the text of the first Explanation
// selector match. Explanations are not looked up by heading, and code
// snippets are not captured.
type DOMExtractor struct{}

// NewDOMExtractor builds the default generic extractor.
func NewDOMExtractor() *DOMExtractor { return &DOMExtractor{} }

func (e *DOMExtractor) ExtractPage(ctx context.Context, driver interfaces.Driver, target models.Target, jobRunID, sourceID string) (ExtractionResult, error) {
	start := time.Now()

	blocks, err := driver.QueryAll(target.Selectors.Question)
	if err != nil {
		return ExtractionResult{OK: false, Elapsed: time.Since(start)}, err
	}

	if len(blocks) == 0 {
		return ExtractionResult{OK: true, Elapsed: time.Since(start), SelectorHitRate: 0}, nil
	}

	var records []models.RawQuestion
	var warnings []string
	hits := 0

	for _, block := range blocks {
		q, warning, ok := e.extractOne(driver, target, block, jobRunID, sourceID)
		if ok {
			records = append(records, q)
			hits++
		}
		if warning != "" {
			warnings = append(warnings, warning)
		}
	}

	hitRate := float64(hits) / float64(len(blocks))

	result := ExtractionResult{
		OK:              true,
		Records:         records,
		Warnings:        warnings,
		Elapsed:         time.Since(start),
		SelectorHitRate: hitRate,
	}
	return result, nil
}

func (e *DOMExtractor) extractOne(driver interfaces.Driver, target models.Target, block interfaces.Element, jobRunID, sourceID string) (models.RawQuestion, string, bool) {
	questionText := strings.TrimSpace(block.Text)
	if questionText == "" {
		return models.RawQuestion{}, "empty question block", false
	}

	var options []string
	for _, optSel := range target.Selectors.Options {
		els, err := driver.QueryAll(optSel)
		if err != nil {
			continue
		}
		for _, el := range els {
			opt := normalizeOptionText(el.Text)
			if opt != "" {
				options = append(options, opt)
			}
		}
	}

	correctAnswer := ""
	if target.Selectors.CorrectAnswer != "" {
		if els, err := driver.QueryAll(target.Selectors.CorrectAnswer); err == nil && len(els) > 0 {
			correctAnswer = strings.TrimSpace(els[0].Text)
		}
	}

	explanation := ""
	if target.Selectors.Explanation != "" {
		if els, err := driver.QueryAll(target.Selectors.Explanation); err == nil && len(els) > 0 {
			explanation = strings.TrimSpace(els[0].Text)
		}
	}

	warning := ""
	if correctAnswer == "" {
		warning = "missing correct answer"
	}

	q := models.RawQuestion{
		ID:            fmt.Sprintf("%s-%s", sourceID, stableHash(sourceID, target.ID, questionText)),
		SourceID:      sourceID,
		TargetID:      target.ID,
		JobRunID:      jobRunID,
		QuestionText:  questionText,
		Options:       options,
		CorrectAnswer: correctAnswer,
		Explanation:   explanation,
		Category:      target.Category,
		Extraction: models.ExtractionMeta{
			Timestamp:  time.Now(),
			Confidence: confidenceFor(questionText, options, correctAnswer),
		},
		RawHTML:   block.HTML,
		StableKey: stableHash(sourceID, target.ID, questionText),
	}
	return q, warning, true
}

func confidenceFor(question string, options []string, correctAnswer string) float64 {
	conf := 0.4
	if question != "" {
		conf += 0.2
	}
	if len(options) >= 2 {
		conf += 0.2
	}
	if correctAnswer != "" {
		conf += 0.2
	}
	return conf
}

// normalizeOptionText strips a leading letter-prefix like "A)" / "A." / "(A)".
func normalizeOptionText(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) < 2 {
		return s
	}
	if s[0] == '(' {
		if idx := strings.Index(s, ")"); idx > 0 && idx <= 3 {
			s = strings.TrimSpace(s[idx+1:])
		}
	} else if (s[0] >= 'A' && s[0] <= 'Z') || (s[0] >= 'a' && s[0] <= 'z') {
		if s[1] == ')' || s[1] == '.' || s[1] == ':' {
			s = strings.TrimSpace(s[2:])
		}
	}
	return s
}

func stableHash(sourceID, targetID, questionText string) string {
	h := sha256.Sum256([]byte(strings.ToLower(sourceID) + "|" + targetID + "|" + normalizeWhitespace(questionText)))
	return hex.EncodeToString(h[:])[:16]
}

func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.ToLower(strings.Join(fields, " "))
}

// Advance dispatches pagination by kind: next-link and numbered pagination both
// follow the href of the target's "next_page" metadata selector; infinite
// scroll is delegated to the driver.
func (e *DOMExtractor) Advance(ctx context.Context, driver interfaces.Driver, target models.Target) (bool, error) {
	switch target.Pagination {
	case models.PaginationNone:
		return false, nil
	case models.PaginationInfiniteScroll:
		maxSteps := target.MaxSteps
		if maxSteps <= 0 {
			maxSteps = 5
		}
		return driver.ScrollToBottom(ctx, maxSteps, 500*time.Millisecond)
	case models.PaginationNextLink, models.PaginationNumbered:
		els, err := driver.QueryAll(target.Selectors.Metadata["next_page"])
		if err != nil || len(els) == 0 {
			return false, nil
		}
		href, ok := els[0].Attrs["href"]
		if !ok || href == "" {
			return false, nil
		}
		result, err := driver.Goto(ctx, href, interfaces.WaitNetworkIdle, "")
		if err != nil {
			return false, err
		}
		return result.OK, nil
	default:
		return false, nil
	}
}

var _ Extractor = (*DOMExtractor)(nil)
