package extractors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

// fakeDriver serves canned QueryAll results keyed by selector, for testing
// DOMExtractor without a real HTTP fetch or HTML document.
type fakeDriver struct {
	bySelector map[string][]interfaces.Element
	gotoCalls  []string
	gotoResult *interfaces.PageLoadResult
}

func (f *fakeDriver) Start(ctx context.Context, sess *interfaces.Session, baseURL string) error {
	return nil
}

func (f *fakeDriver) Goto(ctx context.Context, url string, wait interfaces.WaitStrategy, waitArg string) (*interfaces.PageLoadResult, error) {
	f.gotoCalls = append(f.gotoCalls, url)
	if f.gotoResult != nil {
		return f.gotoResult, nil
	}
	return &interfaces.PageLoadResult{OK: true}, nil
}

func (f *fakeDriver) QueryAll(selector string) ([]interfaces.Element, error) {
	return f.bySelector[selector], nil
}

func (f *fakeDriver) Extract(el interfaces.Element, kind interfaces.ExtractKind, attr string) (string, error) {
	switch kind {
	case interfaces.ExtractAttribute:
		return el.Attrs[attr], nil
	default:
		return el.Text, nil
	}
}

func (f *fakeDriver) ScrollToBottom(ctx context.Context, maxSteps int, pauseBetween time.Duration) (bool, error) {
	return true, nil
}

func (f *fakeDriver) ExecuteScript(ctx context.Context, script string) (any, error) { return nil, nil }
func (f *fakeDriver) Screenshot(ctx context.Context) ([]byte, error)                { return nil, nil }
func (f *fakeDriver) Close() error                                                  { return nil }

var _ interfaces.Driver = (*fakeDriver)(nil)

func sampleTarget() models.Target {
	return models.Target{
		ID:         "t1",
		Category:   "logical",
		Pagination: models.PaginationNextLink,
		Selectors: models.SelectorSet{
			Question:      "div.q",
			Options:       []string{"li.opt"},
			CorrectAnswer: "span.answer",
			Explanation:   "p.explain",
			Metadata:      map[string]string{"next_page": "a.next"},
		},
	}
}

func TestExtractPage_WellFormedRecord(t *testing.T) {
	driver := &fakeDriver{bySelector: map[string][]interfaces.Element{
		"div.q":        {{Text: "What is 2+2?"}},
		"li.opt":       {{Text: "A) 3"}, {Text: "B) 4"}},
		"span.answer":  {{Text: "B"}},
		"p.explain":    {{Text: "Basic arithmetic."}},
	}}

	e := NewDOMExtractor()
	result, err := e.ExtractPage(context.Background(), driver, sampleTarget(), "run-1", "quizsite")
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Len(t, result.Records, 1)
	assert.Equal(t, 1.0, result.SelectorHitRate)

	q := result.Records[0]
	assert.Equal(t, "What is 2+2?", q.QuestionText)
	assert.Equal(t, []string{"3", "4"}, q.Options)
	assert.Equal(t, "B", q.CorrectAnswer)
	assert.NotEmpty(t, q.StableKey)
	assert.Empty(t, result.Warnings)
}

func TestExtractPage_MissingAnswerWarns(t *testing.T) {
	driver := &fakeDriver{bySelector: map[string][]interfaces.Element{
		"div.q":  {{Text: "Unanswered question"}},
		"li.opt": {{Text: "x"}, {Text: "y"}},
	}}

	e := NewDOMExtractor()
	result, err := e.ExtractPage(context.Background(), driver, sampleTarget(), "run-1", "quizsite")
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Contains(t, result.Warnings, "missing correct answer")
}

func TestExtractPage_NoQuestionBlocksYieldsZeroHitRate(t *testing.T) {
	driver := &fakeDriver{bySelector: map[string][]interfaces.Element{}}

	e := NewDOMExtractor()
	result, err := e.ExtractPage(context.Background(), driver, sampleTarget(), "run-1", "quizsite")
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Empty(t, result.Records)
	assert.Equal(t, 0.0, result.SelectorHitRate)
}

func TestExtractPage_SchemaDriftBelowThreshold(t *testing.T) {
	driver := &fakeDriver{bySelector: map[string][]interfaces.Element{
		"div.q": {{Text: ""}, {Text: "Only this one resolves"}, {Text: ""}},
	}}

	e := NewDOMExtractor()
	result, err := e.ExtractPage(context.Background(), driver, sampleTarget(), "run-1", "quizsite")
	require.NoError(t, err)
	assert.Less(t, result.SelectorHitRate, SchemaDriftThreshold)
}

func TestAdvance_NextLinkFollowsHref(t *testing.T) {
	driver := &fakeDriver{
		bySelector: map[string][]interfaces.Element{
			"a.next": {{Attrs: map[string]string{"href": "https://example.com/page/2"}}},
		},
		gotoResult: &interfaces.PageLoadResult{OK: true},
	}

	e := NewDOMExtractor()
	ok, err := e.Advance(context.Background(), driver, sampleTarget())
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, driver.gotoCalls, 1)
	assert.Equal(t, "https://example.com/page/2", driver.gotoCalls[0])
}

func TestAdvance_NoNextLinkStopsPagination(t *testing.T) {
	driver := &fakeDriver{bySelector: map[string][]interfaces.Element{}}

	e := NewDOMExtractor()
	ok, err := e.Advance(context.Background(), driver, sampleTarget())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdvance_NoneKindNeverAdvances(t *testing.T) {
	target := sampleTarget()
	target.Pagination = models.PaginationNone
	driver := &fakeDriver{}

	e := NewDOMExtractor()
	ok, err := e.Advance(context.Background(), driver, target)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdvance_InfiniteScrollDelegatesToDriver(t *testing.T) {
	target := sampleTarget()
	target.Pagination = models.PaginationInfiniteScroll
	target.MaxSteps = 3
	driver := &fakeDriver{}

	e := NewDOMExtractor()
	ok, err := e.Advance(context.Background(), driver, target)
	require.NoError(t, err)
	assert.True(t, ok)
}
