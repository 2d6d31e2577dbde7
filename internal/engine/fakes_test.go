package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/extractors"
	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

// --- fake storage ---

type fakeStorage struct {
	mu      sync.Mutex
	sources map[string]*models.SourceConfig
	specs   map[string]*models.JobSpec
	runs    map[string]*models.JobRun
	raw     map[string]bool // sourceID|targetID|stableKey -> exists
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		sources: make(map[string]*models.SourceConfig),
		specs:   make(map[string]*models.JobSpec),
		runs:    make(map[string]*models.JobRun),
		raw:     make(map[string]bool),
	}
}

func (f *fakeStorage) SourceStore() interfaces.SourceConfigStore { return fakeSourceStore{f} }
func (f *fakeStorage) JobStore() interfaces.JobStore             { return fakeJobStore{f} }
func (f *fakeStorage) QuestionStore() interfaces.QuestionStore   { return fakeQuestionStore{f} }
func (f *fakeStorage) DuplicateStore() interfaces.DuplicateStore { return fakeDuplicateStore{} }
func (f *fakeStorage) EventStore() interfaces.EventStore         { return fakeEventStore{} }
func (f *fakeStorage) MetricStore() interfaces.MetricStore       { return fakeMetricStore{} }
func (f *fakeStorage) AlertStore() interfaces.AlertStore         { return fakeAlertStore{} }
func (f *fakeStorage) Close() error                              { return nil }

func (f *fakeStorage) putSource(cfg *models.SourceConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[models.NormalizeSourceID(cfg.SourceID)] = cfg
}

type fakeSourceStore struct{ f *fakeStorage }

func (s fakeSourceStore) Upsert(ctx context.Context, cfg *models.SourceConfig) error {
	s.f.putSource(cfg)
	return nil
}

func (s fakeSourceStore) FindByID(ctx context.Context, sourceID string) (*models.SourceConfig, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	cfg, ok := s.f.sources[models.NormalizeSourceID(sourceID)]
	if !ok {
		return nil, fmt.Errorf("source %s not found", sourceID)
	}
	return cfg, nil
}

func (s fakeSourceStore) List(ctx context.Context) ([]*models.SourceConfig, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	out := make([]*models.SourceConfig, 0, len(s.f.sources))
	for _, cfg := range s.f.sources {
		out = append(out, cfg)
	}
	return out, nil
}

func (s fakeSourceStore) SetReliability(ctx context.Context, sourceID string, reliability float64) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if cfg, ok := s.f.sources[models.NormalizeSourceID(sourceID)]; ok {
		cfg.ReliabilityScore = reliability
	}
	return nil
}

type fakeJobStore struct{ f *fakeStorage }

func (j fakeJobStore) CreateSpec(ctx context.Context, spec *models.JobSpec) error {
	j.f.mu.Lock()
	defer j.f.mu.Unlock()
	j.f.specs[spec.JobID] = spec
	return nil
}

func (j fakeJobStore) FindSpec(ctx context.Context, jobID string) (*models.JobSpec, error) {
	j.f.mu.Lock()
	defer j.f.mu.Unlock()
	spec, ok := j.f.specs[jobID]
	if !ok {
		return nil, fmt.Errorf("spec %s not found", jobID)
	}
	return spec, nil
}

func (j fakeJobStore) ListSpecs(ctx context.Context, limit int) ([]*models.JobSpec, error) {
	j.f.mu.Lock()
	defer j.f.mu.Unlock()
	out := make([]*models.JobSpec, 0, len(j.f.specs))
	for _, s := range j.f.specs {
		out = append(out, s)
	}
	return out, nil
}

func (j fakeJobStore) CreateRun(ctx context.Context, run *models.JobRun) error {
	j.f.mu.Lock()
	defer j.f.mu.Unlock()
	cp := *run
	j.f.runs[run.RunID] = &cp
	return nil
}

func (j fakeJobStore) UpdateRun(ctx context.Context, run *models.JobRun) error {
	j.f.mu.Lock()
	defer j.f.mu.Unlock()
	cp := *run
	j.f.runs[run.RunID] = &cp
	return nil
}

func (j fakeJobStore) FindRun(ctx context.Context, runID string) (*models.JobRun, error) {
	j.f.mu.Lock()
	defer j.f.mu.Unlock()
	run, ok := j.f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	cp := *run
	return &cp, nil
}

func (j fakeJobStore) ListRuns(ctx context.Context, limit int) ([]*models.JobRun, error) {
	j.f.mu.Lock()
	defer j.f.mu.Unlock()
	out := make([]*models.JobRun, 0, len(j.f.runs))
	for _, r := range j.f.runs {
		out = append(out, r)
	}
	return out, nil
}

func (j fakeJobStore) ListRunsByState(ctx context.Context, state models.JobState) ([]*models.JobRun, error) {
	j.f.mu.Lock()
	defer j.f.mu.Unlock()
	var out []*models.JobRun
	for _, r := range j.f.runs {
		if r.State == state {
			out = append(out, r)
		}
	}
	return out, nil
}

func (j fakeJobStore) SoftDeleteRun(ctx context.Context, runID string) error {
	j.f.mu.Lock()
	defer j.f.mu.Unlock()
	if r, ok := j.f.runs[runID]; ok {
		r.Deleted = true
	}
	return nil
}

func (j fakeJobStore) ResetRunningRuns(ctx context.Context) (int, error) { return 0, nil }

type fakeQuestionStore struct{ f *fakeStorage }

func (q fakeQuestionStore) SaveRaw(ctx context.Context, raw *models.RawQuestion) error {
	q.f.mu.Lock()
	defer q.f.mu.Unlock()
	q.f.raw[raw.SourceID+"|"+raw.TargetID+"|"+raw.StableKey] = true
	return nil
}

func (q fakeQuestionStore) ExistsByStableKey(ctx context.Context, sourceID, targetID, stableKey string) (bool, error) {
	q.f.mu.Lock()
	defer q.f.mu.Unlock()
	return q.f.raw[sourceID+"|"+targetID+"|"+stableKey], nil
}

func (q fakeQuestionStore) UpsertProcessed(ctx context.Context, p *models.ProcessedQuestion) error {
	return nil
}
func (q fakeQuestionStore) FindProcessed(ctx context.Context, id string) (*models.ProcessedQuestion, error) {
	return nil, fmt.Errorf("not found")
}
func (q fakeQuestionStore) RangeProcessed(ctx context.Context, opts interfaces.QuestionRangeOptions) ([]*models.ProcessedQuestion, error) {
	return nil, nil
}
func (q fakeQuestionStore) CountByVerdict(ctx context.Context, jobRunID string) (map[models.GateVerdict]int, error) {
	return nil, nil
}
func (q fakeQuestionStore) FindByText(ctx context.Context, sourceID, normalizedText string) (*models.ProcessedQuestion, error) {
	return nil, fmt.Errorf("not found")
}

type fakeDuplicateStore struct{}

func (fakeDuplicateStore) Upsert(ctx context.Context, c *models.DuplicateCluster) error { return nil }
func (fakeDuplicateStore) Find(ctx context.Context, clusterID string) (*models.DuplicateCluster, error) {
	return nil, fmt.Errorf("not found")
}
func (fakeDuplicateStore) CrossSourceCount(ctx context.Context, since time.Time) (int, error) {
	return 0, nil
}
func (fakeDuplicateStore) TopBySize(ctx context.Context, limit int) ([]*models.DuplicateCluster, error) {
	return nil, nil
}

type fakeEventStore struct{}

func (fakeEventStore) Append(ctx context.Context, e *models.Event) error { return nil }
func (fakeEventStore) RangeFrom(ctx context.Context, sequence int64, limit int) ([]*models.Event, error) {
	return nil, nil
}
func (fakeEventStore) NextSequence(ctx context.Context) (int64, error) { return 1, nil }

type fakeMetricStore struct{}

func (fakeMetricStore) Append(ctx context.Context, m *models.MetricPoint) error { return nil }
func (fakeMetricStore) Range(ctx context.Context, name string, since time.Time) ([]*models.MetricPoint, error) {
	return nil, nil
}

type fakeAlertStore struct{}

func (fakeAlertStore) Upsert(ctx context.Context, a *models.Alert) error { return nil }
func (fakeAlertStore) FindFiring(ctx context.Context, ruleID string) (*models.Alert, error) {
	return nil, fmt.Errorf("not found")
}
func (fakeAlertStore) List(ctx context.Context, state models.AlertState) ([]*models.Alert, error) {
	return nil, nil
}

// --- fake anti-detect substrate ---

// fakeSubstrate grants every session and never blocks, recording which
// sources loadSources configured it for.
type fakeSubstrate struct {
	mu         sync.Mutex
	configured []string
}

func (s *fakeSubstrate) AcquireSession(ctx context.Context, sourceID string) (*interfaces.Session, error) {
	return &interfaces.Session{ID: "sess-" + sourceID}, nil
}
func (s *fakeSubstrate) NotifyOutcome(sourceID string, sess *interfaces.Session, url string, status int, latency time.Duration, detectedBlock bool) {
}
func (s *fakeSubstrate) DelayBetweenActions(sess *interfaces.Session) time.Duration { return 0 }
func (s *fakeSubstrate) ShouldPauseSource(sourceID string) (bool, time.Duration)    { return false, 0 }
func (s *fakeSubstrate) ConfigureSource(sourceID string, riskThreshold float64, cooldown, halfLife time.Duration, proxyEndpoints []string, proxyStrategy string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configured = append(s.configured, sourceID)
}

// --- fake rate limiter ---

type fakeLimiter struct{}

func (fakeLimiter) Acquire(ctx context.Context) (interfaces.LimitGrant, error) {
	return interfaces.LimitGrant{Granted: true}, nil
}
func (fakeLimiter) NotifyResult(success bool) {}

// --- fake driver ---

type fakeDriver struct{}

func (fakeDriver) Start(ctx context.Context, sess *interfaces.Session, baseURL string) error {
	return nil
}
func (fakeDriver) Goto(ctx context.Context, url string, wait interfaces.WaitStrategy, waitArg string) (*interfaces.PageLoadResult, error) {
	return &interfaces.PageLoadResult{OK: true, Status: 200}, nil
}
func (fakeDriver) QueryAll(selector string) ([]interfaces.Element, error) { return nil, nil }
func (fakeDriver) Extract(el interfaces.Element, kind interfaces.ExtractKind, attr string) (string, error) {
	return "", nil
}
func (fakeDriver) ScrollToBottom(ctx context.Context, maxSteps int, pauseBetween time.Duration) (bool, error) {
	return false, nil
}
func (fakeDriver) ExecuteScript(ctx context.Context, script string) (any, error) { return nil, nil }
func (fakeDriver) Screenshot(ctx context.Context) ([]byte, error)                { return nil, nil }
func (fakeDriver) Close() error                                                  { return nil }

// --- fake extractor ---

// fakeExtractor hands out a fixed number of records per target on its only
// page visit, then reports pagination exhausted.
type fakeExtractor struct {
	recordsPerPage int
}

func (e *fakeExtractor) ExtractPage(ctx context.Context, driver interfaces.Driver, target models.Target, jobRunID, sourceID string) (extractors.ExtractionResult, error) {
	records := make([]models.RawQuestion, e.recordsPerPage)
	for i := range records {
		records[i] = models.RawQuestion{
			SourceID:  sourceID,
			TargetID:  target.ID,
			StableKey: fmt.Sprintf("%s-%d", target.ID, i),
		}
	}
	return extractors.ExtractionResult{OK: true, Records: records, SelectorHitRate: 1.0}, nil
}

func (e *fakeExtractor) Advance(ctx context.Context, driver interfaces.Driver, target models.Target) (bool, error) {
	return false, nil
}

// gatedExtractor blocks its first ExtractPage call on release until the test
// signals it, so a test can deterministically observe a target mid-flight
// before it completes — used to exercise pause/resume without a timing race.
type gatedExtractor struct {
	release chan struct{}
}

func newGatedExtractor() *gatedExtractor {
	return &gatedExtractor{release: make(chan struct{})}
}

func (e *gatedExtractor) ExtractPage(ctx context.Context, driver interfaces.Driver, target models.Target, jobRunID, sourceID string) (extractors.ExtractionResult, error) {
	select {
	case <-e.release:
	case <-ctx.Done():
		return extractors.ExtractionResult{}, ctx.Err()
	}
	return extractors.ExtractionResult{
		OK:              true,
		SelectorHitRate: 1.0,
		Records: []models.RawQuestion{
			{SourceID: sourceID, TargetID: target.ID, StableKey: target.ID + "-0"},
		},
	}, nil
}

func (e *gatedExtractor) Advance(ctx context.Context, driver interfaces.Driver, target models.Target) (bool, error) {
	return false, nil
}

// newTestEngine wires a fresh Engine over fakes, suitable for exercising the
// state machine end to end without any real browser, storage, or AI backend.
func newTestEngine(storage *fakeStorage, recordsPerPage int) *Engine {
	return newTestEngineWithExtractor(storage, &fakeExtractor{recordsPerPage: recordsPerPage})
}

func newTestEngineWithExtractor(storage *fakeStorage, extractor extractors.Extractor) *Engine {
	drivers := func(method models.ExtractionMethod) (interfaces.Driver, error) { return fakeDriver{}, nil }
	limiters := func(params models.RateLimitParams) interfaces.RateLimiter { return fakeLimiter{} }
	cfg := Config{
		GlobalConcurrency:        4,
		StaticSourceConcurrency:  2,
		DynamicSourceConcurrency: 2,
		CancelGraceSeconds:       5,
		IdleQuorumTicks:          2,
	}
	return NewEngine(storage, &fakeSubstrate{}, extractor, drivers, limiters, nil, nil, nil, common.NewSilentLogger(), cfg)
}
