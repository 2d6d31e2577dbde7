// Package dedup implements C8: near-duplicate detection over ProcessedQuestion
// embeddings, with separate same-source and cross-source similarity
// thresholds and a reliability-weighted representative-selection rule.
package dedup

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
)

// Config tunes the detector's thresholds and index sizing.
type Config struct {
	SameSourceThreshold  float64 // default 0.92
	CrossSourceThreshold float64 // default 0.85
	TopK                 int     // neighbors considered per lookup, default 5
	CacheSize            int     // embedding LRU capacity, default 5000
}

// DefaultConfig returns the documented default similarity thresholds.
func DefaultConfig() Config {
	return Config{
		SameSourceThreshold:  0.92,
		CrossSourceThreshold: 0.85,
		TopK:                 5,
		CacheSize:            5000,
	}
}

// ReliabilityFunc resolves a source's current reliability score, used to pick
// the representative among cross-source duplicates.
type ReliabilityFunc func(sourceID string) float64

type indexEntry struct {
	id          string
	sourceID    string
	embedding   []float32
	clusterID   string
	extractedAt time.Time
}

// Detector is the C8 nearest-neighbor duplicate index. It keeps the embedding
// index in memory (brute-force cosine scan, rebuilt implicitly as entries are
// inserted — acceptable at the scale a single scraping engine produces) and
// persists cluster state through interfaces.DuplicateStore.
type Detector struct {
	mu          sync.Mutex
	cfg         Config
	store       interfaces.DuplicateStore
	logger      *common.Logger
	reliability ReliabilityFunc
	index       []indexEntry
	cache       *lruCache
}

// NewDetector builds a Detector. reliability may be nil, in which case every
// source is treated as equally reliable and ties fall through to the
// earliest-extracted tiebreak alone.
func NewDetector(store interfaces.DuplicateStore, logger *common.Logger, cfg Config, reliability ReliabilityFunc) *Detector {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Detector{
		cfg:         cfg,
		store:       store,
		logger:      logger,
		reliability: reliability,
		cache:       newLRUCache(cfg.CacheSize),
	}
}

// CachedEmbedding returns a previously computed embedding for a text hash,
// sparing the AI processor a redundant EmbedText call.
func (d *Detector) CachedEmbedding(textHash string) ([]float32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cache.get(textHash)
}

// CacheEmbedding records a text hash's embedding for future reuse.
func (d *Detector) CacheEmbedding(textHash string, embedding []float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.put(textHash, embedding)
}

// Evaluate checks q's embedding against the index, merging it into an
// existing cluster when a neighbor clears the applicable threshold
// (same-source vs cross-source), or leaving it unclustered otherwise. It
// returns the cluster id q was assigned to, if any.
func (d *Detector) Evaluate(ctx context.Context, q *models.ProcessedQuestion) (string, error) {
	if len(q.Embedding) == 0 {
		return "", nil
	}

	d.mu.Lock()
	best, bestSim, crossSource := d.bestMatchLocked(q)
	d.mu.Unlock()

	if best == nil {
		d.insert(q, "")
		return "", nil
	}

	threshold := d.cfg.SameSourceThreshold
	if crossSource {
		threshold = d.cfg.CrossSourceThreshold
	}
	if bestSim < threshold {
		d.insert(q, "")
		return "", nil
	}

	clusterID := best.clusterID
	if clusterID == "" {
		clusterID = uuid.New().String()
	}

	cluster, err := d.mergeCluster(ctx, clusterID, best, q, bestSim, crossSource)
	if err != nil {
		return "", err
	}

	d.insert(q, clusterID)
	return cluster.ClusterID, nil
}

// bestMatchLocked scans the in-memory index for the highest-cosine-similarity
// neighbor among the top-K candidates. Must be called with d.mu held.
func (d *Detector) bestMatchLocked(q *models.ProcessedQuestion) (*indexEntry, float64, bool) {
	type scored struct {
		entry *indexEntry
		sim   float64
	}
	var candidates []scored
	for i := range d.index {
		e := &d.index[i]
		if e.id == q.ID {
			continue
		}
		sim := cosineSimilarity(e.embedding, q.Embedding)
		candidates = append(candidates, scored{entry: e, sim: sim})
	}
	if len(candidates) == 0 {
		return nil, 0, false
	}

	// Partial selection of the top-K by similarity; index sizes here are
	// small enough that a full sort is simpler than maintaining a heap.
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].sim > candidates[i].sim {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}
	k := d.cfg.TopK
	if k > len(candidates) {
		k = len(candidates)
	}

	best := candidates[0]
	for i := 1; i < k; i++ {
		if candidates[i].sim > best.sim {
			best = candidates[i]
		}
	}
	return best.entry, best.sim, best.entry.sourceID != models.NormalizeSourceID(q.SourceID)
}

func (d *Detector) insert(q *models.ProcessedQuestion, clusterID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.index = append(d.index, indexEntry{
		id:          q.ID,
		sourceID:    models.NormalizeSourceID(q.SourceID),
		embedding:   q.Embedding,
		clusterID:   clusterID,
		extractedAt: q.ExtractedAt,
	})
}

// mergeCluster loads (or creates) the cluster, applies the representative
// tiebreak rule, and persists it.
func (d *Detector) mergeCluster(ctx context.Context, clusterID string, match *indexEntry, q *models.ProcessedQuestion, similarity float64, crossSource bool) (*models.DuplicateCluster, error) {
	cluster, err := d.store.Find(ctx, clusterID)
	if err != nil || cluster == nil {
		cluster = &models.DuplicateCluster{
			ClusterID:        clusterID,
			MemberIDs:        []string{match.id},
			RepresentativeID: match.id,
			CreatedAt:        time.Now(),
		}
	}

	cluster.MemberIDs = appendUnique(cluster.MemberIDs, q.ID)
	if similarity > cluster.MaxSimilarity {
		cluster.MaxSimilarity = similarity
	}
	cluster.CrossSource = cluster.CrossSource || crossSource
	cluster.UpdatedAt = time.Now()

	cluster.RepresentativeID = d.pickRepresentative(cluster.RepresentativeID, q, match)

	if err := d.store.Upsert(ctx, cluster); err != nil {
		return nil, fmt.Errorf("failed to persist duplicate cluster: %w", err)
	}
	return cluster, nil
}

// pickRepresentative applies the cross-source tiebreak rule (testable
// property #6): the member from the most reliable source wins; ties break
// on earliest extracted_at.
func (d *Detector) pickRepresentative(currentID string, q *models.ProcessedQuestion, match *indexEntry) string {
	currentReliability, currentExtractedAt := d.memberStats(currentID, match)
	candidateReliability := d.sourceReliability(q.SourceID)

	if candidateReliability > currentReliability {
		return q.ID
	}
	if candidateReliability == currentReliability && q.ExtractedAt.Before(currentExtractedAt) {
		return q.ID
	}
	return currentID
}

func (d *Detector) memberStats(memberID string, match *indexEntry) (float64, time.Time) {
	if memberID == match.id {
		return d.sourceReliability(match.sourceID), match.extractedAt
	}
	if sourceID, extractedAt, ok := d.findIndexed(memberID); ok {
		return d.sourceReliability(sourceID), extractedAt
	}
	// The current representative predates this process's in-memory index
	// (e.g. after a restart); fall back to the matched neighbor's stats so
	// the comparison stays deterministic rather than erroring out.
	return d.sourceReliability(match.sourceID), match.extractedAt
}

// findIndexed looks up a previously indexed question's source and extraction
// time by id, independent of which neighbor the current match happens to be.
func (d *Detector) findIndexed(id string) (string, time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.index {
		if d.index[i].id == id {
			return d.index[i].sourceID, d.index[i].extractedAt, true
		}
	}
	return "", time.Time{}, false
}

func (d *Detector) sourceReliability(sourceID string) float64 {
	if d.reliability == nil {
		return 0
	}
	return d.reliability(models.NormalizeSourceID(sourceID))
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// cosineSimilarity computes cosine similarity between two equal-length
// embedding vectors, returning 0 for mismatched lengths or zero vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
