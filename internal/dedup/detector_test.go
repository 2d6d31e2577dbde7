package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/models"
)

type memStore struct {
	clusters map[string]*models.DuplicateCluster
}

func newMemStore() *memStore { return &memStore{clusters: make(map[string]*models.DuplicateCluster)} }

func (m *memStore) Upsert(ctx context.Context, c *models.DuplicateCluster) error {
	m.clusters[c.ClusterID] = c
	return nil
}

func (m *memStore) Find(ctx context.Context, clusterID string) (*models.DuplicateCluster, error) {
	c, ok := m.clusters[clusterID]
	if !ok {
		return nil, nil
	}
	return c, nil
}

func (m *memStore) CrossSourceCount(ctx context.Context, since time.Time) (int, error) { return 0, nil }
func (m *memStore) TopBySize(ctx context.Context, limit int) ([]*models.DuplicateCluster, error) {
	return nil, nil
}

func TestDetectorFlagsSameSourceDuplicate(t *testing.T) {
	store := newMemStore()
	d := NewDetector(store, common.NewSilentLogger(), DefaultConfig(), nil)
	ctx := context.Background()

	first := &models.ProcessedQuestion{ID: "q1", SourceID: "quizbank", Embedding: []float32{1, 0, 0}, ExtractedAt: time.Now()}
	clusterID, err := d.Evaluate(ctx, first)
	require.NoError(t, err)
	require.Empty(t, clusterID)

	second := &models.ProcessedQuestion{ID: "q2", SourceID: "quizbank", Embedding: []float32{0.99, 0.01, 0}, ExtractedAt: time.Now()}
	clusterID, err = d.Evaluate(ctx, second)
	require.NoError(t, err)
	require.NotEmpty(t, clusterID)

	cluster := store.clusters[clusterID]
	require.Contains(t, cluster.MemberIDs, "q1")
	require.Contains(t, cluster.MemberIDs, "q2")
	require.False(t, cluster.CrossSource)
}

func TestDetectorDoesNotClusterBelowCrossSourceThreshold(t *testing.T) {
	store := newMemStore()
	cfg := DefaultConfig()
	d := NewDetector(store, common.NewSilentLogger(), cfg, nil)
	ctx := context.Background()

	first := &models.ProcessedQuestion{ID: "q1", SourceID: "sourceA", Embedding: []float32{1, 0, 0}, ExtractedAt: time.Now()}
	_, err := d.Evaluate(ctx, first)
	require.NoError(t, err)

	// cosine(q1, mid) = 0.8, below both the same-source (0.92) and
	// cross-source (0.85) thresholds.
	mid := &models.ProcessedQuestion{ID: "q2", SourceID: "sourceB", Embedding: []float32{0.8, 0.6, 0}, ExtractedAt: time.Now()}
	clusterID, err := d.Evaluate(ctx, mid)
	require.NoError(t, err)
	require.Empty(t, clusterID, "similarity below cross-source threshold must not cluster")
}

func TestDetectorPicksMostReliableRepresentative(t *testing.T) {
	store := newMemStore()
	reliability := map[string]float64{"sourcea": 0.5, "sourceb": 0.9}
	d := NewDetector(store, common.NewSilentLogger(), DefaultConfig(), func(sourceID string) float64 {
		return reliability[sourceID]
	})
	ctx := context.Background()

	first := &models.ProcessedQuestion{ID: "q1", SourceID: "sourceA", Embedding: []float32{1, 0, 0}, ExtractedAt: time.Now()}
	_, err := d.Evaluate(ctx, first)
	require.NoError(t, err)

	second := &models.ProcessedQuestion{ID: "q2", SourceID: "sourceB", Embedding: []float32{0.999, 0.01, 0}, ExtractedAt: time.Now()}
	clusterID, err := d.Evaluate(ctx, second)
	require.NoError(t, err)
	require.NotEmpty(t, clusterID)

	require.Equal(t, "q2", store.clusters[clusterID].RepresentativeID)
}
