package antidetect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aptiscout/aptiscout/internal/common"
)

func TestAcquireSession_ReturnsPopulatedProfile(t *testing.T) {
	s := NewSubstrate(common.NewSilentLogger())
	sess, err := s.AcquireSession(context.Background(), "StaticSrc")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.UserAgent)
	assert.NotEmpty(t, sess.Viewport)
}

func TestNotifyOutcome_BlockRaisesRiskAndPausesSource(t *testing.T) {
	s := NewSubstrate(common.NewSilentLogger())
	s.ConfigureSource("staticsrc", 0.5, 100*time.Millisecond, time.Minute, nil, "")

	sess, _ := s.AcquireSession(context.Background(), "StaticSrc")
	// Each block is a 1.0 sample blended at weight 0.3: the first raises risk
	// to 0.3, the second to about 0.51, past the 0.5 threshold.
	s.NotifyOutcome("StaticSrc", sess, "http://x", 429, 10*time.Millisecond, true)
	s.NotifyOutcome("StaticSrc", sess, "http://x", 429, 10*time.Millisecond, true)

	paused, cooldown := s.ShouldPauseSource("staticsrc")
	assert.True(t, paused)
	assert.Greater(t, cooldown, time.Duration(0))
}

func TestShouldPauseSource_CaseInsensitiveLookup(t *testing.T) {
	s := NewSubstrate(common.NewSilentLogger())
	s.ConfigureSource("StaticSrc", 0.1, time.Second, time.Minute, nil, "")
	sess, _ := s.AcquireSession(context.Background(), "STATICSRC")
	s.NotifyOutcome("staticsrc", sess, "http://x", 503, 0, true)

	paused, _ := s.ShouldPauseSource("STATICSRC")
	assert.True(t, paused)
}
