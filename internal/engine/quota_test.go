package engine

import (
	"context"
	"testing"

	"github.com/aptiscout/aptiscout/internal/models"
)

func TestPerTargetQuota(t *testing.T) {
	cases := []struct {
		name         string
		maxPerSource int
		targetCount  int
		want         int
	}{
		{"even split", 100, 4, 25},
		{"floor division", 10, 3, 3},
		{"no targets", 50, 0, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := perTargetQuota(c.maxPerSource, c.targetCount); got != c.want {
				t.Errorf("perTargetQuota(%d, %d) = %d, want %d", c.maxPerSource, c.targetCount, got, c.want)
			}
		})
	}
}

func TestEffectiveQuota_HardCapOverridesSplitQuota(t *testing.T) {
	capped := models.Target{HardCap: 5}
	if got := effectiveQuota(capped, 100); got != 5 {
		t.Errorf("expected hard cap to override quota, got %d", got)
	}

	uncapped := models.Target{}
	if got := effectiveQuota(uncapped, 25); got != 25 {
		t.Errorf("expected quota to pass through when no hard cap, got %d", got)
	}
}

func TestCategoryAllowed(t *testing.T) {
	if !categoryAllowed("anything", nil) {
		t.Error("an empty allow-list should allow every category")
	}
	if !categoryAllowed("finance", []string{"general", "finance"}) {
		t.Error("expected listed category to be allowed")
	}
	if categoryAllowed("finance", []string{"general"}) {
		t.Error("expected unlisted category to be rejected")
	}
}

func TestFilteredTargets_MatchesEnqueueAndCompletionSizing(t *testing.T) {
	cfg := sourceConfig("source-a", target("t-general", "general"), target("t-finance", "finance"))

	all := filteredTargets(cfg, nil)
	if len(all) != 2 {
		t.Fatalf("expected no filter to keep both targets, got %d", len(all))
	}

	general := filteredTargets(cfg, []string{"general"})
	if len(general) != 1 || general[0].ID != "t-general" {
		t.Fatalf("expected only t-general to survive the filter, got %+v", general)
	}
}

func TestDrawSpillInto_OffersLeftoverQuotaToAnotherTarget(t *testing.T) {
	storage := newFakeStorage()
	cfg := sourceConfig("source-a", target("t1", "general"), target("t2", "general"))
	storage.putSource(cfg)

	e := newTestEngine(storage, 1)
	run := &models.JobRun{
		RunID: "run-1",
		Spec:  models.JobSpec{SourceIDs: []string{"source-a"}, Priority: models.PriorityMedium},
		State: models.JobRunning,
		Targets: map[string]models.TargetProgress{
			// t1 just finished and failed out, so it's no longer schedulable;
			// the spill must land on the other still-open target, t2.
			"t1": {TargetID: "t1", Failed: true},
		},
	}
	st := &runState{
		run:       run,
		source:    map[string]*models.SourceConfig{"source-a": cfg},
		pauseCh:   make(chan struct{}),
		spillPool: map[string]int{"source-a": 7},
	}

	e.drawSpillInto(st, "source-a")

	if st.outstanding != 1 {
		t.Fatalf("expected drawSpillInto to push one work item, outstanding=%d", st.outstanding)
	}
	if st.spillPool["source-a"] != 0 {
		t.Errorf("expected spill pool to be drained once drawn, got %d", st.spillPool["source-a"])
	}

	item, ok := e.sched.pop(context.Background())
	if !ok {
		t.Fatal("expected a work item to have been pushed onto the scheduler")
	}
	if item.target.ID != "t2" {
		t.Errorf("expected the spill to go to the untouched target t2, got %s", item.target.ID)
	}
	if item.remainingQuota != 7 {
		t.Errorf("expected the full spill amount to carry over, got %d", item.remainingQuota)
	}
}

func TestDrawSpillInto_NoCandidateLeavesSpillUntouched(t *testing.T) {
	storage := newFakeStorage()
	hardCapped := target("t1", "general")
	hardCapped.HardCap = 10
	cfg := sourceConfig("source-a", hardCapped)
	storage.putSource(cfg)
	e := newTestEngine(storage, 1)

	run := &models.JobRun{
		RunID:   "run-1",
		Spec:    models.JobSpec{SourceIDs: []string{"source-a"}},
		State:   models.JobRunning,
		Targets: map[string]models.TargetProgress{},
	}
	st := &runState{
		run:       run,
		source:    map[string]*models.SourceConfig{"source-a": cfg},
		pauseCh:   make(chan struct{}),
		spillPool: map[string]int{"source-a": 3},
	}

	e.drawSpillInto(st, "source-a")

	if st.outstanding != 0 {
		t.Errorf("expected no work to be pushed when no candidate target exists, outstanding=%d", st.outstanding)
	}
}
