package engine

import (
	"context"

	"github.com/aptiscout/aptiscout/internal/models"
)

// workItem is one target-visit scheduled onto the worker pool.
type workItem struct {
	runID          string
	sourceID       string
	target         models.Target
	priority       models.Priority
	remainingQuota int
	resumeCursor   string
}

// scheduler is a FIFO-within-priority-class queue ("jobs are served FIFO
// within priority class; higher priority preempts only at target boundaries").
// Each priority class has its own buffered lane; pop always drains the
// highest non-empty lane first, so a newly queued urgent item is only picked
// up once the currently in-flight target finishes — not mid-page.
type scheduler struct {
	lanes  map[models.Priority]chan workItem
	notify chan struct{}
}

var priorityOrder = []models.Priority{models.PriorityUrgent, models.PriorityHigh, models.PriorityMedium, models.PriorityLow}

const laneCapacity = 4096

func newScheduler() *scheduler {
	s := &scheduler{
		lanes:  make(map[models.Priority]chan workItem, len(priorityOrder)),
		notify: make(chan struct{}, 1),
	}
	for _, p := range priorityOrder {
		s.lanes[p] = make(chan workItem, laneCapacity)
	}
	return s
}

func (s *scheduler) push(item workItem) {
	lane, ok := s.lanes[item.priority]
	if !ok {
		lane = s.lanes[models.PriorityMedium]
	}
	lane <- item
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pop blocks until a work item is available, returning the highest-priority
// non-empty lane's item. A select across multiple ready lanes would pick
// among them uniformly at random, breaking "higher priority preempts"; pop
// instead always re-scans lanes in priority order and only blocks on a
// one-shot wake signal between scans, never on the lanes themselves.
func (s *scheduler) pop(ctx context.Context) (workItem, bool) {
	for {
		for _, p := range priorityOrder {
			select {
			case item := <-s.lanes[p]:
				return item, true
			default:
			}
		}

		select {
		case <-ctx.Done():
			return workItem{}, false
		case <-s.notify:
		}
	}
}
