package executor

import (
	"container/heap"
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"polycopy/internal/domain"
)

// SchedulerConfig holds the retry backoff parameters.
type SchedulerConfig struct {
	BaseDelay time.Duration
	Factor    float64
	MaxDelay  time.Duration
}

// DefaultSchedulerConfig doubles from one second, capped at a minute.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BaseDelay: time.Second,
		Factor:    2,
		MaxDelay:  60 * time.Second,
	}
}

// retryItem is a heap entry ordered by readiness time.
type retryItem struct {
	tradeID string
	readyAt time.Time
	index   int
}

type retryHeap []*retryItem

func (h retryHeap) Len() int           { return len(h) }
func (h retryHeap) Less(i, j int) bool { return h[i].readyAt.Before(h[j].readyAt) }
func (h retryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *retryHeap) Push(x any) {
	item := x.(*retryItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Scheduler holds failed trades in a min-heap keyed by readiness time and
// fires each one back through the retry path exactly once when due.
type Scheduler struct {
	cfg         SchedulerConfig
	retry       func(ctx context.Context, tradeID string)
	trades      domain.TradeStore
	maxAttempts int
	logger      *slog.Logger

	mu        sync.Mutex
	queue     retryHeap
	scheduled map[string]*retryItem
	wake      chan struct{}
}

// NewScheduler creates a Scheduler. retry is invoked from the Run loop for
// each due trade.
func NewScheduler(
	cfg SchedulerConfig,
	trades domain.TradeStore,
	maxAttempts int,
	retry func(ctx context.Context, tradeID string),
	logger *slog.Logger,
) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.Factor <= 1 {
		cfg.Factor = def.Factor
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &Scheduler{
		cfg:         cfg,
		retry:       retry,
		trades:      trades,
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("component", "retry_scheduler")),
		scheduled:   make(map[string]*retryItem),
		wake:        make(chan struct{}, 1),
	}
}

// Delay returns the backoff before the given retry attempt:
// base * factor^(retryCount-1), capped at MaxDelay.
func (s *Scheduler) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := time.Duration(float64(s.cfg.BaseDelay) * math.Pow(s.cfg.Factor, float64(retryCount-1)))
	if d > s.cfg.MaxDelay || d <= 0 {
		d = s.cfg.MaxDelay
	}
	return d
}

// Schedule enqueues a retry for the trade and returns its readiness time.
// Scheduling an already-queued trade is a no-op returning the existing time.
func (s *Scheduler) Schedule(tradeID string, retryCount int) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.scheduled[tradeID]; ok {
		return existing.readyAt
	}
	item := &retryItem{
		tradeID: tradeID,
		readyAt: time.Now().UTC().Add(s.Delay(retryCount)),
	}
	heap.Push(&s.queue, item)
	s.scheduled[tradeID] = item
	s.signal()
	return item.readyAt
}

// Cancel removes the trade from the queue if present.
func (s *Scheduler) Cancel(tradeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.scheduled[tradeID]
	if !ok {
		return
	}
	heap.Remove(&s.queue, item.index)
	delete(s.scheduled, tradeID)
	s.signal()
}

// Pending reports the number of queued retries.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Recover sweeps the store for trades left in FAILED state by a previous run
// and re-enqueues the ones with retry budget remaining.
func (s *Scheduler) Recover(ctx context.Context) error {
	failed, err := s.trades.ListByStatus(ctx, domain.TradeStatusFailed, domain.ListOpts{})
	if err != nil {
		return err
	}
	recovered := 0
	for _, trade := range failed {
		if s.maxAttempts > 0 && trade.RetryCount >= s.maxAttempts {
			continue
		}
		s.Schedule(trade.ID, trade.RetryCount)
		recovered++
	}
	if recovered > 0 {
		s.logger.Info("recovered failed trades", slog.Int("count", recovered))
	}
	return nil
}

// Run drains the queue until ctx is done. Each due trade is handed to the
// retry callback once; re-scheduling after another failure is the executor's
// job.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, ok := s.peek()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
				continue
			}
		}

		wait := time.Until(next)
		if wait > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
				continue
			case <-timer.C:
			}
		}

		for _, id := range s.popDue(time.Now().UTC()) {
			s.retry(ctx, id)
		}
	}
}

func (s *Scheduler) peek() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].readyAt, true
}

func (s *Scheduler) popDue(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []string
	for len(s.queue) > 0 && !s.queue[0].readyAt.After(now) {
		item := heap.Pop(&s.queue).(*retryItem)
		delete(s.scheduled, item.tradeID)
		due = append(due, item.tradeID)
	}
	return due
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
