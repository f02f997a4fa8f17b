// Package syncer drains the offline mutation queue into the remote ledger.
//
// One drain cycle runs at a time. A cycle takes a snapshot of the pending
// mutations and submits them in FIFO order, each under its original
// idempotency key, so a retried submission never creates a duplicate.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/events"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/queue"
)

// ErrSyncInProgress is returned by SyncNow while another cycle is running.
var ErrSyncInProgress = errors.New("sync already in progress")

// errOffline ends a cycle when connectivity drops.
var errOffline = errs.Transient("syncer", errors.New("remote ledger unreachable"))

// Remote is the remote ledger as seen by the orchestrator.
type Remote interface {
	CreateExpense(ctx context.Context, key string, req *models.ExpenseRequest) (*models.Expense, error)
	UpdateExpense(ctx context.Context, key string, req *models.ExpenseRequest) (*models.Expense, error)
	DeleteExpense(ctx context.Context, key, groupID, expenseID string) (*models.Expense, error)
	CreatePayment(ctx context.Context, key string, payment *models.Payment) (*models.Payment, error)
	DeletePayment(ctx context.Context, key, groupID, paymentID string) (*models.Payment, error)
}

// Queue is the subset of the offline queue the orchestrator drives.
type Queue interface {
	ListPending(ctx context.Context) ([]*models.QueuedMutation, error)
	ListFailed(ctx context.Context) ([]*models.QueuedMutation, error)
	MarkInFlight(ctx context.Context, key string) (*models.QueuedMutation, error)
	RecordAttempt(ctx context.Context, key string, cause error) (*models.QueuedMutation, error)
	MarkFailed(ctx context.Context, key string, cause error) (*models.QueuedMutation, error)
	MarkConfirmed(ctx context.Context, key string) (*models.QueuedMutation, error)
	Counts(ctx context.Context) (map[models.MutationStatus]int, error)
}

// Connectivity reports whether the remote ledger is reachable.
type Connectivity interface {
	Online() bool
}

// State is the orchestrator state.
type State string

const (
	StateIdle     State = "idle"
	StateSyncing  State = "syncing"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// Outcome is what happened to one mutation in a cycle.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeRetry     Outcome = "retry"
	OutcomeFailed    Outcome = "failed"
	OutcomeHeld      Outcome = "held"
)

// Config tunes the orchestrator.
type Config struct {
	// MaxAttempts bounds submissions of one mutation before it is marked failed.
	MaxAttempts int
	// BaseDelay and MaxDelay shape the exponential backoff between attempts.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Interval is the period of the background sync loop.
	Interval time.Duration
	// RequestTimeout bounds each remote call.
	RequestTimeout time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Interval:       30 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Summary describes one finished cycle.
type Summary struct {
	State      State     `json:"state"`
	Total      int       `json:"total"`
	Processed  int       `json:"processed"`
	Confirmed  int       `json:"confirmed"`
	Failed     int       `json:"failed"`
	Held       int       `json:"held"`
	Errors     int       `json:"errors"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// Duration is the wall time the cycle took.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State      State    `json:"state"`
	Online     bool     `json:"online"`
	QueueDepth int      `json:"queue_depth"`
	Failed     int      `json:"failed"`
	LastCycle  *Summary `json:"last_cycle,omitempty"`
	// LastSyncedAt is when a cycle last ended with an empty queue and no failures.
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records orchestrator metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithBroker publishes orchestrator events on b.
func WithBroker(b *events.Broker) Option {
	return func(o *Orchestrator) { o.broker = b }
}

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(fn func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithJitter replaces the random source of the backoff.
func WithJitter(fn func(n int64) int64) Option {
	return func(o *Orchestrator) { o.jitter = fn }
}

// Orchestrator drains the queue into the remote ledger.
type Orchestrator struct {
	queue   Queue
	remote  Remote
	conn    Connectivity
	cfg     Config
	broker  *events.Broker
	metrics *Metrics
	sleep   func(context.Context, time.Duration) error
	jitter  func(n int64) int64

	// running is held for the whole cycle.
	running sync.Mutex
	trigger chan struct{}

	mu         sync.RWMutex
	state      State
	last       *Summary
	lastSynced time.Time
	// cycleDone is closed and replaced at the end of every cycle.
	cycleDone chan struct{}
}

// New creates an orchestrator. Zero config fields take their defaults.
func New(q Queue, remote Remote, conn Connectivity, cfg Config, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	o := &Orchestrator{
		queue:     q,
		remote:    remote,
		conn:      conn,
		cfg:       cfg,
		broker:    events.NewBroker(),
		sleep:     sleep,
		jitter:    randomJitter,
		trigger:   make(chan struct{}, 1),
		state:     StateIdle,
		cycleDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Broker returns the broker events are published on.
func (o *Orchestrator) Broker() *events.Broker {
	return o.broker
}

// Trigger requests a cycle from the run loop. Requests made while one is
// already pending coalesce.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run syncs on every tick, trigger and reconnect until ctx is done.
// reconnects may be nil.
func (o *Orchestrator) Run(ctx context.Context, reconnects <-chan struct{}) error {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	o.Trigger()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-o.trigger:
		case <-reconnects:
			slog.Info("Remote ledger reachable again, syncing")
		}

		if _, err := o.SyncNow(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) && ctx.Err() == nil {
			slog.Warn("Sync cycle failed", "error", err)
		}
	}
}

// SyncNow runs one drain cycle and returns its summary. It returns
// ErrSyncInProgress without doing anything when a cycle is already running.
func (o *Orchestrator) SyncNow(ctx context.Context) (*Summary, error) {
	if !o.running.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer o.running.Unlock()

	sum := &Summary{StartedAt: time.Now()}
	o.setState(StateSyncing)

	err := o.drain(ctx, sum)

	sum.FinishedAt = time.Now()
	sum.State = StateComplete
	if err != nil {
		sum.State = StateFailed
		sum.Error = err.Error()
		o.publish(events.Event{Type: events.SyncError, Message: err.Error()})
	}
	o.metrics.cycle(sum.Duration())
	o.publish(events.Event{
		Type:       events.SyncComplete,
		Total:      sum.Total,
		Processed:  sum.Processed,
		Errors:     sum.Errors,
		Confirmed:  sum.Confirmed,
		Failed:     sum.Failed,
		DurationMS: sum.Duration().Milliseconds(),
	})
	o.finish(ctx, sum)

	slog.Info("Sync cycle finished",
		"state", sum.State,
		"total", sum.Total,
		"confirmed", sum.Confirmed,
		"failed", sum.Failed,
		"held", sum.Held,
		"duration", sum.Duration())
	return sum, err
}

func (o *Orchestrator) drain(ctx context.Context, sum *Summary) error {
	pending, err := o.queue.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending mutations: %w", err)
	}
	failed, err := o.queue.ListFailed(ctx)
	if err != nil {
		return fmt.Errorf("failed to list failed mutations: %w", err)
	}
	sum.Total = len(pending)
	o.publish(events.Event{Type: events.SyncStart, Total: sum.Total})

	// Entities with a failed mutation; their later mutations wait until it is
	// retried or discarded.
	blocked := make(map[string]bool, len(failed))
	for _, m := range failed {
		blocked[m.EntityID] = true
	}

	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		var outcome Outcome
		if blocked[m.EntityID] {
			outcome = OutcomeHeld
			sum.Held++
		} else {
			if !o.conn.Online() {
				return errOffline
			}
			outcome, err = o.process(ctx, m)
			if err != nil {
				return err
			}
			switch outcome {
			case OutcomeConfirmed:
				sum.Confirmed++
			case OutcomeFailed:
				sum.Failed++
				sum.Errors++
				blocked[m.EntityID] = true
			}
		}
		sum.Processed++

		o.publish(events.Event{
			Type:        events.SyncProgress,
			Total:       sum.Total,
			Processed:   sum.Processed,
			Errors:      sum.Errors,
			LastOutcome: string(outcome),
			LastKey:     m.IdempotencyKey,
		})
	}
	return nil
}

// process submits m until it is confirmed, fails permanently or runs out of
// attempts. A non-nil error aborts the cycle and leaves m in the queue.
func (o *Orchestrator) process(ctx context.Context, m *models.QueuedMutation) (Outcome, error) {
	log := slog.With("key", m.IdempotencyKey, "kind", m.Kind, "entity_id", m.EntityID)

	for {
		claimed, err := o.queue.MarkInFlight(ctx, m.IdempotencyKey)
		if err != nil {
			return "", fmt.Errorf("failed to claim mutation %s: %w", m.IdempotencyKey, err)
		}

		err = o.submit(ctx, claimed)
		if err == nil {
			if _, err := o.queue.MarkConfirmed(ctx, claimed.IdempotencyKey); err != nil {
				return "", fmt.Errorf("failed to confirm mutation %s: %w", claimed.IdempotencyKey, err)
			}
			o.metrics.outcome(OutcomeConfirmed)
			log.Debug("Mutation confirmed", "attempts", claimed.Attempts+1)
			return OutcomeConfirmed, nil
		}

		// Cancelled mid-request: the remote may or may not have applied it.
		// Leave it in flight; the next cycle resends the same key.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if !errs.IsRetryable(err) || claimed.Attempts+1 >= o.cfg.MaxAttempts {
			if _, ferr := o.queue.MarkFailed(ctx, claimed.IdempotencyKey, err); ferr != nil {
				return "", fmt.Errorf("failed to mark mutation %s failed: %w", claimed.IdempotencyKey, ferr)
			}
			o.metrics.outcome(OutcomeFailed)
			log.Warn("Mutation failed", "attempts", claimed.Attempts+1, "error_kind", errs.KindOf(err), "error", err)
			return OutcomeFailed, nil
		}

		rec, rerr := o.queue.RecordAttempt(ctx, claimed.IdempotencyKey, err)
		if rerr != nil {
			return "", fmt.Errorf("failed to record attempt for %s: %w", claimed.IdempotencyKey, rerr)
		}
		o.metrics.outcome(OutcomeRetry)

		delay := backoff(rec.Attempts, o.cfg.BaseDelay, o.cfg.MaxDelay, o.jitter)
		log.Info("Mutation attempt failed, retrying", "attempts", rec.Attempts, "delay", delay, "error", err)
		if err := o.sleep(ctx, delay); err != nil {
			return "", err
		}
		if !o.conn.Online() {
			return "", errOffline
		}
	}
}

// submit replays m against the remote ledger under its idempotency key.
func (o *Orchestrator) submit(ctx context.Context, m *models.QueuedMutation) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	key := m.IdempotencyKey
	switch m.Kind {
	case models.MutationCreateExpense, models.MutationUpdateExpense:
		req, err := queue.DecodeExpense(m)
		if err != nil {
			return err
		}
		if m.Kind == models.MutationCreateExpense {
			_, err = o.remote.CreateExpense(ctx, key, req)
		} else {
			_, err = o.remote.UpdateExpense(ctx, key, req)
		}
		return err
	case models.MutationCreatePayment:
		p, err := queue.DecodePayment(m)
		if err != nil {
			return err
		}
		_, err = o.remote.CreatePayment(ctx, key, p)
		return err
	case models.MutationDeleteExpense, models.MutationDeletePayment:
		d, err := queue.DecodeDelete(m)
		if err != nil {
			return err
		}
		if m.Kind == models.MutationDeleteExpense {
			_, err = o.remote.DeleteExpense(ctx, key, d.GroupID, d.ID)
		} else {
			_, err = o.remote.DeletePayment(ctx, key, d.GroupID, d.ID)
		}
		return err
	default:
		return errs.Validation("syncer.submit", "unknown mutation kind %q", m.Kind)
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// finish records the cycle result and wakes WaitSynced callers.
func (o *Orchestrator) finish(ctx context.Context, sum *Summary) {
	counts, err := o.queue.Counts(context.WithoutCancel(ctx))
	if err != nil {
		slog.Warn("Failed to read queue counts", "error", err)
	}
	depth := counts[models.StatusPending] + counts[models.StatusInFlight]
	o.metrics.setDepth(depth)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.last = sum
	if err == nil && sum.State == StateComplete && depth == 0 && sum.Failed == 0 {
		o.lastSynced = sum.FinishedAt
	}
	o.state = StateIdle
	close(o.cycleDone)
	o.cycleDone = make(chan struct{})
}

// Status returns the current state and queue figures.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	counts, err := o.queue.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue counts: %w", err)
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	st := &Status{
		State:        o.state,
		Online:       o.conn.Online(),
		QueueDepth:   counts[models.StatusPending] + counts[models.StatusInFlight],
		Failed:       counts[models.StatusFailed],
		LastSyncedAt: o.lastSynced,
	}
	if o.last != nil {
		last := *o.last
		st.LastCycle = &last
	}
	return st, nil
}

// WaitSynced blocks until no mutation is waiting for the remote ledger,
// triggering cycles as needed. Failed mutations make it return a conflict
// since they will not drain without user action.
func (o *Orchestrator) WaitSynced(ctx context.Context) error {
	const op = "syncer.WaitSynced"
	for {
		o.mu.RLock()
		done := o.cycleDone
		o.mu.RUnlock()

		counts, err := o.queue.Counts(ctx)
		if err != nil {
			return fmt.Errorf("failed to read queue counts: %w", err)
		}
		if counts[models.StatusPending]+counts[models.StatusInFlight] == 0 {
			if n := counts[models.StatusFailed]; n > 0 {
				return errs.Conflict(op, "%d failed mutations need resolution", n)
			}
			return nil
		}
		if !o.conn.Online() {
			return errs.Transient(op, errors.New("offline with unsynced mutations"))
		}

		o.Trigger()
		select {
		case <-ctx.Done():
			return errs.Transient(op, ctx.Err())
		case <-done:
		}
	}
}

func (o *Orchestrator) publish(e events.Event) {
	if o.broker == nil {
		return
	}
	if dropped := o.broker.Publish(e); dropped > 0 {
		slog.Debug("Slow event subscribers dropped an event", "type", e.Type, "dropped", dropped)
	}
}
