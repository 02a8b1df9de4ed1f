package chatbot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"crm-automation/internal/metrics"
	"crm-automation/internal/models"
)

var ErrTimerNotFound = errors.New("timer not found")

// TimerStore keeps delay-node resumptions in the database so they survive restarts.
type TimerStore struct {
	db *gorm.DB
}

func NewTimerStore(db *gorm.DB) *TimerStore {
	return &TimerStore{db: db}
}

func (s *TimerStore) Schedule(ctx context.Context, executionID, nodeID string, fireAt time.Time) (*models.FlowTimer, error) {
	timer := &models.FlowTimer{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		FireAt:      fireAt.UTC(),
		Status:      models.TimerPending,
	}
	if err := s.db.WithContext(ctx).Create(timer).Error; err != nil {
		return nil, fmt.Errorf("schedule timer: %w", err)
	}
	return timer, nil
}

// CancelOpen cancels the execution's timers that have not fired yet,
// including ones a poller already claimed.
func (s *TimerStore) CancelOpen(ctx context.Context, executionID string) error {
	return s.db.WithContext(ctx).Model(&models.FlowTimer{}).
		Where("execution_id = ? AND status IN ?", executionID, []string{models.TimerPending, models.TimerFiring}).
		Update("status", models.TimerCancelled).Error
}

func (s *TimerStore) Get(ctx context.Context, id string) (*models.FlowTimer, error) {
	var timer models.FlowTimer
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&timer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTimerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &timer, nil
}

// ClaimDue moves due timers to firing. A firing claim older than lease is
// treated as abandoned by a dead poller and claimed again. The conditional
// update keeps two pollers from claiming the same timer.
func (s *TimerStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.FlowTimer, error) {
	now = now.UTC()
	stale := now.Add(-lease)
	db := s.db.WithContext(ctx)

	var candidates []models.FlowTimer
	err := db.Where("(status = ? AND fire_at <= ?) OR (status = ? AND claimed_at < ?)",
		models.TimerPending, now, models.TimerFiring, stale).
		Order("fire_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("load due timers: %w", err)
	}

	claimed := make([]models.FlowTimer, 0, len(candidates))
	for _, t := range candidates {
		res := db.Model(&models.FlowTimer{}).
			Where("id = ? AND (status = ? OR (status = ? AND claimed_at < ?))", t.ID, models.TimerPending, models.TimerFiring, stale).
			Updates(map[string]any{"status": models.TimerFiring, "claimed_at": now})
		if res.Error != nil {
			return claimed, fmt.Errorf("claim timer %s: %w", t.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			t.Status = models.TimerFiring
			t.ClaimedAt = &now
			claimed = append(claimed, t)
		}
	}
	return claimed, nil
}

// MarkFired closes a claimed timer. Cancelled timers stay cancelled.
func (s *TimerStore) MarkFired(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&models.FlowTimer{}).
		Where("id = ? AND status = ?", id, models.TimerFiring).
		Update("status", models.TimerFired).Error
}

func (s *TimerStore) ForExecution(ctx context.Context, executionID string) ([]models.FlowTimer, error) {
	var timers []models.FlowTimer
	err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("created_at ASC").
		Find(&timers).Error
	return timers, err
}

// Resumer continues paused executions once their timer is due and fails
// executions whose walk was cut short.
type Resumer interface {
	ResumeDelayed(ctx context.Context, timerID string) (bool, error)
	FailStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Poller drives due timers into the engine.
type Poller struct {
	store    *TimerStore
	resumer  Resumer
	logger   zerolog.Logger
	interval time.Duration
	lease    time.Duration
	batch    int
	now      func() time.Time
}

type PollerOption func(*Poller)

func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

func WithLease(d time.Duration) PollerOption {
	return func(p *Poller) { p.lease = d }
}

func WithPollerClock(now func() time.Time) PollerOption {
	return func(p *Poller) { p.now = now }
}

func NewPoller(store *TimerStore, resumer Resumer, logger zerolog.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		store:    store,
		resumer:  resumer,
		logger:   logger.With().Str("component", "timer_poller").Logger(),
		interval: time.Second,
		lease:    5 * time.Minute,
		batch:    100,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", p.interval).Msg("timer poller started")
	for {
		if _, err := p.RunDue(ctx); err != nil {
			p.logger.Error().Err(err).Msg("timer poll failed")
		}
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("timer poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunDue claims and fires every due timer once, then fails executions left
// running for longer than the lease. It returns how many timers were processed.
func (p *Poller) RunDue(ctx context.Context) (int, error) {
	defer p.sweep(ctx)

	timers, err := p.store.ClaimDue(ctx, p.now(), p.lease, p.batch)
	if err != nil {
		return 0, err
	}

	for _, t := range timers {
		logger := p.logger.With().Str("timer_id", t.ID).Str("execution_id", t.ExecutionID).Logger()

		resumed, err := p.resumer.ResumeDelayed(ctx, t.ID)
		if err != nil {
			// left in firing so the lease hands it to a later poll
			logger.Error().Err(err).Msg("failed to resume delayed execution")
			metrics.TimerFirings.WithLabelValues("failed").Inc()
			continue
		}
		if resumed {
			metrics.TimerFirings.WithLabelValues("resumed").Inc()
		} else {
			logger.Debug().Msg("timer no longer owns the execution")
			metrics.TimerFirings.WithLabelValues("skipped").Inc()
		}
		if err := p.store.MarkFired(ctx, t.ID); err != nil {
			logger.Error().Err(err).Msg("failed to mark timer fired")
		}
	}
	return len(timers), nil
}

func (p *Poller) sweep(ctx context.Context) {
	n, err := p.resumer.FailStale(ctx, p.now().Add(-p.lease), p.batch)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to sweep stale executions")
		return
	}
	if n > 0 {
		p.logger.Warn().Int("count", n).Msg("failed executions left running by an interrupted walk")
	}
}
