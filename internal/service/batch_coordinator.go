package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/observability"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/provider"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	defaultBatchMaxUnits    = 100
	defaultBatchUnitPause   = 100 * time.Millisecond
	defaultRunningBatches   = 4
	maxBatchUnitConcurrency = 10
)

type BatchCoordinatorConfig struct {
	MaxUnits int
	// UnitPause throttles the order service between units.
	UnitPause time.Duration
	// MaxRunning bounds how many batches are processed at once.
	MaxRunning int
}

// BatchCoordinator accepts bulk order submissions and processes them in the background.
// Each batch has exactly one processing goroutine, which is the only writer of its record.
type BatchCoordinator struct {
	batches repository.BatchRepository
	logs    repository.ExecutionLogRepository
	orders  provider.OrderCreator
	logger  *zap.Logger
	metrics *observability.Metrics

	maxUnits  int
	unitPause time.Duration
	running   *semaphore.Weighted
	bg        *background

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() (string, error)
}

func NewBatchCoordinator(
	batches repository.BatchRepository,
	logs repository.ExecutionLogRepository,
	orders provider.OrderCreator,
	cfg BatchCoordinatorConfig,
	logger *zap.Logger,
) (*BatchCoordinator, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order creator is required")
	}
	if cfg.MaxUnits < 1 {
		cfg.MaxUnits = defaultBatchMaxUnits
	}
	if cfg.UnitPause < 0 {
		cfg.UnitPause = defaultBatchUnitPause
	}
	if cfg.MaxRunning < 1 {
		cfg.MaxRunning = defaultRunningBatches
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchCoordinator{
		batches:   batches,
		logs:      logs,
		orders:    orders,
		logger:    logger,
		maxUnits:  cfg.MaxUnits,
		unitPause: cfg.UnitPause,
		running:   semaphore.NewWeighted(int64(cfg.MaxRunning)),
		bg:        newBackground(),
		now:       time.Now,
		sleep:     sleepContext,
		newID:     newTimeOrderedID,
	}, nil
}

func (c *BatchCoordinator) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// Submit validates the request, stores a pending batch and schedules processing. The
// returned batch is a snapshot; poll GetBatch for progress.
func (c *BatchCoordinator) Submit(ctx context.Context, ownerID string, units []domain.OrderUnit, opts domain.BatchOptions) (*domain.Batch, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: ownerId is required", domain.ErrValidation)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: at least one order is required", domain.ErrValidation)
	}
	if len(units) > c.maxUnits {
		return nil, fmt.Errorf("%w: a batch may contain at most %d orders, got %d", domain.ErrValidation, c.maxUnits, len(units))
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	opts.Concurrency = min(opts.Concurrency, maxBatchUnitConcurrency)

	id, err := c.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate batch id: %w", err)
	}

	now := c.now().UTC()
	batch := &domain.Batch{
		ID:         id,
		OwnerID:    ownerID,
		TotalCount: len(units),
		Status:     domain.BatchStatusPending,
		Options:    opts,
		Units:      append([]domain.OrderUnit(nil), units...),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	snapshot := cloneBatch(batch)
	c.start(ctx, batch)

	observability.WithContextLogger(c.logger, ctx).Info("batch submitted",
		zap.String("batchId", batch.ID),
		zap.String("ownerId", ownerID),
		zap.Int("units", batch.TotalCount),
		zap.Bool("stopOnError", opts.StopOnError),
		zap.Bool("validateOnly", opts.ValidateOnly),
	)
	return snapshot, nil
}

// GetBatch hides batches of other owners behind ErrNotFound.
func (c *BatchCoordinator) GetBatch(ctx context.Context, batchID, ownerID string) (*domain.Batch, error) {
	batch, err := c.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return batch, nil
}

func (c *BatchCoordinator) ListBatches(ctx context.Context, ownerID string, limit int) ([]domain.Batch, error) {
	return c.batches.ListByOwner(ctx, ownerID, limit)
}

// ResumeInterrupted restarts batches left pending or processing by a previous process.
// Processing continues at the first unit without a recorded result.
func (c *BatchCoordinator) ResumeInterrupted(ctx context.Context) (int, error) {
	unfinished, err := c.batches.ListUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished batches: %w", err)
	}
	for i := range unfinished {
		batch := unfinished[i]
		c.logger.Info("resuming interrupted batch",
			zap.String("batchId", batch.ID),
			zap.Int("nextIndex", batch.NextIndex()),
			zap.Int("units", batch.TotalCount),
		)
		c.start(ctx, &batch)
	}
	return len(unfinished), nil
}

// Shutdown waits for running batches. Batches cut short by ctx stay unfinished and are
// picked up by ResumeInterrupted on the next start.
func (c *BatchCoordinator) Shutdown(ctx context.Context) error {
	return c.bg.Shutdown(ctx)
}

func (c *BatchCoordinator) start(parent context.Context, batch *domain.Batch) {
	c.bg.Go(parent, func(ctx context.Context) {
		if err := c.running.Acquire(ctx, 1); err != nil {
			return
		}
		defer c.running.Release(1)

		c.metrics.IncInFlight(observability.PipelineBatch)
		defer c.metrics.DecInFlight(observability.PipelineBatch)

		logger := observability.WithContextLogger(c.logger, ctx).With(zap.String("batchId", batch.ID))
		if err := c.process(ctx, batch, logger); err != nil && ctx.Err() == nil {
			logger.Error("batch processing aborted", zap.Error(err))
		}
	})
}

func (c *BatchCoordinator) process(ctx context.Context, batch *domain.Batch, logger *zap.Logger) error {
	if batch.Status == domain.BatchStatusPending {
		batch.Status = domain.BatchStatusProcessing
		batch.UpdatedAt = c.now().UTC()
		if err := c.batches.Save(ctx, batch); err != nil {
			return fmt.Errorf("failed to mark batch processing: %w", err)
		}
	}

	var err error
	if batch.Options.StopOnError || batch.Options.Concurrency <= 1 {
		err = c.processSequential(ctx, batch)
	} else {
		err = c.processConcurrent(ctx, batch)
	}
	if err != nil || batch.Status.IsTerminal() {
		return err
	}

	batch.Finish(c.now().UTC())
	return c.saveFinished(ctx, batch, logger)
}

func (c *BatchCoordinator) processSequential(ctx context.Context, batch *domain.Batch) error {
	first := batch.NextIndex()
	for index := first; index < batch.TotalCount; index++ {
		if index > first {
			if err := c.sleep(ctx, c.unitPause); err != nil {
				return err
			}
		}

		result := c.executeUnit(ctx, batch.ID, batch.OwnerID, batch.Options.ValidateOnly, index, batch.Units[index])
		if ctx.Err() != nil {
			// Shutting down. A placed order must be recorded or a resumed run places it again;
			// a failed unit stays unrecorded so the resumed run executes it.
			if result.Success {
				if err := c.record(context.WithoutCancel(ctx), batch, result); err != nil {
					return err
				}
			}
			return ctx.Err()
		}
		if err := c.record(ctx, batch, result); err != nil {
			return err
		}

		if !result.Success && batch.Options.StopOnError {
			batch.Halt(index, c.now().UTC())
			return c.saveFinished(ctx, batch, c.logger.With(zap.String("batchId", batch.ID)))
		}
	}
	return nil
}

// processConcurrent runs units in parallel but records them strictly in index order: a
// result is held until every lower index has been recorded.
func (c *BatchCoordinator) processConcurrent(ctx context.Context, batch *domain.Batch) error {
	first := batch.NextIndex()
	pending := batch.TotalCount - first
	results := make(chan domain.UnitResult, pending)

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(batch.Options.Concurrency)
	launched := make(chan struct{})
	defer func() {
		<-launched
		_ = g.Wait()
	}()
	go func() {
		defer close(launched)
		for index := first; index < batch.TotalCount; index++ {
			if groupCtx.Err() != nil {
				return
			}
			unit := batch.Units[index]
			g.Go(func() error {
				if index > first {
					if err := c.sleep(groupCtx, c.unitPause); err != nil {
						return err
					}
				}
				results <- c.executeUnit(groupCtx, batch.ID, batch.OwnerID, batch.Options.ValidateOnly, index, unit)
				return nil
			})
		}
	}()

	held := make(map[int]domain.UnitResult, pending)
	for received := 0; received < pending; received++ {
		var result domain.UnitResult
		select {
		case <-ctx.Done():
			return c.recordOnStop(ctx, batch, held, launched, g, results)
		case result = <-results:
		}

		held[result.Index] = result
		if ctx.Err() != nil {
			return c.recordOnStop(ctx, batch, held, launched, g, results)
		}
		for {
			next, ok := held[batch.NextIndex()]
			if !ok {
				break
			}
			delete(held, next.Index)
			if err := c.record(ctx, batch, next); err != nil {
				return err
			}
		}
	}
	return nil
}

// recordOnStop waits for running units after a shutdown and records, in index order, every
// unit up to the highest one that placed an order. A unit below it that never finished is
// recorded as failed. Units past it stay unrecorded for the resumed run.
func (c *BatchCoordinator) recordOnStop(
	ctx context.Context,
	batch *domain.Batch,
	held map[int]domain.UnitResult,
	launched <-chan struct{},
	g *errgroup.Group,
	results <-chan domain.UnitResult,
) error {
	<-launched
	_ = g.Wait()
	for drained := false; !drained; {
		select {
		case result := <-results:
			held[result.Index] = result
		default:
			drained = true
		}
	}

	last := -1
	for index, result := range held {
		if result.Success && index > last {
			last = index
		}
	}

	detached := context.WithoutCancel(ctx)
	for index := batch.NextIndex(); index <= last; index++ {
		result, ok := held[index]
		if !ok {
			result = failedUnit(index, "interrupted by shutdown")
			result.CreatedAt = c.now().UTC()
		}
		if err := c.record(detached, batch, result); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// executeUnit never panics and never returns an error: every outcome becomes a UnitResult.
func (c *BatchCoordinator) executeUnit(
	ctx context.Context,
	batchID string,
	ownerID string,
	validateOnly bool,
	index int,
	unit domain.OrderUnit,
) (result domain.UnitResult) {
	result = domain.UnitResult{Index: index}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovered panic while executing batch unit",
				zap.String("batchId", batchID),
				zap.Int("index", index),
				zap.Any("panic", r),
			)
			result = failedUnit(index, fmt.Sprintf("unexpected error: %v", r))
		}
		result.CreatedAt = c.now().UTC()
	}()

	if err := unit.Validate(); err != nil {
		return failedUnit(index, err.Error())
	}
	if validateOnly {
		result.Success = true
		return result
	}

	ref, err := c.orders.CreateOrder(ctx, ownerID, unit)
	if err != nil {
		return failedUnit(index, err.Error())
	}
	if ref == nil {
		return failedUnit(index, "order service returned no order")
	}

	result.Success = true
	result.OrderID = stringPtr(ref.ID)
	result.OrderReference = stringPtr(ref.Reference)
	return result
}

func (c *BatchCoordinator) record(ctx context.Context, batch *domain.Batch, result domain.UnitResult) error {
	if err := batch.Record(result); err != nil {
		return err
	}
	batch.UpdatedAt = c.now().UTC()
	if err := c.batches.Save(ctx, batch, result); err != nil {
		return fmt.Errorf("failed to save result of unit %d: %w", result.Index, err)
	}
	c.metrics.IncBatchUnit(result.Success)
	c.appendLog(ctx, batch.ID, result)
	return nil
}

func (c *BatchCoordinator) saveFinished(ctx context.Context, batch *domain.Batch, logger *zap.Logger) error {
	batch.UpdatedAt = c.now().UTC()
	if err := c.batches.Save(ctx, batch); err != nil {
		return fmt.Errorf("failed to save finished batch: %w", err)
	}
	c.metrics.IncBatchFinished(batch.Status.String())
	logger.Info("batch finished",
		zap.String("status", batch.Status.String()),
		zap.Int("succeeded", batch.SucceededCount),
		zap.Int("failed", batch.FailedCount),
		zap.Int("processed", batch.ProcessedCount),
	)
	return nil
}

func (c *BatchCoordinator) appendLog(ctx context.Context, batchID string, result domain.UnitResult) {
	if c.logs == nil {
		return
	}
	outcome := domain.ExecutionOutcomeSuccess
	if !result.Success {
		outcome = domain.ExecutionOutcomeFailure
	}
	entry := &domain.ExecutionLog{
		ID:            uuid.NewString(),
		JobID:         batchID,
		JobType:       domain.JobTypeBatchUnit,
		UnitIndex:     result.Index,
		AttemptNumber: 1,
		Outcome:       outcome,
		OrderID:       result.OrderID,
		Error:         result.Error,
		CreatedAt:     result.CreatedAt,
	}
	if err := c.logs.Create(ctx, entry); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("failed to append batch execution log",
			zap.String("batchId", batchID),
			zap.Int("index", result.Index),
			zap.Error(err),
		)
	}
}

func failedUnit(index int, message string) domain.UnitResult {
	return domain.UnitResult{Index: index, Error: stringPtr(message)}
}

func cloneBatch(b *domain.Batch) *domain.Batch {
	clone := *b
	clone.Units = append([]domain.OrderUnit(nil), b.Units...)
	clone.Results = append([]domain.UnitResult(nil), b.Results...)
	return &clone
}

// newTimeOrderedID returns a UUIDv7 so ids sort by creation time.
func newTimeOrderedID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func stringPtr(s string) *string {
	return &s
}
