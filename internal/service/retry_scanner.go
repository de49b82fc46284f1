package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = 5 * time.Second
	defaultRetryScanLimit    = 100
	maxScanPages             = 10
)

// DueDispatcher sends deliveries whose retry time has passed.
type DueDispatcher interface {
	DispatchDue(ctx context.Context, limit int) (int, error)
}

// RetryScanner periodically dispatches webhook deliveries parked as retrying.
type RetryScanner struct {
	dispatcher DueDispatcher
	logger     *zap.Logger
	interval   time.Duration
	limit      int
}

func NewRetryScanner(
	dispatcher DueDispatcher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("due dispatcher is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		dispatcher: dispatcher,
		logger:     logger,
		interval:   interval,
		limit:      limit,
	}, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Retries that came due while the process was down go out right away.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

// scanDue dispatches due retries a page at a time. A full page means more may be
// waiting, so it keeps going for up to maxScanPages before yielding to the next tick.
func (s *RetryScanner) scanDue(ctx context.Context) error {
	ctx = observability.WithCorrelationID(ctx, "retry-scan-"+uuid.NewString())
	logger := observability.WithContextLogger(s.logger, ctx)

	total, pages := 0, 0
	for pages < maxScanPages && ctx.Err() == nil {
		dispatched, err := s.dispatcher.DispatchDue(ctx, s.limit)
		pages++
		total += dispatched
		if err != nil {
			return err
		}
		if dispatched < s.limit {
			break
		}
	}

	if total > 0 {
		logger.Info("dispatched due webhook retries", zap.Int("count", total), zap.Int("pages", pages))
	}
	return nil
}
