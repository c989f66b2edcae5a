package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-saga/internal/core/domain"
	"github.com/rl1809/order-saga/internal/port"
)

// maxBatchFactor bounds a requested batch to a multiple of the configured one.
const maxBatchFactor = 10

type ReprocessRequest struct {
	Token     string
	DryRun    bool
	BatchSize int
	Target    string
}

type ReprocessResult struct {
	DLQ       string               `json:"dlq"`
	Available int                  `json:"available"`
	Moved     int                  `json:"moved"`
	Failed    int                  `json:"failed"`
	Target    port.ReprocessTarget `json:"target"`
}

type DLQOptions struct {
	Token          string
	BatchSize      int
	ReceiveTimeout time.Duration
}

// DLQService drains dead-lettered OrderCreated messages on operator request.
type DLQService struct {
	dlq     port.DeadLetterQueue
	locker  port.Locker
	metrics port.Metrics
	opts    DLQOptions
	log     zerolog.Logger
}

func NewDLQService(dlq port.DeadLetterQueue, locker port.Locker, metrics port.Metrics, opts DLQOptions, log zerolog.Logger) *DLQService {
	return &DLQService{
		dlq:     dlq,
		locker:  locker,
		metrics: metrics,
		opts:    opts,
		log:     log.With().Str("component", "dlq-reprocess").Str("queue", dlq.Name()).Logger(),
	}
}

func ParseTarget(s string) (port.ReprocessTarget, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(port.TargetRetry):
		return port.TargetRetry, nil
	case string(port.TargetMain):
		return port.TargetMain, nil
	default:
		return "", fmt.Errorf("%w: target must be main or retry, got %q", domain.ErrInvalidInput, s)
	}
}

func (s *DLQService) authorized(token string) bool {
	// an unset secret disables the endpoint
	if s.opts.Token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Token)) == 1
}

// Reprocess moves up to BatchSize messages out of the DLQ, capped at ten
// times the configured batch. Available is the depth before draining. Only
// one non-dry run may execute at a time.
func (s *DLQService) Reprocess(ctx context.Context, req ReprocessRequest) (ReprocessResult, error) {
	if !s.authorized(req.Token) {
		s.log.Warn().Msg("rejected reprocess request with invalid token")
		return ReprocessResult{}, domain.ErrUnauthorized
	}

	target, err := ParseTarget(req.Target)
	if err != nil {
		return ReprocessResult{}, err
	}

	available, err := s.dlq.Count(ctx)
	if err != nil {
		return ReprocessResult{}, err
	}

	result := ReprocessResult{DLQ: s.dlq.Name(), Available: available, Target: target}
	if req.DryRun {
		return result, nil
	}

	limit := max(1, s.opts.BatchSize)
	if req.BatchSize > 0 {
		limit = min(req.BatchSize, limit*maxBatchFactor)
	}

	// zero wait: a concurrent drain is reported, not queued behind
	lockOpts := LockOptions{Lease: time.Duration(limit+1) * (s.opts.ReceiveTimeout + time.Second), Wait: 0}
	return WithLock(ctx, s.locker, lockOpts, jobKey("dlq-reprocess"), s.log,
		func(ctx context.Context) (ReprocessResult, error) {
			return s.drain(ctx, result, limit), nil
		})
}

func (s *DLQService) drain(ctx context.Context, result ReprocessResult, limit int) ReprocessResult {
	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			break
		}

		msg, err := s.dlq.Receive(ctx, s.opts.ReceiveTimeout)
		if err != nil {
			s.log.Error().Err(err).Msg("receive from DLQ failed")
			break
		}
		if msg == nil {
			break
		}

		if err := s.dlq.Republish(ctx, *msg, result.Target); err != nil {
			result.Failed++
			s.metrics.DLQFailed(string(result.Target))
			s.log.Error().Err(err).Str("messageId", msg.MessageID).Bytes("body", msg.Body).
				Msg("failed to republish DLQ message, message lost from DLQ")
			continue
		}
		result.Moved++
		s.metrics.DLQMoved(string(result.Target))
	}

	s.log.Info().Int("available", result.Available).Int("moved", result.Moved).
		Int("failed", result.Failed).Str("target", string(result.Target)).Msg("dlq reprocess finished")
	return result
}
