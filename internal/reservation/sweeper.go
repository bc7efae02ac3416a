package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-spa/internal/obs"
)

// DefaultGracePeriod is how long after its anchor a confirmed reservation stays open.
const DefaultGracePeriod = 3 * time.Hour

// Anchor selects the instant the grace period is counted from.
type Anchor string

const (
	// AnchorStart counts from the scheduled start time.
	AnchorStart Anchor = "start"
	// AnchorEnd counts from start plus the service duration, when known.
	AnchorEnd Anchor = "end"
)

// ParseAnchor maps configuration values onto an Anchor, defaulting to AnchorStart.
func ParseAnchor(value string) Anchor {
	if Anchor(value) == AnchorEnd {
		return AnchorEnd
	}
	return AnchorStart
}

// Completed identifies a reservation transitioned by a sweep.
type Completed struct {
	Reference     string `json:"reference"`
	ClientName    string `json:"clientName"`
	ReservationID string `json:"reservationId"`
}

// Result summarises one sweep. Err is set only when the candidate list could not be loaded.
type Result struct {
	UpdatedCount int         `json:"updatedCount"`
	Updated      []Completed `json:"updatedList"`
	Err          error       `json:"-"`
}

// Sweeper marks confirmed reservations completed once their grace period elapsed.
type Sweeper struct {
	Store       Store
	GracePeriod time.Duration
	Anchor      Anchor
	Location    *time.Location
	Now         func() time.Time
	Logger      *zerolog.Logger
}

// Sweep runs one pass. It never returns an error or panics past its boundary:
// failures are logged and reported in the Result.
func (s *Sweeper) Sweep(ctx context.Context) (res Result) {
	logger := s.logger()
	ctx, span := otel.Tracer("reservation.Sweeper").Start(ctx, "Sweeper.Sweep")
	defer span.End()

	start := time.Now()
	outcome := "error"
	res.Updated = []Completed{}
	defer func() {
		if r := recover(); r != nil {
			res = Result{Updated: []Completed{}, Err: fmt.Errorf("reservation sweep panic: %v", r)}
			logger.Error().Err(res.Err).Msg("reservation sweep aborted")
		}
		span.SetAttributes(
			attribute.Int("sweep.updated", res.UpdatedCount),
			attribute.String("sweep.result", outcome),
		)
		if res.Err != nil {
			span.RecordError(res.Err)
		}
		if obs.ReservationSweepTotal != nil {
			obs.ReservationSweepTotal.WithLabelValues(outcome).Inc()
		}
		if obs.ReservationSweepDuration != nil {
			obs.ReservationSweepDuration.Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	if s.Store == nil {
		res.Err = errors.New("reservation sweep: store not configured")
		logger.Error().Err(res.Err).Msg("reservation sweep aborted")
		return res
	}

	now := s.now()
	candidates, err := s.Store.ListByStatus(ctx, StatusConfirmed)
	if err != nil {
		res.Err = fmt.Errorf("reservation sweep: %w", err)
		logger.Error().Err(err).Msg("list confirmed reservations")
		return res
	}
	if len(candidates) == 0 {
		outcome = "empty"
		logger.Debug().Msg("no confirmed reservations to auto-complete")
		return res
	}

	for _, candidate := range candidates {
		if !s.eligible(candidate, now) {
			continue
		}
		done, err := s.completeOne(ctx, candidate)
		if err != nil {
			logger.Error().Err(err).Str("reservation_id", candidate.ID).Msg("auto-complete reservation")
			continue
		}
		if done == nil {
			continue
		}
		res.Updated = append(res.Updated, *done)
		if obs.ReservationsAutoCompleted != nil {
			obs.ReservationsAutoCompleted.Inc()
		}
		logger.Info().
			Str("reservation_id", done.ReservationID).
			Str("reference", done.Reference).
			Str("client", done.ClientName).
			Msg("reservation auto-completed")
	}
	res.UpdatedCount = len(res.Updated)
	outcome = "success"
	logger.Info().Int("candidates", len(candidates)).Int("updated", res.UpdatedCount).Msg("reservation sweep finished")
	return res
}

// Threshold returns the instant from which the reservation may be completed.
func (s *Sweeper) Threshold(sum Summary) time.Time {
	anchor := ScheduledAt(sum.Date, sum.TimeOfDay, s.Location)
	if s.Anchor == AnchorEnd && sum.ServiceDuration > 0 {
		anchor = anchor.Add(sum.ServiceDuration)
	}
	return anchor.Add(s.gracePeriod())
}

func (s *Sweeper) eligible(sum Summary, now time.Time) bool {
	return !now.Before(s.Threshold(sum))
}

// completeOne re-reads the record and writes the transition. A nil result with
// a nil error means the reservation moved on concurrently and was skipped.
func (s *Sweeper) completeOne(ctx context.Context, sum Summary) (done *Completed, err error) {
	defer func() {
		if r := recover(); r != nil {
			done, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	current, err := s.Store.GetByID(ctx, sum.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger().Debug().Str("reservation_id", sum.ID).Msg("reservation vanished before auto-complete")
			return nil, nil
		}
		return nil, err
	}
	if current.Status != StatusConfirmed {
		s.logger().Debug().Str("reservation_id", sum.ID).Str("status", string(current.Status)).Msg("reservation no longer confirmed")
		return nil, nil
	}

	if cc, ok := s.Store.(ConditionalCompleter); ok {
		changed, err := cc.CompleteIfConfirmed(ctx, sum.ID)
		if err != nil {
			return nil, err
		}
		if !changed {
			return nil, nil
		}
	} else {
		current.Status = StatusCompleted
		if _, err := s.Store.Update(ctx, sum.ID, current); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
	}

	return &Completed{
		Reference:     DisplayReference(sum.Reference, sum.ID),
		ClientName:    sum.ClientName,
		ReservationID: sum.ID,
	}, nil
}

func (s *Sweeper) gracePeriod() time.Duration {
	if s.GracePeriod <= 0 {
		return DefaultGracePeriod
	}
	return s.GracePeriod
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Sweeper) logger() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
