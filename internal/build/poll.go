package build

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultPollInterval is the pause between image status queries.
	DefaultPollInterval = 10 * time.Second
	// DefaultMaxPollAttempts bounds polling to roughly three hours.
	DefaultMaxPollAttempts = 1080
)

// Poller waits for a registered image to leave the pending state.
type Poller struct {
	Logger   *slog.Logger
	Registry ImageRegistry
	Sleeper  Sleeper
	Interval time.Duration
	// MaxAttempts caps the number of describe calls; zero means no cap.
	MaxAttempts int
	// Observe is called after every describe call.
	Observe func(record ImageRecord, attempt int)
}

// Wait polls imageID until it reaches a terminal state. Only the available
// state is a success; every other terminal state is returned as an error
// together with the last record.
func (p Poller) Wait(ctx context.Context, imageID string) (ImageRecord, error) {
	sleeper := p.Sleeper
	if sleeper == nil {
		sleeper = RealSleeper
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := p.logger().With("image_id", imageID)

	for attempt := 1; ; attempt++ {
		record, err := p.Registry.DescribeImage(ctx, imageID)
		if err != nil {
			return record, newError(KindPolling, StagePoll, "describe image", err)
		}
		logger.Info("current image state", "state", record.State, "attempt", attempt)
		if p.Observe != nil {
			p.Observe(record, attempt)
		}

		if record.State.Terminal() {
			if record.State == ImageStateAvailable {
				return record, nil
			}
			message := fmt.Sprintf("image reached terminal state %q", record.State)
			if record.StateMessage != "" {
				message += " (" + record.StateMessage + ")"
			}
			return record, newError(KindPolling, StagePoll, message, nil)
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return record, newError(KindPolling, StagePoll, "", ErrPollLimit)
		}
		if err := sleeper.Sleep(ctx, interval); err != nil {
			return record, newError(KindPolling, StagePoll, "wait between polls", err)
		}
	}
}

func (p Poller) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
