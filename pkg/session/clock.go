package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/boardfs/boardfs/internal/logging"
)

// ClockTolerance is the drift beyond which CheckClock pushes host time to
// the device real-time clock.
const ClockTolerance = time.Second

// EpochOffset returns the seconds to add to device timestamps to yield
// host-epoch time. Computed once per connection and cached; InvalidateClock
// forces a resync.
//
// Both sides convert the same calendar tuple to seconds, so any timezone
// contribution cancels and only the epoch difference remains (many devices
// count from 2000-01-01 rather than 1970-01-01).
func (b *Board) EpochOffset(ctx context.Context) (int64, error) {
	if b.epochKnown {
		return b.epochOffset, nil
	}
	var offset int64
	err := b.WithSession(ctx, func(ctx context.Context) error {
		if _, err := b.Exec(ctx, "import time"); err != nil {
			return err
		}
		now := time.Now().UTC()
		boardSecs, err := b.EvalInt64(ctx, fmt.Sprintf(
			"time.mktime((%d, %d, %d, %d, %d, %d, %d, %d))",
			now.Year(), int(now.Month()), now.Day(),
			now.Hour(), now.Minute(), now.Second(),
			int(now.Weekday()), now.YearDay()))
		if err != nil {
			return err
		}
		offset = now.Unix() - boardSecs
		return nil
	})
	if err != nil {
		return 0, err
	}
	b.epochOffset = offset
	b.epochKnown = true
	logging.Debug("computed epoch offset", zap.Int64("seconds", offset))
	return offset, nil
}

// ClockOffset returns how far the device real-time clock is ahead of the
// host wall clock. Cached until InvalidateClock or SyncClock.
func (b *Board) ClockOffset(ctx context.Context) (time.Duration, error) {
	if b.clockKnown {
		return b.clockOffset, nil
	}
	var drift time.Duration
	err := b.WithSession(ctx, func(ctx context.Context) error {
		epoch, err := b.EpochOffset(ctx)
		if err != nil {
			return err
		}
		boardSecs, err := b.EvalInt64(ctx, "time.time()")
		if err != nil {
			return err
		}
		hostSecs := time.Now().Unix()
		drift = time.Duration(boardSecs+epoch-hostSecs) * time.Second
		return nil
	})
	if err != nil {
		return 0, err
	}
	b.clockOffset = drift
	b.clockKnown = true
	return drift, nil
}

// InvalidateClock discards the cached epoch and drift offsets.
func (b *Board) InvalidateClock() {
	b.epochKnown = false
	b.clockKnown = false
}

// SyncClock sets the device real-time clock to the host's current time,
// local or UTC. Devices without an RTC ignore the request.
func (b *Board) SyncClock(ctx context.Context, utc bool) error {
	now := time.Now()
	if utc {
		now = now.UTC()
	}
	err := b.WithSession(ctx, func(ctx context.Context) error {
		_, err := b.Exec(ctx, fmt.Sprintf(
			"import machine\n"+
				"if hasattr(machine, 'RTC'):\n"+
				"    machine.RTC().datetime((%d, %d, %d, 0, %d, %d, %d, 0))",
			now.Year(), int(now.Month()), now.Day(),
			now.Hour(), now.Minute(), now.Second()))
		return err
	})
	if err != nil {
		return err
	}
	b.clockKnown = false
	return nil
}

// CheckClock measures the device clock drift and, if setClock is true and
// the drift exceeds ClockTolerance, pushes host time to the device RTC and
// re-measures. Everything runs in one session scope so the device clock
// cannot advance between measurement and correction.
func (b *Board) CheckClock(ctx context.Context, setClock, utc bool) (time.Duration, error) {
	var drift time.Duration
	err := b.WithSession(ctx, func(ctx context.Context) error {
		var err error
		drift, err = b.ClockOffset(ctx)
		if err != nil {
			return err
		}
		if !setClock || absDuration(drift) <= ClockTolerance {
			return nil
		}
		logging.Info("device clock drift exceeds tolerance, syncing",
			zap.Duration("drift", drift))
		if err := b.SyncClock(ctx, utc); err != nil {
			return err
		}
		drift, err = b.ClockOffset(ctx)
		return err
	})
	return drift, err
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
