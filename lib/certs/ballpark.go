// Package certs implements certificate signature verification, the ballpark
// clock-skew check, and the per-organization/per-realm causal clock
// invariants (spec §4.3).
package certs

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/parsec-io/parsec-server/lib/types"
)

// BallparkConfig bounds how far a client-supplied certificate timestamp may
// drift from the server clock (spec §4.3).
type BallparkConfig struct {
	// EarlyOffset bounds how far into the future of the server clock a
	// timestamp may sit (client clock running ahead).
	EarlyOffset time.Duration
	// LateOffset bounds how far into the past of the server clock a
	// timestamp may sit (client clock running behind).
	LateOffset time.Duration
}

// DefaultBallparkConfig returns the spec-mandated defaults: 300s early,
// 320s late.
func DefaultBallparkConfig() BallparkConfig {
	return BallparkConfig{
		EarlyOffset: 300 * time.Second,
		LateOffset:  320 * time.Second,
	}
}

// CheckBallpark validates a certificate or vlob timestamp against the
// server's clock. On failure it returns TIMESTAMP_OUT_OF_BALLPARK carrying
// both timestamps and both offsets so the client can correct its clock.
func CheckBallpark(clock clockwork.Clock, cfg BallparkConfig, certTimestamp types.Timestamp) error {
	now := types.TimestampFromTime(clock.Now())
	lowerBound := now.Add(-cfg.LateOffset)
	upperBound := now.Add(cfg.EarlyOffset)
	if !certTimestamp.After(lowerBound) || !certTimestamp.Before(upperBound) {
		return types.TimestampOutOfBallpark(certTimestamp, now, cfg.EarlyOffset.Seconds(), cfg.LateOffset.Seconds())
	}
	return nil
}
