package database

import (
	"time"

	"proxypool/internal/database/models/model"
)

const (
	// MinSamples is the number of checks a record must exceed before its
	// success ratio is computed.
	MinSamples = 10
	// EvictBelow is the success ratio under which a record is removed.
	EvictBelow = 0.4
	// DefaultSuccessRatio is stored until MinSamples is exceeded.
	DefaultSuccessRatio = 0.0
)

// Ratio returns success/(success+failed) once the total exceeds MinSamples.
func Ratio(success, failed int32) (float64, bool) {
	total := success + failed
	if total <= MinSamples {
		return DefaultSuccessRatio, false
	}
	return float64(success) / float64(total), true
}

// ShouldEvict reports whether a record with these counters must be removed.
func ShouldEvict(success, failed int32) bool {
	ratio, ok := Ratio(success, failed)
	return ok && ratio < EvictBelow
}

// Outcome is the result of a single validation against a stored record.
type Outcome struct {
	Success bool
	SpeedMs int
	At      time.Time
}

// Apply folds the outcome into the record's counters. A failure leaves
// speed and validated_at untouched.
func (o Outcome) Apply(rec *model.ProxyIps) {
	at := o.At
	if at.IsZero() {
		at = Now()
	}

	if o.Success {
		rec.SuccessCount++
		rec.Speed = int32(o.SpeedMs)
		rec.ValidatedAt = at
	} else {
		rec.FailedCount++
	}

	if ratio, ok := Ratio(rec.SuccessCount, rec.FailedCount); ok {
		rec.SuccessRatio = ratio
	}
	rec.UpdatedAt = at
}
