// Package health classifies session summaries against configurable thresholds.
package health

import (
	"fmt"
	"time"

	"clawdscan/internal/model"
)

// Thresholds holds the limits used by Classify. The zero value is not useful;
// start from DefaultThresholds and override individual fields.
type Thresholds struct {
	// CriticalSizeBytes marks sessions strictly larger as mega-bloat.
	// Default: 5 MiB
	CriticalSizeBytes int64

	// WarningSizeBytes marks sessions strictly larger as bloated.
	// Default: 1 MiB
	WarningSizeBytes int64

	// CriticalMessageCount marks sessions with strictly more messages as
	// msg-overflow.
	// Default: 900
	CriticalMessageCount int

	// WarningMessageCount marks sessions with strictly more messages as
	// msg-heavy.
	// Default: 300
	WarningMessageCount int

	// StaleAfterDays marks sessions idle for strictly longer as stale.
	// Default: 7
	StaleAfterDays int

	// ZombieMaxMessages and ZombieMinAgeHours together define a zombie: at most
	// this many messages and created strictly longer ago than the age.
	// Default: 2 messages, 48 hours
	ZombieMaxMessages int
	ZombieMinAgeHours int

	// CompactedMinCount marks sessions with at least this many compactions.
	// Default: 3
	CompactedMinCount int
}

// DefaultThresholds returns the built-in thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CriticalSizeBytes:    5 * 1024 * 1024,
		WarningSizeBytes:     1 * 1024 * 1024,
		CriticalMessageCount: 900,
		WarningMessageCount:  300,
		StaleAfterDays:       7,
		ZombieMaxMessages:    2,
		ZombieMinAgeHours:    48,
		CompactedMinCount:    3,
	}
}

// Validate checks that every threshold is in range and that warning limits do
// not exceed their critical counterparts.
func (t Thresholds) Validate() error {
	if t.CriticalSizeBytes <= 0 {
		return fmt.Errorf("critical_size_bytes must be positive (got %d)", t.CriticalSizeBytes)
	}
	if t.WarningSizeBytes <= 0 {
		return fmt.Errorf("warning_size_bytes must be positive (got %d)", t.WarningSizeBytes)
	}
	if t.WarningSizeBytes > t.CriticalSizeBytes {
		return fmt.Errorf("warning_size_bytes (%d) must not exceed critical_size_bytes (%d)",
			t.WarningSizeBytes, t.CriticalSizeBytes)
	}
	if t.CriticalMessageCount <= 0 {
		return fmt.Errorf("critical_message_count must be positive (got %d)", t.CriticalMessageCount)
	}
	if t.WarningMessageCount <= 0 {
		return fmt.Errorf("warning_message_count must be positive (got %d)", t.WarningMessageCount)
	}
	if t.WarningMessageCount > t.CriticalMessageCount {
		return fmt.Errorf("warning_message_count (%d) must not exceed critical_message_count (%d)",
			t.WarningMessageCount, t.CriticalMessageCount)
	}
	if t.StaleAfterDays < 0 {
		return fmt.Errorf("stale_after_days must not be negative (got %d)", t.StaleAfterDays)
	}
	if t.ZombieMaxMessages < 0 {
		return fmt.Errorf("zombie_max_messages must not be negative (got %d)", t.ZombieMaxMessages)
	}
	if t.ZombieMinAgeHours < 0 {
		return fmt.Errorf("zombie_min_age_hours must not be negative (got %d)", t.ZombieMinAgeHours)
	}
	if t.CompactedMinCount <= 0 {
		return fmt.Errorf("compacted_min_count must be positive (got %d)", t.CompactedMinCount)
	}
	return nil
}

// StaleAfter returns StaleAfterDays as a duration.
func (t Thresholds) StaleAfter() time.Duration {
	return time.Duration(t.StaleAfterDays) * 24 * time.Hour
}

// ZombieMinAge returns ZombieMinAgeHours as a duration.
func (t Thresholds) ZombieMinAge() time.Duration {
	return time.Duration(t.ZombieMinAgeHours) * time.Hour
}

// Classify evaluates every rule independently and returns the resulting
// verdict. now is the only time source, so equal inputs give equal verdicts.
func Classify(s model.SessionSummary, t Thresholds, now time.Time) model.Verdict {
	var tags model.Tags

	if s.SizeBytes > t.CriticalSizeBytes {
		tags = tags.With(model.TagMegaBloat)
	}
	if s.MessageCount > t.CriticalMessageCount {
		tags = tags.With(model.TagMessageOverflow)
	}
	if s.SizeBytes > t.WarningSizeBytes && !tags.Has(model.TagMegaBloat) {
		tags = tags.With(model.TagBloated)
	}
	if s.MessageCount > t.WarningMessageCount && !tags.Has(model.TagMessageOverflow) {
		tags = tags.With(model.TagMessageHeavy)
	}
	if IsStale(s, t.StaleAfter(), now) {
		tags = tags.With(model.TagStale)
	}
	if s.MessageCount <= t.ZombieMaxMessages && now.Sub(s.Created()) > t.ZombieMinAge() {
		tags = tags.With(model.TagZombie)
	}
	if s.CompactionCount >= t.CompactedMinCount {
		tags = tags.With(model.TagOverCompacted)
	}

	return model.Verdict{Tags: tags}
}

// IsStale reports whether the session has been idle strictly longer than
// after, measured from its last activity.
func IsStale(s model.SessionSummary, after time.Duration, now time.Time) bool {
	return now.Sub(s.LastActivity()) > after
}
