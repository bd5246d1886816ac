package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// SeedDailyCaps writes the campaign's cap schedule into the quota store:
// each reward's lifetime quantity spread across the activation days.
// Upserts, so re-running on restart is harmless.
func (s *SpinService) SeedDailyCaps(ctx context.Context) error {
	days, err := s.campaign.Days()
	if err != nil {
		return err
	}

	for _, r := range s.campaign.Rewards {
		caps, err := s.campaign.DailyCapSchedule(r)
		if err != nil {
			return err
		}
		if caps == nil {
			continue
		}
		for i, day := range days {
			if err := s.quota.EnsureDailyCap(ctx, r.ID, day.Format(dayKeyFormat), caps[i]); err != nil {
				return fmt.Errorf("failed to seed cap for %s on %s: %w", r.ID, day.Format(dayKeyFormat), err)
			}
		}
	}

	log.Info().Int("days", len(days)).Msg("Daily cap schedule seeded")
	return nil
}

// RunDailyReset clears the previous day's usage aggregates at each day
// rollover in campaign time. Blocks until the context is cancelled.
func (s *SpinService) RunDailyReset(ctx context.Context) {
	for {
		now := s.now().In(s.loc)
		today := startOfDay(now)
		next := today.AddDate(0, 0, 1)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		dayKey := today.Format(dayKeyFormat)
		if err := s.cache.ClearDay(ctx, dayKey); err != nil {
			log.Error().Err(err).Str("day_key", dayKey).Msg("Failed to clear usage aggregates")
			continue
		}
		log.Info().Str("day_key", dayKey).Msg("Cleared usage aggregates for finished day")
	}
}
