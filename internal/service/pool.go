package service

import (
	"context"
	"fmt"

	"spin-campaign-service/internal/draw"
	"spin-campaign-service/internal/model"
)

// poolEntry is one eligible candidate for the current draw.
type poolEntry struct {
	reward    model.Reward
	capToday  *int64
	used      int64
	remaining *int64
	weight    int64
}

// buildPool computes the eligible candidates and their effective weights
// for the given day. The fallback reward is excluded: it is the last-resort
// outcome, never drawn. Rewards at their daily cap or with zero effective
// weight are dropped. The builder performs no mutation; reroll prunes the
// returned slice in memory instead of re-querying.
func (s *SpinService) buildPool(ctx context.Context, dayKey string) ([]poolEntry, error) {
	caps, err := s.quota.DailyCaps(ctx, dayKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily caps: %w", err)
	}
	counts, err := s.quota.UsedCounts(ctx, dayKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load reward counters: %w", err)
	}

	pool := make([]poolEntry, 0, len(s.campaign.Rewards))
	for _, r := range s.campaign.Rewards {
		if !r.IsActive || r.ID == s.campaign.FallbackRewardID {
			continue
		}

		entry := poolEntry{reward: r, used: counts[r.ID]}
		if c, ok := caps[r.ID]; ok {
			if entry.used >= c {
				continue
			}
			remaining := c - entry.used
			entry.capToday = &c
			entry.remaining = &remaining
		}

		entry.weight = draw.EffectiveWeight(r.BaseWeight, entry.remaining, entry.capToday)
		if entry.weight <= 0 {
			continue
		}
		pool = append(pool, entry)
	}

	return pool, nil
}

func poolWeights(pool []poolEntry) []int64 {
	weights := make([]int64, len(pool))
	for i, entry := range pool {
		weights[i] = entry.weight
	}
	return weights
}

// snapshotPool captures the candidate list behind a draw for the audit
// record. Uncapped entries record -1 for remaining and cap.
func snapshotPool(pool []poolEntry, pickedID string, rerolls int) model.OutcomeSnapshot {
	entries := make([]model.PoolEntry, len(pool))
	for i, entry := range pool {
		remaining, capToday := int64(-1), int64(-1)
		if entry.remaining != nil {
			remaining = *entry.remaining
		}
		if entry.capToday != nil {
			capToday = *entry.capToday
		}
		entries[i] = model.PoolEntry{
			RewardID:        entry.reward.ID,
			EffectiveWeight: entry.weight,
			RemainingToday:  remaining,
			CapToday:        capToday,
		}
	}
	return model.OutcomeSnapshot{
		Pool:           entries,
		PickedRewardID: pickedID,
		Rerolls:        rerolls,
	}
}
