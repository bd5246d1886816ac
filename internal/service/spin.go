// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"spin-campaign-service/internal/config"
	"spin-campaign-service/internal/draw"
	"spin-campaign-service/internal/model"
	"spin-campaign-service/internal/repository"
)

// User-facing errors for spin operations. Reservation races never surface
// here; they are recovered by rerolling or falling back.
var (
	ErrCampaignInactive  = errors.New("campaign is inactive")
	ErrRateLimited       = errors.New("too many requests")
	ErrDailyLimitReached = errors.New("daily spin limit reached")
	ErrFallbackMissing   = errors.New("fallback reward missing")
)

const dayKeyFormat = "20060102"

const fallbackMessage = "Oops, almost there! Try again tomorrow."

func winMessage(name string) string {
	return "Congratulations! You won " + name
}

// SpinStore is the durable spin (award record) store.
type SpinStore interface {
	ByIdempotencyKey(ctx context.Context, key string) (*model.Spin, error)
	Create(ctx context.Context, spin *model.Spin) (*model.Spin, error)
	CountByUser(ctx context.Context, userID string, from, to time.Time) (int64, error)
	CountInWindow(ctx context.Context, from, to time.Time) (int64, error)
	ByUser(ctx context.Context, userID string, limit int) ([]*model.Spin, error)
}

// QuotaStore is the durable cap/counter store with atomic reservation.
// Reserve must be implementable atop SQL transactions, optimistic CAS or a
// single-writer actor; the orchestrator only depends on its contract.
type QuotaStore interface {
	DailyCaps(ctx context.Context, dayKey string) (map[string]int64, error)
	UsedCounts(ctx context.Context, dayKey string) (map[string]int64, error)
	EnsureDailyCap(ctx context.Context, rewardID, dayKey string, cap int64) error
	Reserve(ctx context.Context, res repository.Reservation) (*model.Spin, error)
}

// FastCache is the shared low-latency layer for locks, rate counters and
// advisory usage aggregates.
type FastCache interface {
	IncrRate(ctx context.Context, key string, window time.Duration) (int64, error)
	AcquireDailyLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseDailyLock(ctx context.Context, key string) error
	RecordUsage(ctx context.Context, dayKey, rewardID string, ttl time.Duration) error
	UsageForDay(ctx context.Context, dayKey string) (map[string]int64, error)
	ClearDay(ctx context.Context, dayKey string) error
}

// SpinRequest carries one spin attempt. UserID and RequestSignature arrive
// already verified by the transport layer; the engine records them for audit.
type SpinRequest struct {
	UserID           string
	IdempotencyKey   string
	Timestamp        int64
	RequestSignature string
	ClientInfo       model.ClientInfo
}

// ConfigView is the campaign state returned to the wheel front end.
type ConfigView struct {
	Campaign            *config.CampaignConfig `json:"config"`
	ServerTime          time.Time              `json:"serverTime"`
	RemainingSpinsToday int                    `json:"remainingSpinsToday"`
	NextResetAt         time.Time              `json:"nextResetAt"`
}

// SpinService runs the reward allocation engine: weighted draws, quota
// enforcement, idempotent replay and cap-aware reroll/fallback.
type SpinService struct {
	spins    SpinStore
	quota    QuotaStore
	cache    FastCache
	campaign *config.CampaignConfig
	rate     config.RateLimitConfig
	roller   draw.Roller

	loc         *time.Location
	windowStart time.Time
	windowEnd   time.Time

	now func() time.Time
}

// NewSpinService creates a new SpinService instance.
func NewSpinService(
	spins SpinStore,
	quota QuotaStore,
	cache FastCache,
	campaign *config.CampaignConfig,
	rate config.RateLimitConfig,
	roller draw.Roller,
) (*SpinService, error) {
	loc, err := campaign.Location()
	if err != nil {
		return nil, err
	}
	windowStart, windowEnd, err := campaign.Window()
	if err != nil {
		return nil, err
	}

	return &SpinService{
		spins:       spins,
		quota:       quota,
		cache:       cache,
		campaign:    campaign,
		rate:        rate,
		roller:      roller,
		loc:         loc,
		windowStart: windowStart,
		windowEnd:   windowEnd,
		now:         time.Now,
	}, nil
}

// PerformSpin runs one spin attempt end to end: idempotent replay, campaign
// window, rate limit, daily lock, durable daily count, pool build, the
// draw-and-reserve loop and fallback. The caller sees a successful award
// (real or fallback) or one of the user-facing errors above.
func (s *SpinService) PerformSpin(ctx context.Context, req SpinRequest) (*model.SpinResult, error) {
	// A key that already produced a spin replays that outcome verbatim.
	existing, err := s.spins.ByIdempotencyKey(ctx, req.IdempotencyKey)
	if err == nil {
		return s.resultFromSpin(existing)
	}
	if !errors.Is(err, repository.ErrSpinNotFound) {
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	now := s.now().In(s.loc)
	if now.Before(s.windowStart) || now.After(s.windowEnd) {
		return nil, ErrCampaignInactive
	}

	dayStart := startOfDay(now)
	dayEnd := dayStart.AddDate(0, 0, 1)
	dayKey := dayStart.Format(dayKeyFormat)
	ttl := dayEnd.Sub(now)

	rateKey := fmt.Sprintf("rate:%s:%s:%s", dayKey, req.UserID, req.ClientInfo.IP)
	count, err := s.cache.IncrRate(ctx, rateKey, s.rate.Window)
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if count > s.rate.Max {
		return nil, ErrRateLimited
	}

	lockKey := fmt.Sprintf("user:%s:spin:%s", req.UserID, dayKey)
	acquired, err := s.cache.AcquireDailyLock(ctx, lockKey, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire daily lock: %w", err)
	}
	if !acquired {
		return nil, ErrDailyLimitReached
	}

	// The lock must be dropped on every failure path and never on success,
	// so a transient failure does not shut the user out until rollover.
	success := false
	defer func() {
		if success {
			return
		}
		if rerr := s.cache.ReleaseDailyLock(context.WithoutCancel(ctx), lockKey); rerr != nil {
			log.Error().Err(rerr).Str("lock_key", lockKey).Msg("Failed to release daily lock")
		}
	}()

	// The lock is an advisory pre-filter; the durable spin count is the
	// authoritative per-user daily guard.
	spun, err := s.spins.CountByUser(ctx, req.UserID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to count today's spins: %w", err)
	}
	if spun >= int64(s.campaign.PerUserDailyLimit) {
		return nil, ErrDailyLimitReached
	}

	pool, err := s.buildPool(ctx, dayKey)
	if err != nil {
		return nil, err
	}

	rerolls := 0
	for len(pool) > 0 {
		weights := poolWeights(pool)
		roll, err := s.roller.Roll(draw.TotalWeight(weights))
		if err != nil {
			return nil, fmt.Errorf("failed to roll: %w", err)
		}
		idx, err := draw.PickIndex(weights, roll)
		if err != nil {
			return nil, fmt.Errorf("failed to pick reward: %w", err)
		}
		choice := pool[idx]

		spin := &model.Spin{
			ID:               uuid.NewString(),
			UserID:           req.UserID,
			RewardID:         choice.reward.ID,
			IdempotencyKey:   req.IdempotencyKey,
			RequestSignature: req.RequestSignature,
			ClientInfo:       req.ClientInfo,
			OutcomeSnapshot:  snapshotPool(pool, choice.reward.ID, rerolls),
		}

		created, err := s.quota.Reserve(ctx, repository.Reservation{
			Spin:     spin,
			DayKey:   dayKey,
			CapToday: choice.capToday,
			TotalQty: choice.reward.TotalQty,
		})
		switch {
		case err == nil:
			// The usage hash feeds admin summaries only; a failed bump
			// must not fail an already-reserved award.
			if cerr := s.cache.RecordUsage(ctx, dayKey, choice.reward.ID, ttl); cerr != nil {
				log.Warn().Err(cerr).Str("reward_id", choice.reward.ID).Msg("Failed to record usage aggregate")
			}
			success = true
			return &model.SpinResult{
				Reward:      choice.reward,
				Message:     winMessage(choice.reward.Name),
				SpunAt:      created.CreatedAt,
				RewardIndex: s.campaign.RewardIndex(choice.reward.ID),
			}, nil

		case errors.Is(err, repository.ErrDuplicateIdempotencyKey):
			// A concurrent request completed this key first; replay it.
			winner, rerr := s.spins.ByIdempotencyKey(ctx, req.IdempotencyKey)
			if rerr != nil {
				return nil, fmt.Errorf("failed to replay completed spin: %w", rerr)
			}
			success = true
			return s.resultFromSpin(winner)

		case errors.Is(err, repository.ErrCapExhausted), errors.Is(err, repository.ErrLifetimeCapExhausted):
			log.Debug().
				Str("reward_id", choice.reward.ID).
				Int("rerolls", rerolls).
				Msg("Lost reservation race, rerolling")
			pool = append(pool[:idx], pool[idx+1:]...)
			rerolls++

		default:
			return nil, fmt.Errorf("reservation failed: %w", err)
		}
	}

	result, err := s.awardFallback(ctx, req, rerolls)
	if err != nil {
		return nil, err
	}
	success = true
	return result, nil
}

// awardFallback records the always-available consolation outcome. The
// fallback is uncapped and excluded from the weighted pool, so it consumes
// no capacity and cannot fail on quota.
func (s *SpinService) awardFallback(ctx context.Context, req SpinRequest, rerolls int) (*model.SpinResult, error) {
	fallback, ok := s.campaign.RewardByID(s.campaign.FallbackRewardID)
	if !ok {
		return nil, ErrFallbackMissing
	}

	spin := &model.Spin{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		RewardID:         fallback.ID,
		IdempotencyKey:   req.IdempotencyKey,
		RequestSignature: req.RequestSignature,
		ClientInfo:       req.ClientInfo,
		OutcomeSnapshot: model.OutcomeSnapshot{
			Pool:           []model.PoolEntry{},
			PickedRewardID: fallback.ID,
			Rerolls:        rerolls,
		},
	}

	created, err := s.spins.Create(ctx, spin)
	if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
		winner, rerr := s.spins.ByIdempotencyKey(ctx, req.IdempotencyKey)
		if rerr != nil {
			return nil, fmt.Errorf("failed to replay completed spin: %w", rerr)
		}
		return s.resultFromSpin(winner)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record fallback spin: %w", err)
	}

	return &model.SpinResult{
		Reward:      fallback,
		Message:     fallbackMessage,
		SpunAt:      created.CreatedAt,
		RewardIndex: s.campaign.RewardIndex(fallback.ID),
	}, nil
}

// resultFromSpin rebuilds the outcome of a persisted spin for idempotent
// replay. Rewards no longer present in the config degrade to the fallback.
func (s *SpinService) resultFromSpin(spin *model.Spin) (*model.SpinResult, error) {
	reward, ok := s.campaign.RewardByID(spin.RewardID)
	if !ok {
		fallback, fok := s.campaign.RewardByID(s.campaign.FallbackRewardID)
		if !fok {
			return nil, ErrFallbackMissing
		}
		reward = fallback
	}

	message := winMessage(reward.Name)
	if reward.ID == s.campaign.FallbackRewardID {
		message = fallbackMessage
	}

	return &model.SpinResult{
		Reward:      reward,
		Message:     message,
		SpunAt:      spin.CreatedAt,
		RewardIndex: s.campaign.RewardIndex(reward.ID),
	}, nil
}

// GetSpinConfig returns the campaign config and the caller's remaining
// spins for today.
func (s *SpinService) GetSpinConfig(ctx context.Context, userID string) (*ConfigView, error) {
	now := s.now().In(s.loc)
	remaining, nextReset, err := s.remainingToday(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	return &ConfigView{
		Campaign:            s.campaign,
		ServerTime:          now,
		RemainingSpinsToday: remaining,
		NextResetAt:         nextReset,
	}, nil
}

// GetUserPrizes returns a user's prize history along with their remaining
// spins today and the next reset time.
func (s *SpinService) GetUserPrizes(ctx context.Context, userID string) (*model.UserPrizes, error) {
	now := s.now().In(s.loc)
	remaining, nextReset, err := s.remainingToday(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	spins, err := s.spins.ByUser(ctx, userID, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to load prize history: %w", err)
	}

	prizes := make([]model.PrizeRecord, 0, len(spins))
	for _, spin := range spins {
		reward, ok := s.campaign.RewardByID(spin.RewardID)
		if !ok {
			reward, _ = s.campaign.RewardByID(s.campaign.FallbackRewardID)
		}
		prizes = append(prizes, model.PrizeRecord{
			ID:       spin.ID,
			Name:     reward.Name,
			Type:     reward.Type,
			Metadata: reward.Metadata,
			WonAt:    spin.CreatedAt,
		})
	}

	return &model.UserPrizes{
		Prizes:              prizes,
		RemainingSpinsToday: remaining,
		NextResetAt:         nextReset,
	}, nil
}

// GetSummaryForDate aggregates per-reward usage for one campaign day.
func (s *SpinService) GetSummaryForDate(ctx context.Context, date string) (*model.DailySummary, error) {
	day, err := time.ParseInLocation("2006-01-02", date, s.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	dayStart := startOfDay(day)
	dayEnd := dayStart.AddDate(0, 0, 1)
	dayKey := dayStart.Format(dayKeyFormat)

	total, err := s.spins.CountInWindow(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to count spins: %w", err)
	}

	caps, err := s.quota.DailyCaps(ctx, dayKey)
	if err != nil {
		return nil, err
	}
	counts, err := s.quota.UsedCounts(ctx, dayKey)
	if err != nil {
		return nil, err
	}

	// The fast-layer usage hash can run ahead of a read of the durable
	// counters; the durable counters are the floor. A cache outage degrades
	// the summary to durable data only.
	if live, lerr := s.cache.UsageForDay(ctx, dayKey); lerr != nil {
		log.Warn().Err(lerr).Str("day_key", dayKey).Msg("Failed to read usage aggregates")
	} else {
		for rewardID, n := range live {
			if n > counts[rewardID] {
				counts[rewardID] = n
			}
		}
	}

	rewards := make([]model.RewardUsage, 0, len(s.campaign.Rewards))
	for _, r := range s.campaign.Rewards {
		usage := model.RewardUsage{
			RewardID:   r.ID,
			RewardName: r.Name,
			UsedCount:  counts[r.ID],
		}
		if cap, ok := caps[r.ID]; ok {
			usage.Cap = &cap
		}
		rewards = append(rewards, usage)
	}

	return &model.DailySummary{
		Date:       date,
		TotalSpins: total,
		Rewards:    rewards,
	}, nil
}

func (s *SpinService) remainingToday(ctx context.Context, userID string, now time.Time) (int, time.Time, error) {
	dayStart := startOfDay(now)
	dayEnd := dayStart.AddDate(0, 0, 1)

	spun, err := s.spins.CountByUser(ctx, userID, dayStart, dayEnd)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to count today's spins: %w", err)
	}

	remaining := s.campaign.PerUserDailyLimit - int(spun)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, dayEnd, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
