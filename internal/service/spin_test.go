package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spin-campaign-service/internal/config"
	"spin-campaign-service/internal/model"
	"spin-campaign-service/internal/repository"
)

func int64Ptr(v int64) *int64 { return &v }

// ----------------------------------------------------------------------------
// Fakes
// ----------------------------------------------------------------------------

// fakeSpinStore is an in-memory SpinStore keyed by idempotency key. The
// unique-key semantics mirror the durable store: a second insert with the
// same key fails with ErrDuplicateIdempotencyKey.
type fakeSpinStore struct {
	mu    sync.Mutex
	byKey map[string]*model.Spin
	now   func() time.Time

	failCreate error
}

func newFakeSpinStore(now func() time.Time) *fakeSpinStore {
	return &fakeSpinStore{byKey: make(map[string]*model.Spin), now: now}
}

func (f *fakeSpinStore) ByIdempotencyKey(_ context.Context, key string) (*model.Spin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spin, ok := f.byKey[key]
	if !ok {
		return nil, repository.ErrSpinNotFound
	}
	copied := *spin
	return &copied, nil
}

func (f *fakeSpinStore) Create(_ context.Context, spin *model.Spin) (*model.Spin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(spin)
}

// insertLocked applies the unique idempotency key constraint. Callers hold mu.
func (f *fakeSpinStore) insertLocked(spin *model.Spin) (*model.Spin, error) {
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	if _, exists := f.byKey[spin.IdempotencyKey]; exists {
		return nil, repository.ErrDuplicateIdempotencyKey
	}
	copied := *spin
	copied.CreatedAt = f.now()
	f.byKey[spin.IdempotencyKey] = &copied
	result := copied
	return &result, nil
}

func (f *fakeSpinStore) CountByUser(_ context.Context, userID string, from, to time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, spin := range f.byKey {
		if spin.UserID == userID && !spin.CreatedAt.Before(from) && spin.CreatedAt.Before(to) {
			count++
		}
	}
	return count, nil
}

func (f *fakeSpinStore) CountInWindow(_ context.Context, from, to time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, spin := range f.byKey {
		if !spin.CreatedAt.Before(from) && spin.CreatedAt.Before(to) {
			count++
		}
	}
	return count, nil
}

func (f *fakeSpinStore) ByUser(_ context.Context, userID string, limit int) ([]*model.Spin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var spins []*model.Spin
	for _, spin := range f.byKey {
		if spin.UserID == userID {
			copied := *spin
			spins = append(spins, &copied)
		}
	}
	if len(spins) > limit {
		spins = spins[:limit]
	}
	return spins, nil
}

func (f *fakeSpinStore) countReward(rewardID string) int64 {
	var count int64
	for _, spin := range f.byKey {
		if spin.RewardID == rewardID {
			count++
		}
	}
	return count
}

// fakeQuotaStore is an in-memory QuotaStore for a single campaign day. Its
// Reserve honors the real contract: cap check and counter increment happen
// atomically with the spin insert, sharing the spin store's lock.
type fakeQuotaStore struct {
	spins *fakeSpinStore

	mu     sync.Mutex
	caps   map[string]int64
	used   map[string]int64
	seeded map[string]map[string]int64 // dayKey -> rewardID -> cap

	failCaps   error
	forcedErrs map[string]error // rewardID -> error on Reserve
}

func newFakeQuotaStore(spins *fakeSpinStore) *fakeQuotaStore {
	return &fakeQuotaStore{
		spins:      spins,
		caps:       make(map[string]int64),
		used:       make(map[string]int64),
		seeded:     make(map[string]map[string]int64),
		forcedErrs: make(map[string]error),
	}
}

func (f *fakeQuotaStore) DailyCaps(_ context.Context, _ string) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCaps != nil {
		return nil, f.failCaps
	}
	caps := make(map[string]int64, len(f.caps))
	for k, v := range f.caps {
		caps[k] = v
	}
	return caps, nil
}

func (f *fakeQuotaStore) UsedCounts(_ context.Context, _ string) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int64, len(f.used))
	for k, v := range f.used {
		counts[k] = v
	}
	return counts, nil
}

func (f *fakeQuotaStore) EnsureDailyCap(_ context.Context, rewardID, dayKey string, cap int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seeded[dayKey] == nil {
		f.seeded[dayKey] = make(map[string]int64)
	}
	f.seeded[dayKey][rewardID] = cap
	return nil
}

func (f *fakeQuotaStore) Reserve(_ context.Context, res repository.Reservation) (*model.Spin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spins.mu.Lock()
	defer f.spins.mu.Unlock()

	rewardID := res.Spin.RewardID
	if err, ok := f.forcedErrs[rewardID]; ok {
		return nil, err
	}
	if res.CapToday != nil && f.used[rewardID] >= *res.CapToday {
		return nil, repository.ErrCapExhausted
	}
	if res.TotalQty != nil && f.spins.countReward(rewardID) >= *res.TotalQty {
		return nil, repository.ErrLifetimeCapExhausted
	}

	created, err := f.spins.insertLocked(res.Spin)
	if err != nil {
		return nil, err
	}
	f.used[rewardID]++
	return created, nil
}

// fakeCache is an in-memory FastCache.
type fakeCache struct {
	mu    sync.Mutex
	rates map[string]int64
	locks map[string]bool
	usage map[string]map[string]int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		rates: make(map[string]int64),
		locks: make(map[string]bool),
		usage: make(map[string]map[string]int64),
	}
}

func (f *fakeCache) IncrRate(_ context.Context, key string, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates[key]++
	return f.rates[key], nil
}

func (f *fakeCache) AcquireDailyLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[key] {
		return false, nil
	}
	f.locks[key] = true
	return true, nil
}

func (f *fakeCache) ReleaseDailyLock(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, key)
	return nil
}

func (f *fakeCache) RecordUsage(_ context.Context, dayKey, rewardID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usage[dayKey] == nil {
		f.usage[dayKey] = make(map[string]int64)
	}
	f.usage[dayKey][rewardID]++
	return nil
}

func (f *fakeCache) UsageForDay(_ context.Context, dayKey string) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	usage := make(map[string]int64, len(f.usage[dayKey]))
	for k, v := range f.usage[dayKey] {
		usage[k] = v
	}
	return usage, nil
}

func (f *fakeCache) ClearDay(_ context.Context, dayKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.usage, dayKey)
	return nil
}

func (f *fakeCache) lockHeld(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locks[key]
}

// scriptedRoller replays a fixed roll sequence, then repeats the last roll.
type scriptedRoller struct {
	mu    sync.Mutex
	rolls []int64
	idx   int
}

func (r *scriptedRoller) Roll(max int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roll := r.rolls[r.idx]
	if r.idx < len(r.rolls)-1 {
		r.idx++
	}
	return roll % max, nil
}

// ----------------------------------------------------------------------------
// Fixture
// ----------------------------------------------------------------------------

func testCampaign() *config.CampaignConfig {
	return &config.CampaignConfig{
		ID:                "test-campaign",
		Timezone:          "Asia/Kuala_Lumpur",
		ActivationStart:   "2025-12-15T00:00:00+08:00",
		ActivationEnd:     "2025-12-26T23:59:59+08:00",
		PerUserDailyLimit: 1,
		FallbackRewardID:  "reward_none",
		Rewards: []model.Reward{
			{ID: "reward_grand", Name: "Grand Prize", Type: model.RewardTypePhysical, BaseWeight: 2, TotalQty: int64Ptr(4), IsActive: true},
			{ID: "reward_voucher", Name: "RM10 Voucher", Type: model.RewardTypeVoucher, BaseWeight: 8, TotalQty: int64Ptr(40), IsActive: true},
			{ID: "reward_perk", Name: "Extra Cashback", Type: model.RewardTypePerk, BaseWeight: 10, IsActive: true},
			{ID: "reward_none", Name: "Almost There!", Type: model.RewardTypeNone, BaseWeight: 6, IsActive: true},
		},
	}
}

type fixture struct {
	svc   *SpinService
	spins *fakeSpinStore
	quota *fakeQuotaStore
	cache *fakeCache
	now   time.Time
}

// newFixture wires the engine onto the fakes at a fixed instant inside the
// campaign window: 2025-12-20 12:00 campaign time.
func newFixture(t *testing.T, campaign *config.CampaignConfig, roller *scriptedRoller) *fixture {
	t.Helper()

	loc, err := campaign.Location()
	require.NoError(t, err)
	now := time.Date(2025, 12, 20, 12, 0, 0, 0, loc)

	spins := newFakeSpinStore(func() time.Time { return now })
	quota := newFakeQuotaStore(spins)
	cache := newFakeCache()

	svc, err := NewSpinService(spins, quota, cache, campaign,
		config.RateLimitConfig{Max: 10, Window: time.Minute}, roller)
	require.NoError(t, err)
	svc.now = func() time.Time { return now }

	return &fixture{svc: svc, spins: spins, quota: quota, cache: cache, now: now}
}

func spinReq(userID, key string) SpinRequest {
	return SpinRequest{
		UserID:           userID,
		IdempotencyKey:   key,
		Timestamp:        1766203200000,
		RequestSignature: "sig",
		ClientInfo:       model.ClientInfo{IP: "203.0.113.7", UserAgent: "test"},
	}
}

const testDayKey = "20251220"

// ----------------------------------------------------------------------------
// PerformSpin
// ----------------------------------------------------------------------------

func TestPerformSpin_AwardsWeightedReward(t *testing.T) {
	// Pool: grand (cap 1, eff 2), voucher (cap 4, eff 8), perk (uncapped, 10).
	// Total 20; roll 10 lands in the perk bucket.
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{10}})
	fix.quota.caps = map[string]int64{"reward_grand": 1, "reward_voucher": 4}

	result, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-1"))
	require.NoError(t, err)

	assert.Equal(t, "reward_perk", result.Reward.ID)
	assert.Equal(t, "Congratulations! You won Extra Cashback", result.Message)
	assert.Equal(t, 2, result.RewardIndex)
	assert.Equal(t, fix.now, result.SpunAt)

	spin, err := fix.spins.ByIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "reward_perk", spin.RewardID)
	assert.Equal(t, "reward_perk", spin.OutcomeSnapshot.PickedRewardID)
	assert.Equal(t, 0, spin.OutcomeSnapshot.Rerolls)
	assert.Len(t, spin.OutcomeSnapshot.Pool, 3)

	assert.Equal(t, int64(1), fix.quota.used["reward_perk"])
	assert.Equal(t, int64(1), fix.cache.usage[testDayKey]["reward_perk"])
	assert.True(t, fix.cache.lockHeld("user:u1:spin:"+testDayKey), "daily lock must survive success")
}

func TestPerformSpin_SnapshotRecordsPool(t *testing.T) {
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{0}})
	fix.quota.caps = map[string]int64{"reward_grand": 2, "reward_voucher": 4}
	fix.quota.used = map[string]int64{"reward_grand": 1}

	_, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-1"))
	require.NoError(t, err)

	spin, err := fix.spins.ByIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, err)

	// grand: 1 of 2 remaining, weight decays from 2 to 1.
	assert.Contains(t, spin.OutcomeSnapshot.Pool, model.PoolEntry{
		RewardID: "reward_grand", EffectiveWeight: 1, RemainingToday: 1, CapToday: 2,
	})
	// perk is uncapped: sentinel -1 for remaining and cap.
	assert.Contains(t, spin.OutcomeSnapshot.Pool, model.PoolEntry{
		RewardID: "reward_perk", EffectiveWeight: 10, RemainingToday: -1, CapToday: -1,
	})
}

func TestPerformSpin_IdempotentReplay(t *testing.T) {
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{10}})
	fix.quota.caps = map[string]int64{"reward_grand": 1, "reward_voucher": 4}

	first, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-1"))
	require.NoError(t, err)

	// The same key replays the recorded outcome without a new draw, a new
	// rate tick or a new reservation.
	ratesBefore := len(fix.cache.rates)
	second, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-1"))
	require.NoError(t, err)

	assert.Equal(t, first.Reward.ID, second.Reward.ID)
	assert.Equal(t, first.SpunAt, second.SpunAt)
	assert.Equal(t, int64(1), fix.quota.used["reward_perk"])
	assert.Equal(t, ratesBefore, len(fix.cache.rates))
}

func TestPerformSpin_ReplayDegradesRemovedReward(t *testing.T) {
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{0}})
	fix.spins.byKey["key-old"] = &model.Spin{
		ID: "spin-old", UserID: "u1", RewardID: "reward_retired",
		IdempotencyKey: "key-old", CreatedAt: fix.now,
	}

	result, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-old"))
	require.NoError(t, err)
	assert.Equal(t, "reward_none", result.Reward.ID)
	assert.Equal(t, fallbackMessage, result.Message)
}

func TestPerformSpin_CampaignInactive(t *testing.T) {
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{0}})
	loc := fix.now.Location()

	tests := []struct {
		name string
		now  time.Time
	}{
		{"before activation", time.Date(2025, 12, 14, 23, 59, 0, 0, loc)},
		{"after activation", time.Date(2025, 12, 27, 0, 0, 1, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix.svc.now = func() time.Time { return tt.now }
			_, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-"+tt.name))
			assert.ErrorIs(t, err, ErrCampaignInactive)
		})
	}
}

func TestPerformSpin_RateLimited(t *testing.T) {
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{0}})
	rateKey := "rate:" + testDayKey + ":u1:203.0.113.7"
	fix.cache.rates[rateKey] = 10

	_, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-1"))
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.False(t, fix.cache.lockHeld("user:u1:spin:"+testDayKey), "rate limit must reject before the lock")
}

func TestPerformSpin_DailyLockBlocksSecondSpin(t *testing.T) {
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{10}})

	_, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-1"))
	require.NoError(t, err)

	_, err = fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-2"))
	assert.ErrorIs(t, err, ErrDailyLimitReached)
	assert.Equal(t, 1, len(fix.spins.byKey))
}

func TestPerformSpin_DurableCountGuardsExpiredLock(t *testing.T) {
	// A spin already recorded today blocks a second one even when the fast
	// layer lost the lock: the durable count is authoritative.
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{10}})
	fix.spins.byKey["key-1"] = &model.Spin{
		ID: "spin-1", UserID: "u1", RewardID: "reward_perk",
		IdempotencyKey: "key-1", CreatedAt: fix.now.Add(-2 * time.Hour),
	}

	_, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-2"))
	assert.ErrorIs(t, err, ErrDailyLimitReached)
	assert.False(t, fix.cache.lockHeld("user:u1:spin:"+testDayKey), "failed attempt must release the lock")
}

func TestPerformSpin_RerollOnLostReservation(t *testing.T) {
	// The pool says grand is available, but the reservation loses the race.
	// The engine prunes it and rerolls among the survivors.
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{0, 0}})
	fix.quota.caps = map[string]int64{"reward_grand": 1, "reward_voucher": 4}
	fix.quota.forcedErrs["reward_grand"] = repository.ErrCapExhausted

	result, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-1"))
	require.NoError(t, err)
	assert.Equal(t, "reward_voucher", result.Reward.ID)

	spin, err := fix.spins.ByIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, 1, spin.OutcomeSnapshot.Rerolls)
	assert.Len(t, spin.OutcomeSnapshot.Pool, 2)
}

func TestPerformSpin_FallbackWhenPoolEmpty(t *testing.T) {
	campaign := testCampaign()
	campaign.Rewards[2].IsActive = false // deactivate the uncapped perk
	fix := newFixture(t, campaign, &scriptedRoller{rolls: []int64{0}})
	fix.quota.caps = map[string]int64{"reward_grand": 1, "reward_voucher": 4}
	fix.quota.used = map[string]int64{"reward_grand": 1, "reward_voucher": 4}

	result, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-1"))
	require.NoError(t, err)

	assert.Equal(t, "reward_none", result.Reward.ID)
	assert.Equal(t, fallbackMessage, result.Message)
	assert.Equal(t, int64(0), fix.quota.used["reward_none"], "fallback must not consume capacity")
	assert.True(t, fix.cache.lockHeld("user:u1:spin:"+testDayKey), "fallback is a completed spin")

	spin, err := fix.spins.ByIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Empty(t, spin.OutcomeSnapshot.Pool)
	assert.Equal(t, "reward_none", spin.OutcomeSnapshot.PickedRewardID)
}

func TestPerformSpin_FallbackExhaustedViaRerolls(t *testing.T) {
	// Every candidate loses its reservation race; the spin degrades to the
	// fallback and records how many races were lost.
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{0, 0, 0}})
	fix.quota.caps = map[string]int64{"reward_grand": 1, "reward_voucher": 4}
	fix.quota.forcedErrs["reward_grand"] = repository.ErrCapExhausted
	fix.quota.forcedErrs["reward_voucher"] = repository.ErrCapExhausted
	fix.quota.forcedErrs["reward_perk"] = repository.ErrLifetimeCapExhausted

	result, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-1"))
	require.NoError(t, err)
	assert.Equal(t, "reward_none", result.Reward.ID)

	spin, err := fix.spins.ByIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, 3, spin.OutcomeSnapshot.Rerolls)
}

func TestPerformSpin_FallbackMissing(t *testing.T) {
	campaign := testCampaign()
	campaign.FallbackRewardID = "reward_ghost"
	for i := range campaign.Rewards {
		campaign.Rewards[i].IsActive = false
	}
	fix := newFixture(t, campaign, &scriptedRoller{rolls: []int64{0}})

	_, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-1"))
	assert.ErrorIs(t, err, ErrFallbackMissing)
}

func TestPerformSpin_LockReleasedOnStorageFailure(t *testing.T) {
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{10}})
	fix.quota.failCaps = errors.New("connection reset")

	_, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-1"))
	require.Error(t, err)
	assert.False(t, fix.cache.lockHeld("user:u1:spin:"+testDayKey), "failed attempt must release the lock")

	// A retry after the outage succeeds; the user is not shut out.
	fix.quota.failCaps = nil
	result, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-1"))
	require.NoError(t, err)
	assert.Equal(t, "reward_perk", result.Reward.ID)
}

func TestPerformSpin_ConcurrentSameKey(t *testing.T) {
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{10}})

	const workers = 8
	results := make([]*model.SpinResult, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-1"))
		}(i)
	}
	wg.Wait()

	// Exactly one spin row exists; every successful caller saw the same
	// reward, and the rest were stopped by the daily lock.
	assert.Equal(t, 1, len(fix.spins.byKey))
	var successes int
	for i := 0; i < workers; i++ {
		switch {
		case errs[i] == nil:
			successes++
			assert.Equal(t, "reward_perk", results[i].Reward.ID)
		default:
			assert.ErrorIs(t, errs[i], ErrDailyLimitReached)
		}
	}
	assert.GreaterOrEqual(t, successes, 1)
}

func TestPerformSpin_ConcurrentCapNeverOversold(t *testing.T) {
	// One unit of the grand prize, many users rolling straight at it.
	// Exactly one wins; everyone else rerolls onto other rewards.
	campaign := testCampaign()
	fix := newFixture(t, campaign, &scriptedRoller{rolls: []int64{0}})
	fix.quota.caps = map[string]int64{"reward_grand": 1, "reward_voucher": 40}

	const workers = 16
	var wg sync.WaitGroup
	winners := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := string(rune('a' + i))
			result, err := fix.svc.PerformSpin(context.Background(), spinReq(userID, "key-"+userID))
			if err == nil {
				winners <- result.Reward.ID
			}
		}(i)
	}
	wg.Wait()
	close(winners)

	var grandWins int
	for id := range winners {
		if id == "reward_grand" {
			grandWins++
		}
	}
	assert.Equal(t, 1, grandWins, "the single grand prize unit must be awarded exactly once")
	assert.Equal(t, int64(1), fix.quota.used["reward_grand"])
}

// ----------------------------------------------------------------------------
// Views and seeding
// ----------------------------------------------------------------------------

func TestGetSpinConfig(t *testing.T) {
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{10}})

	view, err := fix.svc.GetSpinConfig(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, view.RemainingSpinsToday)
	assert.Equal(t, fix.now, view.ServerTime)
	assert.Equal(t, startOfDay(fix.now).AddDate(0, 0, 1), view.NextResetAt)

	_, err = fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-1"))
	require.NoError(t, err)

	view, err = fix.svc.GetSpinConfig(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, view.RemainingSpinsToday)
}

func TestGetUserPrizes(t *testing.T) {
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{10}})

	_, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-1"))
	require.NoError(t, err)

	prizes, err := fix.svc.GetUserPrizes(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, prizes.Prizes, 1)
	assert.Equal(t, "Extra Cashback", prizes.Prizes[0].Name)
	assert.Equal(t, model.RewardTypePerk, prizes.Prizes[0].Type)
	assert.Equal(t, 0, prizes.RemainingSpinsToday)

	other, err := fix.svc.GetUserPrizes(context.Background(), "u2")
	require.NoError(t, err)
	assert.Empty(t, other.Prizes)
	assert.Equal(t, 1, other.RemainingSpinsToday)
}

func TestGetSummaryForDate(t *testing.T) {
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{10}})
	fix.quota.caps = map[string]int64{"reward_grand": 1, "reward_voucher": 4}

	_, err := fix.svc.PerformSpin(context.Background(), spinReq("u1", "key-1"))
	require.NoError(t, err)

	summary, err := fix.svc.GetSummaryForDate(context.Background(), "2025-12-20")
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.TotalSpins)
	require.Len(t, summary.Rewards, 4)

	byID := make(map[string]model.RewardUsage)
	for _, usage := range summary.Rewards {
		byID[usage.RewardID] = usage
	}
	assert.Equal(t, int64(1), byID["reward_perk"].UsedCount)
	assert.Nil(t, byID["reward_perk"].Cap)
	require.NotNil(t, byID["reward_grand"].Cap)
	assert.Equal(t, int64(1), *byID["reward_grand"].Cap)

	_, err = fix.svc.GetSummaryForDate(context.Background(), "not-a-date")
	assert.Error(t, err)
}

func TestGetSummaryForDate_DurableCountsAreTheFloor(t *testing.T) {
	// The fast-layer hash was cleared, but the durable counters remember the
	// awards; the summary must not report zero usage.
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{10}})
	fix.quota.used = map[string]int64{"reward_voucher": 3}

	summary, err := fix.svc.GetSummaryForDate(context.Background(), "2025-12-20")
	require.NoError(t, err)
	for _, usage := range summary.Rewards {
		if usage.RewardID == "reward_voucher" {
			assert.Equal(t, int64(3), usage.UsedCount)
		}
	}
}

func TestSeedDailyCaps(t *testing.T) {
	fix := newFixture(t, testCampaign(), &scriptedRoller{rolls: []int64{0}})

	require.NoError(t, fix.svc.SeedDailyCaps(context.Background()))

	// Capped rewards get a row per campaign day; uncapped rewards get none.
	assert.Len(t, fix.quota.seeded, 12)
	var grandTotal, voucherTotal int64
	for _, caps := range fix.quota.seeded {
		grandTotal += caps["reward_grand"]
		voucherTotal += caps["reward_voucher"]
		_, hasPerk := caps["reward_perk"]
		assert.False(t, hasPerk, "uncapped reward must not be seeded")
	}
	assert.Equal(t, int64(4), grandTotal)
	assert.Equal(t, int64(40), voucherTotal)
}
