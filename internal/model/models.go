// Package model defines the data models for the spin campaign service.
package model

import "time"

// Reward is one slice of the campaign wheel. Rewards are static campaign
// configuration: created at campaign setup, optionally deactivated, never
// mutated during spins.
type Reward struct {
	ID         string         `mapstructure:"id" json:"id"`
	Name       string         `mapstructure:"name" json:"name"`
	Type       string         `mapstructure:"type" json:"type"`
	BaseWeight int64          `mapstructure:"base_weight" json:"baseWeight"`
	TotalQty   *int64         `mapstructure:"total_qty" json:"totalQty"`
	IsActive   bool           `mapstructure:"is_active" json:"isActive"`
	Metadata   map[string]any `mapstructure:"metadata" json:"metadata,omitempty"`
}

// Reward types.
const (
	RewardTypeVoucher  = "voucher"
	RewardTypeCashback = "cashback"
	RewardTypePoints   = "points"
	RewardTypePhysical = "physical"
	RewardTypePerk     = "perk"
	RewardTypeTicket   = "ticket"
	RewardTypeMystery  = "mystery"
	RewardTypeNone     = "none" // no-win / consolation outcome
)

// DailyCap is the award ceiling for one reward on one campaign day.
// Absence of a row means "no daily cap" for that reward and day.
type DailyCap struct {
	RewardID string `db:"reward_id"`
	DayKey   string `db:"day_key"`
	Cap      int64  `db:"cap"`
}

// RewardCounter tracks how many units of a reward were awarded on a day.
// Created lazily on first award, incremented exactly once per award.
type RewardCounter struct {
	RewardID  string `db:"reward_id"`
	DayKey    string `db:"day_key"`
	UsedCount int64  `db:"used_count"`
}

// ClientInfo captures request origin details for audit.
type ClientInfo struct {
	IP        string `json:"ip"`
	UserAgent string `json:"userAgent"`
}

// PoolEntry is one candidate in the audit snapshot of a draw. RemainingToday
// and CapToday are -1 when the reward carries no daily cap.
type PoolEntry struct {
	RewardID        string `json:"rewardId"`
	EffectiveWeight int64  `json:"effectiveWeight"`
	RemainingToday  int64  `json:"remainingToday"`
	CapToday        int64  `json:"capToday"`
}

// OutcomeSnapshot is the replayable record of why a particular reward was
// chosen: the candidate pool fed into the winning draw, the picked reward
// and how many reservation races were lost on the way.
type OutcomeSnapshot struct {
	Pool           []PoolEntry `json:"pool"`
	PickedRewardID string      `json:"pickedRewardId"`
	Rerolls        int         `json:"rerolls"`
}

// Spin is one award record. Append-only; the unique constraint on
// IdempotencyKey is what makes spins exactly-once.
type Spin struct {
	ID               string          `db:"id"`
	UserID           string          `db:"user_id"`
	RewardID         string          `db:"reward_id"`
	IdempotencyKey   string          `db:"idempotency_key"`
	RequestSignature string          `db:"request_signature"`
	ClientInfo       ClientInfo      `db:"client_info"`
	OutcomeSnapshot  OutcomeSnapshot `db:"outcome_snapshot"`
	CreatedAt        time.Time       `db:"created_at"`
}

// SpinResult is the outcome returned to the caller of a spin.
type SpinResult struct {
	Reward      Reward    `json:"reward"`
	Message     string    `json:"message"`
	SpunAt      time.Time `json:"spunAt"`
	RewardIndex int       `json:"rewardIndex"`
}

// PrizeRecord is one entry in a user's prize history.
type PrizeRecord struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
	WonAt    time.Time      `json:"wonAt"`
}

// UserPrizes is the prize history view for one user.
type UserPrizes struct {
	Prizes              []PrizeRecord `json:"prizes"`
	RemainingSpinsToday int           `json:"remainingSpinsToday"`
	NextResetAt         time.Time     `json:"nextResetAt"`
}

// RewardUsage is per-reward usage for one day, for admin summaries.
// Cap is nil when the reward has no daily cap for that day.
type RewardUsage struct {
	RewardID   string `json:"rewardId"`
	RewardName string `json:"rewardName"`
	Cap        *int64 `json:"cap"`
	UsedCount  int64  `json:"usedCount"`
}

// DailySummary aggregates one campaign day for the admin dashboard.
type DailySummary struct {
	Date       string        `json:"date"`
	TotalSpins int64         `json:"totalSpins"`
	Rewards    []RewardUsage `json:"rewards"`
}
