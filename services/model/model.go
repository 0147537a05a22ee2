package model

import (
	"time"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PlanType string

const (
	PlanFree PlanType = "free"
	PlanPro  PlanType = "pro"
)

func (p PlanType) IsPaid() bool { return p == PlanPro }

type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserBanned    UserStatus = "banned"
	UserSuspended UserStatus = "suspended"
)

type User struct {
	ID            int64           `gorm:"column:id;primaryKey" json:"id"`
	WalletBalance decimal.Decimal `gorm:"column:wallet_balance;type:decimal(20,8);not null" json:"wallet_balance"`
	PointsBalance int64           `gorm:"column:points_balance;not null" json:"points_balance"`
	PlanType      PlanType        `gorm:"column:plan_type;size:16;not null" json:"plan_type"`
	PlanExpiry    *time.Time      `gorm:"column:plan_expiry" json:"plan_expiry"`
	Status        UserStatus      `gorm:"column:status;size:16;not null" json:"status"`
	CreatedAt     time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.PlanType == "" {
		u.PlanType = PlanFree
	}
	if u.Status == "" {
		u.Status = UserActive
	}
	return nil
}

func (u *User) IsActive() bool { return u.Status == UserActive }

// PlanExpired reports whether a pro plan's expiry has passed at now.
func (u *User) PlanExpired(now time.Time) bool {
	return u.PlanType == PlanPro && u.PlanExpiry != nil && !u.PlanExpiry.After(now)
}

type UsagePeriod struct {
	ID            int64      `gorm:"column:id;primaryKey" json:"id"`
	UserID        int64      `gorm:"column:user_id;uniqueIndex;not null" json:"user_id"`
	TasksToday    int        `gorm:"column:tasks_today;not null" json:"tasks_today"`
	AdsToday      int        `gorm:"column:ads_today;not null" json:"ads_today"`
	SurveysToday  int        `gorm:"column:surveys_today;not null" json:"surveys_today"`
	InstallsToday int        `gorm:"column:installs_today;not null" json:"installs_today"`
	EarningsToday int64      `gorm:"column:earnings_today;not null" json:"earnings_today"`
	PeriodStart   time.Time  `gorm:"column:period_start;not null" json:"period_start"`
	LastActionAt  *time.Time `gorm:"column:last_action_at" json:"last_action_at"`
	CreatedAt     time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

// Counter returns a pointer to the per-category counter so callers can read
// and bump it without a switch of their own.
func (p *UsagePeriod) Counter(c Category) *int {
	switch c {
	case CategoryAds:
		return &p.AdsToday
	case CategoryTasks:
		return &p.TasksToday
	case CategorySurveys:
		return &p.SurveysToday
	case CategoryInstalls:
		return &p.InstallsToday
	default:
		return nil
	}
}

func (p *UsagePeriod) Reset(start time.Time) {
	p.TasksToday = 0
	p.AdsToday = 0
	p.SurveysToday = 0
	p.InstallsToday = 0
	p.EarningsToday = 0
	p.PeriodStart = start
}

type LimitConfig struct {
	ID                  int64           `gorm:"column:id;primaryKey" json:"id"`
	LimitAdsFree        int             `gorm:"column:limit_ads_free" json:"limit_ads_free"`
	LimitAdsPaid        int             `gorm:"column:limit_ads_paid" json:"limit_ads_paid"`
	LimitTasksFree      int             `gorm:"column:limit_tasks_free" json:"limit_tasks_free"`
	LimitTasksPaid      int             `gorm:"column:limit_tasks_paid" json:"limit_tasks_paid"`
	LimitSurveysFree    int             `gorm:"column:limit_surveys_free" json:"limit_surveys_free"`
	LimitSurveysPaid    int             `gorm:"column:limit_surveys_paid" json:"limit_surveys_paid"`
	LimitInstallsFree   int             `gorm:"column:limit_installs_free" json:"limit_installs_free"`
	LimitInstallsPaid   int             `gorm:"column:limit_installs_paid" json:"limit_installs_paid"`
	DailyEarningCapFree decimal.Decimal `gorm:"column:daily_earning_cap_free;type:decimal(20,8)" json:"daily_earning_cap_free"`
	DailyEarningCapPaid decimal.Decimal `gorm:"column:daily_earning_cap_paid;type:decimal(20,8)" json:"daily_earning_cap_paid"`
	ResetHour           int             `gorm:"column:reset_hour" json:"reset_hour"`
	UpdatedAt           time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

// DailyLimit returns the configured count limit for (category, plan).
func (l *LimitConfig) DailyLimit(c Category, plan PlanType) int {
	paid := plan.IsPaid()
	pick := func(free, pro int) int {
		if paid {
			return pro
		}
		return free
	}
	switch c {
	case CategoryAds:
		return pick(l.LimitAdsFree, l.LimitAdsPaid)
	case CategoryTasks:
		return pick(l.LimitTasksFree, l.LimitTasksPaid)
	case CategorySurveys:
		return pick(l.LimitSurveysFree, l.LimitSurveysPaid)
	case CategoryInstalls:
		return pick(l.LimitInstallsFree, l.LimitInstallsPaid)
	default:
		return 0
	}
}

func (l *LimitConfig) DailyEarningCap(plan PlanType) decimal.Decimal {
	if plan.IsPaid() {
		return l.DailyEarningCapPaid
	}
	return l.DailyEarningCapFree
}

type PlatformStatus string

const (
	PlatformEnabled  PlatformStatus = "enabled"
	PlatformDisabled PlatformStatus = "disabled"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Multiplier scales per-platform task limits by risk.
func (r RiskLevel) Multiplier() decimal.Decimal {
	switch r {
	case RiskMedium:
		return decimal.RequireFromString("0.8")
	case RiskHigh, RiskCritical:
		return decimal.RequireFromString("0.5")
	default:
		return decimal.NewFromInt(1)
	}
}

type RotationMode string

const (
	RotationPriority   RotationMode = "priority"
	RotationRoundRobin RotationMode = "round_robin"
)

// PlatformConfig is the JSON payload stored in platforms.config.
type PlatformConfig struct {
	FreeLimit    int `json:"free_limit,omitempty"`
	PaidLimit    int `json:"paid_limit,omitempty"`
	FrequencyCap int `json:"frequency_cap,omitempty"`
}

type Platform struct {
	ID              int64                              `gorm:"column:id;primaryKey" json:"id"`
	Name            string                             `gorm:"column:name;size:128;not null" json:"name"`
	Slug            string                             `gorm:"column:slug;size:128;uniqueIndex" json:"slug"`
	Category        Category                           `gorm:"column:category;size:32;index:idx_platform_category_priority,priority:1;not null" json:"category"`
	Status          PlatformStatus                     `gorm:"column:status;size:16;not null" json:"status"`
	Priority        int                                `gorm:"column:priority;index:idx_platform_category_priority,priority:2" json:"priority"`
	RiskLevel       RiskLevel                          `gorm:"column:risk_level;size:16" json:"risk_level"`
	CooldownHours   int                                `gorm:"column:cooldown_hours" json:"cooldown_hours"`
	RotationEnabled bool                               `gorm:"column:rotation_enabled" json:"rotation_enabled"`
	RotationMode    RotationMode                       `gorm:"column:rotation_mode;size:16" json:"rotation_mode"`
	MaxEarn         decimal.NullDecimal                `gorm:"column:max_earn;type:decimal(20,8)" json:"max_earn"`
	UserCapFree     decimal.NullDecimal                `gorm:"column:user_cap_free;type:decimal(20,8)" json:"user_cap_free"`
	UserCapPaid     decimal.NullDecimal                `gorm:"column:user_cap_paid;type:decimal(20,8)" json:"user_cap_paid"`
	AdmissionExpr   string                             `gorm:"column:admission_expr;type:text" json:"admission_expr"`
	Config          datatypes.JSONType[PlatformConfig] `gorm:"column:config" json:"config"`
	CreatedAt       time.Time                          `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time                          `gorm:"column:updated_at" json:"updated_at"`
}

func (p *Platform) BeforeSave(tx *gorm.DB) error {
	if p.Slug == "" && p.Name != "" {
		p.Slug = slug.Make(p.Name)
	}
	if p.Status == "" {
		p.Status = PlatformEnabled
	}
	if p.RiskLevel == "" {
		p.RiskLevel = RiskLow
	}
	if p.RotationMode == "" {
		p.RotationMode = RotationPriority
	}
	return nil
}

func (p *Platform) IsEnabled() bool { return p.Status == PlatformEnabled }

// PlanLimit is paid_limit or free_limit depending on plan, falling back to
// frequency_cap. Zero means no per-platform limit.
func (p *Platform) PlanLimit(plan PlanType) int {
	cfg := p.Config.Data()
	limit := cfg.FreeLimit
	if plan.IsPaid() {
		limit = cfg.PaidLimit
	}
	if limit <= 0 {
		limit = cfg.FrequencyCap
	}
	return limit
}

// UserCap returns the lifetime per-user cap for plan, if one is set.
func (p *Platform) UserCap(plan PlanType) decimal.NullDecimal {
	if plan.IsPaid() {
		return p.UserCapPaid
	}
	return p.UserCapFree
}

type RewardCredit struct {
	ID                 int64           `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	UserID             int64           `gorm:"column:user_id;index:idx_credit_user_category,priority:1;index:idx_credit_user_platform,priority:1;not null" json:"user_id"`
	Category           Category        `gorm:"column:category;size:32;index:idx_credit_user_category,priority:2;not null" json:"category"`
	PlatformID         *int64          `gorm:"column:platform_id;index:idx_credit_user_platform,priority:2" json:"platform_id"`
	Platform           *Platform       `gorm:"foreignKey:PlatformID;constraint:OnDelete:SET NULL" json:"platform,omitempty"`
	PlatformName       string          `gorm:"column:platform_name;size:128" json:"platform_name"`
	GrossAmount        decimal.Decimal `gorm:"column:gross_amount;type:decimal(20,8);not null" json:"gross_amount"`
	UserEarning        decimal.Decimal `gorm:"column:user_earning;type:decimal(20,8);not null" json:"user_earning"`
	PlatformCommission decimal.Decimal `gorm:"column:platform_commission;type:decimal(20,8);not null" json:"platform_commission"`
	Coins              int64           `gorm:"column:coins;not null" json:"coins"`
	ExternalTxID       *string         `gorm:"column:external_tx_id;size:191;uniqueIndex" json:"external_tx_id"`
	CreatedAt          time.Time       `gorm:"column:created_at;index" json:"created_at"`
}

type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

type WalletTransaction struct {
	ID           int64           `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	UserID       int64           `gorm:"column:user_id;index;not null" json:"user_id"`
	Amount       decimal.Decimal `gorm:"column:amount;type:decimal(20,8);not null" json:"amount"`
	Coins        int64           `gorm:"column:coins;not null" json:"coins"`
	Type         TransactionType `gorm:"column:type;size:16;not null" json:"type"`
	Reason       string          `gorm:"column:reason;size:255" json:"reason"`
	Reference    string          `gorm:"column:reference;size:64;index" json:"reference"`
	PlatformID   *int64          `gorm:"column:platform_id;index" json:"platform_id"`
	PreviousHash string          `gorm:"column:previous_hash;size:64" json:"previous_hash"`
	Hash         string          `gorm:"column:hash;size:64" json:"hash"`
	CreatedAt    time.Time       `gorm:"column:created_at" json:"created_at"`
}

type Offer struct {
	ID        int64           `gorm:"column:id;primaryKey" json:"id"`
	Title     string          `gorm:"column:title;size:255" json:"title"`
	Provider  string          `gorm:"column:provider;size:128;index" json:"provider"`
	Category  Category        `gorm:"column:category;size:32" json:"category"`
	Reward    decimal.Decimal `gorm:"column:reward;type:decimal(20,8)" json:"reward"`
	IsActive  bool            `gorm:"column:is_active;index" json:"is_active"`
	CreatedAt time.Time       `gorm:"column:created_at" json:"created_at"`
}

type TaskStatus string

const (
	TaskClicked         TaskStatus = "clicked"
	TaskInProgress      TaskStatus = "in_progress"
	TaskPendingApproval TaskStatus = "pending_approval"
	TaskCompleted       TaskStatus = "completed"
	TaskRejected        TaskStatus = "rejected"
)

// Terminal reports whether the task can no longer be completed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskRejected
}

type UserTask struct {
	ID             int64           `gorm:"column:id;primaryKey" json:"id"`
	UserID         int64           `gorm:"column:user_id;index;not null" json:"user_id"`
	OfferID        int64           `gorm:"column:offer_id;index" json:"offer_id"`
	Provider       string          `gorm:"column:provider;size:128" json:"provider"`
	Status         TaskStatus      `gorm:"column:status;size:32;not null" json:"status"`
	RewardSnapshot decimal.Decimal `gorm:"column:reward_snapshot;type:decimal(20,8)" json:"reward_snapshot"`
	StartedAt      time.Time       `gorm:"column:started_at" json:"started_at"`
	CompletedAt    *time.Time      `gorm:"column:completed_at" json:"completed_at"`
}

// All lists every persisted entity, in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&UsagePeriod{},
		&LimitConfig{},
		&Platform{},
		&RewardCredit{},
		&WalletTransaction{},
		&Offer{},
		&UserTask{},
	}
}
