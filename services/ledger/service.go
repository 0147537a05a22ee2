package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rewardcore/pkg/config"
	"rewardcore/pkg/db/option"
	"rewardcore/pkg/db/pagination"
	"rewardcore/pkg/repository"
	"rewardcore/pkg/sequence"
	"rewardcore/services/limits"
	"rewardcore/services/model"
	"rewardcore/services/policy"
	"rewardcore/services/usage"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	creditsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardcore_ledger_credits_total",
		Help: "Successful credits by category.",
	}, []string{"category"})
	rejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardcore_ledger_rejections_total",
		Help: "Rejected or failed ledger writes by error code.",
	}, []string{"code"})
	duplicatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rewardcore_ledger_postback_duplicates_total",
		Help: "Postbacks acknowledged as duplicates.",
	})
)

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{creditsTotal, rejectionsTotal, duplicatesTotal}
}

type CreditRequest struct {
	UserID     int64
	Category   model.Category
	Coins      int64
	PlatformID *int64
	TaskID     *int64
}

type ConfirmRequest struct {
	UserID       int64
	Coins        int64
	ExternalTxID string
	PlatformID   *int64
}

type CreditResult struct {
	User      *model.User        `json:"user"`
	Period    *model.UsagePeriod `json:"period,omitempty"`
	Category  model.Category     `json:"category,omitempty"`
	Credited  int64              `json:"credited"`
	CreditID  int64              `json:"credit_id,omitempty"`
	Reference string             `json:"reference,omitempty"`
	Duplicate bool               `json:"duplicate"`
}

type DebitRequest struct {
	UserID int64
	Coins  int64
	Reason string
}

type DebitResult struct {
	User          *model.User `json:"user"`
	TransactionID int64       `json:"transaction_id"`
	Reference     string      `json:"reference"`
}

type Reconciliation struct {
	UserID           int64           `json:"user_id"`
	PointsBalance    int64           `json:"points_balance"`
	LedgerCoins      int64           `json:"ledger_coins"`
	WalletBalance    decimal.Decimal `json:"wallet_balance"`
	ExpectedWallet   decimal.Decimal `json:"expected_wallet"`
	Transactions     int             `json:"transactions"`
	WalletConsistent bool            `json:"wallet_consistent"`
	ChainValid       bool            `json:"chain_valid"`
	BrokenAt         *int64          `json:"broken_at,omitempty"`
}

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	limits  *limits.Store
	tracker *usage.Tracker
	policy  *policy.Engine
	seq     sequence.Generator
	money   model.Money

	postbackEnforceCap bool

	users   repository.Repository[model.User]
	credits repository.Repository[model.RewardCredit]
	wallet  repository.Repository[model.WalletTransaction]
	tasks   repository.Repository[model.UserTask]

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Limits   *limits.Store
	Tracker  *usage.Tracker
	Policy   *policy.Engine
	Money    model.Money
	Sequence sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	seq := p.Sequence
	if seq == nil {
		seq = sequence.NewMemoryGenerator()
	}
	return &Service{
		db:                 p.DB,
		node:               p.Node,
		limits:             p.Limits,
		tracker:            p.Tracker,
		policy:             p.Policy,
		seq:                seq,
		money:              p.Money,
		postbackEnforceCap: p.Config.Reward.PostbackEnforceDailyCap,
		users:              repository.ProvideStore[model.User](p.DB),
		credits:            repository.ProvideStore[model.RewardCredit](p.DB),
		wallet:             repository.ProvideStore[model.WalletTransaction](p.DB),
		tasks:              repository.ProvideStore[model.UserTask](p.DB),
		now:                time.Now,
	}
}

// WithClock replaces the service clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type creditInput struct {
	userID       int64
	category     model.Category
	coins        int64
	platformID   *int64
	taskID       *int64
	externalTxID *string
	enforceCap   bool
	platformWins bool
	reference    string
	walletReason string
}

// RecordCredit admits and records one credit in a single transaction. It
// re-runs every admission check under the user's row lock and never relies on
// an earlier read-path answer.
func (s *Service) RecordCredit(ctx context.Context, req CreditRequest) (*CreditResult, error) {
	return s.record(ctx, creditInput{
		userID:     req.UserID,
		category:   req.Category,
		coins:      req.Coins,
		platformID: req.PlatformID,
		taskID:     req.TaskID,
		enforceCap: true,
	})
}

// ConfirmExternal records a provider-confirmed credit. A repeated ExternalTxID
// is acknowledged as a duplicate without touching any balance.
func (s *Service) ConfirmExternal(ctx context.Context, req ConfirmRequest) (*CreditResult, error) {
	in := creditInput{
		userID:       req.UserID,
		category:     model.CategoryTasks,
		coins:        req.Coins,
		platformID:   req.PlatformID,
		enforceCap:   s.postbackEnforceCap,
		platformWins: true,
		walletReason: "postback",
	}
	if req.ExternalTxID != "" {
		id := req.ExternalTxID
		in.externalTxID = &id
	}
	return s.record(ctx, in)
}

var errDuplicate = errors.New("duplicate external transaction")

func (s *Service) record(ctx context.Context, in creditInput) (*CreditResult, error) {
	log := logger(ctx).With(
		zap.Int64("user_id", in.userID),
		zap.String("category", string(in.category)),
	)
	if in.platformID != nil {
		log = log.With(zap.Int64("platform_id", *in.platformID))
	}

	if in.coins <= 0 {
		return nil, s.reject(log, ErrInvalidAmount)
	}
	if !in.category.Valid() {
		return nil, s.reject(log, ErrInvalidCategory)
	}

	ref, err := s.seq.NextCreditCode(ctx)
	if err != nil {
		log.Warn("failed to generate credit reference, using snowflake", zap.Error(err))
		ref = fmt.Sprintf("%s-%s", sequence.PrefixCredit, s.node.Generate().Base36())
	}
	in.reference = ref

	var result *CreditResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := s.apply(ctx, tx, in)
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, errDuplicate):
		duplicatesTotal.Inc()
		log.Info("external transaction already recorded", zap.Stringp("external_tx_id", in.externalTxID))
		return s.duplicateResult(ctx, in.userID)
	default:
		var ce *CreditError
		if !errors.As(err, &ce) {
			ce = systemError(err)
		}
		return nil, s.reject(log, ce)
	}

	creditsTotal.WithLabelValues(string(result.Category)).Inc()
	log.Info("credit recorded",
		zap.Int64("coins", result.Credited),
		zap.Int64("credit_id", result.CreditID),
		zap.String("reference", result.Reference),
	)
	return result, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, in creditInput) (*CreditResult, error) {
	users := s.users.WithTrx(tx)

	user, err := users.FindByID(ctx, in.userID, option.WithLockingUpdate())
	if err != nil {
		return nil, systemError(err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if in.externalTxID != nil {
		existing, err := s.credits.WithTrx(tx).FindOne(ctx, &model.RewardCredit{ExternalTxID: in.externalTxID})
		if err != nil {
			return nil, systemError(err)
		}
		if existing != nil {
			return nil, errDuplicate
		}
	}

	if !user.IsActive() {
		return nil, ErrAccountSuspended
	}

	now := s.now().UTC()
	if user.PlanExpired(now) {
		user.PlanType = model.PlanFree
		user.PlanExpiry = nil
		if err := users.Update(ctx, user.ID, map[string]any{"plan_type": model.PlanFree, "plan_expiry": nil}); err != nil {
			return nil, systemError(err)
		}
	}

	cfg, err := s.limits.Limits(ctx, tx)
	if err != nil {
		return nil, systemError(err)
	}

	period, err := s.tracker.GetOrCreate(ctx, tx, user.ID, now, cfg.ResetHour)
	if err != nil {
		return nil, systemError(err)
	}
	if _, err := s.tracker.Rollover(ctx, tx, period, now, cfg.ResetHour); err != nil {
		return nil, systemError(err)
	}

	var platform *model.Platform
	if in.platformID != nil {
		platform, err = s.limits.Platform(ctx, tx, *in.platformID)
		if err != nil {
			return nil, systemError(err)
		}
		if platform != nil && platform.Category != in.category {
			if !in.platformWins {
				return nil, ErrInvalidCategory.with(
					fmt.Sprintf("platform %d serves %s, not %s", platform.ID, platform.Category, in.category), "", nil)
			}
			in.category = platform.Category
		}
	}

	if in.enforceCap {
		capCoins := s.money.Coins(cfg.DailyEarningCap(user.PlanType))
		if period.EarningsToday+in.coins > capCoins {
			return nil, ErrDailyCapExceeded
		}
	}

	if in.platformID != nil {
		d, err := s.policy.Evaluate(ctx, &policy.Input{
			Tx:          tx,
			User:        user,
			Plan:        user.PlanType,
			Platform:    platform,
			Amount:      in.coins,
			Now:         now,
			PeriodStart: period.PeriodStart,
		})
		if err != nil {
			var re *policy.RuleError
			if errors.As(err, &re) {
				return nil, ErrSystem.with("", re.Rule, err)
			}
			return nil, systemError(err)
		}
		if !d.Allowed {
			return nil, denialError(d)
		}
	}

	if *period.Counter(in.category) >= cfg.DailyLimit(in.category, user.PlanType) {
		return nil, ErrCategoryLimitExceeded
	}

	if in.taskID != nil {
		if err := s.completeTask(ctx, tx, user.ID, *in.taskID, now); err != nil {
			return nil, err
		}
	}

	if err := s.tracker.Record(ctx, tx, period, in.category, in.coins, now); err != nil {
		return nil, systemError(err)
	}

	user.PointsBalance += in.coins
	user.WalletBalance = s.money.USD(user.PointsBalance)
	if err := users.Update(ctx, user.ID, map[string]any{
		"points_balance": user.PointsBalance,
		"wallet_balance": user.WalletBalance,
	}); err != nil {
		return nil, systemError(err)
	}

	reason := in.walletReason
	if reason == "" {
		reason = string(in.category)
	}
	if platform != nil {
		reason = fmt.Sprintf("%s:%s", reason, platform.Slug)
	}
	if _, err := s.appendWallet(ctx, tx, user.ID, model.TransactionCredit, in.coins, reason, in.reference, in.platformID, now); err != nil {
		return nil, systemError(err)
	}

	earning := s.money.USD(in.coins)
	gross, commission := s.money.Split(earning)
	credit := &model.RewardCredit{
		ID:                 s.node.Generate().Int64(),
		UserID:             user.ID,
		Category:           in.category,
		PlatformID:         in.platformID,
		GrossAmount:        gross,
		UserEarning:        earning,
		PlatformCommission: commission,
		Coins:              in.coins,
		ExternalTxID:       in.externalTxID,
		CreatedAt:          now,
	}
	if platform != nil {
		credit.PlatformName = platform.Name
	} else {
		credit.PlatformID = nil
	}
	if err := s.credits.WithTrx(tx).Create(ctx, credit); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errDuplicate
		}
		return nil, systemError(err)
	}

	return &CreditResult{
		User:      user,
		Period:    period,
		Category:  in.category,
		Credited:  in.coins,
		CreditID:  credit.ID,
		Reference: in.reference,
	}, nil
}

func (s *Service) completeTask(ctx context.Context, tx *gorm.DB, userID, taskID int64, now time.Time) error {
	tasks := s.tasks.WithTrx(tx)
	task, err := tasks.FindByID(ctx, taskID, option.WithUserID(userID), option.WithLockingUpdate())
	if err != nil {
		return systemError(err)
	}
	if task == nil {
		return ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return ErrTaskAlreadyCompleted.with(fmt.Sprintf("task is %s", task.Status), "", nil)
	}
	if err := tasks.Update(ctx, task.ID, map[string]any{
		"status":       model.TaskCompleted,
		"completed_at": now,
	}); err != nil {
		return systemError(err)
	}
	return nil
}

// appendWallet writes the next link of the user's hash chain. The caller must
// hold the user's row lock.
func (s *Service) appendWallet(ctx context.Context, tx *gorm.DB, userID int64, typ model.TransactionType, coins int64, reason, reference string, platformID *int64, now time.Time) (*model.WalletTransaction, error) {
	last, err := s.wallet.WithTrx(tx).FindOne(ctx, nil, option.WithUserID(userID),
		option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}))
	if err != nil {
		return nil, err
	}

	entry := &model.WalletTransaction{
		ID:         s.node.Generate().Int64(),
		UserID:     userID,
		Amount:     s.money.USD(coins),
		Coins:      coins,
		Type:       typ,
		Reason:     reason,
		Reference:  reference,
		PlatformID: platformID,
		CreatedAt:  now.Truncate(hashPrecision),
	}
	if last != nil {
		entry.PreviousHash = last.Hash
	}
	entry.Hash = GenerateHash(entry)

	if err := s.wallet.WithTrx(tx).Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) duplicateResult(ctx context.Context, userID int64) (*CreditResult, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, systemError(err)
	}
	return &CreditResult{User: user, Duplicate: true}, nil
}

// Debit removes coins from the user's balance, e.g. for a withdrawal or plan
// purchase.
func (s *Service) Debit(ctx context.Context, req DebitRequest) (*DebitResult, error) {
	log := logger(ctx).With(zap.Int64("user_id", req.UserID), zap.String("reason", req.Reason))

	if req.Coins <= 0 {
		return nil, s.reject(log, ErrInvalidAmount)
	}

	ref, err := s.seq.NextDebitCode(ctx)
	if err != nil {
		log.Warn("failed to generate debit reference, using snowflake", zap.Error(err))
		ref = fmt.Sprintf("%s-%s", sequence.PrefixDebit, s.node.Generate().Base36())
	}

	var result *DebitResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTrx(tx)
		user, err := users.FindByID(ctx, req.UserID, option.WithLockingUpdate())
		if err != nil {
			return systemError(err)
		}
		if user == nil {
			return ErrUserNotFound
		}
		if !user.IsActive() {
			return ErrAccountSuspended
		}
		if user.PointsBalance < req.Coins {
			return ErrInsufficientBalance
		}

		user.PointsBalance -= req.Coins
		user.WalletBalance = s.money.USD(user.PointsBalance)
		if err := users.Update(ctx, user.ID, map[string]any{
			"points_balance": user.PointsBalance,
			"wallet_balance": user.WalletBalance,
		}); err != nil {
			return systemError(err)
		}

		entry, err := s.appendWallet(ctx, tx, user.ID, model.TransactionDebit, req.Coins, req.Reason, ref, nil, s.now().UTC())
		if err != nil {
			return systemError(err)
		}

		result = &DebitResult{User: user, TransactionID: entry.ID, Reference: ref}
		return nil
	})
	if err != nil {
		var ce *CreditError
		if !errors.As(err, &ce) {
			ce = systemError(err)
		}
		return nil, s.reject(log, ce)
	}

	log.Info("debit recorded", zap.Int64("coins", req.Coins), zap.String("reference", ref))
	return result, nil
}

// Reconcile recomputes the balance from the wallet transactions and verifies
// the hash chain.
func (s *Service) Reconcile(ctx context.Context, userID int64) (*Reconciliation, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, systemError(err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	txs, err := s.wallet.Find(ctx, nil, option.WithUserID(userID),
		option.WithSortBy(option.QuerySortBy{OrderBy: "asc"}))
	if err != nil {
		return nil, systemError(err)
	}

	var coins int64
	for _, t := range txs {
		switch t.Type {
		case model.TransactionCredit:
			coins += t.Coins
		case model.TransactionDebit:
			coins -= t.Coins
		}
	}

	expected := s.money.USD(user.PointsBalance)
	r := &Reconciliation{
		UserID:         userID,
		PointsBalance:  user.PointsBalance,
		LedgerCoins:    coins,
		WalletBalance:  user.WalletBalance,
		ExpectedWallet: expected,
		Transactions:   len(txs),
		ChainValid:     true,
	}
	r.WalletConsistent = coins == user.PointsBalance && expected.Equal(user.WalletBalance)

	if i := VerifyChain(txs); i >= 0 {
		r.ChainValid = false
		r.BrokenAt = &txs[i].ID
		logger(ctx).Error("wallet hash chain broken", zap.Int64("user_id", userID), zap.Int64("transaction_id", txs[i].ID))
	}
	return r, nil
}

// ListTransactions pages through a user's wallet transactions, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID int64, p pagination.Pagination) ([]*model.WalletTransaction, *pagination.PageInfo, error) {
	rows, err := s.wallet.Find(ctx, nil, option.WithUserID(userID), option.ApplyPagination(p))
	if err != nil {
		return nil, nil, systemError(err)
	}
	page, info := pagination.BuildCursorPage(rows, p.PageSize(), func(t *model.WalletTransaction) int64 { return t.ID })
	return page, info, nil
}

func (s *Service) reject(log *zap.Logger, ce *CreditError) *CreditError {
	rejectionsTotal.WithLabelValues(string(ce.Code)).Inc()
	fields := []zap.Field{
		zap.String("code", string(ce.Code)),
		zap.String("rule", ce.Rule),
		zap.String("reason", ce.Reason),
	}
	if ce.Code == CodeSystemError {
		log.Error("ledger write failed", append(fields, zap.Error(ce.Err))...)
	} else {
		log.Info("ledger write rejected", fields...)
	}
	return ce
}

func logger(ctx context.Context) *zap.Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return zap.L()
	}
	return zap.L().With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}
