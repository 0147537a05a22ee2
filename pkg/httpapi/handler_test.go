package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rewardcore/pkg/celengine"
	"rewardcore/pkg/config"
	"rewardcore/pkg/health"
	"rewardcore/services/availability"
	"rewardcore/services/fallback"
	"rewardcore/services/ledger"
	"rewardcore/services/limits"
	"rewardcore/services/model"
	"rewardcore/services/policy"
	"rewardcore/services/testutil"
	"rewardcore/services/usage"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
	zap.ReplaceGlobals(zap.NewNop())
}

type api struct {
	db     *gorm.DB
	router *gin.Engine
}

func newAPI(t *testing.T) *api {
	t.Helper()

	cfg := &config.Config{}
	cfg.Reward.CoinsPerUSD = 500
	cfg.Reward.MarkupFactor = "2"
	cfg.Reward.PostbackEnforceDailyCap = true
	cfg.Reward.PostbackDefaultPayout = "0.50"
	cfg.Reward.Defaults = config.Limits{
		AdsFree: 10, AdsPaid: 50,
		TasksFree: 8, TasksPaid: 8,
		SurveysFree: 2, SurveysPaid: 10,
		InstallsFree: 5, InstallsPaid: 20,
		DailyEarnCapFree: "2.00",
		DailyEarnCapPaid: "20.00",
	}

	db := testutil.NewTestDB(t, model.All()...)
	now := time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store, err := limits.NewStore(limits.Params{DB: db, Config: cfg})
	require.NoError(t, err)
	money, err := model.NewMoney(cfg.Reward.CoinsPerUSD, cfg.Reward.MarkupFactor)
	require.NoError(t, err)
	programs, err := celengine.NewCache(time.Minute)
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	resolver := availability.NewResolver(availability.Params{DB: db, Limits: store}).WithClock(clock)
	engine := policy.NewEngine(policy.Params{
		DB: db, Limits: store, Resolver: resolver, Programs: programs, Money: money,
	}).WithClock(clock)
	svc := ledger.NewService(ledger.ServiceParams{
		DB: db, Node: node, Config: cfg, Limits: store,
		Tracker: usage.NewTracker(db), Policy: engine, Money: money,
	}).WithClock(clock)

	h, err := NewHandler(Params{
		Config:   cfg,
		Resolver: resolver,
		Policy:   engine,
		Selector: fallback.NewSelector(fallback.Params{DB: db, Limits: store, Admitter: engine}),
		Ledger:   svc,
		Limits:   store,
		Money:    money,
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	router := gin.New()
	require.NoError(t, Register(RegisterParams{
		Router:     router,
		Config:     cfg,
		Handler:    h,
		Health:     health.ProvideHealth(health.HealthParams{DB: db}),
		Registerer: reg,
		Gatherer:   reg,
	}))

	return &api{db: db, router: router}
}

func (a *api) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	e, ok := decode(t, w)["error"].(map[string]any)
	require.True(t, ok, w.Body.String())
	return e["code"].(string)
}

func TestCreditThenAvailability(t *testing.T) {
	a := newAPI(t)
	require.NoError(t, a.db.Create(&model.User{ID: 1}).Error)

	w := a.do(t, http.MethodPost, "/v1/credits", map[string]any{"user_id": 1, "category": "ad", "coins": 10})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, "ads", decode(t, w)["category"])

	w = a.do(t, http.MethodGet, "/v1/users/1/availability?category=ads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.EqualValues(t, 1, body["completed_today"])
	require.EqualValues(t, 9, body["remaining_today"])

	w = a.do(t, http.MethodGet, "/v1/users/1/availability", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode(t, w)["categories"], len(model.Categories))
}

func TestCreditErrors(t *testing.T) {
	a := newAPI(t)
	require.NoError(t, a.db.Create(&model.User{ID: 1}).Error)

	w := a.do(t, http.MethodPost, "/v1/credits", map[string]any{"user_id": 1, "category": "offerwall", "coins": 10})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, string(ledger.CodeInvalidCategory), errorCode(t, w))

	w = a.do(t, http.MethodPost, "/v1/credits", map[string]any{"user_id": 99, "category": "ads", "coins": 10})
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, string(ledger.CodeUserNotFound), errorCode(t, w))

	w = a.do(t, http.MethodPost, "/v1/credits", map[string]any{"category": "ads"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	for _, body := range []map[string]any{
		{"user_id": 0, "category": "ads", "coins": 10},
		{"user_id": 1, "category": "ads", "coins": 10, "platform_id": 0},
		{"user_id": 1, "category": "tasks", "coins": 10, "task_id": 0},
		{"user_id": 1, "category": "tasks", "coins": 10, "task_id": -3},
	} {
		w = a.do(t, http.MethodPost, "/v1/credits", body)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
	}

	var n int64
	require.NoError(t, a.db.Model(&model.RewardCredit{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestPostbackIdempotent(t *testing.T) {
	a := newAPI(t)
	require.NoError(t, a.db.Create(&model.User{ID: 7}).Error)

	w := a.do(t, http.MethodGet, "/v1/postback?subid=7&tx=abc", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "credited", decode(t, w)["status"])

	w = a.do(t, http.MethodGet, "/v1/postback?uid=7&tx=abc&payout=1.00", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "duplicate", decode(t, w)["status"])

	var user model.User
	require.NoError(t, a.db.First(&user, 7).Error)
	require.EqualValues(t, 250, user.PointsBalance)

	var n int64
	require.NoError(t, a.db.Model(&model.RewardCredit{}).Count(&n).Error)
	require.EqualValues(t, 1, n)
}

func TestPostbackValidation(t *testing.T) {
	a := newAPI(t)

	w := a.do(t, http.MethodGet, "/v1/postback?tx=abc", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, "/v1/postback?uid=1&payout=-1", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, "/v1/postback?uid=1&platform=nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmissionAndProvider(t *testing.T) {
	a := newAPI(t)
	require.NoError(t, a.db.Create(&model.User{ID: 1}).Error)
	p := &model.Platform{Name: "Ad Net", Category: model.CategoryAds, Priority: 1}
	require.NoError(t, a.db.Create(p).Error)

	w := a.do(t, http.MethodGet, "/v1/users/1/platforms/999/admission", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, false, decode(t, w)["allowed"])

	w = a.do(t, http.MethodGet, "/v1/users/1/provider?category=ads", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "ad-net", decode(t, w)["slug"])

	w = a.do(t, http.MethodGet, "/v1/users/1/provider?category=surveys", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestDebitReconcileTransactions(t *testing.T) {
	a := newAPI(t)
	require.NoError(t, a.db.Create(&model.User{ID: 1}).Error)

	for i := 0; i < 3; i++ {
		w := a.do(t, http.MethodPost, "/v1/credits", map[string]any{"user_id": 1, "category": "ads", "coins": 20})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := a.do(t, http.MethodPost, "/v1/debits", map[string]any{"user_id": 1, "coins": 100, "reason": "withdrawal"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Equal(t, string(ledger.CodeInsufficientBalance), errorCode(t, w))

	w = a.do(t, http.MethodPost, "/v1/debits", map[string]any{"user_id": 1, "coins": 15, "reason": "withdrawal"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = a.do(t, http.MethodGet, "/v1/users/1/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.EqualValues(t, 45, body["points_balance"])
	require.Equal(t, true, body["chain_valid"])

	w = a.do(t, http.MethodGet, "/v1/users/1/transactions?limit=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	require.Len(t, body["data"], 3)
	require.Equal(t, true, body["page_info"].(map[string]any)["has_more"])

	w = a.do(t, http.MethodGet, "/v1/users/1/transactions?cursor=***", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOperationalRoutes(t *testing.T) {
	a := newAPI(t)
	require.NoError(t, a.db.Create(&model.User{ID: 1}).Error)
	a.do(t, http.MethodPost, "/v1/credits", map[string]any{"user_id": 1, "category": "ads", "coins": 5})

	w := a.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "rewardcore_ledger_credits_total")

	w = a.do(t, http.MethodGet, "/v1/users/abc/availability", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
