package httpapi

import (
	"net/http"
	"strconv"

	"rewardcore/pkg/db/pagination"
	"rewardcore/pkg/errutil"
	"rewardcore/services/ledger"
	"rewardcore/services/model"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type creditBody struct {
	UserID     int64  `json:"user_id" binding:"required,gt=0"`
	Category   string `json:"category" binding:"required"`
	Coins      int64  `json:"coins"`
	PlatformID *int64 `json:"platform_id" binding:"omitempty,gt=0"`
	TaskID     *int64 `json:"task_id" binding:"omitempty,gt=0"`
}

type debitBody struct {
	UserID int64  `json:"user_id" binding:"required,gt=0"`
	Coins  int64  `json:"coins"`
	Reason string `json:"reason"`
}

type postbackQuery struct {
	UID      string `form:"uid"`
	SubID    string `form:"subid"`
	Payout   string `form:"payout"`
	TxID     string `form:"tx"`
	Platform string `form:"platform"`
}

func (h *Handler) Availability(c *gin.Context) {
	userID, ok := param(c, "id")
	if !ok {
		return
	}

	if raw := c.Query("category"); raw != "" {
		category, err := model.ParseCategory(raw)
		if err != nil {
			_ = c.Error(errutil.BadRequest("invalid category", err))
			return
		}
		res, err := h.resolver.Resolve(c.Request.Context(), userID, category)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}

	res, err := h.resolver.ResolveAll(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": res})
}

func (h *Handler) Admission(c *gin.Context) {
	userID, ok := param(c, "id")
	if !ok {
		return
	}
	platformID, ok := param(c, "pid")
	if !ok {
		return
	}

	d, err := h.policy.CanAct(c.Request.Context(), userID, platformID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) Provider(c *gin.Context) {
	userID, ok := param(c, "id")
	if !ok {
		return
	}
	category, err := model.ParseCategory(c.Query("category"))
	if err != nil {
		_ = c.Error(errutil.BadRequest("invalid category", err))
		return
	}

	p, err := h.selector.SelectProvider(c.Request.Context(), userID, category)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) Credit(c *gin.Context) {
	var body creditBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	category, err := model.ParseCategory(body.Category)
	if err != nil {
		_ = c.Error(ledger.ErrInvalidCategory)
		return
	}

	res, err := h.ledger.RecordCredit(c.Request.Context(), ledger.CreditRequest{
		UserID:     body.UserID,
		Category:   category,
		Coins:      body.Coins,
		PlatformID: body.PlatformID,
		TaskID:     body.TaskID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) Debit(c *gin.Context) {
	var body debitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	res, err := h.ledger.Debit(c.Request.Context(), ledger.DebitRequest{
		UserID: body.UserID,
		Coins:  body.Coins,
		Reason: body.Reason,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) Reconcile(c *gin.Context) {
	userID, ok := param(c, "id")
	if !ok {
		return
	}
	res, err := h.ledger.Reconcile(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Transactions(c *gin.Context) {
	userID, ok := param(c, "id")
	if !ok {
		return
	}

	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}
	if p.Cursor != "" {
		if _, err := pagination.DecodeCursor(p.Cursor); err != nil {
			_ = c.Error(errutil.BadRequest("invalid cursor", err))
			return
		}
	}

	rows, info, err := h.ledger.ListTransactions(c.Request.Context(), userID, p)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "page_info": info})
}

// Postback confirms a provider-reported completion. payout is in USD; zero
// or missing falls back to the configured default payout.
func (h *Handler) Postback(c *gin.Context) {
	var q postbackQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid postback", err))
		return
	}

	raw := q.UID
	if raw == "" {
		raw = q.SubID
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		_ = c.Error(errutil.BadRequest("uid or subid is required", nil,
			errutil.WithDetails(errutil.Detail{Field: "uid", Message: "must be a positive integer"})))
		return
	}

	payout := h.defaultPayout
	if q.Payout != "" {
		v, err := decimal.NewFromString(q.Payout)
		if err != nil || v.IsNegative() {
			_ = c.Error(errutil.BadRequest("invalid payout", err))
			return
		}
		if !v.IsZero() {
			payout = v
		}
	}

	req := ledger.ConfirmRequest{
		UserID:       userID,
		Coins:        h.money.Coins(payout),
		ExternalTxID: q.TxID,
	}

	if q.Platform != "" {
		p, err := h.limits.PlatformBySlug(c.Request.Context(), nil, q.Platform)
		if err != nil {
			_ = c.Error(errutil.Internal("failed to load platform", err))
			return
		}
		if p == nil {
			_ = c.Error(errutil.NotFound("platform not found", nil))
			return
		}
		req.PlatformID = &p.ID
	}

	res, err := h.ledger.ConfirmExternal(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := "credited"
	if res.Duplicate {
		status = "duplicate"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "result": res})
}

func param(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(errutil.BadRequest("invalid "+name, err))
		return 0, false
	}
	return id, true
}
