package ledger

import (
	"fmt"

	"rewardcore/pkg/errutil"
	"rewardcore/services/policy"
)

type Code string

const (
	CodeUserNotFound          Code = "USER_NOT_FOUND"
	CodeAccountSuspended      Code = "ACCOUNT_SUSPENDED"
	CodeDailyCapExceeded      Code = "DAILY_CAP_EXCEEDED"
	CodeCategoryLimitExceeded Code = "CATEGORY_LIMIT_EXCEEDED"
	CodePlatformDisabled      Code = "PLATFORM_DISABLED"
	CodePlatformLimitExceeded Code = "PLATFORM_LIMIT_EXCEEDED"
	CodePlatformCapExceeded   Code = "PLATFORM_CAP_EXCEEDED"
	CodeCooldownActive        Code = "COOLDOWN_ACTIVE"
	CodeRotationActive        Code = "ROTATION_ACTIVE"
	CodePlatformRejected      Code = "PLATFORM_REJECTED"
	CodeTaskNotFound          Code = "TASK_NOT_FOUND"
	CodeTaskAlreadyCompleted  Code = "TASK_ALREADY_COMPLETED"
	CodeInvalidCategory       Code = "INVALID_CATEGORY"
	CodeInvalidAmount         Code = "INVALID_AMOUNT"
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeSystemError           Code = "SYSTEM_ERROR"
)

// CreditError is every rejection or fault of the write path. Compare with
// errors.Is against the Err* values; only the code is matched.
type CreditError struct {
	Code   Code
	Reason string
	Rule   string
	Err    error
}

var (
	ErrUserNotFound          = &CreditError{Code: CodeUserNotFound, Reason: "user not found"}
	ErrAccountSuspended      = &CreditError{Code: CodeAccountSuspended, Reason: "account suspended"}
	ErrDailyCapExceeded      = &CreditError{Code: CodeDailyCapExceeded, Reason: "daily earning cap reached"}
	ErrCategoryLimitExceeded = &CreditError{Code: CodeCategoryLimitExceeded, Reason: "category limit reached"}
	ErrPlatformDisabled      = &CreditError{Code: CodePlatformDisabled, Reason: "platform disabled"}
	ErrPlatformLimitExceeded = &CreditError{Code: CodePlatformLimitExceeded, Reason: "platform limit reached"}
	ErrPlatformCapExceeded   = &CreditError{Code: CodePlatformCapExceeded, Reason: "platform earning cap reached"}
	ErrCooldownActive        = &CreditError{Code: CodeCooldownActive, Reason: "cooldown active"}
	ErrRotationActive        = &CreditError{Code: CodeRotationActive, Reason: "rotation limit active"}
	ErrPlatformRejected      = &CreditError{Code: CodePlatformRejected, Reason: "platform rule rejected"}
	ErrTaskNotFound          = &CreditError{Code: CodeTaskNotFound, Reason: "task not found"}
	ErrTaskAlreadyCompleted  = &CreditError{Code: CodeTaskAlreadyCompleted, Reason: "task already completed"}
	ErrInvalidCategory       = &CreditError{Code: CodeInvalidCategory, Reason: "invalid category"}
	ErrInvalidAmount         = &CreditError{Code: CodeInvalidAmount, Reason: "amount must be positive"}
	ErrInsufficientBalance   = &CreditError{Code: CodeInsufficientBalance, Reason: "insufficient balance"}
	ErrSystem                = &CreditError{Code: CodeSystemError, Reason: "system error"}
)

func (e *CreditError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Reason)
	if e.Rule != "" {
		msg += fmt.Sprintf(" (rule %s)", e.Rule)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CreditError) Unwrap() error { return e.Err }

func (e *CreditError) Is(target error) bool {
	t, ok := target.(*CreditError)
	return ok && t.Code == e.Code
}

func (e *CreditError) Status() errutil.CoreStatus {
	switch e.Code {
	case CodeUserNotFound, CodeTaskNotFound:
		return errutil.StatusNotFound
	case CodeAccountSuspended:
		return errutil.StatusForbidden
	case CodeDailyCapExceeded, CodeCategoryLimitExceeded, CodePlatformLimitExceeded,
		CodePlatformCapExceeded, CodeCooldownActive, CodeRotationActive:
		return errutil.StatusTooManyRequests
	case CodePlatformDisabled, CodePlatformRejected, CodeInsufficientBalance:
		return errutil.StatusUnprocessableEntity
	case CodeTaskAlreadyCompleted:
		return errutil.StatusConflict
	case CodeInvalidCategory, CodeInvalidAmount:
		return errutil.StatusBadRequest
	default:
		return errutil.StatusInternal
	}
}

// JSON renders the error the same way errutil.BaseError does.
func (e *CreditError) JSON() any {
	return map[string]any{
		"error": map[string]any{
			"code":    e.Code,
			"message": e.Reason,
			"rule":    e.Rule,
		},
	}
}

func (e *CreditError) with(reason, rule string, err error) *CreditError {
	out := *e
	if reason != "" {
		out.Reason = reason
	}
	out.Rule = rule
	out.Err = err
	return &out
}

func systemError(err error) *CreditError {
	return ErrSystem.with("", "", err)
}

var ruleErrors = map[string]*CreditError{
	policy.RulePlatformEnabled: ErrPlatformDisabled,
	policy.RuleCategoryLimit:   ErrCategoryLimitExceeded,
	policy.RulePlatformLimit:   ErrPlatformLimitExceeded,
	policy.RuleEarningCap:      ErrPlatformCapExceeded,
	policy.RuleCooldown:        ErrCooldownActive,
	policy.RuleRotation:        ErrRotationActive,
	policy.RuleAdmissionExpr:   ErrPlatformRejected,
}

// denialError maps a policy denial to its typed error, keeping the rule's
// reason text (e.g. the remaining cooldown).
func denialError(d policy.Decision) *CreditError {
	base, ok := ruleErrors[d.Rule]
	if !ok {
		base = ErrPlatformRejected
	}
	return base.with(d.Reason, d.Rule, nil)
}
