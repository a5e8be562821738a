package domain

import (
	"errors"
	"fmt"
)

// 錯誤分類 (Category)，呼叫端以 errors.Is 判斷
var (
	// ErrIllegalOperation 目前狀態不允許此操作
	ErrIllegalOperation = errors.New("illegal operation")

	// ErrInvalidArgument 輸入格式錯誤 (nil / 空白 / 非正數)
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnauthorized 驗證失敗
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInsufficientFunds 帳戶餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientDispensableCash 鈔箱無法以 greedy 配鈔湊出金額
	ErrInsufficientDispensableCash = errors.New("insufficient dispensable cash")

	// ErrNotFound 找不到資料 (卡片連結的帳戶不存在，屬於設定錯誤)
	ErrNotFound = errors.New("not found")
)

// 狀態機拒絕原因
var (
	ErrNoCardInserted       = fmt.Errorf("%w: no card inserted", ErrIllegalOperation)
	ErrNothingToEject       = fmt.Errorf("%w: no card to eject", ErrIllegalOperation)
	ErrCardAlreadyInserted  = fmt.Errorf("%w: card already inserted", ErrIllegalOperation)
	ErrNotAuthenticated     = fmt.Errorf("%w: user not authenticated", ErrIllegalOperation)
	ErrAlreadyAuthenticated = fmt.Errorf("%w: already authenticated", ErrIllegalOperation)
)

// 輸入錯誤
var (
	ErrInvalidDenomination  = fmt.Errorf("%w: unsupported denomination", ErrInvalidArgument)
	ErrInvalidCard          = fmt.Errorf("%w: invalid or inactive card", ErrInvalidArgument)
	ErrEmptyPIN             = fmt.Errorf("%w: pin cannot be empty", ErrInvalidArgument)
	ErrAmountMustBePositive = fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	ErrCountMustBePositive  = fmt.Errorf("%w: count must be positive", ErrInvalidArgument)
)

var (
	// ErrInvalidPIN PIN 比對失敗
	ErrInvalidPIN = fmt.Errorf("%w: invalid pin", ErrUnauthorized)

	// ErrCardBlocked 卡片已停用
	ErrCardBlocked = fmt.Errorf("%w: card is not active", ErrUnauthorized)

	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = fmt.Errorf("%w: account not found", ErrNotFound)

	// ErrAccountNotActive 帳戶非啟用狀態
	ErrAccountNotActive = errors.New("account is not active")

	// ErrAccountAlreadyExists 帳戶已存在
	ErrAccountAlreadyExists = errors.New("account already exists")

	// ErrSessionExpired 閒置逾時，卡片已自動退出
	ErrSessionExpired = errors.New("session expired")
)

// Reason 將錯誤歸類為 metrics / console 使用的短字串
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrIllegalOperation):
		return "illegal_operation"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientDispensableCash):
		return "insufficient_dispensable_cash"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAccountNotActive):
		return "account_not_active"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	default:
		return "internal"
	}
}
