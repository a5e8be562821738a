package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AccountStatus 帳戶狀態
type AccountStatus uint8

const (
	// 啟用
	AccountStatusActive AccountStatus = 1
	// 停用
	AccountStatusBlocked AccountStatus = 2
)

func (s AccountStatus) String() string {
	switch s {
	case AccountStatusActive:
		return "active"
	case AccountStatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Account 銀行帳戶，由 Ledger 持有並管理生命週期
type Account struct {
	ID      string
	Balance decimal.Decimal
	Status  AccountStatus
}

// NewAccount 建立一個啟用中的帳戶
//
// 參數:
//
//	id: 帳戶 ID (不可空白)
//	balance: 初始餘額 (不可為負)
//
// 回傳:
//
//	*Account: 帳戶
//	error: 參數錯誤
func NewAccount(id string, balance decimal.Decimal) (*Account, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidArgument
	}
	if balance.IsNegative() {
		return nil, ErrAmountMustBePositive
	}
	return &Account{
		ID:      id,
		Balance: balance,
		Status:  AccountStatusActive,
	}, nil
}

// IsActive 帳戶是否啟用
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// Block 停用帳戶
func (a *Account) Block() {
	a.Status = AccountStatusBlocked
}

// Unblock 重新啟用帳戶
func (a *Account) Unblock() {
	a.Status = AccountStatusActive
}

// Debit 扣款
func (a *Account) Debit(amount decimal.Decimal) error {
	if !a.IsActive() {
		return ErrAccountNotActive
	}
	if !amount.IsPositive() {
		return ErrAmountMustBePositive
	}
	if a.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}

	a.Balance = a.Balance.Sub(amount)
	return nil
}

// Credit 入帳 (退款 / 存款)，不檢查帳戶狀態，沖正必須能成功
func (a *Account) Credit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrAmountMustBePositive
	}

	a.Balance = a.Balance.Add(amount)
	return nil
}
