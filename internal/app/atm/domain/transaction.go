package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType 交易類型
type TransactionType uint8

const (
	// 存款 (提款失敗時的沖正也走這裡)
	TransactionTypeDeposit TransactionType = 1
	// 提款
	TransactionTypeWithdraw TransactionType = 2
)

func (t TransactionType) String() string {
	switch t {
	case TransactionTypeDeposit:
		return "deposit"
	case TransactionTypeWithdraw:
		return "withdraw"
	default:
		return "unknown"
	}
}

// Transaction 帳務交易
type Transaction struct {
	// CreatedAt: 交易時間 (UnixNano)
	CreatedAt int64
	// AccountID: 帳戶 ID
	AccountID string
	// Amount: 金額
	Amount decimal.Decimal
	// TransactionID: 外部追蹤號 (UUID)，Ledger 以此做冪等
	TransactionID uuid.UUID
	Type          TransactionType
}

// NewWithdrawal 建立一筆提款交易
func NewWithdrawal(accountID string, amount decimal.Decimal) *Transaction {
	return newTransaction(accountID, amount, TransactionTypeWithdraw)
}

// NewDeposit 建立一筆存款交易
func NewDeposit(accountID string, amount decimal.Decimal) *Transaction {
	return newTransaction(accountID, amount, TransactionTypeDeposit)
}

func newTransaction(accountID string, amount decimal.Decimal, txType TransactionType) *Transaction {
	return &Transaction{
		CreatedAt:     time.Now().UnixNano(),
		AccountID:     accountID,
		Amount:        amount,
		TransactionID: uuid.New(),
		Type:          txType,
	}
}
