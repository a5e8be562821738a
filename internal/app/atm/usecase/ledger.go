package usecase

import (
	"context"

	"github.com/JoeShih716/go-mem-atm/internal/app/atm/domain"
)

//go:generate mockgen -source=ledger.go -destination=mocks/mocks.go -package=mocks Ledger

// Ledger 是帳務系統的介面 (外部協作者)
type Ledger interface {
	// OpenAccount 註冊帳戶，ID 重複時回傳 ErrAccountAlreadyExists
	OpenAccount(ctx context.Context, account *domain.Account) error
	// GetAccount 取得帳戶快照，不存在時回傳 ErrAccountNotFound
	GetAccount(ctx context.Context, accountID string) (domain.Account, error)
	// 不分 Deposit/Withdraw，直接看 tran.Type 決定；同一 TransactionID 只會入帳一次
	PostTransaction(ctx context.Context, tran *domain.Transaction) error
}
