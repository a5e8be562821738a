package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-mem-atm/internal/app/atm/domain"
	"github.com/JoeShih716/go-mem-atm/internal/app/atm/usecase"
)

// MutexLedger 是一個使用 Mutex 實現的帳本
//
// 結構:
//
//	accounts: 帳戶資料 Map
//	mu: Mutex 用於保護帳戶資料
//	processedTransactions: 已處理過的交易 Map
type MutexLedger struct {
	accounts map[string]*domain.Account
	mu       sync.RWMutex
	// 已處理過的交易
	processedTransactions map[uuid.UUID]time.Time
}

// NewMutexLedger 建立一個新的 MutexLedger 實例
//
// 參數:
//
//	accounts: 初始帳戶
//
// 回傳:
//
//	*MutexLedger: MutexLedger 實例
//	error: 帳戶 ID 重複
func NewMutexLedger(accounts ...*domain.Account) (*MutexLedger, error) {
	ledger := &MutexLedger{
		accounts:              make(map[string]*domain.Account, len(accounts)),
		processedTransactions: make(map[uuid.UUID]time.Time),
	}
	for _, account := range accounts {
		if err := ledger.openAccount(account); err != nil {
			return nil, err
		}
	}
	return ledger, nil
}

// OpenAccount 註冊帳戶
func (m *MutexLedger) OpenAccount(ctx context.Context, account *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openAccount(account)
}

func (m *MutexLedger) openAccount(account *domain.Account) error {
	if account == nil {
		return domain.ErrInvalidArgument
	}
	if _, ok := m.accounts[account.ID]; ok {
		return domain.ErrAccountAlreadyExists
	}
	// 複製一份，外部持有的指標不會繞過鎖修改餘額
	stored := *account
	m.accounts[account.ID] = &stored
	return nil
}

// GetAccount 取得指定帳戶的快照
//
// 參數:
//
//	ctx: 上下文
//	accountID: 帳戶 ID
//
// 回傳:
//
//	domain.Account: 帳戶快照
//	error: 查詢錯誤 (如帳戶不存在)
func (m *MutexLedger) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return *account, nil
}

// PostTransaction 處理交易請求
//
// 參數:
//
//	ctx: 上下文
//	tran: 交易請求物件
//
// 回傳:
//
//	error: 處理錯誤
func (m *MutexLedger) PostTransaction(ctx context.Context, tran *domain.Transaction) error {
	if tran == nil {
		return domain.ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.postTransactionInternal(tran)
}

// postTransactionInternal 執行交易核心邏輯，呼叫端需持有 mu
func (m *MutexLedger) postTransactionInternal(tran *domain.Transaction) error {
	if _, ok := m.processedTransactions[tran.TransactionID]; ok {
		return nil
	}

	var err error
	switch tran.Type {
	case domain.TransactionTypeDeposit:
		err = handleDeposit(m.accounts, tran)
	case domain.TransactionTypeWithdraw:
		err = handleWithdraw(m.accounts, tran)
	default:
		return domain.ErrInvalidArgument
	}

	if err == nil {
		m.processedTransactions[tran.TransactionID] = time.Now()
	}
	return err
}

// handleDeposit 處理存款邏輯
func handleDeposit(accounts map[string]*domain.Account, tran *domain.Transaction) error {
	account, ok := accounts[tran.AccountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	return account.Credit(tran.Amount)
}

// handleWithdraw 處理提款邏輯 (如餘額不足、帳戶停用)
func handleWithdraw(accounts map[string]*domain.Account, tran *domain.Transaction) error {
	account, ok := accounts[tran.AccountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	return account.Debit(tran.Amount)
}

var _ usecase.Ledger = (*MutexLedger)(nil)
