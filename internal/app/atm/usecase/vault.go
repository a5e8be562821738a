package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-mem-atm/internal/app/atm/cash"
	"github.com/JoeShih716/go-mem-atm/internal/app/atm/domain"
	"github.com/JoeShih716/go-mem-atm/pkg/metrics"
)

// Journal 提款紀錄的寫入端 (pkg/journal)
type Journal interface {
	Write(v any) error
}

// Receipt 一筆完成的提款
type Receipt struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	SessionID     uuid.UUID       `json:"session_id"`
	CardNumber    string          `json:"card_number"`
	AccountID     string          `json:"account_id"`
	Amount        int64           `json:"amount"`
	Notes         cash.Plan       `json:"notes"`
	Balance       decimal.Decimal `json:"balance"`
	At            time.Time       `json:"at"`
}

// Vault 多個 Session 共用的資源: 鈔箱與帳本
//
// 結構:
//
//	mu: 提款時 (可出鈔檢查 -> 扣款 -> 出鈔) 必須在同一把鎖內完成
//	inventory: 鈔箱
//	ledger: 帳本
type Vault struct {
	mu        sync.Mutex
	inventory *cash.Inventory
	ledger    Ledger
	journal   Journal
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// VaultOption 定義了 Vault 的配置選項函數
type VaultOption func(*Vault)

// WithJournal 每筆完成的提款寫入 journal
func WithJournal(journal Journal) VaultOption {
	return func(v *Vault) {
		v.journal = journal
	}
}

func WithVaultLogger(logger *zap.Logger) VaultOption {
	return func(v *Vault) {
		v.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) VaultOption {
	return func(v *Vault) {
		v.metrics = m
	}
}

// NewVault 建立 Vault
//
// 參數:
//
//	inventory: 鈔箱
//	ledger: 帳本
//	opts: 可選的 journal / logger / metrics
//
// 回傳:
//
//	*Vault: Vault 實例
//	error: inventory 或 ledger 為 nil
func NewVault(inventory *cash.Inventory, ledger Ledger, opts ...VaultOption) (*Vault, error) {
	if inventory == nil {
		return nil, errors.New("cash inventory is required")
	}
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	v := &Vault{
		inventory: inventory,
		ledger:    ledger,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.metrics.SetNotesOnHand(inventory.Counts())
	return v, nil
}

// LoadCash 補鈔 (管理操作)
func (v *Vault) LoadCash(denomination, count int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.inventory.Load(denomination, count); err != nil {
		return err
	}
	v.metrics.SetNotesOnHand(v.inventory.Counts())
	v.logger.Info("cash loaded",
		zap.Int64("denomination", denomination),
		zap.Int64("count", count),
		zap.Int64("total", v.inventory.Total()),
	)
	return nil
}

// RegisterAccount 註冊帳戶 (管理操作)
func (v *Vault) RegisterAccount(ctx context.Context, account *domain.Account) error {
	if account == nil {
		return domain.ErrInvalidArgument
	}
	if err := v.ledger.OpenAccount(ctx, account); err != nil {
		return err
	}
	v.logger.Info("account registered", zap.String("account_id", account.ID))
	return nil
}

// CashOnHand 鈔箱庫存快照與總金額
func (v *Vault) CashOnHand() (map[int64]int64, int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inventory.Counts(), v.inventory.Total()
}

// Denominations 支援的面額 (由大到小)
func (v *Vault) Denominations() []int64 {
	return v.inventory.Denominations()
}

// balance 查詢卡片連結帳戶的餘額
func (v *Vault) balance(ctx context.Context, card *domain.Card) (decimal.Decimal, error) {
	account, err := v.account(ctx, card)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// account 取得卡片連結的帳戶；找不到代表資料設定錯誤，而不是使用者錯誤
func (v *Vault) account(ctx context.Context, card *domain.Card) (domain.Account, error) {
	account, err := v.ledger.GetAccount(ctx, card.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			v.logger.Error("card linked to unknown account",
				zap.String("card_number", card.Number),
				zap.String("account_id", card.AccountID),
			)
		}
		return domain.Account{}, err
	}
	return account, nil
}

// withdraw 提款: 可出鈔檢查 -> 扣款 -> 出鈔，整段持有 mu
//
// 回傳:
//
//	Receipt: 提款結果
//	error: 任何一步失敗都不會留下部分結果
func (v *Vault) withdraw(ctx context.Context, sessionID uuid.UUID, card *domain.Card, amount int64) (Receipt, error) {
	if amount <= 0 {
		return Receipt{}, domain.ErrAmountMustBePositive
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	account, err := v.account(ctx, card)
	if err != nil {
		return Receipt{}, err
	}

	// 1. 鈔箱無法配鈔時不碰帳戶
	if !v.inventory.CanDispense(amount) {
		return Receipt{}, domain.ErrInsufficientDispensableCash
	}

	// 2. 先扣款，扣款失敗不出鈔；扣款一旦送出就不受取消影響，
	// 錯誤必須代表帳戶沒有被扣
	postCtx := context.WithoutCancel(ctx)
	debit := domain.NewWithdrawal(card.AccountID, decimal.NewFromInt(amount))
	if err := v.ledger.PostTransaction(postCtx, debit); err != nil {
		return Receipt{}, err
	}

	// 3. 出鈔，失敗則沖正
	plan, err := v.inventory.Dispense(amount)
	if err != nil {
		return Receipt{}, v.refund(card.AccountID, amount, err)
	}
	v.metrics.ObserveWithdrawal(amount)
	v.metrics.SetNotesOnHand(v.inventory.Counts())

	receipt := Receipt{
		TransactionID: debit.TransactionID,
		SessionID:     sessionID,
		CardNumber:    card.Number,
		AccountID:     card.AccountID,
		Amount:        amount,
		Notes:         plan,
		At:            v.now(),
	}
	// 持有 mu 期間只有這筆提款會動到帳戶，讀不到時以扣款前餘額推算
	receipt.Balance = account.Balance.Sub(debit.Amount)
	if current, err := v.ledger.GetAccount(postCtx, card.AccountID); err == nil {
		receipt.Balance = current.Balance
	} else {
		v.logger.Warn("failed to read balance after withdrawal",
			zap.Stringer("transaction_id", debit.TransactionID),
			zap.String("account_id", card.AccountID),
			zap.Error(err),
		)
	}

	if v.journal != nil {
		if err := v.journal.Write(receipt); err != nil {
			v.logger.Warn("failed to journal withdrawal",
				zap.Stringer("transaction_id", receipt.TransactionID),
				zap.Error(err),
			)
		}
	}
	v.logger.Info("cash dispensed",
		zap.Stringer("session_id", sessionID),
		zap.Stringer("transaction_id", receipt.TransactionID),
		zap.String("account_id", card.AccountID),
		zap.Int64("amount", amount),
		zap.Stringer("notes", plan),
	)
	return receipt, nil
}

// refund 出鈔失敗時將已扣的款項存回，沖正不受呼叫端 context 取消影響
func (v *Vault) refund(accountID string, amount int64, cause error) error {
	v.metrics.IncrementRefunds()
	credit := domain.NewDeposit(accountID, decimal.NewFromInt(amount))
	if err := v.ledger.PostTransaction(context.Background(), credit); err != nil {
		v.logger.Error("failed to refund debit after dispense failure",
			zap.String("account_id", accountID),
			zap.Int64("amount", amount),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return errors.Join(cause, fmt.Errorf("refund failed: %w", err))
	}
	v.logger.Warn("debit refunded after dispense failure",
		zap.String("account_id", accountID),
		zap.Int64("amount", amount),
		zap.Error(cause),
	)
	return cause
}
