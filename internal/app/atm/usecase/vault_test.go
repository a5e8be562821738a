package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/JoeShih716/go-mem-atm/internal/app/atm/adapter/out/memory"
	"github.com/JoeShih716/go-mem-atm/internal/app/atm/cash"
	"github.com/JoeShih716/go-mem-atm/internal/app/atm/domain"
	"github.com/JoeShih716/go-mem-atm/internal/app/atm/usecase"
	"github.com/JoeShih716/go-mem-atm/internal/app/atm/usecase/mocks"
)

type recordingJournal struct {
	mu      sync.Mutex
	records []any
	err     error
}

func (j *recordingJournal) Write(v any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.records = append(j.records, v)
	return nil
}

// =============================================================================
// Withdraw ordering (mock ledger)
// =============================================================================
// 以 mock 驗證: 可出鈔檢查 -> 扣款 -> 出鈔 的順序，以及失敗時不留下部分結果。

type VaultSuite struct {
	suite.Suite
	ctx        context.Context
	ctrl       *gomock.Controller
	mockLedger *mocks.MockLedger
	inventory  *cash.Inventory
	journal    *recordingJournal
	session    *usecase.Session
	account    domain.Account
}

func TestVaultSuite(t *testing.T) {
	suite.Run(t, new(VaultSuite))
}

func (s *VaultSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.mockLedger = mocks.NewMockLedger(s.ctrl)
	s.journal = &recordingJournal{}

	inventory, err := cash.NewInventory()
	s.Require().NoError(err)
	s.Require().NoError(inventory.Load(2000, 5))
	s.Require().NoError(inventory.Load(500, 10))
	s.Require().NoError(inventory.Load(100, 20))
	s.inventory = inventory

	vault, err := usecase.NewVault(inventory, s.mockLedger, usecase.WithJournal(s.journal))
	s.Require().NoError(err)

	s.session, err = usecase.NewSession(vault)
	s.Require().NoError(err)
	card, err := domain.NewCard("CARD123", "Holder", "ACC123", "12/29", domain.PlainPIN("1234"))
	s.Require().NoError(err)
	s.Require().NoError(s.session.InsertCard(s.ctx, card))
	s.Require().NoError(s.session.EnterPIN(s.ctx, "1234"))

	s.account = domain.Account{ID: "ACC123", Balance: decimal.NewFromInt(8000), Status: domain.AccountStatusActive}
}

func (s *VaultSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *VaultSuite) TestNewVault() {
	_, err := usecase.NewVault(nil, s.mockLedger)
	s.ErrorContains(err, "cash inventory is required")

	_, err = usecase.NewVault(s.inventory, nil)
	s.ErrorContains(err, "ledger is required")
}

func (s *VaultSuite) TestWithdrawDebitsBeforeDispensing() {
	after := s.account
	after.Balance = decimal.NewFromInt(5400)

	gomock.InOrder(
		s.mockLedger.EXPECT().GetAccount(gomock.Any(), "ACC123").Return(s.account, nil),
		s.mockLedger.EXPECT().PostTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, tran *domain.Transaction) error {
				s.Equal(domain.TransactionTypeWithdraw, tran.Type)
				s.Equal("ACC123", tran.AccountID)
				s.True(decimal.NewFromInt(2600).Equal(tran.Amount))
				// 扣款時尚未出鈔
				s.Equal(int64(17000), s.inventory.Total())
				return nil
			}),
		s.mockLedger.EXPECT().GetAccount(gomock.Any(), "ACC123").Return(after, nil),
	)

	receipt, err := s.session.Withdraw(s.ctx, 2600)
	s.Require().NoError(err)
	s.Equal(int64(14400), s.inventory.Total())
	s.True(decimal.NewFromInt(5400).Equal(receipt.Balance))
	s.Require().Len(s.journal.records, 1)
	s.Equal(receipt, s.journal.records[0])
}

func (s *VaultSuite) TestNotDispensableNeverTouchesLedger() {
	s.mockLedger.EXPECT().GetAccount(gomock.Any(), "ACC123").Return(s.account, nil)
	s.mockLedger.EXPECT().PostTransaction(gomock.Any(), gomock.Any()).Times(0)

	_, err := s.session.Withdraw(s.ctx, 150)
	s.ErrorIs(err, domain.ErrInsufficientDispensableCash)
	s.Equal(int64(17000), s.inventory.Total())
	s.Empty(s.journal.records)
}

func (s *VaultSuite) TestDebitFailureNeverDispenses() {
	for _, debitErr := range []error{domain.ErrInsufficientFunds, domain.ErrAccountNotActive} {
		s.Run(debitErr.Error(), func() {
			s.mockLedger.EXPECT().GetAccount(gomock.Any(), "ACC123").Return(s.account, nil)
			s.mockLedger.EXPECT().PostTransaction(gomock.Any(), gomock.Any()).Return(debitErr)

			_, err := s.session.Withdraw(s.ctx, 2600)
			s.ErrorIs(err, debitErr)
			s.Equal(int64(17000), s.inventory.Total())
			s.Empty(s.journal.records)
		})
	}
}

func (s *VaultSuite) TestMissingAccountIsReported() {
	s.mockLedger.EXPECT().GetAccount(gomock.Any(), "ACC123").Return(domain.Account{}, domain.ErrAccountNotFound)

	_, err := s.session.Withdraw(s.ctx, 2600)
	s.ErrorIs(err, domain.ErrNotFound)
	s.Equal(int64(17000), s.inventory.Total())
}

func (s *VaultSuite) TestDispenseFailureRefundsDebit() {
	var debitID uuid.UUID
	gomock.InOrder(
		s.mockLedger.EXPECT().GetAccount(gomock.Any(), "ACC123").Return(s.account, nil),
		s.mockLedger.EXPECT().PostTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, tran *domain.Transaction) error {
				debitID = tran.TransactionID
				// 模擬扣款後鈔箱被其他人清空
				_, err := s.inventory.Dispense(s.inventory.Total())
				s.Require().NoError(err)
				return nil
			}),
		s.mockLedger.EXPECT().PostTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, tran *domain.Transaction) error {
				s.Equal(domain.TransactionTypeDeposit, tran.Type)
				s.True(decimal.NewFromInt(2600).Equal(tran.Amount))
				s.NotEqual(debitID, tran.TransactionID)
				return nil
			}),
	)

	_, err := s.session.Withdraw(s.ctx, 2600)
	s.ErrorIs(err, domain.ErrInsufficientDispensableCash)
	s.Empty(s.journal.records)
}

func (s *VaultSuite) TestRefundFailureIsJoined() {
	refundErr := errors.New("ledger down")
	gomock.InOrder(
		s.mockLedger.EXPECT().GetAccount(gomock.Any(), "ACC123").Return(s.account, nil),
		s.mockLedger.EXPECT().PostTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
			func(context.Context, *domain.Transaction) error {
				_, err := s.inventory.Dispense(s.inventory.Total())
				s.Require().NoError(err)
				return nil
			}),
		s.mockLedger.EXPECT().PostTransaction(gomock.Any(), gomock.Any()).Return(refundErr),
	)

	_, err := s.session.Withdraw(s.ctx, 2600)
	s.ErrorIs(err, domain.ErrInsufficientDispensableCash)
	s.ErrorIs(err, refundErr)
}

func (s *VaultSuite) TestJournalFailureDoesNotFailWithdrawal() {
	s.journal.err = errors.New("disk full")
	s.mockLedger.EXPECT().GetAccount(gomock.Any(), "ACC123").Return(s.account, nil).Times(2)
	s.mockLedger.EXPECT().PostTransaction(gomock.Any(), gomock.Any()).Return(nil)

	_, err := s.session.Withdraw(s.ctx, 500)
	s.NoError(err)
	s.Equal(int64(16500), s.inventory.Total())
}

func (s *VaultSuite) TestCancellationDoesNotAbandonDebit() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	after := s.account
	after.Balance = decimal.NewFromInt(5400)
	gomock.InOrder(
		s.mockLedger.EXPECT().GetAccount(gomock.Any(), "ACC123").DoAndReturn(
			func(context.Context, string) (domain.Account, error) {
				// 呼叫端在提款途中取消
				cancel()
				return s.account, nil
			}),
		s.mockLedger.EXPECT().PostTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, _ *domain.Transaction) error {
				s.NoError(ctx.Err())
				return nil
			}),
		s.mockLedger.EXPECT().GetAccount(gomock.Any(), "ACC123").DoAndReturn(
			func(ctx context.Context, _ string) (domain.Account, error) {
				s.NoError(ctx.Err())
				return after, nil
			}),
	)

	receipt, err := s.session.Withdraw(ctx, 2600)
	s.Require().NoError(err)
	s.Equal(int64(14400), s.inventory.Total())
	s.True(decimal.NewFromInt(5400).Equal(receipt.Balance))
}

func (s *VaultSuite) TestReceiptBalanceWhenReadFails() {
	gomock.InOrder(
		s.mockLedger.EXPECT().GetAccount(gomock.Any(), "ACC123").Return(s.account, nil),
		s.mockLedger.EXPECT().PostTransaction(gomock.Any(), gomock.Any()).Return(nil),
		s.mockLedger.EXPECT().GetAccount(gomock.Any(), "ACC123").Return(domain.Account{}, errors.New("ledger busy")),
	)

	receipt, err := s.session.Withdraw(s.ctx, 2600)
	s.Require().NoError(err)
	s.True(decimal.NewFromInt(5400).Equal(receipt.Balance), "balance %s", receipt.Balance)
	s.Require().Len(s.journal.records, 1)
	s.Equal(receipt, s.journal.records[0])
}

func (s *VaultSuite) TestRegisterAccount() {
	account, err := domain.NewAccount("ACC777", decimal.NewFromInt(1))
	s.Require().NoError(err)

	s.mockLedger.EXPECT().OpenAccount(gomock.Any(), account).Return(domain.ErrAccountAlreadyExists)
	vault, err := usecase.NewVault(s.inventory, s.mockLedger)
	s.Require().NoError(err)

	s.ErrorIs(vault.RegisterAccount(s.ctx, account), domain.ErrAccountAlreadyExists)
	s.ErrorIs(vault.RegisterAccount(s.ctx, nil), domain.ErrInvalidArgument)
}

// =============================================================================
// Shared vault under concurrent sessions
// =============================================================================

func newAuthenticatedSession(t *testing.T, vault *usecase.Vault, card *domain.Card) *usecase.Session {
	t.Helper()
	session, err := usecase.NewSession(vault)
	require.NoError(t, err)
	require.NoError(t, session.InsertCard(context.Background(), card))
	require.NoError(t, session.EnterPIN(context.Background(), "1234"))
	return session
}

func TestConcurrentSessionsShareNotes(t *testing.T) {
	const sessions = 20

	inventory, err := cash.NewInventory()
	require.NoError(t, err)
	require.NoError(t, inventory.Load(2000, 10))
	ledger, err := memory.NewMutexLedger()
	require.NoError(t, err)
	vault, err := usecase.NewVault(inventory, ledger)
	require.NoError(t, err)

	all := make([]*usecase.Session, 0, sessions)
	for i := 0; i < sessions; i++ {
		accountID := fmt.Sprintf("ACC%02d", i)
		account, err := domain.NewAccount(accountID, decimal.NewFromInt(10000))
		require.NoError(t, err)
		require.NoError(t, vault.RegisterAccount(context.Background(), account))
		card, err := domain.NewCard(fmt.Sprintf("CARD%02d", i), "Holder", accountID, "12/29", domain.PlainPIN("1234"))
		require.NoError(t, err)
		all = append(all, newAuthenticatedSession(t, vault, card))
	}

	var (
		wg                      sync.WaitGroup
		succeeded, notDispensed int64
		mu                      sync.Mutex
	)
	for _, session := range all {
		session := session
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := session.Withdraw(context.Background(), 2000)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientDispensableCash):
				notDispensed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), succeeded)
	assert.Equal(t, int64(10), notDispensed)
	assert.Zero(t, inventory.Total())

	debited := decimal.Zero
	for i := 0; i < sessions; i++ {
		account, err := ledger.GetAccount(context.Background(), fmt.Sprintf("ACC%02d", i))
		require.NoError(t, err)
		debited = debited.Add(decimal.NewFromInt(10000).Sub(account.Balance))
	}
	assert.True(t, decimal.NewFromInt(20000).Equal(debited), "debited %s", debited)
}

func TestConcurrentSessionsShareFunds(t *testing.T) {
	const sessions = 10

	inventory, err := cash.NewInventory()
	require.NoError(t, err)
	require.NoError(t, inventory.Load(2000, 50))
	account, err := domain.NewAccount("JOINT", decimal.NewFromInt(4000))
	require.NoError(t, err)
	ledger, err := memory.NewMutexLedger(account)
	require.NoError(t, err)
	vault, err := usecase.NewVault(inventory, ledger)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, sessions)
	for i := 0; i < sessions; i++ {
		card, err := domain.NewCard(fmt.Sprintf("CARD%02d", i), "Holder", "JOINT", "12/29", domain.PlainPIN("1234"))
		require.NoError(t, err)
		session := newAuthenticatedSession(t, vault, card)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := session.Withdraw(context.Background(), 2000)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded int
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	}
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, int64(96000), inventory.Total())

	joint, err := ledger.GetAccount(context.Background(), "JOINT")
	require.NoError(t, err)
	assert.True(t, joint.Balance.IsZero())
}

func TestCanceledWithdrawalsConserveCash(t *testing.T) {
	const (
		sessions = 40
		rounds   = 50
		amount   = 10
	)

	inventory, err := cash.NewInventory()
	require.NoError(t, err)
	require.NoError(t, inventory.Load(10, sessions*rounds))
	account, err := domain.NewAccount("JOINT", decimal.NewFromInt(sessions*rounds*amount))
	require.NoError(t, err)
	ledger, err := memory.NewSequencedLedger(4, account)
	require.NoError(t, err)
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	ledger.Start(runCtx)

	vault, err := usecase.NewVault(inventory, ledger)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		dispensed int64
	)
	for i := 0; i < sessions; i++ {
		card, err := domain.NewCard(fmt.Sprintf("CARD%02d", i), "Holder", "JOINT", "12/29", domain.PlainPIN("1234"))
		require.NoError(t, err)
		session := newAuthenticatedSession(t, vault, card)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				ctx, cancel := context.WithCancel(context.Background())
				go cancel()
				receipt, err := session.Withdraw(ctx, amount)
				cancel()
				if err != nil {
					assert.ErrorIs(t, err, context.Canceled)
					continue
				}
				mu.Lock()
				dispensed += receipt.Notes.Total()
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	joint, err := ledger.GetAccount(context.Background(), "JOINT")
	require.NoError(t, err)
	debited := decimal.NewFromInt(sessions * rounds * amount).Sub(joint.Balance)
	assert.True(t, decimal.NewFromInt(dispensed).Equal(debited), "dispensed %d, debited %s", dispensed, debited)
	assert.Equal(t, int64(sessions*rounds*amount)-dispensed, inventory.Total())
}
