package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	memory_adapter "github.com/JoeShih716/go-mem-atm/internal/app/atm/adapter/out/memory"
	"github.com/JoeShih716/go-mem-atm/internal/app/atm/cash"
	"github.com/JoeShih716/go-mem-atm/internal/app/atm/domain"
	"github.com/JoeShih716/go-mem-atm/internal/app/atm/usecase"
	"github.com/JoeShih716/go-mem-atm/pkg/logger"
	"github.com/JoeShih716/go-mem-atm/pkg/metrics"
)

const (
	DefaultSessions    = 200
	DefaultConcurrency = 50
	DefaultRounds      = 20
	DefaultAccounts    = 20
	InitialBalance     = 50000
	pin                = "0000"
)

// 每次提款從這些金額中隨機挑選，包含一些無法配鈔的金額
var amounts = []int64{10, 30, 150, 600, 2000, 2600, 4670, 5400}

type stats struct {
	succeeded     atomic.Int64
	dispensed     atomic.Int64
	notDispensed  atomic.Int64
	insufficient  atomic.Int64
	otherFailures atomic.Int64
}

func main() {
	sessions := flag.Int("sessions", DefaultSessions, "number of sessions")
	concurrency := flag.Int("concurrency", DefaultConcurrency, "max concurrent sessions")
	rounds := flag.Int("rounds", DefaultRounds, "withdrawals per session")
	accountCount := flag.Int("accounts", DefaultAccounts, "number of accounts shared by the sessions")
	engine := flag.String("engine", "mutex", "ledger engine: mutex or sequencer")
	flag.Parse()

	log, err := logger.New(logger.Config{Level: "warn"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if *accountCount <= 0 || *sessions <= 0 || *concurrency <= 0 {
		log.Fatal("sessions, concurrency and accounts must be positive")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	// 1. 帳本與帳戶
	accounts := make([]*domain.Account, 0, *accountCount)
	for i := 0; i < *accountCount; i++ {
		account, err := domain.NewAccount(fmt.Sprintf("ACC%04d", i), decimal.NewFromInt(InitialBalance))
		if err != nil {
			log.Fatal("failed to create account", zap.Error(err))
		}
		accounts = append(accounts, account)
	}
	ledger, err := newLedger(ctx, *engine, accounts)
	if err != nil {
		log.Fatal("failed to init ledger", zap.Error(err))
	}

	// 2. 共用的鈔箱
	inventory, err := cash.NewInventory()
	if err != nil {
		log.Fatal("failed to init inventory", zap.Error(err))
	}
	m := metrics.New()
	vault, err := usecase.NewVault(inventory, ledger, usecase.WithVaultLogger(log), usecase.WithMetrics(m))
	if err != nil {
		log.Fatal("failed to init vault", zap.Error(err))
	}
	for _, denomination := range inventory.Denominations() {
		if err := vault.LoadCash(denomination, 200); err != nil {
			log.Fatal("failed to load cash", zap.Error(err))
		}
	}
	_, initialCash := vault.CashOnHand()

	// 3. 併發的 Session
	var (
		wg  sync.WaitGroup
		st  stats
		sem = make(chan struct{}, *concurrency)
	)
	wg.Add(*sessions)
	startTime := time.Now()
	for i := 0; i < *sessions; i++ {
		sem <- struct{}{}

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			account := accounts[idx%len(accounts)]
			if err := runSession(ctx, vault, account.ID, idx, *rounds, &st); err != nil {
				log.Warn("session aborted", zap.Int("session", idx), zap.Error(err))
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(startTime)

	// 4. 守恆檢查
	if err := checkConservation(ctx, vault, ledger, accounts, initialCash, st.dispensed.Load()); err != nil {
		log.Fatal("conservation check failed", zap.Error(err))
	}

	total := st.succeeded.Load() + st.notDispensed.Load() + st.insufficient.Load() + st.otherFailures.Load()
	fmt.Printf("Completed %d withdrawals in %v (%.2f/s)\n", total, elapsed, float64(total)/elapsed.Seconds())
	fmt.Printf("succeeded=%d dispensed=%d not_dispensable=%d insufficient_funds=%d other=%d\n",
		st.succeeded.Load(), st.dispensed.Load(), st.notDispensed.Load(), st.insufficient.Load(), st.otherFailures.Load())
	fmt.Println("conservation check passed")
}

func newLedger(ctx context.Context, engine string, accounts []*domain.Account) (usecase.Ledger, error) {
	switch engine {
	case "mutex":
		ledger, err := memory_adapter.NewMutexLedger(accounts...)
		if err != nil {
			return nil, err
		}
		return ledger, nil
	case "sequencer":
		ledger, err := memory_adapter.NewSequencedLedger(len(accounts)*10, accounts...)
		if err != nil {
			return nil, err
		}
		ledger.Start(ctx)
		return ledger, nil
	default:
		return nil, fmt.Errorf("unknown ledger engine %q", engine)
	}
}

func runSession(ctx context.Context, vault *usecase.Vault, accountID string, idx, rounds int, st *stats) error {
	card, err := domain.NewCard(fmt.Sprintf("CARD%06d", idx), "Simulated", accountID, "12/99", domain.PlainPIN(pin))
	if err != nil {
		return err
	}
	session, err := usecase.NewSession(vault)
	if err != nil {
		return err
	}
	if err := session.InsertCard(ctx, card); err != nil {
		return err
	}
	if err := session.EnterPIN(ctx, pin); err != nil {
		return err
	}
	defer session.EjectCard(ctx) //nolint:errcheck

	for r := 0; r < rounds; r++ {
		receipt, err := session.Withdraw(ctx, amounts[rand.Intn(len(amounts))])
		switch {
		case err == nil:
			st.succeeded.Add(1)
			st.dispensed.Add(receipt.Notes.Total())
		case errors.Is(err, domain.ErrInsufficientDispensableCash):
			st.notDispensed.Add(1)
		case errors.Is(err, domain.ErrInsufficientFunds):
			st.insufficient.Add(1)
		default:
			st.otherFailures.Add(1)
			return err
		}
	}
	return nil
}

// checkConservation 出鈔總額 = 鈔箱減少的金額 = 帳戶扣款總額，且沒有任何負值
func checkConservation(ctx context.Context, vault *usecase.Vault, ledger usecase.Ledger, accounts []*domain.Account, initialCash, dispensed int64) error {
	counts, remaining := vault.CashOnHand()
	for denomination, count := range counts {
		if count < 0 {
			return fmt.Errorf("negative note count for %d: %d", denomination, count)
		}
	}
	if initialCash-remaining != dispensed {
		return fmt.Errorf("inventory decreased by %d but %d was dispensed", initialCash-remaining, dispensed)
	}

	debited := decimal.Zero
	for _, account := range accounts {
		current, err := ledger.GetAccount(ctx, account.ID)
		if err != nil {
			return err
		}
		if current.Balance.IsNegative() {
			return fmt.Errorf("account %s has negative balance %s", account.ID, current.Balance)
		}
		debited = debited.Add(account.Balance.Sub(current.Balance))
	}
	if !debited.Equal(decimal.NewFromInt(dispensed)) {
		return fmt.Errorf("accounts debited %s but %d was dispensed", debited, dispensed)
	}
	return nil
}
