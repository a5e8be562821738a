package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-mem-atm/internal/app/atm/domain"
	"github.com/JoeShih716/go-mem-atm/internal/app/atm/usecase"
)

// ErrLedgerStopped run loop 已結束，無法再處理請求
var ErrLedgerStopped = errors.New("ledger stopped")

type requestKind uint8

const (
	requestOpen requestKind = iota + 1
	requestGet
	requestPost
)

type response struct {
	account domain.Account
	err     error
}

// ledgerRequest 請求包裝 channel，讓呼叫端可以等待結果
type ledgerRequest struct {
	kind      requestKind
	tran      *domain.Transaction
	account   *domain.Account
	accountID string
	result    chan response // 呼叫端等這個 channel
}

// SequencedLedger 單一 goroutine 依序處理所有請求的帳本 (LMAX 風格)
// 帳戶資料只會被 run loop 存取，因此不需要鎖。
type SequencedLedger struct {
	accounts map[string]*domain.Account
	// 已處理過的交易
	processedTransactions map[uuid.UUID]bool
	// 輸送帶 負責接收請求
	requests chan *ledgerRequest
	// Pool 減少 GC 壓力
	requestPool sync.Pool
	// run loop 結束時關閉
	done chan struct{}
}

// NewSequencedLedger 建立一個新的 SequencedLedger 實例，需呼叫 Start 才會開始處理
//
// 參數:
//
//	buffer: 輸送帶容量
//	accounts: 初始帳戶
//
// 回傳:
//
//	*SequencedLedger: SequencedLedger 實例
//	error: 帳戶 ID 重複
func NewSequencedLedger(buffer int, accounts ...*domain.Account) (*SequencedLedger, error) {
	if buffer <= 0 {
		buffer = 1000
	}
	ledger := &SequencedLedger{
		accounts:              make(map[string]*domain.Account, len(accounts)),
		processedTransactions: make(map[uuid.UUID]bool),
		requests:              make(chan *ledgerRequest, buffer),
		done:                  make(chan struct{}),
		requestPool: sync.Pool{
			New: func() interface{} {
				return &ledgerRequest{
					result: make(chan response, 1),
				}
			},
		},
	}
	// 啟動前直接寫入，不需要經過輸送帶 (單執行緒)
	for _, account := range accounts {
		if res := ledger.handleOpen(account); res.err != nil {
			return nil, res.err
		}
	}
	return ledger, nil
}

// Start 啟動核心引擎 (非同步)，ctx 結束時處理完剩餘請求後停止
func (l *SequencedLedger) Start(ctx context.Context) {
	go l.run(ctx)
}

// Done run loop 結束時關閉
func (l *SequencedLedger) Done() <-chan struct{} {
	return l.done
}

func (l *SequencedLedger) OpenAccount(ctx context.Context, account *domain.Account) error {
	res := l.submit(ctx, func(req *ledgerRequest) {
		req.kind = requestOpen
		req.account = account
	})
	return res.err
}

func (l *SequencedLedger) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	res := l.submit(ctx, func(req *ledgerRequest) {
		req.kind = requestGet
		req.accountID = accountID
	})
	return res.account, res.err
}

// PostTransaction 接收交易請求
//
// PostTransaction(等待) -> Channel -> Run Loop (核心) -> Map Update -> Result Channel -> PostTransaction(收到結果)
//
// ctx 只在放入輸送帶前有效；放入後一定等到結果，回傳的錯誤與帳戶實際狀態一致。
func (l *SequencedLedger) PostTransaction(ctx context.Context, tran *domain.Transaction) error {
	if tran == nil {
		return domain.ErrInvalidArgument
	}
	res := l.submit(ctx, func(req *ledgerRequest) {
		req.kind = requestPost
		req.tran = tran
	})
	return res.err
}

func (l *SequencedLedger) submit(ctx context.Context, fill func(*ledgerRequest)) response {
	// 已取消的請求不能有機會進入輸送帶
	if err := ctx.Err(); err != nil {
		return response{err: err}
	}
	// 1. 放入輸送帶 (使用 sync.Pool 減少 GC)
	req := l.requestPool.Get().(*ledgerRequest)
	req.tran, req.account, req.accountID = nil, nil, ""
	fill(req)
	// 清空 Channel (理論上應該是空的)
	select {
	case <-req.result:
	default:
	}

	select {
	case l.requests <- req:
	case <-ctx.Done():
		l.requestPool.Put(req)
		return response{err: ctx.Err()}
	case <-l.done:
		l.requestPool.Put(req)
		return response{err: ErrLedgerStopped}
	}

	// 2. 已送出的請求一定會被處理 (含 drain)，此後不看 ctx，
	// 否則呼叫端會把已入帳的交易當成失敗
	select {
	case res := <-req.result:
		l.requestPool.Put(req)
		return res
	case <-l.done:
		// run loop 結束後不會再有結果，除非在結束前已處理完
		select {
		case res := <-req.result:
			l.requestPool.Put(req)
			return res
		default:
			return response{err: ErrLedgerStopped}
		}
	}
}

func (l *SequencedLedger) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			// 收到關閉信號，把剩下的請求處理完
			l.drain()
			return
		case req := <-l.requests:
			l.process(req)
		}
	}
}

func (l *SequencedLedger) drain() {
	for {
		select {
		case req := <-l.requests:
			l.process(req)
		default:
			return
		}
	}
}

// process 處理單筆請求並回傳結果
func (l *SequencedLedger) process(req *ledgerRequest) {
	switch req.kind {
	case requestOpen:
		req.result <- l.handleOpen(req.account)
	case requestGet:
		account, ok := l.accounts[req.accountID]
		if !ok {
			req.result <- response{err: domain.ErrAccountNotFound}
			return
		}
		req.result <- response{account: *account}
	case requestPost:
		req.result <- response{err: l.handlePost(req.tran)}
	default:
		req.result <- response{err: domain.ErrInvalidArgument}
	}
}

func (l *SequencedLedger) handleOpen(account *domain.Account) response {
	if account == nil {
		return response{err: domain.ErrInvalidArgument}
	}
	if _, ok := l.accounts[account.ID]; ok {
		return response{err: domain.ErrAccountAlreadyExists}
	}
	stored := *account
	l.accounts[account.ID] = &stored
	return response{}
}

func (l *SequencedLedger) handlePost(tran *domain.Transaction) error {
	// Idempotency Check (Thread Safe in Loop)
	if l.processedTransactions[tran.TransactionID] {
		return nil
	}

	var err error
	switch tran.Type {
	case domain.TransactionTypeDeposit:
		err = handleDeposit(l.accounts, tran)
	case domain.TransactionTypeWithdraw:
		err = handleWithdraw(l.accounts, tran)
	default:
		err = domain.ErrInvalidArgument
	}

	if err == nil {
		l.processedTransactions[tran.TransactionID] = true
	}
	return err
}

var _ usecase.Ledger = (*SequencedLedger)(nil)
