package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-mem-atm/internal/app/atm/domain"
)

// 操作名稱，用於 log 與 metrics
const (
	OpInsertCard   = "insert_card"
	OpEnterPIN     = "enter_pin"
	OpCheckBalance = "check_balance"
	OpWithdraw     = "withdraw"
	OpEjectCard    = "eject_card"
)

// Session 一台 ATM 的 session controller
//
// 所有公開操作都委派給目前的 state，Session 只負責
// 加鎖、閒置逾時、log 與 metrics。
//
// 結構:
//
//	mu: 保護 state / card / lastActivity
//	vault: 共用的鈔箱與帳本
//	state: 目前狀態
//	card: 目前插入的卡片 (Idle 時為 nil)
type Session struct {
	mu           sync.Mutex
	id           uuid.UUID
	vault        *Vault
	state        state
	card         *domain.Card
	idleTimeout  time.Duration
	lastActivity time.Time
	now          func() time.Time
	logger       *zap.Logger
}

// SessionOption 定義了 Session 的配置選項函數
type SessionOption func(*Session)

// WithClock 替換時間來源 (測試用)
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		s.now = now
	}
}

// WithIdleTimeout 非 Idle 狀態下閒置超過 timeout 即自動退卡，0 表示不限制
func WithIdleTimeout(timeout time.Duration) SessionOption {
	return func(s *Session) {
		s.idleTimeout = timeout
	}
}

func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// NewSession 建立一個處於 Idle 的 Session
func NewSession(vault *Vault, opts ...SessionOption) (*Session, error) {
	if vault == nil {
		return nil, errors.New("vault is required")
	}
	s := &Session{
		id:     uuid.New(),
		vault:  vault,
		state:  idleState{},
		now:    time.Now,
		logger: vault.logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.Stringer("session_id", s.id))
	s.lastActivity = s.now()
	return s, nil
}

// ID session ID
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State 目前狀態
func (s *Session) State() domain.StateTag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.tag()
}

// InsertCard 插卡
func (s *Session) InsertCard(ctx context.Context, card *domain.Card) error {
	return s.dispatch(ctx, OpInsertCard, func(st state) error {
		return st.insertCard(ctx, s, card)
	})
}

// EnterPIN 輸入 PIN
func (s *Session) EnterPIN(ctx context.Context, pin string) error {
	return s.dispatch(ctx, OpEnterPIN, func(st state) error {
		return st.enterPIN(ctx, s, pin)
	})
}

// CheckBalance 查詢餘額
func (s *Session) CheckBalance(ctx context.Context) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.dispatch(ctx, OpCheckBalance, func(st state) error {
		var err error
		balance, err = st.checkBalance(ctx, s)
		return err
	})
	return balance, err
}

// Withdraw 提款
func (s *Session) Withdraw(ctx context.Context, amount int64) (Receipt, error) {
	var receipt Receipt
	err := s.dispatch(ctx, OpWithdraw, func(st state) error {
		var err error
		receipt, err = st.withdraw(ctx, s, amount)
		return err
	})
	return receipt, err
}

// EjectCard 退卡
func (s *Session) EjectCard(ctx context.Context) error {
	return s.dispatch(ctx, OpEjectCard, func(st state) error {
		return st.ejectCard(ctx, s)
	})
}

// Expire 若已閒置超過 timeout 則退卡回到 Idle
//
// 回傳:
//
//	bool: 是否因逾時而退卡
func (s *Session) Expire(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expireLocked(now)
}

// Watch 定期檢查閒置逾時，直到 ctx 結束
func (s *Session) Watch(ctx context.Context, interval time.Duration) {
	if s.idleTimeout <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Expire(s.now())
		}
	}
}

// dispatch 加鎖後把操作交給目前的 state
func (s *Session) dispatch(ctx context.Context, op string, fn func(state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.expireLocked(now) {
		s.vault.metrics.ObserveRejection(op, domain.Reason(domain.ErrSessionExpired))
		return domain.ErrSessionExpired
	}
	s.lastActivity = now

	if err := fn(s.state); err != nil {
		s.vault.metrics.ObserveRejection(op, domain.Reason(err))
		s.logger.Debug("operation rejected",
			zap.String("operation", op),
			zap.Stringer("state", s.state.tag()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// expireLocked 呼叫端需持有 mu
func (s *Session) expireLocked(now time.Time) bool {
	if s.idleTimeout <= 0 || s.state.tag() == domain.StateIdle {
		return false
	}
	if now.Sub(s.lastActivity) <= s.idleTimeout {
		return false
	}
	s.logger.Info("session idle timeout, ejecting card",
		zap.Stringer("state", s.state.tag()),
		zap.Duration("idle", now.Sub(s.lastActivity)),
	)
	s.reset()
	s.vault.metrics.IncrementSessionsExpired()
	return true
}

// transition 切換狀態 (由 state 呼叫)
func (s *Session) transition(next state) {
	from := s.state.tag()
	s.state = next
	s.vault.metrics.ObserveTransition(from.String(), next.tag().String())
	s.logger.Info("session state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", next.tag()),
	)
}

// reset 清除卡片並回到 Idle
func (s *Session) reset() {
	s.card = nil
	s.transition(idleState{})
}
