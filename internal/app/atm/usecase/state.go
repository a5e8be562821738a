package usecase

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-mem-atm/internal/app/atm/domain"
)

// state 由目前的狀態決定操作是否合法以及下一個狀態，Session 本身不檢查
type state interface {
	tag() domain.StateTag
	insertCard(ctx context.Context, s *Session, card *domain.Card) error
	enterPIN(ctx context.Context, s *Session, pin string) error
	checkBalance(ctx context.Context, s *Session) (decimal.Decimal, error)
	withdraw(ctx context.Context, s *Session, amount int64) (Receipt, error)
	ejectCard(ctx context.Context, s *Session) error
}

var (
	_ state = idleState{}
	_ state = cardInsertedState{}
	_ state = authenticatedState{}
)

// idleState 等待插卡
type idleState struct{}

func (idleState) tag() domain.StateTag { return domain.StateIdle }

func (idleState) insertCard(_ context.Context, s *Session, card *domain.Card) error {
	if card == nil || !card.IsActive() {
		return domain.ErrInvalidCard
	}
	s.card = card
	s.transition(cardInsertedState{})
	return nil
}

func (idleState) enterPIN(context.Context, *Session, string) error {
	return domain.ErrNoCardInserted
}

func (idleState) checkBalance(context.Context, *Session) (decimal.Decimal, error) {
	return decimal.Zero, domain.ErrNoCardInserted
}

func (idleState) withdraw(context.Context, *Session, int64) (Receipt, error) {
	return Receipt{}, domain.ErrNoCardInserted
}

func (idleState) ejectCard(context.Context, *Session) error {
	return domain.ErrNothingToEject
}

// cardInsertedState 卡片已插入，尚未驗證 PIN
type cardInsertedState struct{}

func (cardInsertedState) tag() domain.StateTag { return domain.StateCardInserted }

func (cardInsertedState) insertCard(context.Context, *Session, *domain.Card) error {
	return domain.ErrCardAlreadyInserted
}

// enterPIN 驗證失敗停留在 CardInserted，沒有錯誤次數鎖定
func (cardInsertedState) enterPIN(_ context.Context, s *Session, pin string) error {
	if strings.TrimSpace(pin) == "" {
		return domain.ErrEmptyPIN
	}
	ok, err := s.card.Verify(pin)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidPIN
	}
	s.transition(authenticatedState{})
	return nil
}

func (cardInsertedState) checkBalance(context.Context, *Session) (decimal.Decimal, error) {
	return decimal.Zero, domain.ErrNotAuthenticated
}

func (cardInsertedState) withdraw(context.Context, *Session, int64) (Receipt, error) {
	return Receipt{}, domain.ErrNotAuthenticated
}

func (cardInsertedState) ejectCard(_ context.Context, s *Session) error {
	s.reset()
	return nil
}

// authenticatedState PIN 驗證通過
type authenticatedState struct{}

func (authenticatedState) tag() domain.StateTag { return domain.StateAuthenticated }

func (authenticatedState) insertCard(context.Context, *Session, *domain.Card) error {
	return domain.ErrAlreadyAuthenticated
}

func (authenticatedState) enterPIN(context.Context, *Session, string) error {
	return domain.ErrAlreadyAuthenticated
}

func (authenticatedState) checkBalance(ctx context.Context, s *Session) (decimal.Decimal, error) {
	return s.vault.balance(ctx, s.card)
}

func (authenticatedState) withdraw(ctx context.Context, s *Session, amount int64) (Receipt, error) {
	return s.vault.withdraw(ctx, s.id, s.card, amount)
}

func (authenticatedState) ejectCard(_ context.Context, s *Session) error {
	s.reset()
	return nil
}
