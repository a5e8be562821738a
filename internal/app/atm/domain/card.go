package domain

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Credential 卡片持有的密碼驗證器，ATM 只知道比對結果
type Credential interface {
	Match(candidate string) bool
}

// PlainPIN 明碼 PIN，以固定時間比較避免 timing leak
type PlainPIN string

func (p PlainPIN) Match(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(p), []byte(candidate)) == 1
}

// HashedPIN bcrypt 雜湊後的 PIN
type HashedPIN []byte

// NewHashedPIN 將 PIN 以 bcrypt 雜湊
func NewHashedPIN(pin string) (HashedPIN, error) {
	if strings.TrimSpace(pin) == "" {
		return nil, ErrEmptyPIN
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return HashedPIN(hash), nil
}

func (h HashedPIN) Match(candidate string) bool {
	return bcrypt.CompareHashAndPassword(h, []byte(candidate)) == nil
}

// CardStatus 卡片狀態
type CardStatus uint8

const (
	CardStatusActive  CardStatus = 1
	CardStatusBlocked CardStatus = 2
)

// Card 金融卡
type Card struct {
	Number     string
	HolderName string
	AccountID  string // 連結的帳戶
	Expiry     string // MM/YY
	credential Credential
	status     CardStatus
}

// NewCard 建立一張啟用中的卡片，所有欄位皆不可空白
func NewCard(number, holderName, accountID, expiry string, credential Credential) (*Card, error) {
	for _, field := range []string{number, holderName, accountID, expiry} {
		if strings.TrimSpace(field) == "" {
			return nil, ErrInvalidCard
		}
	}
	if credential == nil {
		return nil, ErrInvalidCard
	}
	return &Card{
		Number:     number,
		HolderName: holderName,
		AccountID:  accountID,
		Expiry:     expiry,
		credential: credential,
		status:     CardStatusActive,
	}, nil
}

// IsActive 卡片是否啟用
func (c *Card) IsActive() bool {
	return c.status == CardStatusActive
}

// Block 停用卡片
func (c *Card) Block() {
	c.status = CardStatusBlocked
}

// Verify 驗證 PIN；卡片停用時回傳 ErrCardBlocked
func (c *Card) Verify(candidate string) (bool, error) {
	if !c.IsActive() {
		return false, ErrCardBlocked
	}
	return c.credential.Match(candidate), nil
}
