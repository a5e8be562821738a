package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-mem-atm/internal/app/atm/cash"
	"github.com/JoeShih716/go-mem-atm/internal/app/atm/domain"
	"github.com/JoeShih716/go-mem-atm/pkg/logger"
)

// LedgerEngine 使用哪種帳本實作
type LedgerEngine string

const (
	LedgerEngineMutex     LedgerEngine = "mutex"
	LedgerEngineSequencer LedgerEngine = "sequencer"
)

// Config ATM 的完整設定 (config/config.yaml)
type Config struct {
	Log      logger.Config   `yaml:"log"`
	Ledger   LedgerConfig    `yaml:"ledger"`
	Cash     CashConfig      `yaml:"cash"`
	Session  SessionConfig   `yaml:"session"`
	Journal  JournalConfig   `yaml:"journal"`
	Accounts []AccountConfig `yaml:"accounts"`
	Cards    []CardConfig    `yaml:"cards"`
}

type LedgerConfig struct {
	Engine LedgerEngine `yaml:"engine"` // mutex / sequencer
	Buffer int          `yaml:"buffer"` // sequencer 輸送帶容量
}

type CashConfig struct {
	Denominations []int64         `yaml:"denominations"` // 空白時使用預設面額
	Load          map[int64]int64 `yaml:"load"`          // 面額 -> 張數
}

type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"` // 0 代表不逾時
	WatchInterval time.Duration `yaml:"watch_interval"`
}

type JournalConfig struct {
	Path string `yaml:"path"` // 空白時不寫 journal
}

type AccountConfig struct {
	ID      string `yaml:"id"`
	Balance string `yaml:"balance"` // 以字串保留精確的十進位金額
	Blocked bool   `yaml:"blocked"`
}

// CardConfig PIN 與 PINHash 擇一；PINHash 為 bcrypt 雜湊
type CardConfig struct {
	Number    string `yaml:"number"`
	Holder    string `yaml:"holder"`
	AccountID string `yaml:"account_id"`
	Expiry    string `yaml:"expiry"`
	PIN       string `yaml:"pin"`
	PINHash   string `yaml:"pin_hash"`
	Blocked   bool   `yaml:"blocked"`
}

// Load 讀取並解析設定檔
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML，補上預設值後驗證
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// 補全預設配置 (如果 yaml 沒寫)
func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Ledger.Engine == "" {
		c.Ledger.Engine = LedgerEngineMutex
	}
	if c.Ledger.Buffer == 0 {
		c.Ledger.Buffer = 1000
	}
	if len(c.Cash.Denominations) == 0 {
		c.Cash.Denominations = append([]int64(nil), cash.DefaultDenominations...)
	}
	if c.Session.WatchInterval == 0 {
		c.Session.WatchInterval = time.Second
	}
}

// Validate 檢查設定的一致性，帳戶與卡片的細節交給 domain 建構子
func (c *Config) Validate() error {
	switch c.Ledger.Engine {
	case LedgerEngineMutex, LedgerEngineSequencer:
	default:
		return fmt.Errorf("unknown ledger engine %q", c.Ledger.Engine)
	}
	if c.Ledger.Buffer < 0 {
		return errors.New("ledger buffer must not be negative")
	}
	if c.Session.IdleTimeout < 0 {
		return errors.New("session idle timeout must not be negative")
	}
	if c.Session.WatchInterval < 0 {
		return errors.New("session watch interval must not be negative")
	}

	accounts := make(map[string]struct{}, len(c.Accounts))
	for _, acc := range c.Accounts {
		if _, ok := accounts[acc.ID]; ok {
			return fmt.Errorf("duplicate account %q", acc.ID)
		}
		accounts[acc.ID] = struct{}{}
	}
	cards := make(map[string]struct{}, len(c.Cards))
	for _, card := range c.Cards {
		if _, ok := cards[card.Number]; ok {
			return fmt.Errorf("duplicate card %q", card.Number)
		}
		cards[card.Number] = struct{}{}
		if card.PIN == "" && card.PINHash == "" {
			return fmt.Errorf("card %q has no pin", card.Number)
		}
	}
	return nil
}

// BuildAccounts 將設定轉成 domain.Account
func (c *Config) BuildAccounts() ([]*domain.Account, error) {
	accounts := make([]*domain.Account, 0, len(c.Accounts))
	for _, acc := range c.Accounts {
		balance, err := decimal.NewFromString(strings.TrimSpace(acc.Balance))
		if err != nil {
			return nil, fmt.Errorf("account %q: invalid balance %q: %w", acc.ID, acc.Balance, err)
		}
		account, err := domain.NewAccount(acc.ID, balance)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", acc.ID, err)
		}
		if acc.Blocked {
			account.Block()
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// BuildCards 將設定轉成以卡號為 key 的 domain.Card
func (c *Config) BuildCards() (map[string]*domain.Card, error) {
	cards := make(map[string]*domain.Card, len(c.Cards))
	for _, cc := range c.Cards {
		var credential domain.Credential
		if cc.PINHash != "" {
			credential = domain.HashedPIN(cc.PINHash)
		} else {
			credential = domain.PlainPIN(cc.PIN)
		}
		card, err := domain.NewCard(cc.Number, cc.Holder, cc.AccountID, cc.Expiry, credential)
		if err != nil {
			return nil, fmt.Errorf("card %q: %w", cc.Number, err)
		}
		if cc.Blocked {
			card.Block()
		}
		cards[card.Number] = card
	}
	return cards, nil
}
