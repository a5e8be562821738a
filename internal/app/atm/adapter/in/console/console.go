package console

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-mem-atm/internal/app/atm/domain"
	"github.com/JoeShih716/go-mem-atm/internal/app/atm/usecase"
	"github.com/JoeShih716/go-mem-atm/pkg/metrics"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnknownCard    = errors.New("unknown card")
	ErrUsage          = errors.New("usage")
)

const helpText = `commands:
  insert <card>      insert a card
  pin <pin>          enter the PIN
  balance            show the linked account balance
  withdraw <amount>  withdraw cash
  eject              eject the card
  state              show the session state
  cash               show notes on hand
  history [n]        show the last n withdrawals (default 10)
  stats              show metrics
  help               show this help
  quit               exit
`

const defaultHistory = 10

// History 提款稽核紀錄的讀取端 (pkg/journal)
type History interface {
	Tail(n int) ([]json.RawMessage, error)
}

// Console 逐行讀取指令並操作 Session (Driving Adapter)
type Console struct {
	session *usecase.Session
	vault   *usecase.Vault
	cards   map[string]*domain.Card
	metrics *metrics.Metrics
	history History
	out     io.Writer
	logger  *zap.Logger
}

// Option 定義了 Console 的配置選項函數
type Option func(*Console)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Console) {
		c.metrics = m
	}
}

// WithHistory 啟用 history 指令
func WithHistory(h History) Option {
	return func(c *Console) {
		c.history = h
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Console) {
		c.logger = logger
	}
}

// New 建立 Console
//
// 參數:
//
//	session: 操作的 Session
//	vault: 查詢鈔箱用
//	cards: 卡號 -> 卡片，模擬讀卡機
//	out: 輸出
func New(session *usecase.Session, vault *usecase.Vault, cards map[string]*domain.Card, out io.Writer, opts ...Option) *Console {
	c := &Console{
		session: session,
		vault:   vault,
		cards:   cards,
		out:     out,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run 讀取指令直到 quit、輸入結束或 ctx 結束
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	c.prompt()
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if quit := c.Execute(ctx, scanner.Text()); quit {
			return nil
		}
		c.prompt()
	}
	return scanner.Err()
}

// Execute 執行單一指令，錯誤只輸出不中斷
//
// 回傳:
//
//	bool: 是否為 quit
func (c *Console) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	if cmd == "quit" || cmd == "exit" {
		fmt.Fprintln(c.out, "bye")
		return true
	}
	if err := c.execute(ctx, cmd, args); err != nil {
		c.logger.Debug("command failed", zap.String("command", cmd), zap.Error(err))
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
	return false
}

func (c *Console) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "insert":
		if len(args) != 1 {
			return fmt.Errorf("%w: insert <card>", ErrUsage)
		}
		card, ok := c.cards[args[0]]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCard, args[0])
		}
		if err := c.session.InsertCard(ctx, card); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "card %s inserted, enter PIN\n", card.Number)
	case "pin":
		if len(args) != 1 {
			return fmt.Errorf("%w: pin <pin>", ErrUsage)
		}
		if err := c.session.EnterPIN(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "authenticated")
	case "balance":
		balance, err := c.session.CheckBalance(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "balance: %s\n", balance.String())
	case "withdraw":
		if len(args) != 1 {
			return fmt.Errorf("%w: withdraw <amount>", ErrUsage)
		}
		amount, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid amount %q", domain.ErrInvalidArgument, args[0])
		}
		receipt, err := c.session.Withdraw(ctx, amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "dispensed %d: %s\n", receipt.Amount, receipt.Notes)
		fmt.Fprintf(c.out, "balance: %s\n", receipt.Balance.String())
	case "eject":
		if err := c.session.EjectCard(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "card ejected")
	case "state":
		fmt.Fprintf(c.out, "state: %s\n", c.session.State())
	case "cash":
		counts, total := c.vault.CashOnHand()
		for _, denomination := range c.vault.Denominations() {
			fmt.Fprintf(c.out, "%6d x %d\n", denomination, counts[denomination])
		}
		fmt.Fprintf(c.out, "total: %d\n", total)
	case "history":
		return c.printHistory(args)
	case "stats":
		if c.metrics == nil {
			return errors.New("metrics disabled")
		}
		return c.metrics.WriteText(c.out)
	case "help":
		fmt.Fprint(c.out, helpText)
	default:
		return fmt.Errorf("%w: %s (try help)", ErrUnknownCommand, cmd)
	}
	return nil
}

func (c *Console) printHistory(args []string) error {
	if c.history == nil {
		return errors.New("journal disabled")
	}
	n := defaultHistory
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed <= 0 {
			return fmt.Errorf("%w: history [n]", ErrUsage)
		}
		n = parsed
	}
	records, err := c.history.Tail(n)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(c.out, "no withdrawals")
		return nil
	}
	for _, raw := range records {
		var receipt usecase.Receipt
		if err := json.Unmarshal(raw, &receipt); err != nil {
			return fmt.Errorf("corrupt journal record: %w", err)
		}
		fmt.Fprintf(c.out, "%s %s %s %d (%s) balance %s\n",
			receipt.At.Format("2006-01-02 15:04:05"),
			receipt.CardNumber,
			receipt.AccountID,
			receipt.Amount,
			receipt.Notes,
			receipt.Balance.String(),
		)
	}
	return nil
}

func (c *Console) prompt() {
	fmt.Fprintf(c.out, "[%s]> ", c.session.State())
}
