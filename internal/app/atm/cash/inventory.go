package cash

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/JoeShih716/go-mem-atm/internal/app/atm/domain"
)

// DefaultDenominations 預設支援的面額 (由大到小)
var DefaultDenominations = []int64{2000, 500, 200, 100, 50, 20, 10}

// Plan 配鈔結果: 面額 -> 張數
type Plan map[int64]int64

// Total 配鈔總金額
func (p Plan) Total() int64 {
	var total int64
	for denomination, count := range p {
		total += denomination * count
	}
	return total
}

// String 由大到小輸出，例如 "1x2000 + 1x500 + 1x100"
func (p Plan) String() string {
	denominations := make([]int64, 0, len(p))
	for denomination := range p {
		denominations = append(denominations, denomination)
	}
	slices.Sort(denominations)
	slices.Reverse(denominations)

	parts := make([]string, 0, len(denominations))
	for _, denomination := range denominations {
		parts = append(parts, fmt.Sprintf("%dx%d", p[denomination], denomination))
	}
	return strings.Join(parts, " + ")
}

// Inventory 鈔箱庫存
//
// 結構:
//
//	denominations: 支援的面額 (由大到小，配鈔順序)
//	notes: 每種面額的剩餘張數，永不為負
//	mu: 保護 notes
type Inventory struct {
	denominations []int64
	notes         map[int64]int64
	mu            sync.RWMutex
}

// NewInventory 建立一個空的鈔箱
//
// 參數:
//
//	denominations: 支援的面額，未傳入時使用 DefaultDenominations
//
// 回傳:
//
//	*Inventory: 鈔箱
//	error: 面額非正數時回傳 ErrInvalidDenomination
func NewInventory(denominations ...int64) (*Inventory, error) {
	if len(denominations) == 0 {
		denominations = DefaultDenominations
	}

	sorted := slices.Clone(denominations)
	for _, denomination := range sorted {
		if denomination <= 0 {
			return nil, fmt.Errorf("%w: %d", domain.ErrInvalidDenomination, denomination)
		}
	}
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	slices.Reverse(sorted)

	notes := make(map[int64]int64, len(sorted))
	for _, denomination := range sorted {
		notes[denomination] = 0
	}
	return &Inventory{
		denominations: sorted,
		notes:         notes,
	}, nil
}

// Load 補鈔
func (inv *Inventory) Load(denomination, count int64) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	current, ok := inv.notes[denomination]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrInvalidDenomination, denomination)
	}
	if count <= 0 {
		return domain.ErrCountMustBePositive
	}
	inv.notes[denomination] = current + count
	return nil
}

// CanDispense 是否能以 greedy 配鈔湊出金額 (不會修改庫存)
func (inv *Inventory) CanDispense(amount int64) bool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	_, ok := inv.plan(amount)
	return ok
}

// Plan 計算配鈔結果但不出鈔
func (inv *Inventory) Plan(amount int64) (Plan, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.plan(amount)
}

// Dispense 出鈔並扣除庫存
//
// 出鈔前會重新計算配鈔，不依賴先前 CanDispense 的結果。
// 無法配鈔時回傳 ErrInsufficientDispensableCash，庫存不變。
func (inv *Inventory) Dispense(amount int64) (Plan, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	plan, ok := inv.plan(amount)
	if !ok {
		return nil, domain.ErrInsufficientDispensableCash
	}
	for denomination, count := range plan {
		inv.notes[denomination] -= count
	}
	return plan, nil
}

// Counts 回傳庫存快照
func (inv *Inventory) Counts() map[int64]int64 {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	counts := make(map[int64]int64, len(inv.notes))
	for denomination, count := range inv.notes {
		counts[denomination] = count
	}
	return counts
}

// Total 鈔箱總金額
func (inv *Inventory) Total() int64 {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return Plan(inv.notes).Total()
}

// Denominations 支援的面額 (由大到小)
func (inv *Inventory) Denominations() []int64 {
	return slices.Clone(inv.denominations)
}

// plan greedy 配鈔: 面額由大到小，每種取 min(剩餘張數, 剩餘金額/面額)。
// 這不是最佳解，某些其他組合可以湊出的金額會被判定為不可出鈔，此行為必須保留。
// 呼叫端需持有 mu。
func (inv *Inventory) plan(amount int64) (Plan, bool) {
	if amount <= 0 {
		return nil, false
	}

	remaining := amount
	plan := make(Plan)
	for _, denomination := range inv.denominations {
		use := min(inv.notes[denomination], remaining/denomination)
		if use > 0 {
			plan[denomination] = use
			remaining -= use * denomination
		}
	}
	if remaining != 0 {
		return nil, false
	}
	return plan, true
}
