package domain

// StateTag ATM session 的狀態
type StateTag uint8

const (
	StateIdle StateTag = iota
	StateCardInserted
	StateAuthenticated
)

func (s StateTag) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCardInserted:
		return "card_inserted"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}
