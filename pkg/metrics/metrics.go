package metrics

import (
	"io"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Metrics ATM 的 prometheus 指標，註冊在獨立的 Registry 上
// 避免多個 Vault (例如測試或模擬) 重複註冊到全域 Registry。
type Metrics struct {
	registry *prometheus.Registry

	StateTransitions   *prometheus.CounterVec
	RejectedOperations *prometheus.CounterVec
	Withdrawals        prometheus.Counter
	DispensedAmount    prometheus.Counter
	Refunds            prometheus.Counter
	SessionsExpired    prometheus.Counter
	NotesOnHand        *prometheus.GaugeVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atm_session_state_transitions_total",
			Help: "Total number of session state transitions",
		}, []string{"from", "to"}),
		RejectedOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atm_session_rejected_operations_total",
			Help: "Total number of session operations rejected, by operation and reason",
		}, []string{"operation", "reason"}),
		Withdrawals: factory.NewCounter(prometheus.CounterOpts{
			Name: "atm_withdrawals_total",
			Help: "Total number of completed withdrawals",
		}),
		DispensedAmount: factory.NewCounter(prometheus.CounterOpts{
			Name: "atm_dispensed_amount_total",
			Help: "Total cash value dispensed",
		}),
		Refunds: factory.NewCounter(prometheus.CounterOpts{
			Name: "atm_withdrawal_refunds_total",
			Help: "Total number of debits reversed because dispensing failed",
		}),
		SessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "atm_sessions_expired_total",
			Help: "Total number of sessions ejected by the idle timeout",
		}),
		NotesOnHand: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "atm_notes_on_hand",
			Help: "Current number of notes in the cash inventory, by denomination",
		}, []string{"denomination"}),
	}
}

// Registry 回傳底層的 Registry，供 Gather 或測試使用
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveRejection(operation, reason string) {
	if m == nil {
		return
	}
	m.RejectedOperations.WithLabelValues(operation, reason).Inc()
}

func (m *Metrics) ObserveWithdrawal(amount int64) {
	if m == nil {
		return
	}
	m.Withdrawals.Inc()
	m.DispensedAmount.Add(float64(amount))
}

func (m *Metrics) IncrementRefunds() {
	if m == nil {
		return
	}
	m.Refunds.Inc()
}

func (m *Metrics) IncrementSessionsExpired() {
	if m == nil {
		return
	}
	m.SessionsExpired.Inc()
}

func (m *Metrics) SetNotesOnHand(counts map[int64]int64) {
	if m == nil {
		return
	}
	for denomination, count := range counts {
		m.NotesOnHand.WithLabelValues(strconv.FormatInt(denomination, 10)).Set(float64(count))
	}
}

// WriteText 以 prometheus text format 輸出目前所有指標
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return err
		}
	}
	return nil
}
