// Package metrics exposes Prometheus instruments for the custody subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the subsystem's Prometheus collectors. It is constructed
// once and injected; packages never register against a global registry.
type Metrics struct {
	WalletsCreated      *prometheus.CounterVec
	AddressesDerived    *prometheus.CounterVec
	DepositsCredited    *prometheus.CounterVec
	WithdrawalsRequested *prometheus.CounterVec
	WithdrawalsDenied   *prometheus.CounterVec
	ConsolidationSweeps *prometheus.CounterVec
	FrozenWallets       prometheus.Gauge
	LedgerOperations    *prometheus.CounterVec
}

// New registers the custody collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WalletsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "wallets_created_total",
			Help:      "Wallets created, by currency and tier.",
		}, []string{"currency", "tier"}),

		AddressesDerived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "addresses_derived_total",
			Help:      "Addresses derived, by currency.",
		}, []string{"currency"}),

		DepositsCredited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "deposits_credited_total",
			Help:      "Confirmed deposits credited to trading balances, by currency.",
		}, []string{"currency"}),

		WithdrawalsRequested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "withdrawals_requested_total",
			Help:      "Withdrawal requests accepted by policy, by currency and tier.",
		}, []string{"currency", "tier"}),

		WithdrawalsDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "withdrawals_denied_total",
			Help:      "Withdrawal requests denied, by reason code.",
		}, []string{"reason"}),

		ConsolidationSweeps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "consolidation_sweeps_total",
			Help:      "Sweep intents emitted by the consolidation planner, by currency.",
		}, []string{"currency"}),

		FrozenWallets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "custody",
			Name:      "frozen_wallets",
			Help:      "Wallets currently frozen.",
		}),

		LedgerOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "ledger_operations_total",
			Help:      "Balance ledger operations, by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}
}

// NewNop returns metrics bound to a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
