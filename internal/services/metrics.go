package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RoundsOpened     *prometheus.CounterVec
	RoundsSettled    *prometheus.CounterVec
	RoundsVoided     *prometheus.CounterVec
	BetsAdmitted     *prometheus.CounterVec
	BetsRejected     *prometheus.CounterVec
	FairnessMismatch *prometheus.CounterVec
	SourceErrors     *prometheus.CounterVec
	SinkErrors       *prometheus.CounterVec
	ChainHeight      *prometheus.GaugeVec
	PendingRounds    *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoundsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hashgames_rounds_opened_total", Help: "rounds opened",
		}, []string{"game"}),
		RoundsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hashgames_rounds_settled_total", Help: "rounds settled by result",
		}, []string{"game", "result"}),
		RoundsVoided: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hashgames_rounds_voided_total", Help: "rounds voided by reason",
		}, []string{"game", "reason"}),
		BetsAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hashgames_bets_admitted_total", Help: "bets admitted",
		}, []string{"game"}),
		BetsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hashgames_bets_rejected_total", Help: "bets rejected by reason",
		}, []string{"game", "reason"}),
		FairnessMismatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hashgames_fairness_mismatch_total", Help: "verifications that did not reproduce the stored result",
		}, []string{"game"}),
		SourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hashgames_block_source_errors_total", Help: "block source failures by stage",
		}, []string{"game", "stage"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hashgames_event_sink_errors_total", Help: "events that failed to publish",
		}, []string{"event"}),
		ChainHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hashgames_chain_height", Help: "last observed block height",
		}, []string{"game"}),
		PendingRounds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hashgames_pending_rounds", Help: "rounds waiting for their block",
		}, []string{"game"}),
	}

	reg.MustRegister(
		m.RoundsOpened, m.RoundsSettled, m.RoundsVoided,
		m.BetsAdmitted, m.BetsRejected, m.FairnessMismatch,
		m.SourceErrors, m.SinkErrors, m.ChainHeight, m.PendingRounds,
	)
	return m
}
