// Package metrics holds the bot's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MovesTotal counts submitted moves by the pipeline tier that produced them.
	MovesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lbot_moves_total",
		Help: "Moves played, by source (ultra/panic/book/tb/cache/search).",
	}, []string{"source"})

	APIRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lbot_api_retries_total",
		Help: "Retried platform calls, by error kind.",
	}, []string{"kind"})

	ChallengesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lbot_challenges_total",
		Help: "Inbound challenges handled, by decision and reason.",
	}, []string{"decision", "reason"})

	OutgoingChallengesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lbot_outgoing_challenges_total",
		Help: "Outgoing challenges, by result.",
	}, []string{"result"})

	EngineRespawnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lbot_engine_respawns_total",
		Help: "Engine processes replaced after a failed search.",
	})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lbot_fen_cache_lookups_total",
		Help: "Position cache lookups, by result (hit/miss).",
	}, []string{"result"})

	ResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lbot_results_total",
		Help: "Finished games, by outcome (win/loss/draw).",
	}, []string{"outcome"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lbot_active_sessions",
		Help: "Games with a running session.",
	})

	PendingChallenges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lbot_pending_challenges",
		Help: "Outgoing challenges awaiting an answer.",
	})
)

func RecordMove(source string) { MovesTotal.WithLabelValues(source).Inc() }

func RecordRetry(kind string) { APIRetriesTotal.WithLabelValues(kind).Inc() }

func RecordChallenge(decision, reason string) {
	ChallengesTotal.WithLabelValues(decision, reason).Inc()
}

func RecordOutgoing(result string) { OutgoingChallengesTotal.WithLabelValues(result).Inc() }

func RecordRespawn() { EngineRespawnsTotal.Inc() }

func RecordCacheHit()  { CacheLookupsTotal.WithLabelValues("hit").Inc() }
func RecordCacheMiss() { CacheLookupsTotal.WithLabelValues("miss").Inc() }

func RecordResult(outcome string) { ResultsTotal.WithLabelValues(outcome).Inc() }

func SetActiveSessions(n int)    { ActiveSessions.Set(float64(n)) }
func SetPendingChallenges(n int) { PendingChallenges.Set(float64(n)) }
