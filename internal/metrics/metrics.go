// Package metrics описывает prometheus-метрики бота и поднимает /metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Bot
var (
	// BotUpdatesTotal — апдейты по результату (handled, rate_limited, ignored)
	BotUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_updates_total",
			Help: "Telegram updates by result",
		},
		[]string{"result"},
	)

	// PanicsRecoveredTotal — паники в обработчиках апдейтов
	PanicsRecoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_panics_recovered_total",
			Help: "Panics recovered in update handlers",
		},
	)
)

// Ledger
var (
	// KarmaGrantsTotal — выданная/отнятая карма по причине (grant, penalty, admin)
	KarmaGrantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "karma_grants_total",
			Help: "Committed karma grants by reason and sign",
		},
		[]string{"reason", "sign"},
	)

	// KarmaTransfersTotal — переводы по результату
	KarmaTransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "karma_transfers_total",
			Help: "Karma transfers by status",
		},
		[]string{"status"},
	)

	// TxRetriesTotal — повторы транзакций после serialization failure / deadlock
	TxRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_tx_retries_total",
			Help: "Database transactions retried after a serialization failure or deadlock",
		},
	)
)

// Abuse gate
var (
	// AbuseVerdictsTotal — вердикты антиабуза (allow, burst, daily_limit, banned)
	AbuseVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abuse_verdicts_total",
			Help: "Abuse gate verdicts",
		},
		[]string{"verdict"},
	)

	// AbuseBansTotal — выданные баны
	AbuseBansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "abuse_bans_total",
			Help: "Temporary karma bans applied",
		},
	)

	// AbuseEventsPrunedTotal — удалённые устаревшие события
	AbuseEventsPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "abuse_events_pruned_total",
			Help: "Transaction events deleted by the retention job",
		},
	)
)

// Delivery queue
var (
	// DeliveryMessagesTotal — отправленные сообщения по статусу (sent, failed)
	DeliveryMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_messages_total",
			Help: "Outbound messages by status",
		},
		[]string{"status"},
	)

	// DeliveryBatchesTotal — количество обработанных пачек
	DeliveryBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_batches_total",
			Help: "Outbound batches drained",
		},
	)

	// DeliveryBacklog — текущий размер очереди
	DeliveryBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "delivery_backlog",
			Help: "Messages waiting in the outbound queue",
		},
	)

	// DeliverySendDuration — длительность одного sendMessage
	DeliverySendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_send_duration_seconds",
			Help:    "Telegram sendMessage latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// DeliveryBreakerState — состояние circuit breaker (0=closed, 1=half-open, 2=open)
	DeliveryBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "delivery_circuit_breaker_state",
			Help: "Telegram sender circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// Database
var (
	// DBQueryDuration — длительность запросов по типу (select, insert, ...)
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)

	// DBErrorsTotal — ошибки запросов по типу
	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Database query errors",
		},
		[]string{"query"},
	)
)

// Server отдаёт /metrics для prometheus.
type Server struct {
	srv *http.Server
}

// NewServer создаёт HTTP-сервер метрик на addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start запускает сервер в отдельной горутине.
func (s *Server) Start() {
	go func() {
		log.WithField("addr", s.srv.Addr).Info("Метрики доступны на /metrics")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Сервер метрик упал")
		}
	}()
}

// Stop останавливает сервер метрик.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
