// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: ежечасная чистка старых событий
// кармы и закрытие истёкших админ-сессий.
package jobs

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/karma-bot/internal/common"
	"serotonyl.ru/karma-bot/internal/metrics"
)

const (
	pruneSchedule  = "0 * * * *"    // каждый час
	expireSchedule = "*/10 * * * *" // каждые 10 минут
)

// EventPruner удаляет события кармы старше before (abuse.Repository).
type EventPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SessionExpirer закрывает истёкшие админ-сессии (admin.Service).
type SessionExpirer interface {
	ExpireSessions(ctx context.Context) (int64, error)
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron      *cron.Cron
	events    EventPruner
	sessions  SessionExpirer
	clock     clockwork.Clock
	retention time.Duration
}

// NewScheduler создаёт планировщик задач с московским часовым поясом.
// sessions может быть nil, если админка выключена.
func NewScheduler(events EventPruner, sessions SessionExpirer, clock clockwork.Clock, retention time.Duration) *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(
		cron.WithLocation(common.MoscowLocation()),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	return &Scheduler{
		cron:      c,
		events:    events,
		sessions:  sessions,
		clock:     clock,
		retention: retention,
	}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(pruneSchedule, func() { s.pruneEvents(ctx) }); err != nil {
		return err
	}
	if s.sessions != nil {
		if _, err := s.cron.AddFunc(expireSchedule, func() { s.expireSessions(ctx) }); err != nil {
			return err
		}
	}

	s.cron.Start()
	log.WithField("jobs", len(s.cron.Entries())).Info("Планировщик задач запущен (Europe/Moscow)")
	return nil
}

// Stop останавливает планировщик и ждёт выполняющиеся задачи.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

// pruneEvents удаляет события старше окна хранения. Окно не меньше
// суточного окна антиабуза, так что подсчёт не страдает.
func (s *Scheduler) pruneEvents(ctx context.Context) {
	before := s.clock.Now().Add(-s.retention)
	n, err := s.events.Prune(ctx, before)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка чистки событий кармы")
		return
	}
	metrics.AbuseEventsPrunedTotal.Add(float64(n))
	log.WithFields(log.Fields{"deleted": n, "before": before}).Info("[CRON] Старые события кармы удалены")
}

func (s *Scheduler) expireSessions(ctx context.Context) {
	n, err := s.sessions.ExpireSessions(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка закрытия админ-сессий")
		return
	}
	if n > 0 {
		log.WithField("expired", n).Info("[CRON] Истёкшие админ-сессии закрыты")
	}
}
