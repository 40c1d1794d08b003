package abuse

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/karma-bot/internal/features/ledger"
	"serotonyl.ru/karma-bot/internal/metrics"
)

// EventStore — журнал событий кармы.
type EventStore interface {
	CountBySourceTarget(ctx context.Context, sourceID, targetID int64, since time.Time) (int, error)
	CountBySource(ctx context.Context, sourceID int64, since time.Time) (int, error)
	Record(ctx context.Context, e Event) error
}

// BanStore хранит users.banned_until.
type BanStore interface {
	BannedUntil(ctx context.Context, userID int64) (time.Time, error)
	SetBannedUntil(ctx context.Context, userID int64, until time.Time) error
}

// Penalizer списывает штраф. Штраф идёт через обычный Grant движка кармы,
// но мимо Gate: повторной проверки скорости для штрафа нет.
type Penalizer interface {
	Grant(ctx context.Context, req ledger.GrantRequest) (int64, error)
}

// Gate проверяет каждое изменение кармы до того, как оно попадёт в ledger.
//
//	BanCheck → RateCheck → Allow | Burst | DailyLimit
type Gate struct {
	events    EventStore
	bans      BanStore
	penalizer Penalizer
	clock     clockwork.Clock
	cfg       Config
}

// NewGate создаёт антиабуз.
func NewGate(events EventStore, bans BanStore, penalizer Penalizer, clock clockwork.Clock, cfg Config) *Gate {
	return &Gate{
		events:    events,
		bans:      bans,
		penalizer: penalizer,
		clock:     clock,
		cfg:       cfg,
	}
}

// Evaluate проверяет бан, затем скорость с учётом текущей попытки.
// Ничего не записывает и не меняет.
func (g *Gate) Evaluate(ctx context.Context, actorID, targetID int64) (Decision, error) {
	until, err := g.bans.BannedUntil(ctx, actorID)
	if err != nil {
		return Decision{}, fmt.Errorf("проверка бана: %w", err)
	}
	if g.clock.Now().Before(until) {
		metrics.AbuseVerdictsTotal.WithLabelValues(Banned.String()).Inc()
		return Decision{Verdict: Banned, BannedUntil: until}, nil
	}

	// Текущая попытка ещё не в журнале, считаем её сами: десятый «+1» подряд
	// должен сработать как всплеск, а не пройти.
	verdict, err := g.rate(ctx, actorID, targetID, 1)
	if err != nil {
		return Decision{}, err
	}
	metrics.AbuseVerdictsTotal.WithLabelValues(verdict.String()).Inc()
	return Decision{Verdict: verdict}, nil
}

// CheckRate считает уже записанные события актора. Проверка пары
// актор → цель идёт первой и выигрывает при совпадении.
func (g *Gate) CheckRate(ctx context.Context, actorID, targetID int64) (Verdict, error) {
	return g.rate(ctx, actorID, targetID, 0)
}

func (g *Gate) rate(ctx context.Context, actorID, targetID int64, pending int) (Verdict, error) {
	now := g.clock.Now()

	pair, err := g.events.CountBySourceTarget(ctx, actorID, targetID, now.Add(-g.cfg.BurstWindow))
	if err != nil {
		return Allow, fmt.Errorf("подсчёт событий пары: %w", err)
	}
	if pair+pending >= g.cfg.BurstThreshold {
		return Burst, nil
	}

	total, err := g.events.CountBySource(ctx, actorID, now.Add(-g.cfg.DailyWindow))
	if err != nil {
		return Allow, fmt.Errorf("подсчёт событий за сутки: %w", err)
	}
	if total+pending >= g.cfg.DailyThreshold {
		return DailyLimit, nil
	}
	return Allow, nil
}

// RecordEvent пишет событие после успешного изменения кармы.
func (g *Gate) RecordEvent(ctx context.Context, e Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = g.clock.Now()
	}
	if err := g.events.Record(ctx, e); err != nil {
		return fmt.Errorf("запись события кармы: %w", err)
	}
	return nil
}

// ApplyBan запрещает актору менять карму на BanDuration.
func (g *Gate) ApplyBan(ctx context.Context, actorID int64) (time.Time, error) {
	until := g.clock.Now().Add(g.cfg.BanDuration)
	if err := g.bans.SetBannedUntil(ctx, actorID, until); err != nil {
		return time.Time{}, fmt.Errorf("выдача бана: %w", err)
	}
	metrics.AbuseBansTotal.Inc()
	return until, nil
}

// Punish банит актора и штрафует обе стороны. Исходное действие
// после этого должно быть отклонено вызывающим кодом.
//
// Бан и два штрафа коммитятся по отдельности. Бан идёт первым: если штраф
// упадёт, актор всё равно остаётся в бане, а ошибка уходит наверх.
func (g *Gate) Punish(ctx context.Context, actorID, targetID, groupID int64, verdict Verdict) (*Punishment, error) {
	p := &Punishment{Verdict: verdict, Penalty: g.cfg.Penalty}

	until, err := g.ApplyBan(ctx, actorID)
	if err != nil {
		return nil, err
	}
	p.BannedUntil = until

	if g.cfg.Penalty > 0 {
		p.ActorKarma, err = g.penalize(ctx, actorID, groupID)
		if err != nil {
			return nil, err
		}
		p.TargetKarma, err = g.penalize(ctx, targetID, groupID)
		if err != nil {
			return nil, err
		}
	}

	log.WithFields(log.Fields{
		"actor":        actorID,
		"target":       targetID,
		"group":        groupID,
		"verdict":      verdict,
		"penalty":      g.cfg.Penalty,
		"banned_until": until,
	}).Warn("Антиабуз: штраф и бан")

	return p, nil
}

func (g *Gate) penalize(ctx context.Context, userID, groupID int64) (int64, error) {
	karma, err := g.penalizer.Grant(ctx, ledger.GrantRequest{
		TargetID: userID,
		GroupID:  groupID,
		Delta:    -g.cfg.Penalty,
		Reason:   ledger.ReasonPenalty,
	})
	if err != nil {
		return 0, fmt.Errorf("штраф пользователю %d: %w", userID, err)
	}
	return karma, nil
}
