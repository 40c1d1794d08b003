// Package abuse — антиабуз для кармы: проверка бана, скорость изменений
// кармы за окно времени, штрафы и временные баны.
package abuse

import "time"

// Verdict — результат проверки.
type Verdict int

const (
	Allow      Verdict = iota // можно
	Burst                     // слишком часто одному и тому же участнику
	DailyLimit                // слишком часто вообще за сутки
	Banned                    // актор уже забанен
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Burst:
		return "burst"
	case DailyLimit:
		return "daily_limit"
	case Banned:
		return "banned"
	default:
		return "unknown"
	}
}

// Kind — тип события для журнала transaction_events.
type Kind string

const (
	KindKarma Kind = "KARMA"
	KindHate  Kind = "HATE"
)

// KindForDelta: положительное изменение — KARMA, отрицательное — HATE.
func KindForDelta(delta int64) Kind {
	if delta < 0 {
		return KindHate
	}
	return KindKarma
}

// Event — одно успешное изменение кармы (вход для подсчёта скорости).
type Event struct {
	SourceID  int64
	TargetID  int64
	GroupID   int64
	Kind      Kind
	CreatedAt time.Time
}

// Decision — итог Evaluate.
type Decision struct {
	Verdict     Verdict
	BannedUntil time.Time // только для Banned
}

// Allowed сообщает, можно ли выполнять действие.
func (d Decision) Allowed() bool { return d.Verdict == Allow }

// Punishment — что сделали с нарушителем.
type Punishment struct {
	Verdict     Verdict
	Penalty     int64 // на сколько уменьшена карма каждой стороны
	ActorKarma  int64
	TargetKarma int64
	BannedUntil time.Time
}

// Config — пороги и окна антиабуза.
type Config struct {
	BurstWindow    time.Duration // окно для пары актор → цель
	BurstThreshold int
	DailyWindow    time.Duration // окно для всех действий актора
	DailyThreshold int
	Penalty        int64 // штраф обеим сторонам, > 0
	BanDuration    time.Duration
}

// DefaultConfig — 10 за 15 минут одному участнику, 50 за сутки всего,
// штраф 10, бан на сутки.
func DefaultConfig() Config {
	return Config{
		BurstWindow:    15 * time.Minute,
		BurstThreshold: 10,
		DailyWindow:    24 * time.Hour,
		DailyThreshold: 50,
		Penalty:        10,
		BanDuration:    24 * time.Hour,
	}
}
