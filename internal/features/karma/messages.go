// Package karma — messages.go: тексты ответов (HTML).
package karma

import (
	"fmt"
	"html"
	"strings"
	"time"

	"serotonyl.ru/karma-bot/internal/common"
	"serotonyl.ru/karma-bot/internal/features/abuse"
	"serotonyl.ru/karma-bot/internal/features/ledger"
)

func name(s string) string { return "<b>" + html.EscapeString(s) + "</b>" }

func formatGrant(o *GrantOutcome) string {
	icon := "👍"
	if o.Delta < 0 {
		icon = "👎"
	}
	return fmt.Sprintf("%s %s → %s (%s)\nКарма %s: %s",
		icon,
		name(o.Actor.DisplayName()),
		name(o.Target.DisplayName()),
		common.FormatDelta(o.Delta),
		name(o.Target.DisplayName()),
		common.FormatNumber(o.Karma),
	)
}

func formatBanned(e *BannedError, now time.Time) string {
	return "⛔ Вы временно не можете менять карму. Осталось: " + common.FormatRemaining(e.Until.Sub(now))
}

func formatAbuse(e *AbuseError) string {
	p := e.Punishment
	var why string
	switch p.Verdict {
	case abuse.Burst:
		why = "Слишком много изменений кармы одному участнику"
	case abuse.DailyLimit:
		why = "Дневной лимит изменений кармы исчерпан"
	default:
		why = "Антиабуз"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🚨 %s!\n", why)
	if p.Penalty > 0 {
		fmt.Fprintf(&b, "%s и %s теряют по %s.\n",
			name(e.Actor.DisplayName()), name(e.Target.DisplayName()), common.FormatPoints(p.Penalty))
	}
	fmt.Fprintf(&b, "%s не может менять карму до %s.",
		name(e.Actor.DisplayName()), common.FormatDateTime(p.BannedUntil))
	return b.String()
}

func formatTransfer(o *TransferOutcome) string {
	return fmt.Sprintf("💸 %s отсыпал %s %s\nБаланс: %s — %s, %s — %s",
		name(o.Sender.DisplayName()),
		name(o.Receiver.DisplayName()),
		common.FormatPoints(o.Quantity),
		name(o.Sender.DisplayName()), common.FormatNumber(o.Result.SenderBalance),
		name(o.Receiver.DisplayName()), common.FormatNumber(o.Result.ReceiverBalance),
	)
}

func formatInsufficient(e *ledger.InsufficientFundsError) string {
	return fmt.Sprintf("❌ Недостаточно кармы. На балансе: %s", common.FormatPoints(e.Balance))
}

func formatBalance(s *Stats) string {
	return fmt.Sprintf("⭐ %s\nКарма: %s\nПоставлено плюсов: %d\nПоставлено минусов: %d",
		name(s.User.DisplayName()),
		common.FormatPoints(s.Balance.Karma),
		s.Balance.GivenKarma,
		s.Balance.GivenHate,
	)
}

func formatTop(rows []ledger.LeaderboardRow, order ledger.Order) string {
	title := "🏆 Топ по карме"
	if order == ledger.OrderAsc {
		title = "💀 Антитоп по карме"
	}
	if len(rows) == 0 {
		return title + "\n\nПока пусто"
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "\n%d. %s — %s", r.Position, html.EscapeString(r.DisplayName()), common.FormatNumber(r.Karma))
	}
	return b.String()
}

var reasonTitles = map[ledger.Reason]string{
	ledger.ReasonGrant:    "реакция",
	ledger.ReasonTransfer: "перевод",
	ledger.ReasonPenalty:  "штраф",
	ledger.ReasonAdmin:    "админ",
}

func formatHistory(entries []ledger.HistoryEntry) string {
	if len(entries) == 0 {
		return "📜 История кармы пуста"
	}

	var b strings.Builder
	b.WriteString("📜 Последние изменения кармы:\n")
	for _, e := range entries {
		who := "система"
		if e.ActorUserID != nil {
			who = common.DisplayName(e.ActorUsername, e.ActorFirstName, "")
		}
		fmt.Fprintf(&b, "\n%s %s — %s (%s)",
			common.FormatDateTime(e.CreatedAt),
			common.FormatDelta(e.Delta),
			html.EscapeString(who),
			reasonTitles[e.Reason],
		)
	}
	return b.String()
}
