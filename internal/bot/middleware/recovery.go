package middleware

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/karma-bot/internal/metrics"
)

// RecoverFromPanic вызывается через defer в горутине обработки апдейта.
func RecoverFromPanic(updateID int) {
	if r := recover(); r != nil {
		metrics.PanicsRecoveredTotal.Inc()
		log.WithFields(log.Fields{
			"component": "panic_recovery",
			"update_id": updateID,
			"panic":     fmt.Sprintf("%v", r),
			"stack":     string(debug.Stack()),
		}).Error("ПАНИКА в обработчике — восстановлено")
	}
}
