package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
	log "github.com/sirupsen/logrus"
)

// SQL-миграции встроены в бинарник, чтобы не таскать папку при деплое.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrationLockID — advisory lock, чтобы два инстанса не мигрировали одновременно.
// "karma" в ASCII hex.
const migrationLockID = 0x6b61726d61

// RunMigrations применяет все миграции из migrations/ по порядку.
// Уже применённые версии tern хранит в таблице schema_version.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("не удалось получить соединение: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("не удалось взять блокировку миграций: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.WithError(err).Warn("не удалось снять блокировку миграций")
		}
	}()

	migrationFS, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка чтения миграций: %w", err)
	}

	migrator, err := migrate.NewMigrator(ctx, conn.Conn(), "public.schema_version")
	if err != nil {
		return fmt.Errorf("ошибка создания мигратора: %w", err)
	}
	if err := migrator.LoadMigrations(migrationFS); err != nil {
		return fmt.Errorf("ошибка загрузки миграций: %w", err)
	}

	migrator.OnStart = func(sequence int32, name, direction, sql string) {
		log.WithFields(log.Fields{
			"version": sequence,
			"name":    name,
		}).Info("Применяем миграцию")
	}

	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("ошибка миграции: %w", err)
	}

	version, err := migrator.GetCurrentVersion(ctx)
	if err == nil {
		log.WithField("version", version).Info("Схема БД актуальна")
	}
	return nil
}
