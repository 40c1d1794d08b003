// Package pgtest поднимает PostgreSQL в testcontainers для интеграционных тестов репозиториев.
package pgtest

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"serotonyl.ru/karma-bot/internal/db/postgres"
)

// Main запускает контейнер один раз на пакет, накатывает миграции
// и выполняет тесты. В режиме -short контейнер не поднимается.
//
//	var testPool *pgxpool.Pool
//
//	func TestMain(m *testing.M) { pgtest.Main(m, &testPool) }
func Main(m *testing.M, pool **pgxpool.Pool) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("karma_test"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get connection string: %v\n", err)
		_ = container.Terminate(ctx)
		os.Exit(1)
	}

	p, err := postgres.Connect(ctx, connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to test database: %v\n", err)
		_ = container.Terminate(ctx)
		os.Exit(1)
	}
	if err := postgres.RunMigrations(ctx, p); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to run migrations: %v\n", err)
		p.Close()
		_ = container.Terminate(ctx)
		os.Exit(1)
	}
	*pool = p

	code := m.Run()

	p.Close()
	if err := container.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to terminate postgres container: %v\n", err)
	}
	os.Exit(code)
}

// Setup пропускает тест в режиме -short и очищает таблицы после него.
func Setup(t *testing.T, pool *pgxpool.Pool) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	t.Cleanup(func() {
		_, err := pool.Exec(context.Background(), `
			TRUNCATE users, chat_groups, karma_balances, karma_history,
			         transaction_events, admin_sessions, admin_login_attempts
			RESTART IDENTITY CASCADE`)
		if err != nil {
			t.Logf("Failed to truncate tables: %v", err)
		}
	})
	return pool
}

// SeedUser создаёт пользователя и возвращает его внутренний id.
func SeedUser(t *testing.T, pool *pgxpool.Pool, telegramID int64, username string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO users (telegram_id, username, first_name)
		VALUES ($1, $2, $2)
		RETURNING id
	`, telegramID, username).Scan(&id)
	if err != nil {
		t.Fatalf("seed user %d: %v", telegramID, err)
	}
	return id
}

// SeedGroup создаёт чат и возвращает его внутренний id.
func SeedGroup(t *testing.T, pool *pgxpool.Pool, chatID int64) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO chat_groups (chat_id, title) VALUES ($1, 'test') RETURNING id
	`, chatID).Scan(&id)
	if err != nil {
		t.Fatalf("seed group %d: %v", chatID, err)
	}
	return id
}
