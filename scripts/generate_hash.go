//go:build ignore

// generate_hash.go печатает ADMIN_PASSWORD_HASH для админ-панели.
// Запуск: go run scripts/generate_hash.go ваш_пароль
//
// Пароль из stdin, если аргумента нет: echo -n пароль | go run scripts/generate_hash.go
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"serotonyl.ru/karma-bot/internal/features/admin"
)

func main() {
	password, err := readPassword()
	if err != nil || password == "" {
		fmt.Fprintln(os.Stderr, "Использование: go run scripts/generate_hash.go <пароль>")
		os.Exit(1)
	}

	hash, err := admin.HashPassword(password, admin.DefaultHashParams)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}

	p := admin.DefaultHashParams
	fmt.Fprintf(os.Stderr, "Argon2id: m=%d KiB, t=%d, p=%d\n", p.Memory, p.Iterations, p.Parallelism)
	fmt.Printf("ADMIN_PASSWORD_HASH='%s'\n", hash)
}

func readPassword() (string, error) {
	if len(os.Args) > 1 {
		return os.Args[1], nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
