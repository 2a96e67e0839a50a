// Точка входа Share Module — сервис обмена файлами по ссылке.
// Команды: serve (HTTP API и фоновые задачи), reconcile, purge,
// migrate, stats, version.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}
