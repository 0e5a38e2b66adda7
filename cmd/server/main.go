// Command amethyst: REST-сервис над сущностями из DSL/YAML-схем.
//
//	amethyst serve              запустить HTTP API
//	amethyst migrate            создать недостающие таблицы (postgres/sqlite)
//	amethyst ddl --dialect pg   напечатать DDL схемы
//	amethyst lint               проверить схему
//	amethyst config show        показать итоговую конфигурацию
package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
