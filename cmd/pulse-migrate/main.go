// pulse-migrate applies the embedded schema migrations.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"pulse/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	_ = godotenv.Load()

	dsn := os.Getenv("PULSE_DATABASE_URL")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "PULSE_DATABASE_URL is not set")
		os.Exit(1)
	}

	if err := migrate.Run(dsn, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
