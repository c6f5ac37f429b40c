// Command migrate applies the embedded Postgres schema.
//
//	go run ./cmd/migrate -direction up
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/MrEthical07/goMFA/internal/config"
	"github.com/MrEthical07/goMFA/store/postgres"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	dsn := config.DatabaseURL()
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "MFA_DATABASE_URL is not set")
		os.Exit(1)
	}

	if err := postgres.Migrate(dsn, *direction); err != nil {
		if errors.Is(err, postgres.ErrNoChange) {
			fmt.Println("schema already at target version")
			return
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	fmt.Println("migrations applied:", *direction)
}
