package main

import (
	"flag"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/obs"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	logger := obs.NewLogger("console", "info")
	_ = godotenv.Load()
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}

	var err error
	switch strings.ToLower(*direction) {
	case "up":
		err = db.Migrate(databaseURL)
	case "down":
		err = db.MigrateDown(databaseURL)
	default:
		logger.Fatal().Str("direction", *direction).Msg("unknown direction")
	}
	if err != nil {
		logger.Fatal().Err(err).Str("direction", *direction).Msg("migration failed")
	}
	logger.Info().Str("direction", *direction).Msg("migrations applied")
}
