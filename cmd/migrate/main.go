package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
)

// Usage: migrate [up | down <steps> | force <version> | version]
func main() {
	_ = godotenv.Load()
	logger := logging.New("migrate", os.Getenv("APP_ENV"), "info")

	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	m, err := db.NewMigrator(dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("create migrator")
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn().Err(err).Msg("close migrator")
		}
	}()

	cmd := "up"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		steps := 1
		if len(os.Args) >= 3 {
			if steps, err = strconv.Atoi(os.Args[2]); err != nil || steps <= 0 {
				logger.Fatal().Str("steps", os.Args[2]).Msg("invalid step count")
			}
		}
		err = m.Down(steps)
	case "force":
		if len(os.Args) < 3 {
			logger.Fatal().Msg("force needs a version")
		}
		version, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil {
			logger.Fatal().Err(convErr).Msg("invalid version")
		}
		err = m.Force(version)
	case "version":
	default:
		logger.Fatal().Str("command", cmd).Msg("unknown command, expected up, down, force or version")
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}

	version, dirty, err := m.Version()
	if err != nil {
		logger.Fatal().Err(err).Msg("read version")
	}
	logger.Info().Str("command", cmd).Uint("version", version).Bool("dirty", dirty).Msg("migrations complete")
}
