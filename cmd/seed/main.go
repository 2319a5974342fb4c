package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// weekly patterns doctors are drawn from; nil means every day
var dayPatterns = [][]string{
	nil,
	{"Monday", "Wednesday", "Friday"},
	{"Tuesday", "Thursday"},
	{"Mon", "Tue", "Wed", "Thu", "Fri"},
	{"Saturday", "Sunday"},
}

type hours struct{ from, to string }

var morningHours = []hours{{"09:00", "13:00"}, {"08:00", "12:00"}, {"10:00", "12:30"}}
var eveningHours = []hours{{"14:00", "18:00"}, {"15:00", "19:00"}, {"13:30", "17:00"}}

func main() {
	logger := logging.New("seed", os.Getenv("APP_ENV"), "info")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	if err := seedDoctors(context.Background(), logger, faker, pool, 100); err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(context.Background(), logger, faker, pool, 9000); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	logger.Info().Msg("seed complete")
}

// seedDoctors inserts doctors and gives most of them an availability window.
// About one in five keeps the default schedule.
func seedDoctors(ctx context.Context, logger zerolog.Logger, faker *gofakeit.Faker, pool *pgxpool.Pool, count int) error {
	logger.Info().Int("count", count).Msg("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := 0; i < count; i++ {
		id := uuid.New()
		spec := specialties[faker.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, "Dr. "+faker.LastName(), spec)
		if err != nil {
			return err
		}

		if faker.Number(1, 5) == 1 {
			continue
		}
		if err := insertAvailability(ctx, tx, faker, id); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info().Msg("doctors seeded")
	return nil
}

func insertAvailability(ctx context.Context, tx pgx.Tx, faker *gofakeit.Faker, doctorID uuid.UUID) error {
	days := dayPatterns[faker.Number(0, len(dayPatterns)-1)]
	if days == nil {
		days = []string{}
	}
	morning := morningHours[faker.Number(0, len(morningHours)-1)]
	evening := eveningHours[faker.Number(0, len(eveningHours)-1)]

	// a third of doctors leave the evening unset and get the default
	var eveningFrom, eveningTo *string
	if faker.Number(1, 3) != 1 {
		eveningFrom, eveningTo = &evening.from, &evening.to
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO doctor_availability (doctor_id, available_days, morning_from, morning_to, evening_from, evening_to, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, doctorID, days, morning.from, morning.to, eveningFrom, eveningTo)
	return err
}

func seedPatients(ctx context.Context, logger zerolog.Logger, faker *gofakeit.Faker, pool *pgxpool.Pool, count int) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), faker.Name(), faker.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return nil
}
