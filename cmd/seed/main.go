package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
	"github.com/hackgods/vet-appointment-scheduling/internal/config"
	"github.com/hackgods/vet-appointment-scheduling/internal/db"
	"github.com/hackgods/vet-appointment-scheduling/internal/lock"
	"github.com/hackgods/vet-appointment-scheduling/internal/logging"
)

var visitReasons = []string{
	"Annual wellness exam",
	"Vaccination booster",
	"Dental cleaning",
	"Skin irritation",
	"Limping on hind leg",
	"Post-surgery check",
	"Ear infection follow-up",
	"Weight management consult",
	"Vomiting since yesterday",
	"Microchip implant",
}

var slotLengths = []time.Duration{15 * time.Minute, 30 * time.Minute, 45 * time.Minute, time.Hour}

// Seeds a week of bookings for a set of veterinarians through the scheduler,
// so every row goes through the same checks as live traffic.
func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("seed", "prod", "info")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New("seed", cfg.Env, cfg.LogLevel)
	logger.Info().Msg("seed starting")

	if cfg.StorageDriver != config.StoragePostgres {
		logger.Fatal().Msg("seed needs STORAGE_DRIVER=postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	svc := appointment.NewService(appointment.NewPgRepository(pool), lock.NewLocalLocker(cfg.LockWait), cfg,
		appointment.WithLogger(logger.Level(zerolog.WarnLevel)))
	if err := svc.Hydrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("load active appointments")
	}

	vets := getInt("SEED_VETERINARIANS", 12)
	clients := getInt("SEED_CLIENTS", 400)
	perVet := getInt("SEED_APPOINTMENTS_PER_VET", 60)

	booked, conflicts, err := seedAppointments(ctx, svc, vets, clients, perVet)
	if err != nil {
		logger.Fatal().Err(err).Int("booked", booked).Msg("seed appointments")
	}

	logger.Info().Int("booked", booked).Int("conflicts", conflicts).Msg("seed complete")
}

type household struct {
	client uuid.UUID
	pets   []uuid.UUID
}

func seedAppointments(ctx context.Context, svc *appointment.Service, vets, clients, perVet int) (booked, conflicts int, err error) {
	households := make([]household, clients)
	for i := range households {
		h := household{client: uuid.New()}
		for n := gofakeit.Number(1, 3); n > 0; n-- {
			h.pets = append(h.pets, uuid.New())
		}
		households[i] = h
	}

	opening := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 1).Add(8 * time.Hour)

	for v := 0; v < vets; v++ {
		vetID := uuid.New()
		for i := 0; i < perVet; i++ {
			h := households[gofakeit.Number(0, len(households)-1)]
			day := opening.AddDate(0, 0, gofakeit.Number(0, 6))
			start := day.Add(time.Duration(gofakeit.Number(0, 39)) * 15 * time.Minute)
			length := slotLengths[gofakeit.Number(0, len(slotLengths)-1)]

			_, err := svc.Book(ctx, appointment.BookRequest{
				ClientRef:      h.client,
				PetRef:         h.pets[gofakeit.Number(0, len(h.pets)-1)],
				VeterinarianID: vetID,
				Interval:       appointment.NewInterval(start, length),
				Reason:         gofakeit.RandomString(visitReasons),
				Notes:          "Pet name: " + gofakeit.PetName(),
			})
			switch {
			case err == nil:
				booked++
			case errors.Is(err, appointment.ErrConflict):
				conflicts++
			default:
				return booked, conflicts, err
			}
		}
	}
	return booked, conflicts, nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
