package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-appointment-scheduling/internal/api"
	"github.com/hackgods/vet-appointment-scheduling/internal/logging"
)

// Hammers a running api-server with overlapping bookings for a handful of
// veterinarians, then checks that no veterinarian ended up double booked.

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	Veterinarians   int
	BookingRatio    float64
	RescheduleRatio float64
	CancelRatio     float64
	ReadRatio       float64
}

type DataPool struct {
	Veterinarians []uuid.UUID
	Day           time.Time

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

// RandomInterval picks a 15 to 60 minute visit on a quarter hour of the
// simulated working day.
func (dp *DataPool) RandomInterval(rng *rand.Rand) (time.Time, time.Time) {
	start := dp.Day.Add(time.Duration(rng.Intn(36)) * 15 * time.Minute)
	return start, start.Add(time.Duration(1+rng.Intn(4)) * 15 * time.Minute)
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min95(len(latencies))]
	return avg, min, max, p50, p95
}

func min95(n int) int {
	i := n * 95 / 100
	if i >= n {
		i = n - 1
	}
	return i
}

type Metrics struct {
	Booking    OperationMetrics
	Reschedule OperationMetrics
	Cancel     OperationMetrics
	Agenda     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	logger := logging.New("simulate", getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("veterinarians", cfg.Veterinarians).
		Msg("simulator starting")

	pool := &DataPool{Day: time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 1).Add(8 * time.Hour)}
	for i := 0; i < cfg.Veterinarians; i++ {
		pool.Veterinarians = append(pool.Veterinarians, uuid.New())
	}

	sim := &Simulator{
		config: cfg,
		pool:   pool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	sim.Run()
	sim.PrintReport()

	if violations := sim.Verify(context.Background()); violations > 0 {
		logger.Fatal().Int("violations", violations).Msg("double bookings detected")
	}
	logger.Info().Msg("no double bookings detected")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		Veterinarians:   getInt("SIM_VETERINARIANS", 3),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.2),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.2),
	}

	total := cfg.BookingRatio + cfg.RescheduleRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.RescheduleRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Veterinarians <= 0 {
		return fmt.Errorf("SIM_VETERINARIANS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.RescheduleRatio:
			s.doReschedule(ctx, rng)
		case r < s.config.BookingRatio+s.config.RescheduleRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			s.doAgenda(ctx, rng)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	start, end := s.pool.RandomInterval(rng)
	body := api.BookAppointmentRequest{
		ClientRef:      uuid.NewString(),
		PetRef:         uuid.NewString(),
		VeterinarianID: s.pool.Veterinarians[rng.Intn(len(s.pool.Veterinarians))].String(),
		Start:          start,
		End:            end,
		Reason:         "Simulated visit",
	}

	var resp api.AppointmentResponse
	status, latency, err := s.do(ctx, http.MethodPost, "/appointments", body, &resp)
	if err == nil && status == http.StatusCreated {
		s.pool.AddAppointment(resp.ID)
	}
	s.metrics.Booking.Record(latency, status, err)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	start, end := s.pool.RandomInterval(rng)
	body := api.RescheduleAppointmentRequest{Start: &start, End: &end}
	if rng.Intn(2) == 0 {
		vet := s.pool.Veterinarians[rng.Intn(len(s.pool.Veterinarians))].String()
		body.VeterinarianID = &vet
	}

	status, latency, err := s.do(ctx, http.MethodPost, "/appointments/"+id.String()+"/reschedule", body, nil)
	s.metrics.Reschedule.Record(latency, status, err)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	status, latency, err := s.do(ctx, http.MethodPost, "/appointments/"+id.String()+"/cancel",
		api.CancelAppointmentRequest{Reason: "Simulated cancellation"}, nil)
	s.metrics.Cancel.Record(latency, status, err)
}

func (s *Simulator) doAgenda(ctx context.Context, rng *rand.Rand) {
	vet := s.pool.Veterinarians[rng.Intn(len(s.pool.Veterinarians))]
	status, latency, err := s.do(ctx, http.MethodGet, s.agendaPath(vet), nil, nil)
	s.metrics.Agenda.Record(latency, status, err)
}

func (s *Simulator) agendaPath(vet uuid.UUID) string {
	return fmt.Sprintf("/veterinarians/%s/agenda?day=%s", vet, s.pool.Day.Format("2006-01-02"))
}

// Verify reads every veterinarian's agenda and counts overlapping pairs of
// active appointments.
func (s *Simulator) Verify(ctx context.Context) int {
	violations := 0
	for _, vet := range s.pool.Veterinarians {
		var agenda api.AppointmentListResponse
		status, _, err := s.do(ctx, http.MethodGet, s.agendaPath(vet), nil, &agenda)
		if err != nil || status != http.StatusOK {
			s.log.Error().Err(err).Int("status", status).Str("veterinarian_id", vet.String()).Msg("agenda read failed")
			violations++
			continue
		}

		var active []api.AppointmentResponse
		for _, a := range agenda.Items {
			if a.Status == "scheduled" || a.Status == "in_progress" {
				active = append(active, a)
			}
		}
		for i := range active {
			for j := i + 1; j < len(active); j++ {
				if active[i].Start.Before(active[j].End) && active[j].Start.Before(active[i].End) {
					s.log.Error().
						Str("veterinarian_id", vet.String()).
						Str("first", active[i].ID.String()).
						Str("second", active[j].ID.String()).
						Msg("overlapping active appointments")
					violations++
				}
			}
		}
	}
	return violations
}

func (s *Simulator) do(ctx context.Context, method, path string, in, out any) (int, time.Duration, error) {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return 0, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &body)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, err
		}
	}
	return resp.StatusCode, latency, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Veterinarians: %d\n", s.config.Veterinarians)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Agenda", &s.metrics.Agenda)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
