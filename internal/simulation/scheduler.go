package simulation

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"storefront-guard/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrEmptyID            = errors.New("simulation id is required")
	ErrTooManySimulations = errors.New("too many active simulations")
)

const (
	DefaultMinInterval      = time.Second
	DefaultMaxInterval      = 10 * time.Second
	DefaultMismatchInterval = 5 * time.Second
	DefaultPingTimeout      = 10 * time.Second
)

type Config struct {
	MinInterval      time.Duration
	MaxInterval      time.Duration
	MismatchInterval time.Duration
	PingTimeout      time.Duration
	// MaxActive caps concurrent simulations. Zero means unbounded.
	MaxActive int
}

// Outcome describes one ping attempt.
type Outcome struct {
	ID       string
	Mode     Mode
	Seq      int
	Waypoint Waypoint
	Result   *PingResult
	Err      error
	At       time.Time
}

// Status is a point-in-time view of a running simulation.
type Status struct {
	ID           string          `json:"id"`
	Mode         Mode            `json:"mode"`
	Amount       decimal.Decimal `json:"amount"`
	StartedAt    time.Time       `json:"startedAt"`
	Pings        int             `json:"pings"`
	Failures     int             `json:"failures"`
	LastWaypoint *Waypoint       `json:"lastWaypoint,omitempty"`
	LastPingAt   *time.Time      `json:"lastPingAt,omitempty"`
	FraudTypes   []string        `json:"fraudTypes,omitempty"`
	Speed        *float64        `json:"speed,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
}

type run struct {
	id     string
	mode   Mode
	amount decimal.Decimal
	route  []Waypoint
	cursor cursor
	cancel context.CancelFunc

	mu     sync.Mutex
	status Status
}

func (r *run) snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.status
	if s.FraudTypes != nil {
		s.FraudTypes = append([]string(nil), s.FraudTypes...)
	}
	return s
}

// Scheduler drives at most one location simulation per id. Each running
// simulation owns a goroutine that fires one ping per tick until stopped.
type Scheduler struct {
	pinger   Pinger
	cfg      Config
	clock    Clock
	logger   *zap.Logger
	observer func(Outcome)

	mu   sync.Mutex
	runs map[string]*run

	rngMu sync.Mutex
	rng   *rand.Rand
}

type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithObserver registers a callback for every ping outcome. It runs on the
// goroutine that sent the ping and may be called concurrently.
func WithObserver(fn func(Outcome)) Option {
	return func(s *Scheduler) { s.observer = fn }
}

func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = r }
}

func NewScheduler(pinger Pinger, cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if cfg.MismatchInterval <= 0 {
		cfg.MismatchInterval = DefaultMismatchInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}

	s := &Scheduler{
		pinger: pinger,
		cfg:    cfg,
		clock:  realClock{},
		logger: logger,
		runs:   make(map[string]*run),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins a simulation for id, stopping any simulation already running
// under the same id.
func (s *Scheduler) Start(id string, mode Mode, amount decimal.Decimal) error {
	if id == "" {
		return ErrEmptyID
	}
	if !mode.Valid() {
		return ErrUnknownMode
	}

	s.mu.Lock()
	if prev, ok := s.runs[id]; ok {
		prev.cancel()
		delete(s.runs, id)
		s.logger.Info("Restarting simulation", zap.String("id", id), zap.String("previous_mode", string(prev.mode)))
	}
	if s.cfg.MaxActive > 0 && len(s.runs) >= s.cfg.MaxActive {
		metrics.SimulationsActive.Set(float64(len(s.runs)))
		s.mu.Unlock()
		return ErrTooManySimulations
	}

	ctx, cancel := context.WithCancel(context.Background())
	route := Route(mode)
	r := &run{
		id:     id,
		mode:   mode,
		amount: amount,
		route:  route,
		cursor: newCursor(len(route)),
		cancel: cancel,
		status: Status{
			ID:        id,
			Mode:      mode,
			Amount:    amount,
			StartedAt: s.clock.Now(),
		},
	}
	s.runs[id] = r
	metrics.SimulationsActive.Set(float64(len(s.runs)))
	s.mu.Unlock()

	s.logger.Info("Simulation started",
		zap.String("id", id),
		zap.String("mode", string(mode)),
		zap.String("amount", amount.String()))

	go s.loop(ctx, r)
	return nil
}

// Stop cancels the simulation for id. It reports whether one was running.
// A ping already in flight may still complete.
func (s *Scheduler) Stop(id string) bool {
	s.mu.Lock()
	r, ok := s.runs[id]
	if ok {
		r.cancel()
		delete(s.runs, id)
	}
	metrics.SimulationsActive.Set(float64(len(s.runs)))
	s.mu.Unlock()

	if ok {
		s.logger.Info("Simulation stopped", zap.String("id", id))
	}
	return ok
}

// StopAll stops every simulation and returns how many were running.
func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	n := len(s.runs)
	for id, r := range s.runs {
		r.cancel()
		delete(s.runs, id)
	}
	metrics.SimulationsActive.Set(0)
	s.mu.Unlock()

	if n > 0 {
		s.logger.Info("All simulations stopped", zap.Int("count", n))
	}
	return n
}

func (s *Scheduler) IsActive(id string) bool {
	s.mu.Lock()
	_, ok := s.runs[id]
	s.mu.Unlock()
	return ok
}

// Status returns the current view of the simulation for id.
func (s *Scheduler) Status(id string) (Status, bool) {
	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()

	if !ok {
		return Status{}, false
	}
	return r.snapshot(), true
}

// Active returns the ids of all running simulations, sorted.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Strings(ids)
	return ids
}

func (s *Scheduler) loop(ctx context.Context, r *run) {
	s.reset(ctx, r)
	if ctx.Err() != nil {
		return
	}

	if r.mode == ModeGeoMismatch {
		s.registerDelivery(ctx, r)
	}

	var delay time.Duration
	for seq := 1; ; seq++ {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(delay):
		}
		// Both channels may be ready at once.
		if ctx.Err() != nil {
			return
		}

		// The next timer starts when the tick fires, so a slow backend never
		// stretches the cadence. Pings may overlap in flight.
		wp := r.route[r.cursor.next()]
		go s.emit(ctx, r, seq, wp)

		if r.mode == ModeGeoMismatch {
			delay = s.cfg.MismatchInterval
		} else {
			delay = s.nextInterval()
		}
	}
}

// requestContext detaches from the run's cancellation so a stop never aborts
// a request mid-flight.
func (s *Scheduler) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PingTimeout)
}

func (s *Scheduler) reset(ctx context.Context, r *run) {
	rctx, cancel := s.requestContext(ctx)
	defer cancel()

	ok, err := s.pinger.Reset(rctx, r.id)
	if err != nil {
		s.logger.Warn("Failed to reset device state", zap.String("id", r.id), zap.Error(err))
		return
	}
	if !ok {
		s.logger.Warn("Fraud backend declined device reset", zap.String("id", r.id))
	}
}

func (s *Scheduler) registerDelivery(ctx context.Context, r *run) {
	rctx, cancel := s.requestContext(ctx)
	defer cancel()

	err := s.pinger.SetDelivery(rctx, Delivery{
		DeviceID: r.id,
		Lat:      DeliveryPoint.Lat,
		Lon:      DeliveryPoint.Lon,
		City:     DeliveryPoint.Name,
	})
	if err != nil {
		s.logger.Warn("Failed to register delivery location", zap.String("id", r.id), zap.Error(err))
	}
}

func (s *Scheduler) emit(ctx context.Context, r *run, seq int, wp Waypoint) {
	rctx, cancel := s.requestContext(ctx)
	defer cancel()

	now := s.clock.Now()
	res, err := s.pinger.Ping(rctx, Ping{
		DeviceID:   r.id,
		UserCoords: Coordinates{Lat: wp.Lat, Lon: wp.Lon},
		Timestamp:  now.UnixMilli(),
		Amount:     r.amount.InexactFloat64(),
		OrderID:    r.id,
	})

	r.mu.Lock()
	r.status.Pings++
	r.status.LastWaypoint = &wp
	r.status.LastPingAt = &now
	if err != nil {
		r.status.Failures++
		r.status.LastError = err.Error()
	} else {
		r.status.LastError = ""
		if res != nil {
			r.status.FraudTypes = res.FraudTypes
			r.status.Speed = res.Speed
		}
	}
	r.mu.Unlock()

	if err != nil {
		metrics.SimulationPings.WithLabelValues(string(r.mode), "error").Inc()
		s.logger.Warn("Ping failed",
			zap.String("id", r.id),
			zap.Int("seq", seq),
			zap.Error(err))
	} else {
		metrics.SimulationPings.WithLabelValues(string(r.mode), "ok").Inc()
		fields := []zap.Field{
			zap.String("id", r.id),
			zap.Int("seq", seq),
			zap.Float64("lat", wp.Lat),
			zap.Float64("lon", wp.Lon),
		}
		if res != nil && len(res.FraudTypes) > 0 {
			for _, ft := range res.FraudTypes {
				metrics.FraudSignals.WithLabelValues(ft).Inc()
			}
			fields = append(fields, zap.Strings("fraud_types", res.FraudTypes))
		}
		if res != nil && res.Speed != nil {
			fields = append(fields, zap.Float64("speed", *res.Speed))
		}
		s.logger.Debug("Ping sent", fields...)
	}

	if s.observer != nil {
		s.observer(Outcome{
			ID:       r.id,
			Mode:     r.mode,
			Seq:      seq,
			Waypoint: wp,
			Result:   res,
			Err:      err,
			At:       now,
		})
	}
}

// nextInterval draws a delay uniformly from [MinInterval, MaxInterval] at
// millisecond resolution.
func (s *Scheduler) nextInterval() time.Duration {
	lo := s.cfg.MinInterval.Milliseconds()
	hi := s.cfg.MaxInterval.Milliseconds()
	if hi <= lo {
		return s.cfg.MinInterval
	}

	s.rngMu.Lock()
	n := s.rng.Int63n(hi - lo + 1)
	s.rngMu.Unlock()

	return time.Duration(lo+n) * time.Millisecond
}
