// Package job runs simulations on a bounded worker pool and keeps the
// per-session state that clients poll.
package job

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"heatsim/calculator"
	"heatsim/model"
)

type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateError   State = "error"
)

// Session is a snapshot of one submitted simulation. Result holds the
// reduced summary; the full field is in the archive.
type Session struct {
	ID         string             `json:"session_id"`
	State      State              `json:"state"`
	Progress   float64            `json:"progress"`
	Message    string             `json:"message"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Result     *calculator.Result `json:"result,omitempty"`
	Archive    string             `json:"archive,omitempty"`
	Error      *ErrorInfo         `json:"error,omitempty"`
}

func (s *Session) update() model.ProgressUpdate {
	return model.ProgressUpdate{
		Session:   s.ID,
		State:     string(s.State),
		Progress:  s.Progress,
		Message:   s.Message,
		UpdatedAt: s.UpdatedAt,
	}
}

type Config struct {
	Workers          int
	QueueSize        int
	RetentionDone    time.Duration
	RetentionError   time.Duration
	SweepInterval    time.Duration
	ProgressInterval time.Duration
	ShutdownTimeout  time.Duration
	SummarySamples   int
	Calculator       calculator.Options
}

func DefaultConfig() Config {
	return Config{
		Workers:          3,
		QueueSize:        64,
		RetentionDone:    time.Hour,
		RetentionError:   24 * time.Hour,
		SweepInterval:    time.Minute,
		ProgressInterval: 2 * time.Second,
		ShutdownTimeout:  30 * time.Second,
		SummarySamples:   200,
		Calculator:       calculator.DefaultOptions(),
	}
}

// Runner executes one prepared request.
type Runner func(ctx context.Context, req *model.SimulationRequest, opts calculator.Options, rep calculator.Reporter) (*calculator.Result, error)

// Archiver persists full results. *storage.Store implements it.
type Archiver interface {
	Save(id string, res *calculator.Result) (string, error)
	Delete(id string) error
}

type Option func(*Manager)

func WithRunner(r Runner) Option { return func(m *Manager) { m.run = r } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithNotifier(n Notifier) Option { return func(m *Manager) { m.notify = n } }

func WithMetrics(mt *Metrics) Option { return func(m *Manager) { m.metrics = mt } }

type task struct {
	id  string
	req *model.SimulationRequest
}

// Manager owns every session. All session fields are read and written under
// mu; results are built and archived outside it.
type Manager struct {
	cfg     Config
	archive Archiver
	run     Runner
	now     func() time.Time
	notify  Notifier
	metrics *Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	queue   chan task
	wg      sync.WaitGroup
	sweeper *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewManager(cfg Config, archive Archiver, opts ...Option) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		archive:  archive,
		run:      calculator.Simulate,
		now:      time.Now,
		notify:   nopNotifier{},
		sessions: make(map[string]*Session),
		queue:    make(chan task, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Config() Config { return m.cfg }

// Start launches the workers and the retention sweep.
func (m *Manager) Start() error {
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	if m.cfg.SweepInterval > 0 {
		m.sweeper = cron.New()
		spec := fmt.Sprintf("@every %s", m.cfg.SweepInterval)
		if _, err := m.sweeper.AddFunc(spec, func() { m.Sweep() }); err != nil {
			return fmt.Errorf("schedule sweep: %w", err)
		}
		m.sweeper.Start()
	}
	log.WithFields(log.Fields{
		"workers": m.cfg.Workers,
		"queue":   m.cfg.QueueSize,
		"sweep":   m.cfg.SweepInterval,
	}).Info("job manager started")
	return nil
}

// Submit validates req and queues it. Invalid requests return the
// validation error and create no session.
func (m *Manager) Submit(req *model.SimulationRequest) (*Session, error) {
	prepared, err := calculator.Prepare(req, m.cfg.Calculator)
	if err != nil {
		var limit *calculator.LimitError
		if errors.As(err, &limit) {
			log.WithFields(log.Fields{"abuse": true, "limit": limit.Limit, "value": limit.Value}).Warn("request exceeds limit")
			m.metrics.reject(KindLimit)
		} else {
			log.WithError(err).Warn("request rejected")
			m.metrics.reject(KindValidation)
		}
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.metrics.reject("shutdown")
		return nil, ErrShuttingDown
	}
	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		State:     StatePending,
		Message:   "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	select {
	case m.queue <- task{id: s.ID, req: prepared}:
	default:
		m.metrics.reject("queue_full")
		return nil, ErrQueueFull
	}
	m.sessions[s.ID] = s
	m.metrics.submit(len(m.queue))
	cp := *s
	return &cp, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// List returns every session, oldest first.
func (m *Manager) List() []Session {
	m.mu.Lock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for t := range m.queue {
		m.execute(t)
	}
}

func (m *Manager) execute(t task) {
	m.mu.Lock()
	s, ok := m.sessions[t.id]
	if !ok {
		m.mu.Unlock()
		return
	}
	closed := m.closed
	now := m.now()
	s.State = StateRunning
	s.Message = "starting"
	if closed {
		s.Message = "canceled: job manager is shutting down"
	}
	s.StartedAt = &now
	s.UpdatedAt = now
	up := s.update()
	m.mu.Unlock()

	m.metrics.start(len(m.queue))
	m.notify.Notify(up)
	if closed {
		// queued work drained at shutdown still passes through running
		m.finish(t.id, nil, "", ErrShuttingDown, 0)
		return
	}
	logger := log.WithField("session", t.id)
	logger.WithField("layers", len(t.req.Layers)).Info("simulation started")
	start := time.Now()

	res, err := m.safeRun(t)
	var (
		summary *calculator.Result
		path    string
	)
	if err == nil {
		if m.archive != nil {
			if path, err = m.archive.Save(t.id, res); err != nil {
				err = fmt.Errorf("save archive: %w", err)
			}
		}
		summary = res.Summary(m.cfg.SummarySamples)
	}
	elapsed := time.Since(start)
	m.finish(t.id, summary, path, err, elapsed)

	if err != nil {
		info := classify(err)
		entry := logger.WithFields(log.Fields{"kind": info.Kind, "elapsed": elapsed})
		if info.Kind == KindInternal {
			entry.WithField("stack", info.Detail).Error(info.Message)
		} else {
			entry.Warn(info.Message)
		}
		return
	}
	logger.WithFields(log.Fields{
		"nodes":   res.Nr * res.Nz,
		"steps":   res.Stats.Steps,
		"peak":    res.SourcePeakTemperature,
		"elapsed": elapsed,
	}).Info("simulation finished")
}

func (m *Manager) safeRun(t task) (res *calculator.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, &InternalError{Message: fmt.Sprint(r), Stack: string(debug.Stack())}
		}
	}()
	rep := newProgressReporter(m, t.id, m.cfg.ProgressInterval)
	return m.run(m.ctx, t.req, m.cfg.Calculator, rep)
}

func (m *Manager) setProgress(id string, percent float64, message string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.State != StateRunning {
		m.mu.Unlock()
		return
	}
	s.Progress = percent
	s.Message = message
	s.UpdatedAt = m.now()
	up := s.update()
	m.mu.Unlock()
	m.notify.Notify(up)
}

func (m *Manager) finish(id string, summary *calculator.Result, path string, err error, elapsed time.Duration) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := m.now()
	s.UpdatedAt = now
	s.FinishedAt = &now
	kind := ""
	if err != nil {
		s.State = StateError
		s.Error = classify(err)
		s.Message = s.Error.Message
		kind = s.Error.Kind
	} else {
		s.State = StateDone
		s.Progress = 100
		s.Message = "completed"
		s.Result = summary
		s.Archive = path
	}
	up := s.update()
	wasRunning := s.StartedAt != nil
	m.mu.Unlock()

	if wasRunning {
		m.metrics.finish(State(up.State), kind, elapsed.Seconds())
	}
	m.notify.Notify(up)
}

// Sweep removes finished sessions older than their retention age together
// with their archives, and returns how many were removed.
func (m *Manager) Sweep() int {
	now := m.now()
	var expired []string
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.FinishedAt == nil {
			continue
		}
		keep := m.cfg.RetentionDone
		if s.State == StateError {
			keep = m.cfg.RetentionError
		}
		if now.Sub(*s.FinishedAt) > keep {
			delete(m.sessions, id)
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		if m.archive == nil {
			continue
		}
		if err := m.archive.Delete(id); err != nil {
			log.WithError(err).WithField("session", id).Warn("delete archive")
		}
	}
	if len(expired) > 0 {
		log.WithField("sessions", len(expired)).Info("retention sweep")
	}
	m.metrics.sweep(len(expired))
	return len(expired)
}

// Shutdown refuses new work, fails queued sessions and waits for running
// ones. If ctx expires first the running simulations are cancelled and
// Shutdown returns without waiting for them.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	if m.sweeper != nil {
		<-m.sweeper.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancel()
		log.Info("job manager stopped")
		return nil
	case <-ctx.Done():
		m.cancel()
		log.Warn("job manager stopped after cancelling running simulations")
		return ctx.Err()
	}
}
