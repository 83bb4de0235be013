package idp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is the supervisor's view of the provider process.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateCrashed:
		return "crashed"
	}
	return "unknown"
}

// Status is a point-in-time snapshot for health and admin endpoints.
type Status struct {
	State     string     `json:"state"`
	PID       int        `json:"pid,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type process struct {
	cmd       *exec.Cmd
	startedAt time.Time
	stopping  atomic.Bool
	done      chan struct{}
	err       error
}

type restartResult struct {
	ticket uint64
	err    error
}

// Supervisor owns the provider child process. Start, Stop and Restart are
// serialized on one lifecycle mutex; State and IsRunning never block on it.
type Supervisor struct {
	settings Settings
	source   ConfigSource
	builder  *ConfigBuilder
	log      zerolog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	probe    *http.Client

	state atomic.Int32

	mu        sync.Mutex
	proc      *process
	requests  atomic.Uint64
	lastServe restartResult

	statusMu  sync.Mutex
	pid       int
	startedAt time.Time
	lastErr   error

	background sync.WaitGroup
}

// NewSupervisor returns a stopped supervisor. metrics may be nil.
func NewSupervisor(settings Settings, source ConfigSource, logger zerolog.Logger, metrics *Metrics) *Supervisor {
	return &Supervisor{
		settings: settings,
		source:   source,
		builder:  NewConfigBuilder(settings),
		log:      logger.With().Str("component", "idp").Logger(),
		metrics:  metrics,
		tracer:   otel.Tracer("github.com/lirancohen/workhub/internal/idp"),
		probe:    &http.Client{Timeout: 2 * time.Second},
	}
}

// State returns the current state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// IsRunning reports whether the provider is serving.
func (s *Supervisor) IsRunning() bool { return s.State() == StateRunning }

// Settings returns the static settings.
func (s *Supervisor) Settings() Settings { return s.settings }

// Status returns state, pid, start time and the last lifecycle error.
func (s *Supervisor) Status() Status {
	st := Status{State: s.State().String()}
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if s.pid != 0 {
		st.PID = s.pid
		started := s.startedAt
		st.StartedAt = &started
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
	s.metrics.setState(st)
}

func (s *Supervisor) recordProcess(p *process) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if p == nil {
		s.pid, s.startedAt = 0, time.Time{}
		return
	}
	s.pid, s.startedAt = p.cmd.Process.Pid, p.startedAt
}

func (s *Supervisor) recordErr(err error) {
	s.statusMu.Lock()
	s.lastErr = err
	s.statusMu.Unlock()
}

// Start builds the config, spawns the provider and waits until it answers
// its health check. On any failure nothing is left running.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "idp.Start")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.startLocked(ctx)
	if err != nil && !errors.Is(err, ErrAlreadyRunning) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
	}
	return err
}

func (s *Supervisor) startLocked(ctx context.Context) error {
	if s.proc != nil {
		select {
		case <-s.proc.done:
			// Crashed; the monitor has not cleared it yet.
			s.proc = nil
			s.recordProcess(nil)
		default:
			return ErrAlreadyRunning
		}
	}
	s.setState(StateStarting)

	err := s.launch(ctx)
	s.recordErr(err)
	if err != nil {
		s.metrics.startFailed()
		s.setState(StateStopped)
		s.log.Error().Err(err).Msg("identity provider failed to start")
		return err
	}
	s.setState(StateRunning)
	s.log.Info().Int("pid", s.proc.cmd.Process.Pid).Str("issuer", s.settings.Issuer()).Msg("identity provider running")
	return nil
}

func (s *Supervisor) launch(ctx context.Context) error {
	cfg, err := s.source.EnabledSSOConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load SSO configuration: %w", err)
	}
	path, err := s.builder.WriteFile(cfg)
	if err != nil {
		return err
	}
	if err := portFree(s.settings.ListenAddr()); err != nil {
		return err
	}

	p, err := s.spawn(path)
	if err != nil {
		return err
	}
	s.proc = p
	s.recordProcess(p)

	if err := s.waitReady(ctx, p); err != nil {
		s.terminate(ctx, p)
		s.proc = nil
		s.recordProcess(nil)
		return fmt.Errorf("identity provider not ready: %w", err)
	}
	return nil
}

func portFree(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPortInUse, addr, err)
	}
	return ln.Close()
}

func (s *Supervisor) spawn(configPath string) (*process, error) {
	args := append(append([]string{}, s.settings.Args...), "serve", configPath)
	cmd := exec.Command(s.settings.BinaryPath, args...)
	cmd.Dir = s.settings.DataDir
	cmd.Stdout = s.processOutput("stdout")
	cmd.Stderr = s.processOutput("stderr")
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn %s: %w", s.settings.BinaryPath, err)
	}
	p := &process{cmd: cmd, startedAt: time.Now(), done: make(chan struct{})}
	go s.monitor(p)
	s.log.Debug().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("identity provider spawned")
	return p, nil
}

func (s *Supervisor) processOutput(stream string) io.Writer {
	return s.log.With().Str("stream", stream).Logger()
}

// monitor reaps the process. An exit nobody asked for moves a running
// supervisor to Crashed and then Stopped; there is no automatic restart.
func (s *Supervisor) monitor(p *process) {
	p.err = p.cmd.Wait()
	close(p.done)

	if p.stopping.Load() {
		return
	}
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateCrashed)) {
		return
	}
	s.metrics.setState(StateCrashed)
	s.metrics.crashed()
	crashErr := fmt.Errorf("identity provider exited unexpectedly: %v", p.err)
	s.recordErr(crashErr)
	s.log.Error().Err(p.err).Int("pid", p.cmd.Process.Pid).Msg("identity provider exited unexpectedly")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == p {
		s.proc = nil
		s.recordProcess(nil)
		s.setState(StateStopped)
	}
}

func (s *Supervisor) waitReady(ctx context.Context, p *process) error {
	url := s.settings.UpstreamURL() + s.settings.PathPrefix + "/healthz"
	deadline := time.NewTimer(s.settings.ReadinessTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		if s.healthy(ctx, url) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return fmt.Errorf("process exited during startup: %v", p.err)
		case <-deadline.C:
			return fmt.Errorf("no healthy response from %s within %s", url, s.settings.ReadinessTimeout)
		case <-tick.C:
		}
	}
}

func (s *Supervisor) healthy(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.probe.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Stop terminates the process group: SIGTERM, then SIGKILL after the grace
// period or when ctx ends. It returns once the process has exited.
func (s *Supervisor) Stop(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "idp.Stop")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
	return nil
}

func (s *Supervisor) stopLocked(ctx context.Context) {
	p := s.proc
	if p == nil {
		s.setState(StateStopped)
		return
	}
	s.setState(StateStopping)
	s.terminate(ctx, p)
	s.proc = nil
	s.recordProcess(nil)
	s.setState(StateStopped)
	s.log.Info().Int("pid", p.cmd.Process.Pid).Msg("identity provider stopped")
}

func (s *Supervisor) terminate(ctx context.Context, p *process) {
	p.stopping.Store(true)
	if err := terminateGroup(p.cmd); err != nil {
		s.log.Warn().Err(err).Msg("failed to signal identity provider")
	}

	grace := time.NewTimer(s.settings.StopGracePeriod)
	defer grace.Stop()
	select {
	case <-p.done:
		return
	case <-grace.C:
		s.log.Warn().Dur("grace", s.settings.StopGracePeriod).Msg("identity provider ignored SIGTERM, killing")
	case <-ctx.Done():
	}
	if err := killGroup(p.cmd); err != nil {
		s.log.Warn().Err(err).Msg("failed to kill identity provider")
	}
	<-p.done
}

// Restart stops and starts the provider as one critical section so it
// picks up the latest SSO configuration. A caller whose request was already
// pending when another restart began shares that restart's result.
func (s *Supervisor) Restart(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "idp.Restart")
	defer span.End()

	ticket := s.requests.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastServe.ticket >= ticket {
		span.AddEvent("coalesced")
		return s.lastServe.err
	}
	covered := s.requests.Load()

	s.stopLocked(ctx)
	err := s.startLocked(ctx)
	s.lastServe = restartResult{ticket: covered, err: err}
	s.metrics.restarted()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "restart failed")
	}
	return err
}

// RestartInBackground restarts without waiting. Failures are logged only.
func (s *Supervisor) RestartInBackground(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := s.Restart(ctx); err != nil {
			s.log.Error().Err(err).Msg("background restart failed")
		}
	}()
}

// StartInBackground starts without waiting. Failures are logged only.
func (s *Supervisor) StartInBackground(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := s.Start(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			s.log.Error().Err(err).Msg("background start failed")
		}
	}()
}

// Wait blocks until background lifecycle calls have returned.
func (s *Supervisor) Wait() {
	s.background.Wait()
}
