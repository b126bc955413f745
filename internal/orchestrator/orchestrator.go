package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/crucible/internal/bus"
	"github.com/vinayprograms/crucible/internal/crucibleerr"
	"github.com/vinayprograms/crucible/internal/logging"
	"github.com/vinayprograms/crucible/internal/tracing"
)

func bgCtx() context.Context { return context.Background() }

// commandKind discriminates the orchestrator's mailbox command set
// (§4.D.1).
type commandKind string

const (
	cmdRegister    commandKind = "register"
	cmdUnregister  commandKind = "unregister"
	cmdStart       commandKind = "start"
	cmdStop        commandKind = "stop"
	cmdGetServices commandKind = "get_services"
	cmdGetMetrics  commandKind = "get_metrics"
	cmdHealthCheck commandKind = "health_check"
)

// command is one mailbox message: every orchestrator state change funnels
// through this single channel, processed one at a time by Run(), so no
// additional locking is needed around serviceRecord bookkeeping.
type command struct {
	kind    commandKind
	spec    ServiceSpec
	name    string
	reply   chan commandResult
}

type commandResult struct {
	err      error
	services []ServiceMetrics
}

// newHandle constructs a ServiceHandle for spec. Overridable in tests so
// they don't need to spawn real subprocesses.
var newHandle = func(spec ServiceSpec) ServiceHandle { return newProcessHandle(spec) }

// Orchestrator supervises a set of named services: starting them once
// their declared dependencies are Healthy, restarting them per their
// RestartPolicy on exit, and periodically probing health.
//
// Grounded on internal/checkpoint/checkpoint.go's single-map-guarded-by-
// mutex idiom, reshaped here into a single-goroutine mailbox so dependency
// gating (which inspects multiple records atomically) never needs a lock.
type Orchestrator struct {
	mailbox chan command
	records map[string]*serviceRecord // keyed by ServiceSpec.Name

	healthCheckInterval time.Duration
	logger              *logging.Logger
	publish             func(bus.DaemonEvent)

	stop chan struct{}
	done chan struct{}
}

// Option configures optional Orchestrator behavior at construction time.
type Option func(*Orchestrator)

// WithPublisher wires a bus transport's Publish method so health
// transitions are emitted as KindService DaemonEvents (§4.D.1 "a
// transition publishes a HealthChanged service event on the bus"), not
// just logged. Without it, transitions are logged only.
func WithPublisher(publish func(bus.DaemonEvent)) Option {
	return func(o *Orchestrator) { o.publish = publish }
}

// New constructs an Orchestrator. healthCheckInterval <= 0 uses the
// spec-named default of 30 seconds.
func New(healthCheckInterval time.Duration, opts ...Option) *Orchestrator {
	if healthCheckInterval <= 0 {
		healthCheckInterval = defaultHealthCheckInterval
	}
	o := &Orchestrator{
		mailbox:             make(chan command),
		records:             map[string]*serviceRecord{},
		healthCheckInterval: healthCheckInterval,
		logger:              logging.Default.WithComponent("orchestrator"),
		stop:                make(chan struct{}),
		done:                make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// publishHealthChanged emits a KindService HealthChanged event for a
// service's status transition if a publisher was wired via WithPublisher.
func (o *Orchestrator) publishHealthChanged(serviceID, name, from, to string) {
	if o.publish == nil {
		return
	}
	o.publish(bus.New(bus.KindService, bus.Source{ID: serviceID, Name: name}, bus.PriorityNormal, map[string]interface{}{
		"type":       "health_changed",
		"service_id": serviceID,
		"from":       from,
		"to":         to,
	}))
}

const defaultHealthCheckInterval = 30 * time.Second

// Run starts the orchestrator's mailbox-processing loop and health-check
// ticker. It blocks until Shutdown is called; run it in its own goroutine.
func (o *Orchestrator) Run() {
	defer close(o.done)

	ticker := time.NewTicker(o.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-o.mailbox:
			o.handle(cmd)
		case <-ticker.C:
			o.runHealthChecks()
		case <-o.stop:
			o.stopAll()
			return
		}
	}
}

// Shutdown stops every managed service and terminates the mailbox loop.
func (o *Orchestrator) Shutdown() {
	close(o.stop)
	<-o.done
}

func (o *Orchestrator) send(cmd command) commandResult {
	cmd.reply = make(chan commandResult, 1)
	o.mailbox <- cmd
	return <-cmd.reply
}

// Register adds spec to the managed set without starting it.
func (o *Orchestrator) Register(spec ServiceSpec) error {
	res := o.send(command{kind: cmdRegister, spec: spec})
	return res.err
}

// Unregister stops (if running) and forgets a service by name.
func (o *Orchestrator) Unregister(name string) error {
	res := o.send(command{kind: cmdUnregister, name: name})
	return res.err
}

// Start launches a registered service, refusing if any declared dependency
// is not yet Healthy (§4.D.1 "dependency gating by service name").
func (o *Orchestrator) Start(name string) error {
	res := o.send(command{kind: cmdStart, name: name})
	return res.err
}

// Stop gracefully stops a running service.
func (o *Orchestrator) Stop(name string) error {
	res := o.send(command{kind: cmdStop, name: name})
	return res.err
}

// GetServices returns a metrics snapshot of every registered service.
func (o *Orchestrator) GetServices() []ServiceMetrics {
	res := o.send(command{kind: cmdGetServices})
	return res.services
}

// GetMetrics returns the metrics snapshot for a single named service.
func (o *Orchestrator) GetMetrics(name string) (ServiceMetrics, error) {
	res := o.send(command{kind: cmdGetMetrics, name: name})
	if res.err != nil {
		return ServiceMetrics{}, res.err
	}
	if len(res.services) == 0 {
		return ServiceMetrics{}, crucibleerr.New(crucibleerr.NotFound, "service not found: "+name)
	}
	return res.services[0], nil
}

func (o *Orchestrator) handle(cmd command) {
	_, span := tracing.StartOrchestratorCommand(bgCtx(), string(cmd.kind), cmd.name)
	defer tracing.EndSpan(span, nil)

	switch cmd.kind {
	case cmdRegister:
		o.handleRegister(cmd)
	case cmdUnregister:
		o.handleUnregister(cmd)
	case cmdStart:
		o.handleStart(cmd)
	case cmdStop:
		o.handleStop(cmd)
	case cmdGetServices:
		o.handleGetServices(cmd)
	case cmdGetMetrics:
		o.handleGetMetrics(cmd)
	case cmdHealthCheck:
		// Driven internally by the ticker, not a public call; no-op here.
		cmd.reply <- commandResult{}
	}
}

func (o *Orchestrator) handleRegister(cmd command) {
	if _, exists := o.records[cmd.spec.Name]; exists {
		cmd.reply <- commandResult{err: crucibleerr.New(crucibleerr.AlreadyExists, "service already registered: "+cmd.spec.Name)}
		return
	}
	o.records[cmd.spec.Name] = &serviceRecord{spec: cmd.spec, status: HealthUnknown}
	cmd.reply <- commandResult{}
}

func (o *Orchestrator) handleUnregister(cmd command) {
	rec, ok := o.records[cmd.name]
	if !ok {
		cmd.reply <- commandResult{err: crucibleerr.New(crucibleerr.NotFound, "service not found: "+cmd.name)}
		return
	}
	if rec.handle != nil && rec.handle.Alive() {
		_ = rec.handle.Stop(rec.spec.StopGracePeriod)
	}
	delete(o.records, cmd.name)
	cmd.reply <- commandResult{}
}

func (o *Orchestrator) handleStart(cmd command) {
	rec, ok := o.records[cmd.name]
	if !ok {
		cmd.reply <- commandResult{err: crucibleerr.New(crucibleerr.NotFound, "service not found: "+cmd.name)}
		return
	}

	if rec.status == HealthStarting || rec.status == HealthHealthy {
		cmd.reply <- commandResult{err: crucibleerr.New(crucibleerr.InvalidTransition,
			fmt.Sprintf("service %q is already started", cmd.name))}
		return
	}

	for _, dep := range rec.spec.Dependencies {
		depRec, ok := o.records[dep]
		if !ok || depRec.status != HealthHealthy {
			cmd.reply <- commandResult{err: crucibleerr.New(crucibleerr.InvalidTransition,
				fmt.Sprintf("service %q cannot start: dependency %q is not healthy", cmd.name, dep))}
			return
		}
	}

	if err := o.startRecord(rec); err != nil {
		cmd.reply <- commandResult{err: err}
		return
	}
	cmd.reply <- commandResult{}
}

func (o *Orchestrator) startRecord(rec *serviceRecord) error {
	rec.handle = newHandle(rec.spec)
	rec.status = HealthStarting
	if err := rec.handle.Start(); err != nil {
		rec.status = HealthFailed
		rec.lastError = err
		return crucibleerr.Wrap(crucibleerr.Internal, "start service "+rec.spec.Name, err)
	}
	rec.lastStarted = time.Now()
	rec.status = HealthHealthy
	o.logger.ServiceTransition(string(rec.spec.ID), "start", "healthy")
	return nil
}

func (o *Orchestrator) handleStop(cmd command) {
	rec, ok := o.records[cmd.name]
	if !ok {
		cmd.reply <- commandResult{err: crucibleerr.New(crucibleerr.NotFound, "service not found: "+cmd.name)}
		return
	}
	if rec.handle != nil {
		_ = rec.handle.Stop(rec.spec.StopGracePeriod)
	}
	rec.status = HealthStopped
	o.logger.ServiceTransition(string(rec.spec.ID), "stop", "stopped")
	cmd.reply <- commandResult{}
}

func (o *Orchestrator) handleGetServices(cmd command) {
	out := make([]ServiceMetrics, 0, len(o.records))
	for _, rec := range o.records {
		out = append(out, rec.metrics())
	}
	cmd.reply <- commandResult{services: out}
}

func (o *Orchestrator) handleGetMetrics(cmd command) {
	rec, ok := o.records[cmd.name]
	if !ok {
		cmd.reply <- commandResult{err: crucibleerr.New(crucibleerr.NotFound, "service not found: "+cmd.name)}
		return
	}
	cmd.reply <- commandResult{services: []ServiceMetrics{rec.metrics()}}
}

func (rec *serviceRecord) metrics() ServiceMetrics {
	pid := 0
	if rec.handle != nil {
		pid = rec.handle.Pid()
	}
	lastErr := ""
	if rec.lastError != nil {
		lastErr = rec.lastError.Error()
	}
	return ServiceMetrics{
		ID:           rec.spec.ID,
		Name:         rec.spec.Name,
		Status:       rec.status,
		Pid:          pid,
		RestartCount: rec.restartCount,
		LastStarted:  rec.lastStarted,
		LastError:    lastErr,
	}
}

// runHealthChecks probes every running service's process liveness and
// applies restart policy to any that have exited (§4.D.1 "health-check
// loop" + "restart policy ... with backoff from restart_count").
func (o *Orchestrator) runHealthChecks() {
	for name, rec := range o.records {
		if rec.handle == nil || rec.status == HealthStopped {
			continue
		}
		if rec.handle.Alive() {
			if rec.status != HealthHealthy {
				o.logger.HealthChanged(string(rec.spec.ID), string(rec.status), string(HealthHealthy))
				o.publishHealthChanged(string(rec.spec.ID), name, string(rec.status), string(HealthHealthy))
			}
			rec.status = HealthHealthy
			continue
		}

		from := rec.status
		rec.status = HealthFailed
		o.logger.HealthChanged(string(rec.spec.ID), string(from), string(HealthFailed))
		o.publishHealthChanged(string(rec.spec.ID), name, string(from), string(HealthFailed))

		if !o.shouldRestart(rec) {
			continue
		}

		backoff := restartBackoff(rec.restartCount)
		o.logger.Info("restarting service", map[string]interface{}{
			"service": name, "restart_count": rec.restartCount, "backoff_ms": backoff.Milliseconds(),
		})
		time.Sleep(backoff)
		rec.restartCount++
		_ = o.startRecord(rec)
	}
}

func (o *Orchestrator) shouldRestart(rec *serviceRecord) bool {
	if rec.spec.MaxRestarts > 0 && rec.restartCount >= rec.spec.MaxRestarts {
		return false
	}
	switch rec.spec.RestartPolicy {
	case RestartAlways, RestartOnFailure:
		return true
	default:
		return false
	}
}

// restartBackoff grows with restart_count, capped at 30s — the same
// doubling-with-cap shape as internal/routing's Exponential RetryBackoff.
func restartBackoff(restartCount int) time.Duration {
	d := time.Second
	for i := 0; i < restartCount; i++ {
		d *= 2
		if d > 30*time.Second {
			return 30 * time.Second
		}
	}
	return d
}

func (o *Orchestrator) stopAll() {
	for name, rec := range o.records {
		if rec.handle != nil && rec.handle.Alive() {
			_ = rec.handle.Stop(rec.spec.StopGracePeriod)
			o.logger.ServiceTransition(string(rec.spec.ID), "shutdown", name)
		}
	}
}
