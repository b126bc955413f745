package orchestrator

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/crucible/internal/bus"
)

type fakeHandle struct {
	mu      sync.Mutex
	alive   bool
	pid     int
	starts  int
	exited  chan error
	startFn func() error
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{exited: make(chan error, 1)}
}

func (f *fakeHandle) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startFn != nil {
		if err := f.startFn(); err != nil {
			return err
		}
	}
	f.alive = true
	f.pid = 4242
	return nil
}

func (f *fakeHandle) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeHandle) Stop(time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
	return nil
}

func (f *fakeHandle) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeHandle) Pid() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pid
}

func (f *fakeHandle) Exited() <-chan error { return f.exited }

func (f *fakeHandle) kill() {
	f.mu.Lock()
	f.alive = false
	f.mu.Unlock()
}

func withFakeHandles(t *testing.T, handles *sync.Map) {
	t.Helper()
	orig := newHandle
	newHandle = func(spec ServiceSpec) ServiceHandle {
		h := newFakeHandle()
		handles.Store(spec.Name, h)
		return h
	}
	t.Cleanup(func() { newHandle = orig })
}

func runOrchestrator(t *testing.T, o *Orchestrator) {
	t.Helper()
	go o.Run()
	t.Cleanup(o.Shutdown)
}

func TestRegisterStartStop(t *testing.T) {
	var handles sync.Map
	withFakeHandles(t, &handles)

	o := New(time.Hour)
	runOrchestrator(t, o)

	if err := o.Register(ServiceSpec{Name: "svc-a"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := o.Start("svc-a"); err != nil {
		t.Fatalf("start: %v", err)
	}

	services := o.GetServices()
	if len(services) != 1 || services[0].Status != HealthHealthy {
		t.Fatalf("expected 1 healthy service, got %+v", services)
	}

	if err := o.Stop("svc-a"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	m, err := o.GetMetrics("svc-a")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	if m.Status != HealthStopped {
		t.Fatalf("expected stopped status, got %s", m.Status)
	}
}

func TestDependencyGating(t *testing.T) {
	var handles sync.Map
	withFakeHandles(t, &handles)

	o := New(time.Hour)
	runOrchestrator(t, o)

	_ = o.Register(ServiceSpec{Name: "base"})
	_ = o.Register(ServiceSpec{Name: "dependent", Dependencies: []string{"base"}})

	if err := o.Start("dependent"); err == nil {
		t.Fatal("expected dependency gate to reject starting dependent before base is healthy")
	}

	if err := o.Start("base"); err != nil {
		t.Fatalf("start base: %v", err)
	}
	if err := o.Start("dependent"); err != nil {
		t.Fatalf("expected dependent to start once base is healthy: %v", err)
	}
}

func TestDuplicateRegisterRejected(t *testing.T) {
	var handles sync.Map
	withFakeHandles(t, &handles)

	o := New(time.Hour)
	runOrchestrator(t, o)

	_ = o.Register(ServiceSpec{Name: "svc"})
	if err := o.Register(ServiceSpec{Name: "svc"}); err == nil {
		t.Fatal("expected error registering the same service name twice")
	}
}

func TestHealthCheckRestartsOnFailure(t *testing.T) {
	var handles sync.Map
	withFakeHandles(t, &handles)

	o := New(30 * time.Millisecond)
	runOrchestrator(t, o)

	_ = o.Register(ServiceSpec{Name: "flaky", RestartPolicy: RestartOnFailure})
	_ = o.Start("flaky")

	v, ok := handles.Load("flaky")
	if !ok {
		t.Fatal("expected fake handle to be recorded")
	}
	h := v.(*fakeHandle)
	h.kill()

	deadline := time.Now().Add(2 * time.Second)
	var restarted int32
	for time.Now().Before(deadline) {
		m, err := o.GetMetrics("flaky")
		if err == nil && m.RestartCount > 0 {
			atomic.StoreInt32(&restarted, 1)
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&restarted) == 0 {
		t.Fatal("expected health check loop to restart the failed service")
	}
}

func TestUnregisterUnknownService(t *testing.T) {
	var handles sync.Map
	withFakeHandles(t, &handles)

	o := New(time.Hour)
	runOrchestrator(t, o)

	if err := o.Unregister("nope"); err == nil {
		t.Fatal("expected error unregistering an unknown service")
	}
}

func TestStartAlreadyStartedRejected(t *testing.T) {
	var handles sync.Map
	withFakeHandles(t, &handles)

	o := New(time.Hour)
	runOrchestrator(t, o)

	_ = o.Register(ServiceSpec{Name: "svc"})
	if err := o.Start("svc"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := o.Start("svc"); err == nil {
		t.Fatal("expected second start of an already-healthy service to be rejected")
	}

	v, ok := handles.Load("svc")
	if !ok {
		t.Fatal("expected fake handle to be recorded")
	}
	if v.(*fakeHandle).startCount() != 1 {
		t.Fatalf("expected exactly one process spawn, got %d", v.(*fakeHandle).startCount())
	}
}

func TestHealthTransitionPublishesBusEvent(t *testing.T) {
	var handles sync.Map
	withFakeHandles(t, &handles)

	var mu sync.Mutex
	var published []bus.DaemonEvent
	o := New(20*time.Millisecond, WithPublisher(func(e bus.DaemonEvent) {
		mu.Lock()
		published = append(published, e)
		mu.Unlock()
	}))
	runOrchestrator(t, o)

	_ = o.Register(ServiceSpec{Name: "flaky"})
	_ = o.Start("flaky")

	v, ok := handles.Load("flaky")
	if !ok {
		t.Fatal("expected fake handle to be recorded")
	}
	v.(*fakeHandle).kill()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(published)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(published) == 0 {
		t.Fatal("expected a HealthChanged event to be published on the bus for the failure transition")
	}
	if published[0].Kind != bus.KindService {
		t.Fatalf("expected KindService event, got %s", published[0].Kind)
	}
}
