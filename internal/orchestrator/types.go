// Package orchestrator implements the Service Orchestrator (§4.D.1): a
// command-mailbox-driven lifecycle supervisor for the daemon's managed
// services (typically plugin processes), with dependency gating by
// service name and a periodic health-check loop driving restart policy.
package orchestrator

import (
	"time"

	"github.com/vinayprograms/crucible/internal/ids"
)

// HealthStatus is a service's last-observed health (§4.D.1).
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthStarting  HealthStatus = "starting"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthStopped   HealthStatus = "stopped"
	HealthFailed    HealthStatus = "failed"
)

// RestartPolicy controls whether the orchestrator relaunches a service
// after its process exits (§4.D.1).
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on_failure"
	RestartAlways    RestartPolicy = "always"
)

// ServiceSpec describes one managed service at registration time.
type ServiceSpec struct {
	ID                  ids.ServiceId
	Name                string
	Command             string
	Args                []string
	Env                 []string
	Dependencies        []string // service Names that must be Healthy before this one starts
	RestartPolicy       RestartPolicy
	HealthCheckInterval time.Duration
	StopGracePeriod     time.Duration
	MaxRestarts         int // 0 means unlimited
}

// ServiceHandle abstracts a running service's process lifecycle, letting
// the orchestrator supervise without depending on os/exec directly (a
// test double can satisfy this interface without spawning anything).
//
// Grounded on peakyragnar-subluminal's mcpstdio.UpstreamProcess: Start,
// Signal (generalized here to Stop, which applies the spec's grace period
// before escalating to Kill), and a termination signal the supervisor
// waits on.
type ServiceHandle interface {
	Start() error
	Stop(gracePeriod time.Duration) error
	Alive() bool
	Pid() int
	// Exited returns a channel closed when the underlying process exits,
	// carrying the exit error (nil on a clean exit).
	Exited() <-chan error
}

// ServiceMetrics is a point-in-time snapshot of one managed service,
// returned by the GetMetrics mailbox command (a supplemented capability;
// see SPEC_FULL.md's "Supplemented features").
type ServiceMetrics struct {
	ID           ids.ServiceId
	Name         string
	Status       HealthStatus
	Pid          int
	RestartCount int
	LastStarted  time.Time
	LastError    string
}

// serviceRecord is the orchestrator's internal bookkeeping for one
// registered service.
type serviceRecord struct {
	spec         ServiceSpec
	handle       ServiceHandle
	status       HealthStatus
	restartCount int
	lastStarted  time.Time
	lastError    error
}
