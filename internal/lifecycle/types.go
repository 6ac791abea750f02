package lifecycle

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultContainerName = "ecommerce-app"
	DefaultRestartPolicy = "always"
	DefaultHealthPath    = "/"
	DefaultHealthMarker  = "ecommerce"
	DefaultProbeHost     = "127.0.0.1"
)

// Container labels stamped on every container the coordinator launches.
const (
	LabelAttempt  = "deployd.attempt"
	LabelTarget   = "deployd.target"
	LabelArtifact = "deployd.artifact"
)

// PortBinding publishes ContainerPort on HostPort.
type PortBinding struct {
	HostPort      uint16
	ContainerPort uint16
	Protocol      string
}

func (p PortBinding) String() string {
	proto := p.Protocol
	if proto == "" {
		proto = "tcp"
	}
	return fmt.Sprintf("%d:%d/%s", p.HostPort, p.ContainerPort, proto)
}

// ServiceDefinition describes the single long-lived container a target runs
// and how to decide it is serving.
type ServiceDefinition struct {
	ContainerName string
	Port          PortBinding
	RestartPolicy string
	Env           map[string]string
	Labels        map[string]string
	HealthPath    string
	HealthMarker  string
	ProbeHost     string
}

// DefaultService is the product-catalog service: port 80 with restart=always.
func DefaultService() ServiceDefinition {
	return ServiceDefinition{
		ContainerName: DefaultContainerName,
		Port:          PortBinding{HostPort: 80, ContainerPort: 80, Protocol: "tcp"},
		RestartPolicy: DefaultRestartPolicy,
		HealthPath:    DefaultHealthPath,
		HealthMarker:  DefaultHealthMarker,
		ProbeHost:     DefaultProbeHost,
	}
}

func (s ServiceDefinition) Validate() error {
	var problems []string
	if strings.TrimSpace(s.ContainerName) == "" {
		problems = append(problems, "container name is required")
	}
	if s.Port.HostPort == 0 || s.Port.ContainerPort == 0 {
		problems = append(problems, "host and container port are required")
	}
	switch strings.ToLower(s.Port.Protocol) {
	case "", "tcp", "udp":
	default:
		problems = append(problems, fmt.Sprintf("unsupported port protocol %q", s.Port.Protocol))
	}
	if strings.TrimSpace(s.RestartPolicy) == "" || s.RestartPolicy == "no" {
		problems = append(problems, "an automatic restart policy is required")
	}
	if !strings.HasPrefix(s.HealthPath, "/") {
		problems = append(problems, "health path must start with /")
	}
	if strings.TrimSpace(s.HealthMarker) == "" {
		problems = append(problems, "health marker is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid service definition: %s", strings.Join(problems, "; "))
	}
	return nil
}

// HealthURL is the probe URL on host, falling back to ProbeHost.
func (s ServiceDefinition) HealthURL(host string) string {
	if strings.TrimSpace(host) == "" {
		host = s.ProbeHost
	}
	if strings.TrimSpace(host) == "" {
		host = DefaultProbeHost
	}
	addr := net.JoinHostPort(host, strconv.Itoa(int(s.Port.HostPort)))
	return "http://" + addr + s.HealthPath
}

// Request asks for one deployment of Artifact onto TargetID.
type Request struct {
	TargetID string
	Artifact ArtifactRef
	// Previous overrides rollback target discovery when set.
	Previous *ArtifactRef
	// Events receives progress without blocking the attempt. May be nil.
	Events chan<- ProgressEvent
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.TargetID) == "" {
		return fmt.Errorf("%w: target id is required", ErrInvalidRequest)
	}
	if r.Artifact.IsZero() {
		return fmt.Errorf("%w: artifact reference is required", ErrInvalidRequest)
	}
	if r.Artifact.Tag == "" && r.Artifact.Digest == "" {
		return fmt.Errorf("%w: artifact %q needs a tag or digest", ErrInvalidRequest, r.Artifact.Repository)
	}
	return nil
}

// PhaseRecord is one entry of an attempt's phase log.
type PhaseRecord struct {
	Phase    Phase         `json:"phase"`
	Result   PhaseResult   `json:"result"`
	Artifact ArtifactRef   `json:"artifact"`
	Rollback bool          `json:"rollback,omitempty"`
	Tries    int           `json:"tries,omitempty"`
	Duration time.Duration `json:"duration"`
	Message  string        `json:"message,omitempty"`
}

// Attempt is one execution of the lifecycle against one target.
// It is immutable once Outcome is terminal.
type Attempt struct {
	ID            string        `json:"id"`
	TargetID      string        `json:"target_id"`
	ContainerName string        `json:"container_name"`
	Artifact      ArtifactRef   `json:"artifact"`
	Previous      *ArtifactRef  `json:"previous,omitempty"`
	Phase         Phase         `json:"phase"`
	Outcome       Outcome       `json:"outcome"`
	FailedPhase   Phase         `json:"failed_phase,omitempty"`
	ErrorKind     ErrorKind     `json:"error_kind,omitempty"`
	Message       string        `json:"message,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	Log           []PhaseRecord `json:"log"`
}

func (a Attempt) Clone() Attempt {
	out := a
	if a.Previous != nil {
		prev := *a.Previous
		out.Previous = &prev
	}
	out.Log = append([]PhaseRecord(nil), a.Log...)
	return out
}

func (a Attempt) IsTerminal() bool {
	return a.Outcome.IsTerminal()
}

// ServingArtifact is what the target runs after a terminal attempt, if known.
func (a Attempt) ServingArtifact() (ArtifactRef, bool) {
	switch a.Outcome {
	case OutcomeSucceeded:
		return a.Artifact, true
	case OutcomeRolledBack:
		if a.Previous != nil {
			return *a.Previous, true
		}
	}
	return ArtifactRef{}, false
}

// Err rebuilds the terminal error of a finished attempt. Nil on success.
func (a Attempt) Err() error {
	if !a.IsTerminal() || a.Outcome == OutcomeSucceeded {
		return nil
	}
	return &Error{
		AttemptID: a.ID,
		Kind:      a.ErrorKind,
		Phase:     a.FailedPhase,
		Message:   a.Message,
	}
}

// RollbackEntries counts phase log entries produced by the rollback path.
func (a Attempt) RollbackEntries() int {
	n := 0
	for _, rec := range a.Log {
		if rec.Rollback {
			n++
		}
	}
	return n
}

// ContainerState is what the runtime reports for a named container.
type ContainerState struct {
	Name     string
	Image    string
	Status   string
	Running  bool
	ExitCode int
}

// ActionResult reports whether a stop or remove acted on a container.
type ActionResult uint8

const (
	ActionApplied ActionResult = iota + 1
	ActionAbsent
)

func (r ActionResult) String() string {
	switch r {
	case ActionApplied:
		return "applied"
	case ActionAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// ImageHandle is a resolved, locally available artifact.
type ImageHandle struct {
	Ref  ArtifactRef
	ID   string
	Size int64
}

// RunSpec is everything the runtime needs to launch the service container.
type RunSpec struct {
	Name          string
	Image         ImageHandle
	Port          PortBinding
	RestartPolicy string
	Env           map[string]string
	Labels        map[string]string
}

// ProbeResult is one answer from the health oracle.
type ProbeResult struct {
	Status  int
	Body    string
	Latency time.Duration
}

// Progress event types.
const (
	EventAttemptStarted  = "attempt_started"
	EventPhaseStarted    = "phase_started"
	EventPhaseFinished   = "phase_finished"
	EventRollbackStarted = "rollback_started"
	EventAttemptFinished = "attempt_finished"
)

type ProgressEvent struct {
	Type      string
	AttemptID string
	TargetID  string
	Phase     Phase
	Rollback  bool
	Result    PhaseResult
	Outcome   Outcome
	Message   string
}

// Result is one entry of a DeployMany fan-out, in request order.
type Result struct {
	Index   int
	Attempt Attempt
	Err     error
}
