package types

// Stream selects one of a job's captured output streams.
type Stream int

const (
	StreamStdout Stream = iota
	StreamStderr
)

// String returns the stream name used in logs and websocket frames.
func (s Stream) String() string {
	if s == StreamStderr {
		return "stderr"
	}
	return "stdout"
}

// JobPhase labels the terminal state of a job for observability.
type JobPhase string

const (
	PhaseRunning  JobPhase = "running"
	PhaseKilled   JobPhase = "killed"
	PhaseTimedOut JobPhase = "timed_out"
	PhaseExited   JobPhase = "exited"
)

// CreateJobResponse is returned after a workload is admitted and spawned.
type CreateJobResponse struct {
	ID         string `json:"id"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// StatusResponse reports whether the caller has an active job.
type StatusResponse struct {
	Active     bool   `json:"active"`
	JobID      string `json:"job_id,omitempty"`
	Starred    bool   `json:"starred"`
	TTLSeconds int64  `json:"ttl_seconds"`
	SizeLimit  int64  `json:"size_limit_bytes"`
	PortMin    uint16 `json:"port_min"`
	PortMax    uint16 `json:"port_max"`
}

// WebSocketMessage is one frame on the attach stream.
type WebSocketMessage struct {
	Type   string `json:"type"`
	Stream string `json:"stream,omitempty"`
	Data   string `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Message string   `json:"message"`
	Code    int      `json:"code,omitempty"`
	Ports   []uint16 `json:"ports,omitempty"`
	PortMin uint16   `json:"port_min,omitempty"`
	PortMax uint16   `json:"port_max,omitempty"`
}
