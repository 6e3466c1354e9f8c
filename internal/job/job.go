package job

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benchrunr/api/internal/apperrors"
	"github.com/benchrunr/api/internal/config"
	"github.com/benchrunr/api/internal/ports"
	"github.com/benchrunr/api/internal/types"
	"github.com/sirupsen/logrus"
)

// Manager spawns and accounts for supervised workload processes.
type Manager struct {
	config   *config.Config
	registry *ports.Registry
	logger   *logrus.Entry
	live     atomic.Int64
}

// NewManager creates a new job manager
func NewManager(cfg *config.Config, registry *ports.Registry) *Manager {
	return &Manager{
		config:   cfg,
		registry: registry,
		logger:   logrus.WithField("component", "job"),
	}
}

// Count returns the number of currently live jobs across all sessions.
// It is the basis of the global admission ceiling.
func (m *Manager) Count() int {
	return int(m.live.Load())
}

// Job is one supervised workload process plus its captured output streams,
// its reserved listen ports, and the staged artifact files it runs from.
type Job struct {
	ID string

	cmd      *exec.Cmd
	stdout   *streamReader
	stderr   *streamReader
	ports    []uint16
	staged   []string
	manager  *Manager
	logger   *logrus.Entry
	phase    atomic.Value
	reapOnce sync.Once
	done     chan struct{}
}

// Spawn launches `command run --wasmcfgfile <configPath> <wasmPath>` as a
// child process with captured stdout and stderr. The caller has already
// reserved ports under id; on spawn failure the caller keeps responsibility
// for releasing them. On success the job owns its ports, its staged files,
// and one slot of the live count until it is reaped.
func (m *Manager) Spawn(id, wasmPath, configPath string, reserved []uint16) (*Job, error) {
	cmd := exec.Command(m.config.Command, "run", "--wasmcfgfile", configPath, wasmPath)

	// Explicit pipes instead of StdoutPipe: Wait closes the pipes it
	// created, which can discard final output the readers have not drained
	// yet. These read ends belong to the stream readers alone.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, apperrors.Internal("job.spawn", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, apperrors.Internal("job.spawn", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, apperrors.Internal("job.spawn", err)
	}

	// The child holds its own copies of the write ends; dropping ours lets
	// the readers see EOF when the process exits.
	outW.Close()
	errW.Close()

	j := &Job{
		ID:      id,
		cmd:     cmd,
		stdout:  newStreamReader(outR),
		stderr:  newStreamReader(errR),
		ports:   append([]uint16(nil), reserved...),
		staged:  []string{wasmPath, configPath},
		manager: m,
		logger:  m.logger.WithField("job_id", id),
		done:    make(chan struct{}),
	}
	j.phase.Store(types.PhaseRunning)
	m.live.Add(1)

	// Reap on natural exit so ports are released even if nobody calls Kill.
	go func() {
		err := cmd.Wait()
		j.reap(types.PhaseExited)
		close(j.done)
		if err != nil {
			j.logger.WithError(err).Debug("Workload exited with error")
		}
	}()

	j.logger.WithField("pid", cmd.Process.Pid).Info("Workload started")
	return j, nil
}

// Read copies newly available bytes from the selected stream into buf,
// waiting at most the configured read timeout. A zero count with nil error
// means nothing new is available yet; it is never reported as a failure.
func (j *Job) Read(stream types.Stream, buf []byte) (int, error) {
	r := j.stdout
	if stream == types.StreamStderr {
		r = j.stderr
	}
	return r.read(buf, j.manager.config.ReadTimeout)
}

// Kill terminates the workload after an explicit delete. Idempotent.
func (j *Job) Kill() {
	j.terminate(types.PhaseKilled)
}

// KillTimedOut terminates the workload because its time-to-live elapsed.
// Idempotent, and a no-op if the job already exited.
func (j *Job) KillTimedOut() {
	j.terminate(types.PhaseTimedOut)
}

func (j *Job) terminate(phase types.JobPhase) {
	// Claim the terminal label before killing: the waiter goroutine may win
	// the race to reap once the process dies, and must not relabel a kill
	// as a natural exit.
	j.phase.CompareAndSwap(types.PhaseRunning, phase)
	// Kill before releasing ports so a dying workload never overlaps a new
	// reservation of the same port. The waiter goroutine then closes done.
	if j.cmd.Process != nil {
		_ = j.cmd.Process.Kill()
	}
	j.reap(phase)
}

// reap releases the job's ports, returns its slot of the live count, and
// removes its staged files. Runs exactly once no matter how many of the
// kill, timeout, and natural-exit paths race to it.
func (j *Job) reap(phase types.JobPhase) {
	j.reapOnce.Do(func() {
		j.phase.CompareAndSwap(types.PhaseRunning, phase)
		j.manager.registry.Release(j.ports)
		j.manager.live.Add(-1)
		for _, path := range j.staged {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				j.logger.WithError(err).Warnf("Failed to remove staged file %s", path)
			}
		}
		j.logger.WithField("phase", j.Phase()).Info("Workload reaped")
	})
}

// Ports returns the listen ports reserved by this job.
func (j *Job) Ports() []uint16 {
	return append([]uint16(nil), j.ports...)
}

// Phase returns the job's current lifecycle label.
func (j *Job) Phase() types.JobPhase {
	return j.phase.Load().(types.JobPhase)
}

// Done is closed once the underlying process has been waited on.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// streamReader pumps one pipe into a bounded channel so reads can wait
// with a deadline without blocking the pipe. At most one caller reads a
// given stream at a time; the session lock enforces that.
type streamReader struct {
	ch     chan []byte
	rest   []byte
	err    error
	closed bool
}

func newStreamReader(r io.ReadCloser) *streamReader {
	s := &streamReader{ch: make(chan []byte, 64)}
	go func() {
		defer close(s.ch)
		defer r.Close()
		for {
			chunk := make([]byte, 4096)
			n, err := r.Read(chunk)
			if n > 0 {
				s.ch <- chunk[:n]
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
					s.err = fmt.Errorf("stream read: %w", err)
				}
				return
			}
		}
	}()
	return s
}

func (s *streamReader) read(buf []byte, wait time.Duration) (int, error) {
	if len(s.rest) > 0 {
		n := copy(buf, s.rest)
		s.rest = s.rest[n:]
		return n, nil
	}
	if s.closed {
		return 0, s.err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case chunk, ok := <-s.ch:
		if !ok {
			// Channel close happens after err is set, so err is visible here.
			s.closed = true
			return 0, s.err
		}
		n := copy(buf, chunk)
		s.rest = chunk[n:]
		return n, nil
	case <-timer.C:
		return 0, nil
	}
}
