// Package session holds per-user state: the single job slot, the
// strong/weak reference discipline that lets deferred timers act on a
// session without pinning it in memory, and the session store itself.
package session

import (
	"sync"
	"time"

	"github.com/benchrunr/api/internal/job"
	"github.com/benchrunr/api/internal/types"
	"github.com/sirupsen/logrus"
)

// Session is one user's server-side record. It holds at most one live job.
// All job-slot access goes through the session's lock: installs, clears,
// and output reads for one user never interleave.
type Session struct {
	userID  string
	starred bool

	mu  sync.RWMutex
	job *job.Job
}

// UserID returns the owning user.
func (s *Session) UserID() string { return s.userID }

// Starred reports the user's quota tier.
func (s *Session) Starred() bool { return s.starred }

// CurrentID returns the active job's identifier, or "" when the slot is empty.
func (s *Session) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.job == nil {
		return ""
	}
	return s.job.ID
}

// Active reports whether a job occupies the slot.
func (s *Session) Active() bool {
	return s.CurrentID() != ""
}

// Install runs fn under the session's write lock and installs the job it
// returns. fn receives the current slot occupant so it can re-check the
// admission conditions inside the critical section; returning an error
// leaves the slot untouched.
func (s *Session) Install(fn func(current *job.Job) (*job.Job, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := fn(s.job)
	if err != nil {
		return err
	}
	s.job = j
	return nil
}

// TakeIf detaches and returns the current job only if its identifier
// matches id; id "" matches any occupant. Returns nil when the slot is
// empty or held by a different job. The identity check is what keeps a
// stale timeout from killing a newer job.
func (s *Session) TakeIf(id string) *job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job == nil {
		return nil
	}
	if id != "" && s.job.ID != id {
		return nil
	}
	j := s.job
	s.job = nil
	return j
}

// ReadOutput reads newly available bytes from the active job's stream.
// It takes the write lock: reads advance the stream cursor.
func (s *Session) ReadOutput(stream types.Stream, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job == nil {
		return 0, errNoJob
	}
	return s.job.Read(stream, buf)
}

var errNoJob = noJobError{}

type noJobError struct{}

func (noJobError) Error() string { return "no active job" }

// IsNoJob reports whether err means the session's job slot is empty.
func IsNoJob(err error) bool { return err == errNoJob }

// shared is the reference-counted cell behind Ref and Weak. Once the
// strong count reaches zero the session is gone for good; weak handles
// can never resurrect it.
type shared struct {
	mu     sync.Mutex
	strong int
	sess   *Session
}

// Ref is a strong, owning handle to a Session.
type Ref struct {
	cell        *shared
	releaseOnce sync.Once
}

// NewRef wraps a session in a reference-counted handle with count one.
func NewRef(s *Session) *Ref {
	return &Ref{cell: &shared{strong: 1, sess: s}}
}

// Session returns the referenced session.
func (r *Ref) Session() *Session {
	r.cell.mu.Lock()
	defer r.cell.mu.Unlock()
	return r.cell.sess
}

// Clone returns a new strong handle to the same session.
func (r *Ref) Clone() *Ref {
	r.cell.mu.Lock()
	defer r.cell.mu.Unlock()

	r.cell.strong++
	return &Ref{cell: r.cell}
}

// Release drops this handle's ownership. Releasing the same handle twice
// is a no-op. When the last strong handle goes, the session is dropped.
func (r *Ref) Release() {
	r.releaseOnce.Do(func() {
		r.cell.mu.Lock()
		defer r.cell.mu.Unlock()

		r.cell.strong--
		if r.cell.strong == 0 {
			r.cell.sess = nil
		}
	})
}

// Downgrade returns a weak handle that observes the session without
// keeping it alive.
func (r *Ref) Downgrade() Weak {
	return Weak{cell: r.cell}
}

// Weak is a non-owning observer of a session.
type Weak struct {
	cell *shared
}

// Upgrade attempts to re-acquire a strong handle. It returns nil once the
// last strong holder has released; the caller must Release any non-nil
// result.
func (w Weak) Upgrade() *Ref {
	w.cell.mu.Lock()
	defer w.cell.mu.Unlock()

	if w.cell.strong == 0 || w.cell.sess == nil {
		return nil
	}
	w.cell.strong++
	return &Ref{cell: w.cell}
}

// ScheduleTimeout arms the deferred reaper for a freshly installed job: it
// fires after ttl holding only a weak reference, so an abandoned session is
// never kept resident by its timer. If the session is gone, or the slot no
// longer holds jobID, the timer does nothing.
func ScheduleTimeout(ref *Ref, jobID string, ttl time.Duration) {
	weak := ref.Downgrade()
	logger := logrus.WithField("component", "session")

	go func() {
		time.Sleep(ttl)

		strong := weak.Upgrade()
		if strong == nil {
			return
		}
		defer strong.Release()

		if j := strong.Session().TakeIf(jobID); j != nil {
			logger.WithField("job_id", jobID).Debug("Job timed out")
			j.KillTimedOut()
		}
	}()
}
