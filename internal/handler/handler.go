package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/benchrunr/api/internal/apperrors"
	"github.com/benchrunr/api/internal/auth"
	"github.com/benchrunr/api/internal/config"
	"github.com/benchrunr/api/internal/ingest"
	"github.com/benchrunr/api/internal/job"
	"github.com/benchrunr/api/internal/ports"
	"github.com/benchrunr/api/internal/session"
	"github.com/benchrunr/api/internal/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const readBufferSize = 4096

// Handler contains the dependencies for HTTP handlers
type Handler struct {
	cfg        *config.Config
	jobManager *job.Manager
	registry   *ports.Registry
	logger     *logrus.Logger
}

// NewHandler creates a new handler instance
func NewHandler(cfg *config.Config, jobManager *job.Manager, registry *ports.Registry, logger *logrus.Logger) *Handler {
	return &Handler{
		cfg:        cfg,
		jobManager: jobManager,
		registry:   registry,
		logger:     logger,
	}
}

// GetVersion returns the API version
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, map[string]string{"message": "BenchRunr v1.0.0"}, http.StatusOK)
}

// CreateJob admits and spawns a workload from a multipart upload. The
// admission is two-phase: cheap optimistic checks before the upload is
// streamed, then the same checks re-verified under the session lock right
// before the job is installed.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	ref := auth.RefFrom(r.Context())
	sess := ref.Session()
	ttl, sizeLimit := h.cfg.Limits().Decide(sess.Starred())

	// Optimistic pre-checks: fail fast before streaming anything.
	if sess.Active() {
		h.sendError(w, apperrors.Capacity("user already has a running workload"))
		return
	}
	if h.jobManager.Count() >= h.cfg.MaxJobs {
		h.sendError(w, apperrors.Capacity("too many running workloads"))
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		h.sendError(w, apperrors.Validation("expected a multipart upload"))
		return
	}

	staged, err := ingest.Ingest(mr, sizeLimit, h.cfg.ConfigMaxBytes, h.cfg.TempDirectory)
	if err != nil {
		h.sendError(w, err)
		return
	}

	configText, err := os.ReadFile(staged.ConfigPath)
	if err != nil {
		staged.Cleanup()
		h.sendError(w, apperrors.Internal("job.create", err))
		return
	}

	declared, err := ports.ParsePorts(configText)
	if err != nil {
		staged.Cleanup()
		h.sendError(w, err)
		return
	}

	if illegal := ports.ValidateRange(declared, h.cfg.PortMin, h.cfg.PortMax); len(illegal) > 0 {
		staged.Cleanup()
		h.sendError(w, apperrors.IllegalPorts(illegal, h.cfg.PortMin, h.cfg.PortMax))
		return
	}

	jobID := uuid.New().String()

	reserved := false
	if h.cfg.SharedPortProtections {
		if conflicts := h.registry.TryReserve(jobID, declared); len(conflicts) > 0 {
			staged.Cleanup()
			h.sendError(w, apperrors.PortConflict(conflicts))
			return
		}
		reserved = true
	}

	// Committing check: re-verify both admission conditions while holding
	// the session's write lock, then spawn and install in the same breath.
	err = sess.Install(func(current *job.Job) (*job.Job, error) {
		if current != nil {
			return nil, apperrors.Capacity("user already has a running workload")
		}
		if h.jobManager.Count() >= h.cfg.MaxJobs {
			return nil, apperrors.Capacity("too many running workloads")
		}
		return h.jobManager.Spawn(jobID, staged.WasmPath, staged.ConfigPath, declared)
	})
	if err != nil {
		if reserved {
			h.registry.Release(declared)
		}
		staged.Cleanup()
		h.sendError(w, err)
		return
	}

	session.ScheduleTimeout(ref, jobID, ttl)

	h.logger.WithFields(logrus.Fields{
		"job_id":  jobID,
		"user_id": sess.UserID(),
	}).Info("Job started")

	h.sendJSON(w, types.CreateJobResponse{
		ID:         jobID,
		TTLSeconds: int64(ttl.Seconds()),
	}, http.StatusCreated)
}

// DeleteJob kills the caller's current job, if any. Idempotent.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	ref := auth.RefFrom(r.Context())

	if j := ref.Session().TakeIf(""); j != nil {
		h.logger.WithField("job_id", j.ID).Debug("Killing job on delete")
		j.Kill()
	}

	w.WriteHeader(http.StatusOK)
}

// GetStatus reports whether the caller has an active job and the limits
// their quota tier decides.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ref := auth.RefFrom(r.Context())
	sess := ref.Session()
	ttl, sizeLimit := h.cfg.Limits().Decide(sess.Starred())

	jobID := sess.CurrentID()
	h.sendJSON(w, types.StatusResponse{
		Active:     jobID != "",
		JobID:      jobID,
		Starred:    sess.Starred(),
		TTLSeconds: int64(ttl.Seconds()),
		SizeLimit:  sizeLimit,
		PortMin:    h.cfg.PortMin,
		PortMax:    h.cfg.PortMax,
	}, http.StatusOK)
}

// ReadStdout serves newly available standard output bytes.
func (h *Handler) ReadStdout(w http.ResponseWriter, r *http.Request) {
	h.readOutput(w, r, types.StreamStdout)
}

// ReadStderr serves newly available standard error bytes.
func (h *Handler) ReadStderr(w http.ResponseWriter, r *http.Request) {
	h.readOutput(w, r, types.StreamStderr)
}

// readOutput performs one bounded read. An empty body is the normal "no
// new output yet" answer, never an error.
func (h *Handler) readOutput(w http.ResponseWriter, r *http.Request, stream types.Stream) {
	ref := auth.RefFrom(r.Context())

	buf := make([]byte, readBufferSize)
	n, err := ref.Session().ReadOutput(stream, buf)
	if session.IsNoJob(err) {
		h.sendError(w, apperrors.NotFound("job"))
		return
	}
	if err != nil {
		h.sendError(w, apperrors.Internal("job.read", err))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf[:n])
}

// sendError renders a structured rejection. Internal failures get a
// generic message; everything else carries its own.
func (h *Handler) sendError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)

	resp := types.ErrorResponse{
		Message: err.Error(),
		Code:    status,
		Ports:   apperrors.PortsOf(err),
	}
	if errors.Is(err, apperrors.ErrIllegalPort) {
		resp.PortMin = h.cfg.PortMin
		resp.PortMax = h.cfg.PortMax
	}
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("Request failed")
		resp.Message = "internal server error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// sendJSON sends a JSON response
func (h *Handler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
