package http

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mvailland/scribe/internal/domain"
	"github.com/mvailland/scribe/internal/format"
	"github.com/mvailland/scribe/internal/infrastructure/logger"
	"github.com/mvailland/scribe/internal/service"
	"github.com/mvailland/scribe/internal/validation"
)

type JobService interface {
	Submit(filename string, file *os.File, language, task string) (*domain.Job, error)
	Get(id string) (*domain.Job, error)
	List(limit int) ([]*domain.Job, error)
	Cancel(id string) error
	Artifact(id, formatName string) (path, downloadName string, err error)
}

type ModelService interface {
	Status() service.ModelStatus
	Switch(modelID, computeType string) error
}

type Handlers struct {
	jobSvc         JobService
	modelSvc       ModelService
	maxUploadBytes int64
	version        string
}

func NewHandlers(jobSvc JobService, modelSvc ModelService, maxUploadBytes int64, version string) *Handlers {
	return &Handlers{
		jobSvc:         jobSvc,
		modelSvc:       modelSvc,
		maxUploadBytes: maxUploadBytes,
		version:        version,
	}
}

// jobResponse is the wire view of a job. Server-side paths stay internal;
// clients see which output formats exist, not where they live.
type jobResponse struct {
	ID                  string        `json:"id"`
	Filename            string        `json:"filename"`
	State               string        `json:"state"`
	Progress            float64       `json:"progress"`
	Params              domain.Params `json:"params"`
	Formats             []string      `json:"formats,omitempty"`
	Error               string        `json:"error,omitempty"`
	Duration            float64       `json:"duration,omitempty"`
	Language            string        `json:"language,omitempty"`
	LanguageProbability float64       `json:"language_probability,omitempty"`
	Preview             string        `json:"preview,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	StartedAt           *time.Time    `json:"started_at,omitempty"`
	CompletedAt         *time.Time    `json:"completed_at,omitempty"`
}

func toJobResponse(job *domain.Job) jobResponse {
	resp := jobResponse{
		ID:                  job.ID,
		Filename:            job.Filename,
		State:               string(job.State),
		Progress:            job.Progress,
		Params:              job.Params,
		Error:               job.ErrorMessage,
		Duration:            job.Duration,
		Language:            job.Language,
		LanguageProbability: job.LanguageProbability,
		Preview:             job.Preview,
		CreatedAt:           job.CreatedAt,
	}
	for _, f := range format.All {
		if _, ok := job.Outputs[f]; ok {
			resp.Formats = append(resp.Formats, f)
		}
	}
	if !job.StartedAt.IsZero() {
		t := job.StartedAt
		resp.StartedAt = &t
	}
	if !job.CompletedAt.IsZero() {
		t := job.CompletedAt
		resp.CompletedAt = &t
	}
	return resp
}

func (h *Handlers) Submit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Slack above the media limit covers multipart framing; the exact
		// size check happens in the service against the file itself.
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close() //nolint:errcheck

		tmpFile, err := os.CreateTemp("", "upload-*.tmp")
		if err != nil {
			logger.Error.Printf("create upload temp: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to process upload")
			return
		}
		defer func() {
			tmpFile.Close()           //nolint:errcheck
			os.Remove(tmpFile.Name()) //nolint:errcheck
		}()

		if _, err := io.Copy(tmpFile, file); err != nil {
			logger.Error.Printf("spool upload: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to save file")
			return
		}

		job, err := h.jobSvc.Submit(header.Filename, tmpFile, r.FormValue("language"), r.FormValue("task"))
		if err != nil {
			logger.Info.Printf("upload rejected for %s: %v", logger.SanitizeForLog(header.Filename), err)
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, toJobResponse(job))
	}
}

func (h *Handlers) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := h.jobSvc.Get(r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(job))
	}
}

func (h *Handlers) ListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 || n > 500 {
				writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
				return
			}
			limit = n
		}

		jobs, err := h.jobSvc.List(limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]jobResponse, 0, len(jobs))
		for _, job := range jobs {
			resp = append(resp, toJobResponse(job))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *Handlers) Output() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formatName := r.URL.Query().Get("format")
		if formatName == "" {
			formatName = "txt"
		}

		path, downloadName, err := h.jobSvc.Artifact(r.PathValue("id"), formatName)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Disposition", validation.ContentDisposition(downloadName, false))
		http.ServeFile(w, r, path)
	}
}

func (h *Handlers) Cancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := h.jobSvc.Cancel(id); err != nil {
			writeDomainError(w, err)
			return
		}

		job, err := h.jobSvc.Get(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(job))
	}
}

func (h *Handlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": h.version,
			"model":   h.modelSvc.Status(),
		})
	}
}

func (h *Handlers) Models() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"available":     domain.AvailableModels,
			"compute_types": domain.ComputeTypes,
			"current":       h.modelSvc.Status(),
		})
	}
}

func (h *Handlers) SwitchModel() http.HandlerFunc {
	type switchRequest struct {
		ModelID     string `json:"model_id"`
		ComputeType string `json:"compute_type"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req switchRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		if err := h.modelSvc.Switch(req.ModelID, req.ComputeType); err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, h.modelSvc.Status())
	}
}
