package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/stylegen/internal/domain"
	"github.com/dunamismax/stylegen/internal/genimage"
	"github.com/go-chi/chi/v5"
)

// multipartOverhead leaves room for form fields and boundaries on top of
// the file size cap.
const multipartOverhead = 1 << 20

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.writeError(w, r, err)
			return
		}
		s.writeError(w, r, fmt.Errorf("%w: request must be multipart/form-data", domain.ErrValidation))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	req := domain.SubmitRequest{
		Prompt:      r.FormValue("prompt"),
		TemplateID:  r.FormValue("templateId"),
		AspectRatio: r.FormValue("aspectRatio"),
		Style:       r.FormValue("style"),
		CallbackURL: r.FormValue("callbackUrl"),
	}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// Submit reports the missing upload.
	case err != nil:
		s.writeError(w, r, fmt.Errorf("%w: read upload: %v", domain.ErrValidation, err))
		return
	default:
		defer file.Close()
		if header.Size > s.maxUploadBytes {
			s.writeError(w, r, &http.MaxBytesError{Limit: s.maxUploadBytes})
			return
		}
		data, err := io.ReadAll(file)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: read upload: %v", domain.ErrValidation, err))
			return
		}
		if len(data) > 0 && !strings.HasPrefix(http.DetectContentType(data), "image/") {
			s.writeError(w, r, fmt.Errorf("%w: file must be an image", domain.ErrValidation))
			return
		}
		req.Image = data
		req.Filename = header.Filename
		req.ContentType = header.Header.Get("Content-Type")
	}

	result, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.jobsSubmitted.Inc()
	writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	meta, err := s.jobs.GetStatus(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	result, err := s.jobs.GetResult(jobID)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: job result not found or expired", domain.ErrNotFound))
		return
	}

	filename := result.Filename
	if filename == "" {
		filename = domain.ResultFilename(jobID, "webp")
	}
	w.Header().Set("Content-Type", result.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.jobs.Cancel(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Job cancelled successfully"})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.jobs.QueueStats()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queueStatus": counts})
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	before, err := s.jobs.QueueStats()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	removed, err := s.jobs.ClearQueue()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	after, err := s.jobs.QueueStats()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Queue cleared successfully",
		"removed": removed,
		"before":  before,
		"after":   after,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.CacheStats())
}

func (s *Server) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	cleared := s.jobs.ClearCache()
	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "Cache cleared successfully",
		"metadataCleared": cleared.MetadataCleared,
		"resultsCleared":  cleared.ResultsCleared,
	})
}

func (s *Server) handlePricing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Message string `json:"message"`
		genimage.PricingInfo
		LastUpdated time.Time `json:"lastUpdated"`
	}{
		Message:     "Pricing information retrieved successfully",
		PricingInfo: s.pricing,
		LastUpdated: time.Now().UTC(),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeJSON(w, http.StatusOK, domain.UsageSummary{})
		return
	}
	summary, err := s.usage.Summary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
