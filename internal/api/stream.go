package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dunamismax/stylegen/internal/domain"
	"github.com/dunamismax/stylegen/internal/realtime"
	"github.com/go-chi/chi/v5"
)

// handleStream relays a job's progress as server-sent events until the job
// completes, fails or the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	stream, err := s.jobs.Stream(jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	events, unsubscribe := stream.Subscribe()
	defer unsubscribe()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Debug().Err(err).Str("job_id", jobID).Msg("clear write deadline")
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	connected := realtime.Event{Type: realtime.EventConnected, Data: map[string]string{"jobId": jobID}}
	if err := writeEvent(w, rc, connected); err != nil {
		s.jobs.CloseStream(jobID)
		return
	}

	if final, ok := s.finalEvent(jobID); ok {
		s.jobs.CloseStream(jobID)
		_ = writeEvent(w, rc, final)
		return
	}

	s.metrics.activeStreams.Inc()
	defer s.metrics.activeStreams.Dec()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug().Str("job_id", jobID).Msg("stream client disconnected")
			s.jobs.CloseStream(jobID)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, rc, ev); err != nil {
				s.jobs.CloseStream(jobID)
				return
			}
			if ev.Terminal() {
				return
			}
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				s.jobs.CloseStream(jobID)
				return
			}
			_ = rc.Flush()
		}
	}
}

// finalEvent rebuilds the terminal event of a job that ended before the
// client attached, since nothing will publish for it again.
func (s *Server) finalEvent(jobID string) (realtime.Event, bool) {
	meta, err := s.jobs.GetStatus(jobID)
	if err != nil {
		return realtime.Event{}, false
	}
	switch {
	case meta.Status == domain.JobStatusCompleted:
		return realtime.Event{
			Type: realtime.EventComplete,
			Data: realtime.ProgressData{Status: string(domain.JobStatusCompleted), Progress: 100, Message: meta.Message},
		}, true
	case meta.Status == domain.JobStatusFailed && meta.MaxAttempts > 0 && meta.Attempt >= meta.MaxAttempts:
		return realtime.Event{
			Type: realtime.EventError,
			Data: realtime.ErrorData{Error: meta.Error},
		}, true
	}
	return realtime.Event{}, false
}

func writeEvent(w io.Writer, rc *http.ResponseController, ev realtime.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
