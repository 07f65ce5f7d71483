package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/draftsend/draftsend/internal/dispatch"
	"github.com/draftsend/draftsend/internal/email"
	"github.com/draftsend/draftsend/internal/middleware"
	"github.com/draftsend/draftsend/internal/recipients"
	"github.com/draftsend/draftsend/internal/service"
)

const defaultMaxUpload = 10 << 20

// CreateRunResponse is returned when a run is accepted
type CreateRunResponse struct {
	RunID         string `json:"runId"`
	Recipients    int    `json:"recipients"`
	SkippedHeader string `json:"skippedHeader,omitempty"`
}

// CreateRun accepts a multipart form and starts a run in the background.
//
// Fields: subject, to, cc, batch_size, delay_seconds and an optional
// spreadsheet in file.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	limit := h.cfg.Server.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "Recipient file is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "Expected a multipart form")
		return
	}

	req := service.SendRequest{
		Subject:  r.FormValue("subject"),
		DirectTo: r.FormValue("to"),
		Cc:       r.FormValue("cc"),
	}

	if v := strings.TrimSpace(r.FormValue("batch_size")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_batch_size", dispatch.ErrInvalidBatchSize.Error())
			return
		}
		req.BatchSize = &n
	}

	if v := strings.TrimSpace(r.FormValue("delay_seconds")); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || secs < 0 {
			writeError(w, http.StatusBadRequest, "invalid_delay", dispatch.ErrInvalidDelay.Error())
			return
		}
		delay := time.Duration(secs * float64(time.Second))
		req.Delay = &delay
	}

	var skipped string
	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		list, err := recipients.Load(file, header.Filename)
		if errors.Is(err, recipients.ErrUnsupportedFormat) {
			writeError(w, http.StatusBadRequest, "unsupported_format", "Recipient file must be .xlsx or .csv")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_file", err.Error())
			return
		}
		req.Recipients = list.Addresses
		skipped = list.SkippedHeader
	case errors.Is(err, http.ErrMissingFile):
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "Failed to read recipient file")
		return
	}

	runID, err := h.sendSvc.Start(r.Context(), middleware.GetCredential(r.Context()), req)
	if err != nil {
		h.writeRunError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/runs/"+runID)
	writeJSON(w, http.StatusAccepted, CreateRunResponse{
		RunID:         runID,
		Recipients:    len(req.Recipients),
		SkippedHeader: skipped,
	})
}

func (h *Handler) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrMissingSubject):
		writeError(w, http.StatusBadRequest, "missing_subject", err.Error())
	case errors.Is(err, dispatch.ErrNoRecipients):
		writeError(w, http.StatusBadRequest, "no_recipients", err.Error())
	case errors.Is(err, dispatch.ErrInvalidBatchSize):
		writeError(w, http.StatusBadRequest, "invalid_batch_size", err.Error())
	case errors.Is(err, dispatch.ErrInvalidDelay):
		writeError(w, http.StatusBadRequest, "invalid_delay", err.Error())
	case errors.Is(err, email.ErrDraftNotFound), errors.Is(err, dispatch.ErrDraftMissing):
		writeError(w, http.StatusNotFound, "draft_not_found", err.Error())
	case errors.Is(err, dispatch.ErrCredentialExpired), errors.Is(err, service.ErrCredentialRequired):
		writeError(w, http.StatusUnauthorized, "credential_expired", err.Error())
	default:
		h.log.Error().Err(err).Msg("failed to start run")
		var te *email.TransportError
		if errors.As(err, &te) {
			writeError(w, http.StatusBadGateway, "provider_error", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to start run")
	}
}

// GetRun returns the latest snapshot of a run
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sendSvc.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, service.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run_not_found", "Run not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("failed to get run")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// CancelRun stops a run at its next batch boundary
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	err := h.sendSvc.Cancel(runID)
	switch {
	case errors.Is(err, service.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run_not_found", "Run not found")
	case errors.Is(err, service.ErrRunFinished):
		writeError(w, http.StatusConflict, "run_finished", "Run already finished")
	case err != nil:
		h.log.Error().Err(err).Msg("failed to cancel run")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to cancel run")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID, "status": "canceling"})
	}
}

// RunEvents streams progress events of a run as server-sent events until the
// run finishes or the client goes away.
func (h *Handler) RunEvents(w http.ResponseWriter, r *http.Request) {
	if h.progress == nil {
		writeError(w, http.StatusNotImplemented, "events_unavailable", "Progress events require Redis")
		return
	}

	ctx := r.Context()
	runID := r.PathValue("id")

	sub := h.progress.Subscribe(ctx, runID)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		h.log.Error().Err(err).Msg("failed to subscribe to run events")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to subscribe")
		return
	}

	// Subscribe before reading the snapshot so no event falls in between.
	snap, err := h.sendSvc.Get(ctx, runID)
	if errors.Is(err, service.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run_not_found", "Run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to get run")
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	data, _ := json.Marshal(snap)
	fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	rc.Flush()
	if snap.State.IsTerminal() {
		return
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", msg.Payload)
			rc.Flush()

			var pm service.ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &pm); err == nil && pm.Snapshot.State.IsTerminal() {
				return
			}
		}
	}
}
