package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kalambet/persona/internal/extract"
	"github.com/kalambet/persona/internal/ingest"
	"github.com/kalambet/persona/internal/storage"
)

const maxIngestBodySize = 10 << 20 // 10MB

// IngestRequest submits one item collected from a data source. Payload is the
// source-specific JSON object.
type IngestRequest struct {
	Source      string          `json:"source" validate:"required,oneof=gmail google_drive ios_contacts ios_calendar"`
	DataType    string          `json:"data_type"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
	CollectedAt *time.Time      `json:"collected_at"`
	Metadata    map[string]any  `json:"metadata"`
	// ProcessNow extracts the record inline instead of leaving it to the worker.
	ProcessNow bool `json:"process_now"`
}

func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IngestRequest
		if !decodeBody(w, r, maxIngestBodySize, &req) {
			return
		}

		collected := time.Now().UTC()
		if req.CollectedAt != nil {
			collected = req.CollectedAt.UTC()
		}
		rec := storage.RawRecord{
			ID:          uuid.NewString(),
			UserID:      UserID(r.Context()),
			Source:      storage.Source(req.Source),
			DataType:    req.DataType,
			RawPayload:  string(req.Payload),
			Status:      storage.StatusPending,
			CollectedAt: collected,
			Metadata:    req.Metadata,
		}
		if err := deps.Store.InsertRecord(r.Context(), rec); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save record: %v", err)
			return
		}

		if req.ProcessNow {
			err := deps.Processor.ProcessRecord(r.Context(), rec)
			var xerr *extract.Error
			if err != nil && !errors.As(err, &xerr) {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to process record: %v", err)
				return
			}
		}

		saved, err := deps.Store.GetRecord(r.Context(), rec.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load record: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handleListRecords(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		source := storage.Source(r.URL.Query().Get("source"))
		if source != "" && !source.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown source %q", source)
			return
		}

		records, err := deps.Store.ListRecords(r.Context(), UserID(r.Context()), source, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list records: %v", err)
			return
		}
		if records == nil {
			records = []storage.RawRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

// ownedRecord loads the record named in the URL, answering 404 when it is
// missing or belongs to another user.
func ownedRecord(deps AppDeps, w http.ResponseWriter, r *http.Request) (storage.RawRecord, bool) {
	rec, err := deps.Store.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) || (err == nil && rec.UserID != UserID(r.Context())) {
		httpError(w, http.StatusNotFound, "not_found", "record not found")
		return storage.RawRecord{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get record: %v", err)
		return storage.RawRecord{}, false
	}
	return rec, true
}

func handleGetRecord(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := ownedRecord(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleDeleteRecord(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := ownedRecord(deps, w, r)
		if !ok {
			return
		}
		if err := deps.Store.DeleteRecord(r.Context(), rec.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete record: %v", err)
			return
		}
		// The profile no longer reflects the deleted record until rebuilt.
		if _, err := deps.Profiles.Rebuild(r.Context(), rec.UserID); err != nil {
			deps.Logger.Warn("rebuild after delete failed", zap.String("user_id", rec.UserID), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleProcessRecord(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := ownedRecord(deps, w, r)
		if !ok {
			return
		}

		err := deps.Processor.ProcessRecord(r.Context(), rec)
		var xerr *extract.Error
		switch {
		case errors.Is(err, ingest.ErrNotPending):
			httpError(w, http.StatusConflict, "conflict", "record %s is already %s", rec.ID, rec.Status)
			return
		case errors.As(err, &xerr):
			httpError(w, http.StatusUnprocessableEntity, "extraction_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to process record: %v", err)
			return
		}

		saved, err := deps.Store.GetRecord(r.Context(), rec.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load record: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

// handleProcessPending drains pending records across all users, the same
// work the background worker does.
func handleProcessPending(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 100, 1000)
		res, err := deps.Processor.ProcessPending(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to process records: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
