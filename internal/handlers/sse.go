package handlers

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/starfederation/datastar-go/datastar"

	"salesmerge/internal/errors"
	"salesmerge/internal/observability"
	"salesmerge/internal/services"
	"salesmerge/internal/ui/templates"
)

type SSEHandlers struct {
	displayRows int
	logger      *slog.Logger
}

func NewSSEHandlers(displayRows int, logger *slog.Logger) *SSEHandlers {
	return &SSEHandlers{
		displayRows: displayRows,
		logger:      logger,
	}
}

// HandleSettings stores the country and Top-N signals and patches the Top-N
// preview for the new selection.
func (h *SSEHandlers) HandleSettings(w http.ResponseWriter, r *http.Request) {
	requestID := observability.GetRequestID(r.Context())

	pipeline, ok := pipelineFor(w, r, h.logger)
	if !ok {
		return
	}

	var signals templates.Signals
	if err := datastar.ReadSignals(r, &signals); err != nil {
		errors.WriteError(w, h.logger, errors.BadRequestWrap(err, "invalid signals"), requestID)
		return
	}

	if err := pipeline.Select(signals.Country, signals.TopN); err != nil {
		if stderrors.Is(err, services.ErrUnknownCountry) {
			errors.WriteError(w, h.logger, errors.ValidationWrap(err, "unknown country"), requestID)
			return
		}
		errors.WriteError(w, h.logger, errors.InternalWrap(err, "store selection"), requestID)
		return
	}

	rows, err := pipeline.TopN(r.Context(), signals.Country, signals.TopN)
	if err != nil && !stderrors.Is(err, services.ErrNoData) {
		errors.WriteError(w, h.logger, errors.InternalWrap(err, "rank products"), requestID)
		return
	}

	html, err := templates.RenderString(r.Context(), templates.TopNPreview(rows, signals.Country))
	if err != nil {
		h.logger.Error("render top-n preview", "error", err)
		return
	}

	sse := datastar.NewSSE(w, r)
	if err := sse.PatchElements(html); err != nil {
		h.logger.Warn("patch top-n preview", "error", err, "request_id", requestID)
	}
}

// HandleTable patches the merged table, the country selector and the
// selection signals.
func (h *SSEHandlers) HandleTable(w http.ResponseWriter, r *http.Request) {
	requestID := observability.GetRequestID(r.Context())

	pipeline, ok := pipelineFor(w, r, h.logger)
	if !ok {
		return
	}

	records, err := pipeline.Records()
	if err != nil && !stderrors.Is(err, services.ErrNoData) {
		errors.WriteError(w, h.logger, errors.InternalWrap(err, "load records"), requestID)
		return
	}
	countries, _ := pipeline.Countries()
	settings := pipeline.Settings()

	table, err := templates.RenderString(r.Context(), templates.RecordsTable(records, h.displayRows))
	if err != nil {
		h.logger.Error("render records table", "error", err)
		return
	}
	selector, err := templates.RenderString(r.Context(), templates.CountrySelect(countries, settings.Country))
	if err != nil {
		h.logger.Error("render country select", "error", err)
		return
	}
	signals, err := json.Marshal(templates.Signals{Country: settings.Country, TopN: settings.TopN})
	if err != nil {
		h.logger.Error("marshal signals", "error", err)
		return
	}

	sse := datastar.NewSSE(w, r)
	if err := sse.PatchElements(table); err != nil {
		h.logger.Warn("patch records table", "error", err, "request_id", requestID)
		return
	}
	if err := sse.PatchElements(selector); err != nil {
		h.logger.Warn("patch country select", "error", err, "request_id", requestID)
		return
	}
	if err := sse.PatchSignals(signals); err != nil {
		h.logger.Warn("patch signals", "error", err, "request_id", requestID)
	}
}
