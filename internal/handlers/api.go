package handlers

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"salesmerge/internal/config"
	"salesmerge/internal/csvio"
	"salesmerge/internal/errors"
	"salesmerge/internal/models"
	"salesmerge/internal/observability"
	"salesmerge/internal/services"
	"salesmerge/internal/session"
)

const (
	noStore          = "no-store"
	csvContentType   = "text/csv; charset=utf-8"
	xlsxContentType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mergedExportStem = "exported_data"
	uploadField      = "file"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

type APIHandlers struct {
	store  *session.Store
	cfg    config.PipelineConfig
	logger *slog.Logger
}

func NewAPIHandlers(store *session.Store, cfg config.PipelineConfig, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// UploadResult is returned to JSON clients after an upload.
type UploadResult struct {
	Filename    string `json:"filename"`
	Bytes       int    `json:"bytes"`
	Encoding    string `json:"encoding"`
	Fingerprint string `json:"fingerprint"`
	services.IngestReport
}

func (h *APIHandlers) HandleUploadMain(w http.ResponseWriter, r *http.Request) {
	h.handleUpload(w, r, (*services.Pipeline).IngestMain)
}

func (h *APIHandlers) HandleUploadMapping(w http.ResponseWriter, r *http.Request) {
	h.handleUpload(w, r, (*services.Pipeline).IngestMapping)
}

type ingestFunc func(*services.Pipeline, context.Context, *csvio.Table) (services.IngestReport, error)

func (h *APIHandlers) handleUpload(w http.ResponseWriter, r *http.Request, ingest ingestFunc) {
	ctx := r.Context()
	requestID := observability.GetRequestID(ctx)
	logger := observability.FromContext(ctx, h.logger)

	pipeline, ok := pipelineFor(w, r, h.logger)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			errors.WriteError(w, h.logger, errors.TooLarge(fmt.Sprintf("upload exceeds %d bytes", h.cfg.MaxUploadBytes)), requestID)
			return
		}
		errors.WriteError(w, h.logger, errors.BadRequestWrap(err, "invalid multipart form"), requestID)
		return
	}

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		errors.WriteError(w, h.logger, errors.BadRequestWrap(err, "missing file field"), requestID)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		errors.WriteError(w, h.logger, errors.BadRequestWrap(err, "read upload"), requestID)
		return
	}

	table, encoding, err := csvio.Decode(data)
	if err != nil {
		errors.WriteError(w, h.logger, errors.Decode(err, "file is not a CSV in UTF-8 or EUC-KR"), requestID)
		return
	}

	report, err := ingest(pipeline, ctx, table)
	if err != nil {
		errors.WriteError(w, h.logger, errors.InternalWrap(err, "ingest failed"), requestID)
		return
	}

	result := UploadResult{
		Filename:     header.Filename,
		Bytes:        len(data),
		Encoding:     encoding,
		Fingerprint:  csvio.Fingerprint(data),
		IngestReport: report,
	}
	logger.Info("upload processed",
		"kind", report.Kind,
		"filename", result.Filename,
		"bytes", result.Bytes,
		"encoding", result.Encoding,
		"fingerprint", result.Fingerprint,
		"warnings", len(report.Warnings),
	)

	if wantsJSON(r) {
		errors.WriteSuccessWithHeaders(w, result, map[string]string{"Cache-Control": noStore})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *APIHandlers) HandleExportMerged(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pipeline, ok := pipelineFor(w, r, h.logger)
		if !ok {
			return
		}

		records, err := pipeline.Records()
		if stderrors.Is(err, services.ErrNoData) {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		writeExport(w, r, format, mergedExportStem, h.logger, func(out io.Writer) error {
			if format == FormatXLSX {
				return csvio.WriteRecordsXLSX(out, records)
			}
			return csvio.WriteRecords(out, records)
		})
	}
}

func (h *APIHandlers) HandleExportTopN(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pipeline, ok := pipelineFor(w, r, h.logger)
		if !ok {
			return
		}

		country, n, err := selection(r, pipeline.Settings())
		if err != nil {
			errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
			return
		}

		rows, err := pipeline.TopN(r.Context(), country, n)
		if stderrors.Is(err, services.ErrNoData) {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		writeExport(w, r, format, TopNFilenameStem(country), h.logger, func(out io.Writer) error {
			if format == FormatXLSX {
				return csvio.WriteTopNXLSX(out, rows)
			}
			return csvio.WriteTopN(out, rows)
		})
	}
}

// TopNFilenameStem names a Top-N download after its country filter.
func TopNFilenameStem(country string) string {
	return country + "_topN_data"
}

func (h *APIHandlers) HandleCountries(w http.ResponseWriter, r *http.Request) {
	pipeline, ok := pipelineFor(w, r, h.logger)
	if !ok {
		return
	}

	countries, selected := pipeline.Countries()
	if countries == nil {
		countries = []string{}
	}
	errors.WriteSuccessWithHeaders(w, map[string]any{
		"countries": countries,
		"selected":  selected,
		"all":       models.AllCountries,
	}, map[string]string{"Cache-Control": noStore})
}

func (h *APIHandlers) HandleTopN(w http.ResponseWriter, r *http.Request) {
	pipeline, ok := pipelineFor(w, r, h.logger)
	if !ok {
		return
	}

	country, n, err := selection(r, pipeline.Settings())
	if err != nil {
		errors.WriteError(w, h.logger, err, observability.GetRequestID(r.Context()))
		return
	}

	rows, err := pipeline.TopN(r.Context(), country, n)
	if stderrors.Is(err, services.ErrNoData) {
		rows = []models.TopNRow{}
	}
	errors.WriteSuccessWithHeaders(w, rows, map[string]string{"Cache-Control": noStore})
}

func (h *APIHandlers) HandleRecords(w http.ResponseWriter, r *http.Request) {
	pipeline, ok := pipelineFor(w, r, h.logger)
	if !ok {
		return
	}

	records, err := pipeline.Records()
	if stderrors.Is(err, services.ErrNoData) {
		records = []models.SalesRecord{}
	}
	errors.WriteSuccessWithHeaders(w, records, map[string]string{"Cache-Control": noStore})
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {

	healthData := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   "1.0.0",
	}

	errors.WriteSuccess(w, healthData)
}

func (h *APIHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"sessions": h.store.Len(),
	}
	if pipeline, ok := session.Pipeline(r.Context()); ok {
		stats["session"] = pipeline.Stats()
	}

	errors.WriteSuccess(w, stats)
}

// selection reads country and n from the query, defaulting to the stored
// settings.
func selection(r *http.Request, settings services.Settings) (string, int, error) {
	q := r.URL.Query()

	country := settings.Country
	if c := q.Get("country"); c != "" {
		country = c
	}

	n := settings.TopN
	if raw := q.Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return "", 0, errors.BadRequestWrap(err, "n must be an integer")
		}
		n = v
	}
	return country, n, nil
}

func pipelineFor(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*services.Pipeline, bool) {
	pipeline, ok := session.Pipeline(r.Context())
	if !ok {
		errors.WriteError(w, logger, errors.ServiceUnavailable("session unavailable"), observability.GetRequestID(r.Context()))
		return nil, false
	}
	return pipeline, true
}

// writeExport renders the whole file before sending so a failed export still
// gets an error response.
func writeExport(w http.ResponseWriter, r *http.Request, format, stem string, logger *slog.Logger, write func(io.Writer) error) {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		errors.WriteError(w, logger, errors.InternalWrap(err, "export failed"), observability.GetRequestID(r.Context()))
		return
	}

	contentType := csvContentType
	if format == FormatXLSX {
		contentType = xlsxContentType
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", noStore)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": stem + "." + format,
	}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))

	if _, err := w.Write(buf.Bytes()); err != nil {
		logger.Warn("write export", "format", format, "filename", stem, "error", err)
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
