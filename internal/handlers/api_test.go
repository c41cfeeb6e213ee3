package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"salesmerge/internal/config"
	"salesmerge/internal/services"
	"salesmerge/internal/session"
)

const mainCSV = "매출일자,주문일시,주문번호,브랜드,프로모코드,상품번호,상품명,수량,배송국가,거래액(원화),카테고리\n" +
	"2024-05-01,2024-05-01 10:00,=\"1001\",Acme,,P1,Shirt,1,US,100,\n" +
	"sub,sub,sub,sub,sub,SUB,sub,x,SUB,x,sub\n" +
	"2024-05-02,2024-05-02 11:00,=\"1002\",Acme,,P1,Shirt,2,US,50,\n" +
	"2024-05-03,2024-05-03 12:00,=\"1003\",Beta,,P2,Pants,1,KR,200,\n"

const mappingCSV = "상품번호,상품명,브랜드,카테고리\nP1,Shirt,Acme,Tops\nP2,Pants,Beta,Bottoms\n"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		MaxUploadBytes: 1 << 20,
		DefaultTopN:    5,
		Coercion:       "lenient",
		Descriptors:    "unfiltered",
		DropSubHeader:  true,
		DisplayRows:    100,
		Workers:        2,
	}
}

func newTestHandlers() (*APIHandlers, *services.Pipeline) {
	logger := testLogger()
	store := session.NewStore(time.Hour, func() *services.Pipeline {
		return services.NewPipeline(services.DefaultOptions(), logger)
	}, logger)
	return NewAPIHandlers(store, testPipelineConfig(), logger), services.NewPipeline(services.DefaultOptions(), logger)
}

func withPipeline(r *http.Request, p *services.Pipeline) *http.Request {
	return r.WithContext(session.WithPipeline(r.Context(), p))
}

func uploadRequest(t *testing.T, path, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() failed: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	return req
}

func loadMain(t *testing.T, h *APIHandlers, p *services.Pipeline) {
	t.Helper()
	w := httptest.NewRecorder()
	h.HandleUploadMain(w, withPipeline(uploadRequest(t, "/upload/main", "main.csv", []byte(mainCSV)), p))
	if w.Code != http.StatusOK {
		t.Fatalf("upload main: status %d, body %s", w.Code, w.Body.String())
	}
}

func TestAPIHandlers_HandleUploadMain(t *testing.T) {
	h, p := newTestHandlers()

	w := httptest.NewRecorder()
	h.HandleUploadMain(w, withPipeline(uploadRequest(t, "/upload/main", "main.csv", []byte(mainCSV)), p))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var response struct {
		Success bool         `json:"success"`
		Data    UploadResult `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !response.Success {
		t.Error("expected success to be true")
	}
	if response.Data.Rows != 3 {
		t.Errorf("expected 3 rows, got %d", response.Data.Rows)
	}
	if !response.Data.SubHeaderDropped {
		t.Error("expected sub-header row to be dropped")
	}
	if response.Data.Encoding != "UTF-8" {
		t.Errorf("expected UTF-8 encoding, got %q", response.Data.Encoding)
	}
	if len(response.Data.Fingerprint) != 16 {
		t.Errorf("expected 16 character fingerprint, got %q", response.Data.Fingerprint)
	}

	countries, selected := p.Countries()
	if len(countries) != 2 || countries[0] != "US" || countries[1] != "KR" {
		t.Errorf("unexpected countries %v", countries)
	}
	if selected != "US" {
		t.Errorf("expected US to be selected, got %q", selected)
	}
}

func TestAPIHandlers_HandleUploadMain_Redirect(t *testing.T) {
	h, p := newTestHandlers()

	req := uploadRequest(t, "/upload/main", "main.csv", []byte(mainCSV))
	req.Header.Del("Accept")
	w := httptest.NewRecorder()
	h.HandleUploadMain(w, withPipeline(req, p))

	if w.Code != http.StatusSeeOther {
		t.Errorf("expected status %d, got %d", http.StatusSeeOther, w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/" {
		t.Errorf("expected redirect to /, got %q", loc)
	}
}

func TestAPIHandlers_HandleUploadMain_Undecodable(t *testing.T) {
	h, p := newTestHandlers()

	w := httptest.NewRecorder()
	h.HandleUploadMain(w, withPipeline(uploadRequest(t, "/upload/main", "bad.csv", []byte{0xff, 0xff, 0xff, '\n'}), p))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status %d, got %d", http.StatusUnprocessableEntity, w.Code)
	}
	if !strings.Contains(w.Body.String(), "DECODE_ERROR") {
		t.Errorf("expected DECODE_ERROR in body, got %s", w.Body.String())
	}
	if p.Loaded() {
		t.Error("failed upload should leave the pipeline empty")
	}
}

func TestAPIHandlers_HandleUploadMain_TooLarge(t *testing.T) {
	h, p := newTestHandlers()
	h.cfg.MaxUploadBytes = 512

	w := httptest.NewRecorder()
	h.HandleUploadMain(w, withPipeline(uploadRequest(t, "/upload/main", "main.csv", []byte(strings.Repeat(mainCSV, 4))), p))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status %d, got %d", http.StatusRequestEntityTooLarge, w.Code)
	}
}

func TestAPIHandlers_HandleUploadMain_MissingFile(t *testing.T) {
	h, p := newTestHandlers()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("other", "value")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload/main", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := httptest.NewRecorder()
	h.HandleUploadMain(w, withPipeline(req, p))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestAPIHandlers_HandleUploadMapping(t *testing.T) {
	h, p := newTestHandlers()
	loadMain(t, h, p)

	w := httptest.NewRecorder()
	h.HandleUploadMapping(w, withPipeline(uploadRequest(t, "/upload/mapping", "map.csv", []byte(mappingCSV)), p))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	records, err := p.Records()
	if err != nil {
		t.Fatalf("Records() failed: %v", err)
	}
	want := []string{"Tops", "Tops", "Bottoms"}
	for i, r := range records {
		if r.Category != want[i] {
			t.Errorf("record %d: expected category %q, got %q", i, want[i], r.Category)
		}
	}
}

func TestAPIHandlers_ExportNoData(t *testing.T) {
	h, p := newTestHandlers()

	handlers := map[string]http.HandlerFunc{
		"merged.csv":  h.HandleExportMerged(FormatCSV),
		"merged.xlsx": h.HandleExportMerged(FormatXLSX),
		"topn.csv":    h.HandleExportTopN(FormatCSV),
		"topn.xlsx":   h.HandleExportTopN(FormatXLSX),
	}
	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler(w, withPipeline(httptest.NewRequest(http.MethodGet, "/export/"+name, nil), p))

			if w.Code != http.StatusNoContent {
				t.Errorf("expected status %d, got %d", http.StatusNoContent, w.Code)
			}
			if w.Body.Len() != 0 {
				t.Errorf("expected empty body, got %q", w.Body.String())
			}
		})
	}
}

func TestAPIHandlers_HandleExportMerged(t *testing.T) {
	h, p := newTestHandlers()
	loadMain(t, h, p)

	w := httptest.NewRecorder()
	h.HandleExportMerged(FormatCSV)(w, withPipeline(httptest.NewRequest(http.MethodGet, "/export/merged.csv", nil), p))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename=exported_data.csv` {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}

	lines := strings.Split(strings.TrimRight(w.Body.String(), "\r\n"), "\r\n")
	if len(lines) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d lines: %q", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "매출일자,") {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.Contains(lines[1], ",1001,") {
		t.Errorf("expected sanitized order id in %q", lines[1])
	}
}

func TestAPIHandlers_HandleExportTopN(t *testing.T) {
	h, p := newTestHandlers()
	loadMain(t, h, p)

	w := httptest.NewRecorder()
	h.HandleExportTopN(FormatCSV)(w, withPipeline(httptest.NewRequest(http.MethodGet, "/export/topn.csv?country=all&n=2", nil), p))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename=all_topN_data.csv` {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}

	want := "상품번호,상품명,브랜드,카테고리,거래액(원화,수량\r\n" +
		"P2,Pants,Beta,,200,1\r\n" +
		"P1,Shirt,Acme,,150,2\r\n"
	if got := w.Body.String(); got != want {
		t.Errorf("unexpected body:\n%q\nwant:\n%q", got, want)
	}
}

func TestAPIHandlers_HandleExportTopN_XLSX(t *testing.T) {
	h, p := newTestHandlers()
	loadMain(t, h, p)

	w := httptest.NewRecorder()
	h.HandleExportTopN(FormatXLSX)(w, withPipeline(httptest.NewRequest(http.MethodGet, "/export/topn.xlsx?country=KR", nil), p))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Errorf("unexpected content type %q", ct)
	}

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader() failed: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("TopN")
	if err != nil {
		t.Fatalf("GetRows() failed: %v", err)
	}
	if len(rows) != 2 || rows[1][0] != "P2" {
		t.Errorf("unexpected rows %v", rows)
	}
}

func TestAPIHandlers_HandleTopN(t *testing.T) {
	h, p := newTestHandlers()
	loadMain(t, h, p)

	tests := []struct {
		name   string
		query  string
		status int
		count  int
	}{
		{"stored selection", "", http.StatusOK, 1},
		{"all countries", "?country=all", http.StatusOK, 2},
		{"zero", "?country=all&n=0", http.StatusOK, 0},
		{"unknown country", "?country=FR", http.StatusOK, 0},
		{"bad n", "?n=abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.HandleTopN(w, withPipeline(httptest.NewRequest(http.MethodGet, "/api/topn"+tt.query, nil), p))

			if w.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, w.Code)
			}
			if tt.status != http.StatusOK {
				return
			}

			var response struct {
				Data []map[string]any `json:"data"`
			}
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if len(response.Data) != tt.count {
				t.Errorf("expected %d rows, got %d", tt.count, len(response.Data))
			}
		})
	}
}

func TestAPIHandlers_HandleCountries(t *testing.T) {
	h, p := newTestHandlers()

	w := httptest.NewRecorder()
	h.HandleCountries(w, withPipeline(httptest.NewRequest(http.MethodGet, "/api/countries", nil), p))
	if !strings.Contains(w.Body.String(), `"countries":[]`) {
		t.Errorf("expected empty country list before upload, got %s", w.Body.String())
	}

	loadMain(t, h, p)
	w = httptest.NewRecorder()
	h.HandleCountries(w, withPipeline(httptest.NewRequest(http.MethodGet, "/api/countries", nil), p))
	if !strings.Contains(w.Body.String(), `"countries":["US","KR"]`) {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestAPIHandlers_HandleRecords_NaNAsNull(t *testing.T) {
	h, p := newTestHandlers()
	csv := strings.Replace(mainCSV, ",US,100,", ",US,oops,", 1)
	w := httptest.NewRecorder()
	h.HandleUploadMain(w, withPipeline(uploadRequest(t, "/upload/main", "main.csv", []byte(csv)), p))
	if w.Code != http.StatusOK {
		t.Fatalf("upload failed: %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.HandleRecords(w, withPipeline(httptest.NewRequest(http.MethodGet, "/api/records", nil), p))
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), `"amount_krw":null`) {
		t.Errorf("expected NaN amount encoded as null, got %s", body)
	}
}

func TestAPIHandlers_NoSession(t *testing.T) {
	h, _ := newTestHandlers()

	w := httptest.NewRecorder()
	h.HandleRecords(w, httptest.NewRequest(http.MethodGet, "/api/records", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestAPIHandlers_HandleHealth(t *testing.T) {
	h, _ := newTestHandlers()

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Error("expected healthy status in body")
	}
}

func TestTopNFilenameStem(t *testing.T) {
	if got := TopNFilenameStem("KR"); got != "KR_topN_data" {
		t.Errorf("TopNFilenameStem() = %q", got)
	}
}
