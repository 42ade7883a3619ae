package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"medreport/pkg/intake"
	"medreport/pkg/summarize"

	"github.com/gin-gonic/gin"
)

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string, contentType string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func setupTestServer(t *testing.T) (*gin.Engine, string) {
	// integration tests are opt-in. Set DB_DSN_TEST=1 and DB_DSN to run them.
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	gin.SetMode(gin.TestMode)
	cfg := loadConfig()
	uploadDir := t.TempDir()
	cfg.UploadDir = uploadDir
	cfg.StorageBackend = "local"

	var err error
	gdb, err = initDB(cfg)
	if err != nil {
		t.Fatalf("initDB failed: %v", err)
	}
	jwtSecret = cfg.JWTSecret
	corsOrigin = cfg.CORSOrigin
	fileStore, err = buildStore(cfg)
	if err != nil {
		t.Fatalf("buildStore failed: %v", err)
	}
	svc = NewReportService(
		NewReportRepository(gdb),
		fileStore,
		intake.NewFilter(cfg.MaxFileSize),
		summarize.Static{},
		uploadDir,
	)

	r := gin.New()
	setupRoutes(r)
	return r, uploadDir
}

// signupAndLogin provisions a fresh user and returns a bearer token.
func signupAndLogin(t *testing.T, r http.Handler, email string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": "pass123"})
	resp := performRequest(r, http.MethodPost, "/auth/signup", bytes.NewBuffer(body), "", "application/json")
	if resp.Code != http.StatusCreated {
		t.Fatalf("signup failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	body, _ = json.Marshal(map[string]string{"email": email, "password": "pass123"})
	resp = performRequest(r, http.MethodPost, "/auth/login", bytes.NewBuffer(body), "", "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("login failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var loginResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &loginResp)
	token, _ := loginResp["token"].(string)
	if token == "" {
		t.Fatalf("empty token in login response: %+v", loginResp)
	}
	return token
}

func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%d@example.com", prefix, time.Now().UnixNano())
}

// multipartReport builds a multipart body with name, type and file fields.
func multipartReport(t *testing.T, name, reportType, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	_ = mw.WriteField("name", name)
	_ = mw.WriteField("type", reportType)
	w, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = w.Write(content)
	_ = mw.Close()
	return buf, mw.FormDataContentType()
}

func decodeReport(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("bad response json: %v (%s)", err, body)
	}
	report, ok := resp["report"].(map[string]any)
	if !ok {
		t.Fatalf("response has no report object: %s", body)
	}
	return report
}

func patchStatus(r http.Handler, token string, id float64, status string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(map[string]string{"status": status})
	return performRequest(r, http.MethodPatch, fmt.Sprintf("/reports/%.0f/status", id), bytes.NewBuffer(body), token, "application/json")
}

func TestFullReportFlow(t *testing.T) {
	r, uploadDir := setupTestServer(t)
	token := signupAndLogin(t, r, uniqueEmail("flow"))

	content := []byte("%PDF-1.4 cbc panel result bytes")
	buf, ct := multipartReport(t, "CBC Panel", "Blood Test", "cbc.pdf", content)
	resp := performRequest(r, http.MethodPost, "/reports", buf, token, ct)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create report failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	report := decodeReport(t, resp.Body.Bytes())
	if report["status"] != "UPLOADED" {
		t.Fatalf("fresh report status = %v", report["status"])
	}
	if report["summary"] != nil {
		t.Fatalf("fresh report summary = %v", report["summary"])
	}
	id, _ := report["id"].(float64)
	filePath, _ := report["file_path"].(string)
	if id == 0 || filePath == "" {
		t.Fatalf("report missing id or file_path: %+v", report)
	}

	// stored bytes must match the upload exactly
	stored, err := os.ReadFile(filepath.Join(uploadDir, filepath.Base(filePath)))
	if err != nil {
		t.Fatalf("stored file unreadable: %v", err)
	}
	if !bytes.Equal(stored, content) {
		t.Fatal("stored bytes differ from uploaded content")
	}

	// the recorded file_path doubles as the retrieval URL
	resp = performRequest(r, http.MethodGet, "/"+filePath, nil, "", "")
	if resp.Code != http.StatusOK || !bytes.Equal(resp.Body.Bytes(), content) {
		t.Fatalf("file serve failed status=%d", resp.Code)
	}

	// list and get
	resp = performRequest(r, http.MethodGet, "/reports", nil, token, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("list failed status=%d", resp.Code)
	}
	var listed []map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &listed)
	if len(listed) != 1 {
		t.Fatalf("expected 1 report, got %d", len(listed))
	}
	resp = performRequest(r, http.MethodGet, fmt.Sprintf("/reports/%.0f", id), nil, token, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("get failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// UPLOADED -> PROCESSING
	resp = patchStatus(r, token, id, "PROCESSING")
	if resp.Code != http.StatusOK {
		t.Fatalf("advance to PROCESSING failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	report = decodeReport(t, resp.Body.Bytes())
	if report["status"] != "PROCESSING" || report["summary"] != nil {
		t.Fatalf("after PROCESSING: status=%v summary=%v", report["status"], report["summary"])
	}

	// PROCESSING -> COMPLETED attaches a non-empty summary
	resp = patchStatus(r, token, id, "COMPLETED")
	if resp.Code != http.StatusOK {
		t.Fatalf("advance to COMPLETED failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	report = decodeReport(t, resp.Body.Bytes())
	summary, _ := report["summary"].(string)
	if report["status"] != "COMPLETED" || summary == "" {
		t.Fatalf("after COMPLETED: status=%v summary=%q", report["status"], summary)
	}

	// summary survives re-reads unchanged
	resp = performRequest(r, http.MethodGet, fmt.Sprintf("/reports/%.0f", id), nil, token, "")
	var again map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &again)
	if again["summary"] != summary {
		t.Fatal("summary changed on re-read")
	}
}

func TestListReportsNewestFirst(t *testing.T) {
	r, _ := setupTestServer(t)
	token := signupAndLogin(t, r, uniqueEmail("ordering"))

	buf, ct := multipartReport(t, "First Upload", "Blood Test", "first.pdf", []byte("one"))
	resp := performRequest(r, http.MethodPost, "/reports", buf, token, ct)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create first failed: %s", resp.Body.String())
	}
	// keep created_at strictly apart
	time.Sleep(20 * time.Millisecond)
	buf, ct = multipartReport(t, "Second Upload", "MRI", "second.pdf", []byte("two"))
	resp = performRequest(r, http.MethodPost, "/reports", buf, token, ct)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create second failed: %s", resp.Body.String())
	}

	resp = performRequest(r, http.MethodGet, "/reports", nil, token, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("list failed status=%d", resp.Code)
	}
	var listed []map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &listed)
	if len(listed) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(listed))
	}
	if listed[0]["name"] != "Second Upload" || listed[1]["name"] != "First Upload" {
		t.Fatalf("reports not newest-first: %v then %v", listed[0]["name"], listed[1]["name"])
	}
}

func TestStatusUpdateConflict(t *testing.T) {
	r, _ := setupTestServer(t)
	token := signupAndLogin(t, r, uniqueEmail("conflict"))

	buf, ct := multipartReport(t, "ECG Strip", "ECG", "ecg.pdf", []byte("trace"))
	resp := performRequest(r, http.MethodPost, "/reports", buf, token, ct)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create failed: %s", resp.Body.String())
	}
	report := decodeReport(t, resp.Body.Bytes())
	id := uint(report["id"].(float64))
	userID := uint(report["user_id"].(float64))

	// a stale expected status means another writer won the race: the
	// compare-and-swap must match no row and change nothing
	repo := NewReportRepository(gdb)
	_, err := repo.UpdateStatusAndSummary(id, userID, "PROCESSING", "COMPLETED", nil)
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("stale CAS returned %v, want ErrStatusConflict", err)
	}
	fresh, err := repo.GetByIDForOwner(id, userID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Status != "UPLOADED" || fresh.Summary != nil {
		t.Fatalf("stale CAS mutated the row: status=%s summary=%v", fresh.Status, fresh.Summary)
	}
}

func TestStatusConflictMapsTo409(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	writeServiceError(c, ErrStatusConflict)
	if rec.Code != http.StatusConflict {
		t.Fatalf("ErrStatusConflict mapped to %d, want 409", rec.Code)
	}
}

func TestStatusTransitionRules(t *testing.T) {
	r, _ := setupTestServer(t)
	token := signupAndLogin(t, r, uniqueEmail("transitions"))

	buf, ct := multipartReport(t, "Chest X-Ray", "Radiology", "chest.png", []byte("png-bytes"))
	resp := performRequest(r, http.MethodPost, "/reports", buf, token, ct)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create failed: %s", resp.Body.String())
	}
	report := decodeReport(t, resp.Body.Bytes())
	id, _ := report["id"].(float64)

	// skipping a state is illegal
	if resp := patchStatus(r, token, id, "COMPLETED"); resp.Code != http.StatusBadRequest {
		t.Fatalf("UPLOADED -> COMPLETED returned %d", resp.Code)
	}
	// same state is illegal
	if resp := patchStatus(r, token, id, "UPLOADED"); resp.Code != http.StatusBadRequest {
		t.Fatalf("UPLOADED -> UPLOADED returned %d", resp.Code)
	}
	// unknown value is a 400
	if resp := patchStatus(r, token, id, "DONE"); resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown status returned %d", resp.Code)
	}
	// missing status is a 400
	resp = performRequest(r, http.MethodPatch, fmt.Sprintf("/reports/%.0f/status", id), bytes.NewBufferString("{}"), token, "application/json")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("missing status returned %d", resp.Code)
	}

	// the legal chain still works afterwards
	if resp := patchStatus(r, token, id, "PROCESSING"); resp.Code != http.StatusOK {
		t.Fatalf("PROCESSING failed: %s", resp.Body.String())
	}
	if resp := patchStatus(r, token, id, "COMPLETED"); resp.Code != http.StatusOK {
		t.Fatalf("COMPLETED failed: %s", resp.Body.String())
	}
	// regression from terminal is illegal
	if resp := patchStatus(r, token, id, "PROCESSING"); resp.Code != http.StatusBadRequest {
		t.Fatalf("COMPLETED -> PROCESSING returned %d", resp.Code)
	}
}

func TestCrossOwnerLookupIsNotFound(t *testing.T) {
	r, _ := setupTestServer(t)
	tokenA := signupAndLogin(t, r, uniqueEmail("owner-a"))
	tokenB := signupAndLogin(t, r, uniqueEmail("owner-b"))

	buf, ct := multipartReport(t, "MRI Scan", "MRI", "head.jpg", []byte("jpg"))
	resp := performRequest(r, http.MethodPost, "/reports", buf, tokenA, ct)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create failed: %s", resp.Body.String())
	}
	report := decodeReport(t, resp.Body.Bytes())
	id, _ := report["id"].(float64)

	// another user's lookup must be a plain 404, never a 403
	resp = performRequest(r, http.MethodGet, fmt.Sprintf("/reports/%.0f", id), nil, tokenB, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("cross-owner get returned %d, want 404", resp.Code)
	}
	if resp := patchStatus(r, tokenB, id, "PROCESSING"); resp.Code != http.StatusNotFound {
		t.Fatalf("cross-owner patch returned %d, want 404", resp.Code)
	}
	// B's listing must not include A's report
	resp = performRequest(r, http.MethodGet, "/reports", nil, tokenB, "")
	var listed []map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &listed)
	if len(listed) != 0 {
		t.Fatalf("cross-owner list leaked %d reports", len(listed))
	}
}

func TestRejectUnsupportedExtension(t *testing.T) {
	r, uploadDir := setupTestServer(t)
	token := signupAndLogin(t, r, uniqueEmail("badext"))

	buf, ct := multipartReport(t, "Nope", "Other", "malware.exe", []byte("MZ"))
	resp := performRequest(r, http.MethodPost, "/reports", buf, token, ct)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("exe upload returned %d", resp.Code)
	}
	// rejection happens before storage: no artifact may exist
	entries, _ := os.ReadDir(uploadDir)
	if len(entries) != 0 {
		t.Fatalf("rejected upload left %d artifacts", len(entries))
	}
}

func TestRejectOversizedFile(t *testing.T) {
	r, uploadDir := setupTestServer(t)
	token := signupAndLogin(t, r, uniqueEmail("toobig"))

	big := bytes.Repeat([]byte("a"), intake.DefaultMaxSize+1)
	buf, ct := multipartReport(t, "Huge", "Pathology", "huge.pdf", big)
	resp := performRequest(r, http.MethodPost, "/reports", buf, token, ct)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("oversized upload returned %d body=%s", resp.Code, resp.Body.String())
	}
	entries, _ := os.ReadDir(uploadDir)
	if len(entries) != 0 {
		t.Fatalf("rejected upload left %d artifacts", len(entries))
	}
}

func TestCreateReportValidation(t *testing.T) {
	r, _ := setupTestServer(t)
	token := signupAndLogin(t, r, uniqueEmail("validation"))

	// missing name
	buf, ct := multipartReport(t, "", "Blood Test", "a.pdf", []byte("x"))
	if resp := performRequest(r, http.MethodPost, "/reports", buf, token, ct); resp.Code != http.StatusBadRequest {
		t.Fatalf("missing name returned %d", resp.Code)
	}
	// unknown type
	buf, ct = multipartReport(t, "A", "Horoscope", "a.pdf", []byte("x"))
	if resp := performRequest(r, http.MethodPost, "/reports", buf, token, ct); resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown type returned %d", resp.Code)
	}
	// missing file
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	_ = mw.WriteField("name", "A")
	_ = mw.WriteField("type", "Blood Test")
	_ = mw.Close()
	if resp := performRequest(r, http.MethodPost, "/reports", body, token, mw.FormDataContentType()); resp.Code != http.StatusBadRequest {
		t.Fatalf("missing file returned %d", resp.Code)
	}
}

func TestUnauthenticatedRequests(t *testing.T) {
	r, _ := setupTestServer(t)

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/reports"},
		{http.MethodGet, "/reports/1"},
		{http.MethodPost, "/reports"},
		{http.MethodPatch, "/reports/1/status"},
	} {
		resp := performRequest(r, req.method, req.path, nil, "", "")
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s without token returned %d", req.method, req.path, resp.Code)
		}
	}
	// garbage token
	resp := performRequest(r, http.MethodGet, "/reports", nil, "not-a-jwt", "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token returned %d", resp.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := setupTestServer(t)
	resp := performRequest(r, http.MethodGet, "/health", nil, "", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("health returned %d", resp.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body["status"] != "ok" || body["timestamp"] == "" {
		t.Fatalf("health body = %s", resp.Body.String())
	}
}

func TestDuplicateSignup(t *testing.T) {
	r, _ := setupTestServer(t)
	email := uniqueEmail("dupe")
	signupAndLogin(t, r, email)
	body, _ := json.Marshal(map[string]string{"email": email, "password": "pass123"})
	resp := performRequest(r, http.MethodPost, "/auth/signup", bytes.NewBuffer(body), "", "application/json")
	if resp.Code != http.StatusConflict {
		t.Fatalf("duplicate signup returned %d", resp.Code)
	}
}
