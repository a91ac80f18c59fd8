package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
)

type stubRecordings struct {
	gotReq  models.CreateRecordingRequest
	gotBody string
	file    string
}

func (s *stubRecordings) Upload(_ context.Context, user *models.AuthUser, req *models.CreateRecordingRequest, body io.Reader) (*models.Recording, error) {
	s.gotReq = *req
	b, _ := io.ReadAll(body)
	s.gotBody = string(b)
	if len(b) == 0 {
		return nil, pkg.ErrBadRequest
	}
	return &models.Recording{ID: "r1", GroupID: req.GroupID, UploadedBy: user.ID, FileSize: int64(len(b))}, nil
}

func (s *stubRecordings) ListByGroup(context.Context, string) ([]models.Recording, error) {
	return nil, nil
}

func (s *stubRecordings) Stats(_ context.Context, groupID string) (*models.GroupRecordingStats, error) {
	return &models.GroupRecordingStats{GroupID: groupID}, nil
}

func (s *stubRecordings) Open(_ context.Context, id string) (*models.Recording, *os.File, error) {
	if id != "r1" {
		return nil, nil, pkg.ErrNotFound
	}
	f, err := os.Open(s.file)
	return &models.Recording{ID: "r1", CreatedAt: time.Now()}, f, err
}

func (s *stubRecordings) Delete(context.Context, *models.AuthUser, string) error { return nil }

func withUser(r *http.Request, user *models.AuthUser) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), UserContextKey, user))
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data any) pkg.APIResponse {
	t.Helper()
	var env struct {
		pkg.APIResponse
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return env.APIResponse
}

func TestRecordingUploadStreamsMultipart(t *testing.T) {
	stub := &stubRecordings{}
	h := NewRecordingHandler(stub, 1<<20)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/groups/{groupId}/recordings", h.Upload)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("title", "Week 3")
	mw.WriteField("lesson_date", "2026-03-15")
	fw, _ := mw.CreateFormFile("file", "lesson.webm")
	fw.Write([]byte("webm-data"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/groups/g1/recordings", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, withUser(req, &models.AuthUser{ID: "t1", Role: models.RoleTeacher}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	want := models.CreateRecordingRequest{GroupID: "g1", Title: "Week 3", LessonDate: "2026-03-15"}
	if stub.gotReq != want || stub.gotBody != "webm-data" {
		t.Fatalf("service got %+v %q", stub.gotReq, stub.gotBody)
	}

	var out models.Recording
	decodeEnvelope(t, rec, &out)
	if out.ID != "r1" || out.UploadedBy != "t1" {
		t.Fatalf("response = %+v", out)
	}
}

func TestRecordingUploadRequiresFile(t *testing.T) {
	h := NewRecordingHandler(&stubRecordings{}, 1<<20)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("title", "no file")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/groups/g1/recordings", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.Upload(rec, withUser(req, &models.AuthUser{ID: "t1", Role: models.RoleTeacher}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec, nil); env.Success {
		t.Fatal("success on a missing file")
	}
}

func TestRecordingUploadWithoutUser(t *testing.T) {
	h := NewRecordingHandler(&stubRecordings{}, 1<<20)
	rec := httptest.NewRecorder()
	h.Upload(rec, httptest.NewRequest(http.MethodPost, "/api/groups/g1/recordings", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRecordingListAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r1.webm")
	os.WriteFile(path, []byte("0123456789"), 0o644)
	h := NewRecordingHandler(&stubRecordings{file: path}, 1<<20)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/groups/{groupId}/recordings", h.List)
	mux.HandleFunc("GET /api/recordings/{id}/file", h.File)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/groups/g1/recordings", nil))
	var list struct {
		Recordings []models.Recording         `json:"recordings"`
		Stats      models.GroupRecordingStats `json:"stats"`
	}
	decodeEnvelope(t, rec, &list)
	if list.Recordings == nil || list.Stats.GroupID != "g1" {
		t.Fatalf("list = %+v (%s)", list, rec.Body)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/recordings/r1/file", nil)
	req.Header.Set("Range", "bytes=2-4")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusPartialContent || rec.Body.String() != "234" {
		t.Fatalf("range = %d %q", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "video/webm" {
		t.Fatalf("content type = %q", ct)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/recordings/missing/file", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing = %d", rec.Code)
	}
}

type fixedCount int

func (c fixedCount) ConnectionCount() int { return int(c) }

func TestHealth(t *testing.T) {
	h := NewStatsHandler(fixedCount(3))
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var out StatsResponse
	env := decodeEnvelope(t, rec, &out)
	if !env.Success || out.Status != "ok" || out.Connections != 3 {
		t.Fatalf("health = %+v", out)
	}
}
