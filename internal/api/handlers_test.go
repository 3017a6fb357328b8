package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/feed"
	"faceattend/internal/report"
	"faceattend/internal/store"
	"faceattend/internal/ws"
)

func init() { gin.SetMode(gin.TestMode) }

type stubEmbedder struct {
	descriptors map[string][]float32
	err         error
}

func (s *stubEmbedder) Init(context.Context) error { return nil }

func (s *stubEmbedder) ExtractDescriptor(_ context.Context, image []byte) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.descriptors[string(image)], nil
}

type testServer struct {
	router   *gin.Engine
	embedder *stubEmbedder
	feed     *feed.Memory
}

func newTestServer(t *testing.T, issuer *auth.Issuer) *testServer {
	t.Helper()
	emb := &stubEmbedder{descriptors: map[string][]float32{
		"alice.jpg": {0.3, 0, 0},
		"bob.jpg":   {0.6, 0, 0},
		"snapshot.jpg": {0, 0, 0},
		"stranger":  {4, 4, 4},
	}}
	f := feed.NewMemory(10)
	svc := attendance.NewService(store.NewMemory(), emb, attendance.Options{
		Threshold: attendance.DefaultMatchThreshold,
		Location:  time.UTC,
		Notifier:  notifierFunc(func(ctx context.Context, evt attendance.Event) error { return f.Push(ctx, evt) }),
	}, zap.NewNop())
	r := NewRouter(Deps{
		Service:        svc,
		Feed:           f,
		Issuer:         issuer,
		Passcode:       "letmein",
		MaxUploadBytes: 1 << 20,
		Health: map[string]HealthCheck{
			"store": func(context.Context) error { return nil },
		},
	})
	return &testServer{router: r, embedder: emb, feed: f}
}

type notifierFunc func(ctx context.Context, evt attendance.Event) error

func (f notifierFunc) Notify(ctx context.Context, evt attendance.Event) error { return f(ctx, evt) }

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func enrollRequest(t *testing.T, name, studentID, image string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("name", name)
	_ = mw.WriteField("student_id", studentID)
	if image != "" {
		fw, err := mw.CreateFormFile("photo", "capture.jpg")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte(image))
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/v1/students", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func scanRequest(t *testing.T, image string) *http.Request {
	t.Helper()
	return jsonRequest(t, http.MethodPost, "/v1/attendance/scan", gin.H{
		"image": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte(image)),
	})
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body
}

func (s *testServer) enroll(t *testing.T, name, studentID, image string) string {
	t.Helper()
	w := s.do(t, enrollRequest(t, name, studentID, image))
	if w.Code != http.StatusCreated {
		t.Fatalf("enroll %s: status %d body %s", studentID, w.Code, w.Body.String())
	}
	return decodeBody(t, w)["id"].(string)
}

func TestEnrollStatuses(t *testing.T) {
	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing name",
			req:        func(t *testing.T) *http.Request { return enrollRequest(t, "", "S9", "alice.jpg") },
			wantStatus: http.StatusBadRequest,
			wantCode:   "missing_input",
		},
		{
			name:       "missing photo",
			req:        func(t *testing.T) *http.Request { return enrollRequest(t, "Carol", "S9", "") },
			wantStatus: http.StatusBadRequest,
			wantCode:   "missing_input",
		},
		{
			name:       "no face",
			req:        func(t *testing.T) *http.Request { return enrollRequest(t, "Carol", "S9", "ceiling.jpg") },
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "no_face_detected",
		},
		{
			name:       "duplicate student id",
			req:        func(t *testing.T) *http.Request { return enrollRequest(t, "Carol", "S1", "bob.jpg") },
			wantStatus: http.StatusConflict,
			wantCode:   "duplicate_student_id",
		},
		{
			name: "malformed json",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/v1/students", bytes.NewBufferString("{"))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "bad_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			s.enroll(t, "Alice", "S1", "alice.jpg")

			w := s.do(t, tt.req(t))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := decodeBody(t, w)["error"]; got != tt.wantCode {
				t.Fatalf("error = %v, want %s", got, tt.wantCode)
			}
		})
	}
}

func TestEnrollJSONBody(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, jsonRequest(t, http.MethodPost, "/v1/students", gin.H{
		"name":       "Alice",
		"student_id": "S1",
		"image":      base64.StdEncoding.EncodeToString([]byte("alice.jpg")),
	}))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["student_id"] != "S1" || body["name"] != "Alice" {
		t.Fatalf("body = %v", body)
	}
	if _, leaked := body["face_descriptor"]; leaked {
		t.Fatal("descriptor exposed in response")
	}
}

func TestScanFlow(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, scanRequest(t, "snapshot.jpg"))
	if w.Code != http.StatusPreconditionFailed || decodeBody(t, w)["error"] != "no_students_enrolled" {
		t.Fatalf("empty roster: status %d body %s", w.Code, w.Body.String())
	}

	aliceID := s.enroll(t, "Alice", "S1", "alice.jpg")
	s.enroll(t, "Bob", "S2", "bob.jpg")

	w = s.do(t, scanRequest(t, "stranger"))
	if w.Code != http.StatusNotFound || decodeBody(t, w)["error"] != "not_recognized" {
		t.Fatalf("stranger: status %d body %s", w.Code, w.Body.String())
	}

	w = s.do(t, scanRequest(t, "snapshot.jpg"))
	if w.Code != http.StatusOK {
		t.Fatalf("scan: status %d body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	student := body["student"].(map[string]any)
	if student["id"] != aliceID {
		t.Fatalf("matched %v, want %s", student["id"], aliceID)
	}
	if conf := body["confidence"].(float64); conf < 0.69 || conf > 0.71 {
		t.Fatalf("confidence = %v", conf)
	}
	first := body["record"].(map[string]any)

	w = s.do(t, scanRequest(t, "snapshot.jpg"))
	if w.Code != http.StatusConflict {
		t.Fatalf("rescan: status %d body %s", w.Code, w.Body.String())
	}
	body = decodeBody(t, w)
	if body["error"] != "already_marked" {
		t.Fatalf("rescan error = %v", body["error"])
	}
	again := body["record"].(map[string]any)
	if again["id"] != first["id"] || again["timestamp"] != first["timestamp"] {
		t.Fatalf("rescan record %v, want %v", again, first)
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/attendance/today", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("today: status %d", w.Code)
	}
	sum := decodeBody(t, w)
	if len(sum["present"].([]any)) != 1 || len(sum["absent"].([]any)) != 1 {
		t.Fatalf("summary = %v", sum)
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/feed?limit=5", nil))
	events := decodeBody(t, w)["events"].([]any)
	if len(events) != 3 || events[0].(map[string]any)["type"] != attendance.EventAttendanceMarked {
		t.Fatalf("feed = %v", events)
	}
}

func TestScanProviderDown(t *testing.T) {
	s := newTestServer(t, nil)
	s.enroll(t, "Alice", "S1", "alice.jpg")
	s.embedder.err = errors.New("dial tcp: connection refused")

	w := s.do(t, scanRequest(t, "snapshot.jpg"))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != "provider_unavailable" || body["message"] != attendance.ErrProviderUnavailable.Error() {
		t.Fatalf("body = %v", body)
	}
}

func TestStudentEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	aliceID := s.enroll(t, "Alice Dvořák", "S1", "alice.jpg")
	s.enroll(t, "Bob", "S2", "bob.jpg")

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/students?q=dvorak", nil))
	if got := decodeBody(t, w)["total"]; got != float64(1) {
		t.Fatalf("search total = %v", got)
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/students/"+aliceID+"/photo", nil))
	if w.Code != http.StatusOK || w.Body.String() != "alice.jpg" {
		t.Fatalf("photo: status %d body %q", w.Code, w.Body.String())
	}

	w = s.do(t, httptest.NewRequest(http.MethodPost, "/v1/students/"+aliceID+"/attendance", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("manual: status %d body %s", w.Code, w.Body.String())
	}
	w = s.do(t, httptest.NewRequest(http.MethodPost, "/v1/students/"+aliceID+"/attendance", nil))
	if w.Code != http.StatusConflict || decodeBody(t, w)["record"] == nil {
		t.Fatalf("manual again: status %d body %s", w.Code, w.Body.String())
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/students/"+aliceID+"/attendance", nil))
	if recs := decodeBody(t, w)["records"].([]any); len(recs) != 1 {
		t.Fatalf("records = %v", recs)
	}

	w = s.do(t, httptest.NewRequest(http.MethodDelete, "/v1/students/"+aliceID, nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", w.Code)
	}
	w = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/students/"+aliceID, nil))
	if w.Code != http.StatusNotFound || decodeBody(t, w)["error"] != "student_not_found" {
		t.Fatalf("get deleted: status %d body %s", w.Code, w.Body.String())
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/attendance", nil))
	if recs := decodeBody(t, w)["records"].([]any); len(recs) != 1 {
		t.Fatalf("history lost after delete: %v", recs)
	}
}

func TestAttendanceDateParam(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/attendance?date=09-03-2026", nil))
	if w.Code != http.StatusBadRequest || decodeBody(t, w)["error"] != "bad_date" {
		t.Fatalf("bad date: status %d body %s", w.Code, w.Body.String())
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/attendance?date=2026-03-09", nil))
	body := decodeBody(t, w)
	if w.Code != http.StatusOK || body["date"] != "2026-03-09" || len(body["records"].([]any)) != 0 {
		t.Fatalf("status %d body %v", w.Code, body)
	}
}

func TestExport(t *testing.T) {
	s := newTestServer(t, nil)
	s.enroll(t, "Alice", "S1", "alice.jpg")

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/attendance/export?date=2026-03-09", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != report.ContentType {
		t.Fatalf("content type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != "attachment; filename="+report.Filename("2026-03-09") {
		t.Fatalf("content disposition = %q", cd)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Fatal("export is not a zip container")
	}
}

func TestOperatorAuth(t *testing.T) {
	issuer := auth.NewIssuer("faceattend", "test-signing-key", time.Minute, time.Hour)
	s := newTestServer(t, issuer)

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/students", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", w.Code)
	}

	w = s.do(t, jsonRequest(t, http.MethodPost, "/v1/auth/token", gin.H{"passcode": "wrong"}))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong passcode: status %d", w.Code)
	}

	w = s.do(t, jsonRequest(t, http.MethodPost, "/v1/auth/token", gin.H{"passcode": "letmein", "operator": "desk-1"}))
	if w.Code != http.StatusOK {
		t.Fatalf("token: status %d body %s", w.Code, w.Body.String())
	}
	var pair auth.TokenPair
	if err := json.Unmarshal(w.Body.Bytes(), &pair); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/students", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	if w = s.do(t, req); w.Code != http.StatusOK {
		t.Fatalf("with token: status %d body %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/students", nil)
	req.Header.Set("Authorization", "Bearer "+pair.RefreshToken)
	if w = s.do(t, req); w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh token as access: status %d", w.Code)
	}

	w = s.do(t, jsonRequest(t, http.MethodPost, "/v1/auth/refresh", gin.H{"refresh_token": pair.RefreshToken}))
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", w.Code, w.Body.String())
	}
	w = s.do(t, jsonRequest(t, http.MethodPost, "/v1/auth/refresh", gin.H{"refresh_token": pair.AccessToken}))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh with access token: status %d", w.Code)
	}
}

func TestWebSocketWithOperatorAuth(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := ws.NewHub(zap.NewNop())
	go hub.Run(ctx)

	issuer := auth.NewIssuer("faceattend", "test-signing-key", time.Minute, time.Hour)
	svc := attendance.NewService(store.NewMemory(), &stubEmbedder{}, attendance.Options{Location: time.UTC}, zap.NewNop())
	srv := httptest.NewServer(NewRouter(Deps{Service: svc, Hub: hub, Issuer: issuer, Passcode: "letmein"}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"

	pair, err := issuer.Issue("desk-1")
	if err != nil {
		t.Fatal(err)
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token: err %v resp %v", err, resp)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+pair.AccessToken, nil)
	if err != nil {
		t.Fatalf("dial with query token: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	header := http.Header{"Authorization": {"Bearer " + pair.AccessToken}}
	conn2, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial with header token: %v", err)
	}
	conn2.Close()
}

func TestAuthDisabled(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, jsonRequest(t, http.MethodPost, "/v1/auth/token", gin.H{"passcode": "letmein"}))
	if w.Code != http.StatusNotFound || decodeBody(t, w)["error"] != "auth_disabled" {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	if w = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/students", nil)); w.Code != http.StatusOK {
		t.Fatalf("students without auth: status %d", w.Code)
	}
}

func TestHealthAndNoRoute(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	body := decodeBody(t, w)
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: status %d body %v", w.Code, body)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("request id header missing")
	}

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound || decodeBody(t, w)["error"] != "not_found" {
		t.Fatalf("no route: status %d", w.Code)
	}
}

func TestUploadTooLarge(t *testing.T) {
	s := newTestServer(t, nil)
	big := bytes.Repeat([]byte("a"), 2<<20)
	w := s.do(t, enrollRequest(t, "Alice", "S1", string(big)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
}

func TestJSONUploadLimit(t *testing.T) {
	s := newTestServer(t, nil)
	s.enroll(t, "Alice", "S1", "alice.jpg")

	tests := []struct {
		name       string
		size       int
		wantStatus int
	}{
		// base64 inflates the body past the 1 MiB image limit
		{name: "just under limit", size: 900 << 10, wantStatus: http.StatusUnprocessableEntity},
		{name: "exactly at limit", size: 1 << 20, wantStatus: http.StatusUnprocessableEntity},
		{name: "over limit", size: 1<<20 + 1, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "far over limit", size: 3 << 20, wantStatus: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, scanRequest(t, string(bytes.Repeat([]byte{0xff}, tt.size))))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestBodyLimit(t *testing.T) {
	if got := bodyLimit(3000, true); got != 3000+64<<10 {
		t.Fatalf("multipart limit = %d", got)
	}
	if got := bodyLimit(3000, false); got != 4000+64<<10 {
		t.Fatalf("json limit = %d", got)
	}
}

func TestDecodeImage(t *testing.T) {
	raw := []byte{0xff, 0xd8, 0xff, 0xe0}
	std := base64.StdEncoding.EncodeToString(raw)
	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{
		{name: "empty", in: "  "},
		{name: "bare base64", in: std, want: raw},
		{name: "data url", in: "data:image/jpeg;base64," + std, want: raw},
		{name: "unpadded", in: base64.RawStdEncoding.EncodeToString(raw[:2]), want: raw[:2]},
		{name: "data url without payload", in: "data:image/jpeg;base64", wantErr: true},
		{name: "garbage", in: "not base64!!", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeImage(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorBodyHidesInternals(t *testing.T) {
	err := errors.Join(attendance.ErrStorageFailure, errors.New("pq: password authentication failed"))
	status, body := errorBody(err, nil)
	if status != http.StatusInternalServerError || body["message"] != attendance.ErrStorageFailure.Error() {
		t.Fatalf("status %d body %v", status, body)
	}
	status, body = errorBody(errors.New("boom"), gin.H{"extra": 1})
	if status != http.StatusInternalServerError || body["error"] != "internal" || body["extra"] != 1 {
		t.Fatalf("status %d body %v", status, body)
	}
}
