package router

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gymtable/gymtable-backend/internal/config"
	"github.com/gymtable/gymtable-backend/internal/handler"
	"github.com/gymtable/gymtable-backend/internal/model"
	"github.com/gymtable/gymtable-backend/internal/service"
	"github.com/gymtable/gymtable-backend/internal/store"
	"github.com/gymtable/gymtable-backend/internal/validator"
	"github.com/rs/zerolog"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := validator.Setup(); err != nil {
		panic(err)
	}
}

type testServer struct {
	router *gin.Engine
	store  *store.Store
	cfg    *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		GinMode:        gin.TestMode,
		ImageDir:       filepath.Join(root, "img"),
		JSONDir:        filepath.Join(root, "json"),
		AggregatedDir:  filepath.Join(root, "aggregated"),
		MaxUploadBytes: 1 << 20,
	}

	log := zerolog.Nop()
	st := store.New(store.NewMemoryBackend())
	t.Cleanup(func() { st.Close() })

	uploads := service.NewUploadService(cfg, log)
	pipeline := service.NewPipelineService(cfg, nil, st, nil, nil, log)
	schedule := service.NewScheduleService(st)

	r := SetupRouter(&Handlers{
		Upload:   handler.NewUploadHandler(uploads, nil, log),
		System:   handler.NewSystemHandler(uploads, pipeline, nil, log),
		Class:    handler.NewClassHandler(schedule, log),
		Pipeline: handler.NewPipelineHandler(pipeline, nil, 0, log),
		WS:       handler.NewWSHandler(nil, log, nil),
	}, cfg)

	return &testServer{router: r, store: st, cfg: cfg}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
	Metadata struct {
		RequestID string `json:"request_id"`
		Count     *int   `json:"count"`
	} `json:"metadata"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return env
}

const importDoc = `{"classes":[
	{"date":"2024-01-15","day_of_week":"Monday","timeslot":"10:00-11:00","activity":"Yoga Flow","venue":"Studio A","class_type":"Group","vacancy":5},
	{"date":"2024-01-15","day_of_week":"Monday","timeslot":"18:00-19:00","activity":"Spin","venue":"Bike Room","class_type":"Group","vacancy":0},
	{"date":"2024-01-16","day_of_week":"Tuesday","timeslot":"09:00-10:00","activity":"Power Yoga","venue":"Studio B","class_type":"Group","vacancy":12}
]}`

func (s *testServer) importClasses(t *testing.T) {
	t.Helper()
	w := s.do(httptest.NewRequest(http.MethodPost, "/api/v1/classes/import", strings.NewReader(importDoc)))
	if w.Code != http.StatusOK {
		t.Fatalf("import: %d %s", w.Code, w.Body.String())
	}
}

func TestImportAndQuery(t *testing.T) {
	s := newTestServer(t)

	w := s.do(httptest.NewRequest(http.MethodPost, "/api/v1/classes/import", strings.NewReader(importDoc)))
	if w.Code != http.StatusOK {
		t.Fatalf("import: %d %s", w.Code, w.Body.String())
	}
	var stats model.BatchStats
	json.Unmarshal(decode(t, w).Data, &stats)
	if stats != (model.BatchStats{Inserted: 3}) {
		t.Errorf("stats = %+v", stats)
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"Yoga Flow", "Spin", "Power Yoga"}},
		{"?date=2024-01-15", []string{"Yoga Flow", "Spin"}},
		{"?activity=YOGA", []string{"Yoga Flow", "Power Yoga"}},
		{"?day=tue", []string{"Power Yoga"}},
		{"?min_vacancy=1", []string{"Yoga Flow", "Power Yoga"}},
		{"?date=2024-01-16&activity=spin", []string{"Power Yoga"}},
		{"?activity=pilates", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/classes"+tt.query, nil))
			if w.Code != http.StatusOK {
				t.Fatalf("status %d: %s", w.Code, w.Body.String())
			}
			env := decode(t, w)
			var data struct {
				Classes []model.ClassRecord `json:"classes"`
			}
			json.Unmarshal(env.Data, &data)

			got := make([]string, 0, len(data.Classes))
			for _, c := range data.Classes {
				got = append(got, c.Activity)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if env.Metadata.Count == nil || *env.Metadata.Count != len(tt.want) {
				t.Errorf("metadata count = %v", env.Metadata.Count)
			}
			if data.Classes == nil {
				t.Error("classes must be an empty list, not null")
			}
		})
	}
}

func TestQueryValidation(t *testing.T) {
	s := newTestServer(t)

	for _, q := range []string{"?date=15-01-2024", "?min_vacancy=-1", "?min_vacancy=lots"} {
		w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/classes"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", q, w.Code)
			continue
		}
		if env := decode(t, w); env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
			t.Errorf("%s: error = %+v", q, env.Error)
		}
	}

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/classes?date=15-01-2024", nil))
	if got := decode(t, w).Error.Fields["date"]; got != "date does not match the 2006-01-02 format" {
		t.Errorf("date message = %q", got)
	}
}

func TestSummary(t *testing.T) {
	s := newTestServer(t)
	s.importClasses(t)
	s.do(httptest.NewRequest(http.MethodPut, "/api/v1/classes", strings.NewReader(
		`{"date":"2024-01-17","day_of_week":"Wednesday","timeslot":"07:00-08:00","activity":"Spin","venue":"Bike Room","class_type":"Group","vacancy":3}`)))

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/classes/summary", nil))
	var data struct {
		Activities []model.ActivityCount `json:"activities"`
	}
	json.Unmarshal(decode(t, w).Data, &data)

	want := []model.ActivityCount{{Activity: "Spin", Count: 2}, {Activity: "Power Yoga", Count: 1}, {Activity: "Yoga Flow", Count: 1}}
	if len(data.Activities) != len(want) {
		t.Fatalf("activities = %+v", data.Activities)
	}
	for i := range want {
		if data.Activities[i] != want[i] {
			t.Errorf("activities[%d] = %+v, want %+v", i, data.Activities[i], want[i])
		}
	}
}

func TestImportRejectsInvalidBatch(t *testing.T) {
	s := newTestServer(t)

	bad := `{"classes":[
		{"date":"2024-01-15","day_of_week":"Monday","timeslot":"10:00-11:00","activity":"Yoga","venue":"A","class_type":"Group","vacancy":5},
		{"date":"2024-01-15","day_of_week":"Monday","timeslot":"11:00-12:00","activity":"Spin","venue":"A","class_type":"Group","vacancy":"many"},
		{"date":"2024-01-15","timeslot":"12:00-13:00","activity":"Row","venue":"A","class_type":"Group","vacancy":1}
	]}`
	w := s.do(httptest.NewRequest(http.MethodPost, "/api/v1/classes/import", strings.NewReader(bad)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	env := decode(t, w)
	if env.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %s", env.Error.Code)
	}
	if _, ok := env.Error.Fields["classes[1].vacancy"]; !ok {
		t.Errorf("fields = %v, want classes[1].vacancy", env.Error.Fields)
	}
	if got := env.Error.Fields["classes[2].day_of_week"]; got != "day_of_week is a required field" {
		t.Errorf("classes[2].day_of_week = %q, want the English message", got)
	}

	all, _ := s.store.All(context.Background())
	if len(all) != 0 {
		t.Errorf("store has %d records after a rejected batch", len(all))
	}

	for _, body := range []string{"", "{not json", `{"classes": {}}`} {
		w := s.do(httptest.NewRequest(http.MethodPost, "/api/v1/classes/import", strings.NewReader(body)))
		if w.Code != http.StatusBadRequest || decode(t, w).Error.Code != "INVALID_PAYLOAD" {
			t.Errorf("body %q: %d %s", body, w.Code, w.Body.String())
		}
	}

	w = s.do(httptest.NewRequest(http.MethodPost, "/api/v1/classes/import", strings.NewReader(`{"schedule":[]}`)))
	if w.Code != http.StatusBadRequest || decode(t, w).Error.Code != "VALIDATION_ERROR" {
		t.Errorf("missing classes key: %d %s", w.Code, w.Body.String())
	}
}

func TestUpsertClass(t *testing.T) {
	s := newTestServer(t)
	rec := `{"date":"2024-01-15","day_of_week":"Monday","timeslot":"10:00-11:00","activity":"Yoga","venue":"A","class_type":"Group","vacancy":5}`

	if w := s.do(httptest.NewRequest(http.MethodPut, "/api/v1/classes", strings.NewReader(rec))); w.Code != http.StatusCreated {
		t.Errorf("insert: %d %s", w.Code, w.Body.String())
	}
	updated := strings.Replace(rec, `"vacancy":5`, `"vacancy":2`, 1)
	if w := s.do(httptest.NewRequest(http.MethodPut, "/api/v1/classes", strings.NewReader(updated))); w.Code != http.StatusOK {
		t.Errorf("update: %d %s", w.Code, w.Body.String())
	}

	all, _ := s.store.All(context.Background())
	if len(all) != 1 || all[0].Vacancy != 2 {
		t.Errorf("store = %+v", all)
	}

	neg := strings.Replace(rec, `"vacancy":5`, `"vacancy":-1`, 1)
	w := s.do(httptest.NewRequest(http.MethodPut, "/api/v1/classes", strings.NewReader(neg)))
	if w.Code != http.StatusBadRequest || decode(t, w).Error.Fields["vacancy"] != "vacancy must be 0 or greater" {
		t.Errorf("negative vacancy: %d %s", w.Code, w.Body.String())
	}
}

func TestUpsertClassRequiresEveryField(t *testing.T) {
	s := newTestServer(t)

	partial := `{"date":"2024-01-15","timeslot":"10:00-11:00","activity":"Yoga"}`
	w := s.do(httptest.NewRequest(http.MethodPut, "/api/v1/classes", strings.NewReader(partial)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	env := decode(t, w)
	if env.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %s", env.Error.Code)
	}
	for _, field := range []string{"day_of_week", "venue", "class_type", "vacancy"} {
		if got := env.Error.Fields[field]; got != field+" is a required field" {
			t.Errorf("%s = %q", field, got)
		}
	}

	mistyped := `{"date":"2024-01-15","day_of_week":"Monday","timeslot":"10:00-11:00","activity":"Yoga","venue":"A","class_type":"Group","vacancy":"five"}`
	w = s.do(httptest.NewRequest(http.MethodPut, "/api/v1/classes", strings.NewReader(mistyped)))
	if w.Code != http.StatusBadRequest || decode(t, w).Error.Fields["vacancy"] == "" {
		t.Errorf("mistyped vacancy: %d %s", w.Code, w.Body.String())
	}

	w = s.do(httptest.NewRequest(http.MethodPut, "/api/v1/classes", strings.NewReader(`{"date":`)))
	if w.Code != http.StatusBadRequest || decode(t, w).Error.Code != "INVALID_PAYLOAD" {
		t.Errorf("broken JSON: %d %s", w.Code, w.Body.String())
	}

	all, _ := s.store.All(context.Background())
	if len(all) != 0 {
		t.Errorf("store = %+v, want nothing written", all)
	}
}

func TestClosedStore(t *testing.T) {
	s := newTestServer(t)
	s.store.Close()

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/classes", nil))
	if w.Code != http.StatusServiceUnavailable || decode(t, w).Error.Code != "STORE_CLOSED" {
		t.Errorf("closed store: %d %s", w.Code, w.Body.String())
	}
}

func uploadRequest(t *testing.T, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, ctype := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
		h.Set("Content-Type", ctype)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		part.Write([]byte("image bytes"))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadAndHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(uploadRequest(t, map[string]string{
		"one.png":   "image/png",
		"two.jpg":   "image/jpeg",
		"notes.txt": "text/plain",
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", w.Code, w.Body.String())
	}
	var res handler.UploadResult
	json.Unmarshal(decode(t, w).Data, &res)
	if res.Success != 2 || res.Failed != 1 || len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "notes.txt:") {
		t.Errorf("result = %+v", res)
	}
	for _, f := range res.Files {
		if !strings.HasPrefix(f.SavedAs, "gym_") || f.JobID != "" {
			t.Errorf("file = %+v", f)
		}
	}

	entries, _ := os.ReadDir(s.cfg.ImageDir)
	if len(entries) != 2 {
		t.Errorf("image dir has %d files, want 2", len(entries))
	}

	w = s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	var health struct {
		Status       string `json:"status"`
		UploadDir    string `json:"upload_dir"`
		TotalFiles   int    `json:"total_files"`
		QueueEnabled bool   `json:"queue_enabled"`
	}
	json.Unmarshal(decode(t, w).Data, &health)
	if health.Status != "ok" || health.TotalFiles != 2 || health.QueueEnabled || !filepath.IsAbs(health.UploadDir) {
		t.Errorf("health = %+v", health)
	}

	if len(res.Files) > 0 {
		w = s.do(httptest.NewRequest(http.MethodGet, "/img/"+res.Files[0].SavedAs, nil))
		if w.Code != http.StatusOK || w.Header().Get("Cache-Control") == "" {
			t.Errorf("static image: %d %v", w.Code, w.Header())
		}
	}
}

func TestUploadRequiresFiles(t *testing.T) {
	s := newTestServer(t)
	w := s.do(uploadRequest(t, nil))
	if w.Code != http.StatusBadRequest || decode(t, w).Error.Code != "FILE_REQUIRED" {
		t.Errorf("empty upload: %d %s", w.Code, w.Body.String())
	}
}

func TestUploadPage(t *testing.T) {
	s := newTestServer(t)
	w := s.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("page: %d %v", w.Code, w.Header())
	}
	if !strings.Contains(w.Body.String(), `name="files"`) {
		t.Error("page has no file input")
	}
}

func TestPipelineRunWithoutEngine(t *testing.T) {
	s := newTestServer(t)
	if err := os.MkdirAll(s.cfg.JSONDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.cfg.JSONDir, "a.json"), []byte(importDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	w := s.do(httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("run: %d %s", w.Code, w.Body.String())
	}
	var report service.PipelineReport
	json.Unmarshal(decode(t, w).Data, &report)
	if !report.ExtractSkipped || report.Stats.Inserted != 3 {
		t.Errorf("report = %+v", report)
	}
}

func TestQueueEndpointsDisabled(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/v1/jobs/abc", "/ws/v1/jobs"} {
		w := s.do(httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusServiceUnavailable || decode(t, w).Error.Code != "QUEUE_DISABLED" {
			t.Errorf("%s: %d %s", path, w.Code, w.Body.String())
		}
	}
}

func TestRequestIDEchoed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/classes", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := s.do(req)
	if w.Header().Get("X-Request-ID") != "req-42" || decode(t, w).Metadata.RequestID != "req-42" {
		t.Errorf("request id not echoed: %v %s", w.Header(), w.Body.String())
	}
}
