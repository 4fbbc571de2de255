package service

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gymtable/gymtable-backend/internal/config"
	"github.com/gymtable/gymtable-backend/internal/extractor"
	"github.com/gymtable/gymtable-backend/internal/model"
	"github.com/gymtable/gymtable-backend/internal/store"
	"github.com/gymtable/gymtable-backend/internal/websocket"
	"github.com/rs/zerolog"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		ImageDir:       filepath.Join(root, "img"),
		JSONDir:        filepath.Join(root, "json"),
		AggregatedDir:  filepath.Join(root, "aggregated"),
		MaxUploadBytes: 1024,
	}
}

func record(date, slot, activity, day string, vacancy int) model.ClassRecord {
	return model.ClassRecord{
		Date: date, DayOfWeek: day, Timeslot: slot, Activity: activity,
		Venue: "Studio A", ClassType: "Group", Vacancy: vacancy,
	}
}

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(store.NewMemoryBackend())
	t.Cleanup(func() { s.Close() })
	_, err := s.UpsertBatch(context.Background(), []model.ClassRecord{
		record("2024-01-15", "10:00-11:00", "Yoga Flow", "Monday", 5),
		record("2024-01-15", "18:00-19:00", "Spin", "Monday", 0),
		record("2024-01-16", "09:00-10:00", "Power Yoga", "Tuesday", 12),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func intPtr(n int) *int { return &n }

func TestScheduleQueryPrecedence(t *testing.T) {
	svc := NewScheduleService(seededStore(t))
	ctx := context.Background()

	tests := []struct {
		name string
		q    ClassQuery
		want []string
	}{
		{"none", ClassQuery{}, []string{"Yoga Flow", "Spin", "Power Yoga"}},
		{"date wins", ClassQuery{Date: "2024-01-16", Activity: "spin"}, []string{"Power Yoga"}},
		{"activity over day", ClassQuery{Activity: "yoga", Day: "monday"}, []string{"Yoga Flow", "Power Yoga"}},
		{"day", ClassQuery{Day: "MON"}, []string{"Yoga Flow", "Spin"}},
		{"min vacancy", ClassQuery{MinVacancy: intPtr(5)}, []string{"Yoga Flow", "Power Yoga"}},
		{"no match", ClassQuery{Activity: "boxing"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Query(ctx, tt.q)
			if err != nil {
				t.Fatal(err)
			}
			names := make([]string, 0, len(got))
			for _, r := range got {
				names = append(names, r.Activity)
			}
			if strings.Join(names, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", names, tt.want)
			}
		})
	}
}

func TestClassQueryDescribe(t *testing.T) {
	if got := (ClassQuery{Day: "mon", MinVacancy: intPtr(1)}).Describe(); got != `day contains "mon"` {
		t.Errorf("Describe = %q", got)
	}
	if got := (ClassQuery{}).Describe(); got != "all classes" {
		t.Errorf("Describe = %q", got)
	}
}

func TestScheduleImport(t *testing.T) {
	svc := NewScheduleService(seededStore(t))
	ctx := context.Background()

	doc := `{"classes":[
		{"date":"2024-01-15","day_of_week":"Monday","timeslot":"10:00-11:00","activity":"Yoga Flow","venue":"Studio B","class_type":"Group","vacancy":1},
		{"date":"2024-01-17","day_of_week":"Wednesday","timeslot":"07:00-08:00","activity":"Boxing","venue":"Ring","class_type":"Group","vacancy":8}
	]}`
	stats, err := svc.Import(ctx, []byte(doc))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if stats != (model.BatchStats{Inserted: 1, Updated: 1}) {
		t.Errorf("stats = %+v", stats)
	}

	bad := `{"classes":[{"date":"2024-01-18","timeslot":"07:00","activity":"Row"}]}`
	_, err = svc.Import(ctx, []byte(bad))
	var be *model.BatchError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *model.BatchError", err)
	}

	summary, _ := svc.Summary(ctx)
	if len(summary) != 4 {
		t.Errorf("summary = %+v, the rejected import must not add classes", summary)
	}
}

func multipartFile(t *testing.T, name, contentType string, body []byte) (multipart.File, *multipart.FileHeader) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(body)
	w.Close()

	req := httptest.NewRequest("POST", "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	f, fh, err := req.FormFile("files")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f, fh
}

func TestSaveUpload(t *testing.T) {
	cfg := testConfig(t)
	svc := NewUploadService(cfg, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2024, 1, 15, 9, 30, 5, 123456000, time.UTC) }

	f, fh := multipartFile(t, "IMG_0001.PNG", "image/png", []byte("\x89PNG data"))
	saved, err := svc.SaveUpload(f, fh)
	if err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}

	if !regexp.MustCompile(`^gym_20240115_093005_123456_[0-9a-f]{8}\.png$`).MatchString(saved.SavedAs) {
		t.Errorf("SavedAs = %q", saved.SavedAs)
	}
	if saved.Original != "IMG_0001.PNG" || saved.Size != int64(len("\x89PNG data")) {
		t.Errorf("saved = %+v", saved)
	}
	if _, err := os.Stat(filepath.Join(cfg.ImageDir, saved.SavedAs)); err != nil {
		t.Errorf("file not on disk: %v", err)
	}
	if n, _ := svc.CountFiles(); n != 1 {
		t.Errorf("CountFiles = %d, want 1", n)
	}
}

func TestSaveUploadRejects(t *testing.T) {
	cfg := testConfig(t)
	svc := NewUploadService(cfg, zerolog.Nop())

	tests := []struct {
		name, ctype string
		size        int
		want        error
	}{
		{"not an image", "application/pdf", 10, ErrUnsupportedFileType},
		{"unreadable image", "image/gif", 10, ErrUnsupportedFileType},
		{"too large", "image/jpeg", 2048, ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, fh := multipartFile(t, "x", tt.ctype, bytes.Repeat([]byte("a"), tt.size))
			if _, err := svc.SaveUpload(f, fh); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if n, err := svc.CountFiles(); err != nil || n != 0 {
		t.Errorf("CountFiles = %d, %v; rejected uploads must not be stored", n, err)
	}
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first Acquire = %v, %v", ok, err)
	}
	if _, ok, _ := l.Acquire(ctx, "k", time.Minute); ok {
		t.Error("second Acquire succeeded while held")
	}
	release()
	if _, ok, _ := l.Acquire(ctx, "k", time.Minute); !ok {
		t.Error("Acquire after release failed")
	}

	if _, ok, _ := l.Acquire(ctx, "short", time.Nanosecond); !ok {
		t.Fatal("Acquire short failed")
	}
	time.Sleep(time.Millisecond)
	if _, ok, _ := l.Acquire(ctx, "short", time.Minute); !ok {
		t.Error("expired lock was not reclaimed")
	}
}

const yogaReply = `{"classes":[{"date":"2024-01-15","day_of_week":"Monday","timeslot":"10:00-11:00",` +
	`"activity":"Yoga","venue":"Studio A","class_type":"Group","vacancy":5}]}`

type stubEngine struct {
	reply string
	err   error
}

func (e stubEngine) ExtractImage(context.Context, string) (string, error) { return e.reply, e.err }

type recordingPublisher struct {
	mu     sync.Mutex
	events []websocket.JobEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev websocket.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPipelineRun(t *testing.T) {
	cfg := testConfig(t)
	writeImage(t, cfg.ImageDir, "a.png")
	writeImage(t, cfg.ImageDir, "b.jpg")

	st := store.New(store.NewMemoryBackend())
	defer st.Close()
	pub := &recordingPublisher{}
	ex := extractor.New(stubEngine{reply: yogaReply}, time.Second, zerolog.Nop())
	svc := NewPipelineService(cfg, ex, st, nil, pub, zerolog.Nop())

	report, err := svc.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Extraction == nil || len(report.Extraction.Written) != 2 {
		t.Errorf("extraction = %+v", report.Extraction)
	}
	// Both screenshots show the same class: one insert, one update.
	if report.Aggregation.Classes != 2 || report.Stats != (model.BatchStats{Inserted: 1, Updated: 1}) {
		t.Errorf("report = %+v", report)
	}
	if _, err := os.Stat(svc.AggregatedPath()); err != nil {
		t.Errorf("aggregated file missing: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].Event != websocket.EventPipeline {
		t.Errorf("events = %+v", pub.events)
	}

	all, _ := st.All(context.Background())
	if len(all) != 1 {
		t.Errorf("store has %d classes, want 1", len(all))
	}
}

func TestPipelineRunWithoutEngine(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.JSONDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.JSONDir, "a.json"), []byte(yogaReply), 0o644); err != nil {
		t.Fatal(err)
	}

	st := store.New(store.NewMemoryBackend())
	defer st.Close()
	svc := NewPipelineService(cfg, nil, st, nil, nil, zerolog.Nop())

	report, err := svc.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.ExtractSkipped || report.Stats.Inserted != 1 {
		t.Errorf("report = %+v", report)
	}

	if _, err := svc.Extract(context.Background(), false); !errors.Is(err, ErrExtractionDisabled) {
		t.Errorf("Extract err = %v", err)
	}
	if _, _, err := svc.ProcessImage(context.Background(), "x.png"); !errors.Is(err, ErrExtractionDisabled) {
		t.Errorf("ProcessImage err = %v", err)
	}
}

func TestPipelineRunBusy(t *testing.T) {
	cfg := testConfig(t)
	st := store.New(store.NewMemoryBackend())
	defer st.Close()

	locker := NewLocalLocker()
	release, _, _ := locker.Acquire(context.Background(), config.CacheKey.PipelineLockKey(), time.Minute)
	defer release()

	svc := NewPipelineService(cfg, nil, st, locker, nil, zerolog.Nop())
	if _, err := svc.Run(context.Background(), RunOptions{}); !errors.Is(err, ErrPipelineBusy) {
		t.Errorf("err = %v, want ErrPipelineBusy", err)
	}
}

func TestPipelineLoadMissingFile(t *testing.T) {
	cfg := testConfig(t)
	st := store.New(store.NewMemoryBackend())
	defer st.Close()

	svc := NewPipelineService(cfg, nil, st, nil, nil, zerolog.Nop())
	if _, err := svc.Load(context.Background(), ""); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}

func TestProcessImage(t *testing.T) {
	cfg := testConfig(t)
	img := writeImage(t, cfg.ImageDir, "gym_1.png")

	st := store.New(store.NewMemoryBackend())
	defer st.Close()
	ex := extractor.New(stubEngine{reply: yogaReply}, time.Second, zerolog.Nop())
	svc := NewPipelineService(cfg, ex, st, nil, nil, zerolog.Nop())

	n, stats, err := svc.ProcessImage(context.Background(), img)
	if err != nil {
		t.Fatalf("ProcessImage: %v", err)
	}
	if n != 1 || stats.Inserted != 1 {
		t.Errorf("n = %d, stats = %+v", n, stats)
	}
	if _, err := os.Stat(filepath.Join(cfg.JSONDir, "gym_1.json")); err != nil {
		t.Errorf("per-image JSON missing: %v", err)
	}

	bad := extractor.New(stubEngine{err: errors.New("quota")}, time.Second, zerolog.Nop())
	svc = NewPipelineService(cfg, bad, st, nil, nil, zerolog.Nop())
	var xe *extractor.ExtractError
	if _, _, err := svc.ProcessImage(context.Background(), img); !errors.As(err, &xe) {
		t.Errorf("err = %v, want *extractor.ExtractError", err)
	}
}
