package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"videoLabeler/api/config"
	"videoLabeler/api/dto"
	wconfig "videoLabeler/worker/config"
	"videoLabeler/worker/transcoder"
)

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	args = args[1:]
	if args[0] == "ffmpeg" {
		fmt.Fprint(os.Stderr, "frame=    5 fps=0.0\rframe=   10 fps=0.0\n")
		os.WriteFile(args[len(args)-1], []byte("out"), 0o644)
	} else {
		fmt.Println("10")
	}
	os.Exit(0)
}

func fakeCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, os.Args[0], append([]string{"-test.run=TestHelperProcess", "--", name}, args...)...)
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
	return cmd
}

type testServer struct {
	*httptest.Server
	state   *State
	dataDir string
	lpDir   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	lpDir := t.TempDir()
	dataDir := filepath.Join(lpDir, "mouse")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	projects := filepath.Join(lpDir, "projects.yaml")
	if err := os.WriteFile(projects, []byte("active: mouse\nprojects:\n  mouse:\n    data_dir: "+dataDir+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Env:          "test",
		LPDir:        lpDir,
		UploadsDir:   filepath.Join(lpDir, "uploads"),
		ProjectsFile: projects,
		MaxFileSize:  1 << 20,
		Worker: &wconfig.Config{
			TranscodeWorkers: 1,
			PollInterval:     10 * time.Millisecond,
			UploadRetention:  24 * time.Hour,
		},
	}
	state := New(context.Background(), cfg, zaptest.NewLogger(t), WithTranscoderOptions(transcoder.WithCommand(fakeCommand)))
	srv := httptest.NewServer(NewRouter(state))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, state: state, dataDir: dataDir, lpDir: lpDir}
}

func (s *testServer) upload(t *testing.T, filename string, overwrite bool) *http.Response {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	w.WriteField("projectKey", "mouse")
	w.WriteField("filename", filename)
	w.WriteField("should_overwrite", fmt.Sprint(overwrite))
	part, _ := w.CreateFormFile("file", filename)
	part.Write([]byte("\x00\x00\x00\x18ftypisom"))
	w.Close()

	resp, err := http.Post(s.URL+"/app/v0/rpc/UploadVideo", w.FormDataContentType(), body)
	if err != nil {
		t.Fatalf("Upload request failed: %v", err)
	}
	resp.Body.Close()
	return resp
}

func TestRouter_UploadThenTranscode(t *testing.T) {
	s := newTestServer(t)

	if resp := s.upload(t, "sess1_camA.mp4", false); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on first upload, got %d", resp.StatusCode)
	}
	if resp := s.upload(t, "sess1_camA.mp4", false); resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 on repeat upload, got %d", resp.StatusCode)
	}
	if resp := s.upload(t, "sess1_camA.mp4", true); resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 on overwrite, got %d", resp.StatusCode)
	}

	resp, err := http.Get(s.URL + "/app/v0/sse/TranscodeVideo?projectKey=mouse&filename=sess1_camA.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	events := strings.Split(strings.TrimSpace(buf.String()), "\n\n")
	last := strings.TrimPrefix(events[len(events)-1], "data: ")
	var st map[string]any
	if err := json.Unmarshal([]byte(last), &st); err != nil {
		t.Fatalf("Malformed event %q: %v", last, err)
	}
	if st["transcodeStatus"] != "DONE" || st["uploadStatus"] != "DONE" {
		t.Errorf("Expected final DONE event, got %v", st)
	}

	if _, err := os.Stat(filepath.Join(s.dataDir, "videos", "sess1_camA.mp4")); err != nil {
		t.Errorf("Expected transcoded video, got %v", err)
	}

	statusResp, err := http.Post(s.URL+"/app/v0/rpc/GetVideoStatus", "application/json", strings.NewReader(`{"filename":"sess1_camA.mp4"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer statusResp.Body.Close()
	var status map[string]any
	json.NewDecoder(statusResp.Body).Decode(&status)
	if status["transcodeStatus"] != "DONE" {
		t.Errorf("Expected DONE status, got %v", status)
	}
}

func TestRouter_WriteMultifileOutsideRoot(t *testing.T) {
	s := newTestServer(t)
	inside := filepath.Join(s.dataDir, "CollectedData_top.csv")

	body := fmt.Sprintf(`{"views":[{"filename":%q,"contents":"a"},{"filename":%q,"contents":"b"}]}`,
		inside, filepath.Join(s.lpDir, "outside.csv"))
	resp, err := http.Post(s.URL+"/app/v0/rpc/writeMultifile", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
	if _, err := os.Stat(inside); !os.IsNotExist(err) {
		t.Error("Expected valid target not to be written")
	}
	var errResp dto.ErrorResponse
	json.NewDecoder(resp.Body).Decode(&errResp)
	if errResp.TraceID == "" || resp.Header.Get("X-Trace-ID") != errResp.TraceID {
		t.Errorf("Expected matching trace ids, got %q and %q", errResp.TraceID, resp.Header.Get("X-Trace-ID"))
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var health dto.HealthResponse
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health.Status != "ok" || health.Workers != 1 {
		t.Errorf("Unexpected health %d %+v", resp.StatusCode, health)
	}

	resp, err = http.Get(s.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if !strings.Contains(buf.String(), "videolabeler_http_request_duration_seconds") {
		t.Error("Expected request metrics to be exposed")
	}
}

func TestState_StartupMigratesAndSweeps(t *testing.T) {
	s := newTestServer(t)

	legacy := filepath.Join(s.dataDir, "CollectedData_top.unlabeled")
	if err := os.WriteFile(legacy, []byte("labeled-data/a.png\nlabeled-data/b.png\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	uploads := s.state.Config.UploadsDir
	os.MkdirAll(uploads, 0o755)
	stale := filepath.Join(uploads, "old_camA.mp4")
	os.WriteFile(stale, []byte("x"), 0o644)
	old := time.Now().Add(-48 * time.Hour)
	os.Chtimes(stale, old, old)

	s.state.Startup()

	if _, err := os.Stat(legacy); !os.IsNotExist(err) {
		t.Error("Expected legacy sidecar to be removed")
	}
	if _, err := os.Stat(legacy + ".jsonl"); err != nil {
		t.Errorf("Expected jsonl sidecar, got %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("Expected stale upload to be swept")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.state.Shutdown(ctx); err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
}

func TestState_HealthReportsSystem(t *testing.T) {
	s := newTestServer(t)

	h := s.state.Health(context.Background())
	if h.System.CPUCores < 1 || h.System.NumGoroutine < 1 {
		t.Errorf("Expected system stats, got %+v", h.System)
	}
	if len(h.Sinks) != 0 {
		t.Errorf("Expected no sinks configured, got %v", h.Sinks)
	}
}
