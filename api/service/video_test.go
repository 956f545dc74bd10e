package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"videoLabeler/api/dto"
	"videoLabeler/api/project"
	"videoLabeler/api/validation"
	"videoLabeler/worker/pool"
	"videoLabeler/worker/registry"
	"videoLabeler/worker/transcoder"
)

var mp4Header = []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00")

// TestHelperProcess plays ffprobe and ffmpeg for the transcode tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	args = args[1:]

	switch args[0] {
	case "ffprobe":
		fmt.Println("30")
	case "ffmpeg":
		for i := 10; i <= 30; i += 10 {
			fmt.Fprintf(os.Stderr, "frame=%d fps=0.0\r", i)
			time.Sleep(20 * time.Millisecond)
		}
		if err := os.WriteFile(args[len(args)-1], []byte("out"), 0o644); err != nil {
			os.Exit(3)
		}
	}
	os.Exit(0)
}

type fakeFFmpeg struct {
	gate   chan struct{}
	spawns atomic.Int32
}

func (f *fakeFFmpeg) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	if name == "ffmpeg" {
		f.spawns.Add(1)
		if f.gate != nil {
			<-f.gate
		}
	}
	cmd := exec.CommandContext(ctx, os.Args[0], append([]string{"-test.run=TestHelperProcess", "--", name}, args...)...)
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
	return cmd
}

type fixture struct {
	svc        *VideoService
	registry   *registry.Registry
	uploadsDir string
	videosDir  string
	ffmpeg     *fakeFFmpeg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "mouse")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	registryPath := filepath.Join(root, "projects.yaml")
	if err := os.WriteFile(registryPath, []byte("active: mouse\nprojects:\n  mouse:\n    data_dir: "+dataDir+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := zaptest.NewLogger(t)
	reg := registry.New()
	ff := &fakeFFmpeg{}
	tr := transcoder.New(transcoder.Config{}, reg, pool.NewWorkerPool(2), logger, transcoder.WithCommand(ff.command))
	uploads := filepath.Join(root, "uploads")

	return &fixture{
		svc:        NewVideoService(project.NewRegistry(registryPath), reg, tr, NewProgressStream(reg, 10*time.Millisecond), uploads, logger),
		registry:   reg,
		uploadsDir: uploads,
		videosDir:  filepath.Join(dataDir, "videos"),
		ffmpeg:     ff,
	}
}

func (f *fixture) upload(t *testing.T, filename string, overwrite bool) error {
	t.Helper()
	req := &dto.UploadVideoRequest{ProjectKey: "mouse", Filename: filename, ShouldOverwrite: overwrite}
	return f.svc.Upload(context.Background(), req, bytes.NewReader(mp4Header))
}

type collector struct {
	mu     sync.Mutex
	events []registry.TaskStatus
}

func (c *collector) emit(st registry.TaskStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, st)
	return nil
}

func TestVideoService_UploadConflict(t *testing.T) {
	f := newFixture(t)

	if err := f.upload(t, "sess1_camA.mp4", false); err != nil {
		t.Fatalf("Expected first upload to succeed, got %v", err)
	}
	if err := f.upload(t, "sess1_camA.mp4", false); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
	if err := f.upload(t, "sess1_camA.mp4", true); err != nil {
		t.Errorf("Expected overwrite to succeed, got %v", err)
	}

	st, _ := f.svc.Status("sess1_camA.mp4")
	if st.UploadStatus != registry.UploadDone {
		t.Errorf("Expected upload DONE, got %s", st.UploadStatus)
	}
	entries, _ := os.ReadDir(f.uploadsDir)
	if len(entries) != 1 {
		t.Errorf("Expected exactly the staged file, found %d entries", len(entries))
	}
}

func TestVideoService_UploadRejections(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Upload(context.Background(), &dto.UploadVideoRequest{ProjectKey: "mouse", Filename: "bad name.mp4"}, bytes.NewReader(mp4Header))
	if !errors.Is(err, validation.ErrInvalidFilename) {
		t.Errorf("Expected ErrInvalidFilename, got %v", err)
	}

	err = f.svc.Upload(context.Background(), &dto.UploadVideoRequest{ProjectKey: "rat", Filename: "s_v.mp4"}, bytes.NewReader(mp4Header))
	if !errors.Is(err, project.ErrProjectNotFound) {
		t.Errorf("Expected ErrProjectNotFound, got %v", err)
	}

	err = f.svc.Upload(context.Background(), &dto.UploadVideoRequest{ProjectKey: "mouse", Filename: "s_v.mp4"}, bytes.NewReader([]byte("plain text")))
	if !errors.Is(err, validation.ErrNotVideo) {
		t.Errorf("Expected ErrNotVideo, got %v", err)
	}

	if _, err := os.Stat(f.uploadsDir); !os.IsNotExist(err) {
		t.Error("Expected no side effects from rejected uploads")
	}
}

func TestVideoService_TranscodeMissingUpload(t *testing.T) {
	f := newFixture(t)
	c := &collector{}

	err := f.svc.Transcode(context.Background(), &dto.TranscodeRequest{ProjectKey: "mouse", Filename: "sess1_camA.mp4"}, c.emit)
	if !errors.Is(err, ErrUploadNotFound) {
		t.Fatalf("Expected ErrUploadNotFound, got %v", err)
	}
	if len(c.events) != 0 {
		t.Errorf("Expected no events, got %d", len(c.events))
	}
}

func TestVideoService_TranscodeShortCircuit(t *testing.T) {
	f := newFixture(t)
	if err := os.MkdirAll(f.videosDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(f.videosDir, "sess1_camA.mp4"), []byte("done"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := &collector{}
	err := f.svc.Transcode(context.Background(), &dto.TranscodeRequest{ProjectKey: "mouse", Filename: "sess1_camA.mp4"}, c.emit)
	if err != nil {
		t.Fatalf("Expected short-circuit, got %v", err)
	}
	if len(c.events) != 1 || c.events[0].TranscodeStatus != registry.TranscodeDone || c.events[0].UploadStatus != registry.UploadDone {
		t.Errorf("Expected exactly one DONE event, got %+v", c.events)
	}
	if got := f.ffmpeg.spawns.Load(); got != 0 {
		t.Errorf("Expected no ffmpeg spawn, got %d", got)
	}
}

func TestVideoService_TranscodeEndToEnd(t *testing.T) {
	f := newFixture(t)
	if err := f.upload(t, "sess1_camA.mp4", false); err != nil {
		t.Fatal(err)
	}

	c := &collector{}
	err := f.svc.Transcode(context.Background(), &dto.TranscodeRequest{ProjectKey: "mouse", Filename: "sess1_camA.mp4"}, c.emit)
	if err != nil {
		t.Fatalf("Expected stream to complete, got %v", err)
	}

	last := c.events[len(c.events)-1]
	if last.TranscodeStatus != registry.TranscodeDone {
		t.Fatalf("Expected final DONE, got %s (error=%v)", last.TranscodeStatus, last.Error)
	}
	prev := -1
	for _, ev := range c.events {
		if ev.FramesDone == nil {
			continue
		}
		if *ev.FramesDone < prev {
			t.Errorf("Progress went backwards: %d after %d", *ev.FramesDone, prev)
		}
		prev = *ev.FramesDone
	}

	if _, err := os.Stat(filepath.Join(f.uploadsDir, "sess1_camA.mp4")); !os.IsNotExist(err) {
		t.Error("Expected staged upload to be removed")
	}
	if _, err := os.Stat(filepath.Join(f.videosDir, "sess1_camA.mp4")); err != nil {
		t.Errorf("Expected transcoded output, got %v", err)
	}
}

func TestVideoService_ConcurrentStreamsShareOneJob(t *testing.T) {
	f := newFixture(t)
	f.ffmpeg.gate = make(chan struct{})
	if err := f.upload(t, "sess1_camA.mp4", false); err != nil {
		t.Fatal(err)
	}

	const clients = 8
	var wg sync.WaitGroup
	results := make([]*collector, clients)
	errs := make([]error, clients)
	for i := 0; i < clients; i++ {
		results[i] = &collector{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.Transcode(context.Background(), &dto.TranscodeRequest{ProjectKey: "mouse", Filename: "sess1_camA.mp4"}, results[i].emit)
		}(i)
	}

	// Every client is attached once each has seen the pending job.
	deadline := time.Now().Add(5 * time.Second)
	for {
		attached := 0
		for _, c := range results {
			c.mu.Lock()
			if len(c.events) > 0 {
				attached++
			}
			c.mu.Unlock()
		}
		if attached == clients {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for clients to attach")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(f.ffmpeg.gate)
	wg.Wait()

	if got := f.ffmpeg.spawns.Load(); got != 1 {
		t.Errorf("Expected one ffmpeg spawn, got %d", got)
	}
	for i, c := range results {
		if errs[i] != nil {
			t.Errorf("Client %d failed: %v", i, errs[i])
			continue
		}
		if last := c.events[len(c.events)-1]; last.TranscodeStatus != registry.TranscodeDone {
			t.Errorf("Client %d ended with %s", i, last.TranscodeStatus)
		}
	}
}

func TestVideoService_DisconnectDoesNotCancelJob(t *testing.T) {
	f := newFixture(t)
	f.ffmpeg.gate = make(chan struct{})
	if err := f.upload(t, "sess1_camA.mp4", false); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.svc.Transcode(ctx, &dto.TranscodeRequest{ProjectKey: "mouse", Filename: "sess1_camA.mp4"}, func(registry.TaskStatus) error { return nil })
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	job := f.registry.Active("sess1_camA.mp4")
	if job == nil {
		t.Fatal("Expected job to still be live after disconnect")
	}
	close(f.ffmpeg.gate)

	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for job")
	}
	if st, _ := f.svc.Status("sess1_camA.mp4"); st.TranscodeStatus != registry.TranscodeDone {
		t.Errorf("Expected DONE, got %s", st.TranscodeStatus)
	}
}

func TestVideoService_RequestsAfterCompletionDoNotRespawn(t *testing.T) {
	f := newFixture(t)
	if err := f.upload(t, "sess1_camA.mp4", false); err != nil {
		t.Fatal(err)
	}
	req := &dto.TranscodeRequest{ProjectKey: "mouse", Filename: "sess1_camA.mp4"}
	if err := f.svc.Transcode(context.Background(), req, (&collector{}).emit); err != nil {
		t.Fatal(err)
	}

	// The upload is gone and the output exists: every later request must
	// settle on DONE without resetting the status or spawning ffmpeg.
	const clients = 8
	var wg sync.WaitGroup
	results := make([]*collector, clients)
	errs := make([]error, clients)
	for i := 0; i < clients; i++ {
		results[i] = &collector{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.Transcode(context.Background(), req, results[i].emit)
		}(i)
	}
	wg.Wait()

	if got := f.ffmpeg.spawns.Load(); got != 1 {
		t.Errorf("Expected one ffmpeg spawn, got %d", got)
	}
	for i, c := range results {
		if errs[i] != nil {
			t.Errorf("Client %d failed: %v", i, errs[i])
			continue
		}
		for _, ev := range c.events {
			if ev.TranscodeStatus != registry.TranscodeDone {
				t.Errorf("Client %d saw %s after completion", i, ev.TranscodeStatus)
			}
		}
	}
}

func TestVideoService_AttachWhileInputRemoved(t *testing.T) {
	f := newFixture(t)
	f.ffmpeg.gate = make(chan struct{})
	if err := f.upload(t, "sess1_camA.mp4", false); err != nil {
		t.Fatal(err)
	}
	req := &dto.TranscodeRequest{ProjectKey: "mouse", Filename: "sess1_camA.mp4"}

	first := make(chan error, 1)
	go func() { first <- f.svc.Transcode(context.Background(), req, (&collector{}).emit) }()

	deadline := time.Now().Add(5 * time.Second)
	for f.registry.Active("sess1_camA.mp4") == nil {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the job")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A live job wins over the missing upload.
	if err := os.Remove(filepath.Join(f.uploadsDir, "sess1_camA.mp4")); err != nil {
		t.Fatal(err)
	}
	second := make(chan error, 1)
	c := &collector{}
	go func() { second <- f.svc.Transcode(context.Background(), req, c.emit) }()

	time.Sleep(30 * time.Millisecond)
	close(f.ffmpeg.gate)
	<-first
	if err := <-second; err != nil {
		t.Fatalf("Expected the second request to attach, got %v", err)
	}
	if got := f.ffmpeg.spawns.Load(); got != 1 {
		t.Errorf("Expected one ffmpeg spawn, got %d", got)
	}
}

func TestVideoService_UploadRejectedWhileTranscoding(t *testing.T) {
	f := newFixture(t)
	f.ffmpeg.gate = make(chan struct{})
	if err := f.upload(t, "sess1_camA.mp4", false); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- f.svc.Transcode(context.Background(), &dto.TranscodeRequest{ProjectKey: "mouse", Filename: "sess1_camA.mp4"}, (&collector{}).emit)
	}()
	deadline := time.Now().Add(5 * time.Second)
	for f.registry.Active("sess1_camA.mp4") == nil {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the job")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := f.upload(t, "sess1_camA.mp4", true); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists while transcoding, got %v", err)
	}

	close(f.ffmpeg.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if err := f.upload(t, "sess1_camA.mp4", true); err != nil {
		t.Errorf("Expected upload to succeed after the job, got %v", err)
	}
}
