package pipeline

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestExtractJPEGFrame(t *testing.T) {
	frameA := []byte{0xFF, 0xD8, 1, 2, 3, 0xFF, 0xD9}
	frameB := []byte{0xFF, 0xD8, 9, 0xFF, 0xD9}

	tests := []struct {
		name     string
		input    []byte
		want     [][]byte
		leftover []byte
	}{
		{"single", frameA, [][]byte{frameA}, []byte{}},
		{"two back to back", append(append([]byte{}, frameA...), frameB...), [][]byte{frameA, frameB}, []byte{}},
		{"leading garbage", append([]byte{7, 7, 7}, frameA...), [][]byte{frameA}, []byte{}},
		{"partial frame kept", []byte{5, 0xFF, 0xD8, 1, 2}, nil, []byte{0xFF, 0xD8, 1, 2}},
		{"split start marker kept", []byte{5, 6, 7, 0xFF}, nil, []byte{0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := append([]byte{}, tt.input...)
			var got [][]byte
			for {
				f := extractJPEGFrame(&buf)
				if f == nil {
					break
				}
				got = append(got, f)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d frames, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if !bytes.Equal(got[i], tt.want[i]) {
					t.Errorf("frame %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
			if !bytes.Equal(buf, tt.leftover) {
				t.Errorf("leftover = %v, want %v", buf, tt.leftover)
			}
		})
	}
}

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs("rtsp://cam/stream", 10)
	want := []string{"-rtsp_transport", "tcp", "-i", "rtsp://cam/stream", "-f", "image2pipe", "-vcodec", "mjpeg", "-r", "10", "-q:v", "5", "-"}
	if len(args) != len(want) {
		t.Fatalf("args = %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []*FrameData
}

func (r *frameRecorder) onFrame(f *FrameData) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFrameSourceFailsWhenStreamCannotOpen(t *testing.T) {
	src := NewFFmpegFrameSource("rtsp://unreachable/stream", 10)
	src.newCmd = func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, filepath.Join(t.TempDir(), "no-such-binary"))
	}

	errc := make(chan error, 1)
	go func() { errc <- src.Run(context.Background(), func(*FrameData) {}) }()

	select {
	case err := <-errc:
		if err == nil {
			t.Fatal("expected start-up error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not give up on an unopenable stream")
	}
}

func TestFrameSourceReconnectsAfterStreamEnds(t *testing.T) {
	catPath, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}
	clip := filepath.Join(t.TempDir(), "clip.mjpeg")
	if err := os.WriteFile(clip, []byte{0xFF, 0xD8, 1, 0xFF, 0xD9, 0xFF, 0xD8, 2, 0xFF, 0xD9}, 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewFFmpegFrameSource("rtsp://camera/stream", 10)
	src.backoff = 10 * time.Millisecond
	src.newCmd = func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, catPath, clip)
	}

	rec := &frameRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, rec.onFrame) }()

	waitFor(t, 5*time.Second, func() bool { return rec.count() >= 4 })
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run = %v, want nil after cancel", err)
	}
	if src.Stats().ReconnectAttempts == 0 {
		t.Error("expected at least one reconnect")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i := 1; i < len(rec.frames); i++ {
		if rec.frames[i].Seq <= rec.frames[i-1].Seq {
			t.Fatalf("sequence not increasing: %d then %d", rec.frames[i-1].Seq, rec.frames[i].Seq)
		}
	}
}

func TestFrameSourcePollsSnapshotURL(t *testing.T) {
	frame := []byte{0xFF, 0xD8, 42, 0xFF, 0xD9}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(frame)
	}))
	defer srv.Close()

	src := NewFFmpegFrameSource(srv.URL+"/snapshot.jpg", 20)
	rec := &frameRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, rec.onFrame) }()

	waitFor(t, 5*time.Second, func() bool { return rec.count() >= 2 })
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v", err)
	}
	if !bytes.Equal(rec.frames[0].Data, frame) {
		t.Errorf("frame = %v", rec.frames[0].Data)
	}
}

func TestFrameSourceSnapshotUnavailableAtStartup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewFFmpegFrameSource(srv.URL+"/snapshot.jpg", 10)
	if err := src.Run(context.Background(), func(*FrameData) {}); err == nil {
		t.Fatal("expected start-up error")
	}
}
