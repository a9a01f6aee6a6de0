package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"watchpost/internal/observability"
)

const reconnectBackoff = time.Second

// FFmpegFrameSource reads JPEG frames from an RTSP/HTTP stream through ffmpeg,
// or polls a still-image URL directly.
type FFmpegFrameSource struct {
	device string
	fps    int

	// newCmd builds the capture process. Replaced in tests.
	newCmd func(ctx context.Context) *exec.Cmd

	frameSeq atomic.Uint64
	stats    CaptureStats
	statsMu  sync.RWMutex
	backoff  time.Duration
}

// NewFFmpegFrameSource creates a source for device at fps.
func NewFFmpegFrameSource(device string, fps int) *FFmpegFrameSource {
	if fps <= 0 {
		fps = 10
	}
	s := &FFmpegFrameSource{device: device, fps: fps, backoff: reconnectBackoff}
	s.newCmd = func(ctx context.Context) *exec.Cmd {
		return exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(s.device, s.fps)...)
	}
	return s
}

// Stats returns a copy of the capture counters.
func (s *FFmpegFrameSource) Stats() CaptureStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

// Run captures until ctx is done. It returns an error only when the stream
// cannot be opened at all on the first attempt; later read failures are
// logged and retried after a short backoff.
func (s *FFmpegFrameSource) Run(ctx context.Context, onFrame func(*FrameData)) error {
	if s.isHTTPImageEndpoint() {
		return s.captureHTTPImages(ctx, onFrame)
	}

	first := true
	for {
		err := s.captureFFmpeg(ctx, onFrame, first)
		if ctx.Err() != nil {
			return nil
		}
		var startErr *startError
		if first && errors.As(err, &startErr) {
			return err
		}
		first = false

		log.Printf("[FrameSource] Stream read failed: %v, retrying in %s", err, s.backoff)
		s.statsMu.Lock()
		s.stats.ReconnectAttempts++
		s.statsMu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.backoff):
		}
	}
}

type startError struct{ err error }

func (e *startError) Error() string { return "failed to open stream: " + e.err.Error() }
func (e *startError) Unwrap() error { return e.err }

func (s *FFmpegFrameSource) isHTTPImageEndpoint() bool {
	return (strings.HasPrefix(s.device, "http://") || strings.HasPrefix(s.device, "https://")) &&
		(strings.Contains(s.device, ".jpg") || strings.Contains(s.device, ".jpeg") || strings.Contains(s.device, "snapshot"))
}

func (s *FFmpegFrameSource) captureHTTPImages(ctx context.Context, onFrame func(*FrameData)) error {
	client := &http.Client{Timeout: 10 * time.Second}
	interval := time.Second / time.Duration(s.fps)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	fetch := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.device, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("snapshot returned status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}

	frame, err := fetch()
	if err != nil {
		return &startError{err: err}
	}
	s.emit(frame, onFrame)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frame, err := fetch()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Printf("[FrameSource] Error fetching frame from %s: %v", s.device, err)
				continue
			}
			s.emit(frame, onFrame)
		}
	}
}

func ffmpegArgs(device string, fps int) []string {
	var args []string
	switch {
	case strings.HasPrefix(device, "rtsp://"):
		args = append(args, "-rtsp_transport", "tcp", "-i", device)
	case strings.HasPrefix(device, "http://"), strings.HasPrefix(device, "https://"):
		args = append(args, "-i", device)
	default:
		args = append(args, "-f", "v4l2", "-framerate", fmt.Sprintf("%d", fps), "-i", device)
	}
	return append(args,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", fmt.Sprintf("%d", fps),
		"-q:v", "5",
		"-",
	)
}

// captureFFmpeg runs one ffmpeg process until its output ends.
func (s *FFmpegFrameSource) captureFFmpeg(ctx context.Context, onFrame func(*FrameData), first bool) error {
	cmd := s.newCmd(ctx)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &startError{err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &startError{err: err}
	}
	if err := cmd.Start(); err != nil {
		return &startError{err: err}
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	frameBuffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)
	got := false

	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			frameBuffer = append(frameBuffer, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&frameBuffer)
				if frame == nil {
					break
				}
				got = true
				s.emit(frame, onFrame)
			}
		}
		if err != nil {
			if first && !got && ctx.Err() == nil {
				return &startError{err: fmt.Errorf("no frames before %w", err)}
			}
			if err == io.EOF {
				return errors.New("stream ended")
			}
			return err
		}
	}
}

func (s *FFmpegFrameSource) emit(data []byte, onFrame func(*FrameData)) {
	seq := s.frameSeq.Add(1)
	now := time.Now()

	s.statsMu.Lock()
	s.stats.FramesCaptured++
	s.stats.LastFrameTime = now.Unix()
	s.statsMu.Unlock()
	observability.FramesCaptured.Inc()

	onFrame(&FrameData{Data: data, Seq: seq, Timestamp: now})

	if seq%1000 == 0 {
		log.Printf("[FrameSource] Captured %d frames", seq)
	}
}

// extractJPEGFrame removes and returns the first complete JPEG in buffer.
func extractJPEGFrame(buffer *[]byte) []byte {
	buf := *buffer
	if len(buf) < 4 {
		return nil
	}

	startIdx := -1
	for i := 0; i < len(buf)-1; i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xD8 {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		// Keep a trailing 0xFF that may begin the next marker.
		if buf[len(buf)-1] == 0xFF {
			*buffer = append(buf[:0], 0xFF)
		} else {
			*buffer = buf[:0]
		}
		return nil
	}

	endIdx := -1
	for i := startIdx + 2; i < len(buf)-1; i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xD9 {
			endIdx = i + 2
			break
		}
	}
	if endIdx == -1 {
		if startIdx > 0 {
			*buffer = append(buf[:0], buf[startIdx:]...)
		}
		return nil
	}

	frame := make([]byte, endIdx-startIdx)
	copy(frame, buf[startIdx:endIdx])
	*buffer = append(buf[:0], buf[endIdx:]...)
	return frame
}
