package pipeline

import (
	"context"
	"image"
	"log"
	"sync"
	"time"

	"watchpost/internal/observability"
)

// Config holds capture loop settings.
type Config struct {
	ProcessInterval int // run perception on every Nth frame
}

// DetectionPipeline runs capture, sampling, perception and the cooldown gate
// for a single stream. Capture never waits on perception: sampled frames go
// through a single-slot mailbox and an unconsumed frame is replaced.
type DetectionPipeline struct {
	source     FrameSource
	preview    *PreviewBuffer
	perception *Perception
	gate       *CooldownGate
	alerter    *Alerter
	cfg        Config
	now        func() time.Time
	lastEvent  time.Time // owned by the perception goroutine

	slotMu sync.Mutex
	cond   *sync.Cond
	slot   *FrameData
	closed bool

	alerts  sync.WaitGroup
	stats   CaptureStats
	statsMu sync.RWMutex
}

// NewDetectionPipeline wires the stages together.
func NewDetectionPipeline(source FrameSource, preview *PreviewBuffer, perception *Perception, gate *CooldownGate, alerter *Alerter, cfg Config) *DetectionPipeline {
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = 1
	}
	p := &DetectionPipeline{
		source:     source,
		preview:    preview,
		perception: perception,
		gate:       gate,
		alerter:    alerter,
		cfg:        cfg,
		now:        time.Now,
	}
	p.cond = sync.NewCond(&p.slotMu)
	return p
}

// Stats returns a copy of the loop counters. Reconnects are taken from the
// frame source when it tracks them.
func (p *DetectionPipeline) Stats() CaptureStats {
	p.statsMu.RLock()
	st := p.stats
	p.statsMu.RUnlock()

	if src, ok := p.source.(interface{ Stats() CaptureStats }); ok {
		st.ReconnectAttempts = src.Stats().ReconnectAttempts
	}
	return st
}

// Run blocks until ctx is cancelled or the source fails to open. In-flight
// alerts are drained before it returns.
func (p *DetectionPipeline) Run(ctx context.Context) error {
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		p.perceptionLoop(ctx)
	}()

	log.Printf("[Pipeline] Processing every %d frame(s)", p.cfg.ProcessInterval)
	err := p.source.Run(ctx, p.onFrame)

	p.closeSlot()
	workers.Wait()
	p.alerts.Wait()

	if err != nil {
		log.Printf("[Pipeline] Frame source stopped: %v", err)
	}
	return err
}

// onFrame runs on the capture goroutine.
func (p *DetectionPipeline) onFrame(frame *FrameData) {
	p.preview.Set(frame.Data)

	p.statsMu.Lock()
	p.stats.FramesCaptured++
	p.stats.LastFrameTime = frame.Timestamp.Unix()
	sample := p.stats.FramesCaptured%uint64(p.cfg.ProcessInterval) == 0
	if sample {
		p.stats.FramesSampled++
	}
	p.statsMu.Unlock()

	if sample {
		p.offer(frame)
	}
}

func (p *DetectionPipeline) offer(frame *FrameData) {
	p.slotMu.Lock()
	defer p.slotMu.Unlock()
	if p.closed {
		return
	}
	if p.slot != nil {
		p.statsMu.Lock()
		p.stats.FramesSkipped++
		p.statsMu.Unlock()
		observability.FramesSkipped.Inc()
	}
	p.slot = frame
	p.cond.Signal()
}

// take blocks until a frame is available; nil means the slot was closed.
func (p *DetectionPipeline) take() *FrameData {
	p.slotMu.Lock()
	defer p.slotMu.Unlock()
	for p.slot == nil && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return nil
	}
	f := p.slot
	p.slot = nil
	return f
}

func (p *DetectionPipeline) closeSlot() {
	p.slotMu.Lock()
	p.closed = true
	p.slot = nil
	p.cond.Broadcast()
	p.slotMu.Unlock()
}

func (p *DetectionPipeline) perceptionLoop(ctx context.Context) {
	for {
		frame := p.take()
		if frame == nil {
			return
		}
		p.processFrame(ctx, frame)
	}
}

// processFrame runs one sampled frame to completion. Failures are logged
// and never stop the loop.
func (p *DetectionPipeline) processFrame(ctx context.Context, frame *FrameData) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Pipeline] Frame %d processing panicked: %v", frame.Seq, r)
		}
		p.statsMu.Lock()
		p.stats.FramesProcessed++
		p.statsMu.Unlock()
	}()

	img, err := decodeJPEG(frame.Data)
	if err != nil {
		log.Printf("[Pipeline] Skipping frame %d: %v", frame.Seq, err)
		return
	}

	start := time.Now()
	persons, err := p.perception.Process(ctx, img)
	observability.PerceptionDuration.WithLabelValues("frame").Observe(time.Since(start).Seconds())
	observability.FramesProcessed.Inc()
	if err != nil {
		log.Printf("[Pipeline] Perception failed on frame %d: %v", frame.Seq, err)
		return
	}

	for _, person := range persons {
		now := p.now()
		if !p.gate.Admit(person.BBox, now) {
			observability.EventsSuppressed.Inc()
			continue
		}
		observability.EventsAdmitted.Inc()
		p.dispatch(ctx, img, person, p.eventTime(now))
	}
}

// eventTime returns the stored timestamp for an admission at now. Timestamps
// key operator feedback, so each one is strictly later than the previous.
func (p *DetectionPipeline) eventTime(now time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	if !ts.After(p.lastEvent) {
		ts = p.lastEvent.Add(time.Microsecond)
	}
	p.lastEvent = ts
	return ts
}

// dispatch runs the alert path in the background so I/O never stalls perception.
func (p *DetectionPipeline) dispatch(ctx context.Context, img image.Image, person Person, ts time.Time) {
	p.alerts.Add(1)
	go func() {
		defer p.alerts.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Pipeline] Alert panicked: %v", r)
			}
		}()
		// Alerts already admitted finish even if shutdown has begun.
		if _, err := p.alerter.Handle(context.WithoutCancel(ctx), img, person, ts); err != nil {
			log.Printf("[Pipeline] Alert failed: %v", err)
		}
	}()
}
