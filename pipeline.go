package av1enc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPipelineRunning is returned when Run is called twice, and by Close
// while Run is executing.
var ErrPipelineRunning = errors.New("pipeline already started")

// PipelineState represents the step the pipeline is executing.
type PipelineState int

const (
	PipelineStateIdle            PipelineState = iota // Not started
	PipelineStateWaitingForFrame                      // Blocked on the frame source
	PipelineStateEncoding                             // Copy done, encoder running
	PipelineStateAssembling                           // Draining packets
	PipelineStatePublishing                           // Sending the image reading
	PipelineStateStopped                              // Terminal
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStateIdle:
		return "idle"
	case PipelineStateWaitingForFrame:
		return "waiting"
	case PipelineStateEncoding:
		return "encoding"
	case PipelineStateAssembling:
		return "assembling"
	case PipelineStatePublishing:
		return "publishing"
	case PipelineStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PipelineStats provides pipeline statistics.
type PipelineStats struct {
	FramesSubmitted uint64 // Frames copied out of the source and handed to the encoder
	FramesPublished uint64
	FramesDropped   uint64 // Encode failures plus oversize payloads
	EncodeErrors    uint64
	OversizeFrames  uint64
	EmptyDrains     uint64 // Encode calls that produced no frame bytes
	KeyframesForced uint64
	BytesPublished  uint64
	EncodeTime      time.Duration // Sum over all encode calls
	LastEncodeTime  time.Duration
}

// PublishEvent describes one published frame.
type PublishEvent struct {
	FrameIndex  uint64 // Published frame counter before this publish
	SubmitIndex uint64 // Presentation index passed to the encoder
	Forced      bool   // Keyframe was requested for this frame
	Keyframe    bool   // Encoder flagged the output as a keyframe
	Size        int
	EncodeTime  time.Duration
	SampleTime  time.Time
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Source    FrameSource
	Session   Session // Owned by the pipeline once Run starts
	Publisher *Publisher
	Width     int
	Height    int
	GOP       int           // Frames between forced keyframes; DefaultGOP when 0
	Cadence   CadencePolicy // Counter the GOP is measured against

	OnPublish func(PublishEvent) // Called after every publish, on the pipeline goroutine
	OnError   func(error)        // Called for every dropped frame, on the pipeline goroutine

	Clock func() time.Time // Sample time source; time.Now when nil
}

// Pipeline moves frames from a FrameSource through an encoder Session to a
// Publisher: wait, copy under the source lock, encode, assemble, publish.
// One goroutine drives it; nothing else touches the session or buffers.
type Pipeline struct {
	source    FrameSource
	session   Session
	publisher *Publisher
	frame     *Frame
	assembler *Assembler

	width   int
	height  int
	gop     uint64
	cadence CadencePolicy

	onPublish func(PublishEvent)
	onError   func(error)
	now       func() time.Time

	submitted uint64
	published uint64

	state             atomic.Int32
	keyframeRequested atomic.Bool
	closeOnce         sync.Once
	closeErr          error

	stats   PipelineStats
	statsMu sync.Mutex
}

// NewPipeline validates cfg and allocates the raw frame and payload buffers.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("frame source is required")
	}
	if cfg.Session == nil {
		return nil, fmt.Errorf("encoder session is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cfg.GOP < 0 {
		return nil, fmt.Errorf("invalid gop %d", cfg.GOP)
	}
	if cfg.GOP == 0 {
		cfg.GOP = DefaultGOP
	}

	frame, err := NewFrame(cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("allocate raw frame: %w", err)
	}
	if cfg.Source.Size() != frame.Size() {
		return nil, fmt.Errorf("%w: source holds %d bytes, want %d for %dx%d",
			ErrFrameSize, cfg.Source.Size(), frame.Size(), cfg.Width, cfg.Height)
	}

	limit := cfg.Session.MaxFrameSize()
	if limit <= 0 {
		limit = MaxCompressedSize(cfg.Width, cfg.Height)
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	p := &Pipeline{
		source:    cfg.Source,
		session:   cfg.Session,
		publisher: cfg.Publisher,
		frame:     frame,
		assembler: NewAssembler(limit),
		width:     cfg.Width,
		height:    cfg.Height,
		gop:       uint64(cfg.GOP),
		cadence:   cfg.Cadence,
		onPublish: cfg.OnPublish,
		onError:   cfg.OnError,
		now:       now,
	}
	p.state.Store(int32(PipelineStateIdle))
	return p, nil
}

// Run processes frames until the source becomes invalid, the bus stops
// running or ctx is done. The session is closed before Run returns.
// It returns nil on a clean stop and ctx.Err() on cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PipelineStateIdle), int32(PipelineStateWaitingForFrame)) {
		return ErrPipelineRunning
	}
	defer func() {
		p.setState(PipelineStateStopped)
		if err := p.closeSession(); err != nil {
			logger.Warnf("close encoder: %v", err)
		}
	}()

	for p.source.Valid() && p.publisher.Running() {
		if err := p.step(ctx); err != nil {
			switch {
			case errors.Is(err, ErrSourceClosed):
				logger.Infof("frame source closed")
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				logger.Errorf("stopping: %v", err)
				return err
			}
		}
	}
	if !p.publisher.Running() {
		logger.Infof("bus stopped")
	}
	return nil
}

func (p *Pipeline) step(ctx context.Context) error {
	p.setState(PipelineStateWaitingForFrame)
	if err := p.source.WaitForFrame(ctx); err != nil {
		return err
	}
	sampleTime := p.now()

	if err := p.source.WithFrame(p.frame.CopyFrom); err != nil {
		return fmt.Errorf("copy frame: %w", err)
	}

	submit := p.submitted
	p.submitted++
	index := submit
	if p.cadence == CadencePublished {
		index = p.published
	}
	requested := p.keyframeRequested.Swap(false)
	forced := requested || index%p.gop == 0

	p.setState(PipelineStateEncoding)
	start := time.Now()
	err := p.session.Encode(p.frame, int64(submit), forced)
	encodeTime := time.Since(start)

	p.statsMu.Lock()
	p.stats.FramesSubmitted++
	p.stats.EncodeTime += encodeTime
	p.stats.LastEncodeTime = encodeTime
	if err != nil {
		p.stats.EncodeErrors++
		p.stats.FramesDropped++
	}
	p.statsMu.Unlock()

	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return fmt.Errorf("encode frame %d: %w", submit, err)
		}
		logger.Debugf("failed to encode frame %d: %v", submit, err)
		p.rearmKeyframe(requested)
		p.handleError(err)
		return nil
	}

	p.setState(PipelineStateAssembling)
	asm, err := p.assembler.Assemble(p.session.Drain())
	if err != nil {
		p.statsMu.Lock()
		p.stats.OversizeFrames++
		p.stats.FramesDropped++
		p.statsMu.Unlock()

		logger.Errorf("dropping frame %d: %v", submit, err)
		p.rearmKeyframe(requested)
		p.handleError(err)
		return nil
	}
	if asm.Empty() {
		p.statsMu.Lock()
		p.stats.EmptyDrains++
		p.statsMu.Unlock()
		p.rearmKeyframe(requested)
		return nil
	}

	p.setState(PipelineStatePublishing)
	if err := p.publisher.Publish(asm.Payload, p.width, p.height, sampleTime); err != nil {
		p.handleError(err)
		return nil
	}
	logger.Debugf("frame size = %d bytes; encoding took %d microseconds",
		len(asm.Payload), encodeTime.Microseconds())

	event := PublishEvent{
		FrameIndex:  p.published,
		SubmitIndex: submit,
		Forced:      forced,
		Keyframe:    asm.Keyframe,
		Size:        len(asm.Payload),
		EncodeTime:  encodeTime,
		SampleTime:  sampleTime,
	}
	p.published++

	p.statsMu.Lock()
	p.stats.FramesPublished++
	p.stats.BytesPublished += uint64(len(asm.Payload))
	if forced {
		p.stats.KeyframesForced++
	}
	p.statsMu.Unlock()

	if p.onPublish != nil {
		p.onPublish(event)
	}
	return nil
}

// rearmKeyframe keeps a ForceKeyframe request pending when the frame that
// carried it was not published.
func (p *Pipeline) rearmKeyframe(requested bool) {
	if requested {
		p.keyframeRequested.Store(true)
	}
}

func (p *Pipeline) handleError(err error) {
	if p.onError != nil {
		p.onError(err)
	}
}

func (p *Pipeline) setState(s PipelineState) {
	p.state.Store(int32(s))
}

// ForceKeyframe makes the next published frame a keyframe regardless of the
// cadence. The request stays pending across dropped frames. Safe to call
// from any goroutine.
func (p *Pipeline) ForceKeyframe() {
	p.keyframeRequested.Store(true)
}

// State returns the current pipeline state.
func (p *Pipeline) State() PipelineState {
	return PipelineState(p.state.Load())
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() PipelineStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// Close releases the encoder session of a pipeline that is not running.
// It returns ErrPipelineRunning while Run is executing; Run closes the
// session itself on exit. A pipeline closed before Run never starts.
// Calling it again is a no-op.
func (p *Pipeline) Close() error {
	for {
		switch p.State() {
		case PipelineStateIdle:
			if !p.state.CompareAndSwap(int32(PipelineStateIdle), int32(PipelineStateStopped)) {
				continue
			}
			return p.closeSession()
		case PipelineStateStopped:
			return p.closeSession()
		default:
			return ErrPipelineRunning
		}
	}
}

func (p *Pipeline) closeSession() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.session.Close()
	})
	return p.closeErr
}
