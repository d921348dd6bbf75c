package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/zombor/ocr-scanner/internal/scanning"
)

var (
	// ErrBusy is returned when a capture is requested while another capture
	// or recognition is in progress
	ErrBusy = errors.New("a scan is already in progress")

	// ErrInvalidPhase is returned when an operation does not apply to the
	// current phase
	ErrInvalidPhase = errors.New("operation not valid in the current phase")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("scanning session closed")
)

// MathEngine is the Engine Manager as seen by the coordinator
type MathEngine interface {
	Start() <-chan struct{}
	Retry() <-chan struct{}
	Await(ctx context.Context) (scanning.EngineState, error)
	State() scanning.EngineState
	RecognizeLine(ctx context.Context, img image.Image) (string, error)
	Teardown() error
}

// Options configures a Coordinator
type Options struct {
	// Mode is the initial mode; ModeText when zero
	Mode Mode
	// Sink receives results; nil discards them
	Sink Sink
	// Notify receives user-facing notices; called outside the coordinator's lock
	Notify func(Notice)
	// OnTransition observes every phase change
	OnTransition func(from, to Phase)
	Logger       *slog.Logger
}

// Status is a snapshot of the session
type Status struct {
	Phase     Phase                `json:"phase"`
	Mode      Mode                 `json:"mode"`
	Engine    scanning.EngineState `json:"engine"`
	LastError string               `json:"last_error,omitempty"`
}

// CaptureOutcome is delivered once a capture job has run
type CaptureOutcome struct {
	Capture *Capture
	Err     error
}

type captureJob struct {
	ctx context.Context
	src Source
	out chan CaptureOutcome
}

// Coordinator drives one scanning session: the capture/crop/recognize cycle,
// the persistent mode selection and the math engine's lifecycle. Only one
// capture or recognition is in flight at a time.
type Coordinator struct {
	primary      scanning.Recognizer
	math         MathEngine
	sink         Sink
	notify       func(Notice)
	onTransition func(from, to Phase)
	logger       *slog.Logger

	mu      sync.Mutex
	phase   Phase
	mode    Mode
	pending *Capture
	lastErr error
	closed  bool

	jobs      chan captureJob
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewCoordinator starts a session. The caller must Close it.
func NewCoordinator(primary scanning.Recognizer, math MathEngine, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		primary:      primary,
		math:         math,
		sink:         opts.Sink,
		notify:       opts.Notify,
		onTransition: opts.OnTransition,
		logger:       logger,
		mode:         opts.Mode,
		jobs:         make(chan captureJob),
		quit:         make(chan struct{}),
	}

	c.wg.Add(1)
	go c.captureLoop()

	if c.mode == ModeMath {
		c.startMathInit()
	}
	return c
}

// captureLoop runs capture jobs one at a time
func (c *Coordinator) captureLoop() {
	defer c.wg.Done()
	for {
		select {
		case job := <-c.jobs:
			c.runCapture(job)
		case <-c.quit:
			return
		}
	}
}

func (c *Coordinator) runCapture(job captureJob) {
	capture, err := job.src.Acquire(job.ctx)
	if err == nil && (capture == nil || capture.Image == nil) {
		err = scanning.NewError("Acquire", scanning.ErrDecode, nil, "source returned no image")
	}

	c.mu.Lock()
	var from, to Phase
	if err != nil {
		c.lastErr = err
		from = c.setPhaseLocked(PhaseIdle)
		to = PhaseIdle
	} else {
		c.pending = capture
		from = c.setPhaseLocked(PhaseCropping)
		to = PhaseCropping
	}
	c.mu.Unlock()
	c.transitioned(from, to)

	if err != nil {
		c.logger.Warn("Capture failed", "error", err)
		c.emit(Notice{Kind: NoticeCaptureFailed, Message: scanning.Details(err), Err: err})
	}
	job.out <- CaptureOutcome{Capture: capture, Err: err}
	close(job.out)
}

// Capture queues acquisition from src. It is accepted only while Idle; the
// returned channel yields exactly one outcome.
func (c *Coordinator) Capture(ctx context.Context, src Source) (<-chan CaptureOutcome, error) {
	return c.capture(ctx, src, nil)
}

// capture selects mode, when given, only once the capture is accepted
func (c *Coordinator) capture(ctx context.Context, src Source, mode *Mode) (<-chan CaptureOutcome, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.phase != PhaseIdle {
		phase := c.phase
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: session is %s", ErrBusy, phase)
	}
	from := c.setPhaseLocked(PhaseCapturing)
	prev := c.mode
	if mode != nil {
		c.mode = *mode
	}
	c.mu.Unlock()
	c.transitioned(from, PhaseCapturing)
	if mode != nil {
		c.modeSelected(prev, *mode)
	}

	out := make(chan CaptureOutcome, 1)
	select {
	case c.jobs <- captureJob{ctx: ctx, src: src, out: out}:
		return out, nil
	case <-c.quit:
		c.mu.Lock()
		from := c.setPhaseLocked(PhaseIdle)
		c.mu.Unlock()
		c.transitioned(from, PhaseIdle)
		return nil, ErrClosed
	}
}

// CancelCrop drops the pending capture
func (c *Coordinator) CancelCrop() error {
	c.mu.Lock()
	if c.phase != PhaseCropping {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot cancel crop while %s", ErrInvalidPhase, phase)
	}
	c.pending = nil
	from := c.setPhaseLocked(PhaseIdle)
	c.mu.Unlock()
	c.transitioned(from, PhaseIdle)
	return nil
}

// ConfirmCrop recognizes the pending capture cropped to rect, using the mode
// selected at the moment it is called. An empty rect keeps the whole image.
// The session is back to Idle when ConfirmCrop returns.
func (c *Coordinator) ConfirmCrop(ctx context.Context, rect image.Rectangle) (*Result, error) {
	c.mu.Lock()
	if c.phase != PhaseCropping {
		phase := c.phase
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: nothing to crop while %s", ErrInvalidPhase, phase)
	}
	capture := c.pending
	c.pending = nil
	mode := c.mode
	from := c.setPhaseLocked(PhaseRecognizing)
	c.mu.Unlock()
	c.transitioned(from, PhaseRecognizing)

	c.logger.Debug("Recognizing", "mode", mode, "crop", rect)

	result, err := c.recognize(ctx, mode, capture, rect)
	if err != nil {
		c.finish(PhaseFailed, err)
		c.logger.Warn("Recognition failed", "mode", mode, "error", err)
		c.emit(Notice{Kind: NoticeRecognitionFailed, Message: scanning.Details(err), Err: err})
		return nil, err
	}

	c.finish(PhaseDone, nil)
	return result, nil
}

// Scan runs a full capture and recognition of src
func (c *Coordinator) Scan(ctx context.Context, src Source, rect image.Rectangle) (*Result, error) {
	return c.scan(ctx, src, rect, nil)
}

// ScanAs selects mode and scans src with it. A scan rejected as busy leaves
// the selected mode unchanged.
func (c *Coordinator) ScanAs(ctx context.Context, mode Mode, src Source, rect image.Rectangle) (*Result, error) {
	return c.scan(ctx, src, rect, &mode)
}

func (c *Coordinator) scan(ctx context.Context, src Source, rect image.Rectangle, mode *Mode) (*Result, error) {
	outcome, err := c.capture(ctx, src, mode)
	if err != nil {
		return nil, err
	}

	var res CaptureOutcome
	select {
	case res = <-outcome:
	case <-ctx.Done():
		// the outcome still lands; drop the capture it produces
		go func() {
			if o := <-outcome; o.Err == nil {
				_ = c.CancelCrop()
			}
		}()
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return c.ConfirmCrop(ctx, rect)
}

func (c *Coordinator) recognize(ctx context.Context, mode Mode, capture *Capture, rect image.Rectangle) (*Result, error) {
	img, err := scanning.Crop(capture.Image, rect)
	if err != nil {
		return nil, err
	}

	var result *Result
	switch mode {
	case ModeMath:
		result, err = c.runMath(ctx, img)
	case ModeReceipt:
		result, err = c.runReceipt(ctx, img)
	default:
		result, err = c.runText(ctx, img)
	}
	if err != nil {
		return nil, err
	}
	result.ImageRef = capture.Ref
	result.Label = capture.Label

	if err := c.route(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// route hands the result to the mode-appropriate sink method
func (c *Coordinator) route(ctx context.Context, result *Result) error {
	if c.sink == nil {
		return nil
	}

	var (
		id  string
		err error
	)
	if result.Mode == ModeReceipt {
		id, err = c.sink.SaveReceipt(ctx, ReceiptRecord{
			Rows:     result.Rows,
			ImageRef: result.ImageRef,
			Merchant: result.Label,
		})
	} else {
		id, err = c.sink.SaveText(ctx, TextRecord{
			Mode:     result.Mode,
			Text:     result.Text,
			ImageRef: result.ImageRef,
		})
	}
	if err != nil {
		return fmt.Errorf("saving %s result: %w", result.Mode, err)
	}
	result.RecordID = id
	return nil
}

// finish passes through Done or Failed and returns to Idle
func (c *Coordinator) finish(terminal Phase, err error) {
	c.mu.Lock()
	c.lastErr = err
	from := c.setPhaseLocked(terminal)
	c.setPhaseLocked(PhaseIdle)
	c.mu.Unlock()

	c.transitioned(from, terminal)
	c.transitioned(terminal, PhaseIdle)
}

// SelectMode changes the persistent mode. Selecting Math while the engine is
// uninitialized starts initialization in the background without waiting for
// it.
func (c *Coordinator) SelectMode(mode Mode) {
	c.mu.Lock()
	prev := c.mode
	c.mode = mode
	c.mu.Unlock()
	c.modeSelected(prev, mode)
}

func (c *Coordinator) modeSelected(prev, mode Mode) {
	if prev != mode {
		c.logger.Info("Scan mode selected", "mode", mode)
	}
	if mode == ModeMath {
		c.startMathInit()
	}
}

// RetryMath restarts a failed math engine initialization
func (c *Coordinator) RetryMath() {
	if c.math.State() != scanning.EngineFailed {
		return
	}
	c.watchInit(c.math.Retry())
}

func (c *Coordinator) startMathInit() {
	if c.math.State() != scanning.EngineUninitialized {
		return
	}
	c.watchInit(c.math.Start())
}

// watchInit reverts Math to Text once if the attempt behind done fails while
// Math is still selected
func (c *Coordinator) watchInit(done <-chan struct{}) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		select {
		case <-done:
		case <-c.quit:
			return
		}
		if c.math.State() != scanning.EngineFailed {
			return
		}

		c.mu.Lock()
		reverted := c.mode == ModeMath
		if reverted {
			c.mode = ModeText
		}
		c.mu.Unlock()

		if reverted {
			c.logger.Warn("Math engine failed, reverted to text mode")
			c.emit(Notice{Kind: NoticeMathUnavailable, Message: "math engine failed, reverted to text mode"})
		}
	}()
}

// Status returns a snapshot of the session
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Phase: c.phase, Mode: c.mode, Engine: c.math.State()}
	if c.lastErr != nil {
		st.LastError = scanning.Details(c.lastErr)
	}
	return st
}

// Close stops the capture queue and releases the math engine. It is safe to
// call more than once.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.quit)
		c.wg.Wait()
		c.closeErr = c.math.Teardown()
	})
	return c.closeErr
}

func (c *Coordinator) setPhaseLocked(to Phase) Phase {
	from := c.phase
	c.phase = to
	return from
}

func (c *Coordinator) transitioned(from, to Phase) {
	if from == to {
		return
	}
	c.logger.Debug("Phase changed", "from", from, "to", to)
	if c.onTransition != nil {
		c.onTransition(from, to)
	}
}

func (c *Coordinator) emit(n Notice) {
	if c.notify != nil {
		c.notify(n)
	}
}
