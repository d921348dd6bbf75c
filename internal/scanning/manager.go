package scanning

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// EngineState is the lifecycle of the math engine
type EngineState int

const (
	EngineUninitialized EngineState = iota
	EngineInitializing
	EngineReady
	EngineFailed
)

func (s EngineState) String() string {
	switch s {
	case EngineUninitialized:
		return "uninitialized"
	case EngineInitializing:
		return "initializing"
	case EngineReady:
		return "ready"
	case EngineFailed:
		return "failed"
	default:
		return fmt.Sprintf("EngineState(%d)", int(s))
	}
}

// MarshalText renders the state as its name
func (s EngineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DefaultModels is the model priority order: the equation model first, the
// general-purpose English model second.
var DefaultModels = []string{"equ", "eng"}

// ManagerConfig configures a Manager
type ManagerConfig struct {
	// Assets is the bundled source; model files live under tessdata/
	Assets fs.FS
	// DataDir is a writable directory; models are staged to DataDir/tessdata
	DataDir string
	// Models are tried in order; the first to load wins
	Models []string
	// NewEngine creates a fresh native engine instance
	NewEngine func() FormulaEngine
	Logger    *slog.Logger
}

// Manager owns the math engine: model staging, initialization, fallback
// model order and release. Create one per scanning session and Teardown it
// when the session ends.
type Manager struct {
	assets    fs.FS
	dataDir   string
	models    []string
	newEngine func() FormulaEngine
	logger    *slog.Logger

	mu     sync.Mutex
	state  EngineState
	done   chan struct{}
	err    error
	engine FormulaEngine
	closed bool

	// engineMu serializes use of the native engine
	engineMu sync.Mutex
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// NewManager creates a Manager in the Uninitialized state
func NewManager(cfg ManagerConfig) *Manager {
	models := cfg.Models
	if len(models) == 0 {
		models = DefaultModels
	}
	newEngine := cfg.NewEngine
	if newEngine == nil {
		newEngine = NewTesseract
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		assets:    cfg.Assets,
		dataDir:   cfg.DataDir,
		models:    append([]string(nil), models...),
		newEngine: newEngine,
		logger:    logger,
	}
}

// State returns the current engine state
func (m *Manager) State() EngineState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsReady reports whether the engine loaded a model
func (m *Manager) IsReady() bool {
	return m.State() == EngineReady
}

// Start begins initialization on a background goroutine when the engine is
// Uninitialized. While an attempt is in flight it returns that attempt's done
// channel instead of starting another. The returned channel is closed once
// the attempt resolves.
func (m *Manager) Start() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(EngineUninitialized)
}

// Retry restarts initialization after a failure
func (m *Manager) Retry() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(EngineFailed)
}

func (m *Manager) startLocked(from EngineState) <-chan struct{} {
	if m.state == EngineInitializing {
		return m.done
	}
	if m.closed || m.state != from {
		return closedChan
	}
	m.state = EngineInitializing
	m.err = nil
	m.done = make(chan struct{})
	go m.run(m.done)
	return m.done
}

func (m *Manager) run(done chan struct{}) {
	engine, err := m.load()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = EngineFailed
		m.err = err
		m.logger.Warn("Math engine unavailable", "error", err)
	} else {
		m.state = EngineReady
		m.engine = engine
	}
	close(done)
}

// Initialize starts initialization, or attaches to the attempt in flight, and
// waits for it to resolve.
func (m *Manager) Initialize(ctx context.Context) (EngineState, error) {
	m.Start()
	return m.Await(ctx)
}

// Await waits for an in-flight initialization and returns the resulting
// state. It returns immediately when nothing is in flight.
func (m *Manager) Await(ctx context.Context) (EngineState, error) {
	m.mu.Lock()
	state, done := m.state, m.done
	m.mu.Unlock()

	if state == EngineInitializing {
		select {
		case <-done:
		case <-ctx.Done():
			return EngineInitializing, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == EngineFailed {
		return m.state, m.err
	}
	return m.state, nil
}

// load stages model data and tries each model in priority order
func (m *Manager) load() (FormulaEngine, error) {
	const op = "Initialize"

	if err := m.stage(); err != nil {
		return nil, NewError(op, ErrEngineInit, err, "cannot stage model data")
	}

	var errs []error
	for _, model := range m.models {
		engine := m.newEngine()
		if err := engine.Init(m.tessdataDir(), model); err != nil {
			errs = append(errs, fmt.Errorf("model %s: %w", model, err))
			if relErr := engine.Release(); relErr != nil {
				m.logger.Warn("Failed to release math engine", "model", model, "error", relErr)
			}
			continue
		}
		if err := engine.SetDiagnosticSink(os.DevNull); err != nil {
			m.logger.Warn("Failed to silence math engine diagnostics", "error", err)
		}
		m.logger.Info("Math engine ready", "model", model)
		return engine, nil
	}
	return nil, NewError(op, ErrEngineInit, errors.Join(errs...), "no model could be loaded")
}

func (m *Manager) tessdataDir() string {
	return filepath.Join(m.dataDir, "tessdata")
}

// stage copies bundled model files into the data directory. Files already
// staged are left alone. A model missing from the bundle is skipped so a later
// model can still load.
func (m *Manager) stage() error {
	dir := m.tessdataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	for _, model := range m.models {
		name := model + ".traineddata"
		dst := filepath.Join(dir, name)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if m.assets == nil {
			m.logger.Warn("No bundled model data", "model", model)
			continue
		}

		src, err := m.assets.Open(path.Join("tessdata", name))
		if errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("Model not bundled", "model", model)
			continue
		}
		if err != nil {
			return fmt.Errorf("opening bundled %s: %w", name, err)
		}
		err = copyFile(src, dst)
		src.Close()
		if err != nil {
			return fmt.Errorf("staging %s: %w", name, err)
		}
		m.logger.Debug("Staged model data", "model", model, "path", dst)
	}
	return nil
}

// copyFile writes to a temporary file first so a partial copy is never
// mistaken for a staged model
func copyFile(src io.Reader, dst string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// RecognizeLine runs single-line recognition on img and returns the trimmed
// text
func (m *Manager) RecognizeLine(ctx context.Context, img image.Image) (string, error) {
	const op = "RecognizeLine"

	m.engineMu.Lock()
	defer m.engineMu.Unlock()

	m.mu.Lock()
	engine, state := m.engine, m.state
	m.mu.Unlock()
	if state != EngineReady || engine == nil {
		return "", NewError(op, ErrEngineInit, nil, "math engine is not ready")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := engine.SetSegmentationMode(SegmentSingleLine); err != nil {
		return "", NewError(op, ErrRecognition, err, "")
	}
	if err := engine.SetImage(img); err != nil {
		return "", NewError(op, ErrRecognition, err, "")
	}
	text, err := engine.Text()
	if err != nil {
		return "", NewError(op, ErrRecognition, err, "")
	}
	return strings.TrimSpace(text), nil
}

// Teardown releases the native engine. It waits for an in-flight
// initialization first and is safe to call when nothing was initialized.
// After Teardown the manager cannot be started again.
func (m *Manager) Teardown() error {
	m.mu.Lock()
	m.closed = true
	done := m.done
	m.mu.Unlock()

	if done != nil {
		<-done
	}

	m.engineMu.Lock()
	defer m.engineMu.Unlock()

	m.mu.Lock()
	engine := m.engine
	m.engine = nil
	m.state = EngineUninitialized
	m.mu.Unlock()

	if engine == nil {
		return nil
	}
	if err := engine.Release(); err != nil {
		return fmt.Errorf("releasing math engine: %w", err)
	}
	return nil
}
