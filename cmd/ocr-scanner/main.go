package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/ocr-scanner/internal/library"
	"github.com/zombor/ocr-scanner/internal/pipeline"
	"github.com/zombor/ocr-scanner/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is fine
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(os.Stdout)
	if err := root.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("OCR_SCANNER")); err != nil {
		selected := root.GetSelected()
		if selected == nil {
			selected = root
		}
		if errors.Is(err, ff.ErrHelp) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(selected))
			os.Exit(0)
		}
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(selected))
		}
		slog.Error("ocr-scanner failed", "error", err)
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand
type options struct {
	dbPath      *string
	storagePath *string
	engine      *string
	geminiKey   *string
	geminiModel *string
	ollamaURL   *string
	ollamaModel *string
	visionCreds *string
	assetsDir   *string
	dataDir     *string
	mathModels  *string
	mode        *string
	logLevel    *string
	logFormat   *string
}

func newRootCommand(stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("ocr-scanner")
	opts := &options{
		dbPath:      fs.StringLong("db", "ocr-scanner.db", "Database file path"),
		storagePath: fs.StringLong("storage", "./scans", "Scanned image storage directory"),
		engine:      fs.StringLong("engine", "gemini", "Text recognition engine: 'vision', 'gemini' or 'ollama'"),
		geminiKey:   fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel: fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name"),
		ollamaURL:   fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel: fs.StringLong("ollama-model", "qwen2.5vl", "Ollama vision model name"),
		visionCreds: fs.StringLong("vision-credentials", "", "Google Cloud credentials file for the Vision engine (or set GOOGLE_CREDENTIALS)"),
		assetsDir:   fs.StringLong("tessdata-assets", "./assets", "Directory holding bundled math models under tessdata/"),
		dataDir:     fs.StringLong("data-dir", "./data", "Writable directory the math models are staged into"),
		mathModels:  fs.StringLong("math-models", strings.Join(scanning.DefaultModels, ","), "Math engine models in priority order"),
		mode:        fs.StringLong("mode", "text", "Initial scan mode: 'text', 'math' or 'receipt'"),
		logLevel:    fs.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		logFormat:   fs.StringLong("log-format", "text", "Log format: 'text' or 'json'"),
	}

	root := &ff.Command{
		Name:      "ocr-scanner",
		Usage:     "ocr-scanner [FLAGS] <SUBCOMMAND>",
		ShortHelp: "Recognize text, math and receipts from images",
		Flags:     fs,
	}
	root.Subcommands = []*ff.Command{
		newServeCommand(fs, opts),
		newScanCommand(fs, opts, stdout),
	}
	return root
}

// setupLogging installs the default slog handler
func (o *options) setupLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(*o.logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", *o.logLevel, err)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch *o.logFormat {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		return fmt.Errorf("invalid log format %q", *o.logFormat)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// newRecognizer builds the primary engine
func (o *options) newRecognizer(ctx context.Context) (scanning.Recognizer, error) {
	switch *o.engine {
	case "vision":
		slog.Info("Initializing Vision engine...")
		return scanning.NewVision(ctx, *o.visionCreds)
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *o.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required; set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini engine...", "model", *o.geminiModel)
		return scanning.NewGemini(apiKey, *o.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama engine...", "url", *o.ollamaURL, "model", *o.ollamaModel)
		return scanning.NewOllama(*o.ollamaURL, *o.ollamaModel)
	default:
		return nil, fmt.Errorf("invalid engine %q: want vision, gemini or ollama", *o.engine)
	}
}

func (o *options) models() []string {
	var models []string
	for _, m := range strings.Split(*o.mathModels, ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	return models
}

// session is everything one scanning session owns
type session struct {
	db          *library.BoltDB
	library     *library.Service
	recognizer  scanning.Recognizer
	coordinator *pipeline.Coordinator
}

// open wires storage, the engines and the coordinator
func (o *options) open(ctx context.Context) (*session, error) {
	mode, err := pipeline.ParseMode(*o.mode)
	if err != nil {
		return nil, err
	}

	slog.Info("Initializing database...", "path", *o.dbPath)
	db, err := library.NewBoltDB(*o.dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	slog.Info("Initializing storage...", "path", *o.storagePath)
	store, err := library.NewLocalStorage(*o.storagePath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	recognizer, err := o.newRecognizer(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing recognition engine: %w", err)
	}

	if !scanning.TesseractEnabled {
		slog.Warn("Built without tesseract; math scans use text recognition")
	}
	manager := scanning.NewManager(scanning.ManagerConfig{
		Assets:  os.DirFS(*o.assetsDir),
		DataDir: *o.dataDir,
		Models:  o.models(),
		Logger:  slog.Default().With("component", "math-engine"),
	})

	lib := library.NewService(db, store)
	coordinator := pipeline.NewCoordinator(recognizer, manager, pipeline.Options{
		Mode: mode,
		Sink: lib,
		Notify: func(n pipeline.Notice) {
			slog.Warn("Scan notice", "kind", n.Kind, "message", n.Message)
		},
		OnTransition: func(from, to pipeline.Phase) {
			slog.Debug("Session phase", "from", from, "to", to)
		},
		Logger: slog.Default().With("component", "coordinator"),
	})

	return &session{
		db:          db,
		library:     lib,
		recognizer:  recognizer,
		coordinator: coordinator,
	}, nil
}

// Close releases the session in reverse order of opening
func (s *session) Close() error {
	return errors.Join(
		s.coordinator.Close(),
		s.recognizer.Close(),
		s.db.Close(),
	)
}
