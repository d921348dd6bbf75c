package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"runtime"

	"github.com/peterbourgon/ff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/ocr-scanner/internal/pipeline"
	"github.com/zombor/ocr-scanner/internal/scanning"
)

// scanOutput is one JSON line written per scanned file
type scanOutput struct {
	File   string           `json:"file"`
	Result *pipeline.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// decodedFile is a file read and decoded ahead of recognition
type decodedFile struct {
	data    []byte
	capture *pipeline.Capture
	err     error
}

func newScanCommand(parent *ff.FlagSet, opts *options, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("scan").SetParent(parent)
	var (
		jobs  = fs.IntLong("jobs", runtime.NumCPU(), "Files decoded concurrently")
		label = fs.StringLong("label", "", "Merchant label for receipt scans")
	)

	return &ff.Command{
		Name:      "scan",
		Usage:     "ocr-scanner scan [FLAGS] <FILE>...",
		ShortHelp: "Scan image files and store the results",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return errors.New("scan requires at least one image file")
			}
			if err := opts.setupLogging(); err != nil {
				return err
			}

			sess, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			return scanFiles(ctx, sess, args, *jobs, *label, stdout)
		},
	}
}

// scanFiles decodes the files concurrently, then recognizes them one at a
// time through the session. A failed file does not stop the batch.
func scanFiles(ctx context.Context, sess *session, paths []string, jobs int, label string, stdout io.Writer) error {
	decoded := make([]decodedFile, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(jobs, 1))
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				decoded[i].err = fmt.Errorf("reading file: %w", err)
				return nil
			}
			img, err := scanning.DecodeRaster(data, mime.TypeByExtension(filepath.Ext(path)))
			if err != nil {
				decoded[i].err = err
				return nil
			}
			decoded[i] = decodedFile{data: data, capture: &pipeline.Capture{Image: img, Label: label}}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	failed := 0
	for i, path := range paths {
		out := scanOutput{File: path}
		result, err := scanOne(ctx, sess, path, decoded[i])
		if err != nil {
			failed++
			out.Error = scanning.Details(err)
			slog.Error("Scan failed", "file", path, "error", err)
		} else {
			out.Result = result
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(paths))
	}
	return nil
}

func scanOne(ctx context.Context, sess *session, path string, file decodedFile) (*pipeline.Result, error) {
	if file.err != nil {
		return nil, file.err
	}

	ref, err := sess.library.StoreImage(filepath.Base(path), file.data)
	if err != nil {
		return nil, err
	}
	capture := *file.capture
	capture.Ref = ref

	src := pipeline.SourceFunc(func(context.Context) (*pipeline.Capture, error) {
		return &capture, nil
	})
	result, err := sess.coordinator.Scan(ctx, src, image.Rectangle{})
	if err != nil {
		if delErr := sess.library.DeleteImage(ref); delErr != nil {
			slog.Warn("Failed to delete image", "path", ref, "error", delErr)
		}
		return nil, err
	}
	return result, nil
}
