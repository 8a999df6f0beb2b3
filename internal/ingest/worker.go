package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// FolderLoader ingests every new course document in a directory.
type FolderLoader interface {
	AddCourseFolder(ctx context.Context, dir string, clearExisting bool) (courses, chunks int, err error)
}

// Worker rescans a documents directory so files dropped into it while the
// server runs get indexed.
type Worker struct {
	loader FolderLoader
	dir    string
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker for dir.
// If pollInterval is <= 0, it defaults to one minute.
func NewWorker(loader FolderLoader, dir string, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &Worker{
		loader: loader,
		dir:    dir,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used for scan results.
func (w *Worker) WithLogger(l *slog.Logger) *Worker {
	w.logger = l
	return w
}

// Run rescans the directory every poll interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("document scan failed", "dir", w.dir, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce scans the directory once. Returns true if any course was added.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	courses, chunks, err := w.loader.AddCourseFolder(ctx, w.dir, false)
	if err != nil {
		return false, fmt.Errorf("scanning %s: %w", w.dir, err)
	}
	if courses == 0 {
		return false, nil
	}
	w.logger.Info("indexed new course documents", "dir", w.dir, "courses", courses, "chunks", chunks)
	return true, nil
}
