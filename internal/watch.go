package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	tt "github.com/veristub-labs/veristub/internal/types"
)

// SourceExtension is the suffix annotated source files carry.
const SourceExtension = ".vst"

// Watcher re-verifies annotated source files whenever they change on disk.
type Watcher struct {
	opts       Options
	log        *zap.Logger
	watcher    *fsnotify.Watcher
	isWatching bool

	// OnReports receives the verification reports for a re-checked file.
	// When nil, results are only logged.
	OnReports func(filename string, reports []Report)
}

func NewWatcher(opts Options, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("error creating file watcher: %w", err)
	}
	return &Watcher{opts: opts, log: log, watcher: fsw}, nil
}

func (w *Watcher) StartWatching(dirs []string) error {
	if w.isWatching {
		return fmt.Errorf("already watching")
	}

	for _, dir := range dirs {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return w.watcher.Add(path)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("error adding directory to watcher: %w", err)
		}
	}

	w.isWatching = true
	go w.watchLoop()
	return nil
}

func (w *Watcher) StopWatching() error {
	if !w.isWatching {
		w.log.Warn("not watching")
	}

	w.isWatching = false
	return w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	for w.isWatching {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFileEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleFileEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Write == fsnotify.Write {
		if strings.HasSuffix(event.Name, SourceExtension) {
			// wait for a while after file change to consider multiple changes as one
			time.Sleep(100 * time.Millisecond)
			reports, err := w.verifyFile(event.Name)
			if err != nil {
				w.log.Error("re-verification failed", zap.String("file", event.Name), zap.Error(err))
				return
			}
			w.reportResults(event.Name, reports)
		}
	}
}

func (w *Watcher) verifyFile(filename string) ([]Report, error) {
	prog, specErrs, err := LoadFile(filename)
	if err != nil {
		return nil, err
	}
	for _, se := range specErrs {
		w.log.Warn("spec error", zap.String("file", filename), zap.String("error", se.Error()))
	}

	engine, err := NewEngine(prog, w.opts, w.log)
	if err != nil {
		return nil, err
	}
	return engine.RunAll(context.Background())
}

func (w *Watcher) reportResults(filename string, reports []Report) {
	if w.OnReports != nil {
		w.OnReports(filename, reports)
	}

	failed := 0
	for _, rep := range reports {
		if rep.Failed() {
			failed++
		}
	}
	if failed == 0 {
		w.log.Info("all obligations hold", zap.String("file", filename), zap.Int("targets", len(reports)))
		return
	}
	w.log.Info("verification finished", zap.String("file", filename),
		zap.Int("targets", len(reports)), zap.Int("failed", failed))
	for _, rep := range reports {
		if !rep.Failed() {
			continue
		}
		for _, res := range rep.Results {
			if res.Status == tt.StatusPass {
				continue
			}
			w.log.Warn("obligation failed",
				zap.String("target", rep.Target),
				zap.String("kind", res.Obligation.Kind.String()),
				zap.String("expr", res.Obligation.Expr))
		}
	}
}
