package qa

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ProgressLogFileName is the per-spec QA progress log.
const ProgressLogFileName = "qa_progress.log"

// ProgressWriter is a phase-callback target that appends one line per
// transition to the spec's progress log. Writes go straight to a file
// handle kept open for the writer's lifetime, so the callback does not
// reopen the log per event.
type ProgressWriter struct {
	mu   sync.Mutex
	file *os.File
}

// NewProgressWriter opens (creating if needed) the progress log in specDir.
func NewProgressWriter(specDir string) (*ProgressWriter, error) {
	if err := os.MkdirAll(specDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spec dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(specDir, ProgressLogFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening progress log: %w", err)
	}
	return &ProgressWriter{file: f}, nil
}

// Record is the Event callback.
func (w *ProgressWriter) Record(event Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return
	}
	fmt.Fprintf(w.file, "%s iteration=%d phase=%s\n", time.Now().UTC().Format(time.RFC3339), event.Iteration, event.Phase)
}

// Close flushes and closes the log.
func (w *ProgressWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// LogTailer streams new lines from a progress log as they are written,
// using fsnotify with a polling fallback so observers can follow a QA run
// live. The file does not need to exist yet.
type LogTailer struct {
	path    string
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	closed  bool
}

// NewLogTailer creates a tailer for path.
func NewLogTailer(path string) (*LogTailer, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &LogTailer{path: path, watcher: watcher}, nil
}

// Tail returns a channel receiving log lines. With follow=false the
// existing content is dumped and the channel closed; with follow=true new
// lines stream until ctx is cancelled or Close is called.
func (t *LogTailer) Tail(ctx context.Context, follow bool) (<-chan string, error) {
	lines := make(chan string, 100)
	go t.tailLoop(ctx, lines, follow)
	return lines, nil
}

// Close stops the tailer.
func (t *LogTailer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.watcher.Close()
}

func (t *LogTailer) tailLoop(ctx context.Context, lines chan<- string, follow bool) {
	defer close(lines)

	if err := t.waitForFile(ctx); err != nil {
		return
	}
	offset, err := t.readFrom(ctx, lines, 0)
	if err != nil || !follow {
		return
	}
	t.streamNewContent(ctx, lines, offset)
}

// waitForFile blocks until the log file exists, watching its parent
// directory with a polling backup for missed events.
func (t *LogTailer) waitForFile(ctx context.Context) error {
	if _, err := os.Stat(t.path); err == nil {
		return nil
	}

	parentDir := filepath.Dir(t.path)
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	if err := t.watcher.Add(parentDir); err != nil {
		return fmt.Errorf("watching parent directory: %w", err)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-t.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if event.Name == t.path && (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) {
				return nil
			}
		case <-ticker.C:
			if _, err := os.Stat(t.path); err == nil {
				return nil
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

// readFrom sends every complete line at or beyond offset, returning the new
// offset.
func (t *LogTailer) readFrom(ctx context.Context, lines chan<- string, offset int64) (int64, error) {
	file, err := os.Open(t.path)
	if err != nil {
		return offset, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, err
	}
	// Truncation resets the window.
	if info.Size() < offset {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return offset, ctx.Err()
		case lines <- scanner.Text():
			offset += int64(len(scanner.Bytes())) + 1
		}
	}
	return offset, scanner.Err()
}

func (t *LogTailer) streamNewContent(ctx context.Context, lines chan<- string, offset int64) {
	if err := t.watcher.Add(t.path); err != nil {
		return
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if event.Name == t.path && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				offset, _ = t.readFrom(ctx, lines, offset)
			}
		case <-ticker.C:
			offset, _ = t.readFrom(ctx, lines, offset)
		case _, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			// Polling covers reads while the watcher misbehaves.
		}
	}
}
