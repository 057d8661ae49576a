// Package watch implements decode-side directory watching: new scanned
// page bundles (PDF or image files) dropped into an input directory are
// decoded automatically, with a polling fallback for filesystems (WebDAV,
// network shares) where inotify/kqueue events don't fire reliably.
package watch

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DecodeFunc decodes one input bundle (a PDF, or a directory of page
// images) into an output document at outputPath.
type DecodeFunc func(inputPath, outputPath string) error

// Config controls what gets watched and how inputs map to outputs.
type Config struct {
	InputDir     string
	OutputDir    string
	PollInterval time.Duration
	Decode       DecodeFunc
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 5 * time.Second
}

// pathLocker provides per-path mutual exclusion so the same output file
// is never decoded into concurrently by two racing triggers.
type pathLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPathLocker() *pathLocker {
	return &pathLocker{locks: make(map[string]*sync.Mutex)}
}

func (pl *pathLocker) Lock(path string) {
	pl.mu.Lock()
	l, ok := pl.locks[path]
	if !ok {
		l = &sync.Mutex{}
		pl.locks[path] = l
	}
	pl.mu.Unlock()
	l.Lock()
}

func (pl *pathLocker) Unlock(path string) {
	pl.mu.Lock()
	l, ok := pl.locks[path]
	pl.mu.Unlock()
	if !ok {
		return
	}
	l.Unlock()
}

// debouncer coalesces rapid event bursts (a scanner writing a PDF in
// chunks, e.g.) into a single callback per file.
type debouncer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	delay  time.Duration
	onFire func(path string)
}

func newDebouncer(delay time.Duration, onFire func(path string)) *debouncer {
	return &debouncer{timers: make(map[string]*time.Timer), delay: delay, onFire: onFire}
}

func (d *debouncer) trigger(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[path]; ok {
		t.Reset(d.delay)
		return
	}
	d.timers[path] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.timers, path)
		d.mu.Unlock()
		d.onFire(path)
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for path, t := range d.timers {
		t.Stop()
		delete(d.timers, path)
	}
}

func isBundleFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".pdf" || ext == ".png"
}

func outputFor(cfg Config, inputPath string) string {
	rel, err := filepath.Rel(cfg.InputDir, inputPath)
	if err != nil {
		rel = filepath.Base(inputPath)
	}
	ext := filepath.Ext(rel)
	return filepath.Join(cfg.OutputDir, strings.TrimSuffix(rel, ext)+".out")
}

func isUpToDate(input, output string) bool {
	in, err := os.Stat(input)
	if err != nil {
		return false
	}
	out, err := os.Stat(output)
	if err != nil {
		return false
	}
	return !out.ModTime().Before(in.ModTime())
}

func watchRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

// Run watches cfg.InputDir until ctx is canceled (or SIGINT/SIGTERM is
// received, when ctx is context.Background()), decoding every new or
// changed bundle it finds via cfg.Decode.
func Run(ctx context.Context, cfg Config) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: creating watcher: %w", err)
	}
	defer w.Close()

	if err := watchRecursive(w, cfg.InputDir); err != nil {
		return fmt.Errorf("watch: watching %s: %w", cfg.InputDir, err)
	}
	fmt.Printf("Watching: %s\n", cfg.InputDir)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	outLock := newPathLocker()
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	var wg sync.WaitGroup

	runJob := func(input string) {
		output := outputFor(cfg, input)
		if isUpToDate(input, output) {
			return
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; wg.Done() }()
			outLock.Lock(output)
			defer outLock.Unlock(output)
			if isUpToDate(input, output) {
				return
			}
			if err := cfg.Decode(input, output); err != nil {
				fmt.Fprintf(os.Stderr, "decode %s: %v\n", input, err)
			}
		}()
	}

	db := newDebouncer(500*time.Millisecond, runJob)
	defer db.stop()

	filepath.WalkDir(cfg.InputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isBundleFile(path) {
			return nil
		}
		runJob(path)
		return nil
	})

	fmt.Println("Daemon ready. Waiting for file changes...")

	go pollLoop(ctx, cfg, db)
	eventLoop(ctx, w, db)

	fmt.Println("Waiting for in-flight decodes...")
	wg.Wait()
	fmt.Println("Shutdown complete.")
	return nil
}

func eventLoop(ctx context.Context, w *fsnotify.Watcher, db *debouncer) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					watchRecursive(w, ev.Name)
					continue
				}
			}
			if ev.Has(fsnotify.Rename) {
				if _, err := os.Stat(ev.Name); err != nil {
					continue
				}
				w.Add(filepath.Dir(ev.Name))
			}
			if !isBundleFile(ev.Name) {
				continue
			}
			db.trigger(ev.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "watcher error: %v\n", err)
		}
	}
}

// pollLoop walks the input directory at a fixed interval to detect mtime
// changes on network/virtual filesystems where fsnotify doesn't fire.
func pollLoop(ctx context.Context, cfg Config, db *debouncer) {
	mtimes := make(map[string]time.Time)
	ticker := time.NewTicker(cfg.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		filepath.WalkDir(cfg.InputDir, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() || !isBundleFile(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			mt := info.ModTime()
			if prev, ok := mtimes[path]; !ok || !mt.Equal(prev) {
				mtimes[path] = mt
				db.trigger(path)
			}
			return nil
		})
	}
}
