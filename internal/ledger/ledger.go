// Package ledger is the durable per-URL status file. Every mutation is
// written through to disk before it returns, and an advisory file lock keeps
// a second process from opening the same ledger.
package ledger

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
	"github.com/JakeFAU/urlcrawl/internal/metrics"
)

// ErrLocked is returned by Open when another process holds the ledger.
var ErrLocked = errors.New("ledger is locked by another process")

// Ledger tracks completion state per URL.
type Ledger struct {
	mu          sync.Mutex
	path        string
	lock        *flock.Flock
	entries     map[string]*Entry
	order       []string
	known       map[string]struct{}
	corruptions []*crawler.LedgerCorruptionError
	logger      *zap.Logger
	closed      bool
}

// Open loads the ledger at path, creating its directory when needed, and
// takes the exclusive lock.
func Open(path string, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock ledger: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}
	l := &Ledger{
		path:    path,
		lock:    lock,
		entries: make(map[string]*Entry),
		known:   make(map[string]struct{}),
		logger:  logger.Named("ledger").With(zap.String("path", path)),
	}
	if err := l.load(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) load() error {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		if len(bytes.TrimSpace([]byte(raw))) == 0 {
			continue
		}
		url, entry, err := parseLine(lineNo, raw)
		if err != nil {
			var corrupt *crawler.LedgerCorruptionError
			if errors.As(err, &corrupt) {
				l.corruptions = append(l.corruptions, corrupt)
			}
			l.logger.Warn("skipping malformed ledger line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		l.remember(url)
		if entry != nil {
			l.entries[url] = entry
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan ledger: %w", err)
	}
	l.logger.Info("ledger loaded",
		zap.Int("urls", len(l.order)),
		zap.Int("entries", len(l.entries)),
		zap.Int("malformed", len(l.corruptions)),
	)
	return nil
}

func (l *Ledger) remember(url string) {
	if _, ok := l.known[url]; ok {
		return
	}
	l.known[url] = struct{}{}
	l.order = append(l.order, url)
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// Corruptions lists the malformed lines skipped at load time.
func (l *Ledger) Corruptions() []*crawler.LedgerCorruptionError {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*crawler.LedgerCorruptionError, len(l.corruptions))
	copy(out, l.corruptions)
	return out
}

// Seed fixes the line order of the file to the candidate order, followed by
// any previously known URLs. Untouched candidates are written as pending lines.
func (l *Ledger) Seed(urls []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.usable(); err != nil {
		return err
	}
	previous := l.order
	l.order = make([]string, 0, len(urls)+len(previous))
	l.known = make(map[string]struct{}, len(urls)+len(previous))
	for _, u := range urls {
		l.remember(u)
	}
	for _, u := range previous {
		l.remember(u)
	}
	return l.persistLocked()
}

// MarkDone records a successful fetch with the default tag.
func (l *Ledger) MarkDone(url string) error {
	return l.MarkDoneTagged(url, TagDone)
}

// MarkDoneTagged records a successful fetch with a completion tag. The
// failure count is cleared and frozen.
func (l *Ledger) MarkDoneTagged(url, tag string) error {
	if tag == "" {
		tag = TagDone
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.usable(); err != nil {
		return err
	}
	l.remember(url)
	l.entries[url] = &Entry{URL: url, State: StateCompleted, Tag: tag}
	return l.persistLocked()
}

// MarkFailed increments the failure count. Failing a completed URL is a
// no-op reported as a *crawler.LogicError.
func (l *Ledger) MarkFailed(url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.usable(); err != nil {
		return err
	}
	entry, ok := l.entries[url]
	if ok && entry.State == StateCompleted {
		return &crawler.LogicError{Op: "mark failed", URL: url, Reason: "url is already completed"}
	}
	if !ok {
		entry = &Entry{URL: url, State: StateFailed}
		l.entries[url] = entry
	}
	entry.State = StateFailed
	entry.FailureCount++
	l.remember(url)
	return l.persistLocked()
}

// IsDone reports whether url is completed.
func (l *Ledger) IsDone(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[url]
	return ok && e.State == StateCompleted
}

// IsFailed reports whether url last failed.
func (l *Ledger) IsFailed(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[url]
	return ok && e.State == StateFailed
}

// FailureCount returns how often url failed, or 0 for unknown and completed URLs.
func (l *Ledger) FailureCount(url string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[url]; ok {
		return e.FailureCount
	}
	return 0
}

// Lookup returns a copy of the entry for url.
func (l *Ledger) Lookup(url string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[url]; ok {
		return *e, true
	}
	return Entry{URL: url, State: StatePending}, false
}

// TodoURLs returns the URLs of all that are not completed, in order.
func (l *Ledger) TodoURLs(all []string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(all))
	for _, u := range all {
		if e, ok := l.entries[u]; ok && e.State == StateCompleted {
			continue
		}
		out = append(out, u)
	}
	return out
}

// PendingOnly returns the URLs of all that were never attempted, in order.
func (l *Ledger) PendingOnly(all []string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(all))
	for _, u := range all {
		if _, ok := l.entries[u]; ok {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Entries returns a snapshot of every recorded entry in file order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.entries))
	for _, u := range l.order {
		if e, ok := l.entries[u]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// Reset forgets every entry and rewrites the file with pending lines.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.usable(); err != nil {
		return err
	}
	l.entries = make(map[string]*Entry)
	l.corruptions = nil
	l.logger.Info("ledger reset", zap.Int("urls", len(l.order)))
	return l.persistLocked()
}

// Close releases the file lock. The ledger is unusable afterwards.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock ledger: %w", err)
	}
	return nil
}

func (l *Ledger) usable() error {
	if l.closed {
		return errors.New("ledger is closed")
	}
	return nil
}

// persistLocked rewrites the whole file through a temp file and rename so a
// crash never leaves a half-written ledger.
func (l *Ledger) persistLocked() error {
	start := time.Now()
	var buf bytes.Buffer
	for _, u := range l.order {
		buf.WriteString(formatLine(u, l.entries[u]))
		buf.WriteByte('\n')
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), "."+filepath.Base(l.path)+".*")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace ledger: %w", err)
	}
	metrics.ObserveLedgerWrite(time.Since(start))
	return nil
}
