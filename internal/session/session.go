// Package session manages crawl session directories: one timestamped
// directory per run holding every page fetched during that run.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
)

// IDPrefix starts every session directory name.
const IDPrefix = "crawl_"

var unsafeSegment = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Session is one crawl run's output directory.
type Session struct {
	ID        string    `json:"id"`
	Root      string    `json:"root"`
	StartedAt time.Time `json:"started_at"`
	Active    bool      `json:"active"`
}

// Manager creates, lists, and prunes sessions under a base directory.
type Manager struct {
	baseDir string
	clock   crawler.Clock
	logger  *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
	last   int64
}

// NewManager constructs a Manager rooted at baseDir.
func NewManager(baseDir string, clock crawler.Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		baseDir: baseDir,
		clock:   clock,
		logger:  logger.Named("session"),
		active:  make(map[string]struct{}),
	}
}

// BaseDir returns the directory that holds all sessions.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// Start creates a new session directory. IDs derive from the clock in
// milliseconds and are bumped until unused, so they strictly increase.
func (m *Manager) Start() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Session{}, fmt.Errorf("create session base dir: %w", err)
	}
	now := m.clock.Now()
	stamp := now.UnixMilli()
	if stamp <= m.last {
		stamp = m.last + 1
	}
	for {
		id := IDPrefix + strconv.FormatInt(stamp, 10)
		root := filepath.Join(m.baseDir, id)
		err := os.Mkdir(root, 0o755)
		if errors.Is(err, os.ErrExist) {
			stamp++
			continue
		}
		if err != nil {
			return Session{}, fmt.Errorf("create session dir: %w", err)
		}
		m.last = stamp
		m.active[id] = struct{}{}
		s := Session{ID: id, Root: root, StartedAt: now, Active: true}
		m.logger.Info("session started", zap.String("session", id), zap.String("root", root))
		return s, nil
	}
}

// Finish marks a session inactive so retention cleanup may remove it.
func (m *Manager) Finish(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, s.ID)
}

// List returns all sessions, newest first.
func (m *Manager) List() ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked()
}

func (m *Manager) listLocked() ([]Session, error) {
	entries, err := os.ReadDir(m.baseDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session base dir: %w", err)
	}
	sessions := make([]Session, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), IDPrefix) {
			continue
		}
		started, ok := parseID(entry.Name())
		if !ok {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			started = info.ModTime()
		}
		_, active := m.active[entry.Name()]
		sessions = append(sessions, Session{
			ID:        entry.Name(),
			Root:      filepath.Join(m.baseDir, entry.Name()),
			StartedAt: started,
			Active:    active,
		})
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	return sessions, nil
}

// Cleanup deletes all but the newest keep sessions. Active sessions are
// never deleted and do not count against keep.
func (m *Manager) Cleanup(keep int) ([]Session, error) {
	if keep < 0 {
		return nil, &crawler.ConfigError{Field: "keep", Reason: "keep must not be negative"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions, err := m.listLocked()
	if err != nil {
		return nil, err
	}
	var removed []Session
	kept := 0
	for _, s := range sessions {
		if s.Active {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		if err := os.RemoveAll(s.Root); err != nil {
			return removed, fmt.Errorf("remove session %s: %w", s.ID, err)
		}
		m.logger.Info("session removed", zap.String("session", s.ID))
		removed = append(removed, s)
	}
	return removed, nil
}

// Prefix returns the storage key prefix for pages of a descriptor in a session.
func (m *Manager) Prefix(sessionID, domain, descriptor string) string {
	return filepath.ToSlash(filepath.Join(
		sanitizeSegment(sessionID),
		sanitizeSegment(domain),
		sanitizeSegment(descriptor),
	))
}

// ResolvePath returns the directory holding pages of a descriptor in a session.
func (m *Manager) ResolvePath(s Session, domain, descriptor string) string {
	return filepath.Join(m.baseDir, filepath.FromSlash(m.Prefix(s.ID, domain, descriptor)))
}

func parseID(id string) (time.Time, bool) {
	ms, err := strconv.ParseInt(strings.TrimPrefix(id, IDPrefix), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func sanitizeSegment(raw string) string {
	cleaned := unsafeSegment.ReplaceAllString(strings.TrimSpace(raw), "_")
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}
