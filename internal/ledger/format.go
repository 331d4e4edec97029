package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
)

// State is the recorded status of a URL.
type State int

// Ledger states. A URL with no entry is pending.
const (
	StatePending State = iota
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Tags written for completed URLs.
const (
	TagDone     = "X"
	TagAutoExit = "AUTOEXIT"
)

// Entry is the recorded status of one URL.
type Entry struct {
	URL          string `json:"url"`
	State        State  `json:"state"`
	FailureCount int    `json:"failure_count"`
	Tag          string `json:"tag,omitempty"`
}

// DoneTag returns the completion tag recording how many novel items a page yielded.
func DoneTag(novel int) string {
	return TagDone + strconv.Itoa(novel)
}

// NoveltyFromTag extracts the novel item count from a tag such as X12.
func NoveltyFromTag(tag string) (int, bool) {
	if !strings.HasPrefix(tag, TagDone) || len(tag) == len(TagDone) {
		return 0, false
	}
	n, err := strconv.Atoi(tag[len(TagDone):])
	if err != nil {
		return 0, false
	}
	return n, true
}

// formatLine renders one ledger line. Pending URLs render as "[ ] url".
func formatLine(url string, e *Entry) string {
	if e == nil {
		return "[ ] " + url
	}
	switch e.State {
	case StateCompleted:
		tag := e.Tag
		if tag == "" {
			tag = TagDone
		}
		return "[" + tag + "] " + url
	case StateFailed:
		return fmt.Sprintf("[-%d] %s", e.FailureCount, url)
	default:
		return "[ ] " + url
	}
}

// parseLine decodes one non-blank ledger line. It returns a nil entry for
// pending lines and a *crawler.LedgerCorruptionError for anything malformed.
func parseLine(lineNo int, raw string) (string, *Entry, error) {
	line := strings.TrimSpace(raw)
	corrupt := &crawler.LedgerCorruptionError{Line: lineNo, Text: raw}
	if !strings.HasPrefix(line, "[") {
		return "", nil, corrupt
	}
	end := strings.Index(line, "]")
	if end < 1 {
		return "", nil, corrupt
	}
	marker := line[1:end]
	url := strings.TrimSpace(line[end+1:])
	if url == "" {
		return "", nil, corrupt
	}
	switch {
	case strings.TrimSpace(marker) == "":
		return url, nil, nil
	case marker == TagAutoExit:
		return url, &Entry{URL: url, State: StateCompleted, Tag: TagAutoExit}, nil
	case strings.HasPrefix(marker, TagDone):
		if rest := marker[len(TagDone):]; rest != "" {
			if _, err := strconv.Atoi(rest); err != nil {
				return "", nil, corrupt
			}
		}
		return url, &Entry{URL: url, State: StateCompleted, Tag: marker}, nil
	case strings.HasPrefix(marker, "-"):
		count, err := strconv.Atoi(marker[1:])
		if err != nil || count < 1 {
			return "", nil, corrupt
		}
		return url, &Entry{URL: url, State: StateFailed, FailureCount: count}, nil
	default:
		return "", nil, corrupt
	}
}
