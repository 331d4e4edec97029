package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
)

func openTemp(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "status", "ledger.txt")
	l, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestLedgerRoundTrip(t *testing.T) {
	t.Parallel()

	l, path := openTemp(t)
	all := []string{"https://e.com/1", "https://e.com/2", "https://e.com/3"}
	require.NoError(t, l.Seed(all))
	require.NoError(t, l.MarkDone(all[0]))
	require.NoError(t, l.MarkFailed(all[1]))
	require.NoError(t, l.MarkFailed(all[1]))

	assert.Equal(t, []string{
		"[X] https://e.com/1",
		"[-2] https://e.com/2",
		"[ ] https://e.com/3",
	}, readLines(t, path))

	require.NoError(t, l.Close())
	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	assert.True(t, reopened.IsDone(all[0]))
	assert.Equal(t, 0, reopened.FailureCount(all[0]))
	assert.True(t, reopened.IsFailed(all[1]))
	assert.Equal(t, 2, reopened.FailureCount(all[1]))
	assert.False(t, reopened.IsDone(all[2]))
	assert.False(t, reopened.IsFailed(all[2]))
	assert.Equal(t, all[1:], reopened.TodoURLs(all))
	assert.Equal(t, all[2:], reopened.PendingOnly(all))
}

func TestURLsWithSpacesSurviveReload(t *testing.T) {
	t.Parallel()

	l, path := openTemp(t)
	done := "https://example.com/search?city=New York"
	failed := "https://example.com/search?city=San Jose&page=2"
	pending := "https://example.com/search?city=El\tPaso"
	require.NoError(t, l.Seed([]string{done, failed, pending}))
	require.NoError(t, l.MarkDone(done))
	require.NoError(t, l.MarkFailed(failed))
	require.NoError(t, l.Close())

	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	assert.Empty(t, reopened.Corruptions())
	assert.True(t, reopened.IsDone(done))
	assert.Equal(t, 1, reopened.FailureCount(failed))
	assert.False(t, reopened.IsDone(pending))
	assert.Equal(t, []string{failed, pending}, reopened.TodoURLs([]string{done, failed, pending}))
}

func TestMarkDoneIsIdempotent(t *testing.T) {
	t.Parallel()

	l, _ := openTemp(t)
	u := "https://e.com/a"
	require.NoError(t, l.MarkFailed(u))
	require.NoError(t, l.MarkDone(u))
	require.NoError(t, l.MarkDone(u))
	assert.True(t, l.IsDone(u))
	assert.False(t, l.IsFailed(u))
	assert.Equal(t, 0, l.FailureCount(u))
}

func TestMarkFailedOnCompletedIsLogicError(t *testing.T) {
	t.Parallel()

	l, path := openTemp(t)
	u := "https://e.com/a"
	require.NoError(t, l.MarkDone(u))
	before := readLines(t, path)

	err := l.MarkFailed(u)
	var logicErr *crawler.LogicError
	require.True(t, errors.As(err, &logicErr))
	assert.True(t, l.IsDone(u))
	assert.Equal(t, 0, l.FailureCount(u))
	assert.Equal(t, before, readLines(t, path))
}

func TestUnknownURL(t *testing.T) {
	t.Parallel()

	l, _ := openTemp(t)
	assert.False(t, l.IsDone("https://nowhere"))
	assert.False(t, l.IsFailed("https://nowhere"))
	assert.Equal(t, 0, l.FailureCount("https://nowhere"))
	entry, ok := l.Lookup("https://nowhere")
	assert.False(t, ok)
	assert.Equal(t, StatePending, entry.State)
}

func TestTaggedCompletion(t *testing.T) {
	t.Parallel()

	l, path := openTemp(t)
	require.NoError(t, l.MarkDoneTagged("https://e.com/p1", DoneTag(12)))
	require.NoError(t, l.MarkDoneTagged("https://e.com/p2", ""))
	assert.Equal(t, []string{"[X12] https://e.com/p1", "[X] https://e.com/p2"}, readLines(t, path))

	entry, ok := l.Lookup("https://e.com/p1")
	require.True(t, ok)
	n, ok := NoveltyFromTag(entry.Tag)
	require.True(t, ok)
	assert.Equal(t, 12, n)
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.txt")
	content := strings.Join([]string{
		"[X] https://e.com/done",
		"",
		"garbage line",
		"[-x] https://e.com/badcount",
		"[AUTOEXIT] https://e.com/legacy",
		"[X7] https://e.com/tagged",
		"[-3] https://e.com/failed",
		"[ ] https://e.com/pending",
		"[?] https://e.com/unknown",
		"[X]",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	l, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	assert.True(t, l.IsDone("https://e.com/done"))
	assert.True(t, l.IsDone("https://e.com/legacy"))
	assert.True(t, l.IsDone("https://e.com/tagged"))
	assert.Equal(t, 3, l.FailureCount("https://e.com/failed"))
	assert.False(t, l.IsFailed("https://e.com/badcount"))

	corruptions := l.Corruptions()
	require.Len(t, corruptions, 4)
	assert.Equal(t, 3, corruptions[0].Line)
	assert.Equal(t, 4, corruptions[1].Line)
	assert.Equal(t, 9, corruptions[2].Line)
	assert.Equal(t, 10, corruptions[3].Line)
}

func TestSecondOpenIsLocked(t *testing.T) {
	t.Parallel()

	_, path := openTemp(t)
	_, err := Open(path, nil)
	require.ErrorIs(t, err, ErrLocked)
}

func TestCloseReleasesLock(t *testing.T) {
	t.Parallel()

	l, path := openTemp(t)
	require.NoError(t, l.Close())
	require.Error(t, l.MarkDone("https://e.com/late"))

	again, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestSeedKeepsPreviousURLs(t *testing.T) {
	t.Parallel()

	l, path := openTemp(t)
	require.NoError(t, l.MarkDone("https://e.com/old"))
	require.NoError(t, l.Seed([]string{"https://e.com/b", "https://e.com/a"}))
	assert.Equal(t, []string{
		"[ ] https://e.com/b",
		"[ ] https://e.com/a",
		"[X] https://e.com/old",
	}, readLines(t, path))
}

func TestReset(t *testing.T) {
	t.Parallel()

	l, path := openTemp(t)
	all := []string{"https://e.com/1", "https://e.com/2"}
	require.NoError(t, l.Seed(all))
	require.NoError(t, l.MarkDone(all[0]))
	require.NoError(t, l.MarkFailed(all[1]))
	require.NoError(t, l.Reset())

	assert.False(t, l.IsDone(all[0]))
	assert.Equal(t, 0, l.FailureCount(all[1]))
	assert.Equal(t, []string{"[ ] https://e.com/1", "[ ] https://e.com/2"}, readLines(t, path))
}

func TestSummary(t *testing.T) {
	t.Parallel()

	l, _ := openTemp(t)
	all := []string{"https://e.com/1", "https://e.com/2", "https://e.com/3", "https://e.com/4"}
	require.NoError(t, l.MarkDone(all[0]))
	require.NoError(t, l.MarkFailed(all[1]))
	require.NoError(t, l.MarkDone("https://e.com/elsewhere"))

	s := l.Summary(all)
	assert.Equal(t, Summary{
		Total:           4,
		Completed:       1,
		Failed:          1,
		Pending:         2,
		Remaining:       3,
		ProgressPercent: 25,
	}, s)
	assert.Equal(t, Summary{}, l.Summary(nil))
}

func TestConcurrentMarks(t *testing.T) {
	t.Parallel()

	l, path := openTemp(t)
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, l.MarkDone(fmt.Sprintf("https://e.com/%d", i)))
		}(i)
	}
	wg.Wait()

	lines := readLines(t, path)
	assert.Len(t, lines, 40)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "[X] "), line)
	}
}
