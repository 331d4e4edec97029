package novelty

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
)

const listing = `<html><body>
<div class="item"><a href="/post/1.html?sk=abc">One</a></div>
<div class="item"><a href="/post/2.html#top">Two</a></div>
<div class="item"><a href="https://example.com/post/1.html?sk=zzz">One again</a></div>
<div class="item"><span>no link</span></div>
<a href="#anchor">skip</a>
<a href="javascript:void(0)">skip</a>
</body></html>`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	t.Parallel()

	idx, err := Open(Config{KnownItemsFile: filepath.Join(t.TempDir(), "none.csv")}, nil)
	require.NoError(t, err)
	assert.Zero(t, idx.Len())
}

func TestOpenReadsNamedColumn(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "known.csv", "title,item_url\nOne,https://example.com/post/1.html\nBlank,\nShort\n")
	idx, err := Open(Config{KnownItemsFile: p}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
	assert.True(t, idx.Known("https://example.com/post/1.html"))
}

func TestOpenMissingColumnFails(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "known.csv", "title\nOne\n")
	_, err := Open(Config{KnownItemsFile: p}, nil)
	require.ErrorContains(t, err, `column "item_url" not found`)
}

func TestExtractNormalizesAndDedups(t *testing.T) {
	t.Parallel()

	idx, err := Open(Config{}, nil)
	require.NoError(t, err)

	items, err := idx.Extract("https://example.com/list?page=2", []byte(listing), "div.item")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/post/1.html",
		"https://example.com/post/2.html",
	}, items)

	withQuery, err := Open(Config{KeepQuery: true}, nil)
	require.NoError(t, err)
	items, err = withQuery.Extract("https://example.com/list", []byte(listing), "div.item a")
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestCheckCountsAndRemembersNovelItems(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "known.csv", "item_url\nhttps://example.com/post/1.html\n")
	idx, err := Open(Config{KnownItemsFile: p}, nil)
	require.NoError(t, err)

	input := crawler.NoveltyInput{URL: "https://example.com/list", Body: []byte(listing), ItemSelector: "div.item"}
	res, err := idx.Check(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, crawler.NoveltyResult{Novel: 1, Total: 2}, res)
	assert.False(t, res.Exhausted())

	res, err = idx.Check(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, crawler.NoveltyResult{Novel: 0, Total: 2}, res)
	assert.True(t, res.Exhausted())
}

func TestCheckDefaultSelectorAndEmptyPage(t *testing.T) {
	t.Parallel()

	idx, err := Open(Config{}, nil)
	require.NoError(t, err)

	res, err := idx.Check(context.Background(), crawler.NoveltyInput{
		URL:  "https://example.com/",
		Body: []byte(`<p>nothing to see</p>`),
	})
	require.NoError(t, err)
	assert.True(t, res.Exhausted())
	assert.Zero(t, res.Total)
}

func TestSaveAppendsInFileLayout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeFile(t, dir, "known.csv", "title,item_url\nOne,https://example.com/post/1.html\n")
	idx, err := Open(Config{KnownItemsFile: p}, nil)
	require.NoError(t, err)
	_, err = idx.Check(context.Background(), crawler.NoveltyInput{
		URL: "https://example.com/list", Body: []byte(listing), ItemSelector: "div.item",
	})
	require.NoError(t, err)
	require.NoError(t, idx.Save())
	require.NoError(t, idx.Save())

	reopened, err := Open(Config{KnownItemsFile: p}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())
	assert.True(t, reopened.Known("https://example.com/post/2.html"))

	fresh := filepath.Join(dir, "sub", "new.csv")
	idx, err = Open(Config{KnownItemsFile: fresh}, nil)
	require.NoError(t, err)
	_, err = idx.Check(context.Background(), crawler.NoveltyInput{URL: "https://example.com/", Body: []byte(listing)})
	require.NoError(t, err)
	require.NoError(t, idx.Save())
	data, err := os.ReadFile(fresh)
	require.NoError(t, err)
	assert.Equal(t, "item_url\nhttps://example.com/post/1.html\nhttps://example.com/post/2.html\n", string(data))
}
