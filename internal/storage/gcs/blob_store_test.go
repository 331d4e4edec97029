package gcs

import (
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "pages", Prefix: "/crawls/"})
	require.NoError(t, err)
	assert.Equal(t, "crawls/crawl_1/example.com/news/a.html", store.ObjectName("/crawl_1/example.com/news/a.html"))

	bare, err := New(&storage.Client{}, Config{Bucket: "pages"})
	require.NoError(t, err)
	assert.Equal(t, "crawl_1/a.html", bare.ObjectName("crawl_1/a.html"))
}
