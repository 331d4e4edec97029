package urlgen

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
)

func intp(v int) *int { return &v }

func urlsOf(targets []crawler.Target) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.URL
	}
	return out
}

func TestIntRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name              string
		start, end, step  int
		want              []int
	}{
		{"step three hits end", 1, 10, 3, []int{1, 4, 7, 10}},
		{"step stops before end", 1, 9, 3, []int{1, 4, 7}},
		{"single value", 4, 4, 1, []int{4}},
		{"descending", 5, 1, -2, []int{5, 3, 1}},
		{"unreachable ascending", 5, 1, 1, []int{5}},
		{"unreachable descending", 1, 5, -1, []int{1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := intRange(tc.start, tc.end, tc.step, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIntRangeRejectsZeroStep(t *testing.T) {
	t.Parallel()

	_, err := intRange(1, 10, 0, 0)
	require.Error(t, err)
}

func TestExpandRejectsOverflowingRunnerBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		start, end, step int
	}{
		{"zero to max", 0, math.MaxInt, 1},
		{"min to max", math.MinInt, math.MaxInt, 1},
		{"max down to min", math.MaxInt, math.MinInt, -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var targets []crawler.Target
			var err error
			require.NotPanics(t, func() {
				targets, err = Expand(Descriptor{
					Name: "wide", Kind: KindRunner, URL: "https://example.com/p",
					Param: "p", Start: intp(tc.start), End: intp(tc.end), Step: intp(tc.step),
				})
			})
			require.Error(t, err)
			assert.Nil(t, targets)
			var cfgErr *crawler.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, "wide", cfgErr.Descriptor)
		})
	}
}

func TestExpandStatic(t *testing.T) {
	t.Parallel()

	targets, err := Expand(Descriptor{Name: "home", Kind: KindStatic, URL: "https://example.com/"})
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "https://example.com/", targets[0].URL)
	assert.Equal(t, "home", targets[0].Group)
	assert.Equal(t, crawler.ScraperDefault, targets[0].Scraper)
}

func TestExpandDated(t *testing.T) {
	t.Parallel()

	t.Run("appends query parameter", func(t *testing.T) {
		t.Parallel()
		targets, err := Expand(Descriptor{
			Name:       "daily",
			Kind:       KindDated,
			URL:        "https://example.com/archive",
			DateParam:  "day",
			DateFormat: "YYYY-MM-DD",
			StartDate:  "2024-02-28",
			EndDate:    "2024-03-01",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"https://example.com/archive?day=2024-02-28",
			"https://example.com/archive?day=2024-02-29",
			"https://example.com/archive?day=2024-03-01",
		}, urlsOf(targets))
	})

	t.Run("substitutes placeholder", func(t *testing.T) {
		t.Parallel()
		targets, err := Expand(Descriptor{
			Name:        "monthly",
			Kind:        KindDated,
			URL:         "https://example.com/$month/index.html",
			DateParam:   "month",
			DateFormat:  "YYYYMM",
			StartDate:   "2024-01-15",
			EndDate:     "2024-03-15",
			Granularity: GranularityMonth,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"https://example.com/202401/index.html",
			"https://example.com/202402/index.html",
			"https://example.com/202403/index.html",
		}, urlsOf(targets))
	})

	t.Run("end before start is empty", func(t *testing.T) {
		t.Parallel()
		targets, err := Expand(Descriptor{
			Name:      "backwards",
			Kind:      KindDated,
			URL:       "https://example.com/archive",
			DateParam: "day",
			StartDate: "2024-03-01",
			EndDate:   "2024-02-01",
		})
		require.NoError(t, err)
		assert.Empty(t, targets)
	})
}

func TestExpandRunner(t *testing.T) {
	t.Parallel()

	t.Run("query style", func(t *testing.T) {
		t.Parallel()
		targets, err := Expand(Descriptor{
			Name: "pages", Kind: KindRunner, URL: "https://example.com/list?sort=new",
			Param: "page", Start: intp(1), End: intp(3),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"https://example.com/list?sort=new&page=1",
			"https://example.com/list?sort=new&page=2",
			"https://example.com/list?sort=new&page=3",
		}, urlsOf(targets))
	})

	t.Run("path style", func(t *testing.T) {
		t.Parallel()
		targets, err := Expand(Descriptor{
			Name: "paths", Kind: KindRunner, URL: "https://example.com/page",
			Separator: "/", Start: intp(2), End: intp(6), Step: intp(2),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"https://example.com/page/2",
			"https://example.com/page/4",
			"https://example.com/page/6",
		}, urlsOf(targets))
	})

	t.Run("unreachable end yields start", func(t *testing.T) {
		t.Parallel()
		targets, err := Expand(Descriptor{
			Name: "back", Kind: KindRunner, URL: "https://example.com/p",
			Param: "p", Start: intp(5), End: intp(1), Step: intp(1),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"https://example.com/p?p=5"}, urlsOf(targets))
	})

	t.Run("missing end", func(t *testing.T) {
		t.Parallel()
		_, err := Expand(Descriptor{Name: "open", Kind: KindRunner, URL: "https://example.com", Start: intp(1)})
		var cfgErr *crawler.ConfigError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "open", cfgErr.Descriptor)
		assert.Equal(t, "end", cfgErr.Field)
	})
}

func TestExpandParameterizedOrder(t *testing.T) {
	t.Parallel()

	targets, err := Expand(Descriptor{
		Name: "grid",
		Kind: KindParameterized,
		URL:  "https://example.com/search",
		Parameters: Parameters{
			{Name: "a", Values: []string{"1", "2"}},
			{Name: "b", Values: []string{"x", "y"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/search?a=1&b=x",
		"https://example.com/search?a=1&b=y",
		"https://example.com/search?a=2&b=x",
		"https://example.com/search?a=2&b=y",
	}, urlsOf(targets))
}

func TestExpandParameterizedPlaceholders(t *testing.T) {
	t.Parallel()

	targets, err := Expand(Descriptor{
		Name: "paths",
		Kind: KindParameterized,
		URL:  "https://example.com/$p/$page",
		Parameters: Parameters{
			{Name: "p", Values: []string{"a"}},
			{Name: "page", Values: []string{"7"}},
			{Name: "lang", Values: []string{"en"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a/7?lang=en"}, urlsOf(targets))
}

func TestExpandComplex(t *testing.T) {
	t.Parallel()

	targets, err := Expand(Descriptor{
		Name: "combo",
		Kind: KindComplex,
		URL:  "https://example.com/feed",
		Date: &DateBlock{Param: "d", Format: "YYYYMMDD", Start: "2024-01-01", End: "2024-01-02"},
		Runner: &RunnerBlock{
			Param: "page", Start: intp(1), End: intp(2),
		},
		Fixed: OrderedParams{{Key: "lang", Value: "en"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/feed?d=20240101&page=1&lang=en",
		"https://example.com/feed?d=20240101&page=2&lang=en",
		"https://example.com/feed?d=20240102&page=1&lang=en",
		"https://example.com/feed?d=20240102&page=2&lang=en",
	}, urlsOf(targets))
}

func TestExpandTemplated(t *testing.T) {
	t.Parallel()

	targets, err := Expand(Descriptor{
		Name: "tpl",
		Kind: KindTemplated,
		URL:  "https://example.com/$cat/$p?page=$page&on=$date",
		TemplateVars: TemplateVars{
			{Name: "cat", Mode: ModeOptions, Values: []string{"news", "sport"}},
			{Name: "page", Mode: ModeIncrement, Start: "1", End: "2"},
			{Name: "p", Values: []string{"x"}},
			{Name: "date", Mode: ModeDate, Format: "YYYY/MM/DD", Start: "2024-05-01", End: "2024-05-01"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/news/x?page=1&on=2024/05/01",
		"https://example.com/news/x?page=2&on=2024/05/01",
		"https://example.com/sport/x?page=1&on=2024/05/01",
		"https://example.com/sport/x?page=2&on=2024/05/01",
	}, urlsOf(targets))
}

func TestExpandIncremental(t *testing.T) {
	t.Parallel()

	targets, err := Expand(Descriptor{
		Name: "ids", Kind: KindIncremental, Base: "https://example.com/item/",
		Prefix: "id-", Start: intp(8), End: intp(10), Width: 3, Suffix: ".html",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/item/id-008.html",
		"https://example.com/item/id-009.html",
		"https://example.com/item/id-010.html",
	}, urlsOf(targets))
}

func TestExpandAuthenticatedCarriesHeaders(t *testing.T) {
	t.Parallel()

	targets, err := Expand(Descriptor{
		Name:    "private",
		Kind:    KindAuthenticated,
		URL:     "https://api.example.com/v1/items",
		Scraper: "text",
		Headers: map[string]string{"Authorization": "Bearer ${API_TOKEN}"},
		Runner:  &RunnerBlock{Param: "page", Start: intp(1), End: intp(2)},
	})
	require.NoError(t, err)
	require.Len(t, targets, 2)
	for _, target := range targets {
		assert.Equal(t, "Bearer ${API_TOKEN}", target.Headers["Authorization"])
		assert.Equal(t, crawler.ScraperText, target.Scraper)
	}
}

func TestExpandErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		d     Descriptor
		field string
	}{
		{"unknown kind", Descriptor{Name: "x", Kind: "sitemap", URL: "https://e.com"}, "type"},
		{"missing kind", Descriptor{Name: "x", URL: "https://e.com"}, "type"},
		{"missing url", Descriptor{Name: "x", Kind: KindStatic}, "url"},
		{"zero step", Descriptor{Name: "x", Kind: KindRunner, URL: "https://e.com", Start: intp(1), End: intp(3), Step: intp(0)}, "step"},
		{"bad scraper", Descriptor{Name: "x", Kind: KindStatic, URL: "https://e.com", Scraper: "telnet"}, "scraper"},
		{"no parameters", Descriptor{Name: "x", Kind: KindParameterized, URL: "https://e.com"}, "parameters"},
		{"complex without runner", Descriptor{Name: "x", Kind: KindComplex, URL: "https://e.com", Date: &DateBlock{Param: "d"}}, "date"},
		{"missing date param", Descriptor{Name: "x", Kind: KindDated, URL: "https://e.com", StartDate: "2024-01-01", EndDate: "2024-01-02"}, "date_param"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			targets, err := Expand(tc.d)
			require.Error(t, err)
			assert.Nil(t, targets)
			var cfgErr *crawler.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestExpandRejectsOversizeProduct(t *testing.T) {
	t.Parallel()

	_, err := Expander{MaxExpansion: 10}.Expand(Descriptor{
		Name: "big",
		Kind: KindParameterized,
		URL:  "https://example.com",
		Parameters: Parameters{
			{Name: "a", Values: []string{"1", "2", "3", "4"}},
			{Name: "b", Values: []string{"1", "2", "3"}},
		},
	})
	var cfgErr *crawler.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Reason, "limit")
}

func TestExpandIsDeterministic(t *testing.T) {
	t.Parallel()

	d := Descriptor{
		Name: "tpl", Kind: KindTemplated, URL: "https://example.com/$a/$b",
		TemplateVars: TemplateVars{
			{Name: "a", Mode: ModeIncrement, Start: "1", End: "20"},
			{Name: "b", Values: []string{"q", "r", "s"}},
		},
	}
	first, err := Expand(d)
	require.NoError(t, err)
	second, err := Expand(d)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 60)
}
