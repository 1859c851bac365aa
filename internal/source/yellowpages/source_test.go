package yellowpages

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const listingPage = `<html><body>
<div class="search-results organic">
  <div class="result">
    <a class="business-name" href="/biz/ace-plumbing"><span>1. Ace Plumbing</span></a>
    <a class="track-visit-website" href="https://ace.example">Website</a>
  </div>
  <div class="result">
    <a class="business-name" href="/biz/best-pipes"><span>2. Best Pipes</span></a>
  </div>
</div>
<div class="pagination"><a class="next" href="/search?page=2">Next</a></div>
</body></html>`

const lastPage = `<html><body>
<div class="search-results organic">
  <div class="result">
    <h3>Cactus Drains</h3>
  </div>
</div>
</body></html>`

func newTestSource(t *testing.T, handler http.Handler) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, UserAgent: "bizscraper-test"}, zap.NewNop())
}

func TestFetchPageParsesListings(t *testing.T) {
	t.Parallel()

	var gotQuery string
	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, listingPage)
	}))

	res, err := src.FetchPage(context.Background(), "plumber", "Toledo, Ohio", 1)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	require.Equal(t, "Ace Plumbing", res.Records[0].Name)
	require.Equal(t, "https://ace.example", res.Records[0].Website)
	require.Equal(t, "Best Pipes", res.Records[1].Name)
	require.Empty(t, res.Records[1].Website)
	require.True(t, res.HasMore)

	require.Contains(t, gotQuery, "search_terms=plumber")
	require.Contains(t, gotQuery, "geo_location_terms=Toledo%2C+OH")
	require.NotContains(t, gotQuery, "page=")
}

func TestFetchPageAddsPageParamPastFirst(t *testing.T) {
	t.Parallel()

	var gotQuery string
	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, lastPage)
	}))

	res, err := src.FetchPage(context.Background(), "plumber", "Laredo, TX", 3)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Equal(t, "Cactus Drains", res.Records[0].Name)
	require.False(t, res.HasMore)
	require.Contains(t, gotQuery, "page=3")
}

func TestFetchPageServerError(t *testing.T) {
	t.Parallel()

	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))

	_, err := src.FetchPage(context.Background(), "plumber", "Austin, TX", 1)
	require.Error(t, err)
}

func TestFetchPageCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.FetchPage(ctx, "plumber", "Austin, TX", 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeLocation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Toledo, Ohio", "Toledo, OH"},
		{"St. Petersburg, FL", "St Petersburg, FL"},
		{"Laredo, tx", "Laredo, TX"},
		{"  Columbus , ohio ", "Columbus, OH"},
		{"Springfield", "Springfield"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizeLocation(tc.in), "input %q", tc.in)
	}
}

func TestCleanName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Ace Plumbing", cleanName("3. Ace Plumbing"))
	require.Equal(t, "Ace Plumbing", cleanName("Ace Plumbing\nOpen 24 hours"))
	require.Empty(t, cleanName("ok"))
	require.Empty(t, cleanName("  "))
}
