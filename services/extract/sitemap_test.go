package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

const sitemapFixture = `<html><body>
<div class="col block-links">
	<h2 class="block-title"><span>Your account</span></h2>
	<ul>
		<li><a href="/en/my-account">My account</a></li>
	</ul>
</div>
<div class="col block-links">
	<h2 class="block-title"><span>Categories</span></h2>
	<ul>
		<li><a href="/en/3-boots">Boots</a></li>
		<li><a href="/en/7-belts">Belts</a></li>
		<li><a href="/en/3-boots/">Boots again</a></li>
	</ul>
</div>
</body></html>`

func TestCategoryURLs(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/en/sitemap" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		fmt.Fprint(w, sitemapFixture)
	}))
	defer srv.Close()

	resolver := NewResolver(testSession(t, srv.URL), testCache(t))

	urls, err := resolver.CategoryURLs(context.Background())
	require.NoError(t, err)
	// Deduplicated, resolved to absolute URLs, and scoped to the category
	// block rather than the account block.
	require.Equal(t, []string{srv.URL + "/en/3-boots", srv.URL + "/en/7-belts"}, urls)

	_, err = resolver.CategoryURLs(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), hits.Load())
}

func TestCategoryURLsLayoutChanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><nav>nothing here</nav></body></html>`)
	}))
	defer srv.Close()

	resolver := NewResolver(testSession(t, srv.URL), testCache(t))

	_, err := resolver.CategoryURLs(context.Background())
	require.ErrorIs(t, err, ErrSitemapLayout)
}
