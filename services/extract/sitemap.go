package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"newrock-catalog/lib/cache"
	"newrock-catalog/lib/htmlutil"
	"newrock-catalog/lib/session"
	"newrock-catalog/lib/urlkey"
)

// ErrSitemapLayout indicates the sitemap page no longer carries a
// recognizable category block, likely due to a storefront redesign.
var ErrSitemapLayout = errors.New(
	"could not locate the category block on the sitemap page, " +
		"its layout may have changed",
)

const (
	sitemapPath = "/en/sitemap"
	sitemapTTL  = 7 * 24 * time.Hour
)

// Resolver discovers the storefront's category URLs from its sitemap page.
type Resolver struct {
	session *session.Store
	pages   cache.Namespace
}

func NewResolver(sess *session.Store, store *cache.Store) *Resolver {
	return &Resolver{
		session: sess,
		pages:   store.Namespace("pages"),
	}
}

// CategoryURLs returns the absolute, deduplicated category URLs listed on the
// sitemap. The fetched page is cached, so a layout failure surfaces again on
// retry instead of being masked by a stale parse.
func (r *Resolver) CategoryURLs(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "extract.CategoryURLs")
	defer span.End()

	pageURL := r.session.BaseUrl.JoinPath(sitemapPath).String()
	key, err := urlkey.ForURL(pageURL)
	if err != nil {
		return nil, recordErr(span, err)
	}

	body, err := r.pages.GetOrSet(
		ctx, key, sitemapTTL, 30*time.Second,
		func(ctx context.Context) ([]byte, error) {
			res, err := r.session.Http.R().SetContext(ctx).Get(sitemapPath)
			if err != nil {
				return nil, err
			}
			if res.IsError() {
				return nil, fmt.Errorf(
					"fetching sitemap: status %d", res.StatusCode(),
				)
			}
			return res.Body(), nil
		},
	)
	if err != nil {
		return nil, recordErr(span, err)
	}

	urls, err := parseCategoryURLs(body, pageURL)
	if err != nil {
		return nil, recordErr(span, err)
	}

	slog.Debug("resolved categories", "count", len(urls))
	return urls, nil
}

func parseCategoryURLs(page []byte, pageURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(page)))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	block := doc.Find(".col.block-links").FilterFunction(
		func(_ int, sel *goquery.Selection) bool {
			title := sel.Find("h2.block-title span")
			return strings.Contains(
				strings.TrimSpace(title.Text()), "Categories",
			)
		},
	)
	if block.Length() == 0 {
		return nil, ErrSitemapLayout
	}

	seen := map[string]bool{}
	var urls []string
	for _, anchor := range htmlutil.GetAnchors(block.Find("ul a"), base) {
		normalized, err := urlkey.Normalize(anchor.Href)
		if err != nil {
			continue
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		urls = append(urls, anchor.Href)
	}
	if len(urls) == 0 {
		return nil, ErrSitemapLayout
	}
	return urls, nil
}
