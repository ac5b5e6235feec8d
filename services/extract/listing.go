package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"newrock-catalog/lib/cache"
	"newrock-catalog/lib/session"
	"newrock-catalog/lib/urlkey"
)

const (
	listingTTL     = 24 * time.Hour
	listingTimeout = 15 * time.Second
)

// The storefront renders prices in whatever currency the session last
// selected, so every listing request pins the currency explicitly to keep
// cached pages comparable across runs.
var listingParams = map[string]string{
	"id_currency":    "2",
	"SubmitCurrency": "1",
}

// withListingParams folds the forced currency params into the URL itself, so
// the cache key and the request see the same spelling and a category URL
// written with or without them lands on one entry.
func withListingParams(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	query := u.Query()
	for name, value := range listingParams {
		query.Set(name, value)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// absentListing is the cached representation of a listing URL that the
// storefront redirected away from (a retired or renamed category).
var absentListing = []byte("null")

// Paginator fetches single listing pages from the storefront's JSON endpoint.
type Paginator struct {
	session *session.Store
	api     cache.Namespace
}

func NewPaginator(sess *session.Store, store *cache.Store) *Paginator {
	return &Paginator{
		session: sess,
		api:     store.Namespace("api"),
	}
}

// FetchPage returns the listing payload at pageURL, or (nil, nil) when the
// storefront redirects the request elsewhere, which it does for category URLs
// that no longer exist. Both outcomes are cached; server errors are not.
func (p *Paginator) FetchPage(ctx context.Context, pageURL string) (*ListingPayload, error) {
	ctx, span := tracer.Start(ctx, "extract.FetchPage")
	defer span.End()

	requestURL, err := withListingParams(pageURL)
	if err != nil {
		return nil, recordErr(span, err)
	}
	key, err := urlkey.ForURL(requestURL)
	if err != nil {
		return nil, recordErr(span, err)
	}

	body, err := p.api.GetOrSet(
		ctx, key, listingTTL, listingTimeout,
		func(ctx context.Context) ([]byte, error) {
			res, err := p.session.Http.R().
				SetContext(ctx).
				SetHeader("Accept", "application/json").
				SetHeader("X-Requested-With", "XMLHttpRequest").
				Get(requestURL)
			if err != nil {
				return nil, err
			}
			if redirectedAway(pageURL, res.RawResponse.Request.URL) {
				return absentListing, nil
			}
			if res.IsError() {
				return nil, fmt.Errorf(
					"fetching listing %s: status %d",
					pageURL, res.StatusCode(),
				)
			}
			return res.Body(), nil
		},
	)
	if err != nil {
		return nil, recordErr(span, err)
	}
	if bytes.Equal(body, absentListing) {
		return nil, nil
	}

	var payload ListingPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, recordErr(span, fmt.Errorf("decoding listing %s: %w", pageURL, err))
	}
	if err := payload.Validate(); err != nil {
		return nil, recordErr(span, fmt.Errorf("listing %s: %w", pageURL, err))
	}
	return &payload, nil
}

func redirectedAway(requested string, final *url.URL) bool {
	if final == nil {
		return false
	}
	req, err := url.Parse(requested)
	if err != nil {
		return false
	}
	return req.Path != final.Path
}

// NextPageURL returns the URL of the page after this one, or "" on the last
// page. A next entry pointing back at the current page is treated as
// terminal, some storefront themes render it that way on the final page.
func (l *ListingPayload) NextPageURL() string {
	current, _ := urlkey.Normalize(l.CurrentURL)
	for _, page := range l.Pagination.Pages {
		if page.Type != PageKindNext || !page.Clickable {
			continue
		}
		next, err := urlkey.Normalize(page.URL)
		if err != nil || next == current {
			continue
		}
		return page.URL
	}
	return ""
}

// PageURLs returns the URLs of the numbered pages visible in this listing's
// pagination strip.
func (l *ListingPayload) PageURLs() []string {
	var urls []string
	for _, page := range l.Pagination.Pages {
		if page.Type == PageKindPage {
			urls = append(urls, page.URL)
		}
	}
	return urls
}
