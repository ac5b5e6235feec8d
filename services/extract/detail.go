package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"newrock-catalog/lib/cache"
	"newrock-catalog/lib/session"
	"newrock-catalog/lib/urlkey"
)

// ErrDetailPayload indicates a product page without the embedded product
// payload the extraction relies on.
var ErrDetailPayload = errors.New(
	"product page carries no embedded product payload, " +
		"its layout may have changed",
)

const (
	detailTTL     = 72 * time.Hour
	detailTimeout = 30 * time.Second

	detailSelector = "#product-details"
	detailAttr     = "data-product"
)

// DetailFetcher retrieves individual product pages and extracts the embedded
// product payload.
type DetailFetcher struct {
	session *session.Store
	pages   cache.Namespace
}

func NewDetailFetcher(sess *session.Store, store *cache.Store) *DetailFetcher {
	return &DetailFetcher{
		session: sess,
		pages:   store.Namespace("product-pages"),
	}
}

// FetchDetail returns the product detail embedded in the page at productURL.
func (f *DetailFetcher) FetchDetail(ctx context.Context, productURL string) (*ProductDetail, error) {
	ctx, span := tracer.Start(ctx, "extract.FetchDetail")
	defer span.End()

	key, err := urlkey.ForURL(productURL)
	if err != nil {
		return nil, recordErr(span, err)
	}

	body, err := f.pages.GetOrSet(
		ctx, key, detailTTL, detailTimeout,
		func(ctx context.Context) ([]byte, error) {
			res, err := f.session.Http.R().SetContext(ctx).Get(productURL)
			if err != nil {
				return nil, err
			}
			if res.IsError() {
				return nil, fmt.Errorf(
					"fetching product page %s: status %d",
					productURL, res.StatusCode(),
				)
			}
			return res.Body(), nil
		},
	)
	if err != nil {
		return nil, recordErr(span, err)
	}

	detail, err := parseDetail(body)
	if err != nil {
		return nil, recordErr(span, fmt.Errorf("product page %s: %w", productURL, err))
	}
	return detail, nil
}

func parseDetail(page []byte) (*ProductDetail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(page)))
	if err != nil {
		return nil, err
	}

	raw, ok := doc.Find(detailSelector).Attr(detailAttr)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, ErrDetailPayload
	}

	var detail ProductDetail
	if err := json.Unmarshal([]byte(raw), &detail); err != nil {
		return nil, fmt.Errorf("decoding embedded product payload: %w", err)
	}
	if err := detail.Validate(); err != nil {
		return nil, err
	}
	return &detail, nil
}
