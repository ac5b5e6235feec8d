// Package extract walks an authenticated storefront and assembles its full
// product catalog: categories from the sitemap, product summaries from the
// paginated category listings, and per-product details from the product
// pages. Every fetched resource is cached so interrupted runs resume cheaply.
package extract

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"newrock-catalog/lib/cache"
	"newrock-catalog/lib/session"
)

// Record is one fully extracted product.
type Record struct {
	Summary    ProductSummary
	Detail     ProductDetail
	Categories []string
}

type Options struct {
	// Concurrency caps simultaneous requests against the storefront.
	Concurrency int
	Progress    Progress
}

// Extractor ties the session, resolver, aggregator and detail fetcher into
// one end-to-end catalog extraction.
type Extractor struct {
	session    *session.Store
	resolver   *Resolver
	aggregator *Aggregator
	details    *DetailFetcher
	opts       Options
}

func New(sess *session.Store, store *cache.Store, opts Options) *Extractor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Extractor{
		session:    sess,
		resolver:   NewResolver(sess, store),
		aggregator: NewAggregator(NewPaginator(sess, store), opts.Concurrency, opts.Progress),
		details:    NewDetailFetcher(sess, store),
		opts:       opts,
	}
}

// Run performs a full extraction: authenticate, resolve categories, collect
// every listing, then fetch the detail page of every discovered product.
func (e *Extractor) Run(ctx context.Context) (map[string]Record, error) {
	ctx, span := tracer.Start(ctx, "extract.Run")
	defer span.End()

	if err := e.session.EnsureAuthenticated(ctx); err != nil {
		return nil, recordErr(span, err)
	}

	categoryURLs, err := e.resolver.CategoryURLs(ctx)
	if err != nil {
		return nil, recordErr(span, err)
	}
	slog.Info("starting extraction", "categories", len(categoryURLs))

	listings, err := e.aggregator.CollectListings(ctx, categoryURLs)
	if err != nil {
		return nil, recordErr(span, err)
	}
	slog.Info("listings collected", "products", len(listings))

	var mu sync.Mutex
	records := make(map[string]Record, len(listings))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(e.opts.Concurrency)

	for id, listing := range listings {
		id, listing := id, listing
		group.Go(func() error {
			detail, err := e.details.FetchDetail(ctx, listing.Summary.URL)
			if err != nil {
				return err
			}
			mu.Lock()
			records[id] = Record{
				Summary:    listing.Summary,
				Detail:     *detail,
				Categories: listing.Categories,
			}
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, recordErr(span, err)
	}

	slog.Info("extraction complete", "products", len(records))
	return records, nil
}
