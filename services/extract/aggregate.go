package extract

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"newrock-catalog/lib/urlkey"
)

const defaultConcurrency = 3

// Progress receives coarse-grained updates while a long extraction runs.
type Progress interface {
	CategoryStarted(url string)
	CategoryFinished(url string, products int)
}

type slogProgress struct{}

func (slogProgress) CategoryStarted(url string) {
	slog.Info("walking category", "url", url)
}

func (slogProgress) CategoryFinished(url string, products int) {
	slog.Info("category done", "url", url, "products", products)
}

// Listing is one product as seen across every category listing that carries
// it. The summary is whichever listing reported it last; the category labels
// accumulate.
type Listing struct {
	Summary    ProductSummary
	Categories []string
}

// Aggregator walks every page of every category and merges the listings into
// one product set keyed by product id.
type Aggregator struct {
	paginator   *Paginator
	concurrency int
	progress    Progress
}

func NewAggregator(paginator *Paginator, concurrency int, progress Progress) *Aggregator {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if progress == nil {
		progress = slogProgress{}
	}
	return &Aggregator{
		paginator:   paginator,
		concurrency: concurrency,
		progress:    progress,
	}
}

// CollectListings fetches every page of each category concurrently and
// returns the merged products. A product appearing in several categories
// yields a single entry listing all of them.
func (a *Aggregator) CollectListings(ctx context.Context, categoryURLs []string) (map[string]*Listing, error) {
	ctx, span := tracer.Start(ctx, "extract.CollectListings")
	defer span.End()

	var mu sync.Mutex
	products := map[string]*Listing{}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(a.concurrency)

	for _, categoryURL := range categoryURLs {
		categoryURL := categoryURL
		group.Go(func() error {
			a.progress.CategoryStarted(categoryURL)
			count, err := a.walkCategory(ctx, categoryURL, func(page *ListingPayload) {
				mu.Lock()
				defer mu.Unlock()
				for _, product := range page.Products {
					listing, ok := products[product.IDProduct]
					if !ok {
						listing = &Listing{}
						products[product.IDProduct] = listing
					}
					listing.Summary = product
					listing.Categories = append(listing.Categories, page.Label)
				}
			})
			if err != nil {
				return err
			}
			a.progress.CategoryFinished(categoryURL, count)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, recordErr(span, err)
	}
	return products, nil
}

// walkCategory follows next links from the category's first page, visiting
// every page once even if the pagination strip loops back on itself.
func (a *Aggregator) walkCategory(ctx context.Context, categoryURL string, visit func(*ListingPayload)) (int, error) {
	visited := map[string]bool{}
	expected := 0
	seen := 0

	pageURL := categoryURL
	for pageURL != "" {
		normalized, err := urlkey.Normalize(pageURL)
		if err != nil {
			return seen, err
		}
		if visited[normalized] {
			break
		}
		visited[normalized] = true

		page, err := a.paginator.FetchPage(ctx, pageURL)
		if err != nil {
			return seen, err
		}
		if page == nil {
			slog.Warn("category no longer exists, skipping", "url", pageURL)
			break
		}

		visit(page)
		seen += len(page.Products)
		expected = page.Pagination.TotalItems
		pageURL = page.NextPageURL()
	}

	// The advertised total drifts when products are added or retired while
	// the cache still holds older pages. Worth logging, not failing.
	if expected != 0 && seen != expected {
		slog.Warn("category item count mismatch",
			"url", categoryURL, "expected", expected, "seen", seen)
	}
	return seen, nil
}
