// Package assets mirrors remote images and other binary files into a local
// directory so exported catalogs can reference stable on-disk paths.
package assets

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/semaphore"

	"newrock-catalog/lib/cache"
	"newrock-catalog/lib/telemetry"
	"newrock-catalog/lib/urlkey"
)

var tracer = otel.Tracer("services/assets")

const defaultDownloads = 6

type Options struct {
	// Directory receives the downloaded files.
	Directory string
	// Downloads caps concurrent fetches against the asset host.
	Downloads int64
}

// Store downloads assets on demand and keeps them on disk keyed by their
// source URL. Repeat requests for the same URL never refetch.
type Store struct {
	http    *resty.Client
	cache   *cache.Binary
	permits *semaphore.Weighted
}

func New(opts Options) (*Store, error) {
	binary, err := cache.NewBinary(opts.Directory)
	if err != nil {
		return nil, err
	}
	if opts.Downloads <= 0 {
		opts.Downloads = defaultDownloads
	}

	client := resty.New().SetTimeout(time.Minute)
	telemetry.InstrumentResty(client, "assets/http")

	return &Store{
		http:    client,
		cache:   binary,
		permits: semaphore.NewWeighted(opts.Downloads),
	}, nil
}

// AssetPath returns the local path of the asset at url, downloading it first
// if it is not mirrored yet. The returned path is relative to the store's
// directory so exports stay relocatable.
func (s *Store) AssetPath(ctx context.Context, url string) (string, error) {
	ctx, span := tracer.Start(ctx, "assets.AssetPath")
	defer span.End()

	key, err := urlkey.ForURL(url)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	key += filepath.Ext(url)

	_, err = s.cache.GetOrSet(ctx, key, func(ctx context.Context) ([]byte, error) {
		if err := s.permits.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer s.permits.Release(1)

		res, err := s.http.R().SetContext(ctx).Get(url)
		if err != nil {
			return nil, err
		}
		if res.IsError() {
			return nil, fmt.Errorf("downloading asset %s: status %d", url, res.StatusCode())
		}
		return res.Body(), nil
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return key, nil
}
