package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"newrock-catalog/services/catalog/db"
	"newrock-catalog/services/extract"
)

func record(id, name string, categories ...string) extract.Record {
	return extract.Record{
		Summary: extract.ProductSummary{
			IDProduct: id,
			Name:      name,
			URL:       "https://shop.example.com/en/" + id,
		},
		Detail: extract.ProductDetail{
			IDProduct:   id,
			Name:        name,
			Link:        "https://shop.example.com/en/" + id,
			LinkRewrite: "product-" + id,
		},
		Categories: categories,
	}
}

func TestPushPullRoundTrip(t *testing.T) {
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	defer database.Close()

	store := NewStore(database)
	now := time.Now().Truncate(time.Second)

	err = store.Push(context.Background(), PushRequest{
		Time: now,
		Products: map[string]extract.Record{
			"101": record("101", "Combat Boot", "Boots"),
			"201": record("201", "Buckle Belt", "Belts", "Accessories"),
		},
	})
	require.NoError(t, err)

	records, err := store.Pull(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "Combat Boot", records["101"].Summary.Name)
	require.Equal(t, []string{"Belts", "Accessories"}, records["201"].Categories)

	scrapedAt, err := store.ScrapedAt(context.Background())
	require.NoError(t, err)
	require.Equal(t, now.Unix(), scrapedAt.Unix())
}

func TestPushReplacesPreviousCatalog(t *testing.T) {
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	defer database.Close()

	store := NewStore(database)

	err = store.Push(context.Background(), PushRequest{
		Time:     time.Now(),
		Products: map[string]extract.Record{"101": record("101", "Combat Boot")},
	})
	require.NoError(t, err)

	err = store.Push(context.Background(), PushRequest{
		Time:     time.Now(),
		Products: map[string]extract.Record{"102": record("102", "Platform Boot")},
	})
	require.NoError(t, err)

	records, err := store.Pull(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Contains(t, records, "102")
}

func TestScrapedAtEmptyStore(t *testing.T) {
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	defer database.Close()

	scrapedAt, err := NewStore(database).ScrapedAt(context.Background())
	require.NoError(t, err)
	require.True(t, scrapedAt.IsZero())
}
