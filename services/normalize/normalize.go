// Package normalize flattens extracted product records into the compact
// document shape consumers of the catalog read.
package normalize

import (
	"context"
	"log/slog"
	"sort"

	"newrock-catalog/services/assets"
	"newrock-catalog/services/extract"
)

// Document is one product in its export form.
type Document struct {
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Cover       string    `json:"cover"`
	Images      []string  `json:"images"`
	Description string    `json:"description"`
	Features    []Feature `json:"features"`
	MadeToOrder bool      `json:"madeToOrder"`
	Categories  []string  `json:"categories"`
}

type Feature struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func imageURL(img extract.Image) string {
	if img.Large.URL != "" {
		return img.Large.URL
	}
	if size, ok := img.BySize["large_default"]; ok {
		return size.URL
	}
	return ""
}

// FromRecord flattens one extracted record.
func FromRecord(record extract.Record) Document {
	detail := record.Detail

	var images []string
	for _, img := range detail.Images {
		if url := imageURL(img); url != "" {
			images = append(images, url)
		}
	}

	cover := imageURL(detail.Cover)
	if cover == "" && len(images) > 0 {
		cover = images[0]
	}

	features := make([]Feature, 0, len(detail.Features))
	for _, f := range detail.Features {
		features = append(features, Feature{Name: f.Name, Value: f.Value})
	}

	categories := append([]string(nil), record.Categories...)
	sort.Strings(categories)

	description := detail.Description
	if description == "" {
		description = detail.DescriptionShort
	}

	return Document{
		Slug:        detail.LinkRewrite,
		Name:        detail.Name,
		URL:         detail.Link,
		Cover:       cover,
		Images:      images,
		Description: description,
		Features:    features,
		MadeToOrder: detail.MadeToOrder(),
		Categories:  categories,
	}
}

// FromRecords flattens a full extraction, ordered by slug then name for
// stable output.
func FromRecords(records map[string]extract.Record) []Document {
	documents := make([]Document, 0, len(records))
	for _, record := range records {
		documents = append(documents, FromRecord(record))
	}
	sort.Slice(documents, func(i, j int) bool {
		if documents[i].Slug != documents[j].Slug {
			return documents[i].Slug < documents[j].Slug
		}
		return documents[i].Name < documents[j].Name
	})
	return documents
}

// UseLocalAssets rewrites every image reference in the document to a local
// mirror path. Images that fail to download keep their remote URL.
func UseLocalAssets(ctx context.Context, store *assets.Store, doc Document) Document {
	localize := func(url string) string {
		if url == "" {
			return ""
		}
		path, err := store.AssetPath(ctx, url)
		if err != nil {
			slog.Warn("keeping remote asset url", "url", url, "err", err)
			return url
		}
		return path
	}

	doc.Cover = localize(doc.Cover)
	for i, img := range doc.Images {
		doc.Images[i] = localize(img)
	}
	return doc
}
