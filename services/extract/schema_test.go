package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const listingFixture = `{
	"label": "Boots",
	"current_url": "https://shop.example.com/en/3-boots",
	"products": [
		{
			"id_product": "101",
			"name": "Combat Boot",
			"url": "https://shop.example.com/en/boots/101-combat-boot",
			"price": "$129.99",
			"price_amount": 129.99,
			"has_discount": false,
			"cover": {
				"bySize": {
					"home_default": {"url": "https://shop.example.com/img/101-home.jpg", "width": 250, "height": 250},
					"large_default": {"url": "https://shop.example.com/img/101-large.jpg", "width": 800, "height": 800}
				},
				"large": {"url": "https://shop.example.com/img/101-large.jpg", "width": 800, "height": 800}
			}
		}
	],
	"sort_orders": [
		{"entity": "product", "field": "name", "direction": "asc", "label": "Name, A to Z"}
	],
	"pagination": {
		"total_items": 40,
		"items_shown_from": 1,
		"items_shown_to": 24,
		"current_page": 1,
		"pages_count": 2,
		"pages": [
			{"type": "page", "page": 1, "clickable": false, "current": true, "url": "https://shop.example.com/en/3-boots"},
			{"type": "next", "page": 2, "clickable": true, "current": false, "url": "https://shop.example.com/en/3-boots?page=2"}
		]
	}
}`

func TestListingPayloadDecodes(t *testing.T) {
	var payload ListingPayload
	require.NoError(t, json.Unmarshal([]byte(listingFixture), &payload))
	require.NoError(t, payload.Validate())

	require.Len(t, payload.Products, 1)
	require.Equal(t, "101", payload.Products[0].IDProduct)
	require.Equal(t, 40, payload.Pagination.TotalItems)
	require.Len(t, payload.Pagination.Pages, 2)
	require.Equal(t, PageKindNext, payload.Pagination.Pages[1].Type)
}

func TestPageListKeyedObjectForm(t *testing.T) {
	// The storefront sometimes serializes pages as an object keyed by index.
	keyed := `{
		"2": {"type": "next", "page": 3, "clickable": true, "url": "https://shop.example.com/en/3-boots?page=3"},
		"0": {"type": "page", "page": 1, "clickable": true, "url": "https://shop.example.com/en/3-boots"},
		"1": {"type": "page", "page": 2, "clickable": false, "current": true, "url": "https://shop.example.com/en/3-boots?page=2"},
		"10": {"type": "spacer", "clickable": false, "url": "https://shop.example.com/en/3-boots"}
	}`
	var pages PageList
	require.NoError(t, json.Unmarshal([]byte(keyed), &pages))

	require.Len(t, pages, 4)
	require.Equal(t, PageKindPage, pages[0].Type)
	require.Equal(t, 1, *pages[0].Page)
	require.Equal(t, PageKindNext, pages[2].Type)
	// Numeric key ordering, not lexicographic: "10" sorts after "2".
	require.Equal(t, PageKindSpacer, pages[3].Type)
}

func TestPageListArrayAndMapEquivalent(t *testing.T) {
	array := `[
		{"type": "page", "page": 1, "clickable": true, "url": "https://x/a"},
		{"type": "next", "page": 2, "clickable": true, "url": "https://x/b"}
	]`
	object := `{
		"0": {"type": "page", "page": 1, "clickable": true, "url": "https://x/a"},
		"1": {"type": "next", "page": 2, "clickable": true, "url": "https://x/b"}
	}`

	var fromArray, fromObject PageList
	require.NoError(t, json.Unmarshal([]byte(array), &fromArray))
	require.NoError(t, json.Unmarshal([]byte(object), &fromObject))
	require.Equal(t, fromArray, fromObject)
}

func TestValidateRejectsUnknownPageType(t *testing.T) {
	var payload ListingPayload
	require.NoError(t, json.Unmarshal([]byte(listingFixture), &payload))
	payload.Pagination.Pages[0].Type = "jump"
	require.Error(t, payload.Validate())
}

func TestValidateRejectsUnknownImageSize(t *testing.T) {
	var payload ListingPayload
	require.NoError(t, json.Unmarshal([]byte(listingFixture), &payload))
	payload.Products[0].Cover.BySize["poster_default"] = ImageSize{URL: "https://x/p.jpg"}
	require.Error(t, payload.Validate())
}

func TestValidateRejectsProductWithoutID(t *testing.T) {
	var payload ListingPayload
	require.NoError(t, json.Unmarshal([]byte(listingFixture), &payload))
	payload.Products[0].IDProduct = ""
	require.Error(t, payload.Validate())
}

func TestValidateRejectsUnknownSortDirection(t *testing.T) {
	var payload ListingPayload
	require.NoError(t, json.Unmarshal([]byte(listingFixture), &payload))
	payload.SortOrders[0].Direction = "sideways"
	require.Error(t, payload.Validate())
}

func TestProductDetailMadeToOrder(t *testing.T) {
	detail := ProductDetail{
		IDProduct: "55",
		Name:      "Platform Boot",
		Link:      "https://shop.example.com/en/boots/55-platform-boot",
	}
	require.NoError(t, detail.Validate())
	require.False(t, detail.MadeToOrder())

	detail.AvailableLater = "Made to order, ships in 6 weeks"
	require.True(t, detail.MadeToOrder())
}

func TestProductDetailNullFeatureTolerated(t *testing.T) {
	raw := `{
		"id_product": "7",
		"name": "Buckle Belt",
		"link": "https://shop.example.com/en/7-buckle-belt",
		"features": [{"name": "Material", "value": "Leather"}],
		"images": []
	}`
	var detail ProductDetail
	require.NoError(t, json.Unmarshal([]byte(raw), &detail))
	require.NoError(t, detail.Validate())
	require.Equal(t, "Leather", detail.Features[0].Value)
}
