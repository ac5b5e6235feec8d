package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
)

// Payload shapes delivered by the storefront. Every trust boundary (listing
// endpoint, embedded product payload) is decoded and then validated strictly:
// unknown enum values or missing required fields reject the whole payload
// rather than letting partially-typed data through.

type ImageSize struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (s ImageSize) validate(field string) error {
	if s.URL == "" {
		return fmt.Errorf("%s: missing url", field)
	}
	if _, err := url.Parse(s.URL); err != nil {
		return fmt.Errorf("%s: bad url: %w", field, err)
	}
	return nil
}

var imageSizeNames = map[string]bool{
	"small_default":    true,
	"cart_default":     true,
	"home_default":     true,
	"medium_default":   true,
	"large_default":    true,
	"thickbox_default": true,
}

type Image struct {
	BySize   map[string]ImageSize `json:"bySize"`
	Small    ImageSize            `json:"small"`
	Medium   ImageSize            `json:"medium"`
	Large    ImageSize            `json:"large"`
	IDImage  string               `json:"id_image"`
	Cover    *string              `json:"cover"`
	Position string               `json:"position"`
}

func (i Image) validate(field string) error {
	for name := range i.BySize {
		if !imageSizeNames[name] {
			return fmt.Errorf("%s: unknown image size %q", field, name)
		}
	}
	if err := i.Large.validate(field + ".large"); err != nil {
		return err
	}
	return nil
}

type ProductSummary struct {
	IDProduct          string  `json:"id_product"`
	Name               string  `json:"name"`
	URL                string  `json:"url"`
	CanonicalURL       string  `json:"canonical_url"`
	Link               string  `json:"link"`
	Reference          string  `json:"reference"`
	DescriptionShort   string  `json:"description_short"`
	LinkRewrite        string  `json:"link_rewrite"`
	CategoryName       string  `json:"category_name"`
	Price              string  `json:"price"`
	PriceAmount        float64 `json:"price_amount"`
	RegularPrice       string  `json:"regular_price"`
	RegularPriceAmount float64 `json:"regular_price_amount"`
	HasDiscount        bool    `json:"has_discount"`
	DiscountType       *string `json:"discount_type"`
	DiscountPercentage *string `json:"discount_percentage"`
	DiscountAmount     *string `json:"discount_amount"`
	Cover              Image   `json:"cover"`
}

func (p ProductSummary) Validate() error {
	if p.IDProduct == "" {
		return fmt.Errorf("product: missing id_product")
	}
	if p.Name == "" {
		return fmt.Errorf("product %s: missing name", p.IDProduct)
	}
	if p.URL == "" {
		return fmt.Errorf("product %s: missing url", p.IDProduct)
	}
	if _, err := url.Parse(p.URL); err != nil {
		return fmt.Errorf("product %s: bad url: %w", p.IDProduct, err)
	}
	if err := p.Cover.validate("product " + p.IDProduct + ": cover"); err != nil {
		return err
	}
	return nil
}

type PageKind string

const (
	PageKindPage     PageKind = "page"
	PageKindSpacer   PageKind = "spacer"
	PageKindNext     PageKind = "next"
	PageKindPrevious PageKind = "previous"
)

type PaginationPage struct {
	Type      PageKind `json:"type"`
	Page      *int     `json:"page"`
	Clickable bool     `json:"clickable"`
	Current   bool     `json:"current"`
	URL       string   `json:"url"`
}

func (p PaginationPage) validate() error {
	switch p.Type {
	case PageKindPage, PageKindSpacer, PageKindNext, PageKindPrevious:
	default:
		return fmt.Errorf("pagination: unknown page type %q", p.Type)
	}
	if p.Type != PageKindSpacer && p.Page == nil {
		return fmt.Errorf("pagination: %s entry missing page number", p.Type)
	}
	if p.URL == "" {
		return fmt.Errorf("pagination: %s entry missing url", p.Type)
	}
	return nil
}

// PageList normalizes the two wire shapes the storefront uses for
// pagination.pages (an ordered array, or a numerically-keyed object) into one
// ordered sequence right at the boundary.
type PageList []PaginationPage

func (l *PageList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return fmt.Errorf("pagination: empty pages payload")
	}

	if trimmed[0] == '[' {
		var pages []PaginationPage
		err := json.Unmarshal(data, &pages)
		if err != nil {
			return err
		}
		*l = pages
		return nil
	}

	var keyed map[string]PaginationPage
	err := json.Unmarshal(data, &keyed)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aerr := strconv.Atoi(keys[i])
		b, berr := strconv.Atoi(keys[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})

	pages := make([]PaginationPage, 0, len(keys))
	for _, k := range keys {
		pages = append(pages, keyed[k])
	}
	*l = pages
	return nil
}

type Pagination struct {
	TotalItems     int      `json:"total_items"`
	ItemsShownFrom int      `json:"items_shown_from"`
	ItemsShownTo   int      `json:"items_shown_to"`
	CurrentPage    int      `json:"current_page"`
	PagesCount     int      `json:"pages_count"`
	Pages          PageList `json:"pages"`
}

func (p Pagination) validate() error {
	if p.TotalItems < 0 {
		return fmt.Errorf("pagination: negative total_items")
	}
	if p.CurrentPage < 0 {
		return fmt.Errorf("pagination: negative current_page")
	}
	for _, page := range p.Pages {
		if err := page.validate(); err != nil {
			return err
		}
	}
	return nil
}

type SortOrder struct {
	Entity       string `json:"entity"`
	Field        string `json:"field"`
	Direction    string `json:"direction"`
	Label        string `json:"label"`
	URLParameter string `json:"urlParameter"`
	Current      bool   `json:"current"`
	URL          string `json:"url"`
}

func (s SortOrder) validate() error {
	if s.Direction != "asc" && s.Direction != "desc" {
		return fmt.Errorf("sort order: unknown direction %q", s.Direction)
	}
	return nil
}

// ListingPayload is one page of a category's product listing as returned by
// the storefront's JSON endpoint.
type ListingPayload struct {
	Label      string           `json:"label"`
	Products   []ProductSummary `json:"products"`
	SortOrders []SortOrder      `json:"sort_orders"`
	Pagination Pagination       `json:"pagination"`
	CurrentURL string           `json:"current_url"`
}

func (l ListingPayload) Validate() error {
	if l.CurrentURL == "" {
		return fmt.Errorf("listing: missing current_url")
	}
	if _, err := url.Parse(l.CurrentURL); err != nil {
		return fmt.Errorf("listing: bad current_url: %w", err)
	}
	for _, p := range l.Products {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	for _, s := range l.SortOrders {
		if err := s.validate(); err != nil {
			return err
		}
	}
	return l.Pagination.validate()
}

type Feature struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ProductDetail is the embedded payload of one product page, one-to-one with
// a ProductSummary by id.
type ProductDetail struct {
	IDProduct        string    `json:"id_product"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	DescriptionShort string    `json:"description_short"`
	Link             string    `json:"link"`
	LinkRewrite      string    `json:"link_rewrite"`
	Cover            Image     `json:"cover"`
	Images           []Image   `json:"images"`
	Features         []Feature `json:"features"`
	AvailableNow     string    `json:"available_now"`
	AvailableLater   string    `json:"available_later"`
}

func (d ProductDetail) Validate() error {
	if d.IDProduct == "" {
		return fmt.Errorf("product detail: missing id_product")
	}
	if d.Name == "" {
		return fmt.Errorf("product detail %s: missing name", d.IDProduct)
	}
	if d.Link == "" {
		return fmt.Errorf("product detail %s: missing link", d.IDProduct)
	}
	for i, img := range d.Images {
		if err := img.validate(fmt.Sprintf("product detail %s: images[%d]", d.IDProduct, i)); err != nil {
			return err
		}
	}
	return nil
}

// MadeToOrder reports whether the product ships on demand rather than from
// stock, which the storefront signals through a non-empty back-order label.
func (d ProductDetail) MadeToOrder() bool {
	return d.AvailableLater != ""
}
