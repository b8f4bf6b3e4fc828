// Package extractor turns fetched markup into structured records and
// outbound links. Everything here is a pure function of the document body;
// missing elements degrade to documented defaults instead of failing the
// whole parse.
package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JdoesTech/bookstoscrape/pkg/types"
)

// ErrMalformed reports markup the parser could not structure at all.
var ErrMalformed = errors.New("malformed page")

// Defaults substituted for missing elements.
const (
	defaultName         = "Unknown"
	defaultCategory     = "Uncategorized"
	defaultAvailability = "Unknown"
)

// ratingWords maps the star-rating class word to its integer value.
var ratingWords = map[string]int{
	"zero":  0,
	"one":   1,
	"two":   2,
	"three": 3,
	"four":  4,
	"five":  5,
}

// Book parses a detail page into a structured record. pageURL is used as the
// identity key and as the base for resolving relative image URLs.
func Book(body []byte, pageURL *url.URL) (*types.Book, error) {
	doc, err := parse(body)
	if err != nil {
		return nil, err
	}

	book := &types.Book{
		Name:         defaultName,
		Category:     defaultCategory,
		Availability: defaultAvailability,
		SourceURL:    pageURL.String(),
		FetchedAt:    time.Now().UTC(),
	}

	if name := strings.TrimSpace(doc.Find("h1").First().Text()); name != "" {
		book.Name = name
	}

	if desc := strings.TrimSpace(doc.Find("#product_description + p").First().Text()); desc != "" {
		book.Description = &desc
	}

	// The breadcrumb trail is Home / Books / <category> / <title>; anything
	// shorter has no usable category entry.
	crumbs := doc.Find(".breadcrumb a")
	if crumbs.Length() > 1 {
		if cat := strings.TrimSpace(crumbs.Last().Text()); cat != "" {
			book.Category = cat
		}
	}

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		header := strings.TrimSpace(row.Find("th").First().Text())
		value := strings.TrimSpace(row.Find("td").First().Text())
		if header == "" || value == "" {
			return
		}
		switch {
		case strings.Contains(header, "Price (incl. tax)"):
			book.PriceIncludingTax = parsePrice(value)
		case strings.Contains(header, "Price (excl. tax)"):
			book.PriceExcludingTax = parsePrice(value)
		case strings.Contains(header, "Number of reviews"):
			if n, err := strconv.Atoi(value); err == nil {
				book.NumberOfReviews = n
			}
		}
	})

	if avail := strings.TrimSpace(doc.Find("p.availability").First().Text()); avail != "" {
		book.Availability = avail
	}

	if src, ok := doc.Find("#product_gallery img").First().Attr("src"); ok && src != "" {
		if resolved, err := pageURL.Parse(src); err == nil {
			book.ImageURL = resolved.String()
		}
	}

	if class, ok := doc.Find("p.star-rating").First().Attr("class"); ok {
		book.Rating = ratingFromClass(class)
	}

	return book, nil
}

// CategoryPage extracts the book links on a listing page and the "next page"
// link, if any. Relative hrefs are resolved against pageURL.
func CategoryPage(body []byte, pageURL *url.URL) ([]types.CrawlTarget, *url.URL, error) {
	doc, err := parse(body)
	if err != nil {
		return nil, nil, err
	}

	var targets []types.CrawlTarget
	doc.Find("article.product_pod h3 a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		resolved, err := pageURL.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		targets = append(targets, types.CrawlTarget{URL: resolved, Kind: types.TargetBook})
	})

	var next *url.URL
	if href, ok := doc.Find("li.next a").First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		if resolved, err := pageURL.Parse(strings.TrimSpace(href)); err == nil {
			next = resolved
		}
	}

	return targets, next, nil
}

// Categories extracts the category links from the site root's sidebar.
func Categories(body []byte, baseURL *url.URL) ([]types.CrawlTarget, error) {
	doc, err := parse(body)
	if err != nil {
		return nil, err
	}

	var targets []types.CrawlTarget
	doc.Find(".side_categories ul li ul li a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		resolved, err := baseURL.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		targets = append(targets, types.CrawlTarget{URL: resolved, Kind: types.TargetCategory})
	})
	return targets, nil
}

func parse(body []byte) (*goquery.Document, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return doc, nil
}

// parsePrice strips currency symbols and thousands separators before numeric
// parsing; anything that still fails to parse falls back to 0.
func parsePrice(raw string) float64 {
	cleaned := strings.NewReplacer("£", "", "€", "", "$", "", ",", "").Replace(raw)
	cleaned = strings.TrimSpace(cleaned)
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

// ratingFromClass picks the rating word out of a star-rating class list.
// Unrecognised words map to 0.
func ratingFromClass(class string) int {
	for _, word := range strings.Fields(strings.ToLower(class)) {
		if word == "star-rating" {
			continue
		}
		if rating, ok := ratingWords[word]; ok {
			return rating
		}
	}
	return 0
}
