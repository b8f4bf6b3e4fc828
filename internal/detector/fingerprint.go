package detector

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/JdoesTech/bookstoscrape/pkg/types"
)

// fingerprintFields is the canonical shape hashed for the fast-path equality
// check. It covers every tracked field, including description and review
// count, so any drift the full diff would report also moves the hash.
// Field order is fixed by the struct, and encoding/json emits struct fields
// in declaration order, so the encoding is stable across runs.
type fingerprintFields struct {
	Name              string  `json:"name"`
	PriceIncludingTax float64 `json:"price_including_tax"`
	PriceExcludingTax float64 `json:"price_excluding_tax"`
	Availability      string  `json:"availability"`
	Rating            int     `json:"rating"`
	Description       string  `json:"description"`
	NumberOfReviews   int     `json:"number_of_reviews"`
}

// Fingerprint returns a stable hash over the tracked fields of a book.
func Fingerprint(b types.Book) string {
	payload, _ := json.Marshal(fingerprintFields{
		Name:              b.Name,
		PriceIncludingTax: b.PriceIncludingTax,
		PriceExcludingTax: b.PriceExcludingTax,
		Availability:      b.Availability,
		Rating:            b.Rating,
		Description:       derefOrEmpty(b.Description),
		NumberOfReviews:   b.NumberOfReviews,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
