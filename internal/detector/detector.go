// Package detector decides, for every freshly crawled book, whether it is
// new, unchanged, or changed, and when changed, classifies the change and
// produces an auditable diff.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/JdoesTech/bookstoscrape/pkg/types"
)

// priceTolerance is the float equality slack for both price fields.
const priceTolerance = 0.01

// Repository is the persistence collaborator: lookup by identity, insert,
// update, and append-only change records.
type Repository interface {
	FindBySourceURL(ctx context.Context, sourceURL string) (*types.StoredBook, error)
	Insert(ctx context.Context, book types.Book, dataHash string) (*types.StoredBook, error)
	Update(ctx context.Context, id string, book types.Book, dataHash string) error
	Touch(ctx context.Context, id string, at time.Time) error
	AppendChange(ctx context.Context, record types.ChangeRecord) (*types.ChangeRecord, error)
}

// Detector compares crawled books against their last persisted versions.
type Detector struct {
	repo   Repository
	logger *slog.Logger
}

// New constructs a change detector.
func New(repo Repository, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{repo: repo, logger: logger}
}

// Process compares one crawled book against its persisted version. It
// returns a change record for a first observation or an actual change, and
// nil when the content fingerprint matches (fast path; only the crawl
// timestamp is refreshed).
func (d *Detector) Process(ctx context.Context, book types.Book) (*types.ChangeRecord, error) {
	existing, err := d.repo.FindBySourceURL(ctx, book.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", book.SourceURL, err)
	}

	hash := Fingerprint(book)
	now := time.Now().UTC()

	if existing == nil {
		stored, err := d.repo.Insert(ctx, book, hash)
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", book.SourceURL, err)
		}
		record := types.ChangeRecord{
			BookID:        stored.ID,
			Kind:          types.ChangeNewItem,
			ChangedFields: []string{},
			OldValues:     map[string]any{},
			NewValues:     fullValueMap(book),
			ObservedAt:    now,
		}
		appended, err := d.repo.AppendChange(ctx, record)
		if err != nil {
			return nil, fmt.Errorf("append change for %s: %w", book.SourceURL, err)
		}
		d.logger.Info("new book detected", "name", book.Name, "url", book.SourceURL)
		return appended, nil
	}

	if existing.DataHash == hash {
		if err := d.repo.Touch(ctx, existing.ID, now); err != nil {
			return nil, fmt.Errorf("touch %s: %w", existing.ID, err)
		}
		return nil, nil
	}

	diff := diffBooks(existing.Book, book)
	if len(diff) == 0 {
		// Fingerprint moved but no tracked field differs; refresh the stored
		// hash so the fast path holds next run.
		if err := d.repo.Update(ctx, existing.ID, book, hash); err != nil {
			return nil, fmt.Errorf("update %s: %w", existing.ID, err)
		}
		return nil, nil
	}

	kind := Classify(diff)
	if err := d.repo.Update(ctx, existing.ID, book, hash); err != nil {
		return nil, fmt.Errorf("update %s: %w", existing.ID, err)
	}

	record := types.NewChangeRecord(existing.ID, kind, diff, now)
	appended, err := d.repo.AppendChange(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("append change for %s: %w", book.SourceURL, err)
	}

	d.logger.Info("change detected",
		"name", existing.Name,
		"kind", string(kind),
		"fields", record.ChangedFields)
	return appended, nil
}

// ProcessAll runs Process over a batch. A single book's failure is logged
// and skipped; it never aborts the remaining books.
func (d *Detector) ProcessAll(ctx context.Context, books []types.Book) []types.ChangeRecord {
	records := make([]types.ChangeRecord, 0, len(books))
	for _, book := range books {
		if ctx.Err() != nil {
			break
		}
		record, err := d.Process(ctx, book)
		if err != nil {
			d.logger.Error("processing book failed", "url", book.SourceURL, "error", err)
			continue
		}
		if record != nil {
			records = append(records, *record)
		}
	}
	return records
}

// diffBooks compares every tracked field and returns a tagged record per
// differing field.
func diffBooks(old, new types.Book) []types.FieldChange {
	var diff []types.FieldChange

	add := func(field types.Field, oldVal, newVal any) {
		diff = append(diff, types.FieldChange{Field: field, Old: oldVal, New: newVal})
	}

	for _, field := range types.TrackedFields {
		switch field {
		case types.FieldName:
			if old.Name != new.Name {
				add(field, old.Name, new.Name)
			}
		case types.FieldPriceIncludingTax:
			if math.Abs(old.PriceIncludingTax-new.PriceIncludingTax) > priceTolerance {
				add(field, old.PriceIncludingTax, new.PriceIncludingTax)
			}
		case types.FieldPriceExcludingTax:
			if math.Abs(old.PriceExcludingTax-new.PriceExcludingTax) > priceTolerance {
				add(field, old.PriceExcludingTax, new.PriceExcludingTax)
			}
		case types.FieldAvailability:
			if old.Availability != new.Availability {
				add(field, old.Availability, new.Availability)
			}
		case types.FieldRating:
			if old.Rating != new.Rating {
				add(field, old.Rating, new.Rating)
			}
		case types.FieldDescription:
			if derefOrEmpty(old.Description) != derefOrEmpty(new.Description) {
				add(field, derefOrEmpty(old.Description), derefOrEmpty(new.Description))
			}
		case types.FieldNumberOfReviews:
			if old.NumberOfReviews != new.NumberOfReviews {
				add(field, old.NumberOfReviews, new.NumberOfReviews)
			}
		}
	}
	return diff
}

// Classify picks the change kind by fixed priority: price and availability
// are business-critical and always win over cosmetic metadata.
func Classify(diff []types.FieldChange) types.ChangeKind {
	changed := make(map[types.Field]bool, len(diff))
	for _, c := range diff {
		changed[c.Field] = true
	}
	switch {
	case changed[types.FieldPriceIncludingTax] || changed[types.FieldPriceExcludingTax]:
		return types.ChangePrice
	case changed[types.FieldAvailability]:
		return types.ChangeAvailability
	case changed[types.FieldName] || changed[types.FieldDescription]:
		return types.ChangeMetadata
	case changed[types.FieldRating]:
		return types.ChangeRating
	default:
		return types.ChangeOther
	}
}

func fullValueMap(b types.Book) map[string]any {
	return map[string]any{
		"name":                b.Name,
		"description":         derefOrEmpty(b.Description),
		"category":            b.Category,
		"price_including_tax": b.PriceIncludingTax,
		"price_excluding_tax": b.PriceExcludingTax,
		"availability":        b.Availability,
		"number_of_reviews":   b.NumberOfReviews,
		"image_url":           b.ImageURL,
		"rating":              b.Rating,
		"source_url":          b.SourceURL,
	}
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
