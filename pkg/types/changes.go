package types

import "time"

// Field identifies one tracked book field in a change diff. Keeping the set
// closed lets the classification switch stay exhaustive.
type Field string

const (
	FieldName              Field = "name"
	FieldPriceIncludingTax Field = "price_including_tax"
	FieldPriceExcludingTax Field = "price_excluding_tax"
	FieldAvailability      Field = "availability"
	FieldRating            Field = "rating"
	FieldDescription       Field = "description"
	FieldNumberOfReviews   Field = "number_of_reviews"
)

// TrackedFields lists every field compared during change detection, in
// diff order.
var TrackedFields = []Field{
	FieldName,
	FieldPriceIncludingTax,
	FieldPriceExcludingTax,
	FieldAvailability,
	FieldRating,
	FieldDescription,
	FieldNumberOfReviews,
}

// FieldChange records one field's transition between two crawls.
type FieldChange struct {
	Field Field `json:"field"`
	Old   any   `json:"old"`
	New   any   `json:"new"`
}

// ChangeKind classifies a change record.
type ChangeKind string

const (
	ChangeNewItem      ChangeKind = "new_item"
	ChangePrice        ChangeKind = "price_change"
	ChangeAvailability ChangeKind = "availability_change"
	ChangeMetadata     ChangeKind = "metadata_change"
	ChangeRating       ChangeKind = "rating_change"
	ChangeOther        ChangeKind = "other_change"
)

// ChangeRecord is an immutable audit entry describing what changed for one
// book between two crawls. For new_item records ChangedFields is empty,
// OldValues is empty, and NewValues carries the full first observation.
type ChangeRecord struct {
	ID            string         `json:"id"`
	BookID        string         `json:"book_id"`
	Kind          ChangeKind     `json:"change_type"`
	ChangedFields []string       `json:"changed_fields"`
	OldValues     map[string]any `json:"old_values"`
	NewValues     map[string]any `json:"new_values"`
	ObservedAt    time.Time      `json:"timestamp"`
}

// NewChangeRecord builds a record from a typed diff.
func NewChangeRecord(bookID string, kind ChangeKind, diff []FieldChange, observedAt time.Time) ChangeRecord {
	rec := ChangeRecord{
		BookID:        bookID,
		Kind:          kind,
		ChangedFields: make([]string, 0, len(diff)),
		OldValues:     make(map[string]any, len(diff)),
		NewValues:     make(map[string]any, len(diff)),
		ObservedAt:    observedAt,
	}
	for _, c := range diff {
		rec.ChangedFields = append(rec.ChangedFields, string(c.Field))
		rec.OldValues[string(c.Field)] = c.Old
		rec.NewValues[string(c.Field)] = c.New
	}
	return rec
}
