package detector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JdoesTech/bookstoscrape/pkg/types"
)

// memRepo is an in-memory Repository for exercising the detector without a
// database.
type memRepo struct {
	byURL   map[string]*types.StoredBook
	changes []types.ChangeRecord
	nextID  int
	touched map[string]time.Time

	failLookup bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		byURL:   map[string]*types.StoredBook{},
		touched: map[string]time.Time{},
	}
}

func (m *memRepo) FindBySourceURL(ctx context.Context, sourceURL string) (*types.StoredBook, error) {
	if m.failLookup {
		return nil, errors.New("lookup unavailable")
	}
	stored, ok := m.byURL[sourceURL]
	if !ok {
		return nil, nil
	}
	cp := *stored
	return &cp, nil
}

func (m *memRepo) Insert(ctx context.Context, book types.Book, dataHash string) (*types.StoredBook, error) {
	m.nextID++
	stored := &types.StoredBook{
		Book:        book,
		ID:          fmt.Sprintf("book-%d", m.nextID),
		Status:      "active",
		DataHash:    dataHash,
		LastCrawlAt: time.Now().UTC(),
	}
	m.byURL[book.SourceURL] = stored
	return stored, nil
}

func (m *memRepo) Update(ctx context.Context, id string, book types.Book, dataHash string) error {
	for url, stored := range m.byURL {
		if stored.ID == id {
			updated := &types.StoredBook{
				Book:        book,
				ID:          id,
				Status:      "active",
				DataHash:    dataHash,
				LastCrawlAt: time.Now().UTC(),
			}
			m.byURL[url] = updated
			return nil
		}
	}
	return fmt.Errorf("book %s not found", id)
}

func (m *memRepo) Touch(ctx context.Context, id string, at time.Time) error {
	m.touched[id] = at
	return nil
}

func (m *memRepo) AppendChange(ctx context.Context, record types.ChangeRecord) (*types.ChangeRecord, error) {
	record.ID = fmt.Sprintf("change-%d", len(m.changes)+1)
	m.changes = append(m.changes, record)
	return &record, nil
}

func sampleBook() types.Book {
	desc := "A tale of two crawls."
	return types.Book{
		Name:              "Sample Book",
		Description:       &desc,
		Category:          "Fiction",
		PriceIncludingTax: 19.99,
		PriceExcludingTax: 18.99,
		Availability:      "In stock (5 available)",
		NumberOfReviews:   2,
		Rating:            4,
		SourceURL:         "https://books.toscrape.com/catalogue/sample_1/index.html",
	}
}

func newTestDetector(repo Repository) *Detector {
	return New(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestProcessFirstObservation(t *testing.T) {
	repo := newMemRepo()
	det := newTestDetector(repo)

	record, err := det.Process(context.Background(), sampleBook())
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, types.ChangeNewItem, record.Kind)
	assert.Empty(t, record.ChangedFields)
	assert.Empty(t, record.OldValues)
	assert.Equal(t, "Sample Book", record.NewValues["name"])
	assert.Equal(t, 19.99, record.NewValues["price_including_tax"])
	require.Len(t, repo.changes, 1)
	require.Contains(t, repo.byURL, sampleBook().SourceURL)
}

func TestProcessUnchangedTouchesOnly(t *testing.T) {
	repo := newMemRepo()
	det := newTestDetector(repo)

	_, err := det.Process(context.Background(), sampleBook())
	require.NoError(t, err)

	record, err := det.Process(context.Background(), sampleBook())
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Len(t, repo.changes, 1, "no second record for an unchanged book")
	assert.Len(t, repo.touched, 1)
}

func TestProcessPriceDrop(t *testing.T) {
	repo := newMemRepo()
	det := newTestDetector(repo)

	_, err := det.Process(context.Background(), sampleBook())
	require.NoError(t, err)

	updated := sampleBook()
	updated.PriceIncludingTax = 15.99
	updated.PriceExcludingTax = 14.99

	record, err := det.Process(context.Background(), updated)
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, types.ChangePrice, record.Kind)
	assert.ElementsMatch(t, []string{"price_including_tax", "price_excluding_tax"}, record.ChangedFields)
	assert.Equal(t, 19.99, record.OldValues["price_including_tax"])
	assert.Equal(t, 15.99, record.NewValues["price_including_tax"])

	stored := repo.byURL[updated.SourceURL]
	assert.Equal(t, 15.99, stored.PriceIncludingTax)
	assert.Equal(t, Fingerprint(updated), stored.DataHash)
}

func TestProcessPriceWithinToleranceIsUnchanged(t *testing.T) {
	repo := newMemRepo()
	det := newTestDetector(repo)

	_, err := det.Process(context.Background(), sampleBook())
	require.NoError(t, err)

	nudged := sampleBook()
	nudged.PriceIncludingTax += 0.005

	record, err := det.Process(context.Background(), nudged)
	require.NoError(t, err)
	assert.Nil(t, record, "sub-tolerance price drift must not produce a record")
	assert.Len(t, repo.changes, 1)
}

func TestProcessLookupErrorPropagates(t *testing.T) {
	repo := newMemRepo()
	repo.failLookup = true
	det := newTestDetector(repo)

	_, err := det.Process(context.Background(), sampleBook())
	require.Error(t, err)
	assert.Empty(t, repo.changes)
}

func TestProcessAllContinuesPastFailures(t *testing.T) {
	repo := newMemRepo()
	det := newTestDetector(repo)

	first := sampleBook()
	second := sampleBook()
	second.Name = "Second Book"
	second.SourceURL = "https://books.toscrape.com/catalogue/second_2/index.html"

	records := det.ProcessAll(context.Background(), []types.Book{first, second})
	assert.Len(t, records, 2)

	// A mid-batch repo failure skips the affected book only.
	repo.failLookup = true
	records = det.ProcessAll(context.Background(), []types.Book{first, second})
	assert.Empty(t, records)
}

func TestClassifyPriority(t *testing.T) {
	cases := []struct {
		name   string
		fields []types.Field
		want   types.ChangeKind
	}{
		{"price beats availability", []types.Field{types.FieldAvailability, types.FieldPriceIncludingTax}, types.ChangePrice},
		{"price excl alone", []types.Field{types.FieldPriceExcludingTax}, types.ChangePrice},
		{"availability beats metadata", []types.Field{types.FieldName, types.FieldAvailability}, types.ChangeAvailability},
		{"name is metadata", []types.Field{types.FieldName}, types.ChangeMetadata},
		{"description is metadata", []types.Field{types.FieldDescription}, types.ChangeMetadata},
		{"metadata beats rating", []types.Field{types.FieldRating, types.FieldDescription}, types.ChangeMetadata},
		{"rating alone", []types.Field{types.FieldRating}, types.ChangeRating},
		{"review count is other", []types.Field{types.FieldNumberOfReviews}, types.ChangeOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			diff := make([]types.FieldChange, 0, len(tc.fields))
			for _, f := range tc.fields {
				diff = append(diff, types.FieldChange{Field: f})
			}
			assert.Equal(t, tc.want, Classify(diff))
		})
	}
}

func TestDiffBooksCoversTrackedFields(t *testing.T) {
	old := sampleBook()
	updated := sampleBook()
	updated.Name = "Renamed"
	updated.Availability = "Out of stock"
	updated.Rating = 1
	updated.NumberOfReviews = 9
	newDesc := "Rewritten blurb."
	updated.Description = &newDesc

	diff := diffBooks(old, updated)
	fields := make([]types.Field, 0, len(diff))
	for _, c := range diff {
		fields = append(fields, c.Field)
	}
	assert.ElementsMatch(t, []types.Field{
		types.FieldName,
		types.FieldAvailability,
		types.FieldRating,
		types.FieldDescription,
		types.FieldNumberOfReviews,
	}, fields)
}

func TestFingerprintStability(t *testing.T) {
	a := sampleBook()
	b := sampleBook()
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	// Category and image URL are not tracked, so they cannot move the hash.
	b.Category = "Different"
	b.ImageURL = "https://elsewhere/img.jpg"
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	b.PriceIncludingTax = 9.99
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))

	c := sampleBook()
	c.Description = nil
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}
