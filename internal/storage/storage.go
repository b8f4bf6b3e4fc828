// Package storage persists books and their change history in a relational
// database. It implements the repository interface the change detector
// consumes plus the query surface the HTTP API exposes.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/JdoesTech/bookstoscrape/internal/config"
	"github.com/JdoesTech/bookstoscrape/pkg/types"
)

// Store is a relational repository backed by database/sql.
type Store struct {
	db *sql.DB
}

// NewStore opens the database, verifies connectivity, and optionally applies
// the schema.
func NewStore(cfg config.SQLConfig) (*Store, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sql connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}

	store := &Store{db: db}
	if cfg.AutoMigrate {
		if err := store.ensureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS books (
		    id UUID PRIMARY KEY,
		    source_url TEXT NOT NULL UNIQUE,
		    name TEXT NOT NULL,
		    description TEXT,
		    category TEXT NOT NULL,
		    price_including_tax DOUBLE PRECISION NOT NULL DEFAULT 0,
		    price_excluding_tax DOUBLE PRECISION NOT NULL DEFAULT 0,
		    availability TEXT NOT NULL DEFAULT '',
		    number_of_reviews INT NOT NULL DEFAULT 0,
		    image_url TEXT,
		    rating INT NOT NULL DEFAULT 0,
		    status TEXT NOT NULL DEFAULT 'active',
		    data_hash TEXT NOT NULL,
		    raw_html TEXT,
		    crawl_timestamp TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_books_category ON books (category)`,
		`CREATE INDEX IF NOT EXISTS idx_books_price ON books (price_including_tax)`,
		`CREATE INDEX IF NOT EXISTS idx_books_rating ON books (rating)`,
		`CREATE TABLE IF NOT EXISTS change_log (
		    id UUID PRIMARY KEY,
		    book_id UUID NOT NULL REFERENCES books (id),
		    change_type TEXT NOT NULL,
		    changed_fields JSONB NOT NULL,
		    old_values JSONB NOT NULL,
		    new_values JSONB NOT NULL,
		    observed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_change_log_book_id ON change_log (book_id)`,
		`CREATE INDEX IF NOT EXISTS idx_change_log_observed_at ON change_log (observed_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

const bookColumns = `id, source_url, name, description, category,
       price_including_tax, price_excluding_tax, availability,
       number_of_reviews, image_url, rating, status, data_hash, crawl_timestamp`

// FindBySourceURL looks a book up by its natural key. Absence is (nil, nil).
func (s *Store) FindBySourceURL(ctx context.Context, sourceURL string) (*types.StoredBook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE source_url = $1`, sourceURL)
	book, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find book by url: %w", err)
	}
	return book, nil
}

// GetByID looks a book up by its surrogate ID. Absence is (nil, nil).
func (s *Store) GetByID(ctx context.Context, id string) (*types.StoredBook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = $1`, id)
	book, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

// GetRawHTML returns the stored HTML snapshot for a book, or "" if none.
func (s *Store) GetRawHTML(ctx context.Context, id string) (string, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT raw_html FROM books WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get raw html: %w", err)
	}
	return raw.String, nil
}

// Insert persists a first observation and returns the stored row.
func (s *Store) Insert(ctx context.Context, book types.Book, dataHash string) (*types.StoredBook, error) {
	stored := &types.StoredBook{
		Book:        book,
		ID:          uuid.NewString(),
		Status:      "active",
		DataHash:    dataHash,
		LastCrawlAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO books (id, source_url, name, description, category,
            price_including_tax, price_excluding_tax, availability,
            number_of_reviews, image_url, rating, status, data_hash,
            raw_html, crawl_timestamp)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		stored.ID, book.SourceURL, book.Name, book.Description, book.Category,
		book.PriceIncludingTax, book.PriceExcludingTax, book.Availability,
		book.NumberOfReviews, nullable(book.ImageURL), book.Rating,
		stored.Status, dataHash, nullable(book.RawHTML), stored.LastCrawlAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent insert of the same URL; the
			// existing row wins.
			return nil, fmt.Errorf("book %s already exists: %w", book.SourceURL, err)
		}
		return nil, fmt.Errorf("insert book: %w", err)
	}
	return stored, nil
}

// Update overwrites a book's crawled fields, fingerprint, and timestamp.
func (s *Store) Update(ctx context.Context, id string, book types.Book, dataHash string) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE books SET
            name = $2, description = $3, category = $4,
            price_including_tax = $5, price_excluding_tax = $6,
            availability = $7, number_of_reviews = $8, image_url = $9,
            rating = $10, data_hash = $11, raw_html = $12,
            crawl_timestamp = $13, status = 'active'
        WHERE id = $1`,
		id, book.Name, book.Description, book.Category,
		book.PriceIncludingTax, book.PriceExcludingTax,
		book.Availability, book.NumberOfReviews, nullable(book.ImageURL),
		book.Rating, dataHash, nullable(book.RawHTML), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	return nil
}

// Touch refreshes the crawl timestamp without rewriting the row.
func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE books SET crawl_timestamp = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("touch book: %w", err)
	}
	return nil
}

// AppendChange writes an immutable change record and returns it with its
// assigned ID.
func (s *Store) AppendChange(ctx context.Context, record types.ChangeRecord) (*types.ChangeRecord, error) {
	record.ID = uuid.NewString()
	if record.ObservedAt.IsZero() {
		record.ObservedAt = time.Now().UTC()
	}

	fields, err := json.Marshal(record.ChangedFields)
	if err != nil {
		return nil, fmt.Errorf("marshal changed fields: %w", err)
	}
	oldVals, err := json.Marshal(record.OldValues)
	if err != nil {
		return nil, fmt.Errorf("marshal old values: %w", err)
	}
	newVals, err := json.Marshal(record.NewValues)
	if err != nil {
		return nil, fmt.Errorf("marshal new values: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
        INSERT INTO change_log (id, book_id, change_type, changed_fields, old_values, new_values, observed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		record.ID, record.BookID, string(record.Kind), fields, oldVals, newVals, record.ObservedAt); err != nil {
		return nil, fmt.Errorf("append change: %w", err)
	}
	return &record, nil
}

type bookScanner interface {
	Scan(dest ...any) error
}

func scanBook(row bookScanner) (*types.StoredBook, error) {
	var (
		stored      types.StoredBook
		description sql.NullString
		imageURL    sql.NullString
	)
	if err := row.Scan(
		&stored.ID, &stored.SourceURL, &stored.Name, &description, &stored.Category,
		&stored.PriceIncludingTax, &stored.PriceExcludingTax, &stored.Availability,
		&stored.NumberOfReviews, &imageURL, &stored.Rating, &stored.Status,
		&stored.DataHash, &stored.LastCrawlAt,
	); err != nil {
		return nil, err
	}
	if description.Valid {
		stored.Description = &description.String
	}
	stored.ImageURL = imageURL.String
	stored.FetchedAt = stored.LastCrawlAt
	return &stored, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
