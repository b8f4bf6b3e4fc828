package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JdoesTech/bookstoscrape/pkg/types"
)

// BookListParams controls pagination, filtering, and ordering of book lists.
type BookListParams struct {
	Page     int
	PageSize int
	Category string
	MinPrice *float64
	MaxPrice *float64
	Rating   *int
	SortBy   string // "rating", "price", or "reviews"
}

// BookListResult wraps book rows with pagination metadata.
type BookListResult struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []types.StoredBook `json:"items"`
}

// ChangeListParams filters the change log.
type ChangeListParams struct {
	BookID     string
	ChangeType string
	Limit      int
}

// ListBooks returns active books matching the filters, newest first unless a
// sort order is requested.
func (s *Store) ListBooks(ctx context.Context, params BookListParams) (BookListResult, error) {
	page := params.Page
	if page <= 0 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}

	where := []string{`status = 'active'`}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if params.Category != "" {
		where = append(where, `category = `+arg(params.Category))
	}
	if params.MinPrice != nil {
		where = append(where, `price_including_tax >= `+arg(*params.MinPrice))
	}
	if params.MaxPrice != nil {
		where = append(where, `price_including_tax <= `+arg(*params.MaxPrice))
	}
	if params.Rating != nil {
		where = append(where, `rating = `+arg(*params.Rating))
	}
	cond := strings.Join(where, " AND ")

	var order string
	switch params.SortBy {
	case "rating":
		order = "rating DESC, name ASC"
	case "price":
		order = "price_including_tax ASC, name ASC"
	case "reviews":
		order = "number_of_reviews DESC, name ASC"
	default:
		order = "crawl_timestamp DESC, name ASC"
	}

	result := BookListResult{Page: page, PageSize: pageSize, Items: []types.StoredBook{}}

	countQuery := `SELECT COUNT(*) FROM books WHERE ` + cond
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&result.Total); err != nil {
		return BookListResult{}, fmt.Errorf("count books: %w", err)
	}

	listQuery := `SELECT ` + bookColumns + ` FROM books WHERE ` + cond +
		` ORDER BY ` + order +
		` LIMIT ` + arg(pageSize) + ` OFFSET ` + arg((page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return BookListResult{}, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return BookListResult{}, fmt.Errorf("scan book row: %w", err)
		}
		result.Items = append(result.Items, *book)
	}
	if err := rows.Err(); err != nil {
		return BookListResult{}, fmt.Errorf("iterate book rows: %w", err)
	}
	return result, nil
}

// ListChanges returns change records newest first, optionally scoped to one
// book or one change type.
func (s *Store) ListChanges(ctx context.Context, params ChangeListParams) ([]types.ChangeRecord, error) {
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	where := []string{"TRUE"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if params.BookID != "" {
		where = append(where, `book_id = `+arg(params.BookID))
	}
	if params.ChangeType != "" {
		where = append(where, `change_type = `+arg(params.ChangeType))
	}

	query := `SELECT id, book_id, change_type, changed_fields, old_values, new_values, observed_at
        FROM change_log
        WHERE ` + strings.Join(where, " AND ") + `
        ORDER BY observed_at DESC
        LIMIT ` + arg(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	records := []types.ChangeRecord{}
	for rows.Next() {
		var (
			rec     types.ChangeRecord
			kind    string
			fields  []byte
			oldVals []byte
			newVals []byte
		)
		if err := rows.Scan(&rec.ID, &rec.BookID, &kind, &fields, &oldVals, &newVals, &rec.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan change row: %w", err)
		}
		rec.Kind = types.ChangeKind(kind)
		if err := json.Unmarshal(fields, &rec.ChangedFields); err != nil {
			return nil, fmt.Errorf("decode changed fields: %w", err)
		}
		if err := json.Unmarshal(oldVals, &rec.OldValues); err != nil {
			return nil, fmt.Errorf("decode old values: %w", err)
		}
		if err := json.Unmarshal(newVals, &rec.NewValues); err != nil {
			return nil, fmt.Errorf("decode new values: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change rows: %w", err)
	}
	return records, nil
}
