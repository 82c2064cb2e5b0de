package storage

import (
	"database/sql"
	"fmt"

	"github.com/ezbook/autoserver/schema"
)

// SyncBooks replaces the whole ledger and category tree with the supplied
// snapshot. Each book carries its categories nested under "category"; the
// category rows are rebound to the freshly assigned book ids. All or
// nothing: a failed insert rolls the previous contents back.
func (e *Engine) SyncBooks(books []map[string]any) error {
	return e.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM bookName"); err != nil {
			return fmt.Errorf("clear bookName: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM category"); err != nil {
			return fmt.Errorf("clear category: %w", err)
		}
		for _, book := range books {
			bookID, err := txInsert(tx, schema.BookName, book)
			if err != nil {
				return fmt.Errorf("insert book: %w", err)
			}
			for _, cat := range childMaps(book["category"]) {
				cat["book"] = bookID
				if _, err := txInsert(tx, schema.Category, cat); err != nil {
					return fmt.Errorf("insert category: %w", err)
				}
			}
		}
		return nil
	})
}

// SyncAssets replaces every account with the supplied snapshot.
func (e *Engine) SyncAssets(assets []map[string]any) error {
	return e.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM assets"); err != nil {
			return fmt.Errorf("clear assets: %w", err)
		}
		for _, asset := range assets {
			if _, err := txInsert(tx, schema.Assets, asset); err != nil {
				return fmt.Errorf("insert asset: %w", err)
			}
		}
		return nil
	})
}

// ImportBookBills replaces the reference-bill table with the supplied
// snapshot.
func (e *Engine) ImportBookBills(bills []map[string]any) error {
	return e.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM bookBill"); err != nil {
			return fmt.Errorf("clear bookBill: %w", err)
		}
		for _, bill := range bills {
			if _, err := txInsert(tx, schema.BookBill, bill); err != nil {
				return fmt.Errorf("insert bookBill: %w", err)
			}
		}
		return nil
	})
}

func txInsert(tx *sql.Tx, t schema.Table, row map[string]any) (int64, error) {
	query, args := buildInsert(t, row)
	res, err := tx.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// childMaps unwraps a decoded JSON array of objects, tolerating both the
// []any the decoder produces and pre-converted []map[string]any.
func childMaps(v any) []map[string]any {
	switch x := v.(type) {
	case []map[string]any:
		return x
	case []any:
		out := make([]map[string]any, 0, len(x))
		for _, item := range x {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}
