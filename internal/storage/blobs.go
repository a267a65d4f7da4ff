package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNoBlob is returned when the index has no row for a hash.
var ErrNoBlob = errors.New("blob not indexed")

// BlobRow represents a row from the _blobs table.
type BlobRow struct {
	Hash      string `json:"hash"`
	Format    string `json:"format"`
	Size      int64  `json:"size"`
	Name      string `json:"name"`
	Source    string `json:"source"` // local path or provider peer ID
	CreatedAt string `json:"created_at"`
}

// PutBlob inserts or refreshes a blob row.
func (d *DB) PutBlob(b BlobRow) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO _blobs (hash, format, size, name, source) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			format = excluded.format,
			size   = excluded.size,
			name   = CASE WHEN excluded.name != '' THEN excluded.name ELSE _blobs.name END,
			source = excluded.source`,
		b.Hash, b.Format, b.Size, b.Name, b.Source,
	)
	if err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	return nil
}

// GetBlob returns a single blob row by hash.
func (d *DB) GetBlob(hash string) (BlobRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var b BlobRow
	err := d.db.QueryRow(
		`SELECT hash, format, size, name, source, created_at FROM _blobs WHERE hash = ?`, hash,
	).Scan(&b.Hash, &b.Format, &b.Size, &b.Name, &b.Source, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return b, fmt.Errorf("%w: %s", ErrNoBlob, hash)
	}
	if err != nil {
		return b, fmt.Errorf("get blob: %w", err)
	}
	return b, nil
}

// ListBlobs returns all blob rows, newest first.
func (d *DB) ListBlobs() ([]BlobRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`SELECT hash, format, size, name, source, created_at FROM _blobs ORDER BY created_at DESC, hash`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BlobRow
	for rows.Next() {
		var b BlobRow
		if err := rows.Scan(&b.Hash, &b.Format, &b.Size, &b.Name, &b.Source, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBlob removes a blob row.
func (d *DB) DeleteBlob(hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.db.Exec(`DELETE FROM _blobs WHERE hash = ?`, hash); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
