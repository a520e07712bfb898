// Package store persists File and Content rows in a local sqlite database
// and keeps an in-memory secondary index over them. The database is the
// sole source of truth; the index is rebuilt by a full scan on Open and
// updated in the same critical section as every write it mirrors.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Lllllllleong/insightbase/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS contents (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	body TEXT NOT NULL
);`

// Store is the process-wide document store handle. Construct it once in
// main and share it by reference.
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	idx *secondaryIndex
}

// Open opens (creating if necessary) the sqlite database at path, applies
// the schema and rebuilds the secondary index from a full scan.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: database path must be set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	s := &Store{db: db, idx: newSecondaryIndex()}
	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// NormalizePath canonicalizes a source path so equivalent spellings
// collide in the index: cleaned, forward slashes.
func NormalizePath(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}

func (s *Store) rebuildIndex() error {
	rows, err := s.db.Query(`SELECT id, body FROM files`)
	if err != nil {
		return fmt.Errorf("store: scan files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rowid int64
		var body string
		if err := rows.Scan(&rowid, &body); err != nil {
			return fmt.Errorf("store: scan file row: %w", err)
		}
		var f models.File
		if err := json.Unmarshal([]byte(body), &f); err != nil {
			return fmt.Errorf("store: decode file row %d: %w", rowid, err)
		}
		s.idx.putFile(f.ID, NormalizePath(f.Path), rowid)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: scan files: %w", err)
	}

	crows, err := s.db.Query(`SELECT id, body FROM contents`)
	if err != nil {
		return fmt.Errorf("store: scan contents: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var rowid int64
		var body string
		if err := crows.Scan(&rowid, &body); err != nil {
			return fmt.Errorf("store: scan content row: %w", err)
		}
		var c models.Content
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return fmt.Errorf("store: decode content row %d: %w", rowid, err)
		}
		s.idx.putContent(c.ID, c.FileID, c.PageNumber, rowid)
	}
	return crows.Err()
}

// PutFile inserts a new file row. The normalized path must not already be
// registered; identifiers are immutable once assigned.
func (s *Store) PutFile(f *models.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	norm := NormalizePath(f.Path)
	if _, exists := s.idx.fileByPath[norm]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePath, norm)
	}
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("store: encode file: %w", err)
	}
	res, err := s.db.Exec(`INSERT INTO files(body) VALUES(?)`, string(body))
	if err != nil {
		return fmt.Errorf("store: insert file: %w", err)
	}
	rowid, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: insert file: %w", err)
	}
	s.idx.putFile(f.ID, norm, rowid)
	return nil
}

// UpdateFile applies a partial update to the file with the given ID and
// returns the updated row.
func (s *Store) UpdateFile(id string, upd models.FileUpdate) (*models.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rowid, ok := s.idx.fileByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, id)
	}
	f, err := s.fileByRowid(rowid)
	if err != nil {
		return nil, err
	}
	upd.Apply(f)
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("store: encode file: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE files SET body=? WHERE id=?`, string(body), rowid); err != nil {
		return nil, fmt.Errorf("store: update file %s: %w", id, err)
	}
	return f, nil
}

// FileByID retrieves a file row through the secondary index.
func (s *Store) FileByID(id string) (*models.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rowid, ok := s.idx.fileByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, id)
	}
	return s.fileByRowid(rowid)
}

// FileByPath retrieves a file row by normalized source path.
func (s *Store) FileByPath(path string) (*models.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rowid, ok := s.idx.fileByPath[NormalizePath(path)]
	if !ok {
		return nil, fmt.Errorf("%w: path %s", ErrNotFound, path)
	}
	return s.fileByRowid(rowid)
}

// FilesByIDs retrieves the files for the given identifiers, skipping
// identifiers that are absent.
func (s *Store) FilesByIDs(ids []string) ([]*models.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := make([]*models.File, 0, len(ids))
	for _, id := range ids {
		rowid, ok := s.idx.fileByID[id]
		if !ok {
			continue
		}
		f, err := s.fileByRowid(rowid)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// AllFiles returns every file row.
func (s *Store) AllFiles() ([]*models.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT body FROM files ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list files: %w", err)
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("store: scan file row: %w", err)
		}
		var f models.File
		if err := json.Unmarshal([]byte(body), &f); err != nil {
			return nil, fmt.Errorf("store: decode file row: %w", err)
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}

// DeleteFile removes a file row. Content rows are left to
// DeleteContentsByFile so callers control the order of destruction.
func (s *Store) DeleteFile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rowid, ok := s.idx.fileByID[id]
	if !ok {
		return fmt.Errorf("%w: file %s", ErrNotFound, id)
	}
	f, err := s.fileByRowid(rowid)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM files WHERE id=?`, rowid); err != nil {
		return fmt.Errorf("store: delete file %s: %w", id, err)
	}
	s.idx.dropFile(f.ID, NormalizePath(f.Path))
	return nil
}

// UpsertContent creates or updates the Content row for (FileID,
// PageNumber). On update the original identifier and creation timestamp
// are preserved, so at most one row ever exists per page.
func (s *Store) UpsertContent(c *models.Content) (*models.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	key := contentKey{c.FileID, c.PageNumber}
	if rowid, ok := s.idx.contentByKey[key]; ok {
		existing, err := s.contentByRowid(rowid)
		if err != nil {
			return nil, err
		}
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		c.UpdatedAt = now
		body, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("store: encode content: %w", err)
		}
		if _, err := s.db.Exec(`UPDATE contents SET body=? WHERE id=?`, string(body), rowid); err != nil {
			return nil, fmt.Errorf("store: update content %s: %w", c.ID, err)
		}
		return c, nil
	}

	c.CreatedAt = now
	c.UpdatedAt = now
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("store: encode content: %w", err)
	}
	res, err := s.db.Exec(`INSERT INTO contents(body) VALUES(?)`, string(body))
	if err != nil {
		return nil, fmt.Errorf("store: insert content: %w", err)
	}
	rowid, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: insert content: %w", err)
	}
	s.idx.putContent(c.ID, c.FileID, c.PageNumber, rowid)
	return c, nil
}

// ContentByID retrieves a content row through the secondary index.
func (s *Store) ContentByID(id string) (*models.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rowid, ok := s.idx.contentByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: content %s", ErrNotFound, id)
	}
	return s.contentByRowid(rowid)
}

// ContentsByIDs retrieves content rows for the given identifiers, skipping
// absent ones.
func (s *Store) ContentsByIDs(ids []string) ([]*models.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contents := make([]*models.Content, 0, len(ids))
	for _, id := range ids {
		rowid, ok := s.idx.contentByID[id]
		if !ok {
			continue
		}
		c, err := s.contentByRowid(rowid)
		if err != nil {
			return nil, err
		}
		contents = append(contents, c)
	}
	return contents, nil
}

// ContentsByFile returns every content row owned by the file, ordered by
// page number.
func (s *Store) ContentsByFile(fileID string) ([]*models.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.idx.contentsByFile[fileID]
	contents := make([]*models.Content, 0, len(set))
	for rowid := range set {
		c, err := s.contentByRowid(rowid)
		if err != nil {
			return nil, err
		}
		contents = append(contents, c)
	}
	sort.Slice(contents, func(i, j int) bool { return contents[i].PageNumber < contents[j].PageNumber })
	return contents, nil
}

// AllContents returns every content row.
func (s *Store) AllContents() ([]*models.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT body FROM contents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list contents: %w", err)
	}
	defer rows.Close()

	var contents []*models.Content
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("store: scan content row: %w", err)
		}
		var c models.Content
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return nil, fmt.Errorf("store: decode content row: %w", err)
		}
		contents = append(contents, &c)
	}
	return contents, rows.Err()
}

// DeleteContentsByFile removes every content row owned by the file and
// returns how many were deleted. Deleting zero rows is not an error.
func (s *Store) DeleteContentsByFile(fileID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.idx.contentsByFile[fileID]
	if len(set) == 0 {
		return 0, nil
	}
	ids := make(map[int64]string, len(set))
	pages := make(map[int64]int, len(set))
	for rowid := range set {
		c, err := s.contentByRowid(rowid)
		if err != nil {
			return 0, err
		}
		ids[rowid] = c.ID
		pages[rowid] = c.PageNumber
	}
	for rowid := range set {
		if _, err := s.db.Exec(`DELETE FROM contents WHERE id=?`, rowid); err != nil {
			return 0, fmt.Errorf("store: delete content row %d: %w", rowid, err)
		}
	}
	s.idx.dropContentsForFile(fileID, ids, pages)
	slog.Debug("Deleted content rows for file.", "fileId", fileID, "count", len(ids))
	return len(ids), nil
}

func (s *Store) fileByRowid(rowid int64) (*models.File, error) {
	var body string
	if err := s.db.QueryRow(`SELECT body FROM files WHERE id=?`, rowid).Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: file rowid %d", ErrNotFound, rowid)
		}
		return nil, fmt.Errorf("store: fetch file rowid %d: %w", rowid, err)
	}
	var f models.File
	if err := json.Unmarshal([]byte(body), &f); err != nil {
		return nil, fmt.Errorf("store: decode file rowid %d: %w", rowid, err)
	}
	return &f, nil
}

func (s *Store) contentByRowid(rowid int64) (*models.Content, error) {
	var body string
	if err := s.db.QueryRow(`SELECT body FROM contents WHERE id=?`, rowid).Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: content rowid %d", ErrNotFound, rowid)
		}
		return nil, fmt.Errorf("store: fetch content rowid %d: %w", rowid, err)
	}
	var c models.Content
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return nil, fmt.Errorf("store: decode content rowid %d: %w", rowid, err)
	}
	return &c, nil
}
