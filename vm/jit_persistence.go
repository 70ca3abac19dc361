package vm

import (
	"bytes"
	"database/sql"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"

	_ "modernc.org/sqlite"
)

// ---------------------------------------------------------------------------
// Artifact persistence
// ---------------------------------------------------------------------------

// PersistenceMode selects how the engine records compiled artifacts across
// runs. The record is an index of what was hot, not the machine code
// itself: a later run can warm up by resubmitting the indexed methods.
type PersistenceMode int

const (
	// PersistenceNone disables persistence.
	PersistenceNone PersistenceMode = iota

	// PersistenceArchive writes one lz4-compressed CBOR file at Finish.
	PersistenceArchive

	// PersistenceIndex records artifacts in a sqlite database at Finish,
	// accumulating across runs keyed by generation.
	PersistenceIndex
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ArtifactRecord describes one successfully loaded unit.
type ArtifactRecord struct {
	UnitID     int    `cbor:"id"`
	Label      string `cbor:"label"`
	TotalCalls uint64 `cbor:"calls"`
}

// Archive is the on-disk shape of PersistenceArchive.
type Archive struct {
	Generation string           `cbor:"generation"`
	SavedAt    int64            `cbor:"saved_at"`
	Records    []ArtifactRecord `cbor:"records"`
}

// ArtifactStore accumulates records during a run and writes them out once
// at Finish. Each run gets a fresh generation id.
type ArtifactStore struct {
	mode       PersistenceMode
	path       string
	generation string

	mu      sync.Mutex
	records []ArtifactRecord

	db *sql.DB // PersistenceIndex only
}

// NewArtifactStore creates a store for the given mode. For
// PersistenceIndex the database is opened (and its schema ensured) up
// front so a bad path fails at init rather than at Finish.
func NewArtifactStore(mode PersistenceMode, path string) (*ArtifactStore, error) {
	if mode == PersistenceNone {
		return nil, fmt.Errorf("artifact store: no persistence mode selected")
	}
	if path == "" {
		return nil, fmt.Errorf("artifact store: no path configured")
	}

	s := &ArtifactStore{
		mode:       mode,
		path:       path,
		generation: uuid.NewString(),
	}

	if mode == PersistenceIndex {
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("artifact store: open index: %w", err)
		}
		if _, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS jit_artifacts (
				generation  TEXT    NOT NULL,
				unit_id     INTEGER NOT NULL,
				label       TEXT    NOT NULL,
				total_calls INTEGER NOT NULL,
				saved_at    INTEGER NOT NULL
			)`); err != nil {
			db.Close()
			return nil, fmt.Errorf("artifact store: create schema: %w", err)
		}
		s.db = db
	}

	return s, nil
}

// Generation returns the store's generation id for this run.
func (s *ArtifactStore) Generation() string {
	return s.generation
}

// Record notes a successfully loaded unit. Called from the worker.
func (s *ArtifactStore) Record(unitID int, label string, totalCalls uint64) {
	s.mu.Lock()
	s.records = append(s.records, ArtifactRecord{
		UnitID:     unitID,
		Label:      label,
		TotalCalls: totalCalls,
	})
	s.mu.Unlock()
}

// Len returns the number of records accumulated so far.
func (s *ArtifactStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Flush writes the accumulated records out.
func (s *ArtifactStore) Flush() error {
	s.mu.Lock()
	records := make([]ArtifactRecord, len(s.records))
	copy(records, s.records)
	s.mu.Unlock()

	switch s.mode {
	case PersistenceArchive:
		return s.flushArchive(records)
	case PersistenceIndex:
		return s.flushIndex(records)
	}
	return nil
}

// Close releases the store's resources. Flush is not implied.
func (s *ArtifactStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

func (s *ArtifactStore) flushArchive(records []ArtifactRecord) error {
	raw, err := cborEncMode.Marshal(&Archive{
		Generation: s.generation,
		SavedAt:    time.Now().Unix(),
		Records:    records,
	})
	if err != nil {
		return fmt.Errorf("artifact store: marshal archive: %w", err)
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return fmt.Errorf("artifact store: compress archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("artifact store: compress archive: %w", err)
	}

	if err := os.WriteFile(s.path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("artifact store: write archive: %w", err)
	}
	return nil
}

func (s *ArtifactStore) flushIndex(records []ArtifactRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("artifact store: begin: %w", err)
	}
	now := time.Now().Unix()
	for _, r := range records {
		if _, err := tx.Exec(
			`INSERT INTO jit_artifacts (generation, unit_id, label, total_calls, saved_at)
			 VALUES (?, ?, ?, ?, ?)`,
			s.generation, r.UnitID, r.Label, r.TotalCalls, now,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("artifact store: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("artifact store: commit: %w", err)
	}
	return nil
}

// ReadArchive loads an archive written by PersistenceArchive.
func ReadArchive(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("artifact store: read archive: %w", err)
	}
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("artifact store: decompress archive: %w", err)
	}
	var a Archive
	if err := cbor.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("artifact store: unmarshal archive: %w", err)
	}
	return &a, nil
}

// ReadIndex loads every record of the given generation from a sqlite index
// written by PersistenceIndex. An empty generation loads all records.
func ReadIndex(path, generation string) ([]ArtifactRecord, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("artifact store: open index: %w", err)
	}
	defer db.Close()

	query := `SELECT unit_id, label, total_calls FROM jit_artifacts`
	var args []any
	if generation != "" {
		query += ` WHERE generation = ?`
		args = append(args, generation)
	}
	query += ` ORDER BY unit_id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("artifact store: query index: %w", err)
	}
	defer rows.Close()

	var out []ArtifactRecord
	for rows.Next() {
		var r ArtifactRecord
		if err := rows.Scan(&r.UnitID, &r.Label, &r.TotalCalls); err != nil {
			return nil, fmt.Errorf("artifact store: scan index: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
