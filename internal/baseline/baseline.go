// Package baseline implements C1, the reference baseline store. The
// baseline itself is a JSON file at a configured path; a small SQLite
// manifest (github.com/mattn/go-sqlite3) records reference_id ->
// content_digest so Load can verify integrity without a Postgres round
// trip, and an fsnotify watcher invalidates the in-memory cache the
// instant the backing file changes on disk. Grounded on the teacher's
// config-loading convention of reading a file once and caching the
// parsed result (internal/config/config.go Load), generalized here to a
// file store with change detection instead of a one-shot boot read.
package baseline

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	_ "github.com/mattn/go-sqlite3"

	"sentryml/internal/apperrors"
	"sentryml/internal/models"
	"sentryml/internal/observability"
)

// Store is C1's implementation: a JSON baseline file plus a SQLite digest
// manifest, with an in-memory cache invalidated on file change.
type Store struct {
	baselinePath string
	manifestDB   *sql.DB
	logger       *observability.Logger
	watcher      *fsnotify.Watcher

	mu       sync.RWMutex
	cached   *models.ReferenceBaseline
	cachedOK bool
}

// Open opens (creating if absent) the SQLite manifest at manifestPath and
// starts watching baselinePath for changes. Callers must call Close.
func Open(manifestPath, baselinePath string, logger *observability.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", manifestPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	const ddl = `CREATE TABLE IF NOT EXISTS reference_manifest (
		reference_id TEXT PRIMARY KEY,
		content_digest TEXT NOT NULL,
		row_count INTEGER NOT NULL
	)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create manifest table: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(baselinePath); err != nil {
		if logger != nil {
			logger.WithComponent("baseline").WithError(err).Warn("watch baseline file: not yet present")
		}
	}

	s := &Store{
		baselinePath: baselinePath,
		manifestDB:   db,
		logger:       logger,
		watcher:      watcher,
	}
	go s.watchLoop()
	return s, nil
}

// Close releases the manifest database and file watcher.
func (s *Store) Close() error {
	s.watcher.Close()
	return s.manifestDB.Close()
}

func (s *Store) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.invalidate()
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.cachedOK = false
	s.mu.Unlock()
	if s.logger != nil {
		s.logger.WithComponent("baseline").Info("reference baseline file changed, cache invalidated")
	}
}

// canonicalDigest computes a SHA-256 digest over the baseline's feature
// schema and rows in a fixed, sorted order so the digest is reproducible
// independent of map/slice iteration order or JSON field ordering.
func canonicalDigest(b *models.ReferenceBaseline) string {
	h := sha256.New()
	schema := make([]string, len(b.FeatureSchema))
	for i, c := range b.FeatureSchema {
		schema[i] = fmt.Sprintf("%s:%s", c.Name, c.SemanticType)
	}
	sort.Strings(schema)
	fmt.Fprintf(h, "schema|%s\n", strings.Join(schema, ","))

	rows := make([]models.FeatureRow, len(b.Rows))
	copy(rows, b.Rows)
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowKey < rows[j].RowKey })
	for _, r := range rows {
		keys := make([]string, 0, len(r.Values))
		for k := range r.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(h, "row|%s", r.RowKey)
		for _, k := range keys {
			fmt.Fprintf(h, "|%s=%v", k, r.Values[k])
		}
		labelKeys := make([]string, 0, len(r.Labels))
		for k := range r.Labels {
			labelKeys = append(labelKeys, k)
		}
		sort.Strings(labelKeys)
		for _, k := range labelKeys {
			fmt.Fprintf(h, "|%s=%s", k, r.Labels[k])
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Bootstrap computes the canonical digest of b, writes it to the baseline
// JSON file, and records it in the SQLite manifest. It is a one-shot
// operation: if a baseline file already exists it fails without touching
// it. This is the only operation permitted to write the baseline on disk;
// Load never mutates it.
func (s *Store) Bootstrap(ctx context.Context, b models.ReferenceBaseline) error {
	if _, err := os.Stat(s.baselinePath); err == nil {
		return fmt.Errorf("bootstrap: reference baseline already exists at %s", s.baselinePath)
	}
	b.ContentDigest = canonicalDigest(&b)
	b.RowCount = len(b.Rows)

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}
	if err := os.WriteFile(s.baselinePath, data, 0o644); err != nil {
		return apperrors.NewTransientStorageError("Bootstrap.writeFile", err)
	}

	_, err = s.manifestDB.ExecContext(ctx,
		`INSERT INTO reference_manifest (reference_id, content_digest, row_count)
		 VALUES (?, ?, ?)
		 ON CONFLICT(reference_id) DO UPDATE SET content_digest = excluded.content_digest, row_count = excluded.row_count`,
		b.ReferenceID, b.ContentDigest, b.RowCount,
	)
	if err != nil {
		return apperrors.NewTransientStorageError("Bootstrap.manifest", err)
	}

	s.invalidate()
	_ = s.watcher.Add(s.baselinePath)
	return nil
}

// Load returns the cached baseline if present and verified, otherwise reads
// the baseline file from disk, recomputes its digest, and compares it
// against the manifest entry for referenceID. A mismatch returns an
// IntegrityError and never caches the result.
func (s *Store) Load(ctx context.Context, referenceID string) (*models.ReferenceBaseline, error) {
	s.mu.RLock()
	if s.cachedOK && s.cached != nil && s.cached.ReferenceID == referenceID {
		b := *s.cached
		s.mu.RUnlock()
		return &b, nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(s.baselinePath)
	if err != nil {
		return nil, apperrors.NewTransientStorageError("Load.readFile", err)
	}
	var b models.ReferenceBaseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, apperrors.NewIntegrityError(referenceID, fmt.Sprintf("baseline file is not valid JSON: %v", err))
	}
	if b.ReferenceID != referenceID {
		return nil, apperrors.NewIntegrityError(referenceID, "baseline file reference_id does not match requested id")
	}

	var manifestDigest string
	row := s.manifestDB.QueryRowContext(ctx,
		`SELECT content_digest FROM reference_manifest WHERE reference_id = ?`, referenceID)
	if err := row.Scan(&manifestDigest); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewIntegrityError(referenceID, "no manifest entry for reference_id")
		}
		return nil, apperrors.NewTransientStorageError("Load.manifestLookup", err)
	}

	recomputed := canonicalDigest(&b)
	if recomputed != manifestDigest || recomputed != b.ContentDigest {
		return nil, apperrors.NewIntegrityError(referenceID, "content digest mismatch between file, its own header, and manifest")
	}

	s.mu.Lock()
	cp := b
	s.cached = &cp
	s.cachedOK = true
	s.mu.Unlock()

	return &b, nil
}
