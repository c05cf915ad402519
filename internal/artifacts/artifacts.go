// Package artifacts stores the JSON bodies referenced by
// MonitoringMetric.DriftArtifactRef and RetrainingDecision.EvaluationArtifactRef:
// the full per-feature drift test statistics and the full replay evaluation
// breakdown that are too large for a single table column. Content-addressed
// by SHA-256 of the body under the configured directory, following the same
// file-plus-digest idiom as internal/baseline.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"sentryml/internal/apperrors"
)

// Store writes and reads artifact bodies under a root directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Put marshals body to JSON, writes it under a content-addressed filename,
// and returns the reference string to store in E4/E5 (the digest).
func (s *Store) Put(ctx context.Context, body interface{}) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal artifact body: %w", err)
	}
	sum := sha256.Sum256(data)
	ref := hex.EncodeToString(sum[:])
	path := s.path(ref)

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", apperrors.NewTransientStorageError("artifacts.Put", err)
	}
	return ref, nil
}

// Get reads and unmarshals the artifact body referenced by ref into out.
func (s *Store) Get(ctx context.Context, ref string, out interface{}) error {
	data, err := os.ReadFile(s.path(ref))
	if err != nil {
		return apperrors.NewTransientStorageError("artifacts.Get", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.NewIntegrityError(ref, fmt.Sprintf("artifact body is not valid JSON: %v", err))
	}
	return nil
}

func (s *Store) path(ref string) string {
	return filepath.Join(s.dir, ref+".json")
}
