package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"recall254/go-core/internal/securestore"
	"recall254/go-core/pkg/models"
)

const recordFileName = "keyrecord.json"

type fileEnvelope struct {
	Namespace string            `json:"namespace"`
	Record    *models.KeyRecord `json:"record"`
}

// FileStore keeps the record as JSON in dataDir/keyrecord.json.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(dataDir string) (*FileStore, error) {
	dataDir = strings.TrimSpace(dataDir)
	if dataDir == "" {
		return nil, errors.New("keystore: data dir is required")
	}
	if err := securestore.EnsurePrivateDir(dataDir); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{path: filepath.Join(dataDir, recordFileName)}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (*models.KeyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read key record: %w", err)
	}
	var env fileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode key record: %w", err)
	}
	if env.Namespace != Namespace {
		return nil, fmt.Errorf("decode key record: unexpected namespace %q", env.Namespace)
	}
	if env.Record == nil {
		return nil, ErrNotFound
	}
	return env.Record, nil
}

func (s *FileStore) Save(ctx context.Context, rec *models.KeyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return errors.New("keystore: nil record")
	}
	raw, err := json.MarshalIndent(fileEnvelope{Namespace: Namespace, Record: rec}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode key record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return securestore.WritePrivateFile(s.path, raw)
}

func (s *FileStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove key record: %w", err)
	}
	return nil
}
