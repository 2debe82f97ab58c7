package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"recall254/go-core/internal/keyerr"
	"recall254/go-core/internal/securestore"
	"recall254/go-core/pkg/models"
)

// Saver hands a finished artifact to the platform (a file, a browser
// download, a clipboard). It returns where the data ended up.
type Saver interface {
	Save(name string, data []byte) (string, error)
}

// DirSaver writes artifacts into Dir with owner-only permissions.
type DirSaver struct {
	Dir string
}

func (s DirSaver) Save(name string, data []byte) (string, error) {
	dir := strings.TrimSpace(s.Dir)
	if dir == "" {
		return "", errors.New("backup directory is required")
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid backup file name %q", name)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := securestore.WritePrivateFile(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func FileName(b *models.KeyBackup) string {
	return "recall254-key-backup-" + b.KeyVersion + ".json"
}

// DownloadKeyBackup serializes b as JSON and hands it to saver.
func DownloadKeyBackup(b *models.KeyBackup, saver Saver) (string, error) {
	raw, err := Marshal(b)
	if err != nil {
		return "", err
	}
	if saver == nil {
		return "", keyerr.StorageFailure(keyerr.OpBackup, errors.New("no saver configured"))
	}
	location, err := saver.Save(FileName(b), raw)
	if err != nil {
		return "", keyerr.StorageFailure(keyerr.OpBackup, err)
	}
	return location, nil
}
