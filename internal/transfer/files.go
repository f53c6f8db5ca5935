package transfer

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lanshare/internal/models"
)

const maxNameAttempts = 5

// StoredName builds {epochMillis}-{random}-{original}.
func StoredName(original string, now time.Time) string {
	return fmt.Sprintf("%d-%d-%s", now.UnixMilli(), rand.IntN(1e9), original)
}

// createStored opens a new file under dir with a unique stored name. O_EXCL
// turns the rare timestamp+random collision into a retry instead of an overwrite.
func createStored(dir, original string) (*os.File, string, error) {
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := StoredName(original, time.Now())
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no unique name for %q after %d attempts", original, maxNameAttempts)
}

func cleanName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}

// ListFiles returns the regular files directly under dir. It is recomputed on every call.
func ListFiles(dir string) ([]models.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]models.FileInfo, 0, len(entries))
	for _, e := range entries {
		// os.Stat follows symlinks so links to regular files are listed
		info, err := os.Stat(filepath.Join(dir, e.Name()))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, models.FileInfo{
			Name:         e.Name(),
			Path:         filepath.Join(dir, e.Name()),
			Size:         info.Size(),
			LastModified: models.FormatTime(info.ModTime()),
		})
	}
	return files, nil
}
