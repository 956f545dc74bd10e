package sidecar

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"videoLabeler/storage/fsx"
)

// ErrMigrationConflict is returned when a legacy queue and its jsonl
// replacement both exist.
var ErrMigrationConflict = errors.New("legacy sidecar and jsonl sidecar both exist")

// FindLegacy lists the newline-delimited *.unlabeled files under dataDir.
func FindLegacy(dataDir string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.HasSuffix(d.Name(), LegacySuffix) && d.Name() != LegacySuffix {
			found = append(found, path)
		}
		return nil
	})
	return found, err
}

// MigrateLegacy converts every legacy *.unlabeled queue under dataDir into
// the jsonl format and removes the legacy file. Each file is converted
// independently; the first error is returned after all files were tried.
func MigrateLegacy(dataDir string, logger *zap.Logger) (int, error) {
	legacy, err := FindLegacy(dataDir)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", dataDir, err)
	}

	migrated := 0
	var firstErr error
	for _, path := range legacy {
		if err := migrateOne(path); err != nil {
			logger.Error("Failed to migrate legacy sidecar",
				zap.String("path", path),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		migrated++
		logger.Info("Migrated legacy sidecar", zap.String("path", path))
	}
	return migrated, firstErr
}

func migrateOne(legacyPath string) error {
	target := legacyPath + ".jsonl"
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("%w: %s", ErrMigrationConflict, target)
	}

	data, err := os.ReadFile(legacyPath)
	if err != nil {
		return err
	}

	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entries = append(entries, Entry{FramePath: line})
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	out, err := Encode(entries)
	if err != nil {
		return err
	}
	if err := fsx.WriteFileAtomic(target, out); err != nil {
		return err
	}
	return os.Remove(legacyPath)
}
