// Package fsx holds the crash-safe write primitives: every write goes to a
// same-directory temporary file first and is moved onto its target with a
// single rename, so readers observe either the old or the new content.
package fsx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// Replaceable in tests to simulate rename failures.
var renameFunc = os.Rename

const filePerm = 0o644

// TempPattern returns the os.CreateTemp pattern used for staging name. The
// leading dot keeps staged files out of directory listings in the UI.
func TempPattern(name string) string {
	return "." + name + ".tmp-*"
}

// WriteFileAtomic replaces path with data.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := stage(path, func(w io.Writer) error {
		return writeAll(w, data)
	})
	if err != nil {
		return err
	}
	return commit(tmp, path)
}

// WriteStreamAtomic copies r into path. Nothing is visible at path until the
// whole stream was written.
func WriteStreamAtomic(path string, r io.Reader) (int64, error) {
	var n int64
	tmp, err := stage(path, func(w io.Writer) error {
		var err error
		n, err = io.Copy(w, r)
		return err
	})
	if err != nil {
		return 0, err
	}
	if err := commit(tmp, path); err != nil {
		return 0, err
	}
	return n, nil
}

// stage writes the payload into a temporary sibling of path and returns its
// name. On failure the temporary file is removed.
func stage(path string, write func(io.Writer) error) (string, error) {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, TempPattern(name))
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := write(tmp); err != nil {
		return "", err
	}
	if err := tmp.Chmod(filePerm); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	ok = true
	return tmpName, nil
}

// commit renames tmp onto path, removing tmp if the rename fails.
func commit(tmp, path string) error {
	if err := renameFunc(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	_ = syncDirBestEffort(filepath.Dir(path))
	return nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
