package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// readJSON best-effort reads path into out; a missing file is not an error.
func readJSON(path string, out any) error {
	b, err := readFile(path)
	if err != nil {
		return err
	}
	if b == nil { // file didn’t exist
		return nil
	}
	return json.Unmarshal(b, out)
}

// readFile reads the file at path into b; a missing file is not an error.
func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// writeJSON writes JSON via a temp file then rename.
func writeJSON(path string, v any, mode os.FileMode) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, b, mode)
}

// removeIfExists deletes path; an absent file is not an error.
func removeIfExists(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// stagedFile is one pending file replacement prepared for commitStaged.
type stagedFile struct {
	path string
	data []byte
	mode os.FileMode
}

// stageJSON marshals v into a staged replacement for path.
func stageJSON(path string, v any, mode os.FileMode) (stagedFile, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return stagedFile{}, err
	}
	return stagedFile{path: path, data: b, mode: mode}, nil
}

// commitStaged replaces every staged target together. All temp files
// are written and every target checked replaceable before the first
// rename, so an error leaves the originals untouched.
func commitStaged(files []stagedFile) error {
	tmps := make([]string, len(files))
	defer func() {
		for _, tmp := range tmps {
			if tmp != "" {
				_ = os.Remove(tmp)
			}
		}
	}()

	for i, sf := range files {
		if fi, err := os.Stat(sf.path); err == nil && fi.IsDir() {
			return errors.New("store: cannot replace directory " + sf.path)
		}
		f, err := os.CreateTemp(filepath.Dir(sf.path), filepath.Base(sf.path)+".tmp-*")
		if err != nil {
			return err
		}
		tmps[i] = f.Name()
		if _, err := f.Write(sf.data); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Chmod(sf.mode); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	for i, sf := range files {
		if err := os.Rename(tmps[i], sf.path); err != nil {
			return err
		}
		tmps[i] = ""
	}
	return nil
}

// writeFile writes bytes via a temp file, then atomically replaces the target.
func writeFile(path string, b []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	f, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	// Best-effort cleanup if anything fails before rename.
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
