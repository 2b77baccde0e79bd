package cleanup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// maxSuffix bounds the collision search.
const maxSuffix = 10000

// MoveError reports a failed relocation of one file.
type MoveError struct {
	Source string
	Dest   string
	Err    error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("move %s to %s: %v", e.Source, e.Dest, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }

// ErrDestinationExists is returned when a restore target is occupied.
var ErrDestinationExists = errors.New("destination already exists")

// reserve claims dest by creating an empty placeholder exclusively. With
// disambiguate set, an occupied dest is retried as name.1.jsonl, name.2.jsonl
// and so on; otherwise it fails with ErrDestinationExists.
func reserve(dest string, disambiguate bool) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}
	for i := 0; i <= maxSuffix; i++ {
		candidate := dest
		if i > 0 {
			candidate = withSuffix(dest, i)
		}
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			if err := f.Close(); err != nil {
				_ = os.Remove(candidate)
				return "", err
			}
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		if !disambiguate {
			return "", ErrDestinationExists
		}
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", dest, maxSuffix)
}

// withSuffix inserts .n before the .jsonl part of the file name, or appends
// it when there is none.
func withSuffix(path string, n int) string {
	dir, name := filepath.Split(path)
	suffix := "." + strconv.Itoa(n)
	if idx := strings.Index(name, ".jsonl"); idx > 0 {
		return dir + name[:idx] + suffix + name[idx:]
	}
	return dir + name + suffix
}

// relocate moves src onto the reserved path dst, replacing the placeholder.
// A cross-device rename falls back to copy, rename into place, then remove
// the source. If the source cannot be removed the copy is discarded so the
// session exists in exactly one place.
func relocate(src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is not a regular file", src)
	}

	err = os.Rename(src, dst)
	if err == nil {
		return info.Size(), nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return 0, err
	}

	if err := copyInto(src, dst, info); err != nil {
		return 0, fmt.Errorf("copy across devices: %w", err)
	}
	if err := os.Remove(src); err != nil {
		_ = os.Remove(dst)
		return 0, fmt.Errorf("remove source after copy: %w", err)
	}
	return info.Size(), nil
}

func copyInto(src, dst string, info fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".clawdscan-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	n, err := io.Copy(tmp, in)
	if err == nil && n != info.Size() {
		err = fmt.Errorf("short copy: %d of %d bytes", n, info.Size())
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return err
	}
	if err := os.Chtimes(tmpName, info.ModTime(), info.ModTime()); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m := k.locks[key]
	if m == nil {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
