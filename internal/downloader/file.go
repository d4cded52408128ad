package downloader

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// outputFile is the file every segment of a transfer writes into. Writes
// are positioned (pwrite) so segments never share a cursor; the lock only
// keeps Close from racing in-flight writes.
type outputFile struct {
	path string

	mu sync.RWMutex
	f  *os.File
}

func openOutputFile(path string) (*outputFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create target dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return &outputFile{path: path, f: f}, nil
}

func (o *outputFile) WriteAt(p []byte, off int64) (int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.f == nil {
		return 0, os.ErrClosed
	}
	return o.f.WriteAt(p, off)
}

// Close syncs and closes the file. It is safe to call more than once.
func (o *outputFile) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.f == nil {
		return nil
	}
	syncErr := o.f.Sync()
	closeErr := o.f.Close()
	o.f = nil
	if syncErr != nil {
		return fmt.Errorf("sync output file: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close output file: %w", closeErr)
	}
	return nil
}

// uniquePath returns path, or name-(N).ext when path is taken.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	for index := 1; ; index++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
