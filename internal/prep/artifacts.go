package prep

import (
	"errors"
	"io/fs"
	"os"
	"slices"
	"sync"
)

// Artifacts records intermediate files created during a run. The pipeline only
// appends; deleting them is up to the caller.
type Artifacts struct {
	mu    sync.Mutex
	paths []string
}

// Append records path once.
func (a *Artifacts) Append(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !slices.Contains(a.paths, path) {
		a.paths = append(a.paths, path)
	}
}

// AppendModel records a saved model and its external data file, if one exists.
func (a *Artifacts) AppendModel(path string) {
	a.Append(path)
	if st, err := os.Stat(path + ".data"); err == nil && st.Mode().IsRegular() {
		a.Append(path + ".data")
	}
}

// Paths returns the recorded paths in creation order.
func (a *Artifacts) Paths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.paths)
}

// Cleanup removes every recorded file. Files that are already gone are ignored.
func (a *Artifacts) Cleanup() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for _, p := range a.paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	a.paths = nil
	return errors.Join(errs...)
}
