package pipeline

import "sync"

// inflight remembers qc units that are queued or running so periodic scans
// do not submit the same file twice.
type inflight struct {
	mu    sync.Mutex
	files map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{files: make(map[string]struct{})}
}

// add records fileID and reports false if it was already tracked.
func (f *inflight) add(fileID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[fileID]; ok {
		return false
	}
	f.files[fileID] = struct{}{}
	return true
}

func (f *inflight) remove(fileID string) {
	f.mu.Lock()
	delete(f.files, fileID)
	f.mu.Unlock()
}
