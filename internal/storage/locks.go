package storage

import (
	"sync"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
)

// datasetLocks serializes writers per dataset type. Writers to different dataset types
// proceed in parallel.
type datasetLocks struct {
	mu    sync.Mutex
	locks map[dataset.Type]*sync.Mutex
}

func newDatasetLocks() *datasetLocks {
	return &datasetLocks{locks: make(map[dataset.Type]*sync.Mutex)}
}

// lock acquires the writer lock of dt and returns its release function.
func (l *datasetLocks) lock(dt dataset.Type) func() {
	l.mu.Lock()

	m, ok := l.locks[dt]
	if !ok {
		m = &sync.Mutex{}
		l.locks[dt] = m
	}

	l.mu.Unlock()

	m.Lock()

	return m.Unlock
}
