package gallery

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// albumLocks serializes album cascade deletes against ingestion and photo
// deletes in the same album. Ingests share the lock with each other.
type albumLocks struct {
	m cmap.ConcurrentMap[string, *sync.RWMutex]
}

func newAlbumLocks() *albumLocks {
	return &albumLocks{m: cmap.New[*sync.RWMutex]()}
}

func (l *albumLocks) get(albumID string) *sync.RWMutex {
	return l.m.Upsert(albumID, nil, func(exist bool, old, _ *sync.RWMutex) *sync.RWMutex {
		if exist {
			return old
		}
		return &sync.RWMutex{}
	})
}

func (l *albumLocks) shared(albumID string) (unlock func()) {
	mu := l.get(albumID)
	mu.RLock()
	return mu.RUnlock
}

func (l *albumLocks) exclusive(albumID string) (unlock func()) {
	mu := l.get(albumID)
	mu.Lock()
	return mu.Unlock
}

// forget drops the lock entry of a deleted album. Waiters holding the old
// mutex still observe the album as gone once they acquire it.
func (l *albumLocks) forget(albumID string) {
	l.m.Remove(albumID)
}
