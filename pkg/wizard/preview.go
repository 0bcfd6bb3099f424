package wizard

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/osvaldoandrade/felanmalan/pkg/domain"
)

// PreviewHandle identifies a rendered preview of one draft image.
type PreviewHandle string

// Previewer creates and releases image previews. Only a Session calls it.
type Previewer interface {
	Create(img domain.Upload) PreviewHandle
	Revoke(h PreviewHandle)
}

// PreviewRegistry is an in-memory Previewer that tracks live handles.
type PreviewRegistry struct {
	mu   sync.Mutex
	seq  atomic.Uint64
	live map[PreviewHandle]domain.Upload
}

func NewPreviewRegistry() *PreviewRegistry {
	return &PreviewRegistry{live: make(map[PreviewHandle]domain.Upload)}
}

func (r *PreviewRegistry) Create(img domain.Upload) PreviewHandle {
	h := PreviewHandle(fmt.Sprintf("preview:%d:%s", r.seq.Add(1), img.FileName))
	r.mu.Lock()
	r.live[h] = img
	r.mu.Unlock()
	return h
}

func (r *PreviewRegistry) Revoke(h PreviewHandle) {
	r.mu.Lock()
	delete(r.live, h)
	r.mu.Unlock()
}

// Live returns the number of handles not yet revoked.
func (r *PreviewRegistry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Get returns the image behind a live handle.
func (r *PreviewRegistry) Get(h PreviewHandle) (domain.Upload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.live[h]
	return img, ok
}
