package artifact

import (
	"github.com/conneroisu/pagegraph/internal/liquid"
)

// Memo is the per-instance decode result of an owner's blob. The zero value
// means "not computed yet"; once computed, template is nil when the blob was
// missing or unreadable.
type Memo struct {
	computed bool
	template *liquid.Template
}

// Reset forgets the memoized value.
func (m *Memo) Reset() {
	m.computed = false
	m.template = nil
}

func (m *Memo) store(tmpl *liquid.Template) {
	m.computed = true
	m.template = tmpl
}

// Owner is an entity that owns a compiled-template blob.
type Owner interface {
	Blob() []byte
	SetBlob(blob []byte)
	ArtifactMemo() *Memo
}

// Cache reads and writes compiled templates through their owners.
type Cache struct {
	shared *SharedCache
}

// NewCache creates a cache. shared may be nil to rely on per-owner memos only.
func NewCache(shared *SharedCache) *Cache {
	return &Cache{shared: shared}
}

// Shared returns the process-wide decoded template cache, if any.
func (c *Cache) Shared() *SharedCache {
	return c.shared
}

// Get returns the owner's compiled template, decoding the blob on first
// access. It reports false when the blob is missing or cannot be decoded.
func (c *Cache) Get(owner Owner) (*liquid.Template, bool) {
	memo := owner.ArtifactMemo()
	if memo.computed {
		return memo.template, memo.template != nil
	}

	blob := owner.Blob()
	if len(blob) == 0 {
		memo.store(nil)
		return nil, false
	}

	var key string
	if c.shared != nil {
		key = Checksum(blob)
		if tmpl, ok := c.shared.Get(key, blob); ok {
			memo.store(tmpl)
			return tmpl, true
		}
	}

	tmpl, err := Decode(blob)
	if err != nil {
		memo.store(nil)
		return nil, false
	}

	if c.shared != nil {
		c.shared.Put(key, blob, tmpl)
	}
	memo.store(tmpl)
	return tmpl, true
}

// Set encodes tmpl and stores it as the owner's blob, replacing any previous
// blob and memo. The owner is left untouched when encoding fails.
func (c *Cache) Set(owner Owner, tmpl *liquid.Template) error {
	blob, err := Encode(tmpl)
	if err != nil {
		return err
	}

	owner.SetBlob(blob)
	memo := owner.ArtifactMemo()
	memo.Reset()
	memo.store(tmpl)

	if c.shared != nil {
		c.shared.Put(Checksum(blob), blob, tmpl)
	}
	return nil
}
