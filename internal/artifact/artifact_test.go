package artifact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/conneroisu/pagegraph/internal/liquid"
)

type owner struct {
	blob []byte
	memo Memo
}

func (o *owner) Blob() []byte        { return o.blob }
func (o *owner) SetBlob(blob []byte) { o.blob = blob }
func (o *owner) ArtifactMemo() *Memo { return &o.memo }

func sample(text string) *liquid.Template {
	return &liquid.Template{
		Version: liquid.FormatVersion,
		Nodes: []liquid.Node{
			{Kind: liquid.NodeText, Value: text},
			{Kind: liquid.NodeBlock, Value: "body", Body: []liquid.Node{{Kind: liquid.NodeVariable, Value: "page.title", Filters: []string{"upcase"}}}},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	tmpl := sample("Hello")
	blob, err := Encode(tmpl)
	require.NoError(t, err)

	again, err := Encode(sample("Hello"))
	require.NoError(t, err)
	assert.Equal(t, blob, again)

	decoded, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, tmpl, decoded)

	_, err = Encode(nil)
	assert.Error(t, err)
}

func TestDecodeRejectsBadBlobs(t *testing.T) {
	_, err := Decode(nil)
	assert.Error(t, err)

	_, err = Decode([]byte{0xc1, 0x00})
	assert.Error(t, err)

	old := sample("x")
	old.Version = liquid.FormatVersion + 1
	blob, err := msgpack.Marshal(old)
	require.NoError(t, err)
	_, err = Decode(blob)
	assert.Error(t, err)
}

func TestCacheGetIsMemoized(t *testing.T) {
	blob, err := Encode(sample("Hello"))
	require.NoError(t, err)

	cache := NewCache(nil)
	o := &owner{blob: blob}

	first, ok := cache.Get(o)
	require.True(t, ok)
	assert.True(t, o.memo.computed)

	// a later blob change is invisible until the memo is reset
	o.blob = nil
	second, ok := cache.Get(o)
	require.True(t, ok)
	assert.Same(t, first, second)

	o.memo.Reset()
	_, ok = cache.Get(o)
	assert.False(t, ok)
}

func TestCacheGetMissingOrCorrupt(t *testing.T) {
	cache := NewCache(nil)

	tmpl, ok := cache.Get(&owner{})
	assert.False(t, ok)
	assert.Nil(t, tmpl)

	corrupt := &owner{blob: []byte("not msgpack")}
	tmpl, ok = cache.Get(corrupt)
	assert.False(t, ok)
	assert.Nil(t, tmpl)
	assert.True(t, corrupt.memo.computed)
}

func TestCacheSet(t *testing.T) {
	cache := NewCache(nil)
	o := &owner{}

	_, ok := cache.Get(o)
	require.False(t, ok)

	tmpl := sample("Hi")
	require.NoError(t, cache.Set(o, tmpl))
	assert.NotEmpty(t, o.blob)

	got, ok := cache.Get(o)
	require.True(t, ok)
	assert.Same(t, tmpl, got)

	before := append([]byte(nil), o.blob...)
	assert.Error(t, cache.Set(o, nil))
	assert.Equal(t, before, o.blob)
}

func TestSharedCacheAcrossOwners(t *testing.T) {
	shared := NewSharedCache(1<<20, time.Hour)
	cache := NewCache(shared)

	blob, err := Encode(sample("Hello"))
	require.NoError(t, err)

	a := &owner{blob: blob}
	b := &owner{blob: append([]byte(nil), blob...)}

	first, ok := cache.Get(a)
	require.True(t, ok)
	second, ok := cache.Get(b)
	require.True(t, ok)
	assert.Same(t, first, second)

	stats := shared.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate(), 0.0001)
	assert.Same(t, shared, cache.Shared())
}

func TestSharedCacheEviction(t *testing.T) {
	shared := NewSharedCache(10, 0)
	shared.Put("a", []byte("aaaa"), sample("a"))
	shared.Put("b", []byte("bbbb"), sample("b"))

	_, ok := shared.Get("a", []byte("aaaa"))
	require.True(t, ok)

	shared.Put("c", []byte("cccc"), sample("c"))
	_, ok = shared.Get("b", []byte("bbbb"))
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = shared.Get("a", []byte("aaaa"))
	assert.True(t, ok)

	shared.Put("huge", make([]byte, 100), sample("h"))
	_, ok = shared.Get("huge", make([]byte, 100))
	assert.False(t, ok)

	stats := shared.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(8), stats.Size)
	assert.Equal(t, int64(10), stats.MaxSize)
}

func TestSharedCacheTTL(t *testing.T) {
	shared := NewSharedCache(100, time.Millisecond)
	shared.Put("a", []byte("a"), sample("a"))
	time.Sleep(5 * time.Millisecond)

	_, ok := shared.Get("a", []byte("a"))
	assert.False(t, ok)
	assert.Zero(t, shared.Stats().Entries)
}

func TestSharedCacheRequiresMatchingBlob(t *testing.T) {
	shared := NewSharedCache(1<<20, 0)
	shared.Put("k", []byte("first"), sample("first"))

	_, ok := shared.Get("k", []byte("second"))
	assert.False(t, ok, "a different blob under the same key is a miss")

	got, ok := shared.Get("k", []byte("first"))
	require.True(t, ok)
	assert.Equal(t, "first", got.Nodes[0].Value)
}

func TestCacheGetIgnoresEntryOfOtherBlobUnderSameKey(t *testing.T) {
	shared := NewSharedCache(1<<20, 0)
	cache := NewCache(shared)

	firstBlob, err := Encode(sample("first page"))
	require.NoError(t, err)
	secondBlob, err := Encode(sample("second page"))
	require.NoError(t, err)

	// the first page's tree sits where the second page's blob hashes to
	shared.Put(Checksum(secondBlob), firstBlob, sample("first page"))

	got, ok := cache.Get(&owner{blob: secondBlob})
	require.True(t, ok)
	assert.Equal(t, "second page", got.Nodes[0].Value)

	// the entry now belongs to the second blob
	again, ok := cache.Get(&owner{blob: secondBlob})
	require.True(t, ok)
	assert.Same(t, got, again)
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, Checksum([]byte("abc")), Checksum([]byte("abc")))
	assert.NotEqual(t, Checksum([]byte("abc")), Checksum([]byte("abd")))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Checksum([]byte("abc")))
}
