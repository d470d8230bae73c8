package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "created", EventTypeCreated.String())
	assert.Equal(t, "renamed", EventTypeRenamed.String())
	assert.Equal(t, "unknown", EventType(42).String())
}

func TestFilters(t *testing.T) {
	liquid := ExtensionFilter(".liquid")
	assert.True(t, liquid("templates/index.liquid"))
	assert.True(t, liquid("templates/INDEX.LIQUID"))
	assert.False(t, liquid("templates/index.html"))

	ignore := IgnoreFilter(".git", "node_modules", "*.swp")
	assert.True(t, ignore("templates/index.liquid"))
	assert.False(t, ignore("templates/.git/HEAD"))
	assert.False(t, ignore("node_modules/x/index.liquid"))
	assert.False(t, ignore("templates/.index.liquid.swp"))
}

func TestDebouncerMergesEventsPerPath(t *testing.T) {
	d := &Debouncer{
		delay:  time.Hour,
		events: make(chan ChangeEvent, 10),
		output: make(chan []ChangeEvent, 1),
	}

	d.addEvent(ChangeEvent{Type: EventTypeCreated, Path: "b.liquid"})
	d.addEvent(ChangeEvent{Type: EventTypeModified, Path: "a.liquid"})
	d.addEvent(ChangeEvent{Type: EventTypeModified, Path: "b.liquid"})
	d.timer.Stop()
	d.flush()

	batch := <-d.output
	require.Len(t, batch, 2)
	assert.Equal(t, "a.liquid", batch[0].Path)
	assert.Equal(t, "b.liquid", batch[1].Path)
	assert.Equal(t, EventTypeModified, batch[1].Type)
	assert.Empty(t, d.pending)

	// nothing pending, nothing sent
	d.flush()
	assert.Empty(t, d.output)
}

func TestFileWatcherDeliversDebouncedBatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "blog"), 0o755))

	fw, err := NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	fw.AddFilter(ExtensionFilter(".liquid"))
	batches := make(chan []ChangeEvent, 10)
	fw.AddHandler(func(_ context.Context, events []ChangeEvent) error {
		batches <- events
		return nil
	})
	require.NoError(t, fw.AddRecursive(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))

	post := filepath.Join(dir, "blog", "post.liquid")
	require.NoError(t, os.WriteFile(post, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(post, []byte("ab"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	select {
	case batch := <-batches:
		require.Len(t, batch, 1)
		assert.Equal(t, post, batch[0].Path)
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch delivered")
	}
}

func TestFileWatcherFollowsNewDirectories(t *testing.T) {
	dir := t.TempDir()

	fw, err := NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	fw.AddFilter(ExtensionFilter(".liquid"))
	batches := make(chan []ChangeEvent, 10)
	fw.AddHandler(func(_ context.Context, events []ChangeEvent) error {
		batches <- events
		return nil
	})
	require.NoError(t, fw.AddRecursive(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))

	sub := filepath.Join(dir, "docs")
	require.NoError(t, os.Mkdir(sub, 0o755))
	page := filepath.Join(sub, "guide.liquid")

	// the new directory is added asynchronously; keep touching the file
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case batch := <-batches:
			for _, e := range batch {
				if e.Path == page {
					return
				}
			}
		case <-tick.C:
			require.NoError(t, os.WriteFile(page, []byte(time.Now().String()), 0o644))
		case <-deadline:
			t.Fatal("change in new directory not delivered")
		}
	}
}
