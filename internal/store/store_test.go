package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/nodegraph/internal/codec"
	"github.com/gyaneshwarpardhi/nodegraph/internal/config"
	"github.com/gyaneshwarpardhi/nodegraph/internal/store"
)

func sampleRecord(id string) codec.Record {
	return codec.Record{
		Version: codec.Version,
		Nodes: []codec.NodeRecord{{
			Type:     "source",
			ID:       id,
			Label:    "Src",
			Category: "input",
			Outputs:  []codec.AttributeRecord{{Label: "out", ID: id + "-out", Direction: "output"}},
		}},
		Connections: []codec.ConnectionRecord{},
	}
}

// exerciseStore runs the same contract against every implementation.
func exerciseStore(t *testing.T, s store.Store) {
	ctx := context.Background()

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "missing"), store.ErrNotFound)

	require.NoError(t, s.Save(ctx, "beta", sampleRecord("b")))
	require.NoError(t, s.Save(ctx, "alpha", sampleRecord("a")))
	require.NoError(t, s.Save(ctx, "alpha", sampleRecord("a2")))

	names, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)

	rec, err := s.Load(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, rec.Nodes, 1)
	assert.Equal(t, "a2", rec.Nodes[0].ID, "saving again overwrites")
	assert.Equal(t, "a2-out", rec.Nodes[0].Outputs[0].ID)

	require.NoError(t, s.Delete(ctx, "beta"))
	names, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, names)

	assert.Error(t, s.Save(ctx, "../escape", sampleRecord("x")))
	assert.Error(t, s.Save(ctx, "", sampleRecord("x")))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.List(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileStore(t *testing.T) {
	s, err := store.NewFileStore(t.TempDir(), codec.FormatYAML, nil)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestFileStore_ReadsAnyKnownFormat(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, codec.WriteFile(filepath.Join(dir, "legacy.json"), sampleRecord("j")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	s, err := store.NewFileStore(dir, codec.FormatYAML, nil)
	require.NoError(t, err)
	ctx := context.Background()

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy"}, names)

	rec, err := s.Load(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "j", rec.Nodes[0].ID)

	// Re-saving converts the record to the store's format.
	require.NoError(t, s.Save(ctx, "legacy", rec))
	_, err = os.Stat(filepath.Join(dir, "legacy.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "legacy.yaml"))
	assert.NoError(t, err)
}

func TestFileStore_Watch(t *testing.T) {
	s, err := store.NewFileStore(t.TempDir(), codec.FormatJSON, nil)
	require.NoError(t, err)

	changed := make(chan string, 8)
	stop, err := s.Watch(func(name string) {
		select {
		case changed <- name:
		default:
		}
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, s.Save(context.Background(), "watched", sampleRecord("w")))
	select {
	case name := <-changed:
		assert.Equal(t, "watched", name)
	case <-time.After(5 * time.Second):
		t.Fatal("store change not observed")
	}
}

func TestFileStore_WatchStopIsIdempotent(t *testing.T) {
	s, err := store.NewFileStore(t.TempDir(), codec.FormatYAML, nil)
	require.NoError(t, err)
	stop, err := s.Watch(func(string) {})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		stop()
		stop()
	})
}

func TestBadgerStore(t *testing.T) {
	s, err := store.OpenBadger(store.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestBadgerStore_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := store.OpenBadger(store.BadgerConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "kept", sampleRecord("k")))
	require.NoError(t, s.Close())

	s, err = store.OpenBadger(store.BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Load(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, "k", rec.Nodes[0].ID)
}

func TestOpen(t *testing.T) {
	s, err := store.Open(config.StoreConf{Driver: "badger", InMemory: true}, nil)
	require.NoError(t, err)
	assert.IsType(t, &store.BadgerStore{}, s)
	require.NoError(t, s.Close())

	s, err = store.Open(config.StoreConf{Driver: "file", Path: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &store.FileStore{}, s)

	_, err = store.Open(config.StoreConf{Driver: "etcd"}, nil)
	assert.Error(t, err)
}

func TestLoadConfigured(t *testing.T) {
	ctx := context.Background()
	s, err := store.OpenBadger(store.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	_, err = store.LoadConfigured(ctx, config.GraphConf{Name: "default"}, s)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Save(ctx, "default", sampleRecord("stored")))
	rec, err := store.LoadConfigured(ctx, config.GraphConf{Name: "default"}, s)
	require.NoError(t, err)
	assert.Equal(t, "stored", rec.Nodes[0].ID)

	// A file path wins over the store; the format may override the extension.
	path := filepath.Join(t.TempDir(), "graph.txt")
	data, err := codec.Marshal(sampleRecord("file"), codec.FormatYAML)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	rec, err = store.LoadConfigured(ctx, config.GraphConf{Name: "default", Path: path, Format: "yaml"}, s)
	require.NoError(t, err)
	assert.Equal(t, "file", rec.Nodes[0].ID)
}
