package history

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fede/whisperaloud/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := config.PersistenceConfig{
		DBPath:     filepath.Join(dir, "history.db"),
		MaxEntries: 0,
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store, err := Open(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestInsertAndGetByID(t *testing.T) {
	store := newTestStore(t)
	id, isNew, err := store.Insert(context.Background(), Entry{Text: "hello world", Language: "en"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !isNew {
		t.Fatal("expected first insert to report new audio")
	}

	entry, err := store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry == nil || entry.Text != "hello world" {
		t.Fatalf("expected entry to round-trip, got %+v", entry)
	}
}

func TestInsertDedupesByAudioHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, new1, err := store.Insert(ctx, Entry{Text: "first", AudioHash: "abc123", AudioPath: "/archive/abc123.wav"})
	if err != nil || !new1 {
		t.Fatalf("first insert: err=%v new=%v", err, new1)
	}

	id2, new2, err := store.Insert(ctx, Entry{Text: "second", AudioHash: "abc123", AudioPath: "should-be-ignored"})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if new2 {
		t.Fatal("expected duplicate audio hash to report newAudio=false")
	}

	e2, err := store.GetByID(ctx, id2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e2.AudioPath != "/archive/abc123.wav" {
		t.Fatalf("expected dedup to reuse existing audio path, got %q", e2.AudioPath)
	}
	if id1 == id2 {
		t.Fatal("expected distinct entry rows even when audio is deduplicated")
	}
}

func TestDeleteReleasesAudioOnLastReference(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, _, _ := store.Insert(ctx, Entry{Text: "a", AudioHash: "h1", AudioPath: "/archive/h1.wav"})
	id2, _, _ := store.Insert(ctx, Entry{Text: "b", AudioHash: "h1", AudioPath: "/archive/h1.wav"})

	released, deleted, err := store.Delete(ctx, id1)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to succeed")
	}
	if released != "" {
		t.Fatalf("expected no release while second reference remains, got %q", released)
	}

	released, deleted, err = store.Delete(ctx, id2)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted || released != "/archive/h1.wav" {
		t.Fatalf("expected final delete to release audio path, got deleted=%v released=%q", deleted, released)
	}
}

func TestSearchMatchesFullText(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	store.Insert(ctx, Entry{Text: "the quick brown fox"})
	store.Insert(ctx, Entry{Text: "lazy dog sleeps"})

	results, err := store.Search(ctx, "fox", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || !strings.Contains(results[0].Text, "fox") {
		t.Fatalf("expected one fox match, got %+v", results)
	}
}

func TestToggleFavorite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id, _, _ := store.Insert(ctx, Entry{Text: "favorite me"})

	fav, err := store.ToggleFavorite(ctx, id)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !fav {
		t.Fatal("expected toggled favorite to be true")
	}

	favorites, err := store.GetFavorites(ctx, 10)
	if err != nil {
		t.Fatalf("get favorites: %v", err)
	}
	if len(favorites) != 1 {
		t.Fatalf("expected one favorite, got %d", len(favorites))
	}

	fav, err = store.ToggleFavorite(ctx, id)
	if err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	if fav {
		t.Fatal("expected second toggle to clear favorite")
	}
}

func TestPruneByMaxEntries(t *testing.T) {
	dir := t.TempDir()
	cfg := config.PersistenceConfig{DBPath: filepath.Join(dir, "history.db"), MaxEntries: 2}
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store, err := Open(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, _, err := store.Insert(ctx, Entry{Text: "entry"}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := store.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	entries, err := store.List(ctx, 100, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected prune to leave max_entries=2, got %d", len(entries))
	}
}

func TestHashSamplesIsDeterministic(t *testing.T) {
	samples := []float32{0.1, -0.2, 0.3, 0}
	if HashSamples(samples) != HashSamples(samples) {
		t.Fatal("expected identical samples to hash identically")
	}
	if HashSamples(samples) == HashSamples([]float32{0.1, -0.2, 0.3, 0.1}) {
		t.Fatal("expected different samples to hash differently")
	}
}

func TestArchiverSaveUncompressed(t *testing.T) {
	dir := t.TempDir()
	a := &Archiver{baseDir: dir, compress: false}
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = 0.1
	}

	hash := HashSamples(samples)
	path, err := a.Save(hash, samples, 16000, time.Now())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected archive file to exist: %v", err)
	}
	if !strings.HasSuffix(path, ".wav") {
		t.Fatalf("expected .wav extension, got %s", path)
	}
}

func TestExportFormats(t *testing.T) {
	entries := []Entry{{ID: 1, Text: "hello", Tags: []string{"a"}}}

	var jsonBuf, mdBuf, csvBuf, textBuf bytes.Buffer
	if err := Export(entries, FormatJSON, &jsonBuf); err != nil {
		t.Fatalf("json export: %v", err)
	}
	if !strings.Contains(jsonBuf.String(), "hello") {
		t.Fatal("expected json export to contain text")
	}
	if err := Export(entries, FormatMarkdown, &mdBuf); err != nil {
		t.Fatalf("markdown export: %v", err)
	}
	if err := Export(entries, FormatCSV, &csvBuf); err != nil {
		t.Fatalf("csv export: %v", err)
	}
	if err := Export(entries, FormatText, &textBuf); err != nil {
		t.Fatalf("text export: %v", err)
	}
	if err := Export(entries, Format("bogus"), &textBuf); err == nil {
		t.Fatal("expected unknown format to error")
	}
}
