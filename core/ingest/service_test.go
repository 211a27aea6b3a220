package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"Melodex/config"
	"Melodex/core/cover"
	"Melodex/core/metadata"
	"Melodex/core/metadata/metadatatest"
	"Melodex/model"
	"Melodex/repository"
	"Melodex/repository/repositorytest"
	"Melodex/storage"
	"Melodex/storage/storagetest"
)

const testMaxSize = 15 << 20

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.State)
	}
	return out
}

type countingCache struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

// coverFailStore 只有封面写入失败
type coverFailStore struct {
	*storagetest.Store
}

func (s coverFailStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if strings.HasPrefix(key, "covers/") {
		return "", storagetest.ErrInjected
	}
	return s.Store.Put(ctx, key, data, contentType)
}

type fixture struct {
	svc    *Service
	store  *storagetest.Store
	repo   repository.SongRepository
	events *recorder
	cache  *countingCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storagetest.New()
	return newFixtureWithStore(t, store, store)
}

func newFixtureWithStore(t *testing.T, mem *storagetest.Store, store storage.AssetStore) *fixture {
	t.Helper()
	f := &fixture{
		store:  mem,
		repo:   repositorytest.NewSongRepository(t),
		events: &recorder{},
		cache:  &countingCache{},
	}
	f.svc = NewService(Deps{
		Extractor: metadata.NewExtractor(),
		Covers:    cover.NewResolver(store, config.DefaultCoverURL),
		Store:     store,
		Repo:      f.repo,
		Events:    f.events,
		Cache:     f.cache,
	}, testMaxSize)
	return f
}

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.tmp")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func flacUpload(t *testing.T, tags metadatatest.Tags, filename string) Upload {
	t.Helper()
	data := metadatatest.FLAC(t, tags)
	return Upload{
		TempPath:         writeTemp(t, data),
		OriginalFilename: filename,
		ContentType:      "audio/flac",
		Size:             int64(len(data)),
	}
}

func assertRemoved(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("temp file %s should be removed, stat err = %v", path, err)
	}
}

func TestIngestCompletesPipeline(t *testing.T) {
	f := newFixture(t)
	owner := "user-7"
	up := flacUpload(t, metadatatest.Tags{
		Title:     "Night Drive",
		Artist:    "The Band",
		Album:     "X",
		Genres:    []string{"Rock"},
		Composers: []string{"A", "B"},
		Picture:   metadatatest.PNG(t),
	}, "Night Drive.FLAC")
	up.OwnerID = &owner

	song, err := f.svc.Ingest(context.Background(), up)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if !regexp.MustCompile(`^song_[0-9a-f]{32}$`).MatchString(song.SongID) {
		t.Errorf("songId = %q", song.SongID)
	}
	if !song.Ready() {
		t.Fatal("completed song must have a fileUrl")
	}
	wantKey := "songs/" + song.SongID + ".flac"
	if *song.FileURL != storagetest.BaseURL+wantKey {
		t.Errorf("fileUrl = %q", *song.FileURL)
	}
	obj, ok := f.store.Get(wantKey)
	if !ok || obj.ContentType != "audio/flac" || int64(len(obj.Data)) != song.FileSize {
		t.Errorf("asset object = %+v, %v", obj.ContentType, ok)
	}
	if song.CoverImageURL != storagetest.BaseURL+"covers/"+song.SongID {
		t.Errorf("coverImageUrl = %q", song.CoverImageURL)
	}
	if !reflect.DeepEqual(song.Composer, model.StringList{"A", "B"}) {
		t.Errorf("composer = %v", song.Composer)
	}
	if song.OwnerID == nil || *song.OwnerID != owner {
		t.Errorf("ownerId = %v", song.OwnerID)
	}
	if song.OriginalFilename != "Night Drive.FLAC" {
		t.Errorf("originalFilename = %q", song.OriginalFilename)
	}

	want := []State{StateReceived, StateMetadataExtracted, StateRecordPersisted, StateAssetUploaded, StateComplete}
	if got := f.events.states(); !reflect.DeepEqual(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	if f.cache.calls == 0 {
		t.Error("corpus change should invalidate the recommendation cache")
	}
	assertRemoved(t, up.TempPath)
}

func TestIngestWithoutPictureUsesDefaultCover(t *testing.T) {
	f := newFixture(t)
	song, err := f.svc.Ingest(context.Background(), flacUpload(t, metadatatest.Tags{Title: "Plain"}, "plain.flac"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if song.CoverImageURL != config.DefaultCoverURL {
		t.Errorf("coverImageUrl = %q, want default", song.CoverImageURL)
	}
	if _, ok := f.store.Get("covers/" + song.SongID); ok {
		t.Error("no cover object should be written")
	}
	if f.store.Puts() != 1 || f.store.Len() != 1 {
		t.Errorf("puts = %d, objects = %d, want only the asset", f.store.Puts(), f.store.Len())
	}
	if !song.Ready() {
		t.Error("song should complete")
	}
}

func TestIngestAssignsDistinctSongIDs(t *testing.T) {
	f := newFixture(t)
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		song, err := f.svc.Ingest(context.Background(), flacUpload(t, metadatatest.Tags{Title: "Same"}, "same.flac"))
		if err != nil {
			t.Fatal(err)
		}
		if seen[song.SongID] {
			t.Fatalf("duplicate songId %s", song.SongID)
		}
		seen[song.SongID] = true
	}
}

func TestIngestValidation(t *testing.T) {
	cases := []struct {
		name   string
		upload func(t *testing.T) Upload
		tooBig bool
	}{
		{
			name:   "missing file",
			upload: func(t *testing.T) Upload { return Upload{OriginalFilename: "x.mp3", ContentType: "audio/mpeg"} },
		},
		{
			name: "not audio",
			upload: func(t *testing.T) Upload {
				return Upload{TempPath: writeTemp(t, []byte("%PDF-1.4")), OriginalFilename: "doc.pdf", ContentType: "application/pdf", Size: 8}
			},
		},
		{
			name: "sniffed as text",
			upload: func(t *testing.T) Upload {
				return Upload{TempPath: writeTemp(t, []byte("hello world")), OriginalFilename: "x", ContentType: "application/octet-stream"}
			},
		},
		{
			name: "oversize",
			upload: func(t *testing.T) Upload {
				return Upload{TempPath: writeTemp(t, []byte{0}), OriginalFilename: "big.mp3", ContentType: "audio/mpeg", Size: testMaxSize + 1}
			},
			tooBig: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			up := tc.upload(t)

			_, err := f.svc.Ingest(context.Background(), up)
			if !model.IsKind(err, model.KindValidation) {
				t.Fatalf("error = %v, want validation", err)
			}
			if tc.tooBig != errors.Is(err, model.ErrTooLarge) {
				t.Errorf("ErrTooLarge match = %v, want %v", !tc.tooBig, tc.tooBig)
			}
			songs, _ := f.repo.FindAll(context.Background())
			if len(songs) != 0 || f.store.Len() != 0 {
				t.Errorf("validation failure left side effects: %d songs, %d objects", len(songs), f.store.Len())
			}
			if up.TempPath != "" {
				assertRemoved(t, up.TempPath)
			}
			if got := f.events.states(); got[len(got)-1] != StateFailed {
				t.Errorf("last state = %v", got)
			}
		})
	}
}

func TestIngestSniffsUndeclaredAudio(t *testing.T) {
	f := newFixture(t)
	up := flacUpload(t, metadatatest.Tags{Title: "Sniffed"}, "sniffed.flac")
	up.ContentType = ""
	if _, err := f.svc.Ingest(context.Background(), up); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
}

func TestIngestParseFailure(t *testing.T) {
	f := newFixture(t)
	garbage := bytes.Repeat([]byte("not audio "), 10)
	up := Upload{TempPath: writeTemp(t, garbage), OriginalFilename: "broken.mp3", ContentType: "audio/mpeg", Size: int64(len(garbage))}

	_, err := f.svc.Ingest(context.Background(), up)
	if !model.IsKind(err, model.KindParse) {
		t.Fatalf("error = %v, want parse", err)
	}
	songs, _ := f.repo.FindAll(context.Background())
	if len(songs) != 0 || f.store.Puts() != 0 {
		t.Error("parse failure must not persist or upload anything")
	}
	assertRemoved(t, up.TempPath)
}

func TestIngestCoverFailureDegradesToDefault(t *testing.T) {
	mem := storagetest.New()
	f := newFixtureWithStore(t, mem, coverFailStore{mem})

	song, err := f.svc.Ingest(context.Background(), flacUpload(t, metadatatest.Tags{Picture: metadatatest.PNG(t)}, "pic.flac"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if song.CoverImageURL != config.DefaultCoverURL {
		t.Errorf("coverImageUrl = %q, want default", song.CoverImageURL)
	}
	if !song.Ready() {
		t.Error("song should still complete")
	}
}

func TestIngestStorageFailureLeavesRetryableRecord(t *testing.T) {
	f := newFixture(t)
	f.store.SetFail("put", true)
	tags := metadatatest.Tags{Title: "Partial"}

	_, err := f.svc.Ingest(context.Background(), flacUpload(t, tags, "partial.flac"))
	if !model.IsKind(err, model.KindStorage) {
		t.Fatalf("error = %v, want storage", err)
	}
	var songID string
	var kerr *model.Error
	if errors.As(err, &kerr) {
		songID = kerr.SongID
	}

	partial, err := f.svc.Get(context.Background(), songID)
	if err != nil {
		t.Fatalf("partial record lookup: %v", err)
	}
	if partial.Ready() {
		t.Fatal("partial record must not have a fileUrl")
	}
	wantStates := []State{StateReceived, StateMetadataExtracted, StateRecordPersisted, StateFailed}
	if got := f.events.states(); !reflect.DeepEqual(got, wantStates) {
		t.Errorf("states = %v", got)
	}

	f.store.SetFail("put", false)
	retried, err := f.svc.RetryAsset(context.Background(), songID, flacUpload(t, tags, "partial.flac"))
	if err != nil {
		t.Fatalf("RetryAsset() error = %v", err)
	}
	if !retried.Ready() || *retried.FileURL != storagetest.BaseURL+"songs/"+songID+".flac" {
		t.Errorf("retried fileUrl = %v", retried.FileURL)
	}

	again, err := f.svc.RetryAsset(context.Background(), songID, Upload{})
	if err != nil || again.SongID != songID {
		t.Errorf("retry of a complete song = %v, %v", again, err)
	}
}

func TestRetryAssetRejectsDifferentFile(t *testing.T) {
	f := newFixture(t)
	f.store.SetFail("put", true)
	_, err := f.svc.Ingest(context.Background(), flacUpload(t, metadatatest.Tags{Title: "A"}, "a.flac"))
	var kerr *model.Error
	if !errors.As(err, &kerr) {
		t.Fatal(err)
	}
	f.store.SetFail("put", false)

	other := flacUpload(t, metadatatest.Tags{Title: "A much longer title than before"}, "a.flac")
	if _, err := f.svc.RetryAsset(context.Background(), kerr.SongID, other); !model.IsKind(err, model.KindValidation) {
		t.Errorf("error = %v, want validation", err)
	}
}

func TestIngestCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	up := flacUpload(t, metadatatest.Tags{Title: "Cancelled"}, "c.flac")
	if _, err := f.svc.Ingest(ctx, up); !errors.Is(err, errCancelled) {
		t.Fatalf("error = %v, want cancellation", err)
	}
	songs, _ := f.repo.FindAll(context.Background())
	if len(songs) != 0 {
		t.Error("cancelled ingestion must not persist")
	}
	assertRemoved(t, up.TempPath)
}

func TestDeleteRemovesBlobsAndRecord(t *testing.T) {
	f := newFixture(t)
	song, err := f.svc.Ingest(context.Background(), flacUpload(t, metadatatest.Tags{Picture: metadatatest.PNG(t)}, "d.flac"))
	if err != nil {
		t.Fatal(err)
	}
	if f.store.Len() != 2 {
		t.Fatalf("objects = %d, want asset and cover", f.store.Len())
	}

	if err := f.svc.Delete(context.Background(), song.SongID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if f.store.Len() != 0 {
		t.Errorf("objects left = %d", f.store.Len())
	}
	if err := f.svc.Delete(context.Background(), song.SongID); !model.IsKind(err, model.KindNotFound) {
		t.Errorf("second delete = %v, want not found", err)
	}
}

func TestDeleteToleratesBlobFailures(t *testing.T) {
	f := newFixture(t)
	song, err := f.svc.Ingest(context.Background(), flacUpload(t, metadatatest.Tags{}, "e.flac"))
	if err != nil {
		t.Fatal(err)
	}
	f.store.SetFail("delete", true)

	if err := f.svc.Delete(context.Background(), strconv.FormatInt(song.ID, 10)); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := f.svc.Get(context.Background(), song.SongID); !model.IsKind(err, model.KindNotFound) {
		t.Errorf("record should be gone, got %v", err)
	}
}

func TestTagMutations(t *testing.T) {
	f := newFixture(t)
	song, err := f.svc.Ingest(context.Background(), flacUpload(t, metadatatest.Tags{}, "t.flac"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	got, err := f.svc.AddTags(ctx, song.SongID, []string{"chill", "night", "chill", " "})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Tags, model.StringList{"chill", "night"}) {
		t.Errorf("after add = %v", got.Tags)
	}

	got, err = f.svc.AddTags(ctx, song.SongID, []string{"night", "drive"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Tags, model.StringList{"chill", "night", "drive"}) {
		t.Errorf("after second add = %v", got.Tags)
	}

	got, err = f.svc.RemoveTags(ctx, song.SongID, []string{"chill", "absent"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Tags, model.StringList{"night", "drive"}) {
		t.Errorf("after remove = %v", got.Tags)
	}

	if _, err := f.svc.AddTags(ctx, "song_missing", []string{"x"}); !model.IsKind(err, model.KindNotFound) {
		t.Errorf("missing song = %v", err)
	}
}

func TestGetByNumericID(t *testing.T) {
	f := newFixture(t)
	song, err := f.svc.Ingest(context.Background(), flacUpload(t, metadatatest.Tags{}, "n.flac"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.Get(context.Background(), strconv.FormatInt(song.ID, 10))
	if err != nil || got.SongID != song.SongID {
		t.Errorf("Get(numeric) = %v, %v", got, err)
	}
	if _, err := f.svc.Get(context.Background(), ""); !model.IsKind(err, model.KindValidation) {
		t.Errorf("blank id = %v", err)
	}
}

func TestIllegalTransitionFailsRun(t *testing.T) {
	events := &recorder{}
	r := newRun(events, "x")

	err := r.advance(StateComplete)
	if !errors.Is(err, errIllegalTransition) {
		t.Fatalf("advance() = %v, want illegal transition", err)
	}
	if r.state != StateFailed {
		t.Errorf("state = %s, want failed", r.state)
	}
	want := []State{StateReceived, StateFailed}
	if got := events.states(); !reflect.DeepEqual(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	// 终态之后不能再前进
	if err := r.advance(StateMetadataExtracted); !errors.Is(err, errIllegalTransition) {
		t.Errorf("advance after failure = %v", err)
	}
}
