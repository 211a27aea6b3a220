package cache

import (
	"context"
	"testing"
	"time"

	"Melodex/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestCache(t *testing.T) (*RecommendCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRecommendCache(client, time.Minute), mr
}

func TestRecommendCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	v, err := c.Version(ctx)
	if err != nil || v != 0 {
		t.Fatalf("initial version = %d, %v", v, err)
	}

	if _, ok, err := c.Get(ctx, v, "song_a"); ok || err != nil {
		t.Fatalf("empty cache hit = %v, %v", ok, err)
	}

	results := []model.Scored{{Song: &model.Song{SongID: "song_b", Title: "B"}, Score: 2.5}}
	if err := c.Set(ctx, v, "song_a", results); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists(ResultKey(0, "song_a")) {
		t.Fatal("result key missing")
	}
	if ttl := mr.TTL(ResultKey(0, "song_a")); ttl != time.Minute {
		t.Errorf("ttl = %v", ttl)
	}

	got, ok, err := c.Get(ctx, v, "song_a")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if len(got) != 1 || got[0].Song.SongID != "song_b" || got[0].Score != 2.5 {
		t.Errorf("got %+v", got)
	}
}

func TestRecommendCacheInvalidateBumpsVersion(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	if err := c.Set(ctx, 0, "song_a", nil); err != nil {
		t.Fatal(err)
	}
	if err := c.Invalidate(ctx); err != nil {
		t.Fatal(err)
	}
	v, err := c.Version(ctx)
	if err != nil || v != 1 {
		t.Fatalf("version = %d, %v", v, err)
	}
	if _, ok, _ := c.Get(ctx, v, "song_a"); ok {
		t.Error("entries of the previous version must not be visible")
	}
}

func TestRecommendCacheCorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	if err := mr.Set(ResultKey(0, "song_a"), "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.Get(ctx, 0, "song_a"); ok || err != nil {
		t.Errorf("corrupt entry = %v, %v; want miss", ok, err)
	}
}

func TestRecommendCacheUnavailable(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	mr.Close()

	if _, err := c.Version(ctx); err == nil {
		t.Error("Version() should fail when redis is down")
	}
	if err := c.Invalidate(ctx); err == nil {
		t.Error("Invalidate() should fail when redis is down")
	}
}
