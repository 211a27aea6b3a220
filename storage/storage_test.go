package storage

import (
	"testing"

	"Melodex/config"
)

type urlOnlyStore struct{ AssetStore }

func (urlOnlyStore) PublicURL(key string) string { return "http://assets.test/melodex/" + key }

func TestKeys(t *testing.T) {
	if got := SongKey("song_abc", ".MP3"); got != "songs/song_abc.mp3" {
		t.Errorf("SongKey = %q", got)
	}
	if got := CoverKey("song_abc"); got != "covers/song_abc" {
		t.Errorf("CoverKey = %q", got)
	}
}

func TestMinioStorePublicURL(t *testing.T) {
	cfg := &config.Config{MinioEndpoint: "127.0.0.1:9000", MinioBucket: "melodex"}
	s := NewMinioStore(nil, cfg)
	if got := s.PublicURL("songs/a.mp3"); got != "http://127.0.0.1:9000/melodex/songs/a.mp3" {
		t.Errorf("PublicURL = %q", got)
	}

	cfg.MinioPublicURL = "https://cdn.example.com/"
	cfg.MinioUseSSL = true
	s = NewMinioStore(nil, cfg)
	if got := s.PublicURL("/covers/x"); got != "https://cdn.example.com/melodex/covers/x" {
		t.Errorf("PublicURL = %q", got)
	}
}

func TestKeyFromURL(t *testing.T) {
	store := urlOnlyStore{}
	url := store.PublicURL("songs/song_1.flac")
	if got := KeyFromURL(store, url); got != "songs/song_1.flac" {
		t.Errorf("KeyFromURL = %q", got)
	}
	if got := KeyFromURL(store, "https://elsewhere/x"); got != "" {
		t.Errorf("foreign url should not map to a key, got %q", got)
	}
}

func TestFormatSize(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{15 << 20, "15.0 MB"},
		{3 << 30, "3.0 GB"},
	}
	for _, tc := range cases {
		if got := formatSize(tc.in); got != tc.want {
			t.Errorf("formatSize(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := topPrefix("covers/song_1"); got != "covers" {
		t.Errorf("topPrefix = %q", got)
	}
}
