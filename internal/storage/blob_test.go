package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/media/")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	name, err := store.Store([]byte("fake-png"), "image/png")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if !strings.HasSuffix(name, ".png") {
		t.Errorf("name = %q, want .png suffix", name)
	}
	if got := store.URLFor(name); got != "/media/"+name {
		t.Errorf("url = %q, want /media/%s", got, name)
	}
	if store.URLFor("") != "" {
		t.Error("empty path should map to empty url")
	}

	data, err := os.ReadFile(filepath.Join(store.root, name))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "fake-png" {
		t.Errorf("content = %q", data)
	}

	if err := store.Delete(name); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// 删除不存在的路径视为成功
	if err := store.Delete(name); err != nil {
		t.Errorf("double delete: %v", err)
	}
}

func TestContentTypeWhitelist(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, err := store.Store([]byte("x"), "image/gif"); err == nil {
		t.Error("gif accepted, want rejection")
	}
	if AllowedContentType("image/gif") {
		t.Error("gif in whitelist")
	}
	for _, ct := range []string{"image/jpeg", "image/png", "image/webp"} {
		if !AllowedContentType(ct) {
			t.Errorf("%s rejected", ct)
		}
	}
}
