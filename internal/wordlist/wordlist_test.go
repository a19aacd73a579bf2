package wordlist

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeList(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "list.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDeduplication(t *testing.T) {
	entries, err := Load(writeList(t, "admin\nadmin\nlogin\nadmin\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !slices.Equal(entries, []string{"admin", "login"}) {
		t.Errorf("got %v", entries)
	}
}

func TestLoadSkipsComments(t *testing.T) {
	entries, err := Load(writeList(t, "# comment\nadmin\n\n  # another\n  login  \r\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !slices.Equal(entries, []string{"admin", "login"}) {
		t.Errorf("expected comments/blanks skipped, got %v", entries)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadURLs(t *testing.T) {
	urls, err := LoadURLs(writeList(t, "example.com\nhttps://secure.example\nhttp://plain.example:8080\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"http://example.com", "https://secure.example", "http://plain.example:8080"}
	if !slices.Equal(urls, want) {
		t.Errorf("got %v, want %v", urls, want)
	}
}

func TestExpandExtensions(t *testing.T) {
	got := ExpandExtensions([]string{"admin", "index.%EXT%", "login"}, []string{"php", ".html"}, false)
	want := []string{"admin", "index.php", "index.html", "index", "login"}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExpandForceExtensions(t *testing.T) {
	got := ExpandExtensions([]string{"admin", "login"}, []string{"php"}, true)
	want := []string{"admin", "admin.php", "login", "login.php"}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExpandWithoutExtensionsIsIdentity(t *testing.T) {
	in := []string{"a", "b"}
	if got := ExpandExtensions(in, nil, true); !slices.Equal(got, in) {
		t.Errorf("got %v", got)
	}
}
