package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFormatSize(t *testing.T) {
	cases := map[int64]string{
		512:             "512 B",
		2048:            "2.00 KB",
		5 * 1024 * 1024: "5.00 MB",
	}
	for in, want := range cases {
		if got := FormatSize(in); got != want {
			t.Errorf("FormatSize(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestUniqueFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "song.mp3")
	if got := UniqueFilename(path); got != path {
		t.Fatalf("UniqueFilename on free path = %q", got)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if got, want := UniqueFilename(path), filepath.Join(dir, "song (1).mp3"); got != want {
		t.Fatalf("UniqueFilename = %q, want %q", got, want)
	}
}

func TestSafeFilename(t *testing.T) {
	cases := map[string]string{
		"Artist - Song":  "Artist - Song",
		"../../etc/pass": "_.._etc_pass",
		"a/b\\c:d":       "a_b_c_d",
		"   ":            "track",
		"..":             "track",
	}
	for in, want := range cases {
		if got := SafeFilename(in); got != want {
			t.Errorf("SafeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTruncateString(t *testing.T) {
	if got := TruncateString("abcdef", 4); got != "abc…" {
		t.Fatalf("TruncateString = %q", got)
	}
	if got := TruncateString("abc", 4); got != "abc" {
		t.Fatalf("TruncateString = %q", got)
	}
}

func TestLooksLikeTunnel(t *testing.T) {
	for _, name := range []string{"wg0", "tun1", "CloudflareWARP", "utun3"} {
		if !looksLikeTunnel(name) {
			t.Errorf("looksLikeTunnel(%q) = false", name)
		}
	}
	for _, name := range []string{"eth0", "en0", "wlan0"} {
		if looksLikeTunnel(name) {
			t.Errorf("looksLikeTunnel(%q) = true", name)
		}
	}
}
