package object

import (
	"strings"
	"testing"
)

func TestHashObjectLength(t *testing.T) {
	h := HashObject(TypeBlob, []byte("hello"))
	if len(h) != HashLen {
		t.Fatalf("len(hash) = %d, want %d", len(h), HashLen)
	}
	if h != HashObject(TypeBlob, []byte("hello")) {
		t.Error("HashObject not deterministic")
	}
	if h == HashObject(TypeCommit, []byte("hello")) {
		t.Error("hash ignores object type")
	}
}

func TestParseHash(t *testing.T) {
	valid := "4b825dc642cb6eb9a060e54bf8d69288fbee4904"
	h, err := ParseHash(valid)
	if err != nil {
		t.Fatalf("ParseHash(%q): %v", valid, err)
	}
	if string(h) != valid {
		t.Errorf("ParseHash = %q, want %q", h, valid)
	}

	invalid := []string{
		"",
		"4b825d",
		strings.Repeat("g", HashLen),
		strings.ToUpper(valid),
		valid + "00",
	}
	for _, s := range invalid {
		if _, err := ParseHash(s); err == nil {
			t.Errorf("ParseHash(%q) succeeded, want error", s)
		}
	}
}
