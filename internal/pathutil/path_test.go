package pathutil

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestClean(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`textures\x.dds`, "textures/x.dds"},
		{"/meshes//a.nif", "meshes/a.nif"},
		{"a/./b", "a/b"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBaseAndExt(t *testing.T) {
	if got := Base("a/b/C.DDS"); got != "C.DDS" {
		t.Errorf("Base = %q", got)
	}
	if got := Base(""); got != "." {
		t.Errorf("Base(\"\") = %q", got)
	}
	if got := Ext("a/b/C.DDS"); got != ".dds" {
		t.Errorf("Ext = %q", got)
	}
}

func TestHasPrefixFold(t *testing.T) {
	if !HasPrefixFold("Mods/Foo/a.esp", "mods/foo") {
		t.Error("expected case-insensitive match")
	}
	if HasPrefixFold("mods/foobar/a.esp", "mods/foo") {
		t.Error("sibling directory must not match")
	}
	if !HasPrefixFold("anything", "") {
		t.Error("empty dir matches everything")
	}
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()

	got, err := SafeJoin(root, `textures\x.dds`)
	if err != nil {
		t.Fatalf("SafeJoin: %v", err)
	}
	if want := filepath.Join(root, "textures", "x.dds"); got != want {
		t.Errorf("SafeJoin = %q, want %q", got, want)
	}

	for _, bad := range []string{"../evil", "a/../../evil", "/etc/passwd", `..\evil`, ""} {
		if _, err := SafeJoin(root, bad); !errors.Is(err, ErrEscapesRoot) {
			t.Errorf("SafeJoin(%q) error = %v, want ErrEscapesRoot", bad, err)
		}
	}
}
