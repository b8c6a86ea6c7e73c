package tombstone

import "testing"

func TestRoots_Resolve(t *testing.T) {
	roots := Roots{Local: "/local", Cloud: "/cloud", Remote: "remote:"}

	m, ok := roots.Resolve("/local/Movies/X.mkv_HIDDEN~")
	if !ok {
		t.Fatal("expected marker to resolve")
	}
	if m.Rel != "/Movies/X.mkv" {
		t.Errorf("rel = %q", m.Rel)
	}
	if m.CloudPath != "/cloud/Movies/X.mkv" {
		t.Errorf("cloud path = %q", m.CloudPath)
	}
	if m.RemotePath != "remote:/Movies/X.mkv" {
		t.Errorf("remote path = %q", m.RemotePath)
	}
}

func TestRoots_Resolve_ExactSuffix(t *testing.T) {
	roots := Roots{Local: "/local", Cloud: "/cloud", Remote: "remote:"}

	// A character-set trim would eat the trailing "N" and "E" as well.
	m, ok := roots.Resolve("/local/NONE_HIDDEN~")
	if !ok {
		t.Fatal("expected marker to resolve")
	}
	if m.CloudPath != "/cloud/NONE" {
		t.Errorf("cloud path = %q, want /cloud/NONE", m.CloudPath)
	}
}

func TestRoots_Resolve_TrailingSlashes(t *testing.T) {
	roots := Roots{Local: "/local/", Cloud: "/cloud/", Remote: "gdrive:/Media/"}

	m, ok := roots.Resolve("/local/TV/a.mkv_HIDDEN~")
	if !ok {
		t.Fatal("expected marker to resolve")
	}
	if m.CloudPath != "/cloud/TV/a.mkv" || m.RemotePath != "gdrive:/Media/TV/a.mkv" {
		t.Errorf("got %+v", m)
	}
}

func TestRoots_Resolve_Rejects(t *testing.T) {
	roots := Roots{Local: "/local", Cloud: "/cloud", Remote: "remote:"}

	for _, path := range []string{
		"/local/Movies/X.mkv",
		"/other/Movies/X.mkv_HIDDEN~",
		"/localx/X.mkv_HIDDEN~",
		"/local/_HIDDEN~",
		"_HIDDEN~",
	} {
		if _, ok := roots.Resolve(path); ok {
			t.Errorf("Resolve(%q) accepted", path)
		}
	}
}
