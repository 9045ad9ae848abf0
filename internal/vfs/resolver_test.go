package vfs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

// newTestResolver creates a root with a small tree and a sibling directory
// outside the root:
//
//	<base>/root/a/c/
//	<base>/root/docs/readme.md
//	<base>/outside/secret.txt
func newTestResolver(t *testing.T) (*Resolver, string) {
	t.Helper()

	base := t.TempDir()
	root := filepath.Join(base, "root")
	for _, dir := range []string{
		filepath.Join(root, "a", "c"),
		filepath.Join(root, "docs"),
		filepath.Join(base, "outside"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("failed to create %s: %v", dir, err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "docs", "readme.md"), []byte("# docs"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "outside", "secret.txt"), []byte("secret"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	r, err := NewResolver(root)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	return r, filepath.Dir(r.Root())
}

func TestNewResolver_InvalidRoot(t *testing.T) {
	tmp := t.TempDir()
	file := filepath.Join(tmp, "file.txt")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	tests := []struct {
		name string
		root string
	}{
		{"empty", ""},
		{"missing", filepath.Join(tmp, "missing")},
		{"not a directory", file},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewResolver(tt.root); !errors.Is(err, types.ErrInvalidRoot) {
				t.Errorf("NewResolver(%q) error = %v, want ErrInvalidRoot", tt.root, err)
			}
		})
	}
}

func TestResolver_Resolve_ExistingPaths(t *testing.T) {
	r, _ := newTestResolver(t)
	root := r.Root()

	tests := []struct {
		requested string
		want      string
	}{
		{"/", root},
		{"", root},
		{"/docs/readme.md", filepath.Join(root, "docs", "readme.md")},
		{"docs/readme.md", filepath.Join(root, "docs", "readme.md")},
		{"/a/./c", filepath.Join(root, "a", "c")},
		{"/a/c/../../docs", filepath.Join(root, "docs")},
	}

	for _, tt := range tests {
		t.Run(tt.requested, func(t *testing.T) {
			got, err := r.Resolve(tt.requested)
			if err != nil {
				t.Fatalf("Resolve(%q) failed: %v", tt.requested, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.requested, got, tt.want)
			}
		})
	}
}

func TestResolver_Resolve_Escapes(t *testing.T) {
	r, base := newTestResolver(t)

	if err := os.Symlink(filepath.Join(base, "outside"), filepath.Join(r.Root(), "out-link")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	if err := os.Symlink(filepath.Join(base, "outside", "nope.txt"), filepath.Join(r.Root(), "dangling")); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	tests := []string{
		"/../etc/passwd",
		"/..",
		"../outside/secret.txt",
		"/a/../../outside/secret.txt",
		"/out-link",
		"/out-link/secret.txt",
		"/out-link/new-file.txt",
		"/dangling",
	}

	for _, requested := range tests {
		t.Run(requested, func(t *testing.T) {
			got, err := r.Resolve(requested)
			if !errors.Is(err, types.ErrPermissionDenied) {
				t.Fatalf("Resolve(%q) = %q, %v; want PermissionDenied", requested, got, err)
			}
			if types.CodeOf(err) != types.StatusPermissionDenied {
				t.Errorf("expected status permission denied, got %v", types.CodeOf(err))
			}
		})
	}
}

func TestResolver_Resolve_NotYetExisting(t *testing.T) {
	r, _ := newTestResolver(t)

	got, err := r.Resolve("/notes.txt")
	if err != nil {
		t.Fatalf("Resolve of a new file in the root failed: %v", err)
	}
	if want := filepath.Join(r.Root(), "notes.txt"); got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}

	got, err = r.Resolve("/a/c/new.bin")
	if err != nil {
		t.Fatalf("Resolve of a new file in a subdirectory failed: %v", err)
	}
	if want := filepath.Join(r.Root(), "a", "c", "new.bin"); got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolver_Resolve_DanglingInsideRoot(t *testing.T) {
	r, base := newTestResolver(t)
	root := r.Root()

	links := map[string]string{
		"later":     filepath.Join(root, "later.txt"),
		"rel-later": "docs/later.md",
		"chain":     "later",
		"via-dir":   filepath.Join(root, "a", "c", "new.bin"),
		"chain-out": "escape",
		"escape":    filepath.Join(base, "outside", "nope.txt"),
		"rel-out":   "../outside/nope.txt",
	}
	for name, target := range links {
		if err := os.Symlink(target, filepath.Join(root, name)); err != nil {
			t.Skipf("symlinks not supported: %v", err)
		}
	}

	tests := []struct {
		requested string
		want      string
	}{
		{"/later", filepath.Join(root, "later.txt")},
		{"/rel-later", filepath.Join(root, "docs", "later.md")},
		{"/chain", filepath.Join(root, "later.txt")},
		{"/via-dir", filepath.Join(root, "a", "c", "new.bin")},
	}
	for _, tt := range tests {
		t.Run(tt.requested, func(t *testing.T) {
			got, err := r.Resolve(tt.requested)
			if err != nil {
				t.Fatalf("Resolve(%q) failed: %v", tt.requested, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.requested, got, tt.want)
			}
		})
	}

	for _, requested := range []string{"/chain-out", "/escape", "/rel-out"} {
		t.Run(requested, func(t *testing.T) {
			if _, err := r.Resolve(requested); !errors.Is(err, types.ErrPermissionDenied) {
				t.Errorf("Resolve(%q) error = %v, want PermissionDenied", requested, err)
			}
		})
	}
}

func TestResolver_Resolve_SymlinkLoop(t *testing.T) {
	r, _ := newTestResolver(t)
	if err := os.Symlink("loop-b", filepath.Join(r.Root(), "loop-a")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	if err := os.Symlink("loop-a", filepath.Join(r.Root(), "loop-b")); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	_, err := r.Resolve("/loop-a")
	if err == nil {
		t.Fatal("expected a symlink loop to fail")
	}
	if code := types.CodeOf(err); code != types.StatusFailure {
		t.Errorf("expected Failure for a loop, got %v", code)
	}
}

func TestResolver_Resolve_MissingParent(t *testing.T) {
	r, _ := newTestResolver(t)

	_, err := r.Resolve("/missing/deep/file")
	if !errors.Is(err, types.ErrNoSuchFile) {
		t.Fatalf("expected NoSuchFile, got %v", err)
	}
}

func TestResolver_Resolve_SiblingWithSharedPrefix(t *testing.T) {
	r, base := newTestResolver(t)

	// <base>/root2 shares the string prefix of <base>/root but is outside it.
	sibling := filepath.Join(base, filepath.Base(r.Root())+"2")
	if err := os.MkdirAll(sibling, 0755); err != nil {
		t.Fatalf("failed to create sibling: %v", err)
	}
	if err := os.Symlink(sibling, filepath.Join(r.Root(), "sib")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	if _, err := r.Resolve("/sib"); !errors.Is(err, types.ErrPermissionDenied) {
		t.Errorf("expected PermissionDenied for sibling sharing the root prefix, got %v", err)
	}
}

func TestResolver_Resolve_NeverLeavesRoot(t *testing.T) {
	r, base := newTestResolver(t)
	if err := os.Symlink(filepath.Join(base, "outside"), filepath.Join(r.Root(), "docs", "up")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	segments := []string{"..", ".", "a", "c", "docs", "up", "secret.txt", "readme.md", "", "/"}
	// Every 3-segment combination of the alphabet above.
	for _, s1 := range segments {
		for _, s2 := range segments {
			for _, s3 := range segments {
				requested := "/" + strings.Join([]string{s1, s2, s3}, "/")
				got, err := r.Resolve(requested)
				if err != nil {
					continue
				}
				if got != r.Root() && !strings.HasPrefix(got, r.Root()+string(filepath.Separator)) {
					t.Fatalf("Resolve(%q) = %q escapes root %q", requested, got, r.Root())
				}
			}
		}
	}
}

func TestResolver_ResolveNoFollow(t *testing.T) {
	r, base := newTestResolver(t)
	if err := os.Symlink(filepath.Join(base, "outside", "secret.txt"), filepath.Join(r.Root(), "link")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	if err := os.Symlink(filepath.Join(base, "outside"), filepath.Join(r.Root(), "dirlink")); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	got, err := r.ResolveNoFollow("/link")
	if err != nil {
		t.Fatalf("ResolveNoFollow(/link) failed: %v", err)
	}
	if want := filepath.Join(r.Root(), "link"); got != want {
		t.Errorf("ResolveNoFollow(/link) = %q, want %q", got, want)
	}
	info, err := os.Lstat(got)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		t.Errorf("expected the link itself, got %v, %v", info, err)
	}

	// An intermediate symlink is still resolved and confined.
	if _, err := r.ResolveNoFollow("/dirlink/secret.txt"); !errors.Is(err, types.ErrPermissionDenied) {
		t.Errorf("expected PermissionDenied through an outward directory link, got %v", err)
	}

	if got, err := r.ResolveNoFollow("/"); err != nil || got != r.Root() {
		t.Errorf("ResolveNoFollow(/) = %q, %v", got, err)
	}
	if _, err := r.ResolveNoFollow("/missing/file"); !errors.Is(err, types.ErrNoSuchFile) {
		t.Errorf("expected NoSuchFile for a missing parent, got %v", err)
	}
}

func TestResolver_Virtual(t *testing.T) {
	r, base := newTestResolver(t)

	tests := []struct {
		local string
		want  string
	}{
		{r.Root(), "/"},
		{filepath.Join(r.Root(), "a", "c"), "/a/c"},
		{filepath.Join(r.Root(), "docs", "readme.md"), "/docs/readme.md"},
		{filepath.Join(base, "outside"), "/"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := r.Virtual(tt.local); got != tt.want {
				t.Errorf("Virtual(%q) = %q, want %q", tt.local, got, tt.want)
			}
		})
	}
}

func TestResolver_Canonical(t *testing.T) {
	r, _ := newTestResolver(t)

	got, err := r.Canonical(filepath.Join(r.Root(), "a", "c", "..", "c"))
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}
	if want := filepath.Join(r.Root(), "a", "c"); got != want {
		t.Errorf("Canonical = %q, want %q", got, want)
	}

	if _, err := r.Canonical(filepath.Join(r.Root(), "nope")); !errors.Is(err, types.ErrNoSuchFile) {
		t.Errorf("expected NoSuchFile, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.StatusCode
	}{
		{"nil", nil, types.StatusOK},
		{"not exist", os.ErrNotExist, types.StatusNoSuchFile},
		{"wrapped not exist", &os.PathError{Op: "open", Path: "/x", Err: os.ErrNotExist}, types.StatusNoSuchFile},
		{"permission", os.ErrPermission, types.StatusPermissionDenied},
		{"other", errors.New("disk on fire"), types.StatusFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
