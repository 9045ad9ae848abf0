// Package vfs maps protocol paths onto a confined local directory tree.
package vfs

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ajaxzhan/sandbox-sftp/internal/logging"
	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

// longPathPrefix is the Windows extended-length path prefix that
// canonicalization may prepend.
const longPathPrefix = `\\?\`

// Resolver confines protocol paths to a root directory. It holds no mutable
// state; a decision depends only on the root, the requested path and the
// current contents of the filesystem.
type Resolver struct {
	root string
}

// NewResolver creates a Resolver for root. The root must exist and be a
// directory; it is stored in canonical (absolute, symlink-free) form so that
// prefix checks compare like with like.
func NewResolver(root string) (*Resolver, error) {
	if root == "" {
		return nil, types.ErrInvalidRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidRoot, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidRoot, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", types.ErrInvalidRoot, root)
	}
	return &Resolver{root: canonical}, nil
}

// Root returns the canonical root directory.
func (r *Resolver) Root() string {
	return r.root
}

// join strips one leading separator from a protocol path and joins the
// remainder onto the root. The join is lexical: "." and ".." are collapsed
// before any filesystem lookup.
func (r *Resolver) join(requested string) string {
	rel := strings.TrimPrefix(requested, "/")
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

// Resolve maps a protocol path to a local path inside the root.
//
// An existing path is canonicalized and must lie inside the root, otherwise
// the request fails with PermissionDenied. A path that does not exist yet is
// accepted when its parent canonicalizes to a directory inside the root. A
// dangling symlink resolves to the missing name it points at, which must be
// inside the root as well. A missing parent fails with NoSuchFile.
func (r *Resolver) Resolve(requested string) (string, error) {
	joined := r.join(requested)
	if !r.contains(joined) {
		return "", r.escape("resolve", requested, joined)
	}

	canonical, err := filepath.EvalSymlinks(joined)
	if err == nil {
		if !r.contains(canonical) {
			return "", r.escape("resolve", requested, canonical)
		}
		return canonical, nil
	}

	parent := filepath.Dir(joined)
	canonicalParent, perr := filepath.EvalSymlinks(parent)
	if perr != nil {
		return "", types.NewStatusError("resolve", types.StatusNoSuchFile, perr).WithPath(requested)
	}
	if !r.contains(canonicalParent) {
		return "", r.escape("resolve", requested, canonicalParent)
	}

	local := filepath.Join(canonicalParent, filepath.Base(joined))
	if info, lerr := os.Lstat(local); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
		return r.danglingTarget(requested, local)
	}
	return local, nil
}

// maxSymlinkHops bounds how far a dangling symlink chain is followed.
const maxSymlinkHops = 40

// danglingTarget follows a symlink chain that ends in a missing name and
// returns that name. A later create through the link lands there, so every
// hop must stay inside the root.
func (r *Resolver) danglingTarget(requested, link string) (string, error) {
	cur := link
	for i := 0; i < maxSymlinkHops; i++ {
		info, err := os.Lstat(cur)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			return cur, nil
		}
		target, err := os.Readlink(cur)
		if err != nil {
			return "", types.NewStatusError("resolve", Classify(err), err).WithPath(requested)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(cur), target)
		}
		target = filepath.Clean(target)
		if !r.contains(target) {
			return "", r.escape("resolve", requested, target)
		}

		dir, err := filepath.EvalSymlinks(filepath.Dir(target))
		if err != nil {
			// Nothing can be created below a missing directory.
			return target, nil
		}
		if !r.contains(dir) {
			return "", r.escape("resolve", requested, dir)
		}
		cur = filepath.Join(dir, filepath.Base(target))
	}
	return "", types.NewStatusError("resolve", types.StatusFailure,
		fmt.Errorf("too many levels of symbolic links")).WithPath(requested)
}

// ResolveNoFollow maps a protocol path to a local path without following a
// symlink in the final component. Every intermediate component is
// canonicalized and confined; the last one is appended verbatim.
func (r *Resolver) ResolveNoFollow(requested string) (string, error) {
	joined := r.join(requested)
	if !r.contains(joined) {
		return "", r.escape("resolve", requested, joined)
	}
	if joined == r.root {
		return r.root, nil
	}

	canonicalParent, err := filepath.EvalSymlinks(filepath.Dir(joined))
	if err != nil {
		return "", types.NewStatusError("resolve", Classify(err), err).WithPath(requested)
	}
	if !r.contains(canonicalParent) {
		return "", r.escape("resolve", requested, canonicalParent)
	}
	return filepath.Join(canonicalParent, filepath.Base(joined)), nil
}

// Canonical canonicalizes a local path and checks that it is still inside
// the root.
func (r *Resolver) Canonical(local string) (string, error) {
	canonical, err := filepath.EvalSymlinks(local)
	if err != nil {
		return "", types.NewStatusError("canonicalize", Classify(err), err)
	}
	if !r.contains(canonical) {
		return "", r.escape("canonicalize", local, canonical)
	}
	return canonical, nil
}

// Virtual converts a local path inside the root to its protocol form,
// rooted at "/". Paths outside the root map to "/".
func (r *Resolver) Virtual(local string) string {
	local = strings.TrimPrefix(local, longPathPrefix)
	rel, err := filepath.Rel(r.root, local)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "/"
	}
	return path.Join("/", filepath.ToSlash(rel))
}

// contains reports whether p is the root or lies below it. The comparison is
// per path component, so "/srv/data2" is not inside "/srv/data".
func (r *Resolver) contains(p string) bool {
	p = strings.TrimPrefix(p, longPathPrefix)
	if p == r.root {
		return true
	}
	prefix := r.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

func (r *Resolver) escape(op, requested, local string) error {
	logging.Warn("Path escapes root directory",
		logging.String("requested", requested),
		logging.String("resolved", local),
		logging.String("root", r.root),
	)
	return types.NewStatusError(op, types.StatusPermissionDenied, types.ErrPermissionDenied).WithPath(requested)
}
