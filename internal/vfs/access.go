package vfs

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

// AccessPolicy decides what a session may do with a virtual path.
type AccessPolicy interface {
	// Access returns the effective access level for a virtual path.
	Access(virtualPath string) types.AccessLevel

	// Check fails unless the path grants at least the required level. Hidden
	// paths fail with NoSuchFile, visible but insufficient ones with
	// PermissionDenied.
	Check(op, virtualPath string, required types.AccessLevel) error
}

type compiledRule struct {
	types.AccessRule
	pattern string
	matcher glob.Glob
}

// accessPolicy is the default implementation of AccessPolicy.
type accessPolicy struct {
	rules    []compiledRule
	readOnly bool
}

// NewAccessPolicy compiles rules into a policy. Without rules every path is
// writable; readOnly caps every level at read.
func NewAccessPolicy(rules []types.AccessRule, readOnly bool) (AccessPolicy, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		cr, err := compileRule(rule)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, cr)
	}

	// Higher priority first; on ties file > directory > glob, then the more
	// specific pattern.
	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].Priority != compiled[j].Priority {
			return compiled[i].Priority > compiled[j].Priority
		}
		ti, tj := patternTypeRank(compiled[i].Type), patternTypeRank(compiled[j].Type)
		if ti != tj {
			return ti > tj
		}
		return specificity(compiled[i].pattern) > specificity(compiled[j].pattern)
	})

	return &accessPolicy{rules: compiled, readOnly: readOnly}, nil
}

func compileRule(rule types.AccessRule) (compiledRule, error) {
	if rule.Pattern == "" {
		return compiledRule{}, fmt.Errorf("%w: empty pattern", types.ErrInvalidPattern)
	}
	switch rule.Access {
	case types.AccessNone, types.AccessList, types.AccessRead, types.AccessWrite:
	default:
		return compiledRule{}, fmt.Errorf("%w: unknown access %q for %s", types.ErrInvalidPattern, rule.Access, rule.Pattern)
	}

	cr := compiledRule{AccessRule: rule}
	switch rule.Type {
	case types.PatternFile, types.PatternDirectory:
		cr.pattern = cleanVirtual(rule.Pattern)
	case types.PatternGlob, "":
		cr.Type = types.PatternGlob
		cr.pattern = rule.Pattern
		if !strings.HasPrefix(cr.pattern, "/") && !strings.HasPrefix(cr.pattern, "**") {
			cr.pattern = "/" + cr.pattern
		}
		g, err := glob.Compile(cr.pattern, '/')
		if err != nil {
			return compiledRule{}, fmt.Errorf("%w: %s: %v", types.ErrInvalidPattern, rule.Pattern, err)
		}
		cr.matcher = g
	default:
		return compiledRule{}, fmt.Errorf("%w: unknown pattern type %q", types.ErrInvalidPattern, rule.Type)
	}
	return cr, nil
}

// specificity ranks patterns so that exact and anchored patterns win over
// broad wildcards of the same priority and type.
func specificity(pattern string) int {
	score := 0
	if strings.HasPrefix(pattern, "/") {
		score += 100
	}
	if !strings.HasPrefix(pattern, "**") {
		score += 50
	}
	if idx := strings.Index(pattern, "*"); idx > 0 {
		score += idx
	}
	if !strings.ContainsAny(pattern, "*?[{") {
		score += 200
	}
	return score
}

func patternTypeRank(t types.PatternType) int {
	switch t {
	case types.PatternFile:
		return 3
	case types.PatternDirectory:
		return 2
	case types.PatternGlob:
		return 1
	default:
		return 0
	}
}

func (r *compiledRule) match(p string) bool {
	switch r.Type {
	case types.PatternFile:
		return p == r.pattern
	case types.PatternDirectory:
		return p == r.pattern || r.pattern == "/" || strings.HasPrefix(p, r.pattern+"/")
	default:
		if r.matcher.Match(p) {
			return true
		}
		// "/dir/**" also covers "/dir" itself.
		if prefix, ok := strings.CutSuffix(r.pattern, "/**"); ok && prefix != "" && !strings.ContainsAny(prefix, "*?[{") {
			return p == prefix
		}
		return false
	}
}

// Access returns the effective access level for a virtual path.
func (ap *accessPolicy) Access(virtualPath string) types.AccessLevel {
	p := cleanVirtual(virtualPath)

	level := types.AccessWrite
	if len(ap.rules) > 0 {
		level = types.AccessNone
		for i := range ap.rules {
			if ap.rules[i].match(p) {
				level = ap.rules[i].Access
				break
			}
		}
	}

	// The root directory is always listable.
	if p == "/" && level.Level() < types.AccessList.Level() {
		level = types.AccessList
	}
	if ap.readOnly && level.Level() > types.AccessRead.Level() {
		level = types.AccessRead
	}
	return level
}

// Check fails unless virtualPath grants at least required.
func (ap *accessPolicy) Check(op, virtualPath string, required types.AccessLevel) error {
	level := ap.Access(virtualPath)
	if level.Level() >= required.Level() {
		return nil
	}
	if level == types.AccessNone {
		return types.NewStatusError(op, types.StatusNoSuchFile, types.ErrNoSuchFile).WithPath(virtualPath)
	}
	return types.NewStatusError(op, types.StatusPermissionDenied,
		fmt.Errorf("%w: %s requires %s access, has %s", types.ErrPermissionDenied, op, required, level),
	).WithPath(virtualPath)
}

// cleanVirtual normalizes a virtual path: rooted at "/", cleaned, no
// trailing slash.
func cleanVirtual(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
