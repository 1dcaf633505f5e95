package pathcache

import (
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Root is the distinguished root path of a drive.
const Root = "/"

// sep is the path separator used by every cached path.
const sep = "/"

// Clean normalizes a path: leading slash, no trailing slash, no empty or
// dot segments, NFC-normalized. "" and "." become Root. Backslashes and
// surrounding spaces are ordinary name characters.
func Clean(p string) string {
	if p == "" || p == "." {
		return Root
	}

	p = path.Clean(sep + p)

	return norm.NFC.String(p)
}

// IsRoot reports whether p names the root path.
func IsRoot(p string) bool {
	return Clean(p) == Root
}

// Split returns the parent path and leaf name of p. Split(Root) returns
// (Root, "").
func Split(p string) (string, string) {
	p = Clean(p)
	if p == Root {
		return Root, ""
	}

	idx := strings.LastIndex(p, sep)
	if idx == 0 {
		return Root, p[1:]
	}

	return p[:idx], p[idx+1:]
}

// Dir returns the parent path of p.
func Dir(p string) string {
	parent, _ := Split(p)
	return parent
}

// Base returns the leaf name of p, "" for Root.
func Base(p string) string {
	_, name := Split(p)
	return name
}

// Join appends rel to parent. An empty rel returns the cleaned parent.
func Join(parent, rel string) string {
	rel = strings.Trim(rel, sep)
	if rel == "" {
		return Clean(parent)
	}

	return Clean(Clean(parent) + sep + rel)
}

// ValidName reports whether a name the service reports can be one segment
// of a path. Drive accepts "", ".", ".." and names containing "/", none of
// which survive a round trip through Clean.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, sep)
}

// JoinName appends one service-reported name to parent without
// reinterpreting it. It returns false when the name is not a valid
// segment, in which case the object has no representable path.
func JoinName(parent, name string) (string, bool) {
	if !ValidName(name) {
		return "", false
	}

	parent = Clean(parent)
	if parent == Root {
		return sep + norm.NFC.String(name), true
	}

	return parent + sep + norm.NFC.String(name), true
}

// Equal reports whether two paths name the same entry under the drive's
// case-insensitive lookup rules.
func Equal(a, b string) bool {
	return key(a) == key(b)
}

// Relative reports whether child is parent itself or lives under it. The
// returned suffix is "" for the path itself and "a/b" for descendants. The
// comparison is case-insensitive; the suffix keeps child's casing.
func Relative(parent, child string) (string, bool) {
	pk := key(parent)
	ck := key(child)

	if pk == ck {
		return "", true
	}

	prefix := pk
	if prefix != Root {
		prefix += sep
	}

	if !strings.HasPrefix(ck, prefix) {
		return "", false
	}

	// Folding can change byte lengths, so count segments instead of bytes.
	depth := strings.Count(prefix, sep)
	segments := strings.Split(strings.TrimPrefix(Clean(child), sep), sep)

	return strings.Join(segments[depth-1:], sep), true
}

// key is the case-folded lookup key for p. cases.Caser is stateful and not
// safe for concurrent use, so each call builds its own.
func key(p string) string {
	return cases.Fold().String(Clean(p))
}
