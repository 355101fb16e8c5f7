// Package mediaref classifies and canonicalizes the path/URL strings a host
// hands to /api/media/resolve (spec §4.1).
package mediaref

import (
	"path/filepath"
	"strings"
)

// Kind is the classification of a raw media reference.
type Kind int

const (
	// KindLocal is a filesystem path.
	KindLocal Kind = iota
	// KindRemote is a generic http(s) URL.
	KindRemote
	// KindPlatform is a bilibili-shaped reference (BV id, ep id, or URL).
	KindPlatform
)

// Classify buckets a raw reference per spec §4.1.
func Classify(ref string) Kind {
	trimmed := strings.TrimSpace(ref)
	lower := strings.ToLower(trimmed)

	if hasBvidOrEpPrefix(trimmed) {
		return KindPlatform
	}
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if strings.Contains(lower, "bilibili.com") || strings.Contains(lower, "bilivideo.com") {
			return KindPlatform
		}
		return KindRemote
	}
	return KindLocal
}

func hasBvidOrEpPrefix(s string) bool {
	if len(s) < 2 {
		return false
	}
	prefix := s[:2]
	return strings.EqualFold(prefix, "bv") || strings.EqualFold(prefix, "ep")
}

// ExtractBvid finds a BV-id shaped substring within s. It accepts s itself
// when it already has the shape, per spec §4.1.
func ExtractBvid(s string) (string, bool) {
	if isBvidShape(s) {
		return s, true
	}
	idx := strings.Index(strings.ToUpper(s), "BV")
	if idx < 0 {
		return "", false
	}
	rest := s[idx:]
	end := 0
	for end < len(rest) && end < 12 && isAlphanumeric(rest[end]) {
		end++
	}
	candidate := rest[:end]
	if isBvidShape(candidate) {
		return candidate, true
	}
	return "", false
}

func isBvidShape(s string) bool {
	return len(s) >= 10 && strings.HasPrefix(strings.ToUpper(s), "BV")
}

func isAlphanumeric(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// CleanPath returns the canonical absolute form of p, or p unchanged if the
// OS cannot resolve it.
func CleanPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return p
	}
	return resolved
}

// IsUnderRoot reports whether canonical p is lexically contained by root.
func IsUnderRoot(p, root string) bool {
	cleanRoot := filepath.Clean(root)
	cleanPath := filepath.Clean(p)
	if cleanPath == cleanRoot {
		return true
	}
	return strings.HasPrefix(cleanPath, cleanRoot+string(filepath.Separator))
}

// Basename returns the final path element, used as a default title.
func Basename(p string) string {
	return filepath.Base(p)
}
