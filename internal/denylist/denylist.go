// Package denylist implements the conservative regex-set veto over
// submitted script text. It is not a security
// boundary — it stops low-effort, system-trashing one-liners, nothing
// more.
package denylist

import "regexp"

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`rm -[rf][rf] /\*?$`),
	regexp.MustCompile(`--no-preserve-root`),
}

// forkBomb matches the classic shell fork bomb, with whitespace tolerance
// and renaming: name(){ name|name& };name. Go's RE2 engine has no
// backreferences, so the four name occurrences are captured separately
// and compared for equality in code instead of with a \1-style backref.
var forkBomb = regexp.MustCompile(`([^\s(){};|&]+)\s*\(\)\s*\{\s*([^\s(){};|&]+)\s*\|\s*([^\s(){};|&]+)\s*&?\s*\}\s*;\s*([^\s(){};|&]+)`)

func isForkBomb(script string) bool {
	m := forkBomb.FindStringSubmatch(script)
	if m == nil {
		return false
	}
	name := m[1]
	return m[2] == name && m[3] == name && m[4] == name
}

// Permit returns false if script matches any denylisted pattern.
func Permit(script string) bool {
	for _, p := range patterns {
		if p.MatchString(script) {
			return false
		}
	}
	return !isForkBomb(script)
}
