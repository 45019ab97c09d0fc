// SPDX-License-Identifier: Apache 2.0

// Package ignore implements the gitignore-style pattern matcher (C5)
// that reads .swarmignore at the managed root, using
// bmatcuk/doublestar for ** glob semantics.
package ignore

import (
	"bufio"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// VaultDir is the single whitelisted dot-prefixed component: the
// metadata directory, never auto-ignored.
const VaultDir = ".swarm-vault"

// StateFileSuffix is a file-name suffix that is always ignored. The
// default state-store database (<root>/.swarm-vault/state.db) does not
// end in it, so this rule does not cover that file.
const StateFileSuffix = ".swarmstate"

// tempSuffixes lists editor/OS temp-file suffixes always ignored,
// alongside junk filenames, per spec §4.5.
var tempSuffixes = []string{".tmp", ".swp", "~"}

var junkNames = map[string]bool{
	".DS_Store":      true,
	"Thumbs.db":      true,
	"desktop.ini":    true,
	".Trash-1000":    true,
	"ehthumbs.db":    true,
}

type pattern struct {
	raw      string
	negate   bool
	dirOnly  bool
	anchored bool
}

// Matcher evaluates relative paths against a loaded .swarmignore file
// plus the always-ignored set.
type Matcher struct {
	patterns []pattern
}

// Load reads managedRoot/.swarmignore, if present, and returns a
// Matcher. A missing file yields a Matcher with only the built-in
// always-ignore rules.
func Load(managedRoot string) (*Matcher, error) {
	f, err := os.Open(path.Join(managedRoot, ".swarmignore"))
	if os.IsNotExist(err) {
		return &Matcher{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pats []pattern
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pats = append(pats, parsePattern(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &Matcher{patterns: pats}, nil
}

func parsePattern(line string) pattern {
	p := pattern{raw: line}
	if strings.HasPrefix(line, "!") {
		p.negate = true
		line = line[1:]
	}
	if strings.HasPrefix(line, "/") {
		p.anchored = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	p.raw = line
	return p
}

// Ignored reports whether relPath (using forward slashes, relative to
// the managed root) should be excluded from the manifest: either by
// the built-in always-ignore rules or by the loaded .swarmignore
// patterns, last-match-wins with negation.
func (m *Matcher) Ignored(relPath string, isDir bool) bool {
	if alwaysIgnored(relPath) {
		return true
	}
	if m == nil {
		return false
	}

	ignored := false
	base := path.Base(relPath)
	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if matches(p, relPath, base) {
			ignored = !p.negate
		}
	}
	return ignored
}

func matches(p pattern, relPath, base string) bool {
	candidates := []string{relPath}
	if !p.anchored {
		candidates = append(candidates, base)
	}
	for _, c := range candidates {
		if ok, _ := doublestar.Match(p.raw, c); ok {
			return true
		}
		// Bare names with no glob metacharacters match any path
		// component, mirroring gitignore's directory-agnostic default.
		if !strings.ContainsAny(p.raw, "*?[") && !p.anchored {
			for _, seg := range strings.Split(relPath, "/") {
				if seg == p.raw {
					return true
				}
			}
		}
	}
	return false
}

// alwaysIgnored applies the built-in rules from spec §4.5: any
// dot-prefixed component other than the whitelisted vault directory,
// OS junk files, the state-store file, and temp suffixes.
func alwaysIgnored(relPath string) bool {
	for _, seg := range strings.Split(relPath, "/") {
		if seg == "" {
			continue
		}
		if strings.HasPrefix(seg, ".") && seg != VaultDir {
			return true
		}
		if junkNames[seg] {
			return true
		}
	}
	base := path.Base(relPath)
	if strings.HasSuffix(base, StateFileSuffix) {
		return true
	}
	for _, suf := range tempSuffixes {
		if strings.HasSuffix(base, suf) {
			return true
		}
	}
	return false
}
