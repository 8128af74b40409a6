package jsvm

import (
	"path/filepath"
	"strings"

	"jsbox/internal/jsvmerr"
)

// isPathForm reports whether id is relative ("./x", "../x", ".", "..") or
// absolute, as opposed to a bare package name.
func isPathForm(id string) bool {
	return id == "." || id == ".." ||
		strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../") ||
		filepath.IsAbs(id)
}

// baseDir returns the directory relative ids are resolved against. Bases
// that are not absolute paths (registry keys, repl ids) fall back to cwd.
func (sb *Sandbox) baseDir(base string) string {
	if base == "" || !filepath.IsAbs(base) {
		return sb.host.Cwd()
	}
	return filepath.Dir(base)
}

// absolute joins a path-form id onto base's directory.
func (sb *Sandbox) absolute(id, base string) string {
	if filepath.IsAbs(id) {
		return filepath.Clean(id)
	}
	return filepath.Join(sb.baseDir(base), id)
}

// canonical strips the loader extension from a resolved path.
func canonical(path string, l ExtLoader) string {
	return strings.TrimSuffix(path, l.Ext())
}

// normalize maps id to the key it would be cached or registered under
// without touching the filesystem.
func (sb *Sandbox) normalize(id, base string) string {
	if !isPathForm(id) {
		return id
	}
	p := sb.absolute(id, base)
	if l := selectLoader(sb.loaders, p); l != nil {
		return canonical(p, l)
	}
	return p
}

// explicitFile returns the absolute file a path-form id names when it
// carries a loader extension, and "" otherwise.
func (sb *Sandbox) explicitFile(id, base string) string {
	if !isPathForm(id) {
		return ""
	}
	p := sb.absolute(id, base)
	if selectLoader(sb.loaders, p) == nil {
		return ""
	}
	return p
}

// fileMatch records what a file lookup found.
type fileMatch struct {
	path        string
	loader      ExtLoader
	unsupported bool
}

func (r fileMatch) found() bool {
	return r.loader != nil
}

// match looks for a loadable file at p: the literal path, p plus each
// loader extension, then, for a directory, its package.json main and
// index file.
func (sb *Sandbox) match(p string) fileMatch {
	return sb.matchDepth(p, 0)
}

func (sb *Sandbox) matchDepth(p string, depth int) fileMatch {
	fsys := sb.host.fs
	var res fileMatch

	if isFile(fsys, p) {
		if l := selectLoader(sb.loaders, p); l != nil {
			return fileMatch{path: p, loader: l}
		}
		res.unsupported = true
	}

	for _, l := range sb.loaders {
		candidate := p + l.Ext()
		if isFile(fsys, candidate) {
			return fileMatch{path: candidate, loader: l}
		}
	}

	if !isDir(fsys, p) {
		return res
	}

	// Only one level of "main" indirection is followed.
	if depth == 0 {
		if m := readManifest(fsys, p, sb.logger); m != nil && m.Main != "" {
			main := filepath.Join(p, m.Main)
			r := sb.matchDepth(main, depth+1)
			if r.found() {
				return r
			}
			res.unsupported = res.unsupported || r.unsupported
		}
	}

	for _, l := range sb.loaders {
		candidate := filepath.Join(p, "index"+l.Ext())
		if isFile(fsys, candidate) {
			return fileMatch{path: candidate, loader: l}
		}
	}
	return res
}

// findFile runs the path and bare-name resolution steps for id requested
// from base.
func (sb *Sandbox) findFile(id, base string) (fileMatch, error) {
	if id == "" {
		return fileMatch{}, jsvmerr.ErrInvalidModuleID
	}

	// Path of the first existing file no loader accepted, if any.
	var unsupported string
	if isPathForm(id) {
		p := sb.absolute(id, base)
		res := sb.match(p)
		if res.found() {
			return res, nil
		}
		if res.unsupported {
			unsupported = p
		}
	} else {
		for dir := sb.baseDir(base); ; {
			for _, md := range sb.moduleDirs {
				p := filepath.Join(dir, md, id)
				res := sb.match(p)
				if res.found() {
					return res, nil
				}
				if res.unsupported && unsupported == "" {
					unsupported = p
				}
			}

			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if unsupported != "" {
		return fileMatch{}, &jsvmerr.UnsupportedFormatError{Path: unsupported}
	}
	return fileMatch{}, &jsvmerr.ModuleNotFoundError{ID: id, Base: base}
}
