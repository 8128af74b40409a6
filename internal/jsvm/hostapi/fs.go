package hostapi

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"

	"jsbox/internal/config"
	"jsbox/internal/jsvmerr"
)

// newFS builds the fs module. Every path is checked against
// hctx.Config.AllowedPaths before it is touched.
func newFS(vm *goja.Runtime, hctx *Context) *goja.Object {
	fsObj := vm.NewObject()

	allowed := func(path string) string {
		absPath, err := validatePath(path, hctx.Config.AllowedPaths)
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		return absPath
	}

	_ = fsObj.Set("read", func(call goja.FunctionCall) goja.Value {
		absPath := allowed(requireString(vm, call, 0, "path"))

		content, err := os.ReadFile(absPath)
		if err != nil {
			if os.IsNotExist(err) {
				return goja.Null()
			}
			panic(vm.NewTypeError(fmt.Sprintf("read failed: %v", err)))
		}

		return vm.ToValue(string(content))
	})

	_ = fsObj.Set("write", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(vm.NewTypeError("path and content are required"))
		}

		absPath := allowed(call.Arguments[0].String())
		content := call.Arguments[1].String()

		if int64(len(content)) > hctx.Config.MaxWriteSize {
			panic(vm.NewTypeError(fmt.Sprintf("content exceeds max size of %d bytes", hctx.Config.MaxWriteSize)))
		}

		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			panic(vm.NewTypeError(fmt.Sprintf("failed to create directory: %v", err)))
		}

		if err := os.WriteFile(absPath, []byte(content), 0644); err != nil {
			panic(vm.NewTypeError(fmt.Sprintf("write failed: %v", err)))
		}

		hctx.Logger.Debug().Str("path", absPath).Int("bytes", len(content)).Msg("fs write")
		return goja.Undefined()
	})

	_ = fsObj.Set("exists", func(call goja.FunctionCall) goja.Value {
		absPath, err := validatePath(requireString(vm, call, 0, "path"), hctx.Config.AllowedPaths)
		if err != nil {
			// Paths outside the allowlist never exist.
			return vm.ToValue(false)
		}

		_, err = os.Stat(absPath)
		return vm.ToValue(err == nil)
	})

	_ = fsObj.Set("list", func(call goja.FunctionCall) goja.Value {
		absPath := allowed(requireString(vm, call, 0, "path"))

		entries, err := os.ReadDir(absPath)
		if err != nil {
			if os.IsNotExist(err) {
				return vm.ToValue([]string{})
			}
			panic(vm.NewTypeError(fmt.Sprintf("list failed: %v", err)))
		}

		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}

		return vm.ToValue(names)
	})

	_ = fsObj.Set("remove", func(call goja.FunctionCall) goja.Value {
		absPath := allowed(requireString(vm, call, 0, "path"))

		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			panic(vm.NewTypeError(fmt.Sprintf("remove failed: %v", err)))
		}
		return goja.Undefined()
	})

	return fsObj
}

// validatePath expands and cleans path, follows symlinks where they exist
// and returns the absolute path if it lies under one of allowedPaths.
func validatePath(path string, allowedPaths []string) (string, error) {
	denied := &jsvmerr.PathNotAllowedError{Path: path}

	expanded, err := config.ExpandPath(path)
	if err != nil {
		return "", denied
	}
	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", denied
	}

	if !isPathAllowed(realPath(absPath), allowedPaths) {
		return "", denied
	}
	return absPath, nil
}

// isPathAllowed reports whether path equals or lies below an allowed
// directory, comparing symlink-resolved forms of both.
func isPathAllowed(path string, allowedPaths []string) bool {
	for _, allowed := range allowedPaths {
		expanded, err := config.ExpandPath(allowed)
		if err != nil {
			continue
		}
		dir := realPath(filepath.Clean(expanded))

		if path == dir {
			return true
		}
		prefix := dir
		if !strings.HasSuffix(prefix, string(filepath.Separator)) {
			prefix += string(filepath.Separator)
		}
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// realPath resolves symlinks in p. For a path that does not exist yet the
// parent is resolved instead so writes of new files are checked correctly.
func realPath(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	if parent, err := filepath.EvalSymlinks(filepath.Dir(p)); err == nil {
		return filepath.Join(parent, filepath.Base(p))
	}
	return p
}
