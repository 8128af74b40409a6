// Package hostapi provides the built-in modules scripts can require from a
// jsvm sandbox: console, path, fs and kv.
package hostapi

import (
	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"jsbox/internal/storage"
)

// Config holds configuration for the built-in modules.
type Config struct {
	// AllowedPaths is the list of file system paths the fs module may touch.
	AllowedPaths []string
	// MaxWriteSize is the maximum file write size in bytes.
	MaxWriteSize int64
}

// DefaultConfig returns default built-in module configuration.
func DefaultConfig() Config {
	return Config{
		AllowedPaths: []string{"~/.jsbox/", "/tmp"},
		MaxWriteSize: 10 * 1024 * 1024, // 10MB
	}
}

// Context holds what the built-in modules need from the host program.
type Context struct {
	// DB backs the kv module. A nil DB makes kv a no-op store.
	DB     *storage.DB
	Logger zerolog.Logger
	Config Config
}

// ModuleFunc builds a module's exports inside vm.
type ModuleFunc = func(vm *goja.Runtime) (goja.Value, error)

// Modules returns the built-in module constructors keyed by module id.
// Each constructor is called at most once per sandbox, in the realm of the
// sandbox requiring it.
func Modules(hctx *Context) map[string]ModuleFunc {
	if hctx == nil {
		hctx = &Context{Logger: zerolog.Nop(), Config: DefaultConfig()}
	}

	return map[string]ModuleFunc{
		"console": func(vm *goja.Runtime) (goja.Value, error) {
			return newConsole(vm, hctx.Logger), nil
		},
		"path": func(vm *goja.Runtime) (goja.Value, error) {
			return newPath(vm), nil
		},
		"fs": func(vm *goja.Runtime) (goja.Value, error) {
			return newFS(vm, hctx), nil
		},
		"kv": func(vm *goja.Runtime) (goja.Value, error) {
			return newKV(vm, hctx), nil
		},
	}
}
