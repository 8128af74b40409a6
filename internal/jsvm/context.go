package jsvm

import (
	"fmt"
	"path/filepath"

	"github.com/dop251/goja"
)

// Context binds one invocation (require, run, repl) to its sandbox. It
// carries the id being loaded and the require/run functions handed to the
// running code. A Context must not outlive the call that created it.
type Context struct {
	sb       *Sandbox
	ID       string
	Filename string

	// Require is the script-side require(id) bound to this module.
	Require *goja.Object
	// Run is the script-side run(fname, argv) bound to this module.
	Run *goja.Object
}

func newContext(sb *Sandbox, id, filename string) *Context {
	vm := sb.runtime()
	ctx := &Context{
		sb:       sb,
		ID:       id,
		Filename: filename,
	}

	base := filename
	if base == "" {
		base = id
	}

	ctx.Require = vm.ToValue(func(call goja.FunctionCall) goja.Value {
		rid := call.Argument(0).String()
		val, err := sb.Require(rid, base)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return val
	}).ToObject(vm)

	_ = ctx.Require.Set("resolve", func(call goja.FunctionCall) goja.Value {
		rid := call.Argument(0).String()
		canonical, err := sb.Resolve(rid, base)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(canonical)
	})

	ctx.Run = vm.ToValue(func(call goja.FunctionCall) goja.Value {
		fname := call.Argument(0).String()
		if !filepath.IsAbs(fname) {
			fname = filepath.Join(ctx.Dirname(), fname)
		}
		if err := sb.Run(fname, exportStrings(call.Argument(1))); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	}).ToObject(vm)

	return ctx
}

// Sandbox returns the sandbox this context belongs to.
func (c *Context) Sandbox() *Sandbox {
	return c.sb
}

// Runtime returns the runtime the context's code executes in.
func (c *Context) Runtime() *goja.Runtime {
	return c.sb.runtime()
}

// Dirname returns the directory relative requests resolve against.
func (c *Context) Dirname() string {
	if filepath.IsAbs(c.Filename) {
		return filepath.Dir(c.Filename)
	}
	return c.sb.host.Cwd()
}

// newModuleObject creates the module/exports pair injected into a module's
// top-level scope.
func newModuleObject(vm *goja.Runtime, id, filename string) (*goja.Object, *goja.Object) {
	exports := vm.NewObject()
	module := vm.NewObject()
	_ = module.Set("id", id)
	_ = module.Set("filename", filename)
	_ = module.Set("exports", exports)
	_ = module.Set("loaded", false)
	return module, exports
}

// argvValue converts an argument vector to a script array.
func argvValue(vm *goja.Runtime, argv []string) *goja.Object {
	items := make([]any, len(argv))
	for i, a := range argv {
		items[i] = a
	}
	return vm.NewArray(items...)
}

// exportStrings converts a script array argument to strings.
func exportStrings(v goja.Value) []string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	items, ok := v.Export().([]any)
	if !ok {
		return []string{v.String()}
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = fmt.Sprint(item)
	}
	return out
}
