package hostapi

import (
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
)

// newPath builds the path module over the host's path/filepath rules.
func newPath(vm *goja.Runtime) *goja.Object {
	p := vm.NewObject()

	_ = p.Set("sep", string(filepath.Separator))
	_ = p.Set("delimiter", string(filepath.ListSeparator))

	_ = p.Set("join", func(call goja.FunctionCall) goja.Value {
		parts := stringArgs(call.Arguments)
		if len(parts) == 0 {
			return vm.ToValue(".")
		}
		return vm.ToValue(filepath.Join(parts...))
	})

	_ = p.Set("resolve", func(call goja.FunctionCall) goja.Value {
		resolved := ""
		// Later absolute segments restart the path.
		for _, part := range stringArgs(call.Arguments) {
			if filepath.IsAbs(part) {
				resolved = part
				continue
			}
			resolved = filepath.Join(resolved, part)
		}
		abs, err := filepath.Abs(resolved)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(abs)
	})

	_ = p.Set("normalize", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(filepath.Clean(requireString(vm, call, 0, "path")))
	})

	_ = p.Set("dirname", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(filepath.Dir(requireString(vm, call, 0, "path")))
	})

	_ = p.Set("basename", func(call goja.FunctionCall) goja.Value {
		base := filepath.Base(requireString(vm, call, 0, "path"))
		if len(call.Arguments) > 1 {
			ext := call.Arguments[1].String()
			if ext != base {
				base = strings.TrimSuffix(base, ext)
			}
		}
		return vm.ToValue(base)
	})

	_ = p.Set("extname", func(call goja.FunctionCall) goja.Value {
		base := filepath.Base(requireString(vm, call, 0, "path"))
		// Dotfiles such as ".profile" have no extension.
		if strings.LastIndex(base, ".") <= 0 {
			return vm.ToValue("")
		}
		return vm.ToValue(filepath.Ext(base))
	})

	_ = p.Set("isAbsolute", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(filepath.IsAbs(requireString(vm, call, 0, "path")))
	})

	_ = p.Set("relative", func(call goja.FunctionCall) goja.Value {
		from := requireString(vm, call, 0, "from")
		to := requireString(vm, call, 1, "to")
		rel, err := filepath.Rel(from, to)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(rel)
	})

	return p
}

// requireString returns argument i as a string or throws a TypeError.
func requireString(vm *goja.Runtime, call goja.FunctionCall, i int, name string) string {
	if len(call.Arguments) <= i {
		panic(vm.NewTypeError(name + " is required"))
	}
	return call.Arguments[i].String()
}

func stringArgs(args []goja.Value) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		out = append(out, a.String())
	}
	return out
}
