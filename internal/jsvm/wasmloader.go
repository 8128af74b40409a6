package jsvm

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WasmLoader instantiates a WebAssembly module and exposes its exported
// functions on module.exports.
type WasmLoader struct {
	BaseLoader
}

// NewWasmLoader creates the ".wasm" loader.
func NewWasmLoader() *WasmLoader {
	return &WasmLoader{BaseLoader: NewBaseLoader(".wasm")}
}

// RunModule implements ExtLoader.
func (l *WasmLoader) RunModule(ctx *Context, src []byte, name string, module, exports *goja.Object) error {
	bg := context.Background()

	// Each module gets its own runtime so instance names never collide and
	// closing the sandbox releases everything it instantiated.
	rt := wazero.NewRuntime(bg)
	if _, err := wasi_snapshot_preview1.Instantiate(bg, rt); err != nil {
		_ = rt.Close(bg)
		return fmt.Errorf("instantiate WASI for %s: %w", name, err)
	}

	compiled, err := rt.CompileModule(bg, src)
	if err != nil {
		_ = rt.Close(bg)
		return fmt.Errorf("compile %s: %w", name, err)
	}

	inst, err := rt.InstantiateModule(bg, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		_ = rt.Close(bg)
		return fmt.Errorf("instantiate %s: %w", name, err)
	}
	ctx.Sandbox().onClose(func() error { return rt.Close(bg) })

	vm := ctx.Runtime()
	for fname, def := range compiled.ExportedFunctions() {
		fn := inst.ExportedFunction(fname)
		if fn == nil {
			continue
		}
		if err := exports.Set(fname, wasmFunction(vm, fn, def)); err != nil {
			return err
		}
	}
	return nil
}

// wasmFunction adapts an exported wasm function to a script function taking
// and returning numbers. Multiple results come back as an array.
func wasmFunction(vm *goja.Runtime, fn api.Function, def api.FunctionDefinition) func(goja.FunctionCall) goja.Value {
	params := def.ParamTypes()
	results := def.ResultTypes()

	return func(call goja.FunctionCall) goja.Value {
		args := make([]uint64, len(params))
		for i, t := range params {
			args[i] = encodeWasmValue(t, call.Argument(i))
		}

		out, err := fn.Call(context.Background(), args...)
		if err != nil {
			panic(vm.NewGoError(err))
		}

		switch len(out) {
		case 0:
			return goja.Undefined()
		case 1:
			return vm.ToValue(decodeWasmValue(results[0], out[0]))
		}
		items := make([]any, len(out))
		for i, v := range out {
			items[i] = decodeWasmValue(results[i], v)
		}
		return vm.NewArray(items...)
	}
}

func encodeWasmValue(t api.ValueType, v goja.Value) uint64 {
	switch t {
	case api.ValueTypeF32:
		return api.EncodeF32(float32(v.ToFloat()))
	case api.ValueTypeF64:
		return api.EncodeF64(v.ToFloat())
	case api.ValueTypeI32:
		return uint64(uint32(int32(v.ToInteger())))
	default:
		return uint64(v.ToInteger())
	}
}

func decodeWasmValue(t api.ValueType, v uint64) any {
	switch t {
	case api.ValueTypeF32:
		return api.DecodeF32(v)
	case api.ValueTypeF64:
		return api.DecodeF64(v)
	case api.ValueTypeI32:
		return int32(uint32(v))
	default:
		return int64(v)
	}
}
