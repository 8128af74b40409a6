package jsvm

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/dop251/goja"

	"jsbox/internal/jsvmerr"
)

// Parameter lists of the function each entry point wraps source in.
const (
	moduleArgs = "module, exports, require, run, __filename, __dirname"
	mainArgs   = "module, exports, require, run, argv, __filename, __dirname"
	workerArgs = "require, run, Master, __filename, __dirname"
)

// scriptWrapper evaluates its sixth argument with a direct eval, so the
// snippet's completion value is returned and its var bindings stay local.
var scriptWrapper = goja.MustCompile("script",
	"(function(require, run, argv, __filename, __dirname) { return eval(arguments[5]); })", false)

// JSLoader runs JavaScript source in every mode.
type JSLoader struct {
	BaseLoader
}

// NewJSLoader creates the ".js" loader.
func NewJSLoader() *JSLoader {
	return &JSLoader{BaseLoader: NewBaseLoader(".js")}
}

// compile wraps src in a function taking params and evaluates it to the
// function value. The opening line is shared with the source so line
// numbers in stack traces match the file.
func (l *JSLoader) compile(vm *goja.Runtime, src []byte, name, params string) (goja.Callable, error) {
	var buf bytes.Buffer
	buf.Grow(len(src) + len(params) + 32)
	buf.WriteString("(function(")
	buf.WriteString(params)
	buf.WriteString(") {")
	buf.Write(stripShebang(src))
	buf.WriteString("\n})")

	prg, err := goja.Compile(name, buf.String(), false)
	if err != nil {
		return nil, wrapExecutionError(err, name)
	}

	val, err := vm.RunProgram(prg)
	if err != nil {
		return nil, wrapExecutionError(err, name)
	}

	fn, ok := goja.AssertFunction(val)
	if !ok {
		return nil, &jsvmerr.ScriptSyntaxError{File: name, Message: "module wrapper is not a function"}
	}
	return fn, nil
}

// RunScript implements ExtLoader.
func (l *JSLoader) RunScript(ctx *Context, src []byte, name string, argv []string) (goja.Value, error) {
	vm := ctx.Runtime()

	val, err := vm.RunProgram(scriptWrapper)
	if err != nil {
		return nil, wrapExecutionError(err, name)
	}
	fn, _ := goja.AssertFunction(val)

	return fn(goja.Undefined(),
		ctx.Require,
		ctx.Run,
		argvValue(vm, argv),
		vm.ToValue(name),
		vm.ToValue(filepath.Dir(name)),
		vm.ToValue(string(stripShebang(src))),
	)
}

// RunMain implements ExtLoader.
func (l *JSLoader) RunMain(ctx *Context, src []byte, name string, argv []string) error {
	vm := ctx.Runtime()

	fn, err := l.compile(vm, src, name, mainArgs)
	if err != nil {
		return err
	}

	module, exports := newModuleObject(vm, ".", name)
	if err := ctx.Require.Set("main", module); err != nil {
		return fmt.Errorf("set require.main: %w", err)
	}

	_, err = fn(exports,
		module,
		exports,
		ctx.Require,
		ctx.Run,
		argvValue(vm, argv),
		vm.ToValue(name),
		vm.ToValue(filepath.Dir(name)),
	)
	return err
}

// RunWorker implements ExtLoader.
func (l *JSLoader) RunWorker(ctx *Context, src []byte, name string, master *Worker) error {
	vm := ctx.Runtime()

	fn, err := l.compile(vm, src, name, workerArgs)
	if err != nil {
		return err
	}

	_, err = fn(goja.Undefined(),
		ctx.Require,
		ctx.Run,
		master.bind(vm),
		vm.ToValue(name),
		vm.ToValue(filepath.Dir(name)),
	)
	return err
}

// RunModule implements ExtLoader.
func (l *JSLoader) RunModule(ctx *Context, src []byte, name string, module, exports *goja.Object) error {
	vm := ctx.Runtime()

	fn, err := l.compile(vm, src, name, moduleArgs)
	if err != nil {
		return err
	}

	_, err = fn(exports,
		module,
		exports,
		ctx.Require,
		ctx.Run,
		vm.ToValue(name),
		vm.ToValue(filepath.Dir(name)),
	)
	return err
}

// stripShebang blanks a leading "#!" line so executable scripts compile.
func stripShebang(src []byte) []byte {
	if !bytes.HasPrefix(src, []byte("#!")) {
		return src
	}
	out := make([]byte, len(src))
	copy(out, src)
	out[0], out[1] = '/', '/'
	return out
}
