package jsvm

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// newTestSandbox creates a sandbox over an in-memory tree rooted at "/",
// with cwd /app.
func newTestSandbox(t *testing.T, files map[string]string, opts ...Option) *Sandbox {
	t.Helper()
	return newTestSandboxConfig(t, DefaultConfig(), files, opts...)
}

func newTestSandboxConfig(t *testing.T, cfg Config, files map[string]string, opts ...Option) *Sandbox {
	t.Helper()

	mfs := fstest.MapFS{}
	for name, src := range files {
		mfs[strings.TrimPrefix(name, "/")] = &fstest.MapFile{Data: []byte(src)}
	}
	if cfg.Cwd == "" {
		cfg.Cwd = "/app"
	}

	sb := New(cfg, zerolog.Nop(), append([]Option{WithFS(NewIOFS(mfs))}, opts...)...)
	t.Cleanup(func() { _ = sb.Close() })
	return sb
}

// hits installs a global hit(name) counter in the sandbox's realm.
func hits(t *testing.T, sb *Sandbox) map[string]int {
	t.Helper()
	counts := make(map[string]int)
	err := sb.Realm().Runtime().Set("hit", func(name string) {
		counts[name]++
	})
	if err != nil {
		t.Fatalf("set hit: %v", err)
	}
	return counts
}

func TestRequireExecutesOnce(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{
		"/app/lib/counter.js": `hit("counter"); module.exports = {n: 1};`,
	})
	counts := hits(t, sb)

	a, err := sb.Require("./lib/counter", "/app/main.js")
	if err != nil {
		t.Fatalf("first require: %v", err)
	}
	b, err := sb.Require("../lib/counter.js", "/app/x/y.js")
	if err != nil {
		t.Fatalf("second require: %v", err)
	}

	if counts["counter"] != 1 {
		t.Errorf("module executed %d times, want 1", counts["counter"])
	}
	if !a.SameAs(b) {
		t.Error("both requests should return the same exports object")
	}
}

func TestRequireCycle(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{
		"/app/a.js": `
exports.early = 1;
const b = require("./b");
exports.fromB = b.sawEarly;
exports.bSawDone = b.sawDone;
exports.done = true;
`,
		"/app/b.js": `
const a = require("./a");
exports.sawEarly = a.early;
exports.sawDone = !!a.done;
`,
	})

	val, err := sb.Require("./a", "")
	if err != nil {
		t.Fatalf("require: %v", err)
	}

	got := val.Export().(map[string]any)
	if got["fromB"] != int64(1) {
		t.Errorf("b should see a's partial exports, got fromB=%v", got["fromB"])
	}
	if got["bSawDone"] != false {
		t.Errorf("b should not see a finished, got %v", got["bSawDone"])
	}
	if got["done"] != true {
		t.Errorf("a did not finish: %v", got)
	}
}

func TestRequireModuleExportsReassignment(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{
		"/app/fn.js": `module.exports = function () { return 7; };`,
	})

	val, err := sb.Require("./fn", "")
	if err != nil {
		t.Fatalf("require: %v", err)
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		t.Fatalf("exports is not a function: %v", val)
	}
	res, err := fn(goja.Undefined())
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.ToInteger() != 7 {
		t.Errorf("got %v, want 7", res)
	}
}

func TestRequireFailureReleasesSlot(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{
		"/app/flaky.js": `hit("flaky"); if (shouldFail) throw new Error("not yet"); exports.ok = true;`,
	})
	counts := hits(t, sb)
	vm := sb.Realm().Runtime()

	_ = vm.Set("shouldFail", true)
	_, err := sb.Require("./flaky", "")
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("want execution error, got %v", err)
	}
	if len(sb.cache) != 0 {
		t.Errorf("failed module left %d cache entries", len(sb.cache))
	}

	_ = vm.Set("shouldFail", false)
	val, err := sb.Require("./flaky", "")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if counts["flaky"] != 2 {
		t.Errorf("module ran %d times, want 2", counts["flaky"])
	}
	if !val.ToObject(vm).Get("ok").ToBoolean() {
		t.Error("retry should have completed")
	}
}

// panicLoader fails every module load with a Go panic.
type panicLoader struct {
	BaseLoader
}

func (l *panicLoader) RunModule(*Context, []byte, string, *goja.Object, *goja.Object) error {
	panic("loader exploded")
}

func TestRequireLoaderPanicReleasesSlot(t *testing.T) {
	sb := newTestSandboxConfig(t, Config{DedicatedRealm: true}, map[string]string{
		"/app/p.boom": `anything`,
	})
	sb.AddLoader(&panicLoader{BaseLoader: NewBaseLoader(".boom")})

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected the loader panic to propagate")
			}
		}()
		_, _ = sb.Require("./p", "")
	}()

	if len(sb.cache) != 0 {
		t.Errorf("panicking loader left %d cache entries", len(sb.cache))
	}
	if d := sb.Host().Depth(); d != 0 {
		t.Errorf("depth after panic = %d, want 0", d)
	}
	if err := sb.Add("/app/p", 1); err != nil {
		t.Errorf("add after panic: %v", err)
	}
	val, err := sb.Require("/app/p", "")
	if err != nil {
		t.Fatalf("require after add: %v", err)
	}
	if val.ToInteger() != 1 {
		t.Errorf("got %v, want 1", val)
	}
}

func TestRequireSelfCycle(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{
		"/app/self.js": `
hit("self");
exports.a = 1;
const me = require("./self");
exports.same = me === exports;
exports.sawA = me.a;
`,
	})
	counts := hits(t, sb)

	val, err := sb.Require("./self", "")
	if err != nil {
		t.Fatalf("require: %v", err)
	}
	if counts["self"] != 1 {
		t.Errorf("module ran %d times, want 1", counts["self"])
	}

	got := val.Export().(map[string]any)
	if got["same"] != true {
		t.Errorf("self require should return the in-progress exports, got %v", got)
	}
	if got["sawA"] != int64(1) {
		t.Errorf("sawA = %v, want 1", got["sawA"])
	}
}

func TestRequireSyntaxError(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{
		"/app/bad.js": `function (`,
	})

	_, err := sb.Require("./bad", "")
	if !errors.Is(err, ErrScriptSyntax) {
		t.Fatalf("want syntax error, got %v", err)
	}
	if len(sb.cache) != 0 {
		t.Error("syntax error should not leave a cache entry")
	}
}

func TestRequireNotFoundVsUnsupported(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{
		"/app/data.txt": "plain text",
	})

	_, err := sb.Require("./data.txt", "/app/main.js")
	if !errors.Is(err, ErrUnsupportedFileFormat) {
		t.Errorf("existing file without loader: got %v", err)
	}

	_, err = sb.Require("./nope", "/app/main.js")
	if !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("missing file: got %v", err)
	}
	var nf *ModuleNotFoundError
	if !errors.As(err, &nf) || nf.ID != "./nope" || nf.Base != "/app/main.js" {
		t.Errorf("not found error should carry id and base: %#v", nf)
	}

	if _, err := sb.Require("", ""); !errors.Is(err, ErrInvalidModuleID) {
		t.Errorf("empty id: got %v", err)
	}
}

func TestResolveDoesNotLoad(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{
		"/app/lib/counter.js": `hit("counter");`,
	})
	counts := hits(t, sb)

	id, err := sb.Resolve("./lib/counter.js", "/app/main.js")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "/app/lib/counter" {
		t.Errorf("id = %q, want /app/lib/counter", id)
	}
	if len(sb.cache) != 0 || counts["counter"] != 0 {
		t.Error("resolve must not load or cache anything")
	}

	if _, err := sb.Resolve("./missing", "/app/main.js"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("missing: got %v", err)
	}
}

func TestAddAndRemove(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{
		"/app/lib/counter.js": `module.exports = "from file";`,
	})

	if err := sb.Add("settings", map[string]any{"debug": true}); err != nil {
		t.Fatalf("add: %v", err)
	}
	val, err := sb.Require("settings", "/app/main.js")
	if err != nil {
		t.Fatalf("require registered: %v", err)
	}
	if !val.ToObject(sb.Realm().Runtime()).Get("debug").ToBoolean() {
		t.Errorf("unexpected registered value %v", val)
	}

	// Replacing a loaded file module evicts it.
	if _, err := sb.Require("./lib/counter", "/app/main.js"); err != nil {
		t.Fatalf("require file: %v", err)
	}
	if err := sb.Add("/app/lib/counter.js", "replaced"); err != nil {
		t.Fatalf("add over loaded: %v", err)
	}
	val, err = sb.Require("./lib/counter", "/app/main.js")
	if err != nil {
		t.Fatalf("require replaced: %v", err)
	}
	if val.String() != "replaced" {
		t.Errorf("got %q, want replaced", val.String())
	}

	if err := sb.Remove("settings"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := sb.Require("settings", ""); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("removed module still resolves: %v", err)
	}
	if err := sb.Remove("settings"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("second remove: got %v", err)
	}
	if err := sb.Add("", 1); !errors.Is(err, ErrInvalidModuleID) {
		t.Errorf("add empty id: got %v", err)
	}
}

func TestAddMap(t *testing.T) {
	sb := newTestSandbox(t, nil)

	err := sb.AddMap(map[string]any{"a": 1, "b": "two"})
	if err != nil {
		t.Fatalf("add map: %v", err)
	}
	for id, want := range map[string]string{"a": "1", "b": "two"} {
		val, err := sb.Require(id, "")
		if err != nil {
			t.Fatalf("require %s: %v", id, err)
		}
		if val.String() != want {
			t.Errorf("%s = %q, want %q", id, val.String(), want)
		}
	}
}

func TestAddAndRemoveWhileLoading(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{
		"/app/m.js": `mark();`,
	})

	var addErr, removeErr error
	_ = sb.Realm().Runtime().Set("mark", func() {
		addErr = sb.Add("/app/m.js", "other")
		removeErr = sb.Remove("/app/m")
	})

	if _, err := sb.Require("./m", ""); err != nil {
		t.Fatalf("require: %v", err)
	}
	if !errors.Is(addErr, ErrCacheConflict) {
		t.Errorf("add while loading: got %v", addErr)
	}
	if !errors.Is(removeErr, ErrCacheConflict) {
		t.Errorf("remove while loading: got %v", removeErr)
	}
}

func TestModuleFuncIsMemoized(t *testing.T) {
	calls := 0
	builtin := ModuleFunc(func(vm *goja.Runtime) (goja.Value, error) {
		calls++
		obj := vm.NewObject()
		_ = obj.Set("n", calls)
		return obj, nil
	})
	sb := newTestSandbox(t, nil, WithBuiltins(map[string]any{"counter": builtin}))

	a, err := sb.Require("counter", "")
	if err != nil {
		t.Fatalf("require: %v", err)
	}
	b, _ := sb.Require("counter", "")
	if calls != 1 || !a.SameAs(b) {
		t.Errorf("builtin built %d times, want 1 shared instance", calls)
	}

	clone := sb.Clone()
	defer clone.Close()
	if _, err := clone.Require("counter", ""); err != nil {
		t.Fatalf("clone require: %v", err)
	}
	if calls != 2 {
		t.Errorf("clone should build its own instance, calls = %d", calls)
	}
}

func TestModuleFuncError(t *testing.T) {
	sb := newTestSandbox(t, nil, WithBuiltins(map[string]any{
		"broken": ModuleFunc(func(*goja.Runtime) (goja.Value, error) {
			return nil, errors.New("no backend")
		}),
	}))

	_, err := sb.Require("broken", "")
	if err == nil || !strings.Contains(err.Error(), "no backend") {
		t.Errorf("got %v, want init error", err)
	}
}

func TestCloneIsolation(t *testing.T) {
	sb := newTestSandboxConfig(t, Config{DedicatedRealm: true}, map[string]string{
		"/app/lib.js": `hit("lib"); module.exports = {};`,
	}, WithBuiltins(map[string]any{"greeting": "hi"}))

	if err := sb.Add("local", 1); err != nil {
		t.Fatalf("add: %v", err)
	}

	clone := sb.Clone()
	defer clone.Close()

	if !clone.HasDedicatedRealm() || clone.Realm() == sb.Realm() {
		t.Error("clone of a dedicated sandbox needs its own realm")
	}
	if clone.Host() != sb.Host() {
		t.Error("clone should share the host")
	}

	if _, err := clone.Require("local", ""); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("registry leaked into clone: %v", err)
	}
	val, err := clone.Require("greeting", "")
	if err != nil || val.String() != "hi" {
		t.Errorf("builtin missing in clone: %v, %v", val, err)
	}

	// Loaders registered later are not shared.
	n := len(clone.Loaders())
	sb.AddLoader(NewBaseLoader(".txt"))
	if len(clone.Loaders()) != n {
		t.Error("loader added to original leaked into clone")
	}

	// Module caches are separate.
	counts := hits(t, sb)
	cloneCounts := hits(t, clone)
	if _, err := sb.Require("./lib", ""); err != nil {
		t.Fatalf("require in original: %v", err)
	}
	if _, err := clone.Require("./lib", ""); err != nil {
		t.Fatalf("require in clone: %v", err)
	}
	if counts["lib"] != 1 || cloneCounts["lib"] != 1 {
		t.Errorf("each sandbox should load once: %v %v", counts, cloneCounts)
	}
}

func TestGlobal(t *testing.T) {
	shared := newTestSandbox(t, nil)
	if _, err := shared.Global(); !errors.Is(err, ErrNoDedicatedRealm) {
		t.Errorf("shared sandbox Global: got %v", err)
	}
	if shared.Realm() != shared.Host().Root() {
		t.Error("shared sandbox should run in the root realm")
	}

	dedicated := newTestSandboxConfig(t, Config{DedicatedRealm: true}, nil)
	g, err := dedicated.Global()
	if err != nil {
		t.Fatalf("Global: %v", err)
	}
	if g == dedicated.Host().Root().Global() {
		t.Error("dedicated global must differ from the root realm's")
	}
}

func TestScopeEntersDedicatedRealm(t *testing.T) {
	sb := newTestSandboxConfig(t, Config{DedicatedRealm: true}, map[string]string{
		"/app/ok.js":   `mark();`,
		"/app/fail.js": `mark(); throw new Error("boom");`,
	})

	var depth int
	var current *Realm
	_ = sb.Realm().Runtime().Set("mark", func() {
		depth = sb.Host().Depth()
		current = sb.Host().Current()
	})

	if _, err := sb.Require("./ok", ""); err != nil {
		t.Fatalf("require: %v", err)
	}
	if depth != 1 || current != sb.Realm() {
		t.Errorf("inside module: depth=%d current=%v", depth, current)
	}
	if sb.Host().Depth() != 0 {
		t.Errorf("depth after require = %d, want 0", sb.Host().Depth())
	}

	if _, err := sb.Require("./fail", ""); err == nil {
		t.Fatal("expected failure")
	}
	if sb.Host().Depth() != 0 {
		t.Errorf("depth after failed require = %d, want 0", sb.Host().Depth())
	}
}

func TestRunMain(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{
		"/app/main.js": `
hit(require.main.id);
hit(module.id + ":" + argv.join(","));
hit(__filename);
run("./other.js", ["x"]);
`,
		"/app/other.js": `hit("other:" + argv[0]);`,
	})
	counts := hits(t, sb)

	if err := sb.Run("main.js", []string{"a", "b"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := sb.Run("/app/main", []string{"a", "b"}); err != nil {
		t.Fatalf("second run: %v", err)
	}

	for key, want := range map[string]int{".:a,b": 2, "/app/main.js": 2, "other:x": 2} {
		if counts[key] != want {
			t.Errorf("hit %q = %d, want %d (all: %v)", key, counts[key], want, counts)
		}
	}
	if len(sb.cache) != 0 {
		t.Error("main programs are not cached")
	}

	if err := sb.Run("missing.js", nil); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("missing program: got %v", err)
	}
}

func TestRunScript(t *testing.T) {
	sb := newTestSandbox(t, nil)
	vm := sb.Realm().Runtime()

	val, err := sb.RunScript("snippet.js", []byte(`var local = 5; local * 2`), nil)
	if err != nil {
		t.Fatalf("run script: %v", err)
	}
	if val.ToInteger() != 10 {
		t.Errorf("got %v, want 10", val)
	}
	if v := vm.Get("local"); v != nil && !goja.IsUndefined(v) {
		t.Error("script var leaked into the global scope")
	}

	val, err = sb.RunScript("args.js", []byte(`argv.join("-")`), []string{"a", "b"})
	if err != nil {
		t.Fatalf("run script with argv: %v", err)
	}
	if val.String() != "a-b" {
		t.Errorf("got %q, want a-b", val.String())
	}

	_, err = sb.RunScript("data.json", []byte(`{}`), nil)
	var unsupported *UnsupportedFormatError
	if !errors.As(err, &unsupported) || unsupported.Mode != ModeScript {
		t.Errorf("json script: got %v", err)
	}

	_, err = sb.RunScript("notes.txt", []byte(`x`), nil)
	if !errors.Is(err, ErrUnsupportedFileFormat) {
		t.Errorf("unknown extension: got %v", err)
	}
}

func TestAddScript(t *testing.T) {
	sb := newTestSandbox(t, nil)

	val, err := sb.AddScript("/app/virtual.js", []byte(`module.exports = 42;`))
	if err != nil {
		t.Fatalf("add script: %v", err)
	}
	if val.ToInteger() != 42 {
		t.Errorf("got %v, want 42", val)
	}

	// The file does not exist; the cached result serves the require.
	again, err := sb.Require("./virtual", "/app/main.js")
	if err != nil {
		t.Fatalf("require: %v", err)
	}
	if again.ToInteger() != 42 {
		t.Errorf("got %v, want 42", again)
	}

	val, err = sb.AddScript("inline.json", []byte(`{"a": [1, 2]}`))
	if err != nil {
		t.Fatalf("add json script: %v", err)
	}
	if got := val.ToObject(sb.Realm().Runtime()).Get("a").Export(); len(got.([]any)) != 2 {
		t.Errorf("unexpected json exports %v", got)
	}
}

func TestInterrupt(t *testing.T) {
	sb := newTestSandbox(t, nil)

	timer := time.AfterFunc(50*time.Millisecond, func() { sb.Interrupt("stop") })
	defer timer.Stop()

	_, err := sb.RunScript("loop.js", []byte(`for (;;) {}`), nil)
	var interrupted *goja.InterruptedError
	if !errors.As(err, &interrupted) {
		t.Fatalf("want interrupted error, got %v", err)
	}
	if interrupted.Value() != "stop" {
		t.Errorf("interrupt value = %v, want stop", interrupted.Value())
	}
	if !errors.Is(err, ErrExecution) {
		t.Errorf("interrupt should surface as an execution error: %v", err)
	}
}

func TestClose(t *testing.T) {
	sb := newTestSandbox(t, map[string]string{"/app/a.js": ``})

	if err := sb.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sb.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := sb.Require("./a", ""); err == nil {
		t.Error("require after close should fail")
	}
	if err := sb.Add("x", 1); err == nil {
		t.Error("add after close should fail")
	}
}
