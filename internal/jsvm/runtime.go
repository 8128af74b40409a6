package jsvm

import (
	"errors"
	"os"
	"sync"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"jsbox/internal/jsvm/hostapi"
	"jsbox/internal/jsvmerr"
)

// Realm is an isolated global object and execution context. With goja a
// realm is one goja.Runtime.
type Realm struct {
	id string
	vm *goja.Runtime
}

// newRealm creates a fresh realm with the console global installed.
func newRealm(logger zerolog.Logger) *Realm {
	vm := goja.New()

	// Configure field name mapper so Go values surface with their json names
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	r := &Realm{
		id: uuid.NewString(),
		vm: vm,
	}
	hostapi.RegisterConsole(vm, logger.With().Str("realm", r.id).Logger())
	return r
}

// ID returns the realm identifier.
func (r *Realm) ID() string {
	return r.id
}

// Runtime returns the underlying goja runtime.
func (r *Realm) Runtime() *goja.Runtime {
	return r.vm
}

// Global returns the realm's global object.
func (r *Realm) Global() *goja.Object {
	return r.vm.GlobalObject()
}

// Interrupt stops whatever script is running in the realm. The running
// call returns a *goja.InterruptedError carrying v.
func (r *Realm) Interrupt(v any) {
	r.vm.Interrupt(v)
}

// ClearInterrupt clears a pending interrupt so the realm can run again.
func (r *Realm) ClearInterrupt() {
	r.vm.ClearInterrupt()
}

func (r *Realm) close() {
	r.vm.ClearInterrupt()
	_ = r.vm.GlobalObject().Delete("console")
}

// Host is the ambient environment sandboxes run in: the shared root realm,
// the stack of entered realms, the filesystem and the working directory.
// A Host belongs to one thread of control; workers get their own.
type Host struct {
	fs     FS
	cwd    string
	logger zerolog.Logger
	root   *Realm

	mu    sync.Mutex
	stack []*Realm
}

// NewHost creates a host with a fresh root realm. An empty cwd means the
// process working directory; a nil fs means the OS filesystem.
func NewHost(fsys FS, cwd string, logger zerolog.Logger) *Host {
	if fsys == nil {
		fsys = OSFS{}
	}
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			wd = string(os.PathSeparator)
		}
		cwd = wd
	}
	return &Host{
		fs:     fsys,
		cwd:    cwd,
		logger: logger,
		root:   newRealm(logger),
	}
}

// Root returns the host's ambient realm.
func (h *Host) Root() *Realm {
	return h.root
}

// Cwd returns the directory bare and relative ids resolve against when no
// base is given.
func (h *Host) Cwd() string {
	return h.cwd
}

// Current returns the innermost entered realm, or the root realm.
func (h *Host) Current() *Realm {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.stack); n > 0 {
		return h.stack[n-1]
	}
	return h.root
}

// Depth returns how many realms are currently entered.
func (h *Host) Depth() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.stack)
}

func (h *Host) enter(r *Realm) {
	h.mu.Lock()
	h.stack = append(h.stack, r)
	h.mu.Unlock()
}

func (h *Host) exit() {
	h.mu.Lock()
	if n := len(h.stack); n > 0 {
		h.stack[n-1] = nil
		h.stack = h.stack[:n-1]
	}
	h.mu.Unlock()
}

// scope enters a sandbox's dedicated realm for the duration of one call.
// Each realm owns its own goja runtime, so entering switches nothing in the
// engine; it records the realm on the host stack that Current and Depth
// report. Always release it with defer.
type scope struct {
	host    *Host
	entered bool
}

func enterScope(sb *Sandbox) *scope {
	s := &scope{host: sb.host}
	if sb.realm != nil {
		sb.host.enter(sb.realm)
		s.entered = true
	}
	return s
}

func (s *scope) close() {
	if s.entered {
		s.host.exit()
		s.entered = false
	}
}

// wrapExecutionError converts goja errors to structured errors tagged with
// the executing module id. Errors that did not come from the engine are
// returned as is.
func wrapExecutionError(err error, id string) error {
	switch err.(type) {
	case nil:
		return nil
	case *jsvmerr.ExecutionError, *jsvmerr.ScriptSyntaxError:
		return err
	}

	var compileErr *goja.CompilerSyntaxError
	if errors.As(err, &compileErr) {
		return &jsvmerr.ScriptSyntaxError{
			File:    id,
			Message: compileErr.Error(),
			Cause:   err,
		}
	}

	var exception *goja.Exception
	var interrupted *goja.InterruptedError
	if errors.As(err, &exception) || errors.As(err, &interrupted) {
		return &jsvmerr.ExecutionError{
			Script: id,
			Cause:  err,
		}
	}

	return err
}

// exportValue converts goja values to Go values.
func exportValue(val goja.Value) any {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}
