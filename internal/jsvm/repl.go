package jsvm

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

// ReplHelp lists the commands the repl understands besides code.
const ReplHelp = `.exit    leave the repl
.help    show this help`

// ReplSession evaluates commands one after another in a realm of its own,
// so bindings made by one command are visible to the next but never to the
// sandbox's modules or to other sessions. Modules required from the session
// load into its private cache.
type ReplSession struct {
	parent *Sandbox
	sb     *Sandbox
	ctx    *Context
}

// NewReplSession starts a session bound to a synthetic module id. The
// session sees the sandbox's loaders and registered modules.
func (sb *Sandbox) NewReplSession() *ReplSession {
	session := sb.cloneOnto(sb.host, true)

	sb.mu.Lock()
	for id, v := range sb.registry {
		// Script values belong to the parent realm.
		if _, ok := v.(goja.Value); !ok {
			session.registry[id] = v
		}
	}
	sb.mu.Unlock()

	id := "repl:" + uuid.NewString()
	ctx := newContext(session, id, "")

	global := session.realm.Global()
	_ = global.Set("require", ctx.Require)
	_ = global.Set("run", ctx.Run)

	return &ReplSession{
		parent: sb,
		sb:     session,
		ctx:    ctx,
	}
}

// ID returns the session's module id.
func (s *ReplSession) ID() string {
	return s.ctx.ID
}

// Realm returns the realm the session evaluates in.
func (s *ReplSession) Realm() *Realm {
	return s.sb.realm
}

// Interrupt stops the command currently running in the session.
func (s *ReplSession) Interrupt(reason any) {
	s.sb.Interrupt(reason)
}

// ClearInterrupt drops a pending interrupt so the next command can run.
func (s *ReplSession) ClearInterrupt() {
	s.sb.realm.ClearInterrupt()
}

// Close releases the session's realm and the modules it loaded.
func (s *ReplSession) Close() error {
	return s.sb.Close()
}

// Eval runs one command and returns its formatted result.
func (s *ReplSession) Eval(cmd string) (string, error) {
	if err := s.parent.checkOpen(); err != nil {
		return "", err
	}
	if err := s.sb.checkOpen(); err != nil {
		return "", err
	}

	sc := enterScope(s.sb)
	defer sc.close()

	vm := s.sb.runtime()
	val, err := vm.RunScript(s.ctx.ID, cmd)
	if err != nil {
		return "", wrapExecutionError(err, s.ctx.ID)
	}
	return formatResult(vm, val), nil
}

// Repl evaluates cmds in order in one fresh session, writing each result or
// error to out as a single chunk before moving on. ".exit" stops early.
func (sb *Sandbox) Repl(cmds []string, out io.Writer) error {
	if err := sb.checkOpen(); err != nil {
		return err
	}
	s := sb.NewReplSession()
	defer s.Close()

	for _, cmd := range cmds {
		switch strings.TrimSpace(cmd) {
		case "":
			continue
		case ".exit":
			return nil
		case ".help":
			if _, err := io.WriteString(out, ReplHelp); err != nil {
				return err
			}
			continue
		}

		res, err := s.Eval(cmd)
		if errors.Is(err, errSandboxClosed) {
			return err
		}
		if err != nil {
			res = FormatError(err)
		}
		if _, err := io.WriteString(out, res); err != nil {
			return err
		}
	}
	return nil
}

// FormatError renders an evaluation error the way the repl prints it:
// script exceptions as their own string form, anything else verbatim.
func FormatError(err error) string {
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return exception.Value().String()
	}
	return err.Error()
}

// formatResult renders a completion value for display.
func formatResult(vm *goja.Runtime, v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if _, ok := goja.AssertFunction(v); ok {
		return "[Function]"
	}

	obj, isObject := v.(*goja.Object)
	if !isObject {
		if s, ok := v.Export().(string); ok {
			data, _ := json.Marshal(s)
			return string(data)
		}
		return v.String()
	}

	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return obj.String()
	}
	out, err := stringify(goja.Undefined(), obj)
	if err != nil || out == nil || goja.IsUndefined(out) {
		return obj.String()
	}
	return out.String()
}
