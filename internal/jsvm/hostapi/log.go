package hostapi

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// RegisterConsole installs the console global in vm.
func RegisterConsole(vm *goja.Runtime, logger zerolog.Logger) {
	_ = vm.Set("console", newConsole(vm, logger))
}

// newConsole builds a console object writing through logger.
func newConsole(vm *goja.Runtime, logger zerolog.Logger) *goja.Object {
	console := vm.NewObject()

	levels := []struct {
		name  string
		level zerolog.Level
	}{
		{"log", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
	}

	for _, l := range levels {
		level := l.level
		_ = console.Set(l.name, func(call goja.FunctionCall) goja.Value {
			logger.WithLevel(level).Msg(formatLogMessage(call.Arguments))
			return goja.Undefined()
		})
	}

	return console
}

// formatLogMessage joins log arguments with spaces like console.log.
func formatLogMessage(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = formatValue(arg)
	}
	return strings.Join(parts, " ")
}

// formatValue converts a goja.Value to a string representation.
func formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if _, ok := goja.AssertFunction(v); ok {
		return "[Function]"
	}

	switch val := v.Export().(type) {
	case string:
		return val
	case map[string]any, []any:
		// Objects and arrays print as JSON
		if data, err := json.Marshal(val); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", val)
	default:
		return v.String()
	}
}
