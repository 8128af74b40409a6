package jsvm

import "jsbox/internal/jsvm/hostapi"

// HostModules returns the console, path, fs and kv modules in the form
// WithBuiltins expects.
func HostModules(hctx *hostapi.Context) map[string]any {
	mods := hostapi.Modules(hctx)
	out := make(map[string]any, len(mods))
	for id, fn := range mods {
		out[id] = ModuleFunc(fn)
	}
	return out
}
