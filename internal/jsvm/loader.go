package jsvm

import (
	"path/filepath"

	"github.com/dop251/goja"

	"jsbox/internal/jsvmerr"
)

// Entry point names, used in UnsupportedFormatError.Mode.
const (
	ModeScript = "run_script"
	ModeMain   = "run_main"
	ModeWorker = "run_worker"
	ModeModule = "run_module"
)

// ExtLoader turns source of one file type into an executed effect. Loaders
// are stateless and may be shared by any number of sandboxes.
type ExtLoader interface {
	// Ext returns the filename suffix the loader handles, including the dot.
	Ext() string

	// RunScript executes src as an anonymous snippet and returns its value.
	RunScript(ctx *Context, src []byte, name string, argv []string) (goja.Value, error)

	// RunMain executes src as a top-level program.
	RunMain(ctx *Context, src []byte, name string, argv []string) error

	// RunWorker executes src as the entry point of a worker wired to master.
	RunWorker(ctx *Context, src []byte, name string, master *Worker) error

	// RunModule executes src as a library module. On return exports, or
	// whatever module.exports was reassigned to, is the public surface.
	RunModule(ctx *Context, src []byte, name string, module, exports *goja.Object) error
}

// BaseLoader supplies the default entry points, all of which fail with
// ErrUnsupportedFileFormat. Concrete loaders embed it and override the modes
// they support.
type BaseLoader struct {
	ext string
}

// NewBaseLoader returns a loader for ext that supports nothing.
func NewBaseLoader(ext string) BaseLoader {
	return BaseLoader{ext: ext}
}

// Ext implements ExtLoader.
func (l BaseLoader) Ext() string {
	return l.ext
}

// RunScript implements ExtLoader.
func (l BaseLoader) RunScript(_ *Context, _ []byte, name string, _ []string) (goja.Value, error) {
	return nil, &jsvmerr.UnsupportedFormatError{Path: name, Mode: ModeScript}
}

// RunMain implements ExtLoader.
func (l BaseLoader) RunMain(_ *Context, _ []byte, name string, _ []string) error {
	return &jsvmerr.UnsupportedFormatError{Path: name, Mode: ModeMain}
}

// RunWorker implements ExtLoader.
func (l BaseLoader) RunWorker(_ *Context, _ []byte, name string, _ *Worker) error {
	return &jsvmerr.UnsupportedFormatError{Path: name, Mode: ModeWorker}
}

// RunModule implements ExtLoader.
func (l BaseLoader) RunModule(_ *Context, _ []byte, name string, _, _ *goja.Object) error {
	return &jsvmerr.UnsupportedFormatError{Path: name, Mode: ModeModule}
}

// DefaultLoaders returns the standard loader chain in priority order.
func DefaultLoaders() []ExtLoader {
	return []ExtLoader{
		NewJSLoader(),
		NewJSONLoader(),
		NewYAMLLoader(".yaml"),
		NewYAMLLoader(".yml"),
		NewWasmLoader(),
	}
}

// selectLoader picks the loader whose suffix is the longest match of the
// filename. Ties go to the first registered loader. The filename must be
// longer than the suffix, so a file literally named ".js" matches nothing.
func selectLoader(loaders []ExtLoader, fname string) ExtLoader {
	base := filepath.Base(fname)

	var best ExtLoader
	for _, l := range loaders {
		ext := l.Ext()
		if len(base) <= len(ext) || base[len(base)-len(ext):] != ext {
			continue
		}
		if best == nil || len(ext) > len(best.Ext()) {
			best = l
		}
	}
	return best
}
