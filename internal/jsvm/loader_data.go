package jsvm

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
	"gopkg.in/yaml.v3"
)

// JSONLoader exposes a JSON document as module.exports.
type JSONLoader struct {
	BaseLoader
}

// NewJSONLoader creates the ".json" loader.
func NewJSONLoader() *JSONLoader {
	return &JSONLoader{BaseLoader: NewBaseLoader(".json")}
}

// RunModule implements ExtLoader.
func (l *JSONLoader) RunModule(ctx *Context, src []byte, name string, module, _ *goja.Object) error {
	val, err := parseJSON(ctx.Runtime(), string(src))
	if err != nil {
		return err
	}
	return module.Set("exports", val)
}

// YAMLLoader exposes a YAML document as module.exports.
type YAMLLoader struct {
	BaseLoader
}

// NewYAMLLoader creates a YAML loader for ext (".yaml" or ".yml").
func NewYAMLLoader(ext string) *YAMLLoader {
	return &YAMLLoader{BaseLoader: NewBaseLoader(ext)}
}

// RunModule implements ExtLoader.
func (l *YAMLLoader) RunModule(ctx *Context, src []byte, name string, module, _ *goja.Object) error {
	var doc any
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}

	// Round trip through JSON so the document becomes plain script objects
	// instead of wrapped Go maps.
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert %s: %w", name, err)
	}

	val, err := parseJSON(ctx.Runtime(), string(data))
	if err != nil {
		return err
	}
	return module.Set("exports", val)
}

// parseJSON runs the realm's own JSON.parse on text.
func parseJSON(vm *goja.Runtime, text string) (goja.Value, error) {
	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, fmt.Errorf("JSON.parse is not available")
	}
	return parse(goja.Undefined(), vm.ToValue(text))
}
