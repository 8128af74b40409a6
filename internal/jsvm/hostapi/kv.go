package hostapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dop251/goja"

	"jsbox/internal/storage"
)

const kvPrefix = "jsbox:"

// newKV builds the kv module: a persistent JSON value store backed by
// hctx.DB. Keys are namespaced so scripts only see their own entries.
func newKV(vm *goja.Runtime, hctx *Context) *goja.Object {
	kvObj := vm.NewObject()

	_ = kvObj.Set("get", func(call goja.FunctionCall) goja.Value {
		key := kvPrefix + requireString(vm, call, 0, "key")
		if hctx.DB == nil {
			return goja.Null()
		}

		value, err := hctx.DB.KVGet(key)
		if errors.Is(err, storage.ErrNotFound) {
			return goja.Null()
		}
		if err != nil {
			panic(vm.NewTypeError(fmt.Sprintf("kv get failed: %v", err)))
		}

		var result any
		if err := json.Unmarshal([]byte(value), &result); err != nil {
			// Values written outside the module may not be JSON
			return vm.ToValue(value)
		}
		return vm.ToValue(result)
	})

	// set(key, value[, ttlSeconds])
	_ = kvObj.Set("set", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(vm.NewTypeError("key and value are required"))
		}
		key := kvPrefix + call.Arguments[0].String()

		data, err := json.Marshal(call.Arguments[1].Export())
		if err != nil {
			panic(vm.NewTypeError(fmt.Sprintf("failed to serialize value: %v", err)))
		}

		var ttl time.Duration
		if len(call.Arguments) > 2 {
			ttl = time.Duration(call.Arguments[2].ToFloat() * float64(time.Second))
		}

		if hctx.DB == nil {
			return goja.Undefined()
		}
		if err := hctx.DB.KVSet(key, string(data), ttl); err != nil {
			panic(vm.NewTypeError(fmt.Sprintf("kv set failed: %v", err)))
		}
		return goja.Undefined()
	})

	_ = kvObj.Set("delete", func(call goja.FunctionCall) goja.Value {
		key := kvPrefix + requireString(vm, call, 0, "key")
		if hctx.DB == nil {
			return vm.ToValue(false)
		}

		err := hctx.DB.KVDelete(key)
		if errors.Is(err, storage.ErrNotFound) {
			return vm.ToValue(false)
		}
		if err != nil {
			panic(vm.NewTypeError(fmt.Sprintf("kv delete failed: %v", err)))
		}
		return vm.ToValue(true)
	})

	_ = kvObj.Set("keys", func(call goja.FunctionCall) goja.Value {
		prefix := kvPrefix
		if len(call.Arguments) > 0 {
			prefix += call.Arguments[0].String()
		}
		if hctx.DB == nil {
			return vm.ToValue([]string{})
		}

		result, err := hctx.DB.KVList(prefix)
		if err != nil {
			panic(vm.NewTypeError(fmt.Sprintf("kv list failed: %v", err)))
		}

		keys := make([]string, 0, len(result))
		for k := range result {
			keys = append(keys, k[len(kvPrefix):])
		}
		sort.Strings(keys)
		return vm.ToValue(keys)
	})

	return kvObj
}
