// Package jsvm provides sandboxed module loading on top of the goja JavaScript engine.
package jsvm

import "jsbox/internal/jsvmerr"

// Re-export errors from jsvmerr so callers only need to import jsvm.
var (
	ErrModuleNotFound        = jsvmerr.ErrModuleNotFound
	ErrUnsupportedFileFormat = jsvmerr.ErrUnsupportedFileFormat
	ErrInvalidModuleID       = jsvmerr.ErrInvalidModuleID
	ErrNoDedicatedRealm      = jsvmerr.ErrNoDedicatedRealm
	ErrCacheConflict         = jsvmerr.ErrCacheConflict
	ErrPathNotAllowed        = jsvmerr.ErrPathNotAllowed
	ErrScriptSyntax          = jsvmerr.ErrScriptSyntax
	ErrExecution             = jsvmerr.ErrExecution
)

// Type aliases for error types.
type ModuleNotFoundError = jsvmerr.ModuleNotFoundError
type UnsupportedFormatError = jsvmerr.UnsupportedFormatError
type CacheConflictError = jsvmerr.CacheConflictError
type PathNotAllowedError = jsvmerr.PathNotAllowedError
type ScriptSyntaxError = jsvmerr.ScriptSyntaxError
type ExecutionError = jsvmerr.ExecutionError
