// Package jsvmerr provides error types for the jsvm package.
// This package exists to avoid import cycles between jsvm and jsvm/hostapi.
package jsvmerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for sandbox operations.
var (
	// ErrInvalidModuleID indicates a malformed id/base combination, e.g. an empty id.
	ErrInvalidModuleID = errors.New("jsvm: invalid module id")

	// ErrNoDedicatedRealm indicates global realm access on a sandbox sharing the host realm.
	ErrNoDedicatedRealm = errors.New("jsvm: sandbox has no dedicated realm")
)

// ModuleNotFoundError indicates resolution exhausted every lookup step.
type ModuleNotFoundError struct {
	ID   string
	Base string
}

func (e *ModuleNotFoundError) Error() string {
	if e.Base != "" {
		return fmt.Sprintf("jsvm: module not found: %s (required from %s)", e.ID, e.Base)
	}
	return fmt.Sprintf("jsvm: module not found: %s", e.ID)
}

// Is implements errors.Is for ModuleNotFoundError.
func (e *ModuleNotFoundError) Is(target error) bool {
	_, ok := target.(*ModuleNotFoundError)
	return ok
}

// ErrModuleNotFound is a sentinel for errors.Is matching.
var ErrModuleNotFound = &ModuleNotFoundError{}

// UnsupportedFormatError indicates no loader matches a file, or the matched
// loader does not implement the requested entry point.
type UnsupportedFormatError struct {
	Path string
	Mode string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Mode != "" {
		return fmt.Sprintf("jsvm: invalid file format: %s (%s not supported)", e.Path, e.Mode)
	}
	return fmt.Sprintf("jsvm: invalid file format: %s", e.Path)
}

// Is implements errors.Is for UnsupportedFormatError.
func (e *UnsupportedFormatError) Is(target error) bool {
	_, ok := target.(*UnsupportedFormatError)
	return ok
}

// ErrUnsupportedFileFormat is a sentinel for errors.Is matching.
var ErrUnsupportedFileFormat = &UnsupportedFormatError{}

// CacheConflictError indicates a registry or cache mutation against a module
// that is still loading.
type CacheConflictError struct {
	ID string
}

func (e *CacheConflictError) Error() string {
	return fmt.Sprintf("jsvm: module %s is still loading", e.ID)
}

// Is implements errors.Is for CacheConflictError.
func (e *CacheConflictError) Is(target error) bool {
	_, ok := target.(*CacheConflictError)
	return ok
}

// ErrCacheConflict is a sentinel for errors.Is matching.
var ErrCacheConflict = &CacheConflictError{}

// PathNotAllowedError indicates a file path is not in the allowed whitelist.
type PathNotAllowedError struct {
	Path string
}

func (e *PathNotAllowedError) Error() string {
	return fmt.Sprintf("jsvm: path not allowed: %s", e.Path)
}

// Is implements errors.Is for PathNotAllowedError.
func (e *PathNotAllowedError) Is(target error) bool {
	_, ok := target.(*PathNotAllowedError)
	return ok
}

// ErrPathNotAllowed is a sentinel for errors.Is matching.
var ErrPathNotAllowed = &PathNotAllowedError{}

// ScriptSyntaxError indicates a JavaScript syntax error.
type ScriptSyntaxError struct {
	File    string
	Message string
	Cause   error
}

func (e *ScriptSyntaxError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("jsvm: syntax error in %s: %s", e.File, e.Message)
	}
	return fmt.Sprintf("jsvm: syntax error: %s", e.Message)
}

func (e *ScriptSyntaxError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for ScriptSyntaxError.
func (e *ScriptSyntaxError) Is(target error) bool {
	_, ok := target.(*ScriptSyntaxError)
	return ok
}

// ErrScriptSyntax is a sentinel for errors.Is matching.
var ErrScriptSyntax = &ScriptSyntaxError{}

// ExecutionError tags an engine error with the module that was executing.
type ExecutionError struct {
	Script string
	Cause  error
}

func (e *ExecutionError) Error() string {
	if e.Script != "" {
		return fmt.Sprintf("jsvm: execution error in %s: %v", e.Script, e.Cause)
	}
	return fmt.Sprintf("jsvm: execution error: %v", e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for ExecutionError.
func (e *ExecutionError) Is(target error) bool {
	_, ok := target.(*ExecutionError)
	return ok
}

// ErrExecution is a sentinel for errors.Is matching.
var ErrExecution = &ExecutionError{}
