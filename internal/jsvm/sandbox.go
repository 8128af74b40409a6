package jsvm

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"jsbox/internal/jsvmerr"
)

var errSandboxClosed = errors.New("jsvm: sandbox is closed")

// Config holds configuration for a sandbox.
type Config struct {
	// DedicatedRealm gives the sandbox its own global object instead of
	// sharing the host's root realm.
	DedicatedRealm bool
	// ModuleDirs are the directory names searched for bare ids at every
	// ancestor of the requesting module.
	ModuleDirs []string
	// Cwd is where ids without a base resolve. Empty means the process cwd.
	Cwd string
}

// DefaultConfig returns default sandbox configuration.
func DefaultConfig() Config {
	return Config{
		DedicatedRealm: false,
		ModuleDirs:     []string{"node_modules"},
	}
}

// ModuleFunc builds a module's exports inside a given runtime. Registry
// values of this type are instantiated lazily, once per sandbox.
type ModuleFunc func(vm *goja.Runtime) (goja.Value, error)

// Option customizes a sandbox beyond Config.
type Option func(*options)

type options struct {
	fs       FS
	host     *Host
	loaders  []ExtLoader
	builtins map[string]any
}

// WithFS sets the filesystem used when the sandbox creates its host.
func WithFS(fsys FS) Option {
	return func(o *options) { o.fs = fsys }
}

// WithHost runs the sandbox on an existing host, sharing its root realm.
func WithHost(h *Host) Option {
	return func(o *options) { o.host = h }
}

// WithLoaders replaces the default loader chain.
func WithLoaders(loaders ...ExtLoader) Option {
	return func(o *options) { o.loaders = loaders }
}

// WithBuiltins installs modules every sandbox and clone starts with.
func WithBuiltins(mods map[string]any) Option {
	return func(o *options) { o.builtins = mods }
}

type moduleState int

const (
	stateLoading moduleState = iota
	stateLoaded
)

// cacheEntry is one loaded (or loading) module.
type cacheEntry struct {
	path   string
	source []byte
	module *goja.Object
	state  moduleState
}

// exports returns module.exports as it currently is; while the module is
// still loading this may be incomplete.
func (e *cacheEntry) exports() goja.Value {
	return e.module.Get("exports")
}

// Sandbox is an isolated module namespace with its own registry, cache and
// loader chain, running either in a dedicated realm or the host's root realm.
// A Sandbox serves one thread of control; use Clone for another.
type Sandbox struct {
	config     Config
	host       *Host
	realm      *Realm
	loaders    []ExtLoader
	moduleDirs []string
	builtins   map[string]any
	logger     zerolog.Logger

	// mu guards the maps below against the watcher goroutine. It is never
	// held while a loader runs.
	mu       sync.Mutex
	registry map[string]any
	cache    map[string]*cacheEntry
	watcher  *watcher
	closers  []func() error
	closed   bool
}

// New creates a sandbox with the default loader chain unless overridden.
func New(cfg Config, logger zerolog.Logger, opts ...Option) *Sandbox {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	host := o.host
	if host == nil {
		host = NewHost(o.fs, cfg.Cwd, logger)
	}

	loaders := o.loaders
	if loaders == nil {
		loaders = DefaultLoaders()
	}

	moduleDirs := cfg.ModuleDirs
	if len(moduleDirs) == 0 {
		moduleDirs = DefaultConfig().ModuleDirs
	}

	sb := &Sandbox{
		config:     cfg,
		host:       host,
		loaders:    append([]ExtLoader(nil), loaders...),
		moduleDirs: moduleDirs,
		builtins:   o.builtins,
		logger:     logger,
	}
	if cfg.DedicatedRealm {
		sb.realm = newRealm(logger)
	}
	sb.reset()
	return sb
}

// reset empties the cache and reinstalls the builtins as the registry.
func (sb *Sandbox) reset() {
	sb.registry = make(map[string]any, len(sb.builtins))
	for id, v := range sb.builtins {
		sb.registry[id] = v
	}
	sb.cache = make(map[string]*cacheEntry)
}

func (sb *Sandbox) runtime() *goja.Runtime {
	return sb.Realm().vm
}

// Realm returns the realm the sandbox's code runs in.
func (sb *Sandbox) Realm() *Realm {
	if sb.realm != nil {
		return sb.realm
	}
	return sb.host.root
}

// Host returns the host the sandbox runs on.
func (sb *Sandbox) Host() *Host {
	return sb.host
}

// HasDedicatedRealm reports whether the sandbox owns its global object.
func (sb *Sandbox) HasDedicatedRealm() bool {
	return sb.realm != nil
}

// Global returns the sandbox's dedicated global object.
func (sb *Sandbox) Global() (*goja.Object, error) {
	if sb.realm == nil {
		return nil, jsvmerr.ErrNoDedicatedRealm
	}
	return sb.realm.Global(), nil
}

// AddLoader registers l after the existing loaders. Clones made earlier do
// not see it.
func (sb *Sandbox) AddLoader(l ExtLoader) {
	sb.loaders = append(sb.loaders, l)
}

// Loaders returns a copy of the loader chain in priority order.
func (sb *Sandbox) Loaders() []ExtLoader {
	return append([]ExtLoader(nil), sb.loaders...)
}

func (sb *Sandbox) checkOpen() error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.closed {
		return errSandboxClosed
	}
	return nil
}

// Add installs value as module id, bypassing resolution. A loaded module
// with the same id is replaced; a module still loading is a conflict.
func (sb *Sandbox) Add(id string, value any) error {
	if id == "" {
		return jsvmerr.ErrInvalidModuleID
	}
	key := sb.normalize(id, "")

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.closed {
		return errSandboxClosed
	}

	if e, ok := sb.cache[key]; ok {
		if e.state == stateLoading {
			return &jsvmerr.CacheConflictError{ID: key}
		}
		delete(sb.cache, key)
	}
	sb.registry[key] = value

	sb.logger.Debug().Str("id", key).Msg("module added")
	return nil
}

// AddMap installs every id/value pair of mods, stopping at the first error.
func (sb *Sandbox) AddMap(mods map[string]any) error {
	ids := make([]string, 0, len(mods))
	for id := range mods {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := sb.Add(id, mods[id]); err != nil {
			return err
		}
	}
	return nil
}

// AddScript runs src as a module using the loader matching name and returns
// its exports. An absolute name is cached under its canonical id so later
// requires reuse the result.
func (sb *Sandbox) AddScript(name string, src []byte) (goja.Value, error) {
	if name == "" {
		return nil, jsvmerr.ErrInvalidModuleID
	}
	if err := sb.checkOpen(); err != nil {
		return nil, err
	}

	l := selectLoader(sb.loaders, name)
	if l == nil {
		return nil, &jsvmerr.UnsupportedFormatError{Path: name}
	}

	id := name
	cached := filepath.IsAbs(name)
	if cached {
		name = filepath.Clean(name)
		id = canonical(name, l)

		sb.mu.Lock()
		e, ok := sb.cache[id]
		loading := ok && e.state == stateLoading
		sb.mu.Unlock()
		if loading {
			return nil, &jsvmerr.CacheConflictError{ID: id}
		}
	}

	module, exports := newModuleObject(sb.runtime(), id, name)
	if err := sb.runModule(l, id, name, src, module, exports); err != nil {
		return nil, err
	}
	_ = module.Set("loaded", true)

	if cached {
		sb.mu.Lock()
		sb.cache[id] = &cacheEntry{path: name, source: src, module: module, state: stateLoaded}
		sb.mu.Unlock()
	}
	return module.Get("exports"), nil
}

// Remove evicts id from the registry or the cache.
func (sb *Sandbox) Remove(id string) error {
	if id == "" {
		return jsvmerr.ErrInvalidModuleID
	}
	key := sb.normalize(id, "")

	sb.mu.Lock()
	defer sb.mu.Unlock()

	e, cached := sb.cache[key]
	_, registered := sb.registry[key]
	if !cached && !registered {
		return &jsvmerr.ModuleNotFoundError{ID: id}
	}
	if cached && e.state == stateLoading {
		return &jsvmerr.CacheConflictError{ID: key}
	}

	delete(sb.cache, key)
	delete(sb.registry, key)

	sb.logger.Debug().Str("id", key).Msg("module removed")
	return nil
}

// Clone returns a sandbox on the same host with a copy of the loader chain,
// only the builtins in its registry and an empty cache. A sandbox with a
// dedicated realm clones into a fresh one.
func (sb *Sandbox) Clone() *Sandbox {
	return sb.cloneOnto(sb.host, sb.realm != nil)
}

func (sb *Sandbox) cloneOnto(host *Host, dedicated bool) *Sandbox {
	c := &Sandbox{
		config:     sb.config,
		host:       host,
		loaders:    sb.Loaders(),
		moduleDirs: sb.moduleDirs,
		builtins:   sb.builtins,
		logger:     sb.logger,
	}
	c.config.DedicatedRealm = dedicated
	if dedicated {
		c.realm = newRealm(sb.logger)
	}
	c.reset()
	return c
}

// Resolve returns the canonical id that id, requested from base, refers to.
// It never loads anything or touches the cache.
func (sb *Sandbox) Resolve(id, base string) (string, error) {
	if id == "" {
		return "", jsvmerr.ErrInvalidModuleID
	}

	key := sb.normalize(id, base)
	_, cached := sb.cached(key, sb.explicitFile(id, base))
	sb.mu.Lock()
	_, registered := sb.registry[key]
	sb.mu.Unlock()
	if cached || registered {
		return key, nil
	}

	res, err := sb.findFile(id, base)
	if err != nil {
		return "", err
	}
	canon := canonical(res.path, res.loader)
	if sb.heldByOther(canon, res.path) {
		return res.path, nil
	}
	return canon, nil
}

// Require resolves id from base, loads it on first use and returns its
// exports. A module requested again while still loading yields its
// current, possibly incomplete, exports.
func (sb *Sandbox) Require(id, base string) (goja.Value, error) {
	if id == "" {
		return nil, jsvmerr.ErrInvalidModuleID
	}
	if err := sb.checkOpen(); err != nil {
		return nil, err
	}

	key := sb.normalize(id, base)
	if val, ok := sb.cached(key, sb.explicitFile(id, base)); ok {
		return val, nil
	}
	if value, ok := sb.registered(key); ok {
		return sb.materialize(key, value)
	}

	res, err := sb.findFile(id, base)
	if err != nil {
		return nil, err
	}

	// Different requests for the same file share one entry. A sibling with
	// another extension holding the canonical id pushes this file to its
	// full path.
	canon := canonical(res.path, res.loader)
	if sb.heldByOther(canon, res.path) {
		canon = res.path
	}
	if val, ok := sb.cached(canon, res.path); ok {
		return val, nil
	}
	return sb.load(canon, res)
}

// cached returns the exports stored under key. A non-empty path must match
// the file the entry was loaded from; registered values match any path.
func (sb *Sandbox) cached(key, path string) (goja.Value, bool) {
	sb.mu.Lock()
	e, ok := sb.cache[key]
	sb.mu.Unlock()
	if !ok || (path != "" && e.path != "" && e.path != path) {
		return nil, false
	}
	return e.exports(), true
}

// heldByOther reports whether key is cached for a file other than path.
func (sb *Sandbox) heldByOther(key, path string) bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	e, ok := sb.cache[key]
	return ok && e.path != "" && e.path != path
}

func (sb *Sandbox) registered(key string) (any, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	v, ok := sb.registry[key]
	return v, ok
}

// materialize turns a registry value into exports in this sandbox's realm
// and caches them so every require returns the same value.
func (sb *Sandbox) materialize(key string, value any) (goja.Value, error) {
	vm := sb.runtime()

	var val goja.Value
	switch v := value.(type) {
	case ModuleFunc:
		out, err := sb.build(key, v)
		if err != nil {
			return nil, err
		}
		val = out
	case func(*goja.Runtime) (goja.Value, error):
		out, err := sb.build(key, v)
		if err != nil {
			return nil, err
		}
		val = out
	case goja.Value:
		val = v
	default:
		val = vm.ToValue(v)
	}

	module, _ := newModuleObject(vm, key, "")
	_ = module.Set("exports", val)
	_ = module.Set("loaded", true)

	sb.mu.Lock()
	sb.cache[key] = &cacheEntry{module: module, state: stateLoaded}
	sb.mu.Unlock()
	return val, nil
}

func (sb *Sandbox) build(key string, fn ModuleFunc) (goja.Value, error) {
	sc := enterScope(sb)
	defer sc.close()

	val, err := fn(sb.runtime())
	if err != nil {
		return nil, fmt.Errorf("init module %s: %w", key, err)
	}
	return val, nil
}

// load claims a cache slot for canon, runs the module and marks it loaded.
// On failure the slot is released so a later require retries.
func (sb *Sandbox) load(canon string, res fileMatch) (goja.Value, error) {
	src, err := sb.host.fs.ReadFile(res.path)
	if err != nil {
		return nil, fmt.Errorf("read module %s: %w", res.path, err)
	}

	module, exports := newModuleObject(sb.runtime(), canon, res.path)
	entry := &cacheEntry{
		path:   res.path,
		source: src,
		module: module,
		state:  stateLoading,
	}

	sb.mu.Lock()
	sb.cache[canon] = entry
	sb.mu.Unlock()

	// Released on every exit short of success, panics from loaders included.
	loaded := false
	defer func() {
		if loaded {
			return
		}
		sb.mu.Lock()
		if sb.cache[canon] == entry {
			delete(sb.cache, canon)
		}
		sb.mu.Unlock()
	}()

	sb.logger.Debug().Str("id", canon).Str("path", res.path).Int("depth", sb.host.Depth()).Msg("loading module")

	if err := sb.runModule(res.loader, canon, res.path, src, module, exports); err != nil {
		sb.logger.Debug().Err(err).Str("id", canon).Msg("module failed to load")
		return nil, err
	}
	_ = module.Set("loaded", true)

	sb.mu.Lock()
	loaded = true
	entry.state = stateLoaded
	w := sb.watcher
	sb.mu.Unlock()

	if w != nil {
		w.track(res.path)
	}
	return entry.exports(), nil
}

func (sb *Sandbox) runModule(l ExtLoader, id, path string, src []byte, module, exports *goja.Object) error {
	ctx := newContext(sb, id, path)

	sc := enterScope(sb)
	defer sc.close()

	return wrapExecutionError(l.RunModule(ctx, src, path, module, exports), id)
}

// findPath looks up a program path given on the command line or to run().
func (sb *Sandbox) findPath(fname string) (fileMatch, error) {
	if fname == "" {
		return fileMatch{}, jsvmerr.ErrInvalidModuleID
	}

	p := fname
	if !filepath.IsAbs(p) {
		p = filepath.Join(sb.host.Cwd(), p)
	}

	res := sb.match(p)
	if res.found() {
		return res, nil
	}
	if res.unsupported {
		return fileMatch{}, &jsvmerr.UnsupportedFormatError{Path: p}
	}
	return fileMatch{}, &jsvmerr.ModuleNotFoundError{ID: fname}
}

// Run executes fname as the main program with argv.
func (sb *Sandbox) Run(fname string, argv []string) error {
	if err := sb.checkOpen(); err != nil {
		return err
	}

	res, err := sb.findPath(fname)
	if err != nil {
		return err
	}

	src, err := sb.host.fs.ReadFile(res.path)
	if err != nil {
		return fmt.Errorf("read program %s: %w", res.path, err)
	}

	canon := canonical(res.path, res.loader)
	ctx := newContext(sb, canon, res.path)

	sb.logger.Debug().Str("path", res.path).Strs("argv", argv).Msg("running main")

	sc := enterScope(sb)
	defer sc.close()

	return wrapExecutionError(res.loader.RunMain(ctx, src, res.path, argv), canon)
}

// RunScript evaluates src as an anonymous snippet with the loader matching
// name and returns its completion value. Nothing is cached.
func (sb *Sandbox) RunScript(name string, src []byte, argv []string) (goja.Value, error) {
	if name == "" {
		return nil, jsvmerr.ErrInvalidModuleID
	}
	if err := sb.checkOpen(); err != nil {
		return nil, err
	}

	l := selectLoader(sb.loaders, name)
	if l == nil {
		return nil, &jsvmerr.UnsupportedFormatError{Path: name}
	}

	ctx := newContext(sb, name, name)

	sc := enterScope(sb)
	defer sc.close()

	val, err := l.RunScript(ctx, src, name, argv)
	if err != nil {
		return nil, wrapExecutionError(err, name)
	}
	return val, nil
}

// Interrupt stops the script currently running in the sandbox's realm.
func (sb *Sandbox) Interrupt(reason any) {
	sb.Realm().Interrupt(reason)
}

func (sb *Sandbox) onClose(fn func() error) {
	sb.mu.Lock()
	sb.closers = append(sb.closers, fn)
	sb.mu.Unlock()
}

// Close stops the watcher, drops every cached module and releases the
// dedicated realm and anything loaders attached to the sandbox.
func (sb *Sandbox) Close() error {
	sb.mu.Lock()
	if sb.closed {
		sb.mu.Unlock()
		return nil
	}
	sb.closed = true
	w := sb.watcher
	sb.watcher = nil
	closers := sb.closers
	sb.closers = nil
	sb.registry = make(map[string]any)
	sb.cache = make(map[string]*cacheEntry)
	sb.mu.Unlock()

	var errs []error
	if w != nil {
		errs = append(errs, w.close())
	}
	for _, fn := range closers {
		errs = append(errs, fn())
	}
	if sb.realm != nil {
		sb.realm.close()
	}
	return errors.Join(errs...)
}
