package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/rs/zerolog"

	"jsbox/internal/config"
	"jsbox/internal/jsvm"
	"jsbox/internal/jsvm/hostapi"
	"jsbox/internal/storage"
)

// CLIContext carries the loaded configuration and shared resources of one
// command invocation.
type CLIContext struct {
	Config      *config.Config
	ConfigPath  string
	Logger      zerolog.Logger
	StoragePath string

	storageOnce sync.Once
	storage     *storage.DB
	storageErr  error
	sandboxes   []*jsvm.Sandbox
}

// NewCLIContext creates a CLI context.
func NewCLIContext(cfg *config.Config, configPath string, log zerolog.Logger, storagePath string) *CLIContext {
	return &CLIContext{
		Config:      cfg,
		ConfigPath:  configPath,
		Logger:      log,
		StoragePath: storagePath,
	}
}

// GetStorage opens the kv database on first use.
func (c *CLIContext) GetStorage() (*storage.DB, error) {
	c.storageOnce.Do(func() {
		c.storage, c.storageErr = storage.Open(c.StoragePath)
		if c.storageErr != nil {
			return
		}
		if n, err := c.storage.KVCleanExpired(); err != nil {
			c.Logger.Warn().Err(err).Msg("failed to clean expired kv entries")
		} else if n > 0 {
			c.Logger.Debug().Int64("count", n).Msg("cleaned expired kv entries")
		}
	})
	return c.storage, c.storageErr
}

// NewSandbox builds a sandbox from the sandbox config with the host
// modules installed. An unavailable database leaves kv as a no-op store.
func (c *CLIContext) NewSandbox() (*jsvm.Sandbox, error) {
	sc := c.Config.Sandbox

	db, err := c.GetStorage()
	if err != nil {
		c.Logger.Warn().Err(err).Str("path", c.StoragePath).Msg("kv storage unavailable")
		db = nil
	}

	hctx := &hostapi.Context{
		DB:     db,
		Logger: c.Logger.With().Str("component", "hostapi").Logger(),
		Config: hostapi.Config{
			AllowedPaths: sc.AllowedPaths,
			MaxWriteSize: sc.MaxWriteSize,
		},
	}

	cfg := jsvm.DefaultConfig()
	cfg.DedicatedRealm = sc.DedicatedRealm
	if len(sc.ModuleDirs) > 0 {
		cfg.ModuleDirs = sc.ModuleDirs
	}

	sb := jsvm.New(cfg, c.Logger.With().Str("component", "jsvm").Logger(),
		jsvm.WithBuiltins(jsvm.HostModules(hctx)))

	if sc.Watch {
		if err := sb.Watch(); err != nil {
			_ = sb.Close()
			return nil, fmt.Errorf("watch modules: %w", err)
		}
	}

	c.sandboxes = append(c.sandboxes, sb)
	return sb, nil
}

// Close releases the sandboxes and the database.
func (c *CLIContext) Close() error {
	var errs []error
	for _, sb := range c.sandboxes {
		errs = append(errs, sb.Close())
	}
	c.sandboxes = nil

	if c.storage != nil {
		errs = append(errs, c.storage.Close())
		c.storage = nil
	}
	return errors.Join(errs...)
}

// interrupter is anything running script code that can be stopped.
type interrupter interface {
	Interrupt(reason any)
}

// interruptOnSignal interrupts the script running in target on SIGINT until
// the returned stop function is called.
func interruptOnSignal(target interrupter) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-sigCh:
				target.Interrupt("interrupted")
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
