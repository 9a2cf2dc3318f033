package initialization

import (
	"fmt"
	"os"

	"arcvfs/pkg/arcfs"
	"arcvfs/pkg/config"
	"arcvfs/pkg/detect"
	"arcvfs/pkg/logger"
	"arcvfs/pkg/unpack"

	"github.com/spf13/afero"
)

// InitializedComponents holds all the components initialized during bootstrap
type InitializedComponents struct {
	Config   *config.Config
	Fs       afero.Fs
	Registry *arcfs.Registry
	Resolver *detect.Resolver
}

// ExitWithError prints err and exits with status 1.
func ExitWithError(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	logger.Close()
	os.Exit(1)
}

// Bootstrap coordinates the application startup sequence
func Bootstrap(configPath string) (*InitializedComponents, error) {
	// 1. Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return Build(cfg, afero.NewOsFs())
}

// Build wires the components for an already loaded configuration.
func Build(cfg *config.Config, fsys afero.Fs) (*InitializedComponents, error) {
	// 2. Logging
	logger.SetLevel(cfg.LogLevel)
	if cfg.LogFile != "" {
		if err := logger.SetFile(cfg.LogFile); err != nil {
			logger.Warn("Cannot open log file", "path", cfg.LogFile, "err", err)
		}
	}

	// 3. Scratch directory for spilled entries
	if err := fsys.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("temp dir %s: %w", cfg.TempDir, err)
	}

	// 4. Backends and type detection
	registry := unpack.DefaultRegistry()
	logger.Debug("Registered container types", "count", len(registry.Types()))

	return &InitializedComponents{
		Config:   cfg,
		Fs:       fsys,
		Registry: registry,
		Resolver: detect.New(detect.WithSniff(cfg.SniffContent)),
	}, nil
}

// Options returns the archive options for the loaded configuration, with
// extra applied last.
func (c *InitializedComponents) Options(extra ...arcfs.Option) []arcfs.Option {
	opts := c.Config.ArchiveOptions()
	opts = append(opts,
		arcfs.WithSpill(c.Fs, "", 0),
		arcfs.WithRegistry(c.Registry),
		arcfs.WithResolver(c.Resolver),
	)
	return append(opts, extra...)
}

// OpenArchive opens the container at path. A container whose name says
// nothing about its type is identified from its content.
func (c *InitializedComponents) OpenArchive(path string, extra ...arcfs.Option) (*arcfs.Archive, error) {
	if _, err := c.Fs.Stat(path); err != nil {
		return nil, err
	}
	src := arcfs.NewFileSource(c.Fs, path)
	opts := c.Options(extra...)
	if detect.ByName(path) == "" && !c.Config.SniffContent {
		opts = append(opts, arcfs.WithResolver(detect.New(detect.WithSniff(true))))
	}
	a, err := arcfs.Open(src, opts...)
	if err != nil {
		if ct := detect.ByName(path); unpack.IsRecognisedUnsupported(ct) {
			return nil, fmt.Errorf("%s: %s archives are recognised but not supported: %w", path, ct, err)
		}
		return nil, err
	}
	logger.Debug("Opened archive", "path", path, "type", a.ContentType(), "backend", a.Backend())
	return a, nil
}
