package cli

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/DeepLajpal/docmerge/pkg/buildinfo"
	"github.com/DeepLajpal/docmerge/pkg/cache"
	"github.com/DeepLajpal/docmerge/pkg/document"
	"github.com/DeepLajpal/docmerge/pkg/merge"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "docmerge"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "docmerge",
		Short:        "Docmerge combines PDFs and images into a single document",
		Long:         `Docmerge merges PDF and image files into one PDF, applying per-page crops, rotations, and deletions while keeping rendering inside device-safe raster limits.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Attach the logger so subcommands and the packages they
			// call can pick it up from the context alone.
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
		},
	}

	root.SetVersionTemplate(buildinfo.Template())

	// Register all subcommands
	root.AddCommand(c.mergeCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Merger Factory
// =============================================================================

// newMerger wires the pipeline with the pdfcpu-backed opener and builder.
func (c *CLI) newMerger(lim merge.Limits, maxRetries int, skipUnembeddable bool) *merge.Merger {
	m := merge.NewMerger(document.NewOpener(c.Logger), document.NewBuilderFactory(), c.Logger)
	m.Renderer.Limits = lim
	if maxRetries > 0 {
		m.Renderer.MaxRetries = maxRetries
	}
	m.SkipUnembeddable = skipUnembeddable
	return m
}

// newCache builds the result cache for CLI use.
func newCache(noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	dir, err := cacheDir()
	if err != nil {
		return cache.NewNullCache(), nil
	}
	return cache.NewFileCache(dir)
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/docmerge/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
