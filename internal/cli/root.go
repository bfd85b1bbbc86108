// Package cli implements the packbuild command line tool, which runs builds
// locally against a directory, a zip archive or a GitHub repository.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xekr/packsmith/internal/builder"
	"github.com/xekr/packsmith/internal/domain"
	"github.com/xekr/packsmith/internal/project"
	"github.com/xekr/packsmith/internal/service"
	"github.com/xekr/packsmith/internal/source"
	"github.com/xekr/packsmith/internal/version"
)

// Version is the tool version (set via -ldflags)
var Version = "dev"

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	logLevel     string
	registryFile string
	githubURL    string
	githubToken  string
	timeout      time.Duration
	maxFetches   int64
}

// NewRootCmd creates the packbuild command tree
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "packbuild",
		Short:         "Build Minecraft data and resource packs from modular repositories",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogger(cmd, opts.logLevel)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.registryFile, "versions-file", "", "YAML version table replacing the built-in one")
	flags.StringVar(&opts.githubURL, "github-url", source.DefaultAPIURL, "GitHub API root")
	flags.StringVar(&opts.githubToken, "github-token", os.Getenv("GITHUB_TOKEN"), "GitHub token (default $GITHUB_TOKEN)")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall timeout")
	flags.Int64Var(&opts.maxFetches, "max-fetches", builder.DefaultMaxConcurrentFetches, "maximum concurrent source reads")

	root.AddCommand(newBuildCmd(opts))
	root.AddCommand(newVersionsCmd(opts))
	root.AddCommand(newModulesCmd(opts))

	return root
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", formatError(err))
		return 1
	}
	return 0
}

func setupLogger(cmd *cobra.Command, level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
	return nil
}

func (o *globalOptions) registry() (*version.Registry, error) {
	if o.registryFile == "" {
		return version.Default()
	}
	return version.LoadFile(o.registryFile)
}

func (o *globalOptions) client() *source.Client {
	return source.NewClient(source.ClientConfig{
		APIURL:  o.githubURL,
		Token:   o.githubToken,
		Timeout: o.timeout,
	})
}

func (o *globalOptions) service() (*service.Service, error) {
	reg, err := o.registry()
	if err != nil {
		return nil, err
	}
	return service.New(service.Dependencies{
		Builder: builder.New(reg, builder.Options{MaxConcurrentFetches: o.maxFetches}),
		Loader:  project.NewLoader(int(o.maxFetches)),
		Client:  o.client(),
	}), nil
}

func (o *globalOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

// formatError prefers the message and code of a build error over its full chain
func formatError(err error) string {
	if appErr, ok := domain.AsAppError(err); ok {
		msg := fmt.Sprintf("%s (%s)", appErr.Message, appErr.Code)
		if appErr.Details != nil {
			msg += fmt.Sprintf(" %v", appErr.Details)
		}
		return msg
	}
	return err.Error()
}
