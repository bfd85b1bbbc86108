package cli

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/xekr/packsmith/internal/builder"
	"github.com/xekr/packsmith/internal/service"
)

func newBuildCmd(opts *globalOptions) *cobra.Command {
	var (
		src   sourceFlags
		build service.BuildOptions
		out   string
	)

	cmd := &cobra.Command{
		Use:   "build [owner/name]",
		Short: "Build a pack archive",
		Long: `Build a pack archive for one game version.

The project is read from a GitHub repository, a local directory (--dir) or a
zip archive (--archive). The archive is written to the output directory under
its conventional name: <pack_name>-<version>-<type>-mc<target>.<zip|jar>.`,
		Example: `  packbuild build xekr/better-stairs --version 1.21.4 --modules slabs,walls
  packbuild build --dir ./my-pack --type resource --sets building
  packbuild build --archive repo.zip --mod-loader --out dist`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.service()
			if err != nil {
				return err
			}

			ctx, cancel := opts.context(cmd)
			defer cancel()

			local, name, ok, err := src.local(args)
			if err != nil {
				return err
			}

			var result *builder.Result
			if ok {
				result, err = svc.BuildSource(ctx, local, name, build)
			} else {
				result, err = svc.BuildRepo(ctx, args[0], src.ref, build)
			}
			if err != nil {
				return err
			}

			if err := os.MkdirAll(out, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			target := filepath.Join(out, result.FileName)
			if err := os.WriteFile(target, result.Archive, 0644); err != nil {
				return fmt.Errorf("failed to write archive: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes, %s)\n", target, len(result.Archive), result.Duration.Round(time.Millisecond))
			targets := slices.Sorted(maps.Keys(result.Overrides))
			for _, target := range targets {
				fmt.Fprintf(cmd.OutOrStdout(), "  override %s -> %s\n", target, result.Overrides[target].Key)
			}
			return nil
		},
	}

	src.register(cmd)
	f := cmd.Flags()
	f.StringVar(&build.Version, "version", "", "target game version (default: the project's suggested_version)")
	f.StringVar(&build.Type, "type", "", "pack type: all, resource or data (default: the project's type)")
	f.StringSliceVar(&build.Modules, "modules", nil, "modules to include on top of the main module")
	f.StringSliceVar(&build.Sets, "sets", nil, "module sets to include")
	f.BoolVar(&build.ModLoader, "mod-loader", false, "add mod loader descriptors and write a .jar")
	f.StringVarP(&out, "out", "o", ".", "output directory")

	return cmd
}
