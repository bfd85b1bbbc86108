package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xekr/packsmith/internal/domain"
	"github.com/xekr/packsmith/internal/source"
)

// sourceFlags select where a project is read from: a positional owner/name
// repository, --dir or --archive
type sourceFlags struct {
	ref     string
	dir     string
	archive string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.ref, "ref", "", "branch, tag or commit of the repository (default branch when empty)")
	cmd.Flags().StringVar(&f.dir, "dir", "", "read the project from a local directory")
	cmd.Flags().StringVar(&f.archive, "archive", "", "read the project from a zip archive")
	cmd.MarkFlagsMutuallyExclusive("dir", "archive")
}

// local opens --dir or --archive; ok is false when a repository argument is to be used
func (f *sourceFlags) local(args []string) (src domain.ContentSource, name string, ok bool, err error) {
	switch {
	case f.dir != "" || f.archive != "":
		if len(args) > 0 {
			return nil, "", false, fmt.Errorf("a repository argument cannot be combined with --dir or --archive")
		}
	case len(args) == 1:
		return nil, "", false, nil
	default:
		return nil, "", false, fmt.Errorf("a repository (owner/name), --dir or --archive is required")
	}

	if f.dir != "" {
		src, err := source.NewDirSource(f.dir)
		return src, f.dir, true, err
	}
	src, err = source.OpenArchive(f.archive, true)
	return src, f.archive, true, err
}
