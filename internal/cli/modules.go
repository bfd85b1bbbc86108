package cli

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xekr/packsmith/internal/project"
)

func newModulesCmd(opts *globalOptions) *cobra.Command {
	var (
		src    sourceFlags
		target string
	)

	cmd := &cobra.Command{
		Use:   "modules [owner/name]",
		Short: "List the modules and sets of a project",
		Long: `List the modules and sets of a project. With --version, only modules
supporting that game version are listed.`,
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

			var p *project.Project
			if ok {
				p, err = project.NewLoader(int(opts.maxFetches)).Load(ctx, local, name)
			} else {
				p, err = svc.Project(ctx, args[0], src.ref)
			}
			if err != nil {
				return err
			}

			keys := p.ModuleKeys()
			if target != "" {
				if keys, err = p.Available(svc.Registry(), target); err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODULE\tNAME\tSUPPORTS\tWEIGHT")
			for _, key := range keys {
				mc := p.Modules[key]
				supports := mc.SupportVersion
				if supports == "" {
					supports = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", key, mc.ModuleName, supports, mc.Weight)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if len(p.Sets) > 0 {
				names := make([]string, 0, len(p.Sets))
				for name := range p.Sets {
					names = append(names, name)
				}
				slices.Sort(names)

				fmt.Fprintln(cmd.OutOrStdout())
				w = tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SET\tMODULES")
				for _, name := range names {
					fmt.Fprintf(w, "%s\t%v\n", name, p.Sets[name].Modules)
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}

			for _, le := range p.LoadErrors {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", le.FilePath, le.Error)
			}
			return nil
		},
	}

	src.register(cmd)
	cmd.Flags().StringVar(&target, "version", "", "only list modules supporting this game version")
	return cmd
}
