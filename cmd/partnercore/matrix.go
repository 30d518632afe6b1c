package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"partnercore/internal/permissions"
	"partnercore/pkg/domain"
)

// NewMatrixCommand groups the permission matrix inspection commands.
func NewMatrixCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Inspect the role/status/field permission matrix",
	}
	cmd.AddCommand(newMatrixShowCommand(rootOpts))
	cmd.AddCommand(newMatrixCheckCommand(rootOpts))
	return cmd
}

type matrixOptions struct {
	rules string
	role  string
	kind  string
}

func (o *matrixOptions) rulesPath(rootOpts *RootOptions) (string, error) {
	if o.rules != "" {
		return o.rules, nil
	}
	if rootOpts.ConfigPath == "" {
		return "", nil
	}
	cfg, err := rootOpts.load()
	if err != nil {
		return "", err
	}
	return cfg.Matrix.Rules, nil
}

func buildMatrix(path string) (*permissions.Matrix, error) {
	def, err := permissions.FileSource(path)()
	if err != nil {
		return nil, err
	}
	return permissions.Build(def)
}

func newMatrixShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &matrixOptions{}
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the rights of one role on one document kind per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			role, err := domain.ParseRole(opts.role)
			if err != nil {
				return err
			}
			kind, err := domain.ParseKind(opts.kind)
			if err != nil {
				return err
			}
			path, err := opts.rulesPath(rootOpts)
			if err != nil {
				return err
			}
			m, err := buildMatrix(path)
			if err != nil {
				return err
			}
			return permissions.Render(cmd.OutOrStdout(), m, role, kind)
		},
	}
	cmd.Flags().StringVar(&opts.rules, "rules", "", "role rules file (defaults to config, then built-in rules)")
	cmd.Flags().StringVar(&opts.role, "role", "", "role name")
	cmd.Flags().StringVar(&opts.kind, "kind", "", "document kind")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newMatrixCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &matrixOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a role rules file and report the matrix size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := opts.rulesPath(rootOpts)
			if err != nil {
				return err
			}
			m, err := buildMatrix(path)
			if err != nil {
				return fmt.Errorf("matrix check failed: %w", err)
			}
			source := path
			if source == "" {
				source = "built-in rules"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ok: %s\n", source)
			fmt.Fprintf(out, "roles: %d\n", len(m.Roles()))
			for _, kind := range domain.Kinds() {
				fmt.Fprintf(out, "%s: %d statuses, %d fields\n", kind, len(m.Statuses(kind)), len(m.FieldPaths(kind)))
			}
			fmt.Fprintf(out, "entries: %d\n", m.Size())
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.rules, "rules", "", "role rules file (defaults to config, then built-in rules)")
	return cmd
}
