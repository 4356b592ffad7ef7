package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/protoreg/internal/canon"
	"github.com/zjrosen/protoreg/internal/diff"
	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/store"
)

// ErrBreakingChanges is returned by diff --fail-on-breaking.
var ErrBreakingChanges = errors.New("breaking changes detected")

func newDiffCmd(app *cli) *cobra.Command {
	var (
		unified        bool
		asJSON         bool
		failOnBreaking bool
	)
	cmd := &cobra.Command{
		Use:   "diff BASE HEAD",
		Short: "Diff two manifests and classify breaking changes",
		Long: `Compare two manifests structurally. Each side is a file path or a URN.

The report lists every change, the breaking ones (field removed, type changed,
required or PII flag flipped, primary key changed, lifecycle downgrade) and the
significant ones (governance, lineage, refresh schedule).

Examples:
  protoreg diff manifests/data/orders@1.0.0.json manifests/data/orders@1.1.0.json
  protoreg diff urn:proto:data:orders@1.0.0 urn:proto:data:orders@latest --fail-on-breaking
  protoreg diff old.yaml new.yaml --unified`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, head, err := loadPair(cmd, app, args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if unified {
				_, err := io.WriteString(out, diff.Unified(base, head))
				return err
			}

			res := diff.Manifests(base, head)
			if asJSON {
				err = printJSON(out, struct {
					Diff      diff.Result        `json:"diff"`
					Migration diff.MigrationPlan `json:"migration"`
				}{res, diff.PlanFor(res)})
			} else {
				err = writeDiffText(out, res)
			}
			if err != nil {
				return err
			}
			if failOnBreaking && res.HasBreaking() {
				return ErrBreakingChanges
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&unified, "unified", "u", false, "print a unified line diff of the documents")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the diff and migration plan as JSON")
	cmd.Flags().BoolVar(&failOnBreaking, "fail-on-breaking", false, "exit non-zero when a breaking change is found")
	return cmd
}

func newMigrateCmd(app *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "migrate BASE HEAD",
		Short: "Print an advisory migration plan between two manifests",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, head, err := loadPair(cmd, app, args)
			if err != nil {
				return err
			}
			plan := diff.GenerateMigration(base, head)
			if asJSON {
				return printJSON(cmd.OutOrStdout(), plan)
			}

			var b strings.Builder
			for _, s := range plan.Steps {
				b.WriteString(s + "\n")
			}
			if len(plan.Notes) > 0 {
				b.WriteString("\n")
				for _, n := range plan.Notes {
					b.WriteString("# " + n + "\n")
				}
			}
			if b.Len() == 0 {
				b.WriteString("-- no migration needed\n")
			}
			_, err = io.WriteString(cmd.OutOrStdout(), b.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	return cmd
}

func newHashCmd(_ *cli) *cobra.Command {
	var canonical bool
	cmd := &cobra.Command{
		Use:   "hash FILE...",
		Short: "Print the content hash and URN of manifest files",
		Long: `Print "<hash>  <urn>  <file>" for each manifest. The hash covers the
canonical form, so key order and source encoding (JSON, YAML, TOML) do not
affect it. With --canonical the canonical text is printed instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, path := range args {
				m, err := store.LoadFile(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("loading %s: %w", path, err)
				}
				if canonical {
					_, err = fmt.Fprintln(out, m.Canonical())
				} else {
					_, err = fmt.Fprintf(out, "%s  %s  %s\n", m.Hash(), m.URN(), path)
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&canonical, "canonical", false, "print the canonical form instead of the hash")
	return cmd
}

func loadPair(cmd *cobra.Command, app *cli, args []string) (*manifest.Manifest, *manifest.Manifest, error) {
	r, err := app.resolver(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	base, err := manifestArg(cmd.Context(), r, args[0])
	if err != nil {
		return nil, nil, err
	}
	head, err := manifestArg(cmd.Context(), r, args[1])
	if err != nil {
		return nil, nil, err
	}
	return base, head, nil
}

func writeDiffText(w io.Writer, res diff.Result) error {
	if res.Empty() {
		_, err := io.WriteString(w, "no changes\n")
		return err
	}

	var b strings.Builder
	for _, c := range res.Changes {
		switch c.Kind {
		case diff.Added:
			fmt.Fprintf(&b, "+ %s: %s\n", c.Path, compact(c.To))
		case diff.Removed:
			fmt.Fprintf(&b, "- %s: %s\n", c.Path, compact(c.From))
		default:
			fmt.Fprintf(&b, "~ %s: %s -> %s\n", c.Path, compact(c.From), compact(c.To))
		}
	}
	if len(res.Breaking) > 0 {
		fmt.Fprintf(&b, "\nBREAKING (%d):\n", len(res.Breaking))
		for _, br := range res.Breaking {
			fmt.Fprintf(&b, "  %s: %s\n", br.Path, br.Reason)
		}
	}
	if len(res.Significant) > 0 {
		fmt.Fprintf(&b, "\nSignificant (%d):\n", len(res.Significant))
		for _, s := range res.Significant {
			fmt.Fprintf(&b, "  %s\n", s.Path)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// compact renders a changed value on one line.
func compact(v any) string {
	if v == nil {
		return "null"
	}
	return canon.Canonicalize(v)
}
