package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zjrosen/protoreg/internal/catalog"
	"github.com/zjrosen/protoreg/internal/urn"
)

// ErrCatalogInvalid is returned by catalog validate when the report is not
// valid.
var ErrCatalogInvalid = errors.New("catalog is invalid")

func newCatalogCmd(app *cli) *cobra.Command {
	var (
		patterns []string
		strict   bool
	)
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Analyse every manifest in a catalog",
		Long: `Load manifests from glob patterns (default: every document under the
manifest directory) and analyse them as one catalog.

Patterns use doublestar syntax, e.g. 'manifests/**/*.{json,yaml}'.`,
	}
	cmd.PersistentFlags().StringSliceVarP(&patterns, "glob", "g", nil, "manifest glob patterns (repeatable)")
	cmd.PersistentFlags().BoolVar(&strict, "strict", false, "report ambiguous name-only references (overrides catalog.strict_resolution)")

	load := func(cmd *cobra.Command) (*catalog.Catalog, error) {
		res, err := app.catalog(cmd.Context(), patterns)
		if err != nil {
			return nil, err
		}
		for _, le := range res.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: skipped %s: %s\n", le.Path, le.Err)
		}
		return res.Catalog, nil
	}
	validateOptions := func(cmd *cobra.Command) catalog.ValidateOptions {
		opts := app.cfg.Catalog.ValidateOptions()
		if cmd.Flags().Changed("strict") {
			opts.Cycles.Strict = strict
		}
		return opts
	}

	cmd.AddCommand(
		newCatalogValidateCmd(load, validateOptions),
		newCatalogCyclesCmd(load, validateOptions),
		newCatalogRelationshipsCmd(load),
		newCatalogReportCmd(load, validateOptions),
		newCatalogFindCmd(load),
	)
	return cmd
}

type (
	catalogLoader  func(*cobra.Command) (*catalog.Catalog, error)
	optionsFactory func(*cobra.Command) catalog.ValidateOptions
)

func newCatalogValidateCmd(load catalogLoader, opts optionsFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate manifests, cycles, PII governance and scale",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := load(cmd)
			if err != nil {
				return err
			}
			report := c.Validate(cmd.Context(), opts(cmd))
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Valid {
				return ErrCatalogInvalid
			}
			return nil
		},
	}
}

func newCatalogCyclesCmd(load catalogLoader, opts optionsFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "cycles",
		Short: "Detect cycles in the relationship graph",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := load(cmd)
			if err != nil {
				return err
			}
			report := c.DetectCycles(cmd.Context(), opts(cmd).Cycles)
			out := cmd.OutOrStdout()
			if !report.HasCycles() {
				fmt.Fprintln(out, "no cycles")
			}
			for _, cycle := range report.Cycles {
				fmt.Fprintln(out, strings.Join(cycle, " -> "))
			}
			for _, amb := range report.AmbiguousReferences {
				fmt.Fprintf(out, "ambiguous: %s references %q: %s\n", amb.From, amb.Name, strings.Join(amb.Candidates, ", "))
			}
			return nil
		},
	}
}

func newCatalogRelationshipsCmd(load catalogLoader) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "relationships",
		Short: "List relationship edges between manifests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := load(cmd)
			if err != nil {
				return err
			}
			edges := c.Relationships()
			if asJSON {
				return printJSON(cmd.OutOrStdout(), edges)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tRELATIONSHIP\tTARGET\tKIND")
			for _, e := range edges {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Source, e.Relationship, e.Target, e.Kind)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print edges as JSON")
	return cmd
}

func newCatalogReportCmd(load catalogLoader, opts optionsFactory) *cobra.Command {
	var (
		format string
		width  int
		style  string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the catalog (json, markdown or pretty terminal output)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := load(cmd)
			if err != nil {
				return err
			}
			report := c.Report(cmd.Context(), opts(cmd))
			out := cmd.OutOrStdout()

			switch format {
			case "json":
				return printJSON(out, report)
			case "markdown", "md":
				_, err = io.WriteString(out, report.Markdown())
				return err
			case "pretty":
				text, err := report.Pretty(width, style)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, text)
				return err
			default:
				return fmt.Errorf("unknown format %q (want json, markdown or pretty)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "pretty", "output format: json, markdown, pretty")
	cmd.Flags().IntVar(&width, "width", 100, "word wrap width for pretty output")
	cmd.Flags().StringVar(&style, "style", defaultStyle(), `pretty style: "dark", "light" or "notty"`)
	return cmd
}

func newCatalogFindCmd(load catalogLoader) *cobra.Command {
	var q catalog.Query
	var typ string
	cmd := &cobra.Command{
		Use:   "find [CEL-EXPRESSION]",
		Short: "Find manifests by type, id, version or a CEL expression",
		Long: `Print the URNs of matching manifests.

The expression sees the variables type, id, version, hash and body.

Examples:
  protoreg catalog find --type data
  protoreg catalog find 'type == "data" && body.dataset.lifecycle.status == "deprecated"'
  protoreg catalog find 'has(body.governance) && body.governance.policy.classification == "pii"'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if typ != "" {
				pt, err := urn.ParseProtocolType(typ)
				if err != nil {
					return err
				}
				q.Type = pt
			}
			if len(args) == 1 {
				q.Expr = args[0]
			}

			c, err := load(cmd)
			if err != nil {
				return err
			}
			found, err := c.Find(q)
			if err != nil {
				return err
			}
			for _, m := range found {
				fmt.Fprintln(cmd.OutOrStdout(), m.URN().String())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "protocol type: data, api, event, agent, semantic")
	cmd.Flags().StringVar(&q.ID, "id", "", "entity id")
	cmd.Flags().StringVar(&q.Version, "version", "", "exact version")
	return cmd
}

// defaultStyle picks the glamour style for the current output.
func defaultStyle() string {
	if fi, err := os.Stdout.Stat(); err == nil && fi.Mode()&os.ModeCharDevice == 0 {
		return "notty"
	}
	return "dark"
}
