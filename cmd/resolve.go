package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/protoreg/internal/store"
)

func newResolveCmd(app *cli) *cobra.Command {
	var (
		skipCache bool
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "resolve URN",
		Short: "Resolve a URN to a manifest or fragment",
		Long: `Resolve a URN against the manifest store and print the result as JSON.

The version may be exact (1.2.0 or v1.2.0) or "latest". A #fragment selects a
value inside the manifest using dot keys and [index] steps.

Examples:
  protoreg resolve urn:proto:data:user_events@1.1.1
  protoreg resolve 'urn:proto:data:user_events@latest#schema.fields.email'
  protoreg resolve urn:proto:api:billing --etcd localhost:2379`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := app.resolver(cmd.Context())
			if err != nil {
				return err
			}
			res := r.Resolve(cmd.Context(), args[0], store.Options{SkipCache: skipCache, Timeout: timeout})
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return res.Error
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipCache, "skip-cache", false, "bypass the resolution cache")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "source read deadline (overrides resolver.timeout)")
	return cmd
}

func newValidateURNCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-urn URN",
		Short: "Check that a URN is well formed, exists and is version compatible",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := app.resolver(cmd.Context())
			if err != nil {
				return err
			}
			v := r.ValidateURN(cmd.Context(), args[0], store.Options{})
			if err := printJSON(cmd.OutOrStdout(), v); err != nil {
				return err
			}
			if !v.Valid || !v.Exists || !v.Compatible {
				return fmt.Errorf("%s is not resolvable", args[0])
			}
			return nil
		},
	}
}

func newBatchCmd(app *cli) *cobra.Command {
	var fromFile string
	cmd := &cobra.Command{
		Use:   "batch [URN...]",
		Short: "Resolve many URNs concurrently",
		Long: `Resolve every URN and print the results as a JSON array in input order.
One failing URN never affects the others.

URNs come from the arguments, from --file (one per line, # comments allowed),
or from stdin when --file is "-".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			urns := append([]string(nil), args...)
			if fromFile != "" {
				more, err := readURNList(cmd.InOrStdin(), fromFile)
				if err != nil {
					return err
				}
				urns = append(urns, more...)
			}
			if len(urns) == 0 {
				return fmt.Errorf("no URNs given")
			}

			r, err := app.resolver(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r.BatchResolve(cmd.Context(), urns, store.Options{}))
		},
	}
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", `read URNs from a file ("-" for stdin)`)
	return cmd
}

func readURNList(stdin io.Reader, path string) ([]string, error) {
	in := stdin
	if path != "-" {
		f, err := os.Open(path) // #nosec G304 -- user-chosen input file
		if err != nil {
			return nil, fmt.Errorf("opening URN list: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	var out []string
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading URN list: %w", err)
	}
	return out, nil
}
