package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/protoreg/internal/config"
	"github.com/zjrosen/protoreg/internal/history"
	"github.com/zjrosen/protoreg/internal/urn"
)

func newHistoryCmd(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Record manifest revisions and report drift",
		Long: `Keep a local revision log of manifests (SQLite, history.path in config) and
compare the two newest revisions of an entity.`,
	}

	open := func() (*history.Store, error) {
		path := app.cfg.History.Path
		if path == "" {
			path = config.DefaultHistoryPath()
		}
		s, err := history.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening history %s: %w", path, err)
		}
		return s, nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "record [GLOB...]",
			Short: "Record the current state of manifests",
			Long: `Record a revision for each manifest whose content hash differs from its
latest recorded revision. With no arguments every manifest under the manifest
directory is recorded.`,
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := app.catalog(cmd.Context(), args)
				if err != nil {
					return err
				}
				s, err := open()
				if err != nil {
					return err
				}
				defer func() { _ = s.Close() }()

				out := cmd.OutOrStdout()
				for _, m := range res.Catalog.Items() {
					rev, created, err := s.Record(cmd.Context(), m)
					if err != nil {
						return fmt.Errorf("recording %s: %w", m.URN(), err)
					}
					state := "unchanged"
					if created {
						state = "recorded"
					}
					fmt.Fprintf(out, "%-9s %s %s\n", state, m.URN(), rev.Hash)
				}
				for _, le := range res.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: skipped %s: %s\n", le.Path, le.Err)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "list TYPE ID",
			Short: "List recorded revisions, newest first",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				t, err := urn.ParseProtocolType(args[0])
				if err != nil {
					return err
				}
				s, err := open()
				if err != nil {
					return err
				}
				defer func() { _ = s.Close() }()

				revs, err := s.List(cmd.Context(), t, args[1])
				if err != nil {
					return err
				}
				if len(revs) == 0 {
					return fmt.Errorf("%s:%s: %w", t, args[1], history.ErrNoHistory)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RECORDED\tVERSION\tHASH")
				for _, r := range revs {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", r.RecordedAt.Format(time.RFC3339), r.Version, r.Hash)
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "drift TYPE ID",
			Short: "Diff the two newest revisions of an entity",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				t, err := urn.ParseProtocolType(args[0])
				if err != nil {
					return err
				}
				s, err := open()
				if err != nil {
					return err
				}
				defer func() { _ = s.Close() }()

				report, err := s.Drift(cmd.Context(), t, args[1])
				if errors.Is(err, history.ErrInsufficientHistory) {
					fmt.Fprintln(cmd.OutOrStdout(), "only one revision recorded; nothing to compare")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", report.From.Version, report.To.Version)
				return writeDiffText(cmd.OutOrStdout(), report.Diff)
			},
		},
	)
	return cmd
}
