package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JaimeStill/herbtrace/internal/events"
	"github.com/JaimeStill/herbtrace/internal/infrastructure"
	"github.com/JaimeStill/herbtrace/internal/profiles"
	"github.com/JaimeStill/herbtrace/internal/queries"
	"github.com/JaimeStill/herbtrace/pkg/pagination"
)

var errInconsistent = errors.New("ledger and local log disagree")

var timelineCmd = &cobra.Command{
	Use:   "timeline <batch-id>",
	Short: "Print the full event log of a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInfra(cmd, func(ctx context.Context, infra *infrastructure.Infrastructure) error {
			tl, err := newQueries(infra).Timeline(ctx, args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), tl)
			}
			if len(tl.Events) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no records found for %s\n", args[0])
				return nil
			}
			st := newStyles(cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n\n",
				st.title.Render("batch "+tl.BatchID),
				st.muted.Render("status "+statusLabel(tl.Status)))
			return writeTimeline(cmd.OutOrStdout(), events.Unbox(tl.Events))
		})
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending <processor|lab>",
	Short: "List batches awaiting work by a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInfra(cmd, func(ctx context.Context, infra *infrastructure.Infrastructure) error {
			list, err := newQueries(infra).PendingForRole(ctx, profiles.Role(args[0]))
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), list)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BATCH\tSTATUS\tUPDATED\tLATEST")
			for _, p := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					p.BatchID, p.Status, p.UpdatedAt.Format(time.RFC3339), p.Latest.Event.Kind())
			}
			return tw.Flush()
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <batch-id>",
	Short: "Reconcile a batch's anchor records with the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInfra(cmd, func(ctx context.Context, infra *infrastructure.Infrastructure) error {
			if infra.Anchoring == nil {
				return errors.New("ledger provider is disabled")
			}

			report, err := infra.Anchoring.Verify(ctx, args[0])
			if err != nil {
				return err
			}

			if outputJSON {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				st := newStyles(out)
				verdict := st.ok.Render("consistent")
				if !report.Consistent() {
					verdict = st.bad.Render("inconsistent")
				}
				fmt.Fprintf(out, "%s  %s\n", st.title.Render("batch "+args[0]), verdict)
				fmt.Fprintf(out, "verified:   %d\n", len(report.Verified))
				fmt.Fprintf(out, "missing:    %s\n", list(report.Missing))
				fmt.Fprintf(out, "altered:    %s\n", list(report.Altered))
				fmt.Fprintf(out, "unanchored: %s\n", list(report.Unanchored))
				fmt.Fprintf(out, "foreign:    %d\n", report.Foreign)
			}

			if !report.Consistent() {
				return fmt.Errorf("%w: batch %s", errInconsistent, args[0])
			}
			return nil
		})
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List configured submitter identities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInfra(cmd, func(_ context.Context, infra *infrastructure.Infrastructure) error {
			var all []profiles.Profile
			for _, id := range infra.Profiles.Identities() {
				p, _ := infra.Profiles.Lookup(id)
				all = append(all, p)
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), all)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IDENTITY\tROLE\tNAME\tFACILITY\tLOCATION")
			for _, p := range all {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Identity, p.Role, p.Name, p.Facility, p.Location)
			}
			return tw.Flush()
		})
	},
}

func newQueries(infra *infrastructure.Infrastructure) queries.System {
	return queries.New(infra.Store, infra.Logger, pagination.Config{DefaultPageSize: 50, MaxPageSize: 500})
}

func writeTimeline(w io.Writer, seq []events.Event) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tTYPE\tSTATUS\tEVENT\tDETAIL")
	for _, e := range seq {
		status, _ := events.StageStatus(e)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Meta().RecordedAt.Format(time.RFC3339),
			e.Kind(),
			statusLabel(status),
			e.Meta().ID,
			detail(e),
		)
	}
	return tw.Flush()
}

func detail(e events.Event) string {
	switch v := e.(type) {
	case events.CollectionEvent:
		return fmt.Sprintf("%s (%s) by %s at %s", v.Species, v.Quality, v.Collector, v.FarmLocation)
	case events.ProcessingEvent:
		return fmt.Sprintf("%s at %s", v.ProcessType, v.Facility)
	case events.QualityEvent:
		return fmt.Sprintf("%s by %s", v.ResultStatus, v.LabName)
	case events.GeoEvent:
		return fmt.Sprintf("%.5f,%.5f", v.Geo.Latitude, v.Geo.Longitude)
	case events.AnchorRecord:
		return fmt.Sprintf("%s %s -> tx %s", v.EventType, v.EventID, v.LedgerTxRef)
	}
	return ""
}

func statusLabel(s events.Status) string {
	if s == events.StatusUnknown {
		return "-"
	}
	return string(s)
}

func list(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
