package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/brandon/crm-timeline/internal/timeline"
)

func newShowCmd(a *app) *cobra.Command {
	var (
		customerID string
		asJSON     bool
		full       bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the timeline of a customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.pipeline.Run(cmd.Context(), customerID)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res.Items)
			}
			printTimeline(cmd.OutOrStdout(), res, full)
			return nil
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "Customer ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print items as JSON")
	cmd.Flags().BoolVar(&full, "full", false, "Print full content instead of previews")
	cmd.MarkFlagRequired("customer") //nolint:errcheck
	return cmd
}

func printTimeline(w io.Writer, res *timeline.Result, full bool) {
	if res.Empty() {
		fmt.Fprintln(w, "No communication yet")
		return
	}
	for _, it := range res.Items {
		when := "unknown date"
		if it.Timestamp != nil {
			when = it.Timestamp.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s  %-5s  %s  (%s)\n", when, it.Type, it.Title, it.From)
		text := it.DisplayPreview()
		if full {
			text = it.FullContent
		}
		fmt.Fprintf(w, "    %s\n\n", text)
	}
	for _, c := range res.Collisions {
		if c.Dropped {
			fmt.Fprintf(w, "note: %s %s hidden by %s with the same id\n", c.Other, c.ID, c.Kept)
		}
	}
}
