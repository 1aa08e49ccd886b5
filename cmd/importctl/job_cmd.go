package main

import (
	"github.com/spf13/cobra"
)

func newStatusCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job and its latest progress",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			sess, err := openSession(cmd.Context(), global)
			if err != nil {
				return err
			}
			defer sess.Close()

			job, err := sess.rt.Controller.GetJob(cmd.Context(), sess.owner, id)
			if err != nil {
				return classify(err)
			}
			snap, err := sess.rt.Controller.Progress(cmd.Context(), sess.owner, id)
			if err != nil {
				return classify(err)
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"job":     newJobView(job),
				"percent": snap.Percent,
				"batch":   snap.Batch,
			})
		},
	}
}

func newErrorsCmd(global *globalOptions) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "errors <job-id>",
		Short: "List the row errors recorded for a job",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			sess, err := openSession(cmd.Context(), global)
			if err != nil {
				return err
			}
			defer sess.Close()

			records, total, err := sess.rt.Controller.ListErrors(cmd.Context(), sess.owner, id, limit, offset)
			if err != nil {
				return classify(err)
			}
			type row struct {
				Row       int               `json:"row"`
				Field     string            `json:"field,omitempty"`
				MatchedOn string            `json:"matchedOn,omitempty"`
				Message   string            `json:"message"`
				RawData   map[string]string `json:"rawData"`
			}
			out := make([]row, 0, len(records))
			for _, rec := range records {
				out = append(out, row{Row: rec.RowIndex, Field: rec.Field, MatchedOn: rec.MatchedOn, Message: rec.Message, RawData: rec.RawData})
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"total": total, "errors": out})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum errors to print")
	cmd.Flags().IntVar(&offset, "offset", 0, "errors to skip")
	return cmd
}

func newCancelCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			sess, err := openSession(cmd.Context(), global)
			if err != nil {
				return err
			}
			defer sess.Close()

			job, err := sess.rt.Controller.Cancel(cmd.Context(), sess.owner, id)
			if err != nil {
				return classify(err)
			}
			return writeJSON(cmd.OutOrStdout(), newJobView(job))
		},
	}
}
