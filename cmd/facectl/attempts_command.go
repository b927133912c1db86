package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"facerecog/internal/roster"
)

func newAttemptsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Inspect the verification attempt log",
	}

	var rollNumber string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent verification attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(st roster.Store) error {
				attempts, err := st.ListAttempts(cmd.Context(), rollNumber, limit)
				if err != nil {
					return err
				}
				if len(attempts) == 0 {
					cmd.Println("No attempts recorded")
					return nil
				}
				rows := make([][]string, 0, len(attempts))
				for _, a := range attempts {
					distance := "-"
					if a.Distance != nil {
						distance = strconv.FormatFloat(*a.Distance, 'f', 4, 64)
					}
					rows = append(rows, []string{
						a.CompletedAt.Local().Format("2006-01-02 15:04:05"),
						a.RollNumber,
						a.Outcome,
						a.Kind,
						distance,
						a.RequestID,
					})
				}
				cmd.Println(renderTable(
					[]string{"Completed", "Roll", "Outcome", "Kind", "Distance", "Request"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	list.Flags().StringVar(&rollNumber, "roll", "", "Only this roll number")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	cmd.AddCommand(list)
	return cmd
}
