package main

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"facerecog/internal/roster"
)

func newStudentsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "students",
		Short: "Manage enrolled students",
	}
	cmd.AddCommand(newStudentsAddCommand(ctx))
	cmd.AddCommand(newStudentsListCommand(ctx))
	return cmd
}

func newStudentsAddCommand(ctx *commandContext) *cobra.Command {
	var s roster.Student
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a student",
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.RollNumber == "" {
				return errors.New("--roll is required")
			}
			return ctx.withStore(cmd.Context(), func(st roster.Store) error {
				if err := st.Migrate(cmd.Context()); err != nil {
					return err
				}
				saved, err := st.UpsertStudent(cmd.Context(), s)
				if err != nil {
					return err
				}
				cmd.Printf("Saved student %s (%s)\n", saved.RollNumber, saved.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&s.RollNumber, "roll", "", "Roll number")
	cmd.Flags().StringVar(&s.Name, "name", "", "Full name")
	cmd.Flags().StringVar(&s.Department, "department", "", "Department")
	cmd.Flags().StringVar(&s.Room, "room", "", "Exam room")
	return cmd
}

func newStudentsListCommand(ctx *commandContext) *cobra.Command {
	var filter roster.Filter
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List students",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(st roster.Store) error {
				students, err := st.ListStudents(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(students)
				}
				if len(students) == 0 {
					cmd.Println("No students found")
					return nil
				}
				rows := make([][]string, 0, len(students))
				for _, s := range students {
					rows = append(rows, []string{s.RollNumber, s.Name, s.Department, s.Room, strconv.FormatBool(s.IsVerified)})
				}
				cmd.Println(renderTable([]string{"Roll", "Name", "Department", "Room", "Verified"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter.Department, "department", "", "Only this department")
	cmd.Flags().StringVar(&filter.Room, "room", "", "Only this room")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
