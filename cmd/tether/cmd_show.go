package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/tether/pkg/object"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <commit-id>",
		Short: "Show commit metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			commit, err := s.Get(object.TypeCommit, args[0])
			if err != nil {
				return fmt.Errorf("show: %w", err)
			}

			out := cmd.OutOrStdout()
			author := commit.Author()
			fmt.Fprintf(out, "commit %s\n", commit.Identity())
			fmt.Fprintf(out, "Author: %s <%s>\n", author.Name, author.Email)
			fmt.Fprintf(out, "Date:   %s\n", time.Unix(author.When, 0).Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Parents: %d\n", commit.ParentCount())
			if commit.TreeHash() != "" {
				fmt.Fprintf(out, "Tree:   %s\n", commit.TreeHash())
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "    %s\n", commit.Message())
			return nil
		},
	}
}
