package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/tether/pkg/object"
	"github.com/odvcencio/tether/pkg/session"
)

func newParentsCmd() *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:   "parents <commit-id>",
		Short: "List the parents of a commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			commit, err := s.Get(object.TypeCommit, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			n := commit.ParentCount()

			if !async {
				for i := 0; i < n; i++ {
					parent, err := commit.GetParent(i)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s %s\n", parent.Identity(), firstLine(parent.Message()))
				}
				return nil
			}

			// Deferred mode: all lookups go to the worker pool and the
			// results are drained from the completion channel.
			pending := make([]*session.Pending, 0, n)
			for i := 0; i < n; i++ {
				p, err := commit.GetParentAsync(i)
				if err != nil {
					return err
				}
				pending = append(pending, p)
			}
			for range pending {
				p := <-s.Completions()
				parent, err := p.Wait()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s\n", parent.Identity(), firstLine(parent.Message()))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "resolve parents on the worker pool")
	return cmd
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
