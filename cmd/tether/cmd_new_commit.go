package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/tether/pkg/backend"
	"github.com/odvcencio/tether/pkg/object"
	"github.com/odvcencio/tether/pkg/session"
)

func newNewCommitCmd() *cobra.Command {
	var (
		message  string
		author   string
		email    string
		parents  []string
		tree     string
		signKey  string
		signFlag bool
	)

	cmd := &cobra.Command{
		Use:   "new-commit",
		Short: "Create and save a commit from the given fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			b, err := backend.Open(flagRepo)
			if err != nil {
				return err
			}
			if signFlag {
				signer, keyPath, err := newSSHCommitSigner(signKey)
				if err != nil {
					return err
				}
				b.SetSigner(signer)
				fmt.Fprintf(cmd.ErrOrStderr(), "signing with %s\n", keyPath)
			}

			s := session.New(b, session.WithConfig(cfg), session.WithLogger(newLogger(cfg)))
			defer s.Close()

			commit := s.NewCommit()
			commit.SetMessage(message)
			sig := object.Signature{Name: author, Email: email, When: time.Now().Unix()}
			commit.SetAuthor(sig)
			commit.SetCommitter(sig)

			if tree != "" {
				if err := commit.SetTree(session.ById(tree)); err != nil {
					return err
				}
			}
			for _, p := range parents {
				if err := commit.AddParent(session.ById(p)); err != nil {
					return err
				}
			}

			id, err := commit.Save()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message (required)")
	cmd.Flags().StringVar(&author, "author", "", "author name (required)")
	cmd.Flags().StringVar(&email, "email", "", "author email")
	cmd.Flags().StringArrayVar(&parents, "parent", nil, "parent commit id (repeatable)")
	cmd.Flags().StringVar(&tree, "tree", "", "tree id")
	cmd.Flags().BoolVar(&signFlag, "sign", false, "sign the commit with an SSH key")
	cmd.Flags().StringVar(&signKey, "sign-key", "", "path to the SSH private key (default: ~/.ssh)")
	return cmd
}
