package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/runlet/runlet/internal/config"
	"github.com/runlet/runlet/internal/docstore"
	"github.com/runlet/runlet/internal/record"
)

// NewDocsCommand creates the docs command group for local document
// management.
func NewDocsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage stored documents",
	}
	cmd.AddCommand(newDocsCreateCommand(opts))
	cmd.AddCommand(newDocsListCommand(opts))
	return cmd
}

func newDocsCreateCommand(opts *RootOptions) *cobra.Command {
	var (
		id      string
		name    string
		ownerID string
	)

	cmd := &cobra.Command{
		Use:   "create <content-file>",
		Short: "Create a document from a content blob file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "read content file", err)
			}
			if _, err := record.ParseDocument(content); err != nil {
				return WrapExitError(ExitCommandError, "invalid document content", err)
			}

			cfg, err := config.Load(opts.Config)
			if err != nil {
				return WrapExitError(ExitCommandError, "load configuration", err)
			}
			docs, err := docstore.Open(cfg.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "open database", err)
			}
			defer docs.Close()

			doc := &docstore.Document{
				ID:      id,
				OwnerID: ownerID,
				Name:    name,
				Content: content,
			}
			if doc.ID == "" {
				doc.ID = record.NewRecordID("doc", time.Now())
			}
			if doc.Name == "" {
				doc.Name = args[0]
			}

			if err := docs.Create(cmd.Context(), doc); err != nil {
				return WrapExitError(ExitCommandError, "create document", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), doc.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "document ID (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "document name (defaults to the file name)")
	cmd.Flags().StringVar(&ownerID, "owner", "", "owner ID")
	return cmd
}

func newDocsListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.Config)
			if err != nil {
				return WrapExitError(ExitCommandError, "load configuration", err)
			}
			docs, err := docstore.Open(cfg.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "open database", err)
			}
			defer docs.Close()

			all, err := docs.List(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "list documents", err)
			}
			for _, d := range all {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d bytes\n", d.ID, d.Name, len(d.Content))
			}
			return nil
		},
	}
}
