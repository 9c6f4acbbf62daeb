package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReindexCommand(svc Services) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex [id...]",
		Short: "Rebuild the embeddings of documents",
		Long: `Re-embeds each document from its stored text, replacing its chunks.
Documents are processed in order; the first failure stops the run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			for _, id := range ids {
				vectorized, err := svc.Vectors.ReindexDocument(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("reindex %d: %w", id, err)
				}
				cmd.Printf("#%d reindexed (vectorized=%t)\n", id, vectorized)
			}
			return nil
		},
	}
}

func newRetryCommand(svc Services) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Re-run the pipeline for failed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := svc.Ingest.Retry(cmd.Context(), id); err != nil {
					return fmt.Errorf("retry %d: %w", id, err)
				}
				cmd.Printf("#%d queued\n", id)
			}
			return nil
		},
	}
}

func newDeleteCommand(svc Services) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id...]",
		Short: "Delete documents, their chunks and their files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := svc.Ingest.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %d: %w", id, err)
				}
				cmd.Printf("#%d deleted\n", id)
			}
			return nil
		},
	}
}

func newUnvectorizeCommand(svc Services) *cobra.Command {
	return &cobra.Command{
		Use:   "unvectorize [id...]",
		Short: "Remove the embeddings of documents but keep their records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			for _, id := range ids {
				removed, err := svc.Vectors.DeleteDocumentVector(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("unvectorize %d: %w", id, err)
				}
				if removed {
					cmd.Printf("#%d embeddings removed\n", id)
				} else {
					cmd.Printf("#%d had no embeddings\n", id)
				}
			}
			return nil
		},
	}
}
