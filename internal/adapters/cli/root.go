// Package cli is the memexctl operator command tree.
package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/42012606/Memex-Neural/internal/core/ports"
)

// Services are the use cases the commands drive.
type Services struct {
	Search  ports.SearchService
	Ingest  ports.DocumentIngestor
	Vectors ports.VectorAdmin
}

func NewRootCommand(svc Services) *cobra.Command {
	root := &cobra.Command{
		Use:   "memexctl",
		Short: "Operate a Memex-Neural archive",
		Long: `memexctl searches the archive and repairs individual documents:
re-running the pipeline for failed uploads, rebuilding or removing embeddings,
and deleting documents together with their files.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newSearchCommand(svc),
		newReindexCommand(svc),
		newRetryCommand(svc),
		newDeleteCommand(svc),
		newUnvectorizeCommand(svc),
	)
	return root
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid document id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
