package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

type searchFlags struct {
	limit     int
	owner     string
	timeRange string
	fileType  string
	keywords  []string
	json      bool
}

func newSearchCommand(svc Services) *cobra.Command {
	var flags searchFlags
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search archived documents",
		Long: `Runs a hybrid search: vector recall over chunks and documents plus
keyword recall, optionally filtered by owner, time range and file type,
then reranked by a cross-encoder when one is available.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, err := svc.Search.HybridSearch(cmd.Context(), domain.SearchRequest{
				Query:     args[0],
				Keywords:  flags.keywords,
				TopK:      flags.limit,
				Scope:     domain.SearchScope{OwnerID: flags.owner},
				TimeRange: flags.timeRange,
				FileType:  domain.FileType(flags.fileType),
			})
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			if flags.json {
				return printSearchJSON(cmd, hits)
			}
			printSearchTable(cmd, hits)
			return nil
		},
	}
	cmd.Flags().IntVarP(&flags.limit, "limit", "n", 0, "maximum number of results (0 uses the server default)")
	cmd.Flags().StringVar(&flags.owner, "owner", "", "restrict to one owner")
	cmd.Flags().StringVar(&flags.timeRange, "range", "", "time range: last7d, last24h, 2023, 2023-11, 2023-11-15, a~b")
	cmd.Flags().StringVar(&flags.fileType, "type", "", "file type: Documents, Images, Audio, Video, Others")
	cmd.Flags().StringSliceVarP(&flags.keywords, "keyword", "k", nil, "keyword for lexical recall (repeatable)")
	cmd.Flags().BoolVar(&flags.json, "json", false, "output results as JSON")
	return cmd
}

func printSearchJSON(cmd *cobra.Command, hits []domain.SearchHit) error {
	if hits == nil {
		hits = []domain.SearchHit{}
	}
	data, err := json.MarshalIndent(hits, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func printSearchTable(cmd *cobra.Command, hits []domain.SearchHit) {
	if len(hits) == 0 {
		cmd.Println("No results found.")
		return
	}
	cmd.Println("Results:")
	cmd.Println()
	for i, h := range hits {
		cmd.Printf("  [%d] #%d %s (%.3f, %s)\n", i+1, h.DocumentID, h.Filename, h.Score, h.Provenance)
		if h.StoragePath != "" {
			cmd.Printf("      Path: %s\n", h.StoragePath)
		}
		if h.Snippet != "" {
			cmd.Printf("      %s\n", oneLine(h.Snippet, 160))
		}
		cmd.Println()
	}
}

func oneLine(s string, n int) string {
	runes := make([]rune, 0, n)
	for _, r := range s {
		if len(runes) == n {
			return string(runes) + "…"
		}
		if r == '\n' || r == '\r' || r == '\t' {
			r = ' '
		}
		runes = append(runes, r)
	}
	return string(runes)
}
