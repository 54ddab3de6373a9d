package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ragassist/internal/rag"
	"ragassist/internal/service"
)

var (
	indexAll   bool
	searchTopK int
	askTopK    int
	askStream  bool
)

var indexCmd = &cobra.Command{
	Use:   "index [<doc-id>]",
	Short: "Embed and index the chunks of a document, or of every document",
	Long: `Embed the chunks of a document that are not in the vector index yet.
Documents uploaded without chunks are chunked from their stored file first.

Examples:
  ragctl index 0b6f3c1e-0d6c-4a53-9a7e-2b1f6a2a9c11
  ragctl index --all`,
	Args: func(cmd *cobra.Command, args []string) error {
		if indexAll && len(args) > 0 {
			return errors.New("pass either a document id or --all")
		}
		if !indexAll && len(args) != 1 {
			return errors.New("requires a document id or --all")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer func() {
			_ = a.Close()
		}()

		if indexAll {
			summary, err := a.Documents.IndexAll(ctx)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), summary, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "DOCUMENTS\tINDEXED\tSKIPPED\tFAILED\n")
				fmt.Fprintf(tw, "%d\t%d\t%d\t%d\n", summary.Documents, summary.Indexed, summary.Skipped, summary.Failed)
			})
		}

		n, err := a.Documents.Index(ctx, args[0])
		if err != nil {
			return err
		}
		out := map[string]int{"indexed": n}
		return printOutput(cmd.OutOrStdout(), out, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "indexed %d chunks\n", n)
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find the chunks closest to a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := service.ValidateQuery("query", args[0]); err != nil {
			return err
		}
		if err := service.ValidateTopK(searchTopK, service.MaxSearchTopK); err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer func() {
			_ = a.Close()
		}()

		result, err := a.Engine.Search(ctx, args[0], searchTopK)
		if err != nil {
			return err
		}
		if result.Hits == nil {
			result.Hits = []rag.SearchHit{}
		}
		return printOutput(cmd.OutOrStdout(), result, func(tw *tabwriter.Writer) {
			if len(result.Hits) == 0 {
				fmt.Fprintln(tw, "No matches.")
				return
			}
			fmt.Fprintf(tw, "SCORE\tFILENAME\tCHUNK\tTEXT\n")
			for _, h := range result.Hits {
				fmt.Fprintf(tw, "%.4f\t%s\t%d\t%s\n", h.Score, h.Filename, h.ChunkIndex, preview(h.Text, 60))
			}
		})
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the indexed documents",
	Long: `Retrieve the closest chunks, build a grounded prompt and ask the configured
generation backend. Questions without a close enough match are answered with
a fixed message and no backend call.

Examples:
  ragctl ask "what is the refund policy?"
  ragctl ask "summarize the onboarding guide" --stream -k 8`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := service.ValidateQuery("question", args[0]); err != nil {
			return err
		}
		if err := service.ValidateTopK(askTopK, service.MaxChatTopK); err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer func() {
			_ = a.Close()
		}()

		req := rag.AskRequest{Question: args[0], TopK: askTopK}
		if askStream {
			return streamAnswer(cmd, a.Engine, req)
		}

		resp, err := a.Engine.Ask(ctx, req)
		if err != nil {
			return err
		}
		if resp.Citations == nil {
			resp.Citations = []rag.Citation{}
		}
		return printOutput(cmd.OutOrStdout(), resp, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "%s\n\n", resp.Answer)
			fmt.Fprintf(tw, "provider: %s\tmodel: %s\tlatency: %dms\n", resp.Provider, resp.Model, resp.LatencyMS)
			printCitations(tw, resp.Citations)
		})
	},
}

// streamAnswer prints tokens as they arrive, then the citations.
func streamAnswer(cmd *cobra.Command, engine rag.Engine, req rag.AskRequest) error {
	events, err := engine.AskStream(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var meta *rag.StreamMeta
	for ev := range events {
		switch ev.Type {
		case rag.EventToken:
			fmt.Fprint(out, ev.Token)
		case rag.EventMeta:
			meta = ev.Meta
		case rag.EventError:
			fmt.Fprintln(out)
			return ev.Err
		}
	}
	fmt.Fprintln(out)

	if err := cmd.Context().Err(); err != nil {
		return err
	}
	if meta == nil {
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "\nprovider: %s\tmodel: %s\tlatency: %dms\n", meta.Provider, meta.Model, meta.LatencyMS)
	printCitations(tw, meta.Citations)
	return tw.Flush()
}

func printCitations(tw *tabwriter.Writer, citations []rag.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Fprintf(tw, "\n#\tFILENAME\tCHUNK\tSNIPPET\n")
	for i, c := range citations {
		fmt.Fprintf(tw, "[%d]\t%s\t%d\t%s\n", i+1, c.Filename, c.ChunkIndex, preview(c.Snippet, 60))
	}
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how much of the stored text is indexed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			_ = a.Close()
		}()

		stats, err := a.Documents.Coverage(cmd.Context())
		if err != nil {
			return err
		}
		return printOutput(cmd.OutOrStdout(), stats, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "documents\t%d\n", stats.Documents)
			fmt.Fprintf(tw, "chunks\t%d\n", stats.Chunks)
			fmt.Fprintf(tw, "chunks registered\t%d\n", stats.ChunksRegistered)
			fmt.Fprintf(tw, "index vectors\t%d\n", stats.IndexVectors)
			fmt.Fprintf(tw, "index dimension\t%d\n", stats.IndexDimension)
			fmt.Fprintf(tw, "tokens per chunk\tmin %d, max %d, mean %.1f, p95 %d\n",
				stats.ChunkTokenStats.Min, stats.ChunkTokenStats.Max, stats.ChunkTokenStats.Mean, stats.ChunkTokenStats.P95)
			fmt.Fprintf(tw, "chunker version\t%s\n", stats.ChunkerVersion)
			fmt.Fprintf(tw, "index version\t%s\n", stats.IndexVersion)
		})
	},
}

func init() {
	indexCmd.Flags().BoolVar(&indexAll, "all", false, "Index every document")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", rag.DefaultTopK, "Number of chunks to return (1-20)")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", rag.DefaultTopK, "Number of chunks to retrieve (1-10)")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "Print the answer as it is generated")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(statsCmd)
}
