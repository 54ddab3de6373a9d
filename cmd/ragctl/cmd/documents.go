package cmd

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ragassist/internal/app"
	"ragassist/internal/storage"
)

var (
	ingestIndex bool
	importIndex bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Upload files as documents",
	Long: `Upload files as documents. Plain text and markdown files are chunked on upload.

Examples:
  ragctl ingest notes.txt
  ragctl ingest docs/*.md --index`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer func() {
			_ = a.Close()
		}()

		var docs []storage.DocumentRecord
		for _, path := range args {
			doc, err := ingestFile(cmd, a, path)
			if err != nil {
				return fmt.Errorf("failed to ingest %s: %w", path, err)
			}
			if ingestIndex {
				n, err := a.Documents.Index(ctx, doc.ID)
				if err != nil {
					return fmt.Errorf("failed to index %s: %w", path, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "indexed %d chunks from %s\n", n, doc.Filename)
			}
			docs = append(docs, *doc)
		}
		return printDocuments(cmd, docs)
	},
}

func ingestFile(cmd *cobra.Command, a *app.App, path string) (*storage.DocumentRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return a.Documents.Upload(cmd.Context(), filepath.Base(path), mime.TypeByExtension(filepath.Ext(path)), f)
}

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Upload every .txt and .md file below a directory",
	Long: `Walk a directory and upload every .txt and .md file. Hidden files and
directories are skipped. A file that fails is reported and the import continues.

Examples:
  ragctl import ./docs
  ragctl import ./docs --index`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer func() {
			_ = a.Close()
		}()

		summary, err := a.Documents.Import(ctx, args[0])
		if err != nil {
			return err
		}
		for _, rel := range summary.Failed {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed: %s\n", rel)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "imported %d of %d files\n", len(summary.Imported), summary.Discovered)

		if importIndex {
			indexed := 0
			for _, doc := range summary.Imported {
				n, err := a.Documents.Index(ctx, doc.ID)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "failed to index %s: %v\n", doc.Filename, err)
					continue
				}
				indexed += n
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "indexed %d chunks\n", indexed)
		}
		return printDocuments(cmd, summary.Imported)
	},
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List documents, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			_ = a.Close()
		}()

		docs, err := a.Documents.List(cmd.Context())
		if err != nil {
			return err
		}
		return printDocuments(cmd, docs)
	},
}

var docsChunksCmd = &cobra.Command{
	Use:   "chunks <doc-id>",
	Short: "List the chunks of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			_ = a.Close()
		}()

		chunks, err := a.Documents.ListChunks(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := make([]chunkOut, len(chunks))
		for i, c := range chunks {
			out[i] = chunkOut(c)
		}
		return printOutput(cmd.OutOrStdout(), out, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "INDEX\tSTART\tEND\tTEXT\n")
			for _, c := range chunks {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.ChunkIndex, formatOffset(c.StartChar), formatOffset(c.EndChar), preview(c.Text, 60))
			}
		})
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <doc-id>",
	Short: "Delete a document, its chunks and its stored file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			_ = a.Close()
		}()

		if err := a.Documents.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestIndex, "index", false, "Index each document after uploading it")
	importCmd.Flags().BoolVar(&importIndex, "index", false, "Index imported documents")

	docsCmd.AddCommand(docsChunksCmd)
	docsCmd.AddCommand(docsDeleteCmd)

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(docsCmd)
}

// documentOut carries json tags for the json and yaml output formats.
type documentOut struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
}

type chunkOut struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	StartChar  *int   `json:"start_char"`
	EndChar    *int   `json:"end_char"`
}

func printDocuments(cmd *cobra.Command, docs []storage.DocumentRecord) error {
	out := make([]documentOut, len(docs))
	for i, d := range docs {
		out[i] = documentOut(d)
	}
	return printOutput(cmd.OutOrStdout(), out, func(tw *tabwriter.Writer) {
		if len(docs) == 0 {
			fmt.Fprintln(tw, "No documents found.")
			return
		}
		fmt.Fprintf(tw, "ID\tFILENAME\tCONTENT TYPE\tCREATED\n")
		for _, d := range docs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Filename, d.ContentType, d.CreatedAt.Format(time.RFC3339))
		}
	})
}

func formatOffset(p *int) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprint(*p)
}

// preview returns the first n runes of s on one line.
func preview(s string, n int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\r' || c == '\t' {
			r[i] = ' '
		}
	}
	if len(r) > n {
		return string(r[:n]) + "…"
	}
	return string(r)
}
