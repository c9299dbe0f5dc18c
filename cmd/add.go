package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/carrel-ai/carrel/internal/config"
	"github.com/carrel-ai/carrel/internal/store"
)

var (
	addKnowledgeBase string
	addIngest        bool
)

var addCmd = &cobra.Command{
	Use:   "add [file]",
	Short: "Register a document file in a knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdd(cmd.Context(), args[0])
	},
}

func init() {
	addCmd.Flags().StringVar(&addKnowledgeBase, "kb", "", "knowledge base UUID (required)")
	addCmd.Flags().BoolVar(&addIngest, "ingest", false, "process the document immediately after registering")
	_ = addCmd.MarkFlagRequired("kb")
	rootCmd.AddCommand(addCmd)
}

// fileTypeOf maps a filename extension to a supported document type.
func fileTypeOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "pdf", nil
	case ".txt":
		return "txt", nil
	case ".md":
		return "md", nil
	default:
		return "", fmt.Errorf("unsupported file type %q (want .pdf, .txt, or .md)", filepath.Ext(path))
	}
}

func runAdd(ctx context.Context, src string) error {
	kbID, err := uuid.Parse(addKnowledgeBase)
	if err != nil {
		return fmt.Errorf("parsing --kb: %w", err)
	}

	fileType, err := fileTypeOf(src)
	if err != nil {
		return err
	}

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := setupApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeApp(a)

	docID := uuid.New()
	dst, err := copyToDataDir(src, cfg.DataDir, docID)
	if err != nil {
		return err
	}

	doc := store.Document{
		ID:              docID,
		KnowledgeBaseID: kbID,
		Filename:        filepath.Base(src),
		FileType:        fileType,
		SizeBytes:       info.Size(),
		Path:            dst,
		Status:          store.StatusUploaded,
	}
	if err := a.Store.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("registering document: %w", err)
	}

	fmt.Printf("Added %s as document %s\n", doc.Filename, docID)

	if addIngest {
		if err := a.Pipeline.Run(ctx, docID); err != nil {
			return fmt.Errorf("processing document: %w", err)
		}
		fmt.Println("Document processed and ready for questions.")
	}
	return nil
}

// copyToDataDir copies the source file into the data directory under the
// document ID so repeated filenames cannot collide.
func copyToDataDir(src, dataDir string, docID uuid.UUID) (string, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}

	dst := filepath.Join(dataDir, docID.String()+filepath.Ext(src))

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", fmt.Errorf("copying to %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("flushing %s: %w", dst, err)
	}
	return dst, nil
}
