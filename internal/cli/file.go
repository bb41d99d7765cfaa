package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var fileCmd = &cobra.Command{
	Use:     "file",
	Aliases: []string{"files"},
	Short:   "Upload and manage files in schema buckets",
}

var (
	fileName   string
	fileOutput string
	fileLimit  int
	fileOffset int
)

var fileUploadCmd = &cobra.Command{
	Use:   "upload <bucket> <path>",
	Short: "Upload a local file",
	Long: `Upload a local file into a bucket.

The stored path is built from the bucket's upload options: a fresh NanoID
plus either the lowercased extension or, with preserve_original_filename,
the original name. Paths already present in storage are never reused.`,
	Args: cobra.ExactArgs(2),
	RunE: runFileUpload,
}

var fileListCmd = &cobra.Command{
	Use:   "list <bucket>",
	Short: "List files in a bucket, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runFileList,
}

var fileGetCmd = &cobra.Command{
	Use:   "get <bucket> <id>",
	Short: "Download a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runFileGet,
}

var fileInfoCmd = &cobra.Command{
	Use:   "info <bucket> <id>",
	Short: "Show file metadata",
	Args:  cobra.ExactArgs(2),
	RunE:  runFileInfo,
}

var fileDeleteCmd = &cobra.Command{
	Use:   "delete <bucket> <id>",
	Short: "Delete a file and its metadata",
	Args:  cobra.ExactArgs(2),
	RunE:  runFileDelete,
}

func init() {
	fileUploadCmd.Flags().StringVar(&fileName, "name", "", "file name to use instead of the local one")
	fileGetCmd.Flags().StringVarP(&fileOutput, "output", "o", "", "write to this path instead of stdout")
	fileListCmd.Flags().IntVar(&fileLimit, "limit", 50, "maximum number of files")
	fileListCmd.Flags().IntVar(&fileOffset, "offset", 0, "files to skip")

	fileCmd.AddCommand(fileUploadCmd)
	fileCmd.AddCommand(fileListCmd)
	fileCmd.AddCommand(fileGetCmd)
	fileCmd.AddCommand(fileInfoCmd)
	fileCmd.AddCommand(fileDeleteCmd)

	rootCmd.AddCommand(fileCmd)
}

func runFileUpload(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.storageService(cmd.Context())
	if err != nil {
		return err
	}

	f, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	name := fileName
	if name == "" {
		name = filepath.Base(args[1])
	}

	file, err := svc.Upload(cmd.Context(), args[0], name, f, info.Size())
	if err != nil {
		return err
	}
	return printYAML(cmd.OutOrStdout(), file)
}

func runFileList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.storageService(cmd.Context())
	if err != nil {
		return err
	}

	files, err := svc.List(cmd.Context(), args[0], fileOffset, fileLimit)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\t%s\n", f.ID, f.Path, f.Size, f.MimeType)
	}
	return nil
}

func runFileGet(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.storageService(cmd.Context())
	if err != nil {
		return err
	}

	rc, file, err := svc.Download(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	defer rc.Close()

	out := cmd.OutOrStdout()
	if fileOutput != "" {
		f, err := os.Create(fileOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	n, err := io.Copy(out, rc)
	if err != nil {
		return fmt.Errorf("writing %s: %w", file.Path, err)
	}
	log.Debug().Str("path", file.Path).Int64("bytes", n).Msg("File downloaded")
	return nil
}

func runFileInfo(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.storageService(cmd.Context())
	if err != nil {
		return err
	}

	file, err := svc.GetMetadata(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	return printYAML(cmd.OutOrStdout(), file)
}

func runFileDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.storageService(cmd.Context())
	if err != nil {
		return err
	}

	if err := svc.Delete(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	log.Info().Str("bucket", args[0]).Str("id", args[1]).Msg("File deleted")
	return nil
}
