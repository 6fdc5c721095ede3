package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"backy/internal/repository"
)

func newRestoreCmd() *cobra.Command {
	var stream bool

	cmd := &cobra.Command{
		Use:   "restore <repo-dir> <revision> <destination>",
		Short: "Restore a revision to a file, block device, or stdout",
		Long: "Restore a revision to a file, block device, or stdout. <revision> follows " +
			"the selection grammar: a full uuid, an index (0 = newest), \"latest\"/\"last\", or a tag. " +
			"Pass \"-\" as <destination> (or --stream) to write to stdout.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, selector, dest := args[0], args[1], args[2]

			repo, err := openRepo(dir)
			if err != nil {
				return err
			}
			defer repo.Close()

			rev, err := resolveOne(repo, selector)
			if err != nil {
				return err
			}

			sink, closeSink, err := openSink(dest, stream, rev.Size)
			if err != nil {
				return err
			}
			defer closeSink()

			if err := repo.Restore(rev, sink); err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			fmt.Printf("restored revision %s (%d bytes) to %s\n", rev.UUID, rev.Size, dest)
			return nil
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", false, "write sequentially to stdout instead of <destination> (same as passing \"-\")")
	return cmd
}

// openSink opens dest as a restore.Sink. "-" or --stream always yields a
// StreamSink over stdout; otherwise dest is opened/created as a regular
// file and restored into via FileSink, which can write blocks out of
// order.
func openSink(dest string, stream bool, size int64) (repository.Sink, func(), error) {
	if dest == "-" || stream {
		return repository.NewStreamSink(os.Stdout), func() {}, nil
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("restore: open destination %s: %w", dest, err)
	}
	return repository.NewFileSink(f, size), func() { f.Close() }, nil
}
