package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Ashfaaq98/helium-console/internal/helium"
	"github.com/Ashfaaq98/helium-console/internal/upload"
	"github.com/spf13/cobra"
)

var (
	uploadYes         bool
	uploadDescription string
	uploadTags        []string
	uploadWatchDir    string
	uploadExisting    bool
	uploadSettle      time.Duration
)

// uploadCmd uploads collection archives
var uploadCmd = &cobra.Command{
	Use:   "upload <case> [file]",
	Short: "Upload a collection archive to a case",
	Long: `Upload a collection archive (zip) to a case, or watch a drop folder and
upload every archive that lands in it.

Examples:
  # Upload one archive, then set its description and tags
  helium-console upload <case> ./host01.zip --description "DC" --tags windows,dc

  # Upload every new archive dropped into ./incoming
  helium-console upload <case> --watch-dir ./incoming`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().BoolVarP(&uploadYes, "yes", "y", false, "Do not ask for confirmation")
	uploadCmd.Flags().StringVar(&uploadDescription, "description", "", "Description set on the uploaded collection")
	uploadCmd.Flags().StringSliceVar(&uploadTags, "tags", nil, "Tags set on the uploaded collection")
	uploadCmd.Flags().StringVar(&uploadWatchDir, "watch-dir", "", "Watch this folder and upload new archives")
	uploadCmd.Flags().BoolVar(&uploadExisting, "existing", false, "With --watch-dir, also upload archives already in the folder")
	uploadCmd.Flags().DurationVar(&uploadSettle, "settle", 2*time.Second, "With --watch-dir, wait this long after the last write before uploading")
}

// confirm asks a yes/no question on in.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s (y/N): ", question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// progressPrinter redraws a single progress line, at most once per percent.
type progressPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	name string
	last int
}

func newProgressPrinter(out io.Writer, name string) *progressPrinter {
	return &progressPrinter{out: out, name: name, last: -1}
}

func (p *progressPrinter) Progress(loaded, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pct := upload.Percent(loaded, total)
	if pct == p.last {
		return
	}
	p.last = pct
	fmt.Fprintf(p.out, "\r%-40s %s", upload.ProgressLabel(p.name, loaded, total), upload.SizeLabel(loaded, total))
}

func (p *progressPrinter) Done() {
	fmt.Fprintln(p.out)
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if uploadWatchDir == "" && len(args) < 2 {
		return errors.New("give a file to upload or --watch-dir")
	}
	if uploadWatchDir != "" && len(args) == 2 {
		return errors.New("--watch-dir cannot be combined with a file")
	}

	if uploadWatchDir == "" {
		path := args[1]
		if _, err := os.Stat(path); err != nil {
			return err
		}
		message, warning := upload.ConfirmMessage(path)
		if warning != "" {
			fmt.Fprintln(out, "Warning: "+warning)
		}
		if !uploadYes && !confirm(cmd.InOrStdin(), out, message) {
			fmt.Fprintln(out, "Upload cancelled.")
			return nil
		}
	}

	o, err := openOneShot(ctx, args[0], "")
	if err != nil {
		return err
	}
	defer o.Close()

	if uploadWatchDir != "" {
		return watchDropFolder(ctx, o, out)
	}

	path := args[1]
	progress := newProgressPrinter(out, path)
	c, err := o.session.UploadCollection(ctx, path, progress.Progress)
	progress.Done()
	o.record(ctx, "upload_collection", "uploaded "+path, err)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Uploaded %s as collection %s\n", path, c.GUID)

	if uploadDescription != "" || len(uploadTags) > 0 {
		if err := o.session.EditCollection(ctx, withMetadata(c, uploadDescription, uploadTags)); err != nil {
			return err
		}
		fmt.Fprintln(out, "Collection metadata updated.")
	}
	return nil
}

// withMetadata applies the non-empty description and tags to c.
func withMetadata(c helium.Collection, description string, tags []string) helium.Collection {
	if description != "" {
		c.Description = description
	}
	if len(tags) > 0 {
		c.Tags = nil
		for _, t := range tags {
			if t = strings.TrimSpace(t); t != "" {
				c.Tags = append(c.Tags, t)
			}
		}
	}
	return c
}

func watchDropFolder(ctx context.Context, o *oneShot, out io.Writer) error {
	uploadFn := func(ctx context.Context, path string) error {
		c, err := o.session.UploadCollection(ctx, path, nil)
		o.record(ctx, "upload_collection", "uploaded "+path, err)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Uploaded %s as collection %s\n", path, c.GUID)
		if uploadDescription != "" || len(uploadTags) > 0 {
			return o.session.EditCollection(ctx, withMetadata(c, uploadDescription, uploadTags))
		}
		return nil
	}

	dw := upload.NewDropWatcher(uploadFn, upload.WatchOptions{
		Dir:      uploadWatchDir,
		Existing: uploadExisting,
		Settle:   uploadSettle,
		Logger:   newLogger(o.cfg, "upload"),
	})
	fmt.Fprintf(out, "Watching %s for archives (Ctrl-C to stop)\n", uploadWatchDir)
	err := dw.Run(ctx)
	uploaded, failed := dw.Stats()
	fmt.Fprintf(out, "Uploaded %d archive(s), %d failed\n", uploaded, failed)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
