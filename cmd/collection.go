package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Ashfaaq98/helium-console/internal/upload"
	"github.com/spf13/cobra"
)

var (
	collectionDescription string
	collectionTags        []string
	collectionDir         string
	collectionYes         bool
)

// collectionCmd groups the collection commands
var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Edit, download or delete the collections of a case",
}

var collectionEditCmd = &cobra.Command{
	Use:   "edit <case> <collection>",
	Short: "Edit the description and tags of a collection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("description") && !cmd.Flags().Changed("tags") {
			return errors.New("nothing to change (use --description or --tags)")
		}
		return withCase(cmd, args[0], "edit_collection", func(ctx context.Context, o *oneShot) (string, error) {
			c, ok := o.session.State().Collection(args[1])
			if !ok {
				return "", fmt.Errorf("collection %s not found", args[1])
			}
			if cmd.Flags().Changed("description") {
				c.Description = collectionDescription
			}
			if cmd.Flags().Changed("tags") {
				c = withMetadata(c, "", collectionTags)
				if len(collectionTags) == 0 {
					c.Tags = nil
				}
			}
			if err := o.session.EditCollection(ctx, c); err != nil {
				return "", err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated collection %s\n", c.GUID)
			return "edited collection " + c.GUID, nil
		})
	},
}

var collectionDownloadCmd = &cobra.Command{
	Use:   "download <case> <collection>",
	Short: "Download the collection archive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCase(cmd, args[0], "download_collection", func(ctx context.Context, o *oneShot) (string, error) {
			path, err := upload.SaveDownload(collectionDir, func(w io.Writer) (string, error) {
				return o.session.DownloadCollection(ctx, args[1], w)
			})
			if err != nil {
				return "", err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
			return "downloaded collection " + args[1], nil
		})
	},
}

var collectionDeleteCmd = &cobra.Command{
	Use:   "delete <case> <collection>",
	Short: "Delete a collection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !collectionYes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Delete collection %s?", args[1])) {
			fmt.Fprintln(cmd.OutOrStdout(), "Delete cancelled.")
			return nil
		}
		return withCase(cmd, args[0], "delete_collection", func(ctx context.Context, o *oneShot) (string, error) {
			if err := o.session.DeleteCollection(ctx, args[1]); err != nil {
				return "", err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted collection %s\n", args[1])
			return "deleted collection " + args[1], nil
		})
	},
}

var collectionCacheCmd = &cobra.Command{
	Use:   "remove-cache <case> <collection>",
	Short: "Remove the server cache of a collection, including decrypted data",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !collectionYes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Remove cache, including decrypted data?") {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
		return withCase(cmd, args[0], "remove_cache", func(ctx context.Context, o *oneShot) (string, error) {
			if err := o.session.RemoveCache(ctx, args[1]); err != nil {
				return "", err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache removed")
			return "removed cache of " + args[1], nil
		})
	},
}

func init() {
	rootCmd.AddCommand(collectionCmd)
	collectionCmd.AddCommand(collectionEditCmd, collectionDownloadCmd, collectionDeleteCmd, collectionCacheCmd)

	collectionEditCmd.Flags().StringVar(&collectionDescription, "description", "", "Collection description")
	collectionEditCmd.Flags().StringSliceVar(&collectionTags, "tags", nil, "Collection tags (replaces the current ones)")
	collectionDownloadCmd.Flags().StringVar(&collectionDir, "dir", ".", "Directory where the archive is saved")
	collectionDeleteCmd.Flags().BoolVarP(&collectionYes, "yes", "y", false, "Do not ask for confirmation")
	collectionCacheCmd.Flags().BoolVarP(&collectionYes, "yes", "y", false, "Do not ask for confirmation")
}
