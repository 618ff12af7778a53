package cmd

import (
	"fmt"
	"net/http"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"vehiclecam/internal/remote"
	"vehiclecam/internal/urlresolver"
	"vehiclecam/internal/vehicle"
)

func newGalleryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gallery",
		Short: "Browse the remote image store",
		Long: `Lists folders, vehicles and images held by the remote image store.

Image URLs are rewritten to the configured store origin. When the store is
unreachable or answers in an unknown format, an empty list and a warning
are printed instead of failing.`,
	}

	// newClient はストアの閲覧クライアントを作成する
	newClient := func() (*remote.Client, error) {
		cfg, log, err := opts.load()
		if err != nil {
			return nil, err
		}
		resolver, err := urlresolver.New(cfg.Store.BaseURL)
		if err != nil {
			return nil, err
		}
		resolver.Placeholder = cfg.Store.Placeholder
		return remote.NewClient(cfg.Store.BaseURL, resolver, &http.Client{Timeout: cfg.Store.Timeout}, log.Named("remote"))
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "folders",
			Short: "List folders",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := newClient()
				if err != nil {
					return err
				}
				result := client.Folders(cmd.Context())
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tVEHICLES")
				for _, f := range result.Items {
					fmt.Fprintf(w, "%s\t%s\t%d\n", f.ID, f.Name, f.Count)
				}
				printWarning(cmd, result.Warning)
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "vehicles <folder>",
			Short: "List vehicles in a folder",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := newClient()
				if err != nil {
					return err
				}
				result := client.Vehicles(cmd.Context(), args[0])
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tDATE\tIMAGES")
				for _, v := range result.Items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", v.ID, v.Name, v.Date, v.Images)
				}
				printWarning(cmd, result.Warning)
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "images <vehicle>",
			Short: "List images of a vehicle with resolved URLs",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := vehicle.ParseID(args[0])
				if err != nil {
					return err
				}
				client, err := newClient()
				if err != nil {
					return err
				}
				result := client.Images(cmd.Context(), id)
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VIEW\tDATE\tURL")
				for _, img := range result.Items {
					view := img.ViewName
					if view == "" {
						view = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", view, img.Date, img.URL)
				}
				printWarning(cmd, result.Warning)
				return w.Flush()
			},
		},
	)

	return cmd
}

func printWarning(cmd *cobra.Command, warning string) {
	if warning != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", warning)
	}
}
