package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"vehiclecam/internal/camera"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List V4L2 camera devices",
		Long: `Scans /dev/video* for capture devices and prints the name, driver,
supported resolutions and whether zoom and focus controls are available.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			discovery := camera.NewLinuxDiscovery()

			devices, err := discovery.ScanDevices(ctx)
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no camera devices found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DEVICE\tNAME\tDRIVER\tMAX RESOLUTION\tZOOM\tFOCUS\tACCESS")
			for _, device := range devices {
				access := "ok"
				if err := camera.CheckAccess(device); err != nil {
					access = err.Error()
				}

				info, err := discovery.GetDeviceInfo(ctx, device)
				if err != nil {
					fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\t%s\n", device, err)
					continue
				}

				var best camera.Resolution
				for _, r := range info.Resolutions {
					if r.Area() > best.Area() {
						best = r
					}
				}
				_, zoom := info.Controls["zoom_absolute"]
				_, focus := info.Controls["focus_automatic_continuous"]

				fmt.Fprintf(w, "%s\t%s\t%s\t%dx%d\t%t\t%t\t%s\n",
					device, info.Name, info.Driver, best.Width, best.Height, zoom, focus, access)
			}
			return w.Flush()
		},
	}
}
