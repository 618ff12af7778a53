package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"vehiclecam/internal/upload"
	"vehiclecam/internal/vehicle"
)

// photoExtensions は読み込むファイルの拡張子
var photoExtensions = []string{".jpg", ".jpeg", ".png"}

func newUploadCmd(opts *rootOptions) *cobra.Command {
	var (
		vehicleID string
		dir       string
	)

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a four-view set from disk",
		Long: `Uploads the four views of a vehicle from a directory.

Each view is read from <tag>.jpg (or .jpeg / .png), where tag is one of
frontal, lateral_izquierdo, trasero, lateral_derecho. Views are uploaded in
order and the batch stops at the first failure.`,
		Example: `  vehiclecam upload --vehicle 7 --dir ./photos`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := vehicle.ParseID(vehicleID)
			if err != nil {
				return err
			}

			photos, err := loadPhotos(dir)
			if err != nil {
				return err
			}

			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			pipeline, err := newPipeline(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			result := pipeline.UploadAll(cmd.Context(), photos, id, func(view vehicle.ViewSlot, percent int, status upload.Status, message string) {
				printProgress(out, view, percent, status, message)
			})

			if !result.Success {
				return errors.New(result.Message)
			}
			fmt.Fprintln(out, result.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&vehicleID, "vehicle", "", "Vehicle number (1-260)")
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory containing the four view photos")
	_ = cmd.MarkFlagRequired("vehicle")

	return cmd
}

// loadPhotos はディレクトリから4方向の写真を読み込む
// 見つからないビューはマップに含めず、UploadAll に欠落として報告させる
func loadPhotos(dir string) (map[vehicle.ViewSlot]*vehicle.CapturedImage, error) {
	photos := make(map[vehicle.ViewSlot]*vehicle.CapturedImage)
	for _, view := range vehicle.AllViews {
		for _, ext := range photoExtensions {
			path := filepath.Join(dir, view.Tag()+ext)
			data, err := os.ReadFile(path)
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("%s の読み込みに失敗: %w", path, err)
			}
			img := vehicle.NewCapturedImage(data, http.DetectContentType(data), 0, 0)
			img.View = view
			photos[view] = img
			break
		}
	}
	return photos, nil
}

// printProgress は進捗を1行で表示する。途中経過は25%刻みに間引く
func printProgress(w io.Writer, view vehicle.ViewSlot, percent int, status upload.Status, message string) {
	if status == upload.StatusUploading && percent%25 != 0 && percent != 0 {
		return
	}
	line := fmt.Sprintf("%-18s %3d%% %s", view.Tag(), percent, status)
	if message != "" {
		line += "  " + message
	}
	fmt.Fprintln(w, line)
}
