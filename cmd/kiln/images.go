package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	kilnlibvirt "github.com/jbweber/kiln/internal/libvirt"
	"github.com/jbweber/kiln/internal/output"
	"github.com/jbweber/kiln/internal/storage"
)

var (
	imagesFormat      string
	imagesNoHeaders   bool
	imagesStorageRoot string
)

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "List images in the images pool",
	Long: `List the contents of the kiln-images pool: base images and every
captured golden image.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(imagesFormat); err != nil {
			return err
		}

		client, err := kilnlibvirt.Connect("", 5*time.Second)
		if err != nil {
			return fmt.Errorf("failed to connect to libvirt: %w", err)
		}
		defer func() {
			_ = client.Close()
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mgr := storage.NewManager(client.Libvirt(), imagesStorageRoot)

		if err := mgr.RefreshPool(ctx, storage.ImagesPool); err != nil {
			return fmt.Errorf("failed to refresh images pool: %w", err)
		}

		infos, err := mgr.ListImages(ctx)
		if err != nil {
			return fmt.Errorf("failed to list images: %w", err)
		}

		records := make([]*output.ImageRecord, 0, len(infos))
		for _, info := range infos {
			records = append(records, &output.ImageRecord{
				Name:       info.Name,
				Path:       info.Path,
				SizeBytes:  info.Capacity,
				AllocBytes: info.Allocation,
			})
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(imagesFormat),
			NoHeaders: imagesNoHeaders,
		})
		if err != nil {
			return err
		}

		text, err := formatter.FormatImageList(records)
		if err != nil {
			return err
		}

		fmt.Print(text)
		return nil
	},
}

func init() {
	imagesCmd.Flags().StringVarP(&imagesFormat, "output", "o", "table", "output format (table, yaml, json)")
	imagesCmd.Flags().BoolVar(&imagesNoHeaders, "no-headers", false, "omit table headers")
	imagesCmd.Flags().StringVar(&imagesStorageRoot, "storage-root", "/var/lib/kiln", "storage root directory")
}
