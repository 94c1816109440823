package main

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/ethpandaops/testtrend/pkg/fsutil"
	"github.com/ethpandaops/testtrend/pkg/upload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	uploadDir       string
	uploadPreflight bool
)

var uploadDashboardCmd = &cobra.Command{
	Use:   "upload-dashboard",
	Short: "Upload the dashboard output directory to remote storage",
	Long:  `Upload the output directory to S3-compatible storage using the config file settings.`,
	RunE:  runUploadDashboard,
}

func init() {
	rootCmd.AddCommand(uploadDashboardCmd)
	uploadDashboardCmd.Flags().StringVar(&uploadDir, "dir", "",
		"Directory to upload (default: global.output_dir)")
	uploadDashboardCmd.Flags().BoolVar(&uploadPreflight, "preflight", true,
		"Write a test object before uploading")
}

func runUploadDashboard(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Upload.S3.Bucket == "" {
		return fmt.Errorf("S3 upload is not configured (set upload.s3.bucket)")
	}

	owner, err := fsutil.ParseOwner(cfg.Global.Owner)
	if err != nil {
		return fmt.Errorf("parsing owner: %w", err)
	}

	uploader, err := upload.NewS3Uploader(log, &cfg.Upload.S3, owner)
	if err != nil {
		return fmt.Errorf("creating S3 uploader: %w", err)
	}

	ctx := cmd.Context()

	if uploadPreflight {
		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("preflight: %w", err)
		}
	}

	dir := uploadDir
	if dir == "" {
		dir = cfg.Global.OutputDir
	}

	log.WithField("dir", dir).Info("Uploading dashboard")

	summary, err := uploader.Upload(ctx, dir)
	if err != nil {
		return fmt.Errorf("uploading dashboard: %w", err)
	}

	log.WithFields(logrus.Fields{
		"files":  summary.Files,
		"size":   units.HumanSize(float64(summary.Bytes)),
		"prefix": summary.Prefix,
	}).Info("Upload completed successfully")

	return nil
}
