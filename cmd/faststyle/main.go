// Command faststyle trains a feed-forward image-stylization network against
// a fixed reference style image.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"faststyle/dataset"
	"faststyle/nn"
	"faststyle/optimizer"
	"faststyle/training"
)

// Large style images are scaled down to this bound before the style targets
// are computed.
const styleImageMaxDim = 512

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("training failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "faststyle",
		Short:         "Fast feed-forward style transfer training",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTrainCommand())
	return root
}

func newTrainCommand() *cobra.Command {
	cfg := training.DefaultConfig()
	var contentDir, styleImagePath, testImagePath string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the stylization network on a directory of content images",
		RunE: func(cmd *cobra.Command, args []string) error {
			if contentDir == "" {
				return fmt.Errorf("--content-dir is required")
			}
			if styleImagePath == "" {
				return fmt.Errorf("--style-image is required")
			}
			return runTraining(cmd.Context(), cfg, contentDir, styleImagePath, testImagePath)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "directory for checkpoints and training records")
	flags.Float32Var(&cfg.LearningRate, "learning-rate", cfg.LearningRate, "Adam learning rate")
	flags.IntVar(&cfg.ImageSize, "image-size", cfg.ImageSize, "square size content images are cropped or padded to")
	flags.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "images per training batch")
	flags.IntVar(&cfg.Epochs, "epochs", cfg.Epochs, "passes over the content dataset")
	flags.Float32Var(&cfg.ContentWeight, "content-weight", cfg.ContentWeight, "content loss weight")
	flags.Float32Var(&cfg.StyleWeight, "style-weight", cfg.StyleWeight, "style loss weight")
	flags.Float32Var(&cfg.TVWeight, "tv-weight", cfg.TVWeight, "total-variation loss weight")
	flags.IntVar(&cfg.ReportEvery, "report-every", cfg.ReportEvery, "steps between reports and checkpoints")
	flags.IntVar(&cfg.MaxCheckpoints, "max-checkpoints", cfg.MaxCheckpoints, "checkpoints retained before the oldest is evicted")
	flags.Int64Var(&cfg.Seed, "seed", cfg.Seed, "seed for weight initialization and dataset shuffling")
	flags.StringVar(&contentDir, "content-dir", "", "directory of content training images")
	flags.StringVar(&styleImagePath, "style-image", "", "reference style image")
	flags.StringVar(&testImagePath, "test-image", "", "held-out content image stylized at every report")

	return cmd
}

func runTraining(ctx context.Context, cfg training.Config, contentDir, styleImagePath, testImagePath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	styleImage, err := dataset.LoadImageScaled(styleImagePath, styleImageMaxDim)
	if err != nil {
		return fmt.Errorf("style image: %v", err)
	}

	ds, err := dataset.Open(contentDir, cfg.ImageSize, cfg.BatchSize, cfg.Seed)
	if err != nil {
		return err
	}
	slog.Info("dataset ready", "dir", contentDir, "images", ds.Len(), "batch_size", cfg.BatchSize)

	transformer, err := nn.NewTransformerNet(cfg.Seed)
	if err != nil {
		return err
	}
	extractor, err := nn.NewLossNet(cfg.Seed)
	if err != nil {
		return err
	}

	adam, err := optimizer.NewAdam(optimizer.AdamConfig{
		LearningRate: cfg.LearningRate,
		Beta1:        0.99,
		Beta2:        0.999,
		Epsilon:      1e-1,
	})
	if err != nil {
		return err
	}

	loop, err := training.NewLoop(cfg, transformer, extractor, adam, styleImage)
	if err != nil {
		return err
	}

	if testImagePath != "" {
		testImage, err := dataset.LoadImageSized(testImagePath, cfg.ImageSize)
		if err != nil {
			return fmt.Errorf("test image: %v", err)
		}
		loop.SetTestImage(testImage)
	}

	slog.Info("starting training", "log_dir", cfg.LogDir, "epochs", cfg.Epochs, "report_every", cfg.ReportEvery)
	return loop.Run(ctx, ds)
}
