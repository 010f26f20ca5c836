// Command hellogpu renders one of the quad samples for a fixed number of
// frames. Without a window it renders offscreen and saves the last frame.
package main

import (
	"context"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/signal"

	_ "github.com/gogpu/wgpu/hal/allbackends"

	"github.com/gogpu/hellogpu"
)

const (
	// sampleID picks the sample: 0 quad, 1 animated quad, 2 textured quad.
	sampleID = 0

	frameCount = 512
	output     = "hellogpu.png"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	hellogpu.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("hellogpu failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	variants := hellogpu.Variants()
	if sampleID >= len(variants) {
		return hellogpu.ErrUnknownVariant
	}

	s, err := hellogpu.New(variants[sampleID], hellogpu.WithCapture(func(img *image.NRGBA) error {
		return savePNG(output, img)
	}))
	if err != nil {
		return err
	}
	if err := s.Run(ctx, frameCount); err != nil {
		return err
	}

	st := s.Stats()
	logger.Info("done",
		"variant", s.Variant(),
		"frames", st.Frames,
		"fence", st.LastFence,
		"uploaded", st.UploadedBytes,
		"output", output)
	return nil
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
