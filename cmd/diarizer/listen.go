package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/audio"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/diarization"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Detect who is speaking from the microphone",
	Long: `Capture audio from the default input device and print a detection for
every frame. Without enrolled profiles the first voice heard is speaker A.

Examples:
  diarizer listen
  diarizer listen --owner desk-1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return listen(ctx, a)
	},
}

func listen(ctx context.Context, a *app) error {
	engine := a.engine(a.logger)
	if st := engine.CalibrationStatus(); !st.IsReady {
		fmt.Println(renderStatus(st))
	}

	stream := engine.NewManagedStream(ctx)
	defer stream.Close()

	f := newFramer(a.cfg.Audio.SampleRate, a.cfg.Audio.Frame, func(frame audio.Frame) {
		if err := stream.Write(frame); err != nil && !errors.Is(err, diarization.ErrStreamClosed) {
			a.logger.Warn("failed to write frame", "error", err)
		}
	})
	c, err := startCapture(a.cfg.Audio.SampleRate, f.push)
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Println(styles.Title.Render(fmt.Sprintf("Listening at %d Hz, Ctrl+C to stop", a.cfg.Audio.SampleRate)))
	for {
		select {
		case <-ctx.Done():
			st := stream.Stats()
			fmt.Println(styles.Dim.Render(fmt.Sprintf("\nprocessed %d, dropped %d, discarded %d", st.Processed, st.Dropped, st.Discarded)))
			return nil
		case ev, ok := <-stream.Events():
			if !ok {
				return nil
			}
			if line := renderEvent(ev); line != "" {
				fmt.Println(line)
			}
		}
	}
}
