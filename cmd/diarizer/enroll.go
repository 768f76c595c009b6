package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/audio"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/diarization"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/enrollment"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

var enrollFromDir string

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Record calibration samples for both speakers",
	Long: `Walk both participants through the calibration prompts and store their
voice profiles.

With --from-dir, 16-bit PCM WAV files are used instead of the microphone.
Files starting with "a" belong to speaker A, files starting with "b" to
speaker B; they are recorded in name order.

Examples:
  diarizer enroll
  diarizer enroll --from-dir ./samples`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		engine := a.engine(a.logger)
		sess, err := engine.StartCalibrationSession("")
		if err != nil {
			return err
		}

		if enrollFromDir != "" {
			err = enrollFiles(engine, sess.ID, enrollFromDir)
		} else {
			err = enrollLive(ctx, a, engine, sess)
		}
		if err != nil {
			_ = engine.AbandonCalibrationSession(sess.ID)
			return err
		}

		res, err := engine.CompleteCalibrationSession(ctx, sess.ID)
		if err != nil {
			return err
		}
		if !res.Success {
			fmt.Println(styles.Error.Render(res.Recommendation))
		}
		fmt.Println(renderStatus(engine.CalibrationStatus()))
		return nil
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollFromDir, "from-dir", "", "directory of a*.wav and b*.wav samples")
}

func enrollLive(ctx context.Context, a *app, engine *diarization.Engine, sess *enrollment.Session) error {
	target, index := sess.Target, sess.PromptIndex
	var progress enrollment.Progress
	for progress.Step != enrollment.StepReview {
		prompt := engine.CalibrationPrompt(index)
		fmt.Println(renderPrompt(target, prompt, progress))

		frame, err := recordFor(ctx, a.cfg.Audio.SampleRate, prompt.Duration)
		if err != nil {
			return err
		}
		res, err := engine.RecordCalibrationSample(sess.ID, frame, prompt.Type, target)
		if err != nil {
			return err
		}
		fmt.Println(renderSample(res))
		progress = res.Progress
		target, index = progress.Target, progress.PromptIndex
	}
	return nil
}

func enrollFiles(engine *diarization.Engine, id, dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	if err != nil {
		return err
	}
	sort.Strings(paths)

	recorded := 0
	for _, path := range paths {
		name := strings.ToLower(filepath.Base(path))
		s := speaker.Undetermined
		switch {
		case strings.HasPrefix(name, "a"):
			s = speaker.A
		case strings.HasPrefix(name, "b"):
			s = speaker.B
		default:
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		frame, err := audio.DecodeWav(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		res, err := engine.RecordCalibrationSample(id, frame, enrollment.PromptFreeSpeech, s)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Printf("%s %s  %s\n", speakerLabel(s), styles.Dim.Render(filepath.Base(path)), renderSample(res))
		recorded++
	}
	if recorded == 0 {
		return fmt.Errorf("no a*.wav or b*.wav files in %s", dir)
	}
	return nil
}
