package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/diarization"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/enrollment"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

type cliStyles struct {
	Title    lipgloss.Style
	SpeakerA lipgloss.Style
	SpeakerB lipgloss.Style
	Dim      lipgloss.Style
	OK       lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style
}

var styles = cliStyles{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")),
	SpeakerA: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4fc1ff")),
	SpeakerB: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffb86c")),
	Dim:      lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")),
	OK:       lipgloss.NewStyle().Foreground(lipgloss.Color("#50fa7b")),
	Error:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5555")),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#00ff9f")).
		Padding(0, 1),
}

func speakerLabel(s speaker.Speaker) string {
	switch s {
	case speaker.A:
		return styles.SpeakerA.Render("Speaker A")
	case speaker.B:
		return styles.SpeakerB.Render("Speaker B")
	default:
		return styles.Dim.Render(s.String())
	}
}

func confidenceBar(c float64) string {
	n := int(c*20 + 0.5)
	return strings.Repeat("█", n) + styles.Dim.Render(strings.Repeat("░", 20-n))
}

func renderDetection(res *diarization.DetectionResult) string {
	line := fmt.Sprintf("%s %s %s %.2f",
		styles.Dim.Render(res.Timestamp.Format("15:04:05.000")),
		speakerLabel(res.Speaker),
		confidenceBar(res.Confidence),
		res.Confidence)
	var votes []string
	for _, c := range res.Contributions {
		if c.Voted() {
			votes = append(votes, fmt.Sprintf("%s=%s(%.2f)", c.Method, c.Speaker, c.Confidence))
		} else {
			votes = append(votes, fmt.Sprintf("%s=%s", c.Method, c.Status))
		}
	}
	return line + "  " + styles.Dim.Render(strings.Join(votes, " "))
}

func renderEvent(ev diarization.StreamEvent) string {
	switch ev.Type {
	case diarization.SpeakerDetected:
		return renderDetection(ev.Result)
	case diarization.SpeakerChanged:
		return styles.Title.Render(fmt.Sprintf("turn: %s → %s", ev.Previous, ev.Result.Speaker))
	case diarization.SpeechStarted:
		return styles.Dim.Render("speech started")
	case diarization.SilenceDetected:
		return styles.Dim.Render("silence")
	case diarization.ErrorEvent:
		return styles.Error.Render("error: " + ev.Error)
	}
	return ""
}

func renderPrompt(target speaker.Speaker, p enrollment.Prompt, progress enrollment.Progress) string {
	body := fmt.Sprintf("%s  %s\n\n%s\n\n%s",
		speakerLabel(target),
		styles.Dim.Render(fmt.Sprintf("%.0f%% complete", progress.Percent*100)),
		p.Text,
		styles.Dim.Render(fmt.Sprintf("recording %s (%s)", p.Duration, p.Type)))
	return styles.Box.Render(body)
}

func renderSample(res enrollment.SampleResult) string {
	if res.Accepted {
		return styles.OK.Render(fmt.Sprintf("✓ accepted  quality %.2f  SNR %.1f dB", res.Quality.Score, res.Quality.SNR))
	}
	return styles.Error.Render("✗ rejected") + "  " + res.Recommendation
}

func renderStatus(st diarization.CalibrationStatus) string {
	var b strings.Builder
	b.WriteString(styles.Title.Render("Calibration"))
	b.WriteString("\n")
	for _, s := range speaker.Parties {
		ss := st.Speakers.Get(s)
		state := styles.Error.Render("not calibrated")
		switch {
		case ss.IsCalibrated:
			state = styles.OK.Render("calibrated")
		case ss.NeedsRecalibration:
			state = styles.SpeakerB.Render("needs recalibration")
		}
		fmt.Fprintf(&b, "%s  %s  %s\n", speakerLabel(s), state,
			styles.Dim.Render(fmt.Sprintf("%d samples, quality %.2f", ss.SampleCount, ss.Quality)))
	}
	if st.IsReady {
		b.WriteString(styles.OK.Render("ready"))
	} else {
		b.WriteString(styles.Dim.Render("run `diarizer enroll` to calibrate"))
	}
	return styles.Box.Render(b.String())
}
