package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"pomelo/internal/pkg/compositor"
	"pomelo/internal/pkg/encoder"
	"pomelo/internal/pkg/ffmpeg"
	"pomelo/internal/pkg/subtitle"
)

var (
	renderSubs    string
	renderAudio   string
	renderEffects string
)

var renderCmd = &cobra.Command{
	Use:   "render-segment <video> <output>",
	Short: "Render a single segment to the standard output format",
	Long: `Render a segment video to the unified vertical format: scale with
letterboxing, burn in the ASS subtitles and replace the audio track
with the narration.`,
	Args: cobra.ExactArgs(2),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	flags := renderCmd.Flags()
	flags.StringVar(&renderSubs, "subs", "", "ASS subtitle file to burn in")
	flags.StringVar(&renderAudio, "audio", "", "narration audio replacing the original track")
	flags.StringVar(&renderEffects, "effects", "", "sound effects track mixed with the narration")
}

func runRender(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client := ffmpeg.NewClient(cfg.Encoder)
	profile := encoder.NewDetector(client, cfg.Encoder).Detect(ctx)
	comp := compositor.New(client, profile, cfg.Video)

	// 有字幕时按字幕总时长截断输出
	duration := 0.0
	if renderSubs != "" {
		dialogues, err := subtitle.ParseDialogues(renderSubs)
		if err != nil {
			return err
		}
		duration = subtitle.MaxEnd(dialogues)
	}

	return comp.RenderSegment(ctx, compositor.SegmentInput{
		Video:    args[0],
		Subtitle: renderSubs,
		Audio:    renderAudio,
		Effects:  renderEffects,
		Duration: duration,
	}, args[1])
}
