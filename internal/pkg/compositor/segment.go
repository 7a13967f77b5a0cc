package compositor

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// SegmentInput 单个叙述片段的合成输入
type SegmentInput struct {
	Video    string // 基础视频（图片视频或远端生成的片段）
	Subtitle string // ASS 字幕文件，可为空
	Audio    string // 叙述配音，可为空
	Effects  string // 音效轨道，可为空
	Duration float64
}

// escapeFilterPath 转义滤镜参数里的路径特殊字符
func escapeFilterPath(path string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		":", `\:`,
		"=", `\=`,
		",", `\,`,
		"'", `\'`,
	)
	return replacer.Replace(path)
}

// RenderSegment 渲染单个片段：统一分辨率、烧录字幕、替换音轨
// 配音直接替换原音轨而不是混入，音效轨道存在时与配音 amix
func (c *Compositor) RenderSegment(ctx context.Context, in SegmentInput, outputPath string) error {
	args := []string{"-y", "-i", in.Video}

	audioIdx := -1
	effectsIdx := -1
	next := 1
	if in.Audio != "" {
		args = append(args, "-i", in.Audio)
		audioIdx = next
		next++
	}
	if in.Effects != "" {
		args = append(args, "-i", in.Effects)
		effectsIdx = next
		next++
	}

	// 视频滤镜链：缩放补边，再烧录字幕
	vf := c.scalePad()
	if in.Subtitle != "" {
		vf += ",ass=" + escapeFilterPath(in.Subtitle)
	}

	switch {
	case audioIdx >= 0 && effectsIdx >= 0:
		filter := fmt.Sprintf(
			"[0:v]%s[vout];[%d:a]volume=1.0[narr];[%d:a]volume=1.0[fx];[narr][fx]amix=inputs=2:duration=first:dropout_transition=3[aout]",
			vf, audioIdx, effectsIdx)
		args = append(args,
			"-filter_complex", filter,
			"-map", "[vout]", "-map", "[aout]",
		)
	case audioIdx >= 0:
		args = append(args,
			"-filter_complex", fmt.Sprintf("[0:v]%s[vout]", vf),
			"-map", "[vout]", "-map", fmt.Sprintf("%d:a", audioIdx),
		)
	default:
		args = append(args, "-vf", vf)
	}

	args = append(args, c.outputArgs()...)
	args = append(args,
		"-c:a", c.video.AudioCodec,
		"-b:a", c.video.AudioBitrate,
	)
	if in.Duration > 0 {
		args = append(args, "-t", fmt.Sprintf("%.3f", in.Duration))
	}
	args = append(args, outputPath)

	log.Info().Str("video", in.Video).Str("out", outputPath).Msg("渲染片段")
	return c.client.Run(ctx, in.Video, args...)
}
