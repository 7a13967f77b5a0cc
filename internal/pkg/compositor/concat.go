package compositor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"pomelo/internal/pkg/ffmpeg"
)

// Concat 把多个片段按顺序拼接为一个视频
// 先尝试 concat demuxer 流复制，编码参数不一致导致失败时回落为整体重编码。
// 只有一个片段时直接流复制。
func (c *Compositor) Concat(ctx context.Context, videoPaths []string, outputPath string) error {
	if len(videoPaths) == 0 {
		return fmt.Errorf("没有可拼接的视频")
	}
	if len(videoPaths) == 1 {
		return c.client.Run(ctx, videoPaths[0],
			"-y", "-i", videoPaths[0], "-c", "copy", outputPath)
	}

	listPath := filepath.Join(filepath.Dir(outputPath), "concat_list.txt")
	if err := ffmpeg.WriteConcatList(videoPaths, listPath); err != nil {
		return err
	}
	defer os.Remove(listPath)

	err := c.client.Run(ctx, outputPath,
		"-y",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		outputPath,
	)
	if err == nil {
		return nil
	}

	var runErr *ffmpeg.RunError
	if !errors.As(err, &runErr) {
		return err
	}
	log.Warn().Int("exit", runErr.ExitCode).Msg("流复制拼接失败，回落为重新编码")

	args := []string{
		"-y",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
	}
	args = append(args, c.outputArgs()...)
	args = append(args,
		"-c:a", c.video.AudioCodec,
		"-b:a", c.video.AudioBitrate,
		outputPath,
	)
	return c.client.Run(ctx, outputPath, args...)
}
