package soundfx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"pomelo/internal/pkg/ffmpeg"
)

// BuildTrack 把音效事件合成为一条与正片等长的音效轨道
// 每个音效先单独做延迟和音量处理输出到临时文件，最后统一 amix，
// 避免在单个滤镜图里堆叠过多分支。
func BuildTrack(ctx context.Context, client *ffmpeg.Client, events []Event, totalDuration float64, outputPath string) error {
	if len(events) == 0 {
		log.Info().Msg("没有音效事件，跳过音效轨道创建")
		return nil
	}

	tempDir := filepath.Dir(outputPath)
	var tempFiles []string
	defer func() {
		for _, f := range tempFiles {
			os.Remove(f)
		}
	}()

	for i, event := range events {
		tempFile := filepath.Join(tempDir, fmt.Sprintf("temp_effect_%d.mp3", i))
		delayMs := int(event.StartTime * 1000)
		filter := fmt.Sprintf("volume=%.3f", event.Volume)
		if delayMs > 0 {
			filter = fmt.Sprintf("adelay=%d|%d,volume=%.3f", delayMs, delayMs, event.Volume)
		}
		if err := client.Run(ctx, event.SoundFile,
			"-y",
			"-i", event.SoundFile,
			"-af", filter,
			"-t", fmt.Sprintf("%.3f", totalDuration),
			"-c:a", "libmp3lame", "-b:a", "128k",
			tempFile,
		); err != nil {
			// 单个音效失败不中断整条轨道
			log.Warn().Err(err).Str("file", filepath.Base(event.SoundFile)).Msg("处理音效失败")
			continue
		}
		tempFiles = append(tempFiles, tempFile)
		log.Debug().
			Int("index", i+1).
			Int("total", len(events)).
			Str("file", filepath.Base(event.SoundFile)).
			Msg("处理音效")
	}

	if len(tempFiles) == 0 {
		return fmt.Errorf("所有音效处理均失败")
	}

	// 静音底轨保证轨道时长与正片一致
	args := []string{
		"-y",
		"-f", "lavfi",
		"-t", fmt.Sprintf("%.3f", totalDuration),
		"-i", "anullsrc=channel_layout=stereo:sample_rate=48000",
	}
	for _, f := range tempFiles {
		args = append(args, "-i", f)
	}
	args = append(args,
		"-filter_complex", fmt.Sprintf("amix=inputs=%d:duration=longest", len(tempFiles)+1),
		"-c:a", "libmp3lame", "-b:a", "128k",
		outputPath,
	)
	if err := client.Run(ctx, outputPath, args...); err != nil {
		return fmt.Errorf("创建音效轨道失败: %w", err)
	}
	log.Info().Str("out", outputPath).Int("effects", len(tempFiles)).Msg("音效轨道创建成功")
	return nil
}
