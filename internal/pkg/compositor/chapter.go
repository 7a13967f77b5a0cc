package compositor

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"pomelo/internal/pkg/ffmpeg"
)

// PickBGM 从 BGM 目录随机挑选一个音频文件
func PickBGM(bgmDir string, rng *rand.Rand) (string, error) {
	entries, err := os.ReadDir(bgmDir)
	if err != nil {
		return "", fmt.Errorf("读取 BGM 目录失败: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".mp3" || ext == ".wav" || ext == ".m4a" || ext == ".aac" || ext == ".flac" {
			files = append(files, filepath.Join(bgmDir, e.Name()))
		}
	}
	if len(files) == 0 {
		return "", fmt.Errorf("BGM 目录中没有音频文件: %s", bgmDir)
	}
	sort.Strings(files)
	return files[rng.Intn(len(files))], nil
}

// PrepareBGM 生成与正片等长的 BGM 音频
// BGM 比正片长时裁剪，比正片短时循环补足，末尾统一 3 秒淡出
func (c *Compositor) PrepareBGM(ctx context.Context, bgmPath string, targetDuration float64, outputPath string) error {
	bgmDuration, err := c.client.GetAudioDuration(ctx, bgmPath)
	if err != nil {
		return err
	}
	if bgmDuration <= 0 {
		return fmt.Errorf("无法获取 BGM 时长: %s", bgmPath)
	}

	fadeStart := targetDuration - 3
	if fadeStart < 0 {
		fadeStart = 0
	}
	fade := fmt.Sprintf("afade=t=out:st=%.3f:d=3", fadeStart)

	var args []string
	if bgmDuration >= targetDuration {
		args = []string{
			"-y",
			"-i", bgmPath,
			"-t", fmt.Sprintf("%.3f", targetDuration),
			"-af", fade,
			outputPath,
		}
	} else {
		loops := int(targetDuration/bgmDuration) + 1
		args = []string{
			"-y",
			"-stream_loop", fmt.Sprintf("%d", loops),
			"-i", bgmPath,
			"-t", fmt.Sprintf("%.3f", targetDuration),
			"-af", fade,
			outputPath,
		}
	}

	log.Info().
		Str("bgm", filepath.Base(bgmPath)).
		Float64("bgm_duration", bgmDuration).
		Float64("target", targetDuration).
		Msg("生成 BGM 音轨")
	return c.client.Run(ctx, bgmPath, args...)
}

// ConcatWithBGM 拼接片段并把 BGM 混入原声
// 原声保持原音量，BGM 按配置的音量混入，时长以视频为准
func (c *Compositor) ConcatWithBGM(ctx context.Context, videoPaths []string, bgmAudioPath, outputPath string) error {
	if len(videoPaths) == 0 {
		return fmt.Errorf("没有可拼接的视频")
	}

	listPath := filepath.Join(filepath.Dir(outputPath), "concat_list.txt")
	if err := ffmpeg.WriteConcatList(videoPaths, listPath); err != nil {
		return err
	}
	defer os.Remove(listPath)

	filter := fmt.Sprintf(
		"[0:a]volume=1.0[original];[1:a]volume=%.2f[bgm];[original][bgm]amix=inputs=2:duration=first:dropout_transition=3[mixed]",
		c.video.BGMVolume)

	args := []string{
		"-y",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-i", bgmAudioPath,
		"-filter_complex", filter,
		"-map", "0:v:0",
		"-map", "[mixed]",
	}
	args = append(args, c.outputArgs()...)
	args = append(args,
		"-c:a", c.video.AudioCodec,
		"-b:a", c.video.AudioBitrate,
		outputPath,
	)
	return c.client.Run(ctx, outputPath, args...)
}

// AppendFinish 在正片末尾拼上结尾视频，流复制避免重编码引入时长偏差
func (c *Compositor) AppendFinish(ctx context.Context, mainPath, finishPath, outputPath string) error {
	if _, err := os.Stat(finishPath); err != nil {
		log.Warn().Str("finish", finishPath).Msg("结尾视频不存在，跳过拼接")
		return c.Concat(ctx, []string{mainPath}, outputPath)
	}
	return c.Concat(ctx, []string{mainPath, finishPath}, outputPath)
}
