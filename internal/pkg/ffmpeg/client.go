package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"pomelo/internal/config"
)

// Client FFmpeg 客户端
// 封装 ffmpeg/ffprobe 的命令调用，所有调用都检查退出码并捕获 stderr
type Client struct {
	ffmpegPath  string
	ffprobePath string
	runner      Runner
}

// NewClient 创建 FFmpeg 客户端
func NewClient(cfg config.EncoderConfig) *Client {
	return NewClientWithRunner(cfg, NewRunner())
}

// NewClientWithRunner 使用指定执行器创建客户端（测试用）
func NewClientWithRunner(cfg config.EncoderConfig, runner Runner) *Client {
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	ffprobePath := cfg.FFprobePath
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Client{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      runner,
	}
}

// VideoInfo 视频信息
type VideoInfo struct {
	Width     int
	Height    int
	FPS       float64
	Duration  float64 // 秒
	CodecName string
}

// probe ffprobe 的 JSON 输出结构
type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Run 执行一次 ffmpeg 命令
// 非零退出码返回 *RunError，asset 用于错误信息中标注出错素材
func (c *Client) Run(ctx context.Context, asset string, args ...string) error {
	result, err := c.runner.Run(ctx, c.ffmpegPath, args...)
	if err != nil {
		return err
	}
	if !result.Ok() {
		return &RunError{
			Cmd:      c.ffmpegPath + " " + strings.Join(args, " "),
			Asset:    asset,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
		}
	}
	return nil
}

// TryRun 执行一次 ffmpeg 命令并返回原始结果，不把非零退出码当作 error
// 供需要自行决策回退策略的调用方使用
func (c *Client) TryRun(ctx context.Context, args ...string) (*Result, error) {
	return c.runner.Run(ctx, c.ffmpegPath, args...)
}

// GetVideoInfo 获取视频信息
func (c *Client) GetVideoInfo(ctx context.Context, videoPath string) (*VideoInfo, error) {
	result, err := c.runner.Run(ctx, c.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,width,height,r_frame_rate",
		"-show_entries", "format=duration",
		"-of", "json",
		videoPath,
	)
	if err != nil {
		return nil, err
	}
	if !result.Ok() {
		return nil, fmt.Errorf("ffprobe %s: %s", videoPath, strings.TrimSpace(result.Stderr))
	}

	var probe probeOutput
	if err := json.Unmarshal([]byte(result.Stdout), &probe); err != nil {
		return nil, fmt.Errorf("parse ffprobe output for %s: %w", videoPath, err)
	}
	if len(probe.Streams) == 0 {
		return nil, fmt.Errorf("找不到视频流: %s", videoPath)
	}

	stream := probe.Streams[0]
	info := &VideoInfo{
		Width:     stream.Width,
		Height:    stream.Height,
		CodecName: stream.CodecName,
	}

	// 帧率可能是分数形式，如 "30000/1001"
	if num, den, ok := strings.Cut(stream.RFrameRate, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 == nil && err2 == nil && d > 0 {
			info.FPS = n / d
		}
	}

	if probe.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			info.Duration = d
		}
	}

	return info, nil
}

// GetAudioDuration 获取音频时长（秒）
func (c *Client) GetAudioDuration(ctx context.Context, audioPath string) (float64, error) {
	result, err := c.runner.Run(ctx, c.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		audioPath,
	)
	if err != nil {
		return 0, err
	}
	if !result.Ok() {
		return 0, fmt.Errorf("ffprobe %s: %s", audioPath, strings.TrimSpace(result.Stderr))
	}

	var probe probeOutput
	if err := json.Unmarshal([]byte(result.Stdout), &probe); err != nil {
		return 0, fmt.Errorf("parse ffprobe output for %s: %w", audioPath, err)
	}
	if probe.Format.Duration == "" {
		return 0, fmt.Errorf("无法获取音频时长: %s", audioPath)
	}

	d, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", probe.Format.Duration, err)
	}
	return d, nil
}

// WriteConcatList 写出 concat demuxer 的文件列表
// 路径统一转为绝对路径，避免 demuxer 的相对路径解析问题
func WriteConcatList(videoPaths []string, listPath string) error {
	var sb strings.Builder
	for _, p := range videoPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("get absolute path for %s: %w", p, err)
		}
		fmt.Fprintf(&sb, "file '%s'\n", abs)
	}
	if err := os.WriteFile(listPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list %s: %w", listPath, err)
	}
	log.Debug().Str("list", listPath).Int("count", len(videoPaths)).Msg("concat 列表已生成")
	return nil
}
