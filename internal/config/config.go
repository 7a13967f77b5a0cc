package config

import (
	"errors"
	"time"
)

// Config 应用配置根结构
// 在进程入口一次性装配完成，按值/引用传入各组件，
// 组件内部不再读取环境变量等进程全局状态
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Video    VideoConfig    `mapstructure:"video"`
	Encoder  EncoderConfig  `mapstructure:"encoder"`
	Subtitle SubtitleConfig `mapstructure:"subtitle"`
	SoundFX  SoundFXConfig  `mapstructure:"soundfx"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Assets   AssetsConfig   `mapstructure:"assets"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// LogConfig 日志配置 (Zerolog)
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	TimeFormat string `mapstructure:"time_format"`
}

// VideoConfig 视频输出标准
// 对应原流水线的 VIDEO_STANDARDS：竖屏 720x1280 30fps H.264
type VideoConfig struct {
	Width          int     `mapstructure:"width"`
	Height         int     `mapstructure:"height"`
	FPS            int     `mapstructure:"fps"`
	KeyframeGap    int     `mapstructure:"keyframe_gap"`    // 关键帧间隔（帧数），保持短且一致以支持无损拼接
	AudioBitrate   string  `mapstructure:"audio_bitrate"`   // 如 128k
	AudioCodec     string  `mapstructure:"audio_codec"`     // 如 aac
	OverlaySeconds float64 `mapstructure:"overlay_seconds"` // 转场浮层显示时长（秒）
	MaxSizeMB      float64 `mapstructure:"max_size_mb"`     // 成片大小上限（仅告警）
	BGMVolume      float64 `mapstructure:"bgm_volume"`      // BGM 混音音量
}

// EncoderConfig 编码器探测配置
type EncoderConfig struct {
	FFmpegPath    string        `mapstructure:"ffmpeg_path"`
	FFprobePath   string        `mapstructure:"ffprobe_path"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	ForceSoftware bool          `mapstructure:"force_software"` // 跳过硬件探测，直接使用 CPU 编码
}

// SubtitleConfig 字幕配置
type SubtitleConfig struct {
	FontName      string `mapstructure:"font_name"`
	FontSize      int    `mapstructure:"font_size"`
	MarginV       int    `mapstructure:"margin_v"`        // 垂直边距，所有 Style 行必须一致
	MaxLineLength int    `mapstructure:"max_line_length"` // 每条字幕最大字符数
}

// SoundFXConfig 音效匹配与排布配置
type SoundFXConfig struct {
	Dir         string             `mapstructure:"dir"`          // 音效素材目录（递归索引）
	BaseVolume  float64            `mapstructure:"base_volume"`  // 基准音量
	VolumeSpan  float64            `mapstructure:"volume_span"`  // 音量随机抖动幅度（±）
	FillVolume  float64            `mapstructure:"fill_volume"`  // 补位场景音效音量
	Durations   map[string]float64 `mapstructure:"durations"`    // 按关键词覆盖的音效持续时长（秒）
	DefaultSecs float64            `mapstructure:"default_secs"` // 默认音效持续时长（秒）
}

// RemoteConfig 远程渲染/生成任务接口配置
type RemoteConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxWait      time.Duration `mapstructure:"max_wait"`
}

// AssetsConfig 固定素材路径
type AssetsConfig struct {
	OverlayVideo string `mapstructure:"overlay_video"` // 转场浮层（近黑背景，需色键抠除）
	FinishVideo  string `mapstructure:"finish_video"`  // 结尾片
	BGMDir       string `mapstructure:"bgm_dir"`       // BGM 目录
}

// StorageConfig 成片发布存储配置
type StorageConfig struct {
	Type  string       `mapstructure:"type"` // local, oss
	Local *LocalConfig `mapstructure:"local,omitempty"`
	OSS   *OSSConfig   `mapstructure:"oss,omitempty"`
}

// LocalConfig 本地文件系统配置
type LocalConfig struct {
	BasePath string `mapstructure:"base_path"`
	BaseURL  string `mapstructure:"base_url"`
}

// OSSConfig 阿里云OSS配置
type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
}

// Validate 验证配置有效性
func (c *Config) Validate() error {
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		return errors.New("invalid video resolution")
	}
	if c.Video.FPS <= 0 {
		return errors.New("invalid video fps")
	}
	if c.Video.KeyframeGap <= 0 {
		return errors.New("invalid keyframe gap")
	}
	if c.Remote.MaxRetries < 0 {
		return errors.New("invalid remote max_retries")
	}
	return nil
}
