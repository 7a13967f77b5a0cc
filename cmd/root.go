package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pomelo/internal/config"
	"pomelo/internal/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pomelo",
	Short: "Pomelo - narrated video composition pipeline",
	Long: `Pomelo assembles narrated chapter videos from novel text:
it reconciles narration timestamps, builds ASS subtitles, matches
sound effects, renders segments and concatenates them into final videos.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./configs/config.yaml)")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.pomelo")
	}

	// 环境变量设置
	viper.SetEnvPrefix("POMELO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 设置默认值
	setDefaults()

	// 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Fprintln(os.Stderr, "No config file found, using defaults and environment variables")
		} else {
			fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
			os.Exit(1)
		}
	}

	// 反序列化到结构体
	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to unmarshal config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	log.Debug().Str("config_file", viper.ConfigFileUsed()).Msg("configuration loaded")
}

func setDefaults() {
	// Log
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.time_format", "RFC3339")

	// Video
	viper.SetDefault("video.width", 720)
	viper.SetDefault("video.height", 1280)
	viper.SetDefault("video.fps", 30)
	viper.SetDefault("video.keyframe_gap", 30)
	viper.SetDefault("video.audio_bitrate", "128k")
	viper.SetDefault("video.audio_codec", "aac")
	viper.SetDefault("video.overlay_seconds", 5)
	viper.SetDefault("video.max_size_mb", 95)
	viper.SetDefault("video.bgm_volume", 0.3)

	// Encoder
	viper.SetDefault("encoder.ffmpeg_path", "ffmpeg")
	viper.SetDefault("encoder.ffprobe_path", "ffprobe")
	viper.SetDefault("encoder.probe_timeout", "30s")
	viper.SetDefault("encoder.force_software", false)

	// Subtitle
	viper.SetDefault("subtitle.font_name", "Microsoft YaHei")
	viper.SetDefault("subtitle.font_size", 36)
	viper.SetDefault("subtitle.margin_v", 427)
	viper.SetDefault("subtitle.max_line_length", 12)

	// Sound effects
	viper.SetDefault("soundfx.dir", "./assets/sound_effects")
	viper.SetDefault("soundfx.base_volume", 0.3)
	viper.SetDefault("soundfx.volume_span", 0.1)
	viper.SetDefault("soundfx.fill_volume", 0.2)
	viper.SetDefault("soundfx.default_secs", 2.0)
	viper.SetDefault("soundfx.durations", map[string]float64{
		"雷":    3.0,
		"风":    4.0,
		"马":    2.5,
		"场景音效": 5.0,
	})

	// Remote generation service
	viper.SetDefault("remote.endpoint", "http://127.0.0.1:8188")
	viper.SetDefault("remote.timeout", "60s")
	viper.SetDefault("remote.max_retries", 3)
	viper.SetDefault("remote.retry_delay", "2s")
	viper.SetDefault("remote.poll_interval", "3s")
	viper.SetDefault("remote.max_wait", "15m")

	// Assets
	viper.SetDefault("assets.overlay_video", "./assets/banner/fuceng1.mov")
	viper.SetDefault("assets.finish_video", "./assets/banner/finish.mp4")
	viper.SetDefault("assets.bgm_dir", "./assets/bgm")

	// Storage
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local.base_path", "./output")
	viper.SetDefault("storage.local.base_url", "http://localhost:8080/files")
}

// GetConfig returns the global configuration
func GetConfig() *config.Config {
	return cfg
}
