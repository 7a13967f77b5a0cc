package encoder

import (
	"context"
	"os/exec"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"

	"pomelo/internal/config"
	"pomelo/internal/pkg/ffmpeg"
)

// Profile 编码器参数档案
// 进程内探测一次后只读，不再变化
type Profile struct {
	VideoCodec          string   // h264_nvenc / h264_videotoolbox / libx264
	Preset              string   // 为空表示该编码器不接受 preset（VideoToolbox）
	ExtraFlags          []string // 码率/质量控制等附加参数
	SupportsProfileFlag bool     // VideoToolbox 系硬件编码器不支持显式 -profile:v
	Hardware            bool
}

// Args 返回该档案的编码参数片段（不含 -c:v 之后的输出部分）
func (p Profile) Args() []string {
	args := []string{"-c:v", p.VideoCodec}
	if p.Preset != "" {
		args = append(args, "-preset", p.Preset)
	}
	args = append(args, p.ExtraFlags...)
	return args
}

// nvenc 通用 NVIDIA GPU 配置，vbr + 恒定质量，控制文件大小
func nvencProfile() Profile {
	return Profile{
		VideoCodec: "h264_nvenc",
		Preset:     "p4",
		ExtraFlags: []string{
			"-rc", "vbr",
			"-cq", "32",
			"-maxrate", "2200k",
			"-bufsize", "4400k",
			"-rc-lookahead", "10",
			"-bf", "2",
			"-refs", "1",
		},
		SupportsProfileFlag: true,
		Hardware:            true,
	}
}

// videotoolbox macOS 平台集成编码器，不接受 preset 与 -profile:v
func videotoolboxProfile() Profile {
	return Profile{
		VideoCodec: "h264_videotoolbox",
		ExtraFlags: []string{
			"-allow_sw", "1",
			"-realtime", "1",
		},
		SupportsProfileFlag: false,
		Hardware:            true,
	}
}

// software CPU 兜底配置，使用质量因子而非码率控制
func softwareProfile() Profile {
	return Profile{
		VideoCodec: "libx264",
		Preset:     "medium",
		ExtraFlags: []string{
			"-crf", "32",
			"-maxrate", "2200k",
			"-bufsize", "4400k",
		},
		SupportsProfileFlag: true,
		Hardware:            false,
	}
}

// Detector 编码器能力探测器
// 探测结果进程级缓存，单次运行内不重复探测
type Detector struct {
	client   *ffmpeg.Client
	cfg      config.EncoderConfig
	goos     string
	lookPath func(string) (string, error)

	once    sync.Once
	profile Profile
}

// NewDetector 创建探测器
func NewDetector(client *ffmpeg.Client, cfg config.EncoderConfig) *Detector {
	return &Detector{client: client, cfg: cfg, goos: runtime.GOOS, lookPath: exec.LookPath}
}

// newDetectorForOS 测试用：指定平台
func newDetectorForOS(client *ffmpeg.Client, cfg config.EncoderConfig, goos string) *Detector {
	return &Detector{
		client: client,
		cfg:    cfg,
		goos:   goos,
		lookPath: func(name string) (string, error) {
			return "/usr/bin/" + name, nil
		},
	}
}

// Detect 返回当前环境可用的编码器档案
// 永不失败：任何硬件探测异常都回落到 CPU 编码
func (d *Detector) Detect(ctx context.Context) Profile {
	d.once.Do(func() {
		d.profile = d.detect(ctx)
	})
	return d.profile
}

func (d *Detector) detect(ctx context.Context) Profile {
	if d.cfg.ForceSoftware {
		log.Info().Msg("配置强制使用 CPU 编码，跳过硬件探测")
		return softwareProfile()
	}

	if d.hasNvidiaGPU() {
		if d.probeCodec(ctx, "h264_nvenc") {
			log.Info().Msg("检测到 NVENC 编码器，将使用硬件加速")
			return nvencProfile()
		}
	} else {
		log.Debug().Msg("未找到 nvidia-smi，跳过 NVENC 探测")
	}

	// VideoToolbox 只在 macOS 上有意义
	if d.goos == "darwin" && d.probeCodec(ctx, "h264_videotoolbox") {
		log.Info().Msg("检测到 VideoToolbox 硬件编码器")
		return videotoolboxProfile()
	}

	log.Info().Msg("未检测到可用硬件编码器，使用 CPU 编码")
	return softwareProfile()
}

// hasNvidiaGPU 以 nvidia-smi 是否在 PATH 上判断机器是否带 NVIDIA 显卡
// 避免在没有显卡的机器上白等一次必然失败的试编码
func (d *Detector) hasNvidiaGPU() bool {
	_, err := d.lookPath("nvidia-smi")
	return err == nil
}

// probeCodec 用一段合成视频做短时试编码验证编码器可用性
func (d *Detector) probeCodec(ctx context.Context, codec string) bool {
	if d.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.ProbeTimeout)
		defer cancel()
	}

	result, err := d.client.TryRun(ctx,
		"-f", "lavfi", "-i", "testsrc=duration=1:size=320x240:rate=1",
		"-c:v", codec, "-f", "null", "-",
	)
	if err != nil {
		log.Warn().Err(err).Str("codec", codec).Msg("编码器探测失败")
		return false
	}
	if !result.Ok() {
		log.Warn().Str("codec", codec).Int("exit", result.ExitCode).Msg("编码器不可用")
		return false
	}
	return true
}
