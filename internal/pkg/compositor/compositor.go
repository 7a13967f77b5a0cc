package compositor

import (
	"fmt"

	"pomelo/internal/config"
	"pomelo/internal/pkg/encoder"
	"pomelo/internal/pkg/ffmpeg"
)

// Compositor 视频合成器
// 负责片段渲染、转场叠加与多片段拼接，输出统一规格的竖屏视频
type Compositor struct {
	client  *ffmpeg.Client
	profile encoder.Profile
	video   config.VideoConfig
}

func New(client *ffmpeg.Client, profile encoder.Profile, video config.VideoConfig) *Compositor {
	return &Compositor{client: client, profile: profile, video: video}
}

// scalePad 把任意分辨率的画面等比缩放后加黑边补齐到目标分辨率
func (c *Compositor) scalePad() string {
	w, h := c.video.Width, c.video.Height
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black",
		w, h, w, h)
}

// outputArgs 统一的输出端编码参数
func (c *Compositor) outputArgs() []string {
	args := c.profile.Args()
	args = append(args,
		"-r", fmt.Sprintf("%d", c.video.FPS),
		"-g", fmt.Sprintf("%d", c.video.KeyframeGap),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
	)
	return args
}
