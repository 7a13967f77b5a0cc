package compositor

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/rs/zerolog/log"
)

// CheckStandards 校验成片是否符合输出标准
// 分辨率与帧率不符返回错误；体积超限只告警，压缩由上层决定
func (c *Compositor) CheckStandards(ctx context.Context, videoPath string) error {
	info, err := c.client.GetVideoInfo(ctx, videoPath)
	if err != nil {
		return err
	}

	if info.Width != c.video.Width || info.Height != c.video.Height {
		return fmt.Errorf("分辨率不符: %dx%d, 期望 %dx%d",
			info.Width, info.Height, c.video.Width, c.video.Height)
	}
	if math.Abs(info.FPS-float64(c.video.FPS)) > 0.5 {
		return fmt.Errorf("帧率不符: %.2f, 期望 %d", info.FPS, c.video.FPS)
	}

	if c.video.MaxSizeMB > 0 {
		stat, err := os.Stat(videoPath)
		if err != nil {
			return err
		}
		sizeMB := float64(stat.Size()) / (1024 * 1024)
		if sizeMB > c.video.MaxSizeMB {
			log.Warn().
				Float64("size_mb", sizeMB).
				Float64("limit_mb", c.video.MaxSizeMB).
				Str("file", videoPath).
				Msg("成片体积超出上限")
		}
	}
	return nil
}
