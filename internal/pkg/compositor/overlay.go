package compositor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// 转场素材的黑色背景不是纯黑，单次 colorkey 会留下灰色描边，
// 从纯黑到近黑分七档逐步抠除
var colorkeyPasses = []string{
	"colorkey=0x000000:0.05:0.0",
	"colorkey=0x010101:0.10:0.0",
	"colorkey=0x020202:0.15:0.0",
	"colorkey=0x030303:0.20:0.0",
	"colorkey=0x040404:0.25:0.0",
	"colorkey=0x050505:0.30:0.0",
	"colorkey=0x060606:0.35:0.0",
}

// ApplyTransitionOverlay 在视频开头叠加转场特效
// 特效素材抠掉黑色背景后居中叠放，只在前 overlay_seconds 秒启用。
// 素材文件不存在时原样返回输入视频路径。
func (c *Compositor) ApplyTransitionOverlay(ctx context.Context, videoPath, overlayPath, outputPath string) (string, error) {
	if overlayPath == "" {
		return videoPath, nil
	}
	if _, err := os.Stat(overlayPath); err != nil {
		log.Warn().Str("overlay", overlayPath).Msg("转场素材不存在，跳过叠加")
		return videoPath, nil
	}

	w, h := c.video.Width, c.video.Height
	filter := fmt.Sprintf(
		"[0:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1[v0];"+
			"[1:v]scale=%d:%d,%s,format=yuva420p,setsar=1[fg];"+
			"[v0][fg]overlay=(W-w)/2:(H-h)/2:enable='between(t,0,%g)'[v]",
		w, h, w, h, w, h,
		strings.Join(colorkeyPasses, ","),
		c.video.OverlaySeconds,
	)

	args := []string{
		"-y",
		"-i", videoPath,
		"-i", overlayPath,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "0:a?",
	}
	args = append(args, c.outputArgs()...)
	args = append(args, "-c:a", c.video.AudioCodec, outputPath)

	log.Info().Str("video", videoPath).Str("overlay", overlayPath).Msg("叠加转场特效")
	if err := c.client.Run(ctx, videoPath, args...); err != nil {
		return "", err
	}
	return outputPath, nil
}
