package subtitle

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"pomelo/internal/config"
)

// MergeInput 参与合并的单个字幕文件及其所属片段时长
type MergeInput struct {
	Path     string
	Duration float64 // 对应视频片段的时长（秒）
}

// MergeFiles 把多个片段的字幕合并为一个章节字幕
// 每个文件的事件按其前面所有片段的累计时长整体平移，
// 合并前校验所有文件的垂直边距一致。
func MergeFiles(cfg config.SubtitleConfig, inputs []MergeInput, title, outPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("没有可合并的字幕文件")
	}

	var merged []Dialogue
	offset := 0.0
	for _, in := range inputs {
		raw, err := os.ReadFile(in.Path)
		if err != nil {
			return fmt.Errorf("读取字幕文件失败 %s: %w", in.Path, err)
		}
		if err := CheckMarginConsistency(string(raw), cfg.MarginV); err != nil {
			return fmt.Errorf("%s: %w", in.Path, err)
		}

		dialogues, err := ParseDialogues(in.Path)
		if err != nil {
			return err
		}
		for _, d := range dialogues {
			d.Start += offset
			d.End += offset
			merged = append(merged, d)
		}
		offset += in.Duration
	}

	var sb strings.Builder
	sb.WriteString(Header(cfg, title))
	for i, d := range merged {
		sb.WriteString(d.Line())
		if i < len(merged)-1 {
			sb.WriteString("\n")
		}
	}

	if err := os.WriteFile(outPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("写入合并字幕失败 %s: %w", outPath, err)
	}
	log.Info().
		Int("files", len(inputs)).
		Int("dialogues", len(merged)).
		Str("out", outPath).
		Msg("字幕合并完成")
	return nil
}
