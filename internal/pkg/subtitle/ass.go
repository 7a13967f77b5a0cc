package subtitle

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"pomelo/internal/config"
)

// ErrMarginMismatch 样式行与事件行的垂直边距不一致
// 边距错位会导致拼接后的视频字幕上下跳动
var ErrMarginMismatch = errors.New("字幕垂直边距不一致")

// Style 行中 MarginV 是第 22 个逗号分隔字段（Name 起算第 1 个）
const styleMarginVField = 21

// Dialogue 一条字幕事件
// 事件行格式: Dialogue: Layer,Start,End,Style,Name,MarginL,MarginR,MarginV,Effect,Text
type Dialogue struct {
	Layer   int
	Start   float64
	End     float64
	Style   string
	Name    string
	MarginL int
	MarginR int
	MarginV int
	Effect  string
	Text    string
}

// FormatTime 将秒数转换为 ASS 时间格式 (H:MM:SS.CC)
func FormatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := int(seconds) % 60
	centis := int((seconds - float64(int(seconds))) * 100)
	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, secs, centis)
}

// ParseTime 解析 ASS 时间格式 (H:MM:SS.CC) 为秒数
func ParseTime(s string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("无效的 ASS 时间格式: %q", s)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("无效的 ASS 时间格式: %q", s)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("无效的 ASS 时间格式: %q", s)
	}
	secPart, centiPart, ok := strings.Cut(parts[2], ".")
	if !ok {
		return 0, fmt.Errorf("无效的 ASS 时间格式: %q", s)
	}
	secs, err := strconv.Atoi(secPart)
	if err != nil {
		return 0, fmt.Errorf("无效的 ASS 时间格式: %q", s)
	}
	centis, err := strconv.Atoi(centiPart)
	if err != nil {
		return 0, fmt.Errorf("无效的 ASS 时间格式: %q", s)
	}
	return float64(hours)*3600 + float64(minutes)*60 + float64(secs) + float64(centis)/100, nil
}

// Line 格式化为事件行
func (d Dialogue) Line() string {
	return fmt.Sprintf("Dialogue: %d,%s,%s,%s,%s,%d,%d,%d,%s,%s",
		d.Layer, FormatTime(d.Start), FormatTime(d.End), d.Style, d.Name,
		d.MarginL, d.MarginR, d.MarginV, d.Effect, d.Text)
}

// parseDialogueLine 解析单条事件行，文本部分可能包含逗号
func parseDialogueLine(line string) (Dialogue, error) {
	body := strings.TrimSpace(strings.TrimPrefix(line, "Dialogue:"))
	parts := strings.SplitN(body, ",", 10)
	if len(parts) < 10 {
		return Dialogue{}, fmt.Errorf("事件行字段不足: %q", line)
	}
	layer, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
	start, err := ParseTime(parts[1])
	if err != nil {
		return Dialogue{}, err
	}
	end, err := ParseTime(parts[2])
	if err != nil {
		return Dialogue{}, err
	}
	marginL, _ := strconv.Atoi(strings.TrimSpace(parts[5]))
	marginR, _ := strconv.Atoi(strings.TrimSpace(parts[6]))
	marginV, _ := strconv.Atoi(strings.TrimSpace(parts[7]))
	return Dialogue{
		Layer:   layer,
		Start:   start,
		End:     end,
		Style:   strings.TrimSpace(parts[3]),
		Name:    strings.TrimSpace(parts[4]),
		MarginL: marginL,
		MarginR: marginR,
		MarginV: marginV,
		Effect:  strings.TrimSpace(parts[8]),
		Text:    parts[9],
	}, nil
}

// ParseDialogues 解析 ASS 文件中的全部事件行
func ParseDialogues(path string) ([]Dialogue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开字幕文件失败: %w", err)
	}
	defer f.Close()

	var dialogues []Dialogue
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Dialogue:") {
			continue
		}
		d, err := parseDialogueLine(line)
		if err != nil {
			return nil, fmt.Errorf("解析字幕文件 %s: %w", path, err)
		}
		dialogues = append(dialogues, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return dialogues, nil
}

// MaxEnd 返回事件中最大的结束时间，作为字幕总时长
func MaxEnd(dialogues []Dialogue) float64 {
	max := 0.0
	for _, d := range dialogues {
		if d.End > max {
			max = d.End
		}
	}
	return max
}

// Header 生成 ASS 文件头部（脚本信息、样式与事件表头）
func Header(cfg config.SubtitleConfig, title string) string {
	if title == "" {
		title = "Generated Subtitle"
	}
	return fmt.Sprintf(`[Script Info]
Title: %s
ScriptType: v4.00+
WrapStyle: 0
ScaledBorderAndShadow: yes
YCbCr Matrix: TV.601
PlayResX: 1920
PlayResY: 1080

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,%s,%d,&H00FFFFFF,&H000000FF,&H00000000,&H80000000,0,0,0,0,100,100,0,0,1,2,2,2,10,10,%d,1
Style: Highlight,%s,%d,&H0000FFFF,&H000000FF,&H00000000,&H80000000,1,0,0,0,100,100,0,0,1,2,2,2,10,10,%d,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`, title, cfg.FontName, cfg.FontSize, cfg.MarginV, cfg.FontName, cfg.FontSize, cfg.MarginV)
}

// CheckMarginConsistency 校验文档中所有样式行的垂直边距是否一致
// 事件行的 MarginV 为 0 时继承样式边距，非 0 覆盖值也必须等于样式边距
func CheckMarginConsistency(content string, wantMarginV int) error {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Style:"):
			fields := strings.Split(strings.TrimPrefix(line, "Style:"), ",")
			if len(fields) <= styleMarginVField {
				continue
			}
			v, err := strconv.Atoi(strings.TrimSpace(fields[styleMarginVField]))
			if err != nil {
				continue
			}
			if v != wantMarginV {
				return fmt.Errorf("%w: 样式行 MarginV=%d, 期望 %d", ErrMarginMismatch, v, wantMarginV)
			}
		case strings.HasPrefix(line, "Dialogue:"):
			d, err := parseDialogueLine(line)
			if err != nil {
				continue
			}
			if d.MarginV != 0 && d.MarginV != wantMarginV {
				return fmt.Errorf("%w: 事件行 MarginV=%d, 期望 %d", ErrMarginMismatch, d.MarginV, wantMarginV)
			}
		}
	}
	return nil
}
