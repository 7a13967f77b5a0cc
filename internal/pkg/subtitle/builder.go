package subtitle

import (
	"fmt"
	"os"
	"strings"

	"pomelo/internal/config"
	"pomelo/internal/pkg/timestamp"
)

// Cue 一条带时间区间的字幕段落
type Cue struct {
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// Builder 字幕时间线构建器
// 把字符级时间戳数据转换为完整的 ASS 字幕文档
type Builder struct {
	cfg      config.SubtitleConfig
	splitter *Splitter
}

func NewBuilder(cfg config.SubtitleConfig) *Builder {
	return &Builder{cfg: cfg, splitter: NewSplitter(cfg.MaxLineLength)}
}

// Build 生成完整的 ASS 文档内容
func (b *Builder) Build(set *timestamp.Set, title string) (string, error) {
	if len(set.CharacterTimestamps) == 0 {
		return "", timestamp.ErrEmptyTimestamps
	}

	segments := b.splitter.Split(set.Text)
	cues := calculateCues(segments, set.CharacterTimestamps)

	var sb strings.Builder
	sb.WriteString(Header(b.cfg, title))
	for i, cue := range cues {
		d := Dialogue{
			Start: cue.StartTime,
			End:   cue.EndTime,
			Style: "Default",
			Text:  escapeText(highlightKeyword(cue.Text)),
		}
		sb.WriteString(d.Line())
		if i < len(cues)-1 {
			sb.WriteString("\n")
		}
	}

	content := sb.String()
	if err := CheckMarginConsistency(content, b.cfg.MarginV); err != nil {
		return "", err
	}
	return content, nil
}

// BuildFile 生成 ASS 文档并写入文件
func (b *Builder) BuildFile(set *timestamp.Set, title, outPath string) error {
	content, err := b.Build(set, title)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("写入字幕文件失败 %s: %w", outPath, err)
	}
	return nil
}

// calculateCues 为分割后的段落计算时间区间，保证单调递增且无重叠
func calculateCues(segments []string, chars []timestamp.CharTimestamp) []Cue {
	// 清理后的字符序列与原始索引的映射
	var cleanRunes []rune
	var cleanToOriginal []int
	for i, c := range chars {
		r := []rune(c.Character)
		if len(r) == 1 && isPunctRune(r[0]) {
			continue
		}
		if c.Character == "pau" || strings.TrimSpace(c.Character) == "" {
			continue
		}
		cleanRunes = append(cleanRunes, r...)
		for range r {
			cleanToOriginal = append(cleanToOriginal, i)
		}
	}

	var cues []Cue
	searchFrom := 0
	for _, segment := range segments {
		segRunes := []rune(cleanText(segment))
		start, end := findSegment(cleanRunes, segRunes, searchFrom)

		var startTime, endTime float64
		if start >= 0 {
			startTime = chars[cleanToOriginal[start]].StartTime
			endTime = chars[cleanToOriginal[end]].EndTime
			searchFrom = end + 1
		} else {
			// 文本与时间戳对不上时按每字 0.3 秒估算
			startTime = estimateStart(cues)
			endTime = startTime + float64(len(segRunes))*0.3
		}

		startTime, endTime = resolveOverlap(startTime, endTime, cues, len(segRunes))
		cues = append(cues, Cue{Text: segment, StartTime: startTime, EndTime: endTime})
	}
	return fixOverlaps(cues)
}

// findSegment 从 from 开始在清理后的字符序列里定位段落
func findSegment(haystack, needle []rune, from int) (int, int) {
	if len(needle) == 0 {
		return -1, -1
	}
	for start := from; start+len(needle) <= len(haystack); start++ {
		match := true
		for i, r := range needle {
			if haystack[start+i] != r {
				match = false
				break
			}
		}
		if match {
			return start, start + len(needle) - 1
		}
	}
	return -1, -1
}

func estimateStart(cues []Cue) float64 {
	if len(cues) > 0 {
		return cues[len(cues)-1].EndTime + 0.1
	}
	return 0
}

// resolveOverlap 修正与前一段的重叠
func resolveOverlap(start, end float64, cues []Cue, textLen int) (float64, float64) {
	if len(cues) == 0 {
		return start, end
	}
	prevEnd := cues[len(cues)-1].EndTime
	if start < prevEnd {
		start = prevEnd + 0.1
		if start >= end {
			end = start + float64(textLen)*0.3
		}
	} else if end <= start {
		end = start + float64(textLen)*0.3
	}
	return start, end
}

// fixOverlaps 最终检查：保证所有区间递增且无重叠
func fixOverlaps(cues []Cue) []Cue {
	for i := 1; i < len(cues); i++ {
		prev := cues[i-1]
		curr := cues[i]
		if curr.StartTime < prev.EndTime {
			duration := curr.EndTime - curr.StartTime
			if duration < 0.5 {
				duration = 0.5
			}
			cues[i].StartTime = prev.EndTime + 0.1
			cues[i].EndTime = cues[i].StartTime + duration
		}
		if cues[i].StartTime >= cues[i].EndTime {
			cues[i].EndTime = cues[i].StartTime + 1.0
		}
	}
	return cues
}

// highlightKeyword 给段落中的第一个候选关键词加黄色加粗效果
func highlightKeyword(text string) string {
	keyword := firstKeyword(text)
	if keyword == "" || !strings.Contains(text, keyword) {
		return text
	}
	replacement := fmt.Sprintf("{\\c&H0000FFFF&\\b1}%s{\\c&H00FFFFFF&\\b0}", keyword)
	return strings.Replace(text, keyword, replacement, 1)
}

// firstKeyword 提取第一个连续中文词（2-4 字）作为高亮候选
func firstKeyword(text string) string {
	runes := []rune(text)
	for i := 0; i < len(runes)-1; i++ {
		if !isChineseRune(runes[i]) || !isChineseRune(runes[i+1]) {
			continue
		}
		end := i + 2
		for end < len(runes) && end < i+4 && isChineseRune(runes[end]) {
			end++
		}
		return string(runes[i:end])
	}
	return ""
}

// escapeText 转义字幕文本中的双引号，包括中文引号
func escapeText(text string) string {
	text = strings.ReplaceAll(text, `"`, `\"`)
	text = strings.ReplaceAll(text, "“", `\"`)
	text = strings.ReplaceAll(text, "”", `\"`)
	return text
}

func isChineseRune(r rune) bool {
	return r >= 0x4e00 && r <= 0x9fff
}

func isPunctRune(r rune) bool {
	return punctRe.MatchString(string(r))
}
