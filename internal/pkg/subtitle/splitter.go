package subtitle

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-ego/gse"
)

// Splitter 字幕文本分割器，把长文本切成适合单屏展示的段落
type Splitter struct {
	maxLength int
	segmenter *gse.Segmenter
}

// NewSplitter 创建分割器，maxLength 为每段最大可见字符数
func NewSplitter(maxLength int) *Splitter {
	if maxLength <= 0 {
		maxLength = 12
	}
	var segmenter *gse.Segmenter
	if seg, err := gse.New(); err == nil {
		segmenter = &seg
	}
	// 分词器初始化失败时 segmenter 为 nil，降级为按字符分割
	return &Splitter{maxLength: maxLength, segmenter: segmenter}
}

var (
	spaceRe = regexp.MustCompile(`\s+`)
	punctRe = regexp.MustCompile(`[，。；：、！？“”‘’（）【】《》〈〉「」『』〔〕\[\]｛｝｜～·…—–,.;:!?"'()\[\]{}|~` + "`" + `@#$%^&*+=<>/\\-]`)
)

// cleanText 去掉空格和标点，返回参与长度计算的可见文本
func cleanText(text string) string {
	return punctRe.ReplaceAllString(spaceRe.ReplaceAllString(text, ""), "")
}

func visibleLen(text string) int {
	return utf8.RuneCountInString(cleanText(text))
}

// Split 按句子自然分割文本，每段不超过 maxLength 个可见字符
func (s *Splitter) Split(text string) []string {
	sentences := splitByEndings(text, []rune{'。', '！', '？', '；', '…', '：'})

	// 没有明显的句子边界且整体过长时退到次级标点
	if len(sentences) == 1 && visibleLen(sentences[0]) > s.maxLength*2 {
		sentences = splitByEndings(sentences[0], []rune{'，', '、', '；'})
	}

	var segments []string
	for _, sentence := range sentences {
		if visibleLen(sentence) <= s.maxLength {
			segments = append(segments, sentence)
		} else {
			segments = append(segments, s.splitLongSentence(sentence)...)
		}
	}
	return mergeTinySegments(segments)
}

// splitByEndings 按给定结束符切出句子
func splitByEndings(text string, endings []rune) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		for _, e := range endings {
			if r == e {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
				break
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// splitLongSentence 按词边界分割过长的句子，避免词组被裁断
func (s *Splitter) splitLongSentence(sentence string) []string {
	var words []string
	if s.segmenter != nil {
		words = s.segmenter.Cut(sentence, false)
	} else {
		for _, r := range sentence {
			words = append(words, string(r))
		}
	}

	var segments []string
	current := ""
	for _, word := range words {
		if cleanText(word) == "" {
			// 纯标点直接挂到当前段落
			current += word
			continue
		}
		if visibleLen(current+word) <= s.maxLength {
			current += word
			continue
		}
		if current != "" {
			segments = append(segments, current)
		}
		current = word
		// 单个词比上限还长时强制按字符切
		if visibleLen(current) > s.maxLength {
			forced := s.splitByRunes(current)
			segments = append(segments, forced[:len(forced)-1]...)
			current = forced[len(forced)-1]
		}
	}
	if current != "" {
		segments = append(segments, current)
	}
	return segments
}

// splitByRunes 按字符强制分割
func (s *Splitter) splitByRunes(text string) []string {
	runes := []rune(text)
	if len(runes) <= s.maxLength {
		return []string{text}
	}
	var segments []string
	for start := 0; start < len(runes); start += s.maxLength {
		end := start + s.maxLength
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, string(runes[start:end]))
	}
	return segments
}

// mergeTinySegments 过滤空段落，单字符段落并入相邻段落
func mergeTinySegments(segments []string) []string {
	var filtered []string
	for i, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		if utf8.RuneCountInString(cleanText(seg)) == 1 {
			if len(filtered) > 0 {
				filtered[len(filtered)-1] += seg
				continue
			}
			if i+1 < len(segments) && strings.TrimSpace(segments[i+1]) != "" {
				segments[i+1] = seg + segments[i+1]
				continue
			}
		}
		filtered = append(filtered, seg)
	}
	return filtered
}
