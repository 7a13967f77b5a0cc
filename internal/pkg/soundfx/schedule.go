package soundfx

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"pomelo/internal/pkg/subtitle"
)

// 开头密度下限的兜底关键词名
const fillKeyword = "场景音效"

// 场景类型关键词组，按优先级排列
var sceneKeywordGroups = [][]string{
	{"古", "宫", "殿", "朝", "廷", "皇", "帝", "王", "太子"},
	{"风", "雨", "雷", "水", "山", "林", "鸟", "虫"},
	{"战", "斗", "剑", "刀", "兵", "军", "打", "击"},
	{"门", "步", "走", "来", "去", "声", "响"},
}

var footstepTerms = []string{"脚步", "footstep", "走", "walk", "step"}
var ambientTerms = []string{"环境", "ambient", "背景", "background", "风", "wind", "自然", "nature"}

// ensureEarlyEffects 保证前十秒内每五秒窗口至少有一个音效
// 窗口内优先挂在第一条台词的开始时间，没有台词时挂在窗口中点
func (m *Matcher) ensureEarlyEffects(events []Event, dialogues []subtitle.Dialogue) []Event {
	windows := [][2]float64{{0, 5}, {5, 10}}

	for _, w := range windows {
		covered := false
		for _, e := range events {
			if e.StartTime >= w[0] && e.StartTime < w[1] {
				covered = true
				break
			}
		}
		if covered {
			continue
		}

		targetTime := (w[0] + w[1]) / 2
		contextText := "场景"
		for _, d := range dialogues {
			if d.Start >= w[0] && d.Start < w[1] {
				targetTime = d.Start
				contextText = assTagRe.ReplaceAllString(d.Text, "")
				break
			}
		}

		file := m.sceneSound(contextText)
		if file == "" {
			continue
		}
		events = append(events, Event{
			StartTime: targetTime,
			EndTime:   targetTime + 2.0,
			SoundFile: file,
			Volume:    m.cfg.FillVolume,
			Keyword:   fillKeyword,
			Text:      contextText,
		})
		log.Info().
			Float64("time", targetTime).
			Str("file", filepath.Base(file)).
			Msg("补充场景音效")
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].StartTime < events[j].StartTime
	})
	return events
}

// sceneSound 按场景类型挑选音效，依次回落到脚步声、环境音、任意音效
func (m *Matcher) sceneSound(contextText string) string {
	for _, group := range sceneKeywordGroups {
		for _, keyword := range group {
			if !strings.Contains(contextText, keyword) {
				continue
			}
			var candidates []string
			for _, k := range group {
				candidates = append(candidates, m.index.Candidates(k)...)
			}
			if len(candidates) > 0 {
				return m.pick(candidates)
			}
		}
	}

	for _, terms := range [][]string{footstepTerms, ambientTerms} {
		var candidates []string
		for _, term := range terms {
			candidates = append(candidates, m.index.Candidates(term)...)
		}
		if len(candidates) > 0 {
			return m.pick(candidates)
		}
	}

	if all := m.index.All(); len(all) > 0 {
		return m.pick(all)
	}
	return ""
}

// FilterOverlapping 设置音效持续时长并剔除同一素材的重叠事件
// 持续时长按关键词查配置表，未配置的用默认值
func (m *Matcher) FilterOverlapping(events []Event) []Event {
	keys := make([]string, 0, len(m.cfg.Durations))
	for k := range m.cfg.Durations {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i := range events {
		duration := m.cfg.DefaultSecs
		for _, keyword := range keys {
			if strings.Contains(events[i].Keyword, keyword) {
				duration = m.cfg.Durations[keyword]
				break
			}
		}
		events[i].EndTime = events[i].StartTime + duration
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].StartTime < events[j].StartTime
	})

	var filtered []Event
	lastEnd := make(map[string]float64)
	for _, e := range events {
		if end, ok := lastEnd[e.SoundFile]; ok && e.StartTime < end {
			log.Debug().
				Str("file", filepath.Base(e.SoundFile)).
				Float64("start", e.StartTime).
				Msg("跳过重叠音效")
			continue
		}
		filtered = append(filtered, e)
		lastEnd[e.SoundFile] = e.EndTime
	}
	return filtered
}
