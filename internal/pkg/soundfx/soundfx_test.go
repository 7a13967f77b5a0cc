package soundfx

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"pomelo/internal/config"
	"pomelo/internal/pkg/subtitle"
)

func testFXConfig() config.SoundFXConfig {
	return config.SoundFXConfig{
		BaseVolume: 0.3,
		VolumeSpan: 0.1,
		FillVolume: 0.2,
		Durations: map[string]float64{
			"雷":    3.0,
			"风":    4.0,
			"马":    2.5,
			"场景音效": 5.0,
		},
		DefaultSecs: 2.0,
	}
}

func makeAssets(t *testing.T, names ...string) *AssetIndex {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return LoadAssets(dir)
}

func newTestMatcher(t *testing.T, names ...string) *Matcher {
	t.Helper()
	return NewMatcher(testFXConfig(), makeAssets(t, names...), rand.New(rand.NewSource(42)))
}

func TestAssetIndex(t *testing.T) {
	Convey("音效素材库索引", t, func() {
		idx := makeAssets(t, "thunder_01.mp3", "动物/马蹄声.wav", "风声呼啸.ogg", "notes.txt")

		Convey("递归加载并忽略非音频文件", func() {
			So(len(idx.All()), ShouldEqual, 3)
		})

		Convey("按文件名子串查找", func() {
			So(len(idx.Candidates("thunder")), ShouldEqual, 1)
			So(len(idx.Candidates("马蹄")), ShouldEqual, 1)
			So(idx.Candidates("不存在"), ShouldBeEmpty)
		})

		Convey("目录不存在时返回空索引", func() {
			empty := LoadAssets(filepath.Join(t.TempDir(), "missing"))
			So(empty.Empty(), ShouldBeTrue)
		})
	})
}

func TestMatch(t *testing.T) {
	Convey("台词音效匹配", t, func() {
		dialogues := []subtitle.Dialogue{
			{Start: 1.0, End: 3.0, Text: "远处传来一阵马蹄声"},
			{Start: 6.0, End: 8.0, Text: "天空响起了炸雷"},
			{Start: 12.0, End: 14.0, Text: "平静的叙述没有任何声响词汇"},
		}

		Convey("关键词命中时生成事件", func() {
			m := newTestMatcher(t, "horse_gallop.mp3", "thunder_roll.wav")
			events := m.Match(dialogues)

			var keywords []string
			for _, e := range events {
				keywords = append(keywords, e.Keyword)
			}
			So(keywords, ShouldContain, "马")
			So(keywords, ShouldContain, "雷")
		})

		Convey("音量夹在 0.1 到 0.5 之间", func() {
			m := newTestMatcher(t, "horse_gallop.mp3", "thunder_roll.wav")
			for _, e := range m.Match(dialogues) {
				So(e.Volume, ShouldBeBetweenOrEqual, 0.1, 0.5)
			}
		})

		Convey("相同输入与相同种子结果可复现", func() {
			a := NewMatcher(testFXConfig(), makeAssets(t, "horse_a.mp3", "horse_b.mp3"), rand.New(rand.NewSource(7)))
			b := NewMatcher(testFXConfig(), makeAssets(t, "horse_a.mp3", "horse_b.mp3"), rand.New(rand.NewSource(7)))
			ea := a.Match(dialogues)
			eb := b.Match(dialogues)
			So(len(ea), ShouldEqual, len(eb))
			for i := range ea {
				So(filepath.Base(ea[i].SoundFile), ShouldEqual, filepath.Base(eb[i].SoundFile))
			}
		})

		Convey("事件按开始时间排序", func() {
			m := newTestMatcher(t, "horse_gallop.mp3", "thunder_roll.wav", "footstep.mp3")
			events := m.Match(dialogues)
			for i := 1; i < len(events); i++ {
				So(events[i].StartTime, ShouldBeGreaterThanOrEqualTo, events[i-1].StartTime)
			}
		})
	})
}

func TestEnsureEarlyEffects(t *testing.T) {
	Convey("开头音效密度下限", t, func() {
		Convey("前十秒无音效时每个五秒窗口补一个场景音效", func() {
			m := newTestMatcher(t, "footstep_walk.mp3")
			dialogues := []subtitle.Dialogue{
				{Start: 12.0, End: 14.0, Text: "很久以后才有动静"},
			}
			events := m.Match(dialogues)

			var fills []Event
			for _, e := range events {
				if e.Keyword == fillKeyword {
					fills = append(fills, e)
				}
			}
			So(len(fills), ShouldEqual, 2)
			// 窗口内没有台词，挂在窗口中点
			So(fills[0].StartTime, ShouldAlmostEqual, 2.5, 0.001)
			So(fills[1].StartTime, ShouldAlmostEqual, 7.5, 0.001)
			So(fills[0].Volume, ShouldAlmostEqual, 0.2, 0.001)
		})

		Convey("窗口内有台词时挂在第一条台词的开始时间", func() {
			m := newTestMatcher(t, "footstep_walk.mp3")
			dialogues := []subtitle.Dialogue{
				{Start: 3.0, End: 4.5, Text: "没有声响词汇的平静叙述"},
			}
			events := m.Match(dialogues)

			found := false
			for _, e := range events {
				if e.Keyword == fillKeyword && e.StartTime == 3.0 {
					found = true
				}
			}
			So(found, ShouldBeTrue)
		})

		Convey("窗口已有音效时不补", func() {
			m := newTestMatcher(t, "horse_gallop.mp3", "footstep_walk.mp3")
			dialogues := []subtitle.Dialogue{
				{Start: 1.0, End: 2.0, Text: "远处传来马蹄声"},
				{Start: 6.0, End: 7.0, Text: "马蹄声越来越近"},
			}
			events := m.Match(dialogues)
			for _, e := range events {
				So(e.Keyword, ShouldNotEqual, fillKeyword)
			}
		})
	})
}

func TestFilterOverlapping(t *testing.T) {
	Convey("音效时长与重叠过滤", t, func() {
		m := newTestMatcher(t, "thunder.mp3")

		Convey("按关键词查配置的持续时长", func() {
			events := m.FilterOverlapping([]Event{
				{StartTime: 0, Keyword: "雷", SoundFile: "a.mp3"},
				{StartTime: 10, Keyword: "风", SoundFile: "b.mp3"},
				{StartTime: 20, Keyword: "未知词", SoundFile: "c.mp3"},
			})
			So(events[0].EndTime, ShouldAlmostEqual, 3.0, 0.001)
			So(events[1].EndTime, ShouldAlmostEqual, 14.0, 0.001)
			So(events[2].EndTime, ShouldAlmostEqual, 22.0, 0.001)
		})

		Convey("同一素材持续期内的重复事件被剔除", func() {
			events := m.FilterOverlapping([]Event{
				{StartTime: 0, Keyword: "雷", SoundFile: "a.mp3"},
				{StartTime: 1.5, Keyword: "雷", SoundFile: "a.mp3"}, // 落在前一个的 3 秒内
				{StartTime: 5, Keyword: "雷", SoundFile: "a.mp3"},
			})
			So(len(events), ShouldEqual, 2)
			So(events[1].StartTime, ShouldAlmostEqual, 5.0, 0.001)
		})

		Convey("不同素材互不影响", func() {
			events := m.FilterOverlapping([]Event{
				{StartTime: 0, Keyword: "雷", SoundFile: "a.mp3"},
				{StartTime: 1, Keyword: "雷", SoundFile: "b.mp3"},
			})
			So(len(events), ShouldEqual, 2)
		})
	})
}
