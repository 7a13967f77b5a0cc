package subtitle

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"pomelo/internal/config"
	"pomelo/internal/pkg/timestamp"
)

func testConfig() config.SubtitleConfig {
	return config.SubtitleConfig{
		FontName:      "Microsoft YaHei",
		FontSize:      36,
		MarginV:       427,
		MaxLineLength: 12,
	}
}

func TestTimeFormat(t *testing.T) {
	Convey("ASS 时间格式", t, func() {
		Convey("格式化为 H:MM:SS.CC", func() {
			So(FormatTime(0), ShouldEqual, "0:00:00.00")
			So(FormatTime(61.5), ShouldEqual, "0:01:01.50")
			So(FormatTime(3723.25), ShouldEqual, "1:02:03.25")
		})

		Convey("解析与格式化互逆", func() {
			for _, v := range []float64{0, 1.23, 59.99, 3600.5, 7325.04} {
				got, err := ParseTime(FormatTime(v))
				So(err, ShouldBeNil)
				So(got, ShouldAlmostEqual, v, 0.01)
			}
		})

		Convey("非法格式报错", func() {
			_, err := ParseTime("12:34")
			So(err, ShouldNotBeNil)
			_, err = ParseTime("a:bb:cc.dd")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestDialogueRoundTrip(t *testing.T) {
	Convey("事件行解析", t, func() {
		Convey("文本中的逗号不截断", func() {
			d, err := parseDialogueLine("Dialogue: 0,0:00:01.00,0:00:03.50,Default,,0,0,0,,你好，世界，再见")
			So(err, ShouldBeNil)
			So(d.Text, ShouldEqual, "你好，世界，再见")
			So(d.Start, ShouldAlmostEqual, 1.0, 0.001)
			So(d.End, ShouldAlmostEqual, 3.5, 0.001)
		})

		Convey("Line 输出可再次解析", func() {
			d := Dialogue{Start: 1.5, End: 3.0, Style: "Default", Text: "测试文本"}
			parsed, err := parseDialogueLine(d.Line())
			So(err, ShouldBeNil)
			So(parsed.Text, ShouldEqual, d.Text)
			So(parsed.Start, ShouldAlmostEqual, 1.5, 0.01)
		})
	})
}

func TestMarginConsistency(t *testing.T) {
	Convey("垂直边距一致性校验", t, func() {
		cfg := testConfig()

		Convey("生成的头部自身一致", func() {
			So(CheckMarginConsistency(Header(cfg, "测试"), 427), ShouldBeNil)
		})

		Convey("样式行边距不符时返回错误", func() {
			content := strings.Replace(Header(cfg, "测试"), "10,10,427,1", "10,10,360,1", 1)
			err := CheckMarginConsistency(content, 427)
			So(err, ShouldNotBeNil)
			So(err, ShouldWrap, ErrMarginMismatch)
		})

		Convey("事件行覆盖值不符时返回错误", func() {
			content := Header(cfg, "测试") +
				"Dialogue: 0,0:00:01.00,0:00:02.00,Default,,0,0,360,,文本"
			err := CheckMarginConsistency(content, 427)
			So(err, ShouldWrap, ErrMarginMismatch)
		})

		Convey("事件行边距为 0 表示继承样式，不算冲突", func() {
			content := Header(cfg, "测试") +
				"Dialogue: 0,0:00:01.00,0:00:02.00,Default,,0,0,0,,文本"
			So(CheckMarginConsistency(content, 427), ShouldBeNil)
		})
	})
}

func TestSplitter(t *testing.T) {
	Convey("字幕文本分割", t, func() {
		s := NewSplitter(12)

		Convey("短句不分割", func() {
			segments := s.Split("他缓缓睁开眼睛。")
			So(len(segments), ShouldEqual, 1)
		})

		Convey("多句按句号切开", func() {
			segments := s.Split("他缓缓睁开眼睛。远处传来马蹄声！")
			So(len(segments), ShouldEqual, 2)
		})

		Convey("每段可见字符数不超过上限", func() {
			text := "在那遥远的群山深处有一座被人遗忘了许多年的古老庙宇静静矗立在云雾之间"
			for _, seg := range s.Split(text) {
				So(visibleLen(seg), ShouldBeLessThanOrEqualTo, 12)
			}
		})

		Convey("分割不丢失可见字符", func() {
			text := "夜色渐深，城门外的灯笼一盏盏熄灭了，只剩下更夫的梆子声。"
			joined := ""
			for _, seg := range s.Split(text) {
				joined += cleanText(seg)
			}
			So(joined, ShouldEqual, cleanText(text))
		})
	})
}

func buildTestSet(text string, perChar float64) *timestamp.Set {
	set := &timestamp.Set{Text: text}
	t := 0.0
	for _, r := range text {
		set.CharacterTimestamps = append(set.CharacterTimestamps, timestamp.CharTimestamp{
			Character: string(r),
			StartTime: t,
			EndTime:   t + perChar,
		})
		t += perChar
	}
	set.Duration = t
	return set
}

func TestBuilder(t *testing.T) {
	Convey("字幕时间线构建", t, func() {
		b := NewBuilder(testConfig())

		Convey("生成的文档包含头部与事件行", func() {
			set := buildTestSet("他缓缓睁开眼睛。远处传来马蹄声。", 0.25)
			content, err := b.Build(set, "第一章")
			So(err, ShouldBeNil)
			So(content, ShouldContainSubstring, "[Script Info]")
			So(content, ShouldContainSubstring, "Title: 第一章")
			So(content, ShouldContainSubstring, "Dialogue: 0,")
			So(CheckMarginConsistency(content, 427), ShouldBeNil)
		})

		Convey("事件时间区间单调且无重叠", func() {
			set := buildTestSet("夜色渐深，城门外的灯笼一盏盏熄灭，只剩下更夫的梆子声。", 0.2)
			content, err := b.Build(set, "")
			So(err, ShouldBeNil)

			path := filepath.Join(t.TempDir(), "out.ass")
			So(os.WriteFile(path, []byte(content), 0644), ShouldBeNil)
			dialogues, err := ParseDialogues(path)
			So(err, ShouldBeNil)
			So(len(dialogues), ShouldBeGreaterThan, 1)
			for i := 1; i < len(dialogues); i++ {
				So(dialogues[i].Start, ShouldBeGreaterThanOrEqualTo, dialogues[i-1].End)
			}
		})

		Convey("空时间戳数据报错", func() {
			_, err := b.Build(&timestamp.Set{Text: "文本"}, "")
			So(err, ShouldEqual, timestamp.ErrEmptyTimestamps)
		})
	})
}

func TestMergeFiles(t *testing.T) {
	Convey("字幕合并", t, func() {
		cfg := testConfig()
		b := NewBuilder(cfg)
		dir := t.TempDir()

		write := func(name, text string, perChar float64) (string, float64) {
			set := buildTestSet(text, perChar)
			path := filepath.Join(dir, name)
			So(b.BuildFile(set, "", path), ShouldBeNil)
			return path, set.Duration
		}

		p1, d1 := write("seg1.ass", "他缓缓睁开眼睛。", 0.3)
		p2, _ := write("seg2.ass", "远处传来马蹄声。", 0.3)

		Convey("第二个文件的事件按前段时长平移", func() {
			out := filepath.Join(dir, "merged.ass")
			err := MergeFiles(cfg, []MergeInput{
				{Path: p1, Duration: d1},
				{Path: p2, Duration: 3.0},
			}, "合并", out)
			So(err, ShouldBeNil)

			dialogues, err := ParseDialogues(out)
			So(err, ShouldBeNil)
			So(len(dialogues), ShouldEqual, 2)
			So(dialogues[1].Start, ShouldBeGreaterThanOrEqualTo, d1)
		})

		Convey("边距不一致的输入被拒绝", func() {
			raw, err := os.ReadFile(p2)
			So(err, ShouldBeNil)
			bad := strings.ReplaceAll(string(raw), ",427,", ",360,")
			badPath := filepath.Join(dir, "bad.ass")
			So(os.WriteFile(badPath, []byte(bad), 0644), ShouldBeNil)

			err = MergeFiles(cfg, []MergeInput{
				{Path: p1, Duration: d1},
				{Path: badPath, Duration: 3.0},
			}, "", filepath.Join(dir, "out.ass"))
			So(err, ShouldWrap, ErrMarginMismatch)
		})
	})
}
