package timestamp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"pomelo/internal/config"
	"pomelo/internal/pkg/ffmpeg"
)

// probeRunner 返回固定音频时长的假 ffprobe
type probeRunner struct {
	duration float64
}

func (r *probeRunner) Run(ctx context.Context, name string, args ...string) (*ffmpeg.Result, error) {
	out := fmt.Sprintf(`{"format":{"duration":"%.3f"}}`, r.duration)
	return &ffmpeg.Result{ExitCode: 0, Stdout: out}, nil
}

func sampleSet(recorded float64) *Set {
	return &Set{
		Text: "他缓缓睁开了眼睛",
		CharacterTimestamps: []CharTimestamp{
			{Character: "他", StartTime: 0.0, EndTime: 0.5},
			{Character: "缓", StartTime: 0.5, EndTime: 1.0},
			{Character: "缓", StartTime: 1.0, EndTime: 1.5},
			{Character: "睁", StartTime: 1.5, EndTime: 2.0},
		},
		Duration: recorded,
	}
}

func TestReconcile(t *testing.T) {
	Convey("时间戳校正", t, func() {
		Convey("差异小于阈值且无越界时不做任何修改", func() {
			set := sampleSet(2.0)
			changed, err := set.Reconcile(2.05)
			So(err, ShouldBeNil)
			So(changed, ShouldBeFalse)
			So(set.Duration, ShouldEqual, 2.0)
			So(set.CharacterTimestamps[3].EndTime, ShouldEqual, 2.0)
		})

		Convey("记录时长与实际时长偏差大时按比例缩放", func() {
			set := sampleSet(2.0)
			changed, err := set.Reconcile(4.0)
			So(err, ShouldBeNil)
			So(changed, ShouldBeTrue)
			So(set.Duration, ShouldEqual, 4.0)
			So(set.CharacterTimestamps[0].EndTime, ShouldAlmostEqual, 1.0, 1e-9)
			So(set.CharacterTimestamps[3].StartTime, ShouldAlmostEqual, 3.0, 1e-9)
			So(set.CharacterTimestamps[3].EndTime, ShouldAlmostEqual, 4.0, 1e-9)
		})

		Convey("记录 10 秒实际 12 秒时按 1.2 倍缩放并截断末尾", func() {
			set := &Set{
				Text: "测试",
				CharacterTimestamps: []CharTimestamp{
					{Character: "测", StartTime: 1.0, EndTime: 2.0},
					{Character: "试", StartTime: 9.0, EndTime: 9.95},
				},
				Duration: 10.0,
			}
			changed, err := set.Reconcile(12.0)
			So(err, ShouldBeNil)
			So(changed, ShouldBeTrue)
			So(set.CharacterTimestamps[0].StartTime, ShouldAlmostEqual, 1.2, 1e-9)
			So(set.CharacterTimestamps[0].EndTime, ShouldAlmostEqual, 2.4, 1e-9)
			// 缩放后 9.95*1.2=11.94 未越界，保持缩放值
			So(set.CharacterTimestamps[1].EndTime, ShouldAlmostEqual, 11.94, 1e-9)

			set.CharacterTimestamps[1].EndTime = 12.5
			set.Duration = 10.0
			changed, err = set.Reconcile(12.0)
			So(err, ShouldBeNil)
			So(changed, ShouldBeTrue)
			So(set.CharacterTimestamps[1].EndTime, ShouldEqual, 12.0)
		})

		Convey("时间戳越过音频末尾时即使时长一致也要修复", func() {
			set := sampleSet(2.0)
			set.CharacterTimestamps[3].EndTime = 2.5
			changed, err := set.Reconcile(2.0)
			So(err, ShouldBeNil)
			So(changed, ShouldBeTrue)
			So(set.MaxEnd(), ShouldBeLessThanOrEqualTo, 2.0)
		})

		Convey("缩放后越界的起始时间回退到末尾前", func() {
			set := sampleSet(0) // 记录时长为 0，缩放因子取 1.0
			set.CharacterTimestamps[3].StartTime = 5.0
			set.CharacterTimestamps[3].EndTime = 6.0
			changed, err := set.Reconcile(2.0)
			So(err, ShouldBeNil)
			So(changed, ShouldBeTrue)
			last := set.CharacterTimestamps[3]
			So(last.StartTime, ShouldAlmostEqual, 1.99, 1e-9)
			So(last.EndTime, ShouldEqual, 2.0)
		})

		Convey("空时间戳数据返回错误", func() {
			set := &Set{Text: "x", Duration: 1.0}
			_, err := set.Reconcile(2.0)
			So(err, ShouldEqual, ErrEmptyTimestamps)
		})

		Convey("校正操作幂等", func() {
			set := sampleSet(2.0)
			_, err := set.Reconcile(4.0)
			So(err, ShouldBeNil)
			changed, err := set.Reconcile(4.0)
			So(err, ShouldBeNil)
			So(changed, ShouldBeFalse)
		})
	})
}

func TestFixBatch(t *testing.T) {
	Convey("批量修复章节时间戳", t, func() {
		dataDir := t.TempDir()
		chapterDir := filepath.Join(dataDir, "chapter_001")
		So(os.MkdirAll(chapterDir, 0755), ShouldBeNil)

		set := sampleSet(2.0)
		tsPath := filepath.Join(chapterDir, "segment_01_timestamps.json")
		So(set.Save(tsPath), ShouldBeNil)
		audioPath := filepath.Join(chapterDir, "segment_01.mp3")
		So(os.WriteFile(audioPath, []byte("fake mp3"), 0644), ShouldBeNil)

		client := ffmpeg.NewClientWithRunner(config.EncoderConfig{}, &probeRunner{duration: 4.0})
		fixer := NewFixer(client)

		Convey("修复前创建备份并原地重写", func() {
			result, err := fixer.FixBatch(context.Background(), dataDir)
			So(err, ShouldBeNil)
			So(result.Total, ShouldEqual, 1)
			So(result.Fixed, ShouldEqual, 1)

			_, err = os.Stat(tsPath + ".backup")
			So(err, ShouldBeNil)

			fixed, err := Load(tsPath)
			So(err, ShouldBeNil)
			So(fixed.Duration, ShouldEqual, 4.0)

			backup, err := Load(tsPath + ".backup")
			So(err, ShouldBeNil)
			So(backup.Duration, ShouldEqual, 2.0)
		})

		Convey("缺少配套音频的文件计入失败", func() {
			So(os.Remove(audioPath), ShouldBeNil)
			result, err := fixer.FixBatch(context.Background(), dataDir)
			So(err, ShouldBeNil)
			So(result.Failed, ShouldEqual, 1)
		})

		Convey("没有章节目录时报错", func() {
			_, err := fixer.FixBatch(context.Background(), t.TempDir())
			So(err, ShouldNotBeNil)
		})
	})
}

func TestCleanEmptyVideos(t *testing.T) {
	Convey("清理空视频文件", t, func() {
		dir := t.TempDir()
		empty := filepath.Join(dir, "chapter_001", "broken.mp4")
		So(os.MkdirAll(filepath.Dir(empty), 0755), ShouldBeNil)
		So(os.WriteFile(empty, nil, 0644), ShouldBeNil)
		good := filepath.Join(dir, "chapter_001", "good.mp4")
		So(os.WriteFile(good, []byte("data"), 0644), ShouldBeNil)

		removed, err := CleanEmptyVideos(dir)
		So(err, ShouldBeNil)
		So(removed, ShouldResemble, []string{empty})

		_, err = os.Stat(good)
		So(err, ShouldBeNil)
	})
}
