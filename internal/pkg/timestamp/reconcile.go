package timestamp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"pomelo/internal/pkg/ffmpeg"
)

// ErrEmptyTimestamps 时间戳文件中没有任何字符条目
var ErrEmptyTimestamps = errors.New("时间戳文件中没有字符时间戳数据")

// 时长差异小于该阈值且最大时间戳不越界时视为无需修复
const driftThreshold = 0.1

// CharTimestamp 单个字符的发音时间区间
type CharTimestamp struct {
	Character string  `json:"character"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// Set 一段语音的字符级时间戳数据
type Set struct {
	Text                string          `json:"text"`
	CharacterTimestamps []CharTimestamp `json:"character_timestamps"`
	Duration            float64         `json:"duration"`
}

// MaxEnd 返回所有条目中最大的结束时间
func (s *Set) MaxEnd() float64 {
	max := 0.0
	for _, ts := range s.CharacterTimestamps {
		if ts.EndTime > max {
			max = ts.EndTime
		}
	}
	return max
}

// Reconcile 按实际音频时长校正时间戳
// 记录时长与实际时长差异超过阈值、或任何时间戳越过音频末尾时，
// 按 actual/recorded 比例缩放全部时间戳并截断越界值。
// 返回是否发生了修改；对已一致的数据幂等。
func (s *Set) Reconcile(actualDuration float64) (bool, error) {
	if len(s.CharacterTimestamps) == 0 {
		return false, ErrEmptyTimestamps
	}

	drift := s.Duration - actualDuration
	if drift < 0 {
		drift = -drift
	}
	if drift < driftThreshold && s.MaxEnd() <= actualDuration {
		return false, nil
	}

	scale := 1.0
	if s.Duration > 0 {
		scale = actualDuration / s.Duration
	}

	for i := range s.CharacterTimestamps {
		ts := &s.CharacterTimestamps[i]
		start := ts.StartTime * scale
		end := ts.EndTime * scale
		if end > actualDuration {
			end = actualDuration
		}
		if start > actualDuration {
			start = actualDuration - 0.01
			if start < 0 {
				start = 0
			}
		}
		ts.StartTime = start
		ts.EndTime = end
	}
	s.Duration = actualDuration
	return true, nil
}

// Load 读取时间戳 JSON 文件
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取时间戳文件失败: %w", err)
	}
	var set Set
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("解析时间戳文件失败 %s: %w", path, err)
	}
	return &set, nil
}

// Save 写回时间戳 JSON 文件，保持缩进格式
func (s *Set) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Fixer 时间戳修复器，依赖 ffprobe 获取音频实际时长
type Fixer struct {
	client *ffmpeg.Client
}

func NewFixer(client *ffmpeg.Client) *Fixer {
	return &Fixer{client: client}
}

// FixFile 修复单个时间戳文件
// 修改前把原文件复制为 .backup，然后原地重写
func (f *Fixer) FixFile(ctx context.Context, timestampPath, audioPath string) (bool, error) {
	actual, err := f.client.GetAudioDuration(ctx, audioPath)
	if err != nil {
		return false, fmt.Errorf("获取音频时长失败 %s: %w", audioPath, err)
	}

	set, err := Load(timestampPath)
	if err != nil {
		return false, err
	}

	log.Debug().
		Str("file", filepath.Base(timestampPath)).
		Float64("recorded", set.Duration).
		Float64("actual", actual).
		Float64("max_end", set.MaxEnd()).
		Msg("检查时间戳数据")

	changed, err := set.Reconcile(actual)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	if err := copyFile(timestampPath, timestampPath+".backup"); err != nil {
		return false, fmt.Errorf("创建备份失败: %w", err)
	}
	if err := set.Save(timestampPath); err != nil {
		return false, fmt.Errorf("写回时间戳文件失败: %w", err)
	}
	log.Info().Str("file", filepath.Base(timestampPath)).Msg("时间戳文件已修复")
	return true, nil
}

// BatchResult 批量修复统计
type BatchResult struct {
	Total   int
	Fixed   int
	Skipped int
	Failed  int
}

// FixBatch 批量修复数据目录下所有章节的时间戳
// 目录结构: dataDir/chapter_*/xxx_timestamps.json 与同名 .mp3 配对
func (f *Fixer) FixBatch(ctx context.Context, dataDir string) (*BatchResult, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("读取数据目录失败: %w", err)
	}

	var chapterDirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "chapter_") {
			chapterDirs = append(chapterDirs, filepath.Join(dataDir, e.Name()))
		}
	}
	if len(chapterDirs) == 0 {
		return nil, fmt.Errorf("在 %s 中没有找到章节目录", dataDir)
	}
	sort.Strings(chapterDirs)

	result := &BatchResult{}
	for _, chapterDir := range chapterDirs {
		log.Info().Str("chapter", filepath.Base(chapterDir)).Msg("处理章节时间戳")
		files, err := os.ReadDir(chapterDir)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			name := file.Name()
			if !strings.HasSuffix(name, "_timestamps.json") {
				continue
			}
			result.Total++
			tsPath := filepath.Join(chapterDir, name)
			audioPath := filepath.Join(chapterDir, strings.TrimSuffix(name, "_timestamps.json")+".mp3")
			if _, err := os.Stat(audioPath); err != nil {
				log.Warn().Str("audio", audioPath).Msg("找不到对应的音频文件")
				result.Failed++
				continue
			}
			changed, err := f.FixFile(ctx, tsPath, audioPath)
			switch {
			case err != nil:
				log.Error().Err(err).Str("file", name).Msg("修复时间戳失败")
				result.Failed++
			case changed:
				result.Fixed++
			default:
				result.Skipped++
			}
		}
	}

	log.Info().
		Int("total", result.Total).
		Int("fixed", result.Fixed).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("批量修复完成")
	return result, nil
}

// CleanEmptyVideos 删除数据目录下所有零字节的 mp4 文件
// 返回被删除文件的路径列表
func CleanEmptyVideos(dataDir string) ([]string, error) {
	var removed []string
	err := filepath.WalkDir(dataDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".mp4") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 {
			if err := os.Remove(path); err != nil {
				log.Error().Err(err).Str("file", path).Msg("删除空视频文件失败")
				return nil
			}
			log.Info().Str("file", path).Msg("已删除空视频文件")
			removed = append(removed, path)
		}
		return nil
	})
	return removed, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
