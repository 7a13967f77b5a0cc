package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pomelo/internal/config"
	"pomelo/internal/pkg/compositor"
	"pomelo/internal/pkg/encoder"
	"pomelo/internal/pkg/ffmpeg"
	"pomelo/internal/pkg/logger"
	"pomelo/internal/pkg/soundfx"
	"pomelo/internal/pkg/storage"
	"pomelo/internal/pkg/storage/local"
	"pomelo/internal/pkg/storage/oss"
	"pomelo/internal/pkg/subtitle"
	"pomelo/internal/pkg/timestamp"
)

// Pipeline 章节合成流水线
// 串起时间戳校正、字幕生成、音效匹配、片段渲染与章节拼接
type Pipeline struct {
	cfg      *config.Config
	client   *ffmpeg.Client
	detector *encoder.Detector
	fixer    *timestamp.Fixer
	builder  *subtitle.Builder
	matcher  *soundfx.Matcher
	store    storage.Storage
	rng      *rand.Rand
}

// New 按配置装配流水线
func New(cfg *config.Config) (*Pipeline, error) {
	client := ffmpeg.NewClient(cfg.Encoder)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	store, err := newStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:      cfg,
		client:   client,
		detector: encoder.NewDetector(client, cfg.Encoder),
		fixer:    timestamp.NewFixer(client),
		builder:  subtitle.NewBuilder(cfg.Subtitle),
		matcher:  soundfx.NewMatcher(cfg.SoundFX, soundfx.LoadAssets(cfg.SoundFX.Dir), rng),
		store:    store,
		rng:      rng,
	}, nil
}

// newStorage 按配置选择存储后端
func newStorage(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Type {
	case storage.TypeOSS:
		if cfg.OSS == nil {
			return nil, fmt.Errorf("缺少 OSS 存储配置")
		}
		return oss.New(cfg.OSS.Endpoint, cfg.OSS.Bucket, cfg.OSS.AccessKeyID, cfg.OSS.AccessKeySecret)
	case storage.TypeLocal, "":
		if cfg.Local == nil {
			return nil, fmt.Errorf("缺少本地存储配置")
		}
		return local.New(cfg.Local.BasePath, cfg.Local.BaseURL)
	default:
		return nil, fmt.Errorf("不支持的存储类型: %s", cfg.Type)
	}
}

// segment 章节内一个叙述片段的素材
type segment struct {
	name      string // segment_01 这样的基础名
	video     string
	audio     string
	timestamp string
}

// discoverSegments 扫描章节目录，按配对素材组装片段列表
func discoverSegments(chapterDir string) ([]segment, error) {
	entries, err := os.ReadDir(chapterDir)
	if err != nil {
		return nil, fmt.Errorf("读取章节目录失败: %w", err)
	}

	var segments []segment
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, "_timestamps.json") {
			continue
		}
		base := strings.TrimSuffix(name, "_timestamps.json")
		audio := filepath.Join(chapterDir, base+".mp3")
		video := filepath.Join(chapterDir, base+".mp4")
		if _, err := os.Stat(audio); err != nil {
			log.Warn().Str("segment", base).Msg("缺少配音文件，跳过片段")
			continue
		}
		if _, err := os.Stat(video); err != nil {
			log.Warn().Str("segment", base).Msg("缺少基础视频，跳过片段")
			continue
		}
		segments = append(segments, segment{
			name:      base,
			video:     video,
			audio:     audio,
			timestamp: filepath.Join(chapterDir, name),
		})
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("章节目录中没有完整的片段素材: %s", chapterDir)
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].name < segments[j].name })
	return segments, nil
}

// ProcessChapter 处理单个章节目录，产出完整章节视频并上传
// 返回成品的访问 URL
func (p *Pipeline) ProcessChapter(ctx context.Context, chapterDir string) (string, error) {
	chapterName := filepath.Base(chapterDir)
	lg := logger.Get("chapter").With().Str("chapter", chapterName).Logger()
	lg.Info().Msg("开始处理章节")

	segments, err := discoverSegments(chapterDir)
	if err != nil {
		return "", err
	}

	profile := p.detector.Detect(ctx)
	comp := compositor.New(p.client, profile, p.cfg.Video)

	workDir := filepath.Join(chapterDir, "work")
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", fmt.Errorf("创建工作目录失败: %w", err)
	}

	var rendered []string
	var mergeInputs []subtitle.MergeInput
	totalDuration := 0.0

	for i, seg := range segments {
		duration, assPath, err := p.prepareSegment(ctx, seg, workDir)
		if err != nil {
			return "", fmt.Errorf("片段 %s: %w", seg.name, err)
		}

		fxPath, err := p.buildEffects(ctx, assPath, duration, workDir, seg.name)
		if err != nil {
			return "", fmt.Errorf("片段 %s 音效: %w", seg.name, err)
		}

		outPath := filepath.Join(workDir, seg.name+"_rendered.mp4")
		err = comp.RenderSegment(ctx, compositor.SegmentInput{
			Video:    seg.video,
			Subtitle: assPath,
			Audio:    seg.audio,
			Effects:  fxPath,
			Duration: duration,
		}, outPath)
		if err != nil {
			return "", fmt.Errorf("渲染片段 %s: %w", seg.name, err)
		}

		// 开场两个片段中的第二个叠加转场特效
		if i == 1 && p.cfg.Assets.OverlayVideo != "" {
			overlaid, err := comp.ApplyTransitionOverlay(ctx, outPath, p.cfg.Assets.OverlayVideo,
				filepath.Join(workDir, seg.name+"_overlay.mp4"))
			if err != nil {
				return "", fmt.Errorf("叠加转场 %s: %w", seg.name, err)
			}
			outPath = overlaid
		}

		rendered = append(rendered, outPath)
		mergeInputs = append(mergeInputs, subtitle.MergeInput{Path: assPath, Duration: duration})
		totalDuration += duration
	}

	// 合并章节字幕，供归档与复查
	chapterAss := filepath.Join(workDir, chapterName+".ass")
	if err := subtitle.MergeFiles(p.cfg.Subtitle, mergeInputs, chapterName, chapterAss); err != nil {
		return "", err
	}

	mainPath := filepath.Join(workDir, chapterName+"_main.mp4")
	if err := p.assembleChapter(ctx, comp, rendered, totalDuration, mainPath); err != nil {
		return "", err
	}

	finalPath := filepath.Join(chapterDir, chapterName+"_final.mp4")
	if err := comp.AppendFinish(ctx, mainPath, p.cfg.Assets.FinishVideo, finalPath); err != nil {
		return "", fmt.Errorf("拼接结尾视频: %w", err)
	}
	if err := comp.CheckStandards(ctx, finalPath); err != nil {
		return "", fmt.Errorf("成片不符合输出标准: %w", err)
	}

	url, err := p.publish(ctx, chapterName, finalPath, chapterAss)
	if err != nil {
		return "", err
	}
	lg.Info().Str("url", url).Msg("章节处理完成")
	return url, nil
}

// prepareSegment 校正时间戳并生成片段字幕，返回片段时长与字幕路径
func (p *Pipeline) prepareSegment(ctx context.Context, seg segment, workDir string) (float64, string, error) {
	if _, err := p.fixer.FixFile(ctx, seg.timestamp, seg.audio); err != nil {
		return 0, "", err
	}

	set, err := timestamp.Load(seg.timestamp)
	if err != nil {
		return 0, "", err
	}

	assPath := filepath.Join(workDir, seg.name+".ass")
	if err := p.builder.BuildFile(set, seg.name, assPath); err != nil {
		return 0, "", err
	}
	return set.Duration, assPath, nil
}

// buildEffects 匹配音效并生成音效轨道，没有匹配时返回空路径
func (p *Pipeline) buildEffects(ctx context.Context, assPath string, duration float64, workDir, name string) (string, error) {
	dialogues, err := subtitle.ParseDialogues(assPath)
	if err != nil {
		return "", err
	}
	events := p.matcher.FilterOverlapping(p.matcher.Match(dialogues))
	if len(events) == 0 {
		return "", nil
	}

	fxPath := filepath.Join(workDir, name+"_fx.mp3")
	if err := soundfx.BuildTrack(ctx, p.client, events, duration, fxPath); err != nil {
		return "", err
	}
	return fxPath, nil
}

// assembleChapter 拼接片段并混入 BGM；没有 BGM 目录时直接拼接
func (p *Pipeline) assembleChapter(ctx context.Context, comp *compositor.Compositor, rendered []string, totalDuration float64, outPath string) error {
	if p.cfg.Assets.BGMDir == "" {
		return comp.Concat(ctx, rendered, outPath)
	}

	bgmPath, err := compositor.PickBGM(p.cfg.Assets.BGMDir, p.rng)
	if err != nil {
		log.Warn().Err(err).Msg("挑选 BGM 失败，跳过背景音乐")
		return comp.Concat(ctx, rendered, outPath)
	}

	bgmTrack := filepath.Join(filepath.Dir(outPath), "bgm_track.mp3")
	if err := comp.PrepareBGM(ctx, bgmPath, totalDuration, bgmTrack); err != nil {
		return fmt.Errorf("生成 BGM 音轨: %w", err)
	}
	defer os.Remove(bgmTrack)

	return comp.ConcatWithBGM(ctx, rendered, bgmTrack, outPath)
}

// publish 上传成品视频与章节字幕
func (p *Pipeline) publish(ctx context.Context, chapterName, videoPath, assPath string) (string, error) {
	video, err := os.Open(videoPath)
	if err != nil {
		return "", fmt.Errorf("打开成品视频失败: %w", err)
	}
	defer video.Close()

	key := chapterName + "/" + filepath.Base(videoPath)
	url, err := p.store.Upload(ctx, key, video, storage.ContentTypeByExt(videoPath))
	if err != nil {
		return "", fmt.Errorf("上传成品视频失败: %w", err)
	}

	ass, err := os.Open(assPath)
	if err == nil {
		defer ass.Close()
		assKey := chapterName + "/" + filepath.Base(assPath)
		if _, err := p.store.Upload(ctx, assKey, ass, storage.ContentTypeByExt(assPath)); err != nil {
			log.Warn().Err(err).Msg("上传章节字幕失败")
		}
	}
	return url, nil
}
