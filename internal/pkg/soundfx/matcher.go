package soundfx

import (
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-ego/gse"
	"github.com/rs/zerolog/log"

	"pomelo/internal/config"
	"pomelo/internal/pkg/subtitle"
)

// Event 一次音效插入事件
type Event struct {
	StartTime float64
	EndTime   float64
	SoundFile string
	Volume    float64
	Keyword   string
	Text      string
}

// keywordEntry 关键词到文件名搜索词的映射，按表序优先匹配
type keywordEntry struct {
	keyword string
	terms   []string
}

// 关键词表不可变，新增条目按类别追加
var keywordTable = []keywordEntry{
	// 动物
	{"狗", []string{"狗", "dog", "犬"}},
	{"猫", []string{"猫", "cat"}},
	{"鸟", []string{"鸟", "bird"}},
	{"马", []string{"马", "horse"}},
	{"狼", []string{"狼", "wolf"}},
	{"虎", []string{"虎", "tiger"}},
	{"象", []string{"象", "elephant"}},
	{"鸡", []string{"鸡", "chicken"}},
	{"羊", []string{"羊", "sheep"}},
	{"牛", []string{"牛", "cow"}},
	// 动作
	{"脚步", []string{"脚步", "footstep", "走"}},
	{"跑", []string{"跑", "run", "奔跑"}},
	{"开门", []string{"开门", "door", "门"}},
	{"关门", []string{"关门", "door", "门"}},
	{"打击", []string{"打击", "hit", "打", "击"}},
	{"爆炸", []string{"爆炸", "explosion", "爆破"}},
	{"水", []string{"水", "water", "流水"}},
	{"风", []string{"风", "wind"}},
	{"雷", []string{"雷", "thunder"}},
	{"雨", []string{"雨", "rain"}},
	// 交通工具
	{"车", []string{"车", "car", "汽车"}},
	{"飞机", []string{"飞机", "plane", "aircraft"}},
	// 电子设备
	{"电话", []string{"电话", "phone", "铃声"}},
	{"电脑", []string{"电脑", "computer"}},
	{"打字", []string{"打字", "typing", "键盘"}},
	// 环境
	{"人群", []string{"人群", "crowd", "嘈杂"}},
	{"嘈杂", []string{"嘈杂", "noise", "喧闹"}},
	{"喧闹", []string{"喧闹", "noise", "嘈杂"}},
	{"议论", []string{"议论", "talk", "说话"}},
}

var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".ogg": true,
	".m4a": true, ".flac": true, ".aac": true,
}

// AssetIndex 音效素材库索引，按文件名（小写）查找
type AssetIndex struct {
	keys  []string // 排序后的键，保证遍历顺序稳定
	paths map[string]string
}

// LoadAssets 递归扫描音效目录，建立文件名索引
// 目录不存在时返回空索引而不是错误
func LoadAssets(dir string) *AssetIndex {
	idx := &AssetIndex{paths: make(map[string]string)}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if !audioExtensions[ext] {
			return nil
		}
		base := strings.ToLower(d.Name())
		idx.paths[base] = path
		idx.paths[strings.TrimSuffix(base, ext)] = path
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("扫描音效目录失败")
	}
	for k := range idx.paths {
		idx.keys = append(idx.keys, k)
	}
	sort.Strings(idx.keys)
	log.Info().Int("count", len(idx.keys)).Str("dir", dir).Msg("音效素材库加载完成")
	return idx
}

// Candidates 返回文件名包含给定搜索词的所有音效路径
func (idx *AssetIndex) Candidates(term string) []string {
	term = strings.ToLower(term)
	var out []string
	seen := make(map[string]bool)
	for _, key := range idx.keys {
		if strings.Contains(key, term) {
			path := idx.paths[key]
			if !seen[path] {
				seen[path] = true
				out = append(out, path)
			}
		}
	}
	return out
}

// All 返回索引中全部音效路径（去重、有序）
func (idx *AssetIndex) All() []string {
	var out []string
	seen := make(map[string]bool)
	for _, key := range idx.keys {
		path := idx.paths[key]
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}
	return out
}

func (idx *AssetIndex) Empty() bool {
	return len(idx.paths) == 0
}

// Matcher 音效匹配器
// 随机源由调用方注入，测试时传入固定种子保证可复现
type Matcher struct {
	cfg       config.SoundFXConfig
	index     *AssetIndex
	rng       *rand.Rand
	segmenter *gse.Segmenter
}

func NewMatcher(cfg config.SoundFXConfig, index *AssetIndex, rng *rand.Rand) *Matcher {
	var segmenter *gse.Segmenter
	if seg, err := gse.New(); err == nil {
		segmenter = &seg
	}
	return &Matcher{cfg: cfg, index: index, rng: rng, segmenter: segmenter}
}

var assTagRe = regexp.MustCompile(`\{[^}]*\}`)

// Match 根据台词内容匹配音效事件，并保证开头密度下限
func (m *Matcher) Match(dialogues []subtitle.Dialogue) []Event {
	var events []Event
	for _, d := range dialogues {
		text := strings.TrimSpace(assTagRe.ReplaceAllString(d.Text, ""))
		file, keyword := m.matchText(text)
		if file == "" {
			continue
		}
		events = append(events, Event{
			StartTime: d.Start,
			EndTime:   d.End,
			SoundFile: file,
			Volume:    m.randomVolume(),
			Keyword:   keyword,
			Text:      text,
		})
		log.Debug().
			Str("keyword", keyword).
			Str("file", filepath.Base(file)).
			Float64("start", d.Start).
			Msg("匹配音效")
	}
	return m.ensureEarlyEffects(events, dialogues)
}

// matchText 先查关键词表，再退到分词后的直接文件名匹配
func (m *Matcher) matchText(text string) (string, string) {
	for _, entry := range keywordTable {
		if !strings.Contains(text, entry.keyword) {
			continue
		}
		var candidates []string
		for _, term := range entry.terms {
			candidates = append(candidates, m.index.Candidates(term)...)
		}
		if len(candidates) > 0 {
			return m.pick(candidates), entry.keyword
		}
	}

	// 关键词表未命中，用分词结果里长度不小于 2 的词直接匹配文件名
	for _, word := range m.tokenize(text) {
		if utf8.RuneCountInString(word) < 2 {
			continue
		}
		if candidates := m.index.Candidates(word); len(candidates) > 0 {
			return m.pick(candidates), word
		}
	}
	return "", ""
}

func (m *Matcher) tokenize(text string) []string {
	if m.segmenter != nil {
		return m.segmenter.Cut(text, false)
	}
	var words []string
	for _, r := range text {
		words = append(words, string(r))
	}
	return words
}

func (m *Matcher) pick(candidates []string) string {
	return candidates[m.rng.Intn(len(candidates))]
}

// randomVolume 基准音量加随机抖动，夹在 [0.1, 0.5]
func (m *Matcher) randomVolume() float64 {
	v := m.cfg.BaseVolume + (m.rng.Float64()*2-1)*m.cfg.VolumeSpan
	if v < 0.1 {
		v = 0.1
	}
	if v > 0.5 {
		v = 0.5
	}
	return v
}
