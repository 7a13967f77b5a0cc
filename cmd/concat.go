package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pomelo/internal/pkg/compositor"
	"pomelo/internal/pkg/encoder"
	"pomelo/internal/pkg/ffmpeg"
)

var concatCmd = &cobra.Command{
	Use:   "concat <segment-list> <output>",
	Short: "Concatenate segment videos into one",
	Long: `Concatenate rendered segments in order. The segment list file holds
one video path per line. Stream copy is attempted first; if the inputs
disagree on codec parameters the whole sequence is re-encoded with the
detected encoder profile.`,
	Args: cobra.ExactArgs(2),
	RunE: runConcat,
}

func init() {
	rootCmd.AddCommand(concatCmd)
}

// readSegmentList 读取片段列表文件，每行一个视频路径
func readSegmentList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开片段列表失败: %w", err)
	}
	defer f.Close()

	var paths []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("片段列表为空: %s", path)
	}
	return paths, nil
}

func runConcat(cmd *cobra.Command, args []string) error {
	paths, err := readSegmentList(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	client := ffmpeg.NewClient(cfg.Encoder)
	profile := encoder.NewDetector(client, cfg.Encoder).Detect(ctx)
	comp := compositor.New(client, profile, cfg.Video)
	return comp.Concat(ctx, paths, args[1])
}
