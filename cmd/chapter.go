package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pomelo/internal/service/pipeline"
)

var chapterCmd = &cobra.Command{
	Use:   "chapter <chapter-dir>...",
	Short: "Run the full pipeline for chapter directories",
	Long: `Process chapter directories end to end: reconcile timestamps,
generate subtitles, match sound effects, render every segment and
assemble the final chapter video with BGM and the finish clip.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChapter,
}

func init() {
	rootCmd.AddCommand(chapterCmd)
}

func runChapter(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, chapterDir := range args {
		url, err := p.ProcessChapter(ctx, chapterDir)
		if err != nil {
			return fmt.Errorf("处理章节 %s 失败: %w", chapterDir, err)
		}
		fmt.Println(url)
	}
	return nil
}
