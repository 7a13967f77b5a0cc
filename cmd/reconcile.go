package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"pomelo/internal/pkg/ffmpeg"
	"pomelo/internal/pkg/timestamp"
)

var (
	reconcileBatch bool
	reconcileClean bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <data-dir|timestamp-file> [audio-file]",
	Short: "Reconcile narration timestamps against measured audio durations",
	Long: `Reconcile compares recorded narration timestamps with the actual
audio durations measured by ffprobe, and rescales them in place when
they drift apart. A .backup copy is written before any rewrite.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	flags := reconcileCmd.Flags()
	flags.BoolVar(&reconcileBatch, "batch", false, "treat the argument as a data directory of chapter_* subdirectories")
	flags.BoolVar(&reconcileClean, "clean-empty", false, "also delete zero-byte mp4 files under the data directory")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client := ffmpeg.NewClient(cfg.Encoder)
	fixer := timestamp.NewFixer(client)

	if reconcileBatch {
		dataDir := args[0]
		result, err := fixer.FixBatch(ctx, dataDir)
		if err != nil {
			return err
		}
		if reconcileClean {
			removed, err := timestamp.CleanEmptyVideos(dataDir)
			if err != nil {
				return err
			}
			log.Info().Int("removed", len(removed)).Msg("空视频清理完成")
		}
		if result.Failed > 0 {
			return fmt.Errorf("共 %d 个文件修复失败", result.Failed)
		}
		return nil
	}

	if len(args) != 2 {
		return fmt.Errorf("单文件模式需要时间戳文件和音频文件两个参数")
	}
	changed, err := fixer.FixFile(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if changed {
		log.Info().Str("file", args[0]).Msg("时间戳已修复")
	} else {
		log.Info().Str("file", args[0]).Msg("时间戳数据正常，无需修复")
	}
	return nil
}
