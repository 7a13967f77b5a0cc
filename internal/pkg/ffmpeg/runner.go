package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Result 子进程执行结果
// 退出码与 stderr 是一等字段，不用异常承载控制流
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Ok 进程是否正常退出
func (r *Result) Ok() bool {
	return r.ExitCode == 0
}

// Runner 执行外部命令，测试中可注入替身
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// execRunner 基于 os/exec 的默认实现
type execRunner struct{}

// NewRunner 创建默认命令执行器
func NewRunner() Runner {
	return &execRunner{}
}

func (e *execRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		// 命令无法启动（可执行文件缺失等）
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	return result, nil
}

// RunError 渲染/转码失败
// 携带完整命令、出错素材与捕获的 stderr，保证用户可见的错误信息
// 永远包含失败路径和底层工具的报错文本
type RunError struct {
	Cmd      string
	Asset    string
	ExitCode int
	Stderr   string
}

func (e *RunError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if len(stderr) > 2000 {
		stderr = stderr[len(stderr)-2000:]
	}
	return fmt.Sprintf("ffmpeg 执行失败 (exit=%d, asset=%s): %s\n命令: %s",
		e.ExitCode, e.Asset, stderr, e.Cmd)
}
