package remotejob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pomelo/internal/config"
	"pomelo/internal/pkg/id"
)

// 下载流式写盘的块大小
const downloadChunkSize = 32 * 1024

// 远端任务状态
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusInQueue = "in_queue"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Output 任务产物的定位信息
type Output struct {
	Filename  string
	Subfolder string
	Type      string
}

// Client 远端生成服务客户端
// 提交工作流、轮询任务状态并下载产物
type Client struct {
	cfg        config.RemoteConfig
	endpoint   string
	clientID   string
	httpClient *http.Client
}

func NewClient(cfg config.RemoteConfig) *Client {
	return &Client{
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		clientID: id.New(),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Submit 提交工作流，返回任务 ID
// 网络层失败按固定间隔重试，远端明确拒绝（非 2xx）不重试
func (c *Client) Submit(ctx context.Context, workflow map[string]interface{}) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"prompt":    workflow,
		"client_id": c.clientID,
	})
	if err != nil {
		return "", fmt.Errorf("序列化工作流失败: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().Int("attempt", attempt+1).Err(lastErr).Msg("重试提交远端任务")
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		jobID, err := c.submitOnce(ctx, payload)
		if err == nil {
			return jobID, nil
		}
		// 只有网络层错误才重试
		if _, ok := err.(*TransportError); !ok {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

func (c *Client) submitOnce(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/prompt", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Op: "submit", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &JobFailedError{
			Status:  fmt.Sprintf("http_%d", resp.StatusCode),
			Message: strings.TrimSpace(string(body)),
		}
	}

	var result struct {
		PromptID string `json:"prompt_id"`
		TaskID   string `json:"task_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("解析提交响应失败: %w", err)
	}
	jobID := result.PromptID
	if jobID == "" {
		jobID = result.TaskID
	}
	if jobID == "" {
		return "", fmt.Errorf("提交响应中没有任务 ID: %s", string(body))
	}
	if !id.IsValid(jobID) {
		log.Debug().Str("job_id", jobID).Msg("远端返回的任务ID不是标准UUID")
	}
	log.Info().Str("job_id", jobID).Msg("远端任务已提交")
	return jobID, nil
}

// historyEntry 远端 history 接口中单个任务的结构
type historyEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []outputFile `json:"images"`
		Gifs   []outputFile `json:"gifs"`
	} `json:"outputs"`
}

type outputFile struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Poll 轮询任务直到产出结果
// 任务失败返回 JobFailedError，超过最大等待时间返回 TimeoutError
func (c *Client) Poll(ctx context.Context, jobID string) (*Output, error) {
	deadline := time.Now().Add(c.cfg.MaxWait)
	for {
		if time.Now().After(deadline) {
			return nil, &TimeoutError{JobID: jobID, Waited: c.cfg.MaxWait}
		}

		out, err := c.pollOnce(ctx, jobID)
		if err != nil {
			if _, ok := err.(*TransportError); ok {
				log.Warn().Err(err).Str("job_id", jobID).Msg("轮询远端任务异常")
			} else {
				return nil, err
			}
		} else if out != nil {
			return out, nil
		}

		select {
		case <-time.After(c.cfg.PollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// pollOnce 查询一次任务状态，任务仍在进行时返回 (nil, nil)
func (c *Client) pollOnce(ctx context.Context, jobID string) (*Output, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/history/%s", c.endpoint, jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "poll", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: "poll", Err: fmt.Errorf("状态码 %d", resp.StatusCode)}
	}

	var data map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, &TransportError{Op: "poll", Err: err}
	}

	entry, ok := data[jobID]
	if !ok {
		// 任务尚未进入 history
		return nil, nil
	}

	status := strings.ToLower(entry.Status.StatusStr)
	switch status {
	case StatusFailed, "error":
		return nil, &JobFailedError{JobID: jobID, Status: status, Message: "远端执行失败"}
	case StatusPending, StatusRunning, StatusInQueue:
		return nil, nil
	}

	for _, node := range entry.Outputs {
		files := node.Images
		if len(files) == 0 {
			files = node.Gifs
		}
		for _, f := range files {
			if f.Filename == "" {
				continue
			}
			typ := f.Type
			if typ == "" {
				typ = "output"
			}
			log.Info().
				Str("job_id", jobID).
				Str("filename", f.Filename).
				Str("subfolder", f.Subfolder).
				Msg("远端任务完成")
			return &Output{Filename: f.Filename, Subfolder: f.Subfolder, Type: typ}, nil
		}
	}

	// 标记完成但还没有产物，继续等
	if entry.Status.Completed && status == StatusDone {
		return nil, &JobFailedError{JobID: jobID, Status: status, Message: "任务完成但没有产物"}
	}
	return nil, nil
}

// Download 下载任务产物并流式写入本地文件
func (c *Client) Download(ctx context.Context, out *Output, destPath string) error {
	params := url.Values{}
	params.Set("filename", out.Filename)
	params.Set("type", out.Type)
	if out.Subfolder != "" {
		params.Set("subfolder", out.Subfolder)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint+"/view?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &TransportError{Op: "download", Err: fmt.Errorf("状态码 %d", resp.StatusCode)}
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("创建文件失败 %s: %w", destPath, err)
	}
	defer f.Close()

	buf := make([]byte, downloadChunkSize)
	written, err := io.CopyBuffer(f, resp.Body, buf)
	if err != nil {
		return &TransportError{Op: "download", Err: err}
	}
	log.Info().Str("dest", destPath).Int64("bytes", written).Msg("产物下载完成")
	return nil
}

// Run 完整跑一个任务：提交、轮询、下载
func (c *Client) Run(ctx context.Context, workflow map[string]interface{}, destPath string) error {
	jobID, err := c.Submit(ctx, workflow)
	if err != nil {
		return err
	}
	out, err := c.Poll(ctx, jobID)
	if err != nil {
		return err
	}
	return c.Download(ctx, out, destPath)
}

// LoadWorkflow 加载工作流 JSON 模板
func LoadWorkflow(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取工作流模板失败: %w", err)
	}
	var workflow map[string]interface{}
	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, fmt.Errorf("解析工作流模板失败 %s: %w", path, err)
	}
	return workflow, nil
}

// SetPrompt 替换工作流中正向提示词节点的文本
// 按 _meta.title 含 Positive 的 CLIPTextEncode 节点定位
func SetPrompt(workflow map[string]interface{}, promptText string) map[string]interface{} {
	raw, err := json.Marshal(workflow)
	if err != nil {
		return workflow
	}
	var wf map[string]interface{}
	if err := json.Unmarshal(raw, &wf); err != nil {
		return workflow
	}

	for _, nodeVal := range wf {
		node, ok := nodeVal.(map[string]interface{})
		if !ok {
			continue
		}
		classType, _ := node["class_type"].(string)
		if classType != "CLIPTextEncode" {
			continue
		}
		meta, _ := node["_meta"].(map[string]interface{})
		title, _ := meta["title"].(string)
		if !strings.Contains(title, "Positive") {
			continue
		}
		if inputs, ok := node["inputs"].(map[string]interface{}); ok {
			inputs["text"] = promptText
			return wf
		}
	}
	log.Warn().Msg("未找到正向提示节点，跳过替换")
	return wf
}
