package remotejob

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"pomelo/internal/config"
)

func testRemoteConfig(endpoint string) config.RemoteConfig {
	return config.RemoteConfig{
		Endpoint:     endpoint,
		Timeout:      2 * time.Second,
		MaxRetries:   3,
		RetryDelay:   10 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		MaxWait:      500 * time.Millisecond,
	}
}

func TestSubmit(t *testing.T) {
	Convey("任务提交", t, func() {
		ctx := context.Background()

		Convey("成功提交返回任务 ID", func(cv C) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				cv.So(r.Method, ShouldEqual, http.MethodPost)
				cv.So(r.URL.Path, ShouldEqual, "/prompt")
				json.NewEncoder(w).Encode(map[string]string{"prompt_id": "job-123"})
			}))
			defer srv.Close()

			c := NewClient(testRemoteConfig(srv.URL))
			id, err := c.Submit(ctx, map[string]interface{}{"1": "node"})
			So(err, ShouldBeNil)
			So(id, ShouldEqual, "job-123")
		})

		Convey("响应里只有 task_id 时也能取到", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{"task_id": "task-9"})
			}))
			defer srv.Close()

			c := NewClient(testRemoteConfig(srv.URL))
			id, err := c.Submit(ctx, nil)
			So(err, ShouldBeNil)
			So(id, ShouldEqual, "task-9")
		})

		Convey("网络层失败最多重试三次", func() {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				if n < 3 {
					// 挂断连接模拟网络故障
					hj, _ := w.(http.Hijacker)
					conn, _, _ := hj.Hijack()
					conn.Close()
					return
				}
				json.NewEncoder(w).Encode(map[string]string{"prompt_id": "job-after-retry"})
			}))
			defer srv.Close()

			c := NewClient(testRemoteConfig(srv.URL))
			id, err := c.Submit(ctx, nil)
			So(err, ShouldBeNil)
			So(id, ShouldEqual, "job-after-retry")
			So(atomic.LoadInt32(&calls), ShouldEqual, 3)
		})

		Convey("远端明确拒绝时不重试", func() {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				http.Error(w, "bad workflow", http.StatusBadRequest)
			}))
			defer srv.Close()

			c := NewClient(testRemoteConfig(srv.URL))
			_, err := c.Submit(ctx, nil)

			var jobErr *JobFailedError
			So(errors.As(err, &jobErr), ShouldBeTrue)
			So(atomic.LoadInt32(&calls), ShouldEqual, 1)
		})
	})
}

func historyResponse(jobID, status string, withOutput bool) map[string]interface{} {
	entry := map[string]interface{}{
		"status": map[string]interface{}{
			"status_str": status,
			"completed":  status == "done",
		},
	}
	if withOutput {
		entry["outputs"] = map[string]interface{}{
			"9": map[string]interface{}{
				"images": []map[string]string{
					{"filename": "result.mp4", "subfolder": "videos", "type": "output"},
				},
			},
		}
	}
	return map[string]interface{}{jobID: entry}
}

func TestPoll(t *testing.T) {
	Convey("任务轮询", t, func() {
		ctx := context.Background()

		Convey("任务完成后返回产物定位信息", func(cv C) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				cv.So(r.URL.Path, ShouldEqual, "/history/job-1")
				n := atomic.AddInt32(&calls, 1)
				if n < 3 {
					json.NewEncoder(w).Encode(historyResponse("job-1", "running", false))
					return
				}
				json.NewEncoder(w).Encode(historyResponse("job-1", "done", true))
			}))
			defer srv.Close()

			c := NewClient(testRemoteConfig(srv.URL))
			out, err := c.Poll(ctx, "job-1")
			So(err, ShouldBeNil)
			So(out.Filename, ShouldEqual, "result.mp4")
			So(out.Subfolder, ShouldEqual, "videos")
			So(out.Type, ShouldEqual, "output")
		})

		Convey("排队与运行中状态继续等待", func() {
			statuses := []string{"pending", "in_queue", "running", "done"}
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				idx := int(n) - 1
				if idx >= len(statuses) {
					idx = len(statuses) - 1
				}
				json.NewEncoder(w).Encode(historyResponse("job-2", statuses[idx], statuses[idx] == "done"))
			}))
			defer srv.Close()

			c := NewClient(testRemoteConfig(srv.URL))
			out, err := c.Poll(ctx, "job-2")
			So(err, ShouldBeNil)
			So(out, ShouldNotBeNil)
			So(atomic.LoadInt32(&calls), ShouldBeGreaterThanOrEqualTo, 4)
		})

		Convey("任务失败返回 JobFailedError", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(historyResponse("job-3", "failed", false))
			}))
			defer srv.Close()

			c := NewClient(testRemoteConfig(srv.URL))
			_, err := c.Poll(ctx, "job-3")

			var jobErr *JobFailedError
			So(errors.As(err, &jobErr), ShouldBeTrue)
			So(jobErr.JobID, ShouldEqual, "job-3")
		})

		Convey("超过最大等待时间返回 TimeoutError", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(historyResponse("job-4", "running", false))
			}))
			defer srv.Close()

			cfg := testRemoteConfig(srv.URL)
			cfg.MaxWait = 50 * time.Millisecond
			c := NewClient(cfg)
			_, err := c.Poll(ctx, "job-4")

			var timeoutErr *TimeoutError
			So(errors.As(err, &timeoutErr), ShouldBeTrue)

			var jobErr *JobFailedError
			So(errors.As(err, &jobErr), ShouldBeFalse)
		})
	})
}

func TestDownload(t *testing.T) {
	Convey("产物下载", t, func(cv C) {
		payload := make([]byte, 100*1024) // 大于单块的载荷
		for i := range payload {
			payload[i] = byte(i % 251)
		}

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cv.So(r.URL.Path, ShouldEqual, "/view")
			q := r.URL.Query()
			cv.So(q.Get("filename"), ShouldEqual, "result.mp4")
			cv.So(q.Get("subfolder"), ShouldEqual, "videos")
			cv.So(q.Get("type"), ShouldEqual, "output")
			w.Write(payload)
		}))
		defer srv.Close()

		c := NewClient(testRemoteConfig(srv.URL))
		dest := filepath.Join(t.TempDir(), "result.mp4")
		err := c.Download(context.Background(), &Output{
			Filename:  "result.mp4",
			Subfolder: "videos",
			Type:      "output",
		}, dest)
		So(err, ShouldBeNil)

		data, err := os.ReadFile(dest)
		So(err, ShouldBeNil)
		So(len(data), ShouldEqual, len(payload))
	})
}

func TestSetPrompt(t *testing.T) {
	Convey("工作流提示词替换", t, func() {
		workflow := map[string]interface{}{
			"12": map[string]interface{}{
				"class_type": "CLIPTextEncode",
				"_meta":      map[string]interface{}{"title": "Positive Prompt"},
				"inputs":     map[string]interface{}{"text": "旧提示词"},
			},
			"13": map[string]interface{}{
				"class_type": "CLIPTextEncode",
				"_meta":      map[string]interface{}{"title": "Negative Prompt"},
				"inputs":     map[string]interface{}{"text": "负向"},
			},
		}

		Convey("只替换正向节点", func() {
			got := SetPrompt(workflow, "新的画面描述")
			node := got["12"].(map[string]interface{})
			inputs := node["inputs"].(map[string]interface{})
			So(inputs["text"], ShouldEqual, "新的画面描述")

			neg := got["13"].(map[string]interface{})["inputs"].(map[string]interface{})
			So(neg["text"], ShouldEqual, "负向")
		})

		Convey("不修改原工作流", func() {
			SetPrompt(workflow, "另一个描述")
			orig := workflow["12"].(map[string]interface{})["inputs"].(map[string]interface{})
			So(orig["text"], ShouldEqual, "旧提示词")
		})
	})
}

func TestLoadWorkflow(t *testing.T) {
	Convey("工作流模板加载", t, func() {
		Convey("合法 JSON 正常加载", func() {
			path := filepath.Join(t.TempDir(), "wf.json")
			So(os.WriteFile(path, []byte(`{"1":{"class_type":"KSampler"}}`), 0644), ShouldBeNil)
			wf, err := LoadWorkflow(path)
			So(err, ShouldBeNil)
			So(wf, ShouldContainKey, "1")
		})

		Convey("文件不存在时报错", func() {
			_, err := LoadWorkflow(filepath.Join(t.TempDir(), "missing.json"))
			So(err, ShouldNotBeNil)
		})
	})
}
