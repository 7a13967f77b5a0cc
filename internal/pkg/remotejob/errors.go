package remotejob

import (
	"fmt"
	"time"
)

// TransportError 网络层失败，可重试
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("远端请求失败 (%s): %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// JobFailedError 任务被远端明确判定失败，不可重试
type JobFailedError struct {
	JobID   string
	Status  string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("远端任务失败 (id=%s, status=%s): %s", e.JobID, e.Status, e.Message)
}

// TimeoutError 轮询超过最大等待时间，任务本身未失败
type TimeoutError struct {
	JobID  string
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("等待远端任务超时 (id=%s, waited=%s)", e.JobID, e.Waited)
}
