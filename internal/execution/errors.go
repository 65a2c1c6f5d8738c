package execution

import (
	"errors"
	"fmt"
)

// ErrQueueFull 工作池队列已满，任务未被接收。
var ErrQueueFull = errors.New("executor queue full")

// APIError 交易所返回的结构化拒绝（4xx + {code,msg}）。
type APIError struct {
	Status int    // HTTP 状态码
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange rejected request: status=%d code=%d msg=%s", e.Status, e.Code, e.Msg)
}

// AsAPIError 提取 *APIError。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// classify 仅用于日志/指标：rejected（交易所拒绝）或 transport（网络/未知）。
func classify(err error) string {
	if err == nil {
		return ResultOK
	}
	if _, ok := AsAPIError(err); ok {
		return ResultRejected
	}
	return ResultTransport
}
