// Package transport defines the HTTP capability the cache engine calls
// through, so a real client or a deterministic test double can be injected
// interchangeably.
package transport

import (
	"fmt"
	"net/http"
)

// Client 是引擎依赖的最小传输能力：发出一个请求并返回响应。
// *http.Client 天然满足该接口；测试可以注入任何确定性的实现。
// 引擎只发 GET 请求，并自行负责状态码分级（见 CheckStatus）。
type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(*http.Request) (*http.Response, error)

// Do makes ClientFunc satisfy Client.
func (f ClientFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// StatusError reports a response whose status code falls in 400-599.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d for %s", e.StatusCode, e.URL)
}

// CheckStatus 把 400-599 的响应归类为应用层错误并返回 *StatusError，
// 其余状态（包括 304）不视为错误。调用方在拿到响应后显式调用一次。
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode < 400 || resp.StatusCode > 599 {
		return nil
	}

	err := &StatusError{StatusCode: resp.StatusCode}
	if resp.Request != nil && resp.Request.URL != nil {
		err.URL = resp.Request.URL.String()
	}
	return err
}
