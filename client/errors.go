// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/packetd/redisq/resp"
)

func newError(format string, args ...any) error {
	format = "redisq/client: " + format
	return errors.Errorf(format, args...)
}

var (
	// ErrClosed 连接已关闭 不再接受任何操作
	ErrClosed = newError("connection closed")

	// ErrConnBusy 连接上已有一条在途 pipeline
	//
	// RESP2 不支持按命令解复用回复 单连接同一时刻只允许一条 pipeline
	ErrConnBusy = newError("pipeline already in flight")

	// ErrPipelineSealed pipeline 已执行或已关闭 不允许继续追加
	ErrPipelineSealed = newError("pipeline sealed")

	// ErrPoolClosed 连接池已经 Drain
	ErrPoolClosed = newError("pool closed")

	// ErrTxAborted EXEC 返回 null array 即 WATCH 的键被修改 事务被放弃
	//
	// 调用方可以安全地重试整个事务
	ErrTxAborted = newError("transaction aborted")
)

// ConnectError 建连阶段的失败 包括拨号 AUTH 和 SELECT
//
// 调用方可带退避重试
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("redisq/client: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// TransportError 已建立连接上的 I/O 失败
//
// 连接随即转入中毒态 调用方应重建连接
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("redisq/client: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// protoError 构造可被 errors.Is(err, resp.ErrProtocol) 命中的协议错误
func protoError(format string, args ...any) error {
	return errors.WithMessagef(resp.ErrProtocol, format, args...)
}
