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

package resp

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

func newError(format string, args ...any) error {
	format = "resp: " + format
	return errors.Errorf(format, args...)
}

var (
	// ErrProtocol RESP 字节流无法解析 属于致命错误
	//
	// 帧边界一旦失配就无法重新同步 连接必须废弃
	ErrProtocol = newError("protocol violation")

	// ErrIncomplete 当前数据不足以构成一条完整回复
	//
	// 解析状态已被保留 喂入更多数据后重试即可
	ErrIncomplete = newError("incomplete frame")
)

// protoError 构造携带上下文的协议错误 可被 errors.Is(err, ErrProtocol) 命中
func protoError(format string, args ...any) error {
	return errors.WithMessagef(ErrProtocol, format, args...)
}

// DataType 定义 RESP 多种数据类型
type DataType string

const (
	// SimpleStrings RESP 单行字符串
	//
	// "+OK\r\n"
	SimpleStrings DataType = "SimpleStrings"

	// Errors RESP 错误
	//
	// "-Error message\r\n"
	Errors DataType = "Errors"

	// Integers RESP 整数
	//
	// ":1000\r\n"
	Integers DataType = "Integers"

	// BulkStrings RESP 多行字符串
	//
	// "$6\r\nfoobar\r\n"
	BulkStrings DataType = "BulkStrings"

	// Array RESP 数组
	//
	// "*2\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"
	Array DataType = "Array"
)

// Command 一条命令 即有序非空的参数序列
//
// 所有参数均为不透明的字节串 数值参数由调用方渲染为十进制字节
type Command [][]byte

// NewCommand 以 verb 和若干参数构造 Command
func NewCommand(verb string, args ...[]byte) Command {
	cmd := make(Command, 0, len(args)+1)
	cmd = append(cmd, []byte(verb))
	return append(cmd, args...)
}

// ServerError Redis 服务端返回的错误回复
//
// 错误本身是数据而非异常 是否上抛由调用方决定
type ServerError string

// Error 实现 error 接口
func (e ServerError) Error() string {
	return fmt.Sprintf("redis: server error %q", string(e))
}

// Kind 返回首个单词 即错误类别 如 ERR / WRONGTYPE / MOVED / NOSCRIPT
func (e ServerError) Kind() string {
	s := string(e)
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return s[:i]
		}
	}
	return s
}

// Reply 一条完整的 RESP 回复 支持任意嵌套
//
// Null 仅对 BulkStrings ($-1) 和 Array (*-1) 生效
type Reply struct {
	Type  DataType
	Null  bool
	Data  []byte
	Num   int64
	Elems []Reply
}

// IsNull 返回是否为 null bulk 或 null array
func (r Reply) IsNull() bool {
	return r.Null
}

// OK 返回是否为 "+OK"
func (r Reply) OK() bool {
	return r.Type == SimpleStrings && string(r.Data) == "OK"
}

// Bytes 返回字节内容 仅对字符串类回复有意义
func (r Reply) Bytes() []byte {
	return r.Data
}

// Text 返回字符串内容
func (r Reply) Text() string {
	if r.Type == Integers {
		return strconv.FormatInt(r.Num, 10)
	}
	return string(r.Data)
}

// Int64 返回整数内容
func (r Reply) Int64() int64 {
	return r.Num
}

// Err 错误回复返回 ServerError 其余类型返回 nil
func (r Reply) Err() error {
	if r.Type != Errors {
		return nil
	}
	return ServerError(r.Data)
}
