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
	"strconv"

	"github.com/valyala/bytebufferpool"
)

// AppendCommand 将单条命令编码为 Array-of-BulkStrings 追加至 dst
//
// *<n>\r\n 后跟每个参数的 $<L>\r\n<bytes>\r\n
// 长度前缀使用 strconv.AppendInt 渲染 栈上 scratch 即可容纳 20 位十进制
func AppendCommand(dst []byte, args ...[]byte) []byte {
	dst = append(dst, '*')
	dst = strconv.AppendInt(dst, int64(len(args)), 10)
	dst = append(dst, '\r', '\n')
	for _, arg := range args {
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(arg)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, arg...)
		dst = append(dst, '\r', '\n')
	}
	return dst
}

// EncodeCommands 将一批命令合并编码为单个连续字节流
//
// pipeline 的全部命令必须落在同一个缓冲区内 一次写出
// 逐条写 socket 会让吞吐退化为 RTT 上限
func EncodeCommands(buf *bytebufferpool.ByteBuffer, cmds []Command) {
	for _, cmd := range cmds {
		buf.B = AppendCommand(buf.B, cmd...)
	}
}
