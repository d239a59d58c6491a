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

package zerocopy

import (
	"io"

	"github.com/pkg/errors"

	"github.com/packetd/redisq/common"
)

// ErrLimitExceeded 缓冲区长度已达上限
var ErrLimitExceeded = errors.New("zerocopy: buffer limit exceeded")

// Buffer 面向单条连接的读缓冲区
//
// 底层存储配合一对读写游标 活跃区为 b[r:w]
//
//	| consumed | live region | spare |
//	0          r             w       len(b)
//
// 写入空间不足时按 2 倍几何增长 直到 max 上限
// 当活跃区占比低于一半时优先整体前移(memmove)而非扩容
// 线性增长或按回复重新分配都会破坏 pipeline 场景的吞吐
//
// 所有读取操作返回的都是底层存储的切片 不产生拷贝
// 前移和扩容只发生在写入路径 因此切片在下一次写入前有效
// 如需跨写入持有 请自行拷贝
type Buffer struct {
	b   []byte
	r   int
	w   int
	max int
}

// NewBuffer 创建并返回 Buffer 实例
func NewBuffer(size, max int) *Buffer {
	if size <= 0 {
		size = common.ReadBufferSize
	}
	if max < size {
		max = size
	}
	return &Buffer{b: make([]byte, size), max: max}
}

// Bytes 返回活跃区切片
func (buf *Buffer) Bytes() []byte {
	return buf.b[buf.r:buf.w]
}

// Len 返回活跃区长度
func (buf *Buffer) Len() int {
	return buf.w - buf.r
}

// Cap 返回底层存储长度
func (buf *Buffer) Cap() int {
	return len(buf.b)
}

// Advance 消费活跃区前 n 字节
//
// 活跃区清空时读写游标一并归零 即空缓冲区的压缩是免费的
func (buf *Buffer) Advance(n int) {
	buf.r += n
	if buf.r >= buf.w {
		buf.r, buf.w = 0, 0
	}
}

// Reset 清空缓冲区 保留底层存储
func (buf *Buffer) Reset() {
	buf.r, buf.w = 0, 0
}

// ReadFrom 从 r 读取一次数据并推进写游标
//
// 读取前保证尾部至少有 common.ReadBlockSize 字节空闲空间
// 返回本次读取的字节数 r 的错误原样透传
func (buf *Buffer) ReadFrom(r io.Reader) (int, error) {
	if err := buf.ensure(common.ReadBlockSize); err != nil {
		return 0, err
	}
	n, err := r.Read(buf.b[buf.w:])
	buf.w += n
	return n, err
}

// Write 追加 p 至活跃区尾部
func (buf *Buffer) Write(p []byte) error {
	if err := buf.ensure(len(p)); err != nil {
		return err
	}
	buf.w += copy(buf.b[buf.w:], p)
	return nil
}

// ensure 保证尾部至少有 n 字节空闲空间
func (buf *Buffer) ensure(n int) error {
	if len(buf.b)-buf.w >= n {
		return nil
	}

	live := buf.w - buf.r
	if buf.r > 0 && live <= len(buf.b)/2 && len(buf.b)-live >= n {
		copy(buf.b, buf.b[buf.r:buf.w])
		buf.r, buf.w = 0, live
		return nil
	}

	size := len(buf.b)
	for size < live+n {
		size *= 2
	}
	if size > buf.max {
		if live+n > buf.max {
			return errors.WithMessagef(ErrLimitExceeded, "want %d bytes, max %d", live+n, buf.max)
		}
		size = buf.max
	}

	nb := make([]byte, size)
	copy(nb, buf.b[buf.r:buf.w])
	buf.b, buf.r, buf.w = nb, 0, live
	return nil
}
