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
	"bytes"

	"github.com/packetd/redisq/internal/zerocopy"
)

var charCRLF = []byte("\r\n")

// register 中间状态寄存器
//
// RESP 支持嵌套数组 而 TCP 层不保证一次 Read 能拿到完整回复
// 解析可能在任意字节处中断 参考函数栈的设计 每进入一层数组便入栈一个
// 寄存器 记录期待的元素个数和已经完成的元素 下一轮喂入数据时从断点继续
// 而无需回溯重新解析
type register struct {
	n     int
	elems []Reply
}

// Decoder 增量式 RESP 回复解析器
//
// Decoder 直接在读缓冲区的活跃区上解析 不做帧重组拷贝
// off 记录当前帧内已消费的字节数(相对活跃区起始) 仅当一条回复
// 完整产出时才推进缓冲区游标 因此缓冲区的前移/扩容不会破坏断点
//
// 产出的 Reply 持有独立拷贝的字节内容 调用方可在任意时机压缩缓冲区
type Decoder struct {
	stack []register
	off   int
}

// NewDecoder 创建并返回 Decoder 实例
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Reset 丢弃全部断点状态
func (d *Decoder) Reset() {
	d.stack = d.stack[:0]
	d.off = 0
}

// TryParseOne 尝试从 buf 的活跃区解析一条完整回复
//
// 数据不足返回 ErrIncomplete 断点保留 喂入更多数据后重试
// 成功时消费对应的缓冲区字节 协议错误对连接而言是致命的
// 此时 Decoder 状态不再可信 调用方应废弃连接
func (d *Decoder) TryParseOne(buf *zerocopy.Buffer) (Reply, error) {
	for {
		rep, pushed, err := d.decodeOne(buf.Bytes())
		if err != nil {
			return Reply{}, err
		}
		if pushed {
			// 数组头已入栈 继续解析其元素
			continue
		}

		rep, done := d.fold(rep)
		if done {
			buf.Advance(d.off)
			d.off = 0
			return rep, nil
		}
	}
}

// fold 将解析完的元素归并至栈顶数组 返回是否产出了顶层回复
func (d *Decoder) fold(rep Reply) (Reply, bool) {
	for len(d.stack) > 0 {
		top := &d.stack[len(d.stack)-1]
		top.elems = append(top.elems, rep)
		if len(top.elems) < top.n {
			return Reply{}, false
		}
		rep = Reply{Type: Array, Elems: top.elems}
		d.stack = d.stack[:len(d.stack)-1]
	}
	return rep, true
}

// decodeOne 解析 off 处的下一个元素
//
// 返回值 pushed 表示遇到了非空数组头 已入栈等待元素
func (d *Decoder) decodeOne(data []byte) (Reply, bool, error) {
	line, err := d.peekLine(data)
	if err != nil {
		return Reply{}, false, err
	}

	body := line[1:]
	switch line[0] {
	case '+':
		d.off += len(line) + 2
		return Reply{Type: SimpleStrings, Data: cloneBytes(body)}, false, nil

	case '-':
		d.off += len(line) + 2
		return Reply{Type: Errors, Data: cloneBytes(body)}, false, nil

	case ':':
		num, ok := parseInt(body)
		if !ok {
			return Reply{}, false, protoError("invalid integer %q", body)
		}
		d.off += len(line) + 2
		return Reply{Type: Integers, Num: num}, false, nil

	case '$':
		return d.decodeBulk(data, line)

	case '*':
		n, ok := parseInt(body)
		if !ok {
			return Reply{}, false, protoError("invalid array length %q", body)
		}
		switch {
		case n == -1:
			d.off += len(line) + 2
			return Reply{Type: Array, Null: true}, false, nil
		case n < -1:
			return Reply{}, false, protoError("negative array length %d", n)
		case n == 0:
			d.off += len(line) + 2
			return Reply{Type: Array, Elems: []Reply{}}, false, nil
		}
		d.off += len(line) + 2
		d.stack = append(d.stack, register{n: int(n), elems: make([]Reply, 0, n)})
		return Reply{}, true, nil
	}
	return Reply{}, false, protoError("invalid tag %q", line[0])
}

// decodeBulk 解析 BulkStrings
//
// 在长度行和正文(含结尾 CRLF)全部就位前不消费任何字节
// 断点恢复只需重扫一次长度行 代价恒定
func (d *Decoder) decodeBulk(data []byte, line []byte) (Reply, bool, error) {
	n, ok := parseInt(line[1:])
	if !ok {
		return Reply{}, false, protoError("invalid bulk length %q", line[1:])
	}
	switch {
	case n == -1:
		d.off += len(line) + 2
		return Reply{Type: BulkStrings, Null: true}, false, nil
	case n < -1:
		return Reply{}, false, protoError("negative bulk length %d", n)
	}

	start := d.off + len(line) + 2
	end := start + int(n)
	if end+2 > len(data) {
		return Reply{}, false, ErrIncomplete
	}
	if !bytes.Equal(data[end:end+2], charCRLF) {
		// 声明长度与实际正文不符 帧边界已失配
		return Reply{}, false, protoError("bulk of %d bytes not terminated by CRLF", n)
	}
	d.off = end + 2
	return Reply{Type: BulkStrings, Data: cloneBytes(data[start:end])}, false, nil
}

// peekLine 扫描 off 处以 CRLF 结尾的一行 不含结尾符
//
// CRLF 本身也可能被拆分在两次喂入之间 bytes.Index 对此天然正确
func (d *Decoder) peekLine(data []byte) ([]byte, error) {
	idx := bytes.Index(data[d.off:], charCRLF)
	if idx < 0 {
		return nil, ErrIncomplete
	}
	if idx == 0 {
		return nil, protoError("empty line")
	}
	return data[d.off : d.off+idx], nil
}

// parseInt 解析严格十进制整数 允许负号前缀
func parseInt(b []byte) (int64, bool) {
	if len(b) == 0 {
		return 0, false
	}

	neg := false
	if b[0] == '-' {
		neg = true
		b = b[1:]
		if len(b) == 0 {
			return 0, false
		}
	}

	var v int64
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + int64(c-'0')
	}
	if neg {
		v = -v
	}
	return v, true
}

// cloneBytes 拷贝出缓冲区内容
//
// 回复的生命周期长于缓冲区活跃区 前移/扩容会挪动底层字节
func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return []byte{}
	}
	return append([]byte(nil), b...)
}
