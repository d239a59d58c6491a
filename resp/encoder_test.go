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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/bytebufferpool"

	"github.com/packetd/redisq/common"
	"github.com/packetd/redisq/internal/zerocopy"
)

func TestAppendCommand(t *testing.T) {
	tests := []struct {
		name string
		args [][]byte
		want string
	}{
		{
			name: "SET",
			args: [][]byte{[]byte("SET"), []byte("key1"), []byte("value")},
			want: "*3\r\n$3\r\nSET\r\n$4\r\nkey1\r\n$5\r\nvalue\r\n",
		},
		{
			name: "GET",
			args: [][]byte{[]byte("GET"), []byte("key1")},
			want: "*2\r\n$3\r\nGET\r\n$4\r\nkey1\r\n",
		},
		{
			name: "empty arg",
			args: [][]byte{[]byte("SET"), []byte("k"), []byte("")},
			want: "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$0\r\n\r\n",
		},
		{
			name: "binary arg with CRLF",
			args: [][]byte{[]byte("SET"), []byte("k"), []byte("a\r\nb\x00c")},
			want: "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$6\r\na\r\nb\x00c\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AppendCommand(nil, tt.args...)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

// TestEncodeCommands 校验整个批次落在单个连续缓冲区
func TestEncodeCommands(t *testing.T) {
	cmds := []Command{
		NewCommand("MULTI"),
		NewCommand("INCR", []byte("counter")),
		NewCommand("EXEC"),
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	EncodeCommands(buf, cmds)
	want := "*1\r\n$5\r\nMULTI\r\n" +
		"*2\r\n$4\r\nINCR\r\n$7\r\ncounter\r\n" +
		"*1\r\n$4\r\nEXEC\r\n"
	assert.Equal(t, want, buf.String())
}

// TestEncodeDecodeRoundTrip 编码后的命令流可被解码器原样还原
func TestEncodeDecodeRoundTrip(t *testing.T) {
	cmds := []Command{
		NewCommand("SET", []byte("hello"), []byte("world")),
		NewCommand("GET", []byte("hello")),
		NewCommand("SET", []byte("bin"), []byte("a\r\nb")),
		NewCommand("ECHO", []byte(strings.Repeat("x", 8192))),
	}

	pool := bytebufferpool.Get()
	defer bytebufferpool.Put(pool)
	EncodeCommands(pool, cmds)

	buf := zerocopy.NewBuffer(common.ReadBufferSize, common.ReadBufferMaxSize)
	assert.NoError(t, buf.Write(pool.B))

	d := NewDecoder()
	for _, cmd := range cmds {
		got, err := d.TryParseOne(buf)
		assert.NoError(t, err)
		assert.Equal(t, Array, got.Type)
		assert.Equal(t, len(cmd), len(got.Elems))
		for i, arg := range cmd {
			assert.Equal(t, BulkStrings, got.Elems[i].Type)
			assert.Equal(t, []byte(arg), got.Elems[i].Data)
		}
	}
	assert.Equal(t, 0, buf.Len())
}

func BenchmarkAppendCommand(b *testing.B) {
	b.ReportAllocs()
	args := [][]byte{[]byte("SET"), []byte("key1"), []byte("value1")}
	dst := make([]byte, 0, 1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dst = AppendCommand(dst[:0], args...)
	}
}
