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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/packetd/redisq/resp"
)

func dialTestConn(t *testing.T, cfg Config) *Conn {
	conn, err := Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConnSetGet(t *testing.T) {
	srv := newStubServer(t)
	conn := dialTestConn(t, Config{Host: srv.host(), Port: srv.port()})
	ctx := context.Background()

	rep, err := conn.Do(ctx, "SET", "hello", "world")
	assert.NoError(t, err)
	assert.True(t, rep.OK())

	rep, err = conn.Do(ctx, "GET", "hello")
	assert.NoError(t, err)
	assert.Equal(t, resp.BulkStrings, rep.Type)
	assert.Equal(t, []byte("world"), rep.Bytes())
}

func TestConnGetMissing(t *testing.T) {
	srv := newStubServer(t)
	conn := dialTestConn(t, Config{Host: srv.host(), Port: srv.port()})

	rep, err := conn.Do(context.Background(), "GET", "nonexistent")
	assert.NoError(t, err)
	assert.Equal(t, resp.BulkStrings, rep.Type)
	assert.True(t, rep.IsNull())
}

func TestConnListOps(t *testing.T) {
	srv := newStubServer(t)
	conn := dialTestConn(t, Config{Host: srv.host(), Port: srv.port()})
	ctx := context.Background()

	rep, err := conn.Do(ctx, "LPUSH", "list", "a", "b", "c")
	assert.NoError(t, err)
	assert.Equal(t, int64(3), rep.Int64())

	rep, err = conn.Do(ctx, "LRANGE", "list", 0, -1)
	assert.NoError(t, err)
	assert.Equal(t, resp.Array, rep.Type)
	want := []string{"c", "b", "a"}
	assert.Equal(t, len(want), len(rep.Elems))
	for i, elem := range rep.Elems {
		assert.Equal(t, want[i], elem.Text())
	}
}

func TestConnServerErrorIsData(t *testing.T) {
	srv := newStubServer(t)
	conn := dialTestConn(t, Config{Host: srv.host(), Port: srv.port()})

	// 服务端错误作为数据返回 不中毒连接
	rep, err := conn.Do(context.Background(), "NOSUCH")
	assert.NoError(t, err)
	assert.Equal(t, resp.Errors, rep.Type)
	assert.Equal(t, "ERR", resp.ServerError(rep.Data).Kind())
	assert.False(t, conn.Poisoned())

	assert.NoError(t, conn.Ping(context.Background()))
}

func TestConnUnixSocket(t *testing.T) {
	srv := newStubServerUnix(t)
	conn := dialTestConn(t, Config{UnixPath: srv.addr()})

	assert.NoError(t, conn.Ping(context.Background()))
}

func TestConnAuthSelect(t *testing.T) {
	srv := newStubServer(t)
	srv.setPassword("hunter2")

	conn := dialTestConn(t, Config{
		Host:     srv.host(),
		Port:     srv.port(),
		Password: "hunter2",
		DB:       3,
	})
	assert.NoError(t, conn.Ping(context.Background()))

	got := srv.gotCommands()
	assert.Equal(t, []string{"AUTH", "hunter2"}, got[0])
	assert.Equal(t, []string{"SELECT", "3"}, got[1])
}

func TestConnAuthRejected(t *testing.T) {
	srv := newStubServer(t)
	srv.setPassword("hunter2")

	_, err := Dial(context.Background(), Config{
		Host:     srv.host(),
		Port:     srv.port(),
		Password: "wrong",
	})
	var connErr *ConnectError
	assert.ErrorAs(t, err, &connErr)
}

func TestConnDialRefused(t *testing.T) {
	srv := newStubServer(t)
	port := srv.port()
	srv.close()

	_, err := Dial(context.Background(), Config{Host: "127.0.0.1", Port: port})
	var connErr *ConnectError
	assert.ErrorAs(t, err, &connErr)
}

func TestConnSingleFlight(t *testing.T) {
	srv := newStubServer(t)
	conn := dialTestConn(t, Config{Host: srv.host(), Port: srv.port()})

	p1, err := conn.Pipeline()
	assert.NoError(t, err)

	_, err = conn.Pipeline()
	assert.ErrorIs(t, err, ErrConnBusy)

	p1.Close()
	p2, err := conn.Pipeline()
	assert.NoError(t, err)
	p2.Close()
}

func TestConnClosed(t *testing.T) {
	srv := newStubServer(t)
	conn := dialTestConn(t, Config{Host: srv.host(), Port: srv.port()})

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	_, err := conn.Do(context.Background(), "PING")
	assert.ErrorIs(t, err, ErrClosed)
}

// TestConnCancelPoisons 取消在途 pipeline 必须废弃连接
//
// 已写出的前缀命令无法撤回 服务端仍会为其产生回复
func TestConnCancelPoisons(t *testing.T) {
	srv := newStubServer(t)
	conn := dialTestConn(t, Config{Host: srv.host(), Port: srv.port()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := conn.Do(ctx, "BLOCK", 500)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, conn.Poisoned())

	_, err = conn.Do(context.Background(), "PING")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConnTransportError(t *testing.T) {
	srv := newStubServer(t)
	conn := dialTestConn(t, Config{Host: srv.host(), Port: srv.port()})
	srv.close()

	// 对端关闭后首次 I/O 失败 连接中毒
	assert.Eventually(t, func() bool {
		_, err := conn.Do(context.Background(), "PING")
		return err != nil
	}, time.Second, 10*time.Millisecond)
	assert.True(t, conn.Closed())
}

func TestConnStats(t *testing.T) {
	srv := newStubServer(t)
	conn := dialTestConn(t, Config{Host: srv.host(), Port: srv.port()})

	_, err := conn.Do(context.Background(), "SET", "k", "v")
	assert.NoError(t, err)

	stats := conn.Stats()
	assert.Equal(t, uint64(1), stats.Commands)
	assert.Greater(t, stats.BytesWritten, uint64(0))
	assert.Greater(t, stats.BytesRead, uint64(0))
}
