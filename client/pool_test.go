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
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestPool(t *testing.T, srv *stubServer, size int) *Pool {
	pool := NewPool(PoolConfig{
		Size: size,
		Conn: Config{Host: srv.host(), Port: srv.port()},
	})
	t.Cleanup(func() { pool.Drain() })
	return pool
}

func TestPoolAcquireRelease(t *testing.T) {
	srv := newStubServer(t)
	pool := newTestPool(t, srv, 2)
	ctx := context.Background()

	pc, err := pool.Acquire(ctx)
	assert.NoError(t, err)
	assert.NoError(t, pc.Ping(ctx))
	pc.Release()

	// 健康连接回到空闲队列并被复用
	pc2, err := pool.Acquire(ctx)
	assert.NoError(t, err)
	pc2.Release()
	assert.Equal(t, 1, srv.connections())

	stats := pool.Stats()
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Idle)
}

func TestPoolReleaseOnce(t *testing.T) {
	srv := newStubServer(t)
	pool := newTestPool(t, srv, 1)

	pc, err := pool.Acquire(context.Background())
	assert.NoError(t, err)
	pc.Release()
	pc.Release()

	assert.Equal(t, 1, pool.Stats().Idle)
}

// TestPoolBounded 池容量为 2 时 8 个并发调用方全部完成
// 且服务端任意时刻的连接数不超过 2
func TestPoolBounded(t *testing.T) {
	srv := newStubServer(t)
	pool := newTestPool(t, srv, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := context.Background()

			pc, err := pool.Acquire(ctx)
			assert.NoError(t, err)
			defer pc.Release()

			key := "pool:" + strconv.Itoa(i)
			rep, err := pc.Do(ctx, "SET", key, i)
			assert.NoError(t, err)
			assert.True(t, rep.OK())

			rep, err = pc.Do(ctx, "GET", key)
			assert.NoError(t, err)
			assert.Equal(t, strconv.Itoa(i), rep.Text())
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, srv.peak(), 2)
	assert.LessOrEqual(t, pool.Stats().Created, 2)
}

// TestPoolFIFO 先排队的等待者先拿到连接
func TestPoolFIFO(t *testing.T) {
	srv := newStubServer(t)
	pool := newTestPool(t, srv, 1)
	ctx := context.Background()

	holder, err := pool.Acquire(ctx)
	assert.NoError(t, err)

	var mut sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pc, err := pool.Acquire(ctx)
			assert.NoError(t, err)
			mut.Lock()
			order = append(order, i)
			mut.Unlock()
			time.Sleep(10 * time.Millisecond)
			pc.Release()
		}(i)

		// 保证入队顺序与 i 一致
		assert.Eventually(t, func() bool {
			return pool.Stats().Waiters == i+1
		}, time.Second, time.Millisecond)
	}

	holder.Release()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

// TestPoolAcquireCancel 取消排队中的等待者 不泄漏连接
func TestPoolAcquireCancel(t *testing.T) {
	srv := newStubServer(t)
	pool := newTestPool(t, srv, 1)
	ctx := context.Background()

	holder, err := pool.Acquire(ctx)
	assert.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(cctx)
		errCh <- err
	}()

	assert.Eventually(t, func() bool {
		return pool.Stats().Waiters == 1
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 0, pool.Stats().Waiters)

	// 等待者已出队 归还的连接应进入空闲队列
	holder.Release()
	stats := pool.Stats()
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Idle)
}

// TestPoolPoisonedNotReused 中毒连接销毁后 下一次获取铸造新连接
func TestPoolPoisonedNotReused(t *testing.T) {
	srv := newStubServer(t)
	pool := newTestPool(t, srv, 1)
	ctx := context.Background()

	pc, err := pool.Acquire(ctx)
	assert.NoError(t, err)

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = pc.Do(cctx, "BLOCK", 300)
	assert.Error(t, err)
	assert.True(t, pc.Poisoned())
	pc.Release()

	assert.Equal(t, 0, pool.Stats().Created)

	pc2, err := pool.Acquire(ctx)
	assert.NoError(t, err)
	assert.NoError(t, pc2.Ping(ctx))
	pc2.Release()
	assert.Equal(t, 2, srv.connections())
}

func TestPoolDrain(t *testing.T) {
	srv := newStubServer(t)
	pool := newTestPool(t, srv, 1)
	ctx := context.Background()

	holder, err := pool.Acquire(ctx)
	assert.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(ctx)
		errCh <- err
	}()
	assert.Eventually(t, func() bool {
		return pool.Stats().Waiters == 1
	}, time.Second, time.Millisecond)

	drained := make(chan error, 1)
	go func() {
		drained <- pool.Drain()
	}()

	// 等待者立刻以 ErrPoolClosed 唤醒 Drain 等待外借连接归还
	assert.ErrorIs(t, <-errCh, ErrPoolClosed)
	select {
	case <-drained:
		t.Fatal("drain returned before busy conn released")
	case <-time.After(50 * time.Millisecond):
	}

	holder.Release()
	assert.NoError(t, <-drained)

	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)

	// Drain 幂等
	assert.NoError(t, pool.Drain())
}
