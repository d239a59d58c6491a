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
	"container/list"
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/packetd/redisq/internal/fasttime"
	"github.com/packetd/redisq/logger"
)

// token 唤醒等待者的凭据
//
// conn 非空表示直接移交一条健康连接 否则表示授予铸造额度
// 由等待者自行拨号 (额度已计入 created)
type token struct {
	conn *Conn
	err  error
}

type waiter struct {
	ch chan token
}

// PoolStats 连接池即时状态
type PoolStats struct {
	Created int
	Idle    int
	Waiters int
}

// Pool 有界连接池
//
// 容量内按需铸造连接 满载后调用方进入严格 FIFO 队列等待
// LIFO 或偷取在饱和负载下吞吐无异 但 FIFO 的最坏等待有界
// 饥饿性质也更容易推理
//
// 不变量: created ≤ Size 且 created = |idle| + 外借数量
// idle 队列与等待队列仅在 Acquire / put / refund / Drain 中变更 全部持锁
type Pool struct {
	cfg PoolConfig

	mut     sync.Mutex
	cond    *sync.Cond
	idle    []*Conn
	created int
	waiters *list.List
	closed  bool
}

// NewPool 创建并返回连接池 连接是惰性铸造的
func NewPool(cfg PoolConfig) *Pool {
	p := &Pool{
		cfg:     cfg.withDefaults(),
		waiters: list.New(),
	}
	p.cond = sync.NewCond(&p.mut)
	return p
}

// PooledConn 池化连接句柄
//
// 作用域结束时调用 Release 归还连接 Release 仅首次调用生效
// 归还而非销毁 连接本身始终归池所有
type PooledConn struct {
	*Conn
	pool *Pool
	once sync.Once
}

// Release 将连接归还给池
//
// 中毒或已关闭的连接不会回到空闲队列 而是被销毁并释放铸造额度
func (pc *PooledConn) Release() {
	pc.once.Do(func() {
		poolAcquiredConns.Dec()
		pc.pool.put(pc.Conn)
	})
}

// Acquire 获取一条连接
//
// 空闲连接直接复用 容量未满则铸造新连接 否则排队等待
// ctx 取消会将等待者从队列中移除 已投递的凭据会被重新分发
// 绝不泄漏连接或铸造额度
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	p.mut.Lock()
	if p.closed {
		p.mut.Unlock()
		return nil, ErrPoolClosed
	}

	p.evictIdleLocked()
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mut.Unlock()
		poolAcquiredConns.Inc()
		return &PooledConn{Conn: conn, pool: p}, nil
	}
	if p.created < p.cfg.Size {
		p.created++
		p.mut.Unlock()
		return p.mint(ctx)
	}

	w := &waiter{ch: make(chan token, 1)}
	elem := p.waiters.PushBack(w)
	p.mut.Unlock()
	poolWaiters.Inc()

	select {
	case tk := <-w.ch:
		poolWaiters.Dec()
		if tk.err != nil {
			return nil, tk.err
		}
		if tk.conn != nil {
			poolAcquiredConns.Inc()
			return &PooledConn{Conn: tk.conn, pool: p}, nil
		}
		return p.mint(ctx)

	case <-ctx.Done():
		poolWaiters.Dec()
		p.mut.Lock()
		var removed bool
		for e := p.waiters.Front(); e != nil; e = e.Next() {
			if e == elem {
				p.waiters.Remove(e)
				removed = true
				break
			}
		}
		p.mut.Unlock()
		if !removed {
			// 凭据已在途 转交给下一位 不可丢失
			p.redeliver(<-w.ch)
		}
		return nil, ctx.Err()
	}
}

// mint 铸造一条新连接 调用前额度已计入 created
func (p *Pool) mint(ctx context.Context) (*PooledConn, error) {
	conn, err := Dial(ctx, p.cfg.Conn)
	if err != nil {
		p.refund()
		return nil, err
	}
	poolAcquiredConns.Inc()
	return &PooledConn{Conn: conn, pool: p}, nil
}

// refund 拨号失败时退还铸造额度 额度优先移交队首等待者
func (p *Pool) refund() {
	p.mut.Lock()
	p.created--
	if p.closed {
		p.cond.Broadcast()
		p.mut.Unlock()
		return
	}
	w := p.popWaiterLocked()
	if w != nil {
		p.created++
	}
	p.mut.Unlock()

	if w != nil {
		w.ch <- token{}
	}
}

// redeliver 重新分发取消竞态下收到的凭据
func (p *Pool) redeliver(tk token) {
	if tk.err != nil {
		return
	}
	if tk.conn != nil {
		p.put(tk.conn)
		return
	}
	p.refund()
}

// put 归还连接
//
// 健康连接优先直接移交队首等待者 保证 FIFO 公平性
// 中毒连接就地销毁并退还额度 让后续 Acquire 能铸造新连接
func (p *Pool) put(conn *Conn) {
	healthy := !conn.Poisoned() && !conn.Closed()

	p.mut.Lock()
	if p.closed {
		p.created--
		p.cond.Broadcast()
		p.mut.Unlock()
		conn.Close()
		return
	}

	if !healthy {
		p.created--
		w := p.popWaiterLocked()
		if w != nil {
			p.created++
		}
		p.mut.Unlock()

		conn.Close()
		if w != nil {
			w.ch <- token{}
		}
		return
	}

	w := p.popWaiterLocked()
	if w == nil {
		p.idle = append(p.idle, conn)
	}
	p.mut.Unlock()

	if w != nil {
		w.ch <- token{conn: conn}
	}
}

func (p *Pool) popWaiterLocked() *waiter {
	elem := p.waiters.Front()
	if elem == nil {
		return nil
	}
	p.waiters.Remove(elem)
	return elem.Value.(*waiter)
}

// evictIdleLocked 淘汰闲置超时的连接
func (p *Pool) evictIdleLocked() {
	if p.cfg.IdleTimeout <= 0 {
		return
	}

	deadline := fasttime.UnixTimestamp() - int64(p.cfg.IdleTimeout.Seconds())
	kept := p.idle[:0]
	for _, conn := range p.idle {
		if conn.ActiveAt().Unix() < deadline {
			p.created--
			conn.Close()
			continue
		}
		kept = append(kept, conn)
	}
	p.idle = kept
}

// Stats 返回连接池即时状态
func (p *Pool) Stats() PoolStats {
	p.mut.Lock()
	defer p.mut.Unlock()
	return PoolStats{
		Created: p.created,
		Idle:    len(p.idle),
		Waiters: p.waiters.Len(),
	}
}

// Drain 关闭连接池 可重复调用
//
// 全部等待者以 ErrPoolClosed 唤醒 随后等待外借连接归还
// 最后关闭所有连接 关闭错误聚合返回
func (p *Pool) Drain() error {
	p.mut.Lock()
	if p.closed {
		p.mut.Unlock()
		return nil
	}
	p.closed = true

	for elem := p.waiters.Front(); elem != nil; elem = elem.Next() {
		elem.Value.(*waiter).ch <- token{err: ErrPoolClosed}
	}
	p.waiters.Init()

	// 外借中的连接在 put 时销毁并广播
	for p.created > len(p.idle) {
		p.cond.Wait()
	}

	conns := p.idle
	p.idle = nil
	p.created = 0
	p.mut.Unlock()

	var errs *multierror.Error
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	logger.Infof("pool drained, %d conns closed", len(conns))
	return errs.ErrorOrNil()
}
