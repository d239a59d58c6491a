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
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"

	"github.com/packetd/redisq/internal/fasttime"
	"github.com/packetd/redisq/internal/rescue"
	"github.com/packetd/redisq/internal/zerocopy"
	"github.com/packetd/redisq/logger"
	"github.com/packetd/redisq/resp"
)

// Stats 连接累计统计
type Stats struct {
	Commands     uint64
	BytesRead    uint64
	BytesWritten uint64
}

// Conn 持有一个传输端点及其读写缓冲区
//
// Conn 不支持多 goroutine 并发操作 并发场景请通过 Pool 获取各自的连接
// 单连接同一时刻至多一条在途 pipeline 由 busy 标记约束
//
// 状态机: Ready ⇄ Busy → Closed 任何传输/协议错误都会使连接中毒并关闭
// 中毒的连接帧边界不再可信 绝不复用
type Conn struct {
	cfg  Config
	addr string
	nc   net.Conn
	rbuf *zerocopy.Buffer
	dec  *resp.Decoder

	mut      sync.Mutex
	busy     bool
	closed   bool
	poisoned bool

	activeAt     int64
	commands     uint64
	bytesRead    uint64
	bytesWritten uint64
}

// Dial 建立连接并完成握手
//
// TCP 连接禁用 Nagle 算法 pipeline 的批量写本身就做了聚合
// 配置了 Password / DB 时同步发送 AUTH / SELECT 并校验 +OK
// 任一步失败都会关闭传输并返回 *ConnectError
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	network, addr := cfg.endpoint()

	d := net.Dialer{Timeout: cfg.DialTimeout}
	nc, err := d.DialContext(ctx, network, addr)
	if err != nil {
		connectFailedTotal.Inc()
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	if tcp, ok := nc.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}

	c := &Conn{
		cfg:      cfg,
		addr:     addr,
		nc:       nc,
		rbuf:     zerocopy.NewBuffer(cfg.ReadBufferSize, cfg.ReadBufferMaxSize),
		dec:      resp.NewDecoder(),
		activeAt: fasttime.UnixTimestamp(),
	}
	if err := c.handshake(ctx); err != nil {
		connectFailedTotal.Inc()
		c.Close()
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	connectTotal.Inc()
	logger.Debugf("connected to %s", addr)
	return c, nil
}

// handshake 同步执行 AUTH / SELECT
func (c *Conn) handshake(ctx context.Context) error {
	if c.cfg.Password != "" {
		rep, err := c.Do(ctx, "AUTH", c.cfg.Password)
		if err != nil {
			return err
		}
		if !rep.OK() {
			return errors.Errorf("AUTH rejected: %v", replyFailure(rep))
		}
	}
	if c.cfg.DB > 0 {
		rep, err := c.Do(ctx, "SELECT", c.cfg.DB)
		if err != nil {
			return err
		}
		if !rep.OK() {
			return errors.Errorf("SELECT %d rejected: %v", c.cfg.DB, replyFailure(rep))
		}
	}
	return nil
}

// replyFailure 提取非 +OK 回复中的失败原因
func replyFailure(rep resp.Reply) error {
	if err := rep.Err(); err != nil {
		return err
	}
	return errors.Errorf("unexpected reply %q", rep.Text())
}

// Addr 返回连接的目标地址
func (c *Conn) Addr() string {
	return c.addr
}

// Do 执行单条命令 等价于只有一条命令的 pipeline
func (c *Conn) Do(ctx context.Context, verb string, args ...any) (resp.Reply, error) {
	p, err := c.Pipeline()
	if err != nil {
		return resp.Reply{}, err
	}
	defer p.Close()

	if err := p.Command(verb, args...); err != nil {
		return resp.Reply{}, err
	}
	reps, err := p.Execute(ctx)
	if err != nil {
		return resp.Reply{}, err
	}
	return reps[0], nil
}

// Ping 探测连接可用性
func (c *Conn) Ping(ctx context.Context) error {
	rep, err := c.Do(ctx, "PING")
	if err != nil {
		return err
	}
	if rep.Type != resp.SimpleStrings {
		return protoError("unexpected PING reply %q", rep.Text())
	}
	return nil
}

// Pipeline 返回绑定到此连接的 pipeline 并标记连接 Busy
func (c *Conn) Pipeline() (*Pipeline, error) {
	return c.pipeline(false)
}

// TxPipeline 返回事务模式的 pipeline 执行时以 MULTI / EXEC 包裹
func (c *Conn) TxPipeline() (*Pipeline, error) {
	return c.pipeline(true)
}

func (c *Conn) pipeline(tx bool) (*Pipeline, error) {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.busy {
		return nil, ErrConnBusy
	}
	c.busy = true
	return &Pipeline{conn: c, tx: tx}, nil
}

// release 释放 busy 标记 由 Pipeline.Close 调用
func (c *Conn) release() {
	c.mut.Lock()
	c.busy = false
	c.mut.Unlock()
}

// send 将整批命令编码进同一个写缓冲区并一次写出
//
// 写缓冲区取自 bytebufferpool 在 pipeline 之间复用 只清空不释放
func (c *Conn) send(cmds []resp.Command) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	resp.EncodeCommands(buf, cmds)

	n, err := c.nc.Write(buf.B)
	atomic.AddUint64(&c.bytesWritten, uint64(n))
	bytesWrittenTotal.Add(float64(n))
	if err != nil {
		c.poison(err)
		return &TransportError{Err: err}
	}

	atomic.AddUint64(&c.commands, uint64(len(cmds)))
	atomic.StoreInt64(&c.activeAt, fasttime.UnixTimestamp())
	commandsTotal.Add(float64(len(cmds)))
	return nil
}

// readReplies 读取 socket 直到解码出恰好 n 条回复 按到达顺序返回
func (c *Conn) readReplies(ctx context.Context, n int) ([]resp.Reply, error) {
	out := make([]resp.Reply, 0, n)
	for len(out) < n {
		rep, err := c.dec.TryParseOne(c.rbuf)
		if err == nil {
			out = append(out, rep)
			continue
		}
		if !errors.Is(err, resp.ErrIncomplete) {
			c.poison(err)
			return nil, err
		}

		nr, err := c.rbuf.ReadFrom(c.nc)
		atomic.AddUint64(&c.bytesRead, uint64(nr))
		bytesReadTotal.Add(float64(nr))
		if err != nil {
			c.poison(err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, zerocopy.ErrLimitExceeded) {
				return nil, protoError("reply exceeds read buffer limit: %v", err)
			}
			return nil, &TransportError{Err: err}
		}
	}
	return out, nil
}

// watch 监听 ctx 取消 取消即中毒关闭连接以打断阻塞中的 I/O
//
// 已写出的前缀命令无法撤回 服务端仍会产生对应回复
// 半途而废的 pipeline 没有恢复手段 只能废弃连接
func (c *Conn) watch(ctx context.Context) func() {
	if ctx == nil || ctx.Done() == nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer rescue.HandleCrash()
		select {
		case <-ctx.Done():
			c.poison(ctx.Err())
		case <-done:
		}
	}()
	return func() { close(done) }
}

// poison 标记连接中毒并关闭传输
func (c *Conn) poison(cause error) {
	c.mut.Lock()
	if c.closed {
		c.mut.Unlock()
		return
	}
	c.closed = true
	c.poisoned = true
	c.mut.Unlock()

	poisonedTotal.Inc()
	logger.Debugf("conn %s poisoned: %v", c.addr, cause)
	c.nc.Close()
}

// Poisoned 返回连接是否已中毒
func (c *Conn) Poisoned() bool {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.poisoned
}

// Closed 返回连接是否已关闭
func (c *Conn) Closed() bool {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.closed
}

// ActiveAt 返回最近一次执行命令的时间
func (c *Conn) ActiveAt() time.Time {
	return time.Unix(atomic.LoadInt64(&c.activeAt), 0)
}

// Stats 返回连接累计统计
func (c *Conn) Stats() Stats {
	return Stats{
		Commands:     atomic.LoadUint64(&c.commands),
		BytesRead:    atomic.LoadUint64(&c.bytesRead),
		BytesWritten: atomic.LoadUint64(&c.bytesWritten),
	}
}

// Close 关闭连接 可重复调用
func (c *Conn) Close() error {
	c.mut.Lock()
	if c.closed {
		c.mut.Unlock()
		return nil
	}
	c.closed = true
	c.mut.Unlock()

	logger.Debugf("conn %s closed", c.addr)
	return c.nc.Close()
}
