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

	"github.com/spf13/cast"

	"github.com/packetd/redisq/resp"
)

var (
	verbMulti = []byte("MULTI")
	verbExec  = []byte("EXEC")

	replyQueued = "QUEUED"
)

// Pipeline 命令批处理器
//
// 追加阶段只积累参数不做任何 I/O Execute 时整批编码一次写出
// 再按序读回全部回复 生命周期: 创建(绑定连接) → 追加 → 一次 Execute → Close
//
// Close 负责确定性释放: 清空缓冲并归还连接的 busy 标记 未执行的命令
// 随 Close 静默丢弃 这是约定行为而非错误 建议创建后立即 defer Close
type Pipeline struct {
	conn   *Conn
	cmds   []resp.Command
	tx     bool
	sealed bool
	closed bool
}

// Command 追加一条命令 立即返回 不做 I/O
//
// 参数可以是 []byte / string 整数和浮点渲染为十进制字节 布尔渲染为 true / false
func (p *Pipeline) Command(verb string, args ...any) error {
	if p.closed || p.sealed {
		return ErrPipelineSealed
	}

	cmd := make(resp.Command, 0, len(args)+1)
	cmd = append(cmd, []byte(verb))
	for _, arg := range args {
		b, err := argBytes(arg)
		if err != nil {
			return err
		}
		cmd = append(cmd, b)
	}
	p.cmds = append(p.cmds, cmd)
	return nil
}

// argBytes 将调用方参数统一渲染为字节串
func argBytes(v any) ([]byte, error) {
	switch arg := v.(type) {
	case []byte:
		return arg, nil
	case string:
		return []byte(arg), nil
	}

	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, newError("unsupported argument type %T", v)
	}
	return []byte(s), nil
}

// Len 返回已追加的命令数
func (p *Pipeline) Len() int {
	return len(p.cmds)
}

// Execute 执行整批命令 按提交顺序返回各自的回复
//
// 对于命令 c1..cN 返回的 r1..rN 满足 ri 是服务端对 ci 的回复
// RESP 在单条 TCP 流上严格有序 且解码器按到达顺序产出
//
// 事务模式下整批以 MULTI / EXEC 包裹 返回 EXEC 的内层数组
// WATCH 失效时返回 ErrTxAborted 结果为空
func (p *Pipeline) Execute(ctx context.Context) ([]resp.Reply, error) {
	return p.execute(ctx, false)
}

// ExecuteDiscard 执行整批命令但丢弃全部回复
//
// 回复仍会被完整读取和解帧以保持 socket 同步 只是不返回
func (p *Pipeline) ExecuteDiscard(ctx context.Context) error {
	_, err := p.execute(ctx, true)
	return err
}

func (p *Pipeline) execute(ctx context.Context, discard bool) ([]resp.Reply, error) {
	if p.closed || p.sealed {
		return nil, ErrPipelineSealed
	}
	p.sealed = true

	if len(p.cmds) == 0 {
		return []resp.Reply{}, nil
	}

	stop := p.conn.watch(ctx)
	defer stop()

	reps, err := p.roundTrip(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	pipelinesTotal.Inc()
	if discard {
		return []resp.Reply{}, nil
	}
	return reps, nil
}

func (p *Pipeline) roundTrip(ctx context.Context) ([]resp.Reply, error) {
	if p.tx {
		return p.roundTripTx(ctx)
	}

	if err := p.conn.send(p.cmds); err != nil {
		return nil, err
	}
	return p.conn.readReplies(ctx, len(p.cmds))
}

// roundTripTx 以 MULTI + N 条命令 + EXEC 共 N+2 帧完成一次事务
//
// 回复布局: +OK 而后 N 个 +QUEUED 最后是 EXEC 的数组
// 任一中间回复不是 +QUEUED 说明事务排队已失败 不做部分结果恢复
// 直接按协议错误处理(连接中毒) 剩余回复在 readReplies 中已被读完
func (p *Pipeline) roundTripTx(ctx context.Context) ([]resp.Reply, error) {
	n := len(p.cmds)
	cmds := make([]resp.Command, 0, n+2)
	cmds = append(cmds, resp.Command{verbMulti})
	cmds = append(cmds, p.cmds...)
	cmds = append(cmds, resp.Command{verbExec})

	if err := p.conn.send(cmds); err != nil {
		return nil, err
	}
	reps, err := p.conn.readReplies(ctx, n+2)
	if err != nil {
		return nil, err
	}

	if !reps[0].OK() {
		err := protoError("MULTI replied %q", reps[0].Text())
		p.conn.poison(err)
		return nil, err
	}
	for i := 1; i <= n; i++ {
		rep := reps[i]
		if rep.Type != resp.SimpleStrings || rep.Text() != replyQueued {
			err := protoError("command %d not queued: %q", i-1, rep.Text())
			p.conn.poison(err)
			return nil, err
		}
	}

	exec := reps[n+1]
	if exec.Type != resp.Array {
		err := protoError("EXEC replied %s", exec.Type)
		p.conn.poison(err)
		return nil, err
	}
	if exec.Null {
		txAbortedTotal.Inc()
		return nil, ErrTxAborted
	}
	if len(exec.Elems) != n {
		err := protoError("EXEC returned %d results, want %d", len(exec.Elems), n)
		p.conn.poison(err)
		return nil, err
	}
	return exec.Elems, nil
}

// Close 清空命令缓冲并释放连接的 busy 标记 可重复调用
func (p *Pipeline) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.cmds = nil
	p.conn.release()
}
