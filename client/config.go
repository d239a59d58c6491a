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
	"net"
	"strconv"
	"time"

	"github.com/packetd/redisq/common"
)

const defaultDialTimeout = time.Second

// Config 单条连接的建连参数
//
// UnixPath 非空时走 unix socket 忽略 Host / Port
// DB 为 0 时不发送 SELECT Password 为空时不发送 AUTH
type Config struct {
	Host              string        `config:"host"`
	Port              int           `config:"port"`
	UnixPath          string        `config:"unixPath"`
	DB                int           `config:"db"`
	Password          string        `config:"password"`
	DialTimeout       time.Duration `config:"dialTimeout"`
	ReadBufferSize    int           `config:"readBufferSize"`
	ReadBufferMaxSize int           `config:"readBufferMaxSize"`
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port <= 0 {
		c.Port = 6379
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = common.ReadBufferSize
	}
	if c.ReadBufferMaxSize <= 0 {
		c.ReadBufferMaxSize = common.ReadBufferMaxSize
	}
	return c
}

// endpoint 返回拨号使用的 network / address
func (c Config) endpoint() (string, string) {
	if c.UnixPath != "" {
		return "unix", c.UnixPath
	}
	return "tcp", net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PoolConfig 连接池参数 Conn 为池内连接的建连参数
//
// IdleTimeout 大于 0 时 Acquire 会先淘汰闲置超时的连接
type PoolConfig struct {
	Size        int           `config:"size"`
	IdleTimeout time.Duration `config:"idleTimeout"`
	Conn        Config        `config:"conn"`
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Size <= 0 {
		c.Size = 1
	}
	c.Conn = c.Conn.withDefaults()
	return c
}
