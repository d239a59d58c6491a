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

package common

const (
	// App 应用程序名称
	App = "redisq"

	// Version 应用程序版本
	Version = "v0.0.1"

	// ReadBlockSize 单次 socket Read 的切块长度
	//
	// 读缓冲区每次向 socket 申请的空闲空间下限
	// 太小会增加 syscall 次数 太大则在小回复场景下浪费内存
	// 4K 在 pipeline 压测中是个折中值
	ReadBlockSize = 4096

	// ReadBufferSize 读缓冲区初始长度
	//
	// 缓冲区按 2 倍几何增长 直到 ReadBufferMaxSize
	ReadBufferSize = 4096

	// ReadBufferMaxSize 读缓冲区长度上限
	//
	// 超过上限仍无法解析出一条完整回复则视为协议错误
	ReadBufferMaxSize = 1 << 20
)
