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

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/packetd/redisq/client"
	"github.com/packetd/redisq/common"
	"github.com/packetd/redisq/confengine"
	"github.com/packetd/redisq/internal/rescue"
	"github.com/packetd/redisq/internal/sigs"
	"github.com/packetd/redisq/logger"
	"github.com/packetd/redisq/server"
)

type benchCmdConfig struct {
	Config    string
	Host      string
	Port      int
	UnixPath  string
	DB        int
	Password  string
	PoolSize  int
	Workers   int
	Requests  int
	Depth     int
	ValueSize int
	Metrics   string
}

// Yaml 将命令行参数渲染为配置文件内容
func (c *benchCmdConfig) Yaml() []byte {
	text := `
logger:
  stdout: true
  level: info

client:
  size: {{ .PoolSize }}
  conn:
    host: {{ .Host }}
    port: {{ .Port }}
    unixPath: {{ .UnixPath }}
    db: {{ .DB }}
    password: {{ .Password }}

server:
  enabled: {{ .MetricsEnabled }}
  address: {{ .Metrics }}
  pprof: true
`
	tpl, err := template.New("Config").Parse(text)
	if err != nil {
		return nil
	}

	var buf bytes.Buffer
	err = tpl.Execute(&buf, map[string]interface{}{
		"PoolSize":       c.PoolSize,
		"Host":           c.Host,
		"Port":           c.Port,
		"UnixPath":       c.UnixPath,
		"DB":             c.DB,
		"Password":       c.Password,
		"MetricsEnabled": c.Metrics != "",
		"Metrics":        c.Metrics,
	})
	if err != nil {
		return nil
	}
	return buf.Bytes()
}

// benchReport 压测结果 以 JSON 输出
type benchReport struct {
	ID        string  `json:"id"`
	Workers   int     `json:"workers"`
	PoolSize  int     `json:"poolSize"`
	Depth     int     `json:"depth"`
	Requests  int     `json:"requests"`
	Errors    int     `json:"errors"`
	ElapsedMs int64   `json:"elapsedMs"`
	QPS       float64 `json:"qps"`
}

var benchConfig benchCmdConfig

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a pipelined SET/GET benchmark",
	Run: func(cmd *cobra.Command, args []string) {
		// 指定了配置文件则优先生效 否则由命令行参数渲染配置
		var cfg *confengine.Config
		var err error
		if benchConfig.Config != "" {
			cfg, err = confengine.LoadConfigPath(benchConfig.Config)
		} else {
			cfg, err = confengine.LoadContent(benchConfig.Yaml())
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}

		var logOpts logger.Options
		if err := cfg.UnpackChild("logger", &logOpts); err == nil {
			logger.SetOptions(logOpts)
		}

		var poolCfg client.PoolConfig
		if err := cfg.UnpackChild("client", &poolCfg); err != nil {
			fmt.Fprintf(os.Stderr, "failed to unpack client config: %v\n", err)
			os.Exit(1)
		}

		srv, err := server.New(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
			os.Exit(1)
		}
		if srv != nil {
			go func() {
				defer rescue.HandleCrash()
				if err := srv.ListenAndServe(); err != nil {
					logger.Warnf("debug server exited: %v", err)
				}
			}()
			defer srv.Close()
		}

		report, err := runBench(poolCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bench failed: %v\n", err)
			os.Exit(1)
		}

		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
	},
	Example: "# redisq bench --requests 100000 --pool.size 4 --depth 128",
}

func runBench(poolCfg client.PoolConfig) (*benchReport, error) {
	workers := benchConfig.Workers
	if workers <= 0 {
		workers = common.Concurrency()
	}
	if benchConfig.Depth <= 0 {
		benchConfig.Depth = 1
	}

	pool := client.NewPool(poolCfg)
	defer pool.Drain()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer rescue.HandleCrash()
		<-sigs.Terminate()
		cancel()
	}()

	// 预热 顺便校验连通性
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	err = conn.Ping(ctx)
	conn.Release()
	if err != nil {
		return nil, err
	}

	value := bytes.Repeat([]byte("x"), benchConfig.ValueSize)
	perWorker := benchConfig.Requests / workers

	var errTotal int64
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			defer rescue.HandleCrash()
			if err := benchWorker(ctx, pool, worker, perWorker, value); err != nil {
				atomic.AddInt64(&errTotal, 1)
				logger.Errorf("worker %d failed: %v", worker, err)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := perWorker * workers
	return &benchReport{
		ID:        uuid.New().String(),
		Workers:   workers,
		PoolSize:  poolCfg.Size,
		Depth:     benchConfig.Depth,
		Requests:  total,
		Errors:    int(atomic.LoadInt64(&errTotal)),
		ElapsedMs: elapsed.Milliseconds(),
		QPS:       float64(total) / elapsed.Seconds(),
	}, nil
}

// benchWorker 按 pipeline 深度分批提交 SET/GET 交替负载
func benchWorker(ctx context.Context, pool *client.Pool, worker, requests int, value []byte) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	prefix := "bench:" + strconv.Itoa(worker) + ":"
	for sent := 0; sent < requests; sent += benchConfig.Depth {
		batch := benchConfig.Depth
		if rest := requests - sent; rest < batch {
			batch = rest
		}

		p, err := conn.Pipeline()
		if err != nil {
			return err
		}
		for i := 0; i < batch; i++ {
			key := prefix + strconv.Itoa(sent+i)
			if i%2 == 0 {
				err = p.Command("SET", key, value)
			} else {
				err = p.Command("GET", key)
			}
			if err != nil {
				p.Close()
				return err
			}
		}
		err = p.ExecuteDiscard(ctx)
		p.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func init() {
	benchCmd.Flags().StringVar(&benchConfig.Config, "config", "", "Configuration file path, overrides other flags")
	benchCmd.Flags().StringVar(&benchConfig.Host, "host", "127.0.0.1", "Server host")
	benchCmd.Flags().IntVar(&benchConfig.Port, "port", 6379, "Server port")
	benchCmd.Flags().StringVar(&benchConfig.UnixPath, "unix", "", "Unix socket path, overrides host/port")
	benchCmd.Flags().IntVar(&benchConfig.DB, "db", 0, "Database index")
	benchCmd.Flags().StringVar(&benchConfig.Password, "password", "", "AUTH password")
	benchCmd.Flags().IntVar(&benchConfig.PoolSize, "pool.size", 4, "Connection pool size")
	benchCmd.Flags().IntVar(&benchConfig.Workers, "workers", 0, "Concurrent workers, defaults to 2*NumCPU")
	benchCmd.Flags().IntVar(&benchConfig.Requests, "requests", 100000, "Total requests")
	benchCmd.Flags().IntVar(&benchConfig.Depth, "depth", 128, "Commands per pipeline")
	benchCmd.Flags().IntVar(&benchConfig.ValueSize, "value.size", 64, "Value size in bytes")
	benchCmd.Flags().StringVar(&benchConfig.Metrics, "metrics", "", "Debug server listen address, empty to disable")
	rootCmd.AddCommand(benchCmd)
}
