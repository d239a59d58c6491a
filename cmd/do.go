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
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/packetd/redisq/client"
	"github.com/packetd/redisq/resp"
)

type doCmdConfig struct {
	Host     string
	Port     int
	UnixPath string
	DB       int
	Password string
	Timeout  time.Duration
}

var doConfig doCmdConfig

var doCmd = &cobra.Command{
	Use:   "do COMMAND [ARG...]",
	Short: "Execute a single command and print the reply",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), doConfig.Timeout)
		defer cancel()

		conn, err := client.Dial(ctx, client.Config{
			Host:     doConfig.Host,
			Port:     doConfig.Port,
			UnixPath: doConfig.UnixPath,
			DB:       doConfig.DB,
			Password: doConfig.Password,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
			os.Exit(1)
		}
		defer conn.Close()

		rest := make([]any, 0, len(args)-1)
		for _, arg := range args[1:] {
			rest = append(rest, arg)
		}
		rep, err := conn.Do(ctx, args[0], rest...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to execute: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(renderReply(rep, 0))
	},
	Example: "# redisq do SET greeting hello",
}

// renderReply 以 redis-cli 风格渲染回复
func renderReply(rep resp.Reply, depth int) string {
	switch rep.Type {
	case resp.SimpleStrings:
		return rep.Text()
	case resp.Errors:
		return "(error) " + rep.Text()
	case resp.Integers:
		return "(integer) " + rep.Text()
	case resp.BulkStrings:
		if rep.Null {
			return "(nil)"
		}
		return fmt.Sprintf("%q", rep.Text())
	case resp.Array:
		if rep.Null {
			return "(nil)"
		}
		if len(rep.Elems) == 0 {
			return "(empty array)"
		}
		lines := make([]string, 0, len(rep.Elems))
		for i, elem := range rep.Elems {
			lines = append(lines, fmt.Sprintf("%s%d) %s", strings.Repeat(" ", depth*2), i+1, renderReply(elem, depth+1)))
		}
		return strings.Join(lines, "\n")
	}
	return rep.Text()
}

func init() {
	doCmd.Flags().StringVar(&doConfig.Host, "host", "127.0.0.1", "Server host")
	doCmd.Flags().IntVar(&doConfig.Port, "port", 6379, "Server port")
	doCmd.Flags().StringVar(&doConfig.UnixPath, "unix", "", "Unix socket path, overrides host/port")
	doCmd.Flags().IntVar(&doConfig.DB, "db", 0, "Database index")
	doCmd.Flags().StringVar(&doConfig.Password, "password", "", "AUTH password")
	doCmd.Flags().DurationVar(&doConfig.Timeout, "timeout", 5*time.Second, "Overall timeout")
	rootCmd.AddCommand(doCmd)
}
