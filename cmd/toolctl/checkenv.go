package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	xerrors "AIWeb3-Agents/internal/errors"
)

// labRequirement 列出各个实验额外需要的环境变量。
type labRequirement struct {
	Lab  string
	Vars []string
}

var labRequirements = []labRequirement{
	{Lab: "day-001-wallets-and-rpc", Vars: []string{"EVM_RPC_URL", "PRIVATE_KEY"}},
	{Lab: "day-003-contract-deploy-local", Vars: []string{"EVM_RPC_URL", "PRIVATE_KEY", "COUNTER_ADDRESS"}},
	{Lab: "day-004-nft-minting", Vars: []string{"EVM_RPC_URL", "PRIVATE_KEY", "ERC721_ADDRESS", "TOKEN_URI"}},
}

func checkEnvCommand() *cli.Command {
	return &cli.Command{
		Name:  "check-env",
		Usage: "检查配置与实验所需的环境变量",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "labs", Usage: "同时检查各实验需要的环境变量"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "配置有效：已设置 RPC 地址与签名私钥")
			spend, _ := cfg.SpendPolicy()
			if limit := spend.MaxValue(); limit != nil && !limit.IsZero() {
				fmt.Fprintf(os.Stdout, "支出上限: %s wei\n", limit.Dec())
			} else {
				fmt.Fprintln(os.Stdout, "支出上限: 未设置")
			}
			fmt.Fprintf(os.Stdout, "白名单: %d 个地址，黑名单: %d 个地址\n",
				len(spend.Allowlist()), len(spend.Denylist()))

			if !c.Bool("labs") {
				return nil
			}
			return checkLabs(os.Stdout, os.LookupEnv)
		},
	}
}

func checkLabs(w io.Writer, lookup func(string) (string, bool)) error {
	var missing []string
	for _, req := range labRequirements {
		for _, key := range req.Vars {
			if v, ok := lookup(key); !ok || strings.TrimSpace(v) == "" {
				missing = append(missing, fmt.Sprintf("%s: %s", req.Lab, key))
			}
		}
	}
	if len(missing) == 0 {
		fmt.Fprintln(w, "所有实验需要的环境变量均已设置")
		return nil
	}
	fmt.Fprintln(w, "缺少环境变量:")
	for _, m := range missing {
		fmt.Fprintf(w, "- %s\n", m)
	}
	return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("缺少 %d 个实验环境变量", len(missing)))
}
