package main

import (
	xerrors "AIWeb3-Agents/internal/errors"
)

// 退出码：0 成功，1 其他失败，2 未知工具，3 策略拒绝，78 配置错误。
const (
	exitOK          = 0
	exitFailure     = 1
	exitUnknownTool = 2
	exitPolicy      = 3
	exitConfig      = 78
)

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodePolicyViolation:
		return exitPolicy
	case xerrors.CodeUnknownTool:
		return exitUnknownTool
	case xerrors.CodeConfiguration:
		return exitConfig
	default:
		return exitFailure
	}
}
