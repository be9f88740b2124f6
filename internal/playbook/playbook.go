// Package playbook 执行 YAML 描述的工具调用序列。
package playbook

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/internal/tools"
)

// Playbook 为按顺序执行的步骤列表。
type Playbook struct {
	Name  string             `yaml:"name"`
	Steps []tools.Invocation `yaml:"steps"`
}

// Load 读取并解析 playbook 文件。
func Load(path string) (*Playbook, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("读取 playbook %s 失败", path))
	}
	pb, err := Parse(content)
	if err != nil {
		return nil, err
	}
	return pb, nil
}

// Parse 解析 playbook 内容，每个步骤必须声明 tool。
func Parse(content []byte) (*Playbook, error) {
	var pb Playbook
	if err := yaml.Unmarshal(content, &pb); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 playbook 失败")
	}
	for i, step := range pb.Steps {
		if strings.TrimSpace(step.Tool) == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("第 %d 个步骤缺少 tool", i+1))
		}
		if step.Args == nil {
			pb.Steps[i].Args = map[string]any{}
		}
	}
	return &pb, nil
}

// LookupFunc 按名称查找变量，对应 os.LookupEnv。
type LookupFunc func(string) (string, bool)

var varPattern = regexp.MustCompile(`\$\{([A-Z0-9_]+)\}`)

// Resolve 递归替换字符串、列表与映射中的 ${VAR}。任一变量缺失时返回
// INVALID_ARGUMENT，错误信息列出全部缺失的变量。
func Resolve(value any, lookup LookupFunc) (any, error) {
	missing := make(map[string]struct{})
	out := resolve(value, lookup, missing)
	if len(missing) > 0 {
		return nil, missingError(missing)
	}
	return out, nil
}

func missingError(missing map[string]struct{}) error {
	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return xerrors.New(xerrors.CodeInvalidArgument, "missing env var: "+strings.Join(names, ", "),
		xerrors.WithMetadata("missing", strings.Join(names, ",")))
}

func resolve(value any, lookup LookupFunc, missing map[string]struct{}) any {
	switch v := value.(type) {
	case string:
		return varPattern.ReplaceAllStringFunc(v, func(match string) string {
			name := varPattern.FindStringSubmatch(match)[1]
			val, ok := lookup(name)
			if !ok {
				missing[name] = struct{}{}
				return match
			}
			return val
		})
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = resolve(item, lookup, missing)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = resolve(item, lookup, missing)
		}
		return out
	default:
		return v
	}
}

// ResolveSteps 在执行前解析全部步骤的参数。
func ResolveSteps(pb *Playbook, lookup LookupFunc) ([]tools.Invocation, error) {
	missing := make(map[string]struct{})
	steps := make([]tools.Invocation, len(pb.Steps))
	for i, step := range pb.Steps {
		args, _ := resolve(step.Args, lookup, missing).(map[string]any)
		if args == nil {
			args = map[string]any{}
		}
		steps[i] = tools.Invocation{Tool: step.Tool, Args: args}
	}
	if len(missing) > 0 {
		return nil, missingError(missing)
	}
	return steps, nil
}
