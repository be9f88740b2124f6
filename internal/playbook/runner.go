package playbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/pkg/logger"
)

// Dispatcher 为 playbook 执行步骤所需的能力，通常是 *tools.Registry。
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args map[string]any) (any, error)
}

// StepResult 记录单个步骤的执行结果。
type StepResult struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Output any            `json:"output,omitempty"`
	Code   string         `json:"code,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Report 为一次 playbook 执行的完整结果。
type Report struct {
	Name       string       `json:"name,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Steps      []StepResult `json:"steps"`
}

// Runner 顺序执行 playbook 步骤。
type Runner struct {
	dispatcher Dispatcher
	lookup     LookupFunc
	runsDir    string
	labsDir    string
	now        func() time.Time
	log        *slog.Logger
}

// Option 定义可选配置。
type Option func(*Runner)

// WithLookup 替换变量查找函数，默认 os.LookupEnv。
func WithLookup(lookup LookupFunc) Option {
	return func(r *Runner) {
		if lookup != nil {
			r.lookup = lookup
		}
	}
}

// WithRunsDir 指定输出目录，默认 runs。
func WithRunsDir(dir string) Option {
	return func(r *Runner) {
		if dir != "" {
			r.runsDir = dir
		}
	}
}

// WithLabsDir 指定实验目录根，默认 labs。
func WithLabsDir(dir string) Option {
	return func(r *Runner) {
		if dir != "" {
			r.labsDir = dir
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner 创建执行器。
func NewRunner(d Dispatcher, opts ...Option) *Runner {
	r := &Runner{
		dispatcher: d,
		lookup:     os.LookupEnv,
		runsDir:    "runs",
		labsDir:    "labs",
		now:        time.Now,
		log:        logger.Named("playbook"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run 先解析所有变量，再逐个分发步骤。第一个失败的步骤终止执行，
// 返回的 Report 包含已执行步骤（含失败步骤）的结果。
func (r *Runner) Run(ctx context.Context, pb *Playbook) (*Report, error) {
	report := &Report{Name: pb.Name, StartedAt: r.now().UTC(), Steps: []StepResult{}}

	steps, err := ResolveSteps(pb, r.lookup)
	if err != nil {
		report.FinishedAt = r.now().UTC()
		return report, err
	}

	for i, step := range steps {
		r.log.Info("执行步骤", slog.Int("step", i+1), slog.String("tool", step.Tool))
		out, err := r.dispatcher.Dispatch(ctx, step.Tool, step.Args)
		result := StepResult{Tool: step.Tool, Args: step.Args, Output: out}
		if err != nil {
			result.Code = string(xerrors.CodeOf(err))
			result.Error = err.Error()
			report.Steps = append(report.Steps, result)
			report.FinishedAt = r.now().UTC()
			return report, fmt.Errorf("步骤 %d (%s) 失败: %w", i+1, step.Tool, err)
		}
		report.Steps = append(report.Steps, result)
	}
	report.FinishedAt = r.now().UTC()
	return report, nil
}

// Save 将报告写入 <runs>/playbook-<UTC 毫秒时间>.json，指定 lab 时写入
// <labs>/<lab>/runs。同名文件已存在时追加序号，不会覆盖。返回写入的文件路径。
func (r *Runner) Save(report *Report, lab string) (string, error) {
	dir := r.runsDir
	if lab != "" {
		if err := validateLab(lab); err != nil {
			return "", err
		}
		dir = filepath.Join(r.labsDir, lab, "runs")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建输出目录失败")
	}
	content, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化执行结果失败")
	}
	base := "playbook-" + report.StartedAt.UTC().Format("20060102T150405.000Z")
	for i := 0; i < maxSaveAttempts; i++ {
		name := base + ".json"
		if i > 0 {
			name = fmt.Sprintf("%s-%d.json", base, i)
		}
		path := filepath.Join(dir, name)
		err := writeNew(path, content)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入执行结果失败")
		}
		return path, nil
	}
	return "", xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("%s 下同名执行结果过多", dir))
}

const maxSaveAttempts = 100

func writeNew(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// validateLab 要求 lab 是单个目录名。
func validateLab(lab string) error {
	if lab == "." || lab == ".." || strings.ContainsAny(lab, `/\`) || filepath.Base(lab) != lab {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("无效的 lab 名称 %q", lab))
	}
	return nil
}
