// Package tools 提供工具注册表，CLI、HTTP、MCP 与 playbook 都只通过
// Registry.Dispatch 调用工具。
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/pkg/logger"
)

// Handler 执行一次工具调用。
type Handler interface {
	Call(ctx context.Context, args Args) (any, error)
}

// HandlerFunc 允许普通函数作为 Handler。
type HandlerFunc func(ctx context.Context, args Args) (any, error)

// Call 实现 Handler。
func (f HandlerFunc) Call(ctx context.Context, args Args) (any, error) {
	return f(ctx, args)
}

// Invocation 描述一次按名称的工具调用，对应 playbook 中的一个步骤。
type Invocation struct {
	Tool string         `json:"tool" yaml:"tool"`
	Args map[string]any `json:"args,omitempty" yaml:"args"`
}

// Descriptor 为工具的对外描述，Schema 为参数的 JSON Schema。
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"input_schema,omitempty"`
	AliasOf     string         `json:"alias_of,omitempty"`
}

// ToolOption 配置注册时的工具描述。
type ToolOption func(*Descriptor)

// WithDescription 设置工具说明。
func WithDescription(desc string) ToolOption {
	return func(d *Descriptor) { d.Description = desc }
}

// WithSchema 设置参数 JSON Schema。
func WithSchema(schema map[string]any) ToolOption {
	return func(d *Descriptor) { d.Schema = schema }
}

// Call 是一次已分发调用的完整信息，交给 Observer。
type Call struct {
	ID         string
	Tool       string
	Args       Args
	Output     any
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Observer 在每次已注册工具的调用结束后被通知。未知工具不会触发。
type Observer interface {
	ObserveCall(ctx context.Context, call Call)
}

type entry struct {
	desc    Descriptor
	handler Handler
}

// Registry 保存名称到处理器的映射。注册只允许追加。
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]entry
	observers []Observer
	log       *slog.Logger
}

// Option 定义可选配置。
type Option func(*Registry)

// WithObserver 追加调用观察者。
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// NewRegistry 创建空的注册表。
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]entry),
		log:     logger.Named("tools"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register 注册工具。名称为空、处理器为 nil 或重复注册属于编程错误，直接 panic。
func (r *Registry) Register(name string, h Handler, opts ...ToolOption) {
	if name == "" {
		panic("tools: empty tool name")
	}
	if h == nil {
		panic(fmt.Sprintf("tools: nil handler for %s", name))
	}
	desc := Descriptor{Name: name}
	for _, opt := range opts {
		if opt != nil {
			opt(&desc)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		panic(fmt.Sprintf("tools: duplicate registration of %s", name))
	}
	r.entries[name] = entry{desc: desc, handler: h}
}

// Alias 以新名称注册已有工具的同一处理器。
func (r *Registry) Alias(alias, target string) {
	r.mu.RLock()
	e, ok := r.entries[target]
	r.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("tools: alias %s targets unknown tool %s", alias, target))
	}
	r.Register(alias, e.handler,
		WithDescription(e.desc.Description),
		WithSchema(e.desc.Schema),
		func(d *Descriptor) { d.AliasOf = target },
	)
}

// Names 返回按字母序排列的工具名称。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe 返回工具描述。
func (r *Registry) Describe(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.desc, ok
}

// Dispatch 按名称调用工具。未知名称返回 UNKNOWN_TOOL 且没有任何副作用。
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeUnknownTool, fmt.Sprintf("unknown tool: %s", name),
			xerrors.WithMetadata("tool", name))
	}

	call := Call{
		ID:        uuid.NewString(),
		Tool:      name,
		Args:      Args(args),
		StartedAt: time.Now().UTC(),
	}
	log := r.log.With(slog.String("call_id", call.ID), slog.String("tool", name))
	log.Debug("调用工具", slog.Any("args", Redact(args)))

	call.Output, call.Err = e.handler.Call(ctx, call.Args)
	call.FinishedAt = time.Now().UTC()

	if call.Err != nil {
		log.Info("工具调用失败",
			slog.String("code", string(xerrors.CodeOf(call.Err))),
			slog.Any("error", call.Err),
			slog.Duration("duration", call.FinishedAt.Sub(call.StartedAt)),
		)
	} else {
		log.Debug("工具调用完成", slog.Duration("duration", call.FinishedAt.Sub(call.StartedAt)))
	}

	for _, o := range r.observers {
		o.ObserveCall(ctx, call)
	}
	if call.Err != nil {
		return nil, call.Err
	}
	return call.Output, nil
}
