package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"AIWeb3-Agents/pkg/logger"
)

// NATSConfig 描述 NATS 发布参数。
type NATSConfig struct {
	URL     string
	Subject string
	Timeout time.Duration
}

// NATS 将事件发布到 NATS subject。
type NATS struct {
	conn    *nats.Conn
	subject string
}

// NewNATS 连接 NATS 服务器。
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.URL == "" {
		return nil, errors.New("NATS URL 不能为空")
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "transfers.confirmed"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	log := logger.Named("events.nats")
	conn, err := nats.Connect(cfg.URL,
		nats.Name("aiweb3-tools"),
		nats.Timeout(timeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS 连接断开", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS 已重连", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接 NATS 失败: %w", err)
	}
	return &NATS{conn: conn, subject: subject}, nil
}

// PublishTransfer 发布事件并刷新缓冲区，ctx 控制刷新等待时间。
func (p *NATS) PublishTransfer(ctx context.Context, event TransferConfirmed) error {
	body, err := encode(event)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(p.subject)
	msg.Header.Set(nats.MsgIdHdr, event.RequestID)
	msg.Data = body
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("NATS 发布失败: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("NATS 刷新失败: %w", err)
	}
	return nil
}

// Close 排空并关闭连接。
func (p *NATS) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
