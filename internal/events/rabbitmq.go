package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ 发布参数。Exchange 为空时使用默认交换机，
// 此时 RoutingKey 即队列名。
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// RabbitMQ 将事件以持久化消息发布到 RabbitMQ。
type RabbitMQ struct {
	conn       *amqp.Connection
	mu         sync.Mutex
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

// NewRabbitMQ 连接 RabbitMQ 并声明所需的交换机或队列。
func NewRabbitMQ(cfg RabbitMQConfig) (*RabbitMQ, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	routingKey := cfg.RoutingKey
	if routingKey == "" {
		routingKey = "transfers.confirmed"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if cfg.Exchange != "" {
		err = ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil)
	} else {
		_, err = ch.QueueDeclare(routingKey, true, false, false, false, nil)
	}
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 拓扑失败: %w", err)
	}
	return &RabbitMQ{conn: conn, ch: ch, exchange: cfg.Exchange, routingKey: routingKey}, nil
}

// PublishTransfer 发布一条已确认转账事件。
func (p *RabbitMQ) PublishTransfer(ctx context.Context, event TransferConfirmed) error {
	if p == nil || p.ch == nil {
		return errors.New("RabbitMQ 发布器未初始化")
	}
	body, err := encode(event)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.RequestID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// Close 关闭 channel 与连接。
func (p *RabbitMQ) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
