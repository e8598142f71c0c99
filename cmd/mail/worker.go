package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
	"github.com/wneessen/go-mail"
)

// errBadMessage 表示消息本身有问题，重新入队也没有意义
var errBadMessage = errors.New("无效的邮件消息")

type mailKind struct {
	subject string
	tmpl    *template.Template
	decode  func(json.RawMessage) (any, error)
}

// composer 把队列中的消息转换为邮件
type composer struct {
	from  string
	kinds map[string]mailKind
}

func newComposer(from string) (*composer, error) {
	scheduleUpdated, err := template.ParseFS(templates, "templates/schedule_updated_email.html")
	if err != nil {
		return nil, err
	}

	return &composer{
		from: from,
		kinds: map[string]mailKind{
			domain.MailTypeScheduleUpdated: {
				subject: "排班编辑器 - 排班已修改",
				tmpl:    scheduleUpdated,
				decode: func(raw json.RawMessage) (any, error) {
					data := domain.ScheduleUpdatedMailData{}
					err := json.Unmarshal(raw, &data)
					return data, err
				},
			},
		},
	}, nil
}

func (c *composer) compose(body []byte) (*mail.Msg, error) {
	var message struct {
		Type string          `json:"type"`
		To   string          `json:"to"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &message); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadMessage, err)
	}

	kind, ok := c.kinds[message.Type]
	if !ok {
		return nil, fmt.Errorf("%w: 不支持的邮件类型 %q", errBadMessage, message.Type)
	}
	data, err := kind.decode(message.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadMessage, err)
	}

	msg := mail.NewMsg()
	if err := msg.From(c.from); err != nil {
		return nil, fmt.Errorf("无法设置邮件发件人: %w", err)
	}
	if err := msg.To(message.To); err != nil {
		return nil, fmt.Errorf("%w: 收件人 %q 无效", errBadMessage, message.To)
	}
	msg.Subject(kind.subject)
	if err := msg.SetBodyHTMLTemplate(kind.tmpl, data); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadMessage, err)
	}

	return msg, nil
}

// sender 由 *mail.Client 实现
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// consume 处理消息直到 ctx 被取消或 deliveries 被关闭。
// 消息本身有问题时直接丢弃，发送失败时重新入队
func consume(ctx context.Context, deliveries <-chan amqp.Delivery, c *composer, s sender, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				logger.Warn("消息通道已关闭")
				return
			}

			msg, err := c.compose(d.Body)
			if err != nil {
				logger.Error("无法构建邮件", "error", err)
				_ = d.Nack(false, !errors.Is(err, errBadMessage))
				continue
			}

			if err := s.DialAndSendWithContext(ctx, msg); err != nil {
				logger.Error("邮件发送失败", "to", msg.GetToString(), "error", err)
				_ = d.Nack(false, true)
				continue
			}

			logger.Info("邮件已发送", "to", msg.GetToString())
			_ = d.Ack(false)
		}
	}
}
