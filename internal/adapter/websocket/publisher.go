package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/centrifugal/centrifuge"
	"github.com/google/uuid"
	"github.com/pscheid92/commhub/internal/adapter/metrics"
	"github.com/pscheid92/commhub/internal/domain"
)

type Publisher struct {
	node      *centrifuge.Node
	wsMetrics *metrics.WebSocketMetrics
}

func NewPublisher(node *centrifuge.Node, wsMetrics *metrics.WebSocketMetrics) *Publisher {
	return &Publisher{node: node, wsMetrics: wsMetrics}
}

var _ domain.InboxPublisher = (*Publisher)(nil)

func (p *Publisher) ConversationUpdated(ctx context.Context, userID uuid.UUID, update domain.ConversationUpdate) error {
	if update.Type == "" {
		update.Type = "conversation.updated"
	}
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal conversation update: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	channel := InboxChannel(userID)
	if _, err := p.node.Publish(channel, data); err != nil {
		p.observe("error")
		return fmt.Errorf("publish to channel %s: %w", channel, err)
	}

	p.observe("ok")
	return nil
}

func (p *Publisher) observe(outcome string) {
	if p.wsMetrics != nil {
		p.wsMetrics.Publications.WithLabelValues(outcome).Inc()
	}
}
