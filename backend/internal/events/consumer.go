package events

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/IBM/sarama"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/cache"
	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/ws"
)

// Consumer 订阅会话事件并把“别的实例上发生的进出”重播到本地房间，
// 让负载均衡后面的每个实例都能弹出并行编辑提示。
type Consumer struct {
	group    sarama.ConsumerGroup
	topic    string
	origin   string
	manager  *ws.Manager
	presence cache.EditorPresence
}

func NewConsumer(group sarama.ConsumerGroup, topic, origin string, manager *ws.Manager, presence cache.EditorPresence) *Consumer {
	return &Consumer{group: group, topic: topic, origin: origin, manager: manager, presence: presence}
}

// Run 阻塞消费直到 ctx 取消。rebalance 后 Consume 会返回，循环重进。
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, &groupHandler{c: c}); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			log.Printf("events: consume error: %v", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

type groupHandler struct {
	c *Consumer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.c.handle(sess.Context(), msg.Value)
		sess.MarkMessage(msg, "")
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, raw []byte) {
	var evt EditSessionEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		log.Printf("events: drop unparseable event: %v", err)
		return
	}
	if evt.Origin == c.origin {
		// 自己发的，本地已经广播过
		return
	}
	session := evt.Session()
	editor := ws.EditorInfo{UserID: evt.UserID, Username: evt.Username}

	switch evt.EventType {
	case EventEditorJoined:
		alive, err := c.presence.GetAliveEditors(ctx, session.Key())
		if err != nil {
			log.Printf("events: get alive editors error: %v", err)
		}
		others := make([]ws.EditorInfo, 0, len(alive))
		for _, e := range alive {
			if e.UserID == evt.UserID {
				continue
			}
			others = append(others, ws.EditorInfo{UserID: e.UserID, Username: e.Username})
		}
		c.manager.RemoteJoined(session, editor, others)
	case EventEditorLeft:
		alive, err := c.presence.GetAliveEditors(ctx, session.Key())
		if err != nil {
			log.Printf("events: get alive editors error: %v", err)
		}
		c.manager.RemoteLeft(session, editor, len(alive) <= 1)
	default:
		log.Printf("events: ignore unknown event type %q", evt.EventType)
	}
}
