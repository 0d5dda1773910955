package events

import (
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/ws"
)

// Dispatcher：本地有界队列 + worker 异步发送 + 有限重试。
// 目标：
// - 不阻塞 ws 的 join/leave 主链路（这里只负责入队）
// - Kafka 短暂抖动靠队列吸收，后台补发
// - 队列满时降级丢弃（会话事件是建议性的，不要求必达）
type Dispatcher struct {
	producer sarama.SyncProducer
	topic    string
	origin   string

	queue chan EditSessionEvent

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type DispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// 编译期确认 Dispatcher 可以挂在 ws 层当 EventSink
var _ ws.EventSink = (*Dispatcher)(nil)

func NewDispatcher(producer sarama.SyncProducer, topic, origin string, opt DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		producer:    producer,
		topic:       topic,
		origin:      origin,
		queue:       make(chan EditSessionEvent, opt.QueueSize),
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	d.start()
	return d
}

func (d *Dispatcher) EditorJoined(session ws.Session, userID uint64, username string) {
	d.enqueue(EditSessionEvent{
		EventType:  EventEditorJoined,
		Origin:     d.origin,
		RecordType: string(session.RecordType),
		RecordID:   session.RecordID,
		ContentID:  session.ContentID,
		UserID:     userID,
		Username:   username,
		OccurredAt: time.Now(),
	})
}

func (d *Dispatcher) EditorLeft(session ws.Session, userID uint64, username string) {
	d.enqueue(EditSessionEvent{
		EventType:  EventEditorLeft,
		Origin:     d.origin,
		RecordType: string(session.RecordType),
		RecordID:   session.RecordID,
		ContentID:  session.ContentID,
		UserID:     userID,
		Username:   username,
		OccurredAt: time.Now(),
	})
}

// enqueue 不等待：队列满直接丢，只记日志。
func (d *Dispatcher) enqueue(evt EditSessionEvent) {
	select {
	case d.queue <- evt:
	default:
		log.Printf("events: queue full, drop %s for %s", evt.EventType, evt.Session().Key())
	}
}

func (d *Dispatcher) start() {
	for i := 0; i < d.workers; i++ {
		go d.workerLoop(i)
	}
}

func (d *Dispatcher) workerLoop(workerID int) {
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *Dispatcher) sendWithRetry(workerID int, evt EditSessionEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		err := d.sendOnce(evt)
		if err == nil {
			return
		}
		if attempt == d.maxRetry {
			log.Printf("events: kafka send failed, drop %s session=%s worker=%d err=%v",
				evt.EventType, evt.Session().Key(), workerID, err)
			return
		}
		// 退避，每次时间X2
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *Dispatcher) sendOnce(evt EditSessionEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		// 按会话分区，同一条记录的事件保持有序
		Key:   sarama.StringEncoder(evt.Session().Key()),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
