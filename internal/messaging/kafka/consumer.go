package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// MessageHandler обрабатывает одно сообщение. ErrPoisonMessage отправляет его в DLQ без повторов.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 200 * time.Millisecond
)

// DeadLetter: запись в oms.dlq о сообщении, которое не удалось обработать.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	Error             string    `json:"error_message"`
	Attempts          int       `json:"retry_count"`
	FailedAt          time.Time `json:"failed_at"`
}

// Consumer читает topic-и consumer group и передаёт сообщения в handler.
// Сообщение коммитится после успешной обработки или после парковки в DLQ.
type Consumer struct {
	group       sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	dlq         *Producer
	maxAttempts int
	retryDelay  time.Duration
	logger      *log.Entry
	wg          sync.WaitGroup
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDeadLetterQueue включает отправку необработанных сообщений в TopicDeadLetterQueue.
func WithDeadLetterQueue(p *Producer) ConsumerOption {
	return func(c *Consumer) { c.dlq = p }
}

// WithMaxAttempts задаёт общее число попыток, включая сделанные до переотправки из DLQ.
func WithMaxAttempts(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryDelay задаёт паузу между попытками.
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.retryDelay = d }
}

// NewConsumer подключается к consumer group.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return newConsumer(group, topics, handler, opts...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		group:       group,
		topics:      topics,
		handler:     handler,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		logger:      log.WithField("component", "kafka-consumer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start запускает чтение в фоне до отмены ctx или Stop.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается на каждом rebalance, поэтому вызывается в цикле.
		for ctx.Err() == nil {
			err := c.group.Consume(ctx, c.topics, c)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err != nil {
				c.logger.WithError(err).Error("consume failed")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает group и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			entry := c.logger.WithFields(log.Fields{"topic": msg.Topic, "partition": msg.Partition, "offset": msg.Offset})
			if err := c.process(ctx, msg); err != nil {
				// Без MarkMessage сообщение будет перечитано после rebalance или рестарта.
				entry.WithError(err).Error("message left uncommitted")
				continue
			}
			session.MarkMessage(msg, "")
		}
	}
}

// process делает оставшиеся попытки и паркует сообщение в DLQ, когда они исчерпаны.
// nil означает, что сообщение можно коммитить.
func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) error {
	prior := retryCount(msg)
	budget := max(c.maxAttempts-prior, 1)

	var err error
	attempt := 0
	for attempt < budget {
		attempt++
		if err = c.handler(ctx, msg); err == nil {
			return nil
		}
		if errors.Is(err, ErrPoisonMessage) || ctx.Err() != nil || attempt == budget {
			break
		}
		c.logger.WithError(err).WithField("attempt", prior+attempt).Warn("message handling failed, retrying")
		if waitErr := sleepCtx(ctx, c.retryDelay); waitErr != nil {
			return waitErr
		}
	}

	if ctx.Err() != nil || c.dlq == nil {
		return err
	}
	if !errors.Is(err, ErrPoisonMessage) && prior+attempt < c.maxAttempts {
		return err
	}
	if dlqErr := c.deadLetter(msg, err, prior+attempt); dlqErr != nil {
		return fmt.Errorf("park message in DLQ: %w", dlqErr)
	}
	c.logger.WithFields(log.Fields{"topic": msg.Topic, "attempts": prior + attempt}).Warn("message parked in DLQ")
	return nil
}

func (c *Consumer) deadLetter(msg *sarama.ConsumerMessage, cause error, attempts int) error {
	dl := DeadLetter{
		OriginalTopic:     msg.Topic,
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		OriginalKey:       string(msg.Key),
		OriginalValue:     string(msg.Value),
		Error:             cause.Error(),
		Attempts:          attempts,
		FailedAt:          time.Now().UTC(),
	}
	return c.dlq.PublishEventWithHeaders(TopicDeadLetterQueue, dl.OriginalKey, dl, map[string]string{
		HeaderOriginalTopic: dl.OriginalTopic,
		HeaderErrorMessage:  dl.Error,
		HeaderFailedAt:      dl.FailedAt.Format(time.RFC3339),
		HeaderRetryCount:    strconv.Itoa(attempts),
	})
}

// retryCount читает x-retry-count; некорректное значение считается нулём.
func retryCount(msg *sarama.ConsumerMessage) int {
	for _, h := range msg.Headers {
		if h == nil || string(h.Key) != HeaderRetryCount {
			continue
		}
		if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
