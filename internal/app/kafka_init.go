package app

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// splitBrokers разбирает список брокеров через запятую, пропуская пустые элементы.
func splitBrokers(brokers string) []string {
	var list []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			list = append(list, broker)
		}
	}
	return list
}

// initKafkaProducer инициализирует Kafka producer, если brokers не пустой.
// Возвращает nil, nil, если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer, если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// newOutboxPublishers выбирает, куда outbox-воркер доставляет события.
// Без Kafka события только пишутся в лог: outbox всё равно разгружается.
func newOutboxPublishers(producer *kafka.Producer, topic string, logger *log.Entry) (publisher, dlq domain.OutboxPublisher) {
	if producer == nil {
		return logPublisher{logger: logger.WithField("publisher", "log")}, nil
	}
	return kafka.NewOutboxPublisher(producer, topic), kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)
}

// logPublisher публикует события в лог, когда брокер не настроен.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.WithFields(log.Fields{
		"event_id":     msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
		"payload":      string(msg.Payload),
	}).Info("order event published")
	return nil
}

// initStatusProjector поднимает consumer group, который прогревает кэш статусов
// из топика событий. Возвращает nil, nil, если группа или брокеры не заданы.
func initStatusProjector(cfg Config, cache domain.OrderStatusCache, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	brokerList := splitBrokers(cfg.KafkaBrokers)
	group := strings.TrimSpace(cfg.KafkaProjectorGroup)
	if len(brokerList) == 0 || group == "" {
		return nil, nil
	}

	topic := cfg.KafkaTopic
	if topic == "" {
		topic = kafka.TopicOrderEvents
	}

	projector := kafka.NewStatusProjector(cache, logger.WithField("component", "status-projector"))
	options := []kafka.ConsumerOption{kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer"))}
	if dlq != nil {
		options = append(options, kafka.WithDLQ(dlq))
	}

	consumer, err := kafka.NewConsumer(brokerList, group, []string{topic}, projector.Handle, options...)
	if err != nil {
		return nil, err
	}
	logger.WithFields(log.Fields{"group": group, "topic": topic}).Info("status projector initialized")
	return consumer, nil
}
