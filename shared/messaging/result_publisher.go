package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// RabbitMQResultPublisher реализует интерфейс Publisher для отправки
// результатов компиляции промптов в очередь результатов.
type RabbitMQResultPublisher struct {
	conn       *amqp091.Connection
	ch         *amqp091.Channel
	exchange   string
	routingKey string
	queueName  string
	mu         sync.Mutex
}

// NewRabbitMQResultPublisher создает нового издателя результатов.
// Важно: предполагается, что соединение conn уже установлено и переподключения
// управляются внешним кодом, который передает сюда стабильное соединение.
func NewRabbitMQResultPublisher(conn *amqp091.Connection, exchange, routingKey, queueName string) (*RabbitMQResultPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open a channel")
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// Если exchange не указан, публикуем напрямую в очередь.
	if exchange == "" && queueName != "" {
		_, err := ch.QueueDeclare(
			queueName,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // arguments
		)
		if err != nil {
			_ = ch.Close()
			log.Error().Err(err).Str("queue", queueName).Msg("Failed to declare result queue")
			return nil, fmt.Errorf("failed to declare result queue '%s': %w", queueName, err)
		}
		if routingKey == "" {
			routingKey = queueName
		}
	}

	log.Info().Str("queue", queueName).Str("exchange", exchange).Msg("Result publisher initialized")

	return &RabbitMQResultPublisher{
		conn:       conn,
		ch:         ch,
		exchange:   exchange,
		routingKey: routingKey,
		queueName:  queueName,
	}, nil
}

// Publish публикует произвольный payload как JSON.
func (p *RabbitMQResultPublisher) Publish(ctx context.Context, payload interface{}, correlationID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		return errors.New("publisher channel is closed")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal result payload")
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:   "application/json",
			MessageId:     uuid.NewString(),
			CorrelationId: correlationID,
			Body:          body,
			Timestamp:     time.Now(),
			DeliveryMode:  amqp091.Persistent, // Делаем сообщения постоянными
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close закрывает канал издателя.
func (p *RabbitMQResultPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		err := p.ch.Close()
		p.ch = nil
		return err
	}
	return nil
}
