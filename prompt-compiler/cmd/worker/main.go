package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storyteller/prompt-compiler/internal/config"
	"storyteller/prompt-compiler/internal/fillin"
	"storyteller/prompt-compiler/internal/pipeline"
	"storyteller/prompt-compiler/internal/worker"
	"storyteller/shared/logger"
	"storyteller/shared/messaging"
)

const (
	maxReconnectAttempts = 5
	reconnectDelay       = 5 * time.Second
)

func main() {
	// --- 1. Загрузка конфигурации ---
	cfg := config.Load()

	// --- 2. Инициализация логгера ---
	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	appLogger.Info("Logger initialized", zap.String("level", cfg.Logger.Level))
	appLogger.Info("Starting Prompt Compiler Worker...", zap.String("env", cfg.AppEnv))

	// --- 3. Инициализация fill-in шлюза и конвейера ---
	fillClient, err := fillin.NewClient(cfg.Fill)
	if err != nil {
		appLogger.Fatal("Failed to initialize fill-in client", zap.Error(err))
	}
	gateway := fillin.NewGateway(fillClient, cfg.Fill.Timeout, appLogger)
	processor := pipeline.NewProcessor(cfg, gateway, appLogger)
	appLogger.Info("Compile pipeline initialized",
		zap.String("fill_provider", cfg.Fill.Provider),
		zap.Int("token_budget", cfg.Pipeline.TokenBudget),
		zap.Int("repair_max_attempts", cfg.Pipeline.RepairMaxAttempts),
	)

	// --- 4. Инициализация RabbitMQ ---
	mqCtx, mqCancel := context.WithCancel(context.Background())
	defer mqCancel()

	var wg sync.WaitGroup
	var conn *amqp091.Connection
	var resultPublisher messaging.Publisher

	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, resultPublisher = manageRabbitMQConnection(mqCtx, appLogger, cfg.RabbitMQ)
		appLogger.Info("RabbitMQ connection manager exited")
	}()

	// --- 5. Инициализация обработчика сообщений ---
	// Ждем, пока publisher будет инициализирован (первое подключение)
	for resultPublisher == nil {
		appLogger.Info("Waiting for RabbitMQ result publisher initialization...")
		time.Sleep(1 * time.Second)
		if mqCtx.Err() != nil {
			appLogger.Fatal("Failed to initialize RabbitMQ publisher within context deadline")
		}
	}
	messageHandler := worker.NewHandler(appLogger, processor, resultPublisher, cfg.PushGatewayURL)
	appLogger.Info("Message handler initialized")

	// --- 6. Запуск Consumer'а ---
	wg.Add(1)
	go func() {
		defer wg.Done()
		startConsumer(mqCtx, appLogger, cfg.RabbitMQ, conn, messageHandler)
		appLogger.Info("RabbitMQ consumer exited")
	}()

	appLogger.Info("Prompt Compiler Worker started successfully")

	// --- 7. Ожидание сигнала завершения ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down Prompt Compiler Worker...")

	// --- 8. Graceful Shutdown ---
	mqCancel() // Сигнализируем горутинам RabbitMQ о завершении

	appLogger.Info("Waiting for background tasks to finish...")
	wg.Wait()

	appLogger.Info("Prompt Compiler Worker shut down gracefully")
}

// manageRabbitMQConnection управляет подключением и переподключением к RabbitMQ,
// а также инициализирует resultPublisher.
func manageRabbitMQConnection(ctx context.Context, logger *zap.Logger, cfg config.RabbitMQConfig) (*amqp091.Connection, messaging.Publisher) {
	var conn *amqp091.Connection
	var err error
	var publisher *messaging.RabbitMQResultPublisher

	for attempt := 1; ; attempt++ {
		conn, err = amqp091.Dial(cfg.URL)
		if err == nil {
			logger.Info("RabbitMQ connected successfully")

			publisher, err = messaging.NewRabbitMQResultPublisher(conn, cfg.ResultExchange, cfg.ResultRoutingKey, cfg.ResultQueueName)
			if err != nil {
				logger.Error("Failed to create RabbitMQ publisher", zap.Error(err))
				conn.Close()
				conn = nil
			} else {
				logger.Info("RabbitMQ result publisher initialized")
				break
			}
		}

		logger.Error("Failed to connect to RabbitMQ", zap.Int("attempt", attempt), zap.Error(err))
		if attempt >= maxReconnectAttempts {
			logger.Fatal("Max reconnect attempts reached, shutting down")
			return nil, nil // Не должно достигнуть из-за Fatal
		}

		select {
		case <-time.After(reconnectDelay):
			logger.Info("Retrying RabbitMQ connection...")
		case <-ctx.Done():
			logger.Info("Context cancelled, stopping RabbitMQ connection attempts")
			return nil, nil
		}
	}

	// Следим за разрывом соединения
	notifyClose := make(chan *amqp091.Error)
	conn.NotifyClose(notifyClose)

	select {
	case closeErr := <-notifyClose:
		logger.Warn("RabbitMQ connection closed", zap.Error(closeErr))
		return manageRabbitMQConnection(ctx, logger, cfg) // Рекурсивный вызов для переподключения
	case <-ctx.Done():
		logger.Info("Context cancelled, closing RabbitMQ connection")
		if conn != nil {
			conn.Close()
		}
		if publisher != nil {
			publisher.Close()
		}
		return nil, nil
	}
}

// startConsumer запускает прослушивание очереди задач.
func startConsumer(ctx context.Context, logger *zap.Logger, cfg config.RabbitMQConfig, conn *amqp091.Connection, handler *worker.Handler) {
	if conn == nil {
		logger.Error("Cannot start consumer, RabbitMQ connection is nil")
		return
	}

	ch, err := conn.Channel()
	if err != nil {
		logger.Error("Failed to open RabbitMQ channel for consumer", zap.Error(err))
		return
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		cfg.TaskQueue.Name,
		cfg.TaskQueue.Durable,
		cfg.TaskQueue.AutoDelete,
		cfg.TaskQueue.Exclusive,
		cfg.TaskQueue.NoWait,
		nil, // arguments
	)
	if err != nil {
		logger.Error("Failed to declare task queue", zap.String("queue", cfg.TaskQueue.Name), zap.Error(err))
		return
	}
	logger.Info("Task queue declared", zap.String("queue", q.Name), zap.Int("messages", q.Messages), zap.Int("consumers", q.Consumers))

	// Эпизод - тяжелая задача: берем по одной за раз.
	if err := ch.Qos(1, 0, false); err != nil {
		logger.Error("Failed to set QoS", zap.Error(err))
		return
	}

	msgs, err := ch.Consume(
		q.Name,
		cfg.ConsumerName,
		false, // auto-ack (false, мы подтверждаем вручную)
		cfg.TaskQueue.Exclusive,
		false, // no-local
		cfg.TaskQueue.NoWait,
		nil, // args
	)
	if err != nil {
		logger.Error("Failed to register consumer", zap.String("queue", q.Name), zap.Error(err))
		return
	}

	logger.Info("Consumer started, waiting for messages...")

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				logger.Warn("Consumer channel closed by RabbitMQ")
				return
			}
			logger.Debug("Received a message", zap.Uint64("delivery_tag", msg.DeliveryTag))
			if handler.HandleDelivery(ctx, msg) {
				if ackErr := msg.Ack(false); ackErr != nil {
					logger.Error("Failed to ack message", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(ackErr))
				}
			} else {
				if nackErr := msg.Nack(false, true); nackErr != nil {
					logger.Error("Failed to nack message", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(nackErr))
				}
			}
		case <-ctx.Done():
			logger.Info("Context cancelled, stopping consumer...")
			return
		}
	}
}
