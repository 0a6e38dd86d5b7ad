package worker

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storyteller/prompt-compiler/internal/pipeline"
	"storyteller/shared/messaging"
	"storyteller/shared/models"
)

// Определяем метрики Prometheus
var (
	beatsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prompt_compiler_beats_processed_total",
			Help: "Total number of beats processed by status.",
		},
		[]string{"status"}, // "ok", "flagged", "skipped"
	)
	episodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prompt_compiler_episode_duration_seconds",
		Help:    "Duration of full episode task processing.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
	promptTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prompt_compiler_prompt_tokens",
		Help:    "Histogram of estimated prompt token counts.",
		Buckets: prometheus.LinearBuckets(25, 25, 12), // 25, 50, ..., 300
	})
	repairAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prompt_compiler_repair_attempts",
		Help:    "Histogram of repair attempts per beat.",
		Buckets: prometheus.LinearBuckets(0, 1, 8),
	})
	publishResultErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prompt_compiler_publish_result_errors_total",
		Help: "Total number of errors publishing beat results.",
	})
	unmarshalErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prompt_compiler_unmarshal_errors_total",
		Help: "Total number of task payloads that failed to unmarshal.",
	})
)

// EpisodeProcessor - интерфейс конвейера для обработчика (подменяется в тестах).
type EpisodeProcessor interface {
	ProcessEpisode(ctx context.Context, task messaging.EpisodeBeatsTaskPayload) []pipeline.BeatOutcome
}

// Handler обрабатывает входящие сообщения очереди задач.
type Handler struct {
	logger          *zap.Logger
	processor       EpisodeProcessor
	resultPublisher messaging.Publisher
	pusher          *push.Pusher // nil, если Pushgateway не настроен
}

// NewHandler создает новый экземпляр Handler.
func NewHandler(
	logger *zap.Logger,
	processor EpisodeProcessor,
	resultPublisher messaging.Publisher,
	pushGatewayURL string,
) *Handler {
	if resultPublisher == nil {
		logger.Fatal("Result publisher cannot be nil for prompt compiler handler")
	}

	var pusher *push.Pusher
	if pushGatewayURL != "" {
		hostname, _ := os.Hostname() // Используем hostname для instance label
		pusher = push.New(pushGatewayURL, "prompt-compiler").
			Grouping("instance", hostname).
			Gatherer(prometheus.DefaultGatherer)
		logger.Info("Prometheus Pusher initialized", zap.String("url", pushGatewayURL), zap.String("instance", hostname))
	}

	return &Handler{
		logger:          logger,
		processor:       processor,
		resultPublisher: resultPublisher,
		pusher:          pusher,
	}
}

// HandleDelivery обрабатывает одно сообщение с EpisodeBeatsTaskPayload.
// Возвращает true, если исходное сообщение должно быть подтверждено (ack).
func (h *Handler) HandleDelivery(ctx context.Context, msg amqp091.Delivery) bool {
	defer h.pushMetrics()

	var task messaging.EpisodeBeatsTaskPayload
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		h.logger.Error("Failed to unmarshal task payload, dropping message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		unmarshalErrors.Inc()
		// Сообщение некорректно - повторная доставка не поможет.
		return true
	}

	log := h.logger.With(
		zap.String("task_id", task.TaskID),
		zap.String("story_id", task.StoryID),
		zap.Int("episode", task.EpisodeNumber),
		zap.Int("beats", len(task.Beats)),
	)
	log.Info("Received episode compile task")

	startTime := time.Now()
	outcomes := h.processor.ProcessEpisode(ctx, task)
	episodeDuration.Observe(time.Since(startTime).Seconds())

	summary := messaging.EpisodeCompletedPayload{
		TaskID:        task.TaskID,
		StoryID:       task.StoryID,
		EpisodeNumber: task.EpisodeNumber,
		TotalBeats:    len(outcomes),
	}

	publishOK := true
	for _, outcome := range outcomes {
		beatsProcessed.WithLabelValues(string(outcome.Status)).Inc()
		switch outcome.Status {
		case models.BeatStatusOK:
			summary.Succeeded++
		case models.BeatStatusFlagged:
			summary.Flagged++
		case models.BeatStatusSkipped:
			summary.Skipped++
		}
		if outcome.Status != models.BeatStatusSkipped {
			promptTokens.Observe(float64(outcome.Result.EstimatedTokens))
		}

		result := buildResultPayload(task.TaskID, outcome)
		if err := h.resultPublisher.Publish(ctx, result, msg.CorrelationId); err != nil {
			log.Error("Failed to publish beat result",
				zap.String("beat_id", outcome.Beat.BeatID),
				zap.Error(err),
			)
			publishResultErrors.Inc()
			publishOK = false
		}
	}

	if err := h.resultPublisher.Publish(ctx, summary, msg.CorrelationId); err != nil {
		log.Error("Failed to publish episode summary", zap.Error(err))
		publishResultErrors.Inc()
		publishOK = false
	}

	log.Info("Episode compile task finished",
		zap.Int("ok", summary.Succeeded),
		zap.Int("flagged", summary.Flagged),
		zap.Int("skipped", summary.Skipped),
		zap.Bool("publish_ok", publishOK),
	)

	// Даже при ошибках публикации переобработка всего эпизода не нужна:
	// результат детерминирован, но повторная доставка даст шанс опубликовать.
	return publishOK
}

// buildResultPayload собирает payload результата для одного бита.
func buildResultPayload(taskID string, outcome pipeline.BeatOutcome) messaging.BeatPromptResultPayload {
	payload := messaging.BeatPromptResultPayload{
		TaskID:          taskID,
		BeatID:          outcome.Beat.BeatID,
		SceneNumber:     outcome.Beat.SceneNumber,
		Status:          outcome.Status,
		VBS:             outcome.VBS,
		Prompt:          outcome.Result.Prompt,
		NegativePrompt:  outcome.Result.NegativePrompt,
		Params:          outcome.Result.Params,
		EstimatedTokens: outcome.Result.EstimatedTokens,
		Diagnostics:     outcome.Diagnostics,
	}
	if outcome.Err != nil {
		payload.ErrorDetails = outcome.Err.Error()
	}
	if outcome.Status != models.BeatStatusSkipped {
		repairAttempts.Observe(float64(outcome.Attempts))
	}
	return payload
}

func (h *Handler) pushMetrics() {
	if h.pusher == nil {
		return
	}
	if err := h.pusher.Push(); err != nil {
		h.logger.Error("Failed to push metrics to Pushgateway", zap.Error(err))
	} else {
		h.logger.Debug("Metrics pushed to Pushgateway")
	}
}
