package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"storyteller/shared/logger" // Для конфигурации логгера
)

// Config структура для хранения всей конфигурации воркера.
type Config struct {
	AppEnv         string `env:"APP_ENV" env-default:"development"`
	Logger         logger.Config
	RabbitMQ       RabbitMQConfig
	Fill           FillConfig
	Pipeline       PipelineConfig
	Generation     GenerationConfig
	PushGatewayURL string `env:"PUSHGATEWAY_URL" env-default:""`
}

// RabbitMQConfig конфигурация для подключения к RabbitMQ.
type RabbitMQConfig struct {
	URL              string      `env:"RABBITMQ_URL" env-required:"true"`
	ConsumerName     string      `env:"RABBITMQ_CONSUMER_NAME" env-default:"prompt_compiler_worker"`
	TaskQueue        QueueConfig `env-prefix:"RABBITMQ_BEAT_TASK_QUEUE_"`
	ResultQueueName  string      `env:"PROMPT_RESULT_QUEUE" env-default:"beat_prompt_results"`
	ResultExchange   string      `env:"RABBITMQ_RESULT_EXCHANGE" env-default:""`
	ResultRoutingKey string      `env:"RABBITMQ_RESULT_ROUTING_KEY" env-default:""`
}

// QueueConfig настройки для конкретной очереди RabbitMQ.
type QueueConfig struct {
	Name       string `env:"NAME" env-default:"beat_compile_tasks"`
	Durable    bool   `env:"DURABLE" env-default:"true"`
	AutoDelete bool   `env:"AUTO_DELETE" env-default:"false"`
	Exclusive  bool   `env:"EXCLUSIVE" env-default:"false"`
	NoWait     bool   `env:"NO_WAIT" env-default:"false"`
}

// FillConfig конфигурация fill-in шлюза (генеративное дозаполнение слотов).
type FillConfig struct {
	Provider string        `env:"FILL_PROVIDER" env-default:"openai"` // "openai" | "ollama"
	BaseURL  string        `env:"FILL_BASE_URL" env-default:""`
	APIKey   string        `env:"FILL_API_KEY" env-default:""`
	Model    string        `env:"FILL_MODEL" env-default:"gpt-4o-mini"`
	Timeout  time.Duration `env:"FILL_TIMEOUT" env-default:"30s"` // Таймаут одного вызова; повторов внутри бита нет
}

// PipelineConfig параметры конвейера компиляции.
type PipelineConfig struct {
	TokenBudget       int `env:"PROMPT_TOKEN_BUDGET" env-default:"150"`     // Бюджет токенов промпта по умолчанию
	RepairMaxAttempts int `env:"REPAIR_MAX_ATTEMPTS" env-default:"4"`       // Максимум попыток repair-цикла
	ArtifactsPerKind  int `env:"LOCATION_ARTIFACTS_PER_CATEGORY" env-default:"2"` // Потолок артефактов локации на категорию
	MaxProps          int `env:"PROMPT_MAX_PROPS" env-default:"3"`          // Потолок реквизита в промпте
	SceneConcurrency  int `env:"SCENE_CONCURRENCY" env-default:"4"`         // Параллельно обрабатываемые сцены
}

// GenerationConfig параметры генерации, прокидываемые в результат как есть.
type GenerationConfig struct {
	NegativePrompt string  `env:"IMAGE_NEGATIVE_PROMPT" env-default:"lowres, bad anatomy, bad hands, extra digits, watermark, text"`
	StyleSuffix    string  `env:"IMAGE_PROMPT_STYLE_SUFFIX" env-default:", cinematic lighting, film grain, high detail, cohesive color grading"`
	Steps          int     `env:"IMAGE_STEPS" env-default:"28"`
	GuidanceScale  float64 `env:"IMAGE_GUIDANCE_SCALE" env-default:"5.5"`
	GuidanceEnd    float64 `env:"IMAGE_GUIDANCE_END" env-default:"0"`
	Width          int     `env:"IMAGE_WIDTH" env-default:"1216"`
	Height         int     `env:"IMAGE_HEIGHT" env-default:"832"`
	SeedPolicy     string  `env:"IMAGE_SEED_POLICY" env-default:"per_scene"`
}

// Load загружает конфигурацию из переменных окружения и .env файла.
func Load() *Config {
	// Загружаем .env файл (игнорируем ошибку, если файла нет)
	_ = godotenv.Load()

	var cfg Config

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	return &cfg
}
