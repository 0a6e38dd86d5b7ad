package fillin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storyteller/prompt-compiler/internal/config"
)

// ErrFillFailed - вызов генеративной модели не удался или ответ нарушил схему.
// Повторных сетевых попыток внутри одного бита не делается: шлюз подставляет
// детерминированные значения по умолчанию.
var ErrFillFailed = errors.New("fill-in request failed")

// Client - узкий интерфейс к генеративной текстовой модели.
// Возвращает сырой текст ответа; разбор и проверка схемы - забота шлюза.
type Client interface {
	Complete(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// NewClient создает клиента по конфигурации.
func NewClient(cfg config.FillConfig) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		return newOpenAIClient(cfg)
	case "ollama":
		return newOllamaClient(cfg)
	default:
		return nil, fmt.Errorf("unknown fill provider: %s", cfg.Provider)
	}
}
