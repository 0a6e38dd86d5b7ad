package messaging

import (
	"context"

	"storyteller/shared/models"
)

// Publisher - общий интерфейс издателя сообщений.
type Publisher interface {
	Publish(ctx context.Context, payload interface{}, correlationID string) error
	Close() error
}

// GenerationParams - числовые параметры генерации изображения.
// Ядро их не интерпретирует: значения прокидываются в результат как есть.
type GenerationParams struct {
	Steps         int     `json:"steps"`
	GuidanceScale float64 `json:"guidanceScale"`
	GuidanceEnd   float64 `json:"guidanceEnd,omitempty"` // Вторая шкала guidance (если бекенд поддерживает)
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	SeedPolicy    string  `json:"seedPolicy"` // "random" | "fixed" | "per_scene"
	Seed          int64   `json:"seed,omitempty"`
}

// EpisodeBeatsTaskPayload - задача на компиляцию промптов для всех битов эпизода.
// Справочники персонажей и локаций приходят вместе с задачей: ядро не ходит
// во внешние хранилища самостоятельно.
type EpisodeBeatsTaskPayload struct {
	TaskID        string            `json:"taskId"`
	StoryID       string            `json:"storyId"`
	EpisodeNumber int               `json:"episodeNumber"`
	Beats         []models.RawBeat  `json:"beats"` // Отсортированы по сцене и порядку битов
	// CharacterContexts: персонаж -> локация -> контекст.
	CharacterContexts map[string]map[string]models.CharacterLocationContext `json:"characterContexts"`
	// LocationArtifacts: локация -> категоризированные визуальные факты.
	LocationArtifacts map[string][]models.LocationArtifact `json:"locationArtifacts"`
	// Params - параметры генерации для бекенда (опционально, иначе из конфига).
	Params *GenerationParams `json:"params,omitempty"`
	// NegativePrompt - негативный промпт (опционально, иначе из конфига).
	NegativePrompt string `json:"negativePrompt,omitempty"`
	// TokenBudget - бюджет токенов промпта (опционально, иначе из конфига).
	TokenBudget int `json:"tokenBudget,omitempty"`
}

// BeatPromptResultPayload - результат компиляции одного бита.
// Отправляется во внешнюю систему хранения/ревью; ядро не управляет
// версионированием и не опрашивает image-бекенд.
type BeatPromptResultPayload struct {
	TaskID         string                 `json:"taskId"`
	BeatID         string                 `json:"beatId"`
	SceneNumber    int                    `json:"sceneNumber"`
	Status         models.BeatStatus      `json:"status"`
	VBS            *models.VisualBeatSpec `json:"vbs,omitempty"`
	Prompt         string                 `json:"prompt,omitempty"`
	NegativePrompt string                 `json:"negativePrompt,omitempty"`
	Params         GenerationParams       `json:"params"`
	EstimatedTokens int                   `json:"estimatedTokens"`
	Diagnostics    []models.Diagnostic    `json:"diagnostics,omitempty"`
	ErrorDetails   string                 `json:"errorDetails,omitempty"`
}

// EpisodeCompletedPayload - сводка по завершенному эпизоду.
type EpisodeCompletedPayload struct {
	TaskID        string `json:"taskId"`
	StoryID       string `json:"storyId"`
	EpisodeNumber int    `json:"episodeNumber"`
	TotalBeats    int    `json:"totalBeats"`
	Succeeded     int    `json:"succeeded"`
	Flagged       int    `json:"flagged"`
	Skipped       int    `json:"skipped"`
}
