package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyteller/prompt-compiler/internal/config"
	"storyteller/prompt-compiler/internal/fillin"
	"storyteller/prompt-compiler/internal/mocks"
	"storyteller/prompt-compiler/internal/pipeline"
	"storyteller/shared/messaging"
	"storyteller/shared/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			TokenBudget:       300,
			RepairMaxAttempts: 4,
			ArtifactsPerKind:  2,
			MaxProps:          3,
			SceneConcurrency:  4,
		},
		Generation: config.GenerationConfig{
			NegativePrompt: "lowres, watermark",
			StyleSuffix:    ", cinematic lighting",
			Steps:          28,
			Width:          1216,
			Height:         832,
			SeedPolicy:     "per_scene",
		},
	}
}

// newTestProcessor собирает Processor с fill-in клиентом, который всегда
// падает: конвейер детерминированно подставляет значения по умолчанию.
func newTestProcessor(t *testing.T, cfg *config.Config) *pipeline.Processor {
	client := mocks.NewMockFillClient(t)
	client.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("model offline")).Maybe()

	gateway := fillin.NewGateway(client, time.Second, zap.NewNop())
	return pipeline.NewProcessor(cfg, gateway, zap.NewNop())
}

func testTask(beats ...models.RawBeat) messaging.EpisodeBeatsTaskPayload {
	return messaging.EpisodeBeatsTaskPayload{
		TaskID:        "task-1",
		StoryID:       "story-1",
		EpisodeNumber: 3,
		Beats:         beats,
		CharacterContexts: map[string]map[string]models.CharacterLocationContext{
			"ira": {
				"docks": {
					Character:        "ira",
					TriggerToken:     "ira_v2",
					PhysicalFragment: "tall woman with cropped gray hair",
					ClothingFragment: "worn leather jacket",
				},
			},
			"val": {
				// Контекст без привязки к локации - запасной ключ.
				"": {
					Character:    "val",
					TriggerToken: "val_v1",
					OverrideText: "VAL, exactly as rendered in reference sheet 3",
				},
			},
		},
		LocationArtifacts: map[string][]models.LocationArtifact{
			"docks": {
				{Category: models.ArtifactStructural, Text: "rusted loading crane"},
				{Category: models.ArtifactLighting, Text: "sodium vapor lamps"},
			},
		},
	}
}

func TestProcessEpisode_SingleScene(t *testing.T) {
	processor := newTestProcessor(t, testConfig())

	task := testTask(
		models.RawBeat{BeatID: "b1", SceneNumber: 1, LocationID: "docks", Text: "Ira waits by the railing.", Characters: []string{"ira"}},
		models.RawBeat{BeatID: "b2", SceneNumber: 1, LocationID: "docks", Text: "Val joins her.", Characters: []string{"val"}},
		models.RawBeat{BeatID: "b3", SceneNumber: 1, LocationID: "docks", Text: "Val turns and leaves.", Departures: []string{"val"}},
	)

	outcomes := processor.ProcessEpisode(context.Background(), task)
	require.Len(t, outcomes, 3)

	// Результаты в исходном порядке битов.
	assert.Equal(t, "b1", outcomes[0].Beat.BeatID)
	assert.Equal(t, "b2", outcomes[1].Beat.BeatID)
	assert.Equal(t, "b3", outcomes[2].Beat.BeatID)

	for _, outcome := range outcomes {
		assert.Equal(t, models.BeatStatusOK, outcome.Status, "beat %s", outcome.Beat.BeatID)
		assert.NotEmpty(t, outcome.Result.Prompt)
	}

	// Второй бит наследует иру из состояния сцены.
	require.NotNil(t, outcomes[1].VBS)
	assert.NotNil(t, outcomes[1].VBS.Subject("ira"))
	assert.NotNil(t, outcomes[1].VBS.Subject("val"))

	// Третий бит: вал ушла, ира осталась.
	require.NotNil(t, outcomes[2].VBS)
	assert.NotNil(t, outcomes[2].VBS.Subject("ira"))
	assert.Nil(t, outcomes[2].VBS.Subject("val"))

	// Override скопирован дословно в промпт второго бита.
	assert.Contains(t, outcomes[1].Result.Prompt, "VAL, exactly as rendered in reference sheet 3")
}

func TestProcessEpisode_FillDegradedDiagnostics(t *testing.T) {
	processor := newTestProcessor(t, testConfig())

	task := testTask(
		models.RawBeat{BeatID: "b1", SceneNumber: 1, LocationID: "docks", Text: "Ira waits.", Characters: []string{"ira"}},
	)

	outcomes := processor.ProcessEpisode(context.Background(), task)
	require.Len(t, outcomes, 1)

	// Fill-in упал, бит выпущен со значениями по умолчанию и диагностикой.
	assert.Equal(t, models.BeatStatusOK, outcomes[0].Status)
	assert.True(t, models.HasCode(outcomes[0].Diagnostics, models.DiagFillDegraded))
	assert.Equal(t, "standing naturally", outcomes[0].VBS.Subject("ira").Action)
}

func TestProcessEpisode_SkipsBeatWithoutLocation(t *testing.T) {
	processor := newTestProcessor(t, testConfig())

	task := testTask(
		models.RawBeat{BeatID: "b1", SceneNumber: 1, Text: "No location here.", Characters: []string{"ira"}},
		models.RawBeat{BeatID: "b2", SceneNumber: 1, LocationID: "docks", Text: "Ira waits.", Characters: []string{"ira"}},
	)

	outcomes := processor.ProcessEpisode(context.Background(), task)
	require.Len(t, outcomes, 2)

	assert.Equal(t, models.BeatStatusSkipped, outcomes[0].Status)
	assert.True(t, models.HasCode(outcomes[0].Diagnostics, models.DiagMissingData))
	assert.Error(t, outcomes[0].Err)

	// Пропуск одного бита не останавливает сцену.
	assert.Equal(t, models.BeatStatusOK, outcomes[1].Status)
}

func TestProcessEpisode_ScenesAreIsolated(t *testing.T) {
	processor := newTestProcessor(t, testConfig())

	task := testTask(
		models.RawBeat{BeatID: "b1", SceneNumber: 1, LocationID: "docks", Text: "Ira waits.", Characters: []string{"ira"}},
		models.RawBeat{BeatID: "b2", SceneNumber: 2, LocationID: "docks", Text: "Val stands alone.", Characters: []string{"val"}},
	)

	outcomes := processor.ProcessEpisode(context.Background(), task)
	require.Len(t, outcomes, 2)

	// Ира из сцены 1 не просачивается в сцену 2.
	require.NotNil(t, outcomes[1].VBS)
	assert.Nil(t, outcomes[1].VBS.Subject("ira"))
	assert.NotNil(t, outcomes[1].VBS.Subject("val"))
}

func TestProcessEpisode_ManyScenesConcurrently(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.SceneConcurrency = 2
	processor := newTestProcessor(t, cfg)

	var beats []models.RawBeat
	for scene := 1; scene <= 6; scene++ {
		beats = append(beats,
			models.RawBeat{BeatID: beatID(scene, 1), SceneNumber: scene, LocationID: "docks", Text: "Ira waits.", Characters: []string{"ira"}},
			models.RawBeat{BeatID: beatID(scene, 2), SceneNumber: scene, LocationID: "docks", Text: "Still waiting.", Characters: []string{"ira"}},
		)
	}

	outcomes := processor.ProcessEpisode(context.Background(), testTask(beats...))
	require.Len(t, outcomes, 12)

	for i, outcome := range outcomes {
		assert.Equal(t, beats[i].BeatID, outcome.Beat.BeatID)
		assert.Equal(t, models.BeatStatusOK, outcome.Status, "beat %s", outcome.Beat.BeatID)
	}
}

func beatID(scene, beat int) string {
	return string(rune('a'+scene)) + "-" + string(rune('0'+beat))
}

func TestProcessEpisode_ContextCancellation(t *testing.T) {
	processor := newTestProcessor(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := testTask(
		models.RawBeat{BeatID: "b1", SceneNumber: 1, LocationID: "docks", Text: "Ira waits.", Characters: []string{"ira"}},
	)

	outcomes := processor.ProcessEpisode(ctx, task)
	require.Len(t, outcomes, 1)
	assert.Equal(t, models.BeatStatusSkipped, outcomes[0].Status)
	assert.ErrorIs(t, outcomes[0].Err, context.Canceled)
}

func TestProcessEpisode_TaskOverrides(t *testing.T) {
	processor := newTestProcessor(t, testConfig())

	task := testTask(
		models.RawBeat{BeatID: "b1", SceneNumber: 1, LocationID: "docks", Text: "Ira waits.", Characters: []string{"ira"}},
	)
	task.NegativePrompt = "custom negative"
	task.Params = &messaging.GenerationParams{Steps: 40, Width: 1024, Height: 1024, SeedPolicy: "fixed", Seed: 7}

	outcomes := processor.ProcessEpisode(context.Background(), task)
	require.Len(t, outcomes, 1)

	assert.Equal(t, "custom negative", outcomes[0].Result.NegativePrompt)
	assert.Equal(t, *task.Params, outcomes[0].Result.Params)
}
