package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"storyteller/prompt-compiler/internal/compiler"
	"storyteller/prompt-compiler/internal/config"
	"storyteller/prompt-compiler/internal/continuity"
	"storyteller/prompt-compiler/internal/enrich"
	"storyteller/prompt-compiler/internal/fillin"
	"storyteller/prompt-compiler/internal/repair"
	"storyteller/prompt-compiler/internal/validator"
	"storyteller/shared/messaging"
	"storyteller/shared/models"
)

// BeatOutcome - итог обработки одного бита.
type BeatOutcome struct {
	Beat        models.RawBeat
	Status      models.BeatStatus
	VBS         *models.VisualBeatSpec
	Result      compiler.Result
	Diagnostics []models.Diagnostic
	Violations  []validator.Violation
	Attempts    int // Repair-проходы, потраченные на бит
	Err         error
}

// Processor прогоняет биты эпизода через конвейер компиляции.
//
// Биты одной сцены обрабатываются строго по порядку: обогащение читает,
// а трекер пишет общее состояние сцены. Разные сцены независимы и
// обрабатываются параллельно с ограничением SceneConcurrency.
type Processor struct {
	cfg     *config.Config
	gateway *fillin.Gateway
	logger  *zap.Logger
}

// NewProcessor создает Processor.
func NewProcessor(cfg *config.Config, gateway *fillin.Gateway, logger *zap.Logger) *Processor {
	return &Processor{
		cfg:     cfg,
		gateway: gateway,
		logger:  logger.Named("Pipeline"),
	}
}

// ProcessEpisode обрабатывает все биты задачи и возвращает результаты
// в исходном порядке битов. Отмена ctx останавливает все сцены и
// прерывает незавершенные fill-in вызовы.
func (p *Processor) ProcessEpisode(ctx context.Context, task messaging.EpisodeBeatsTaskPayload) []BeatOutcome {
	lookup := newTaskLookup(task)
	tracker := continuity.NewTracker(p.logger)

	enricher := enrich.NewEnricher(lookup, enrich.Options{
		TokenBudget:      p.tokenBudget(task),
		ArtifactsPerKind: p.cfg.Pipeline.ArtifactsPerKind,
		MaxProps:         p.cfg.Pipeline.MaxProps,
	}, p.logger)

	loop := repair.NewLoop(p.cfg.Pipeline.RepairMaxAttempts, p.compilerOptions(task), p.logger)

	// Группируем биты по сценам, сохраняя порядок внутри сцены
	// и исходный индекс для сборки результата.
	type indexedBeat struct {
		idx  int
		beat models.RawBeat
	}
	scenes := make(map[int][]indexedBeat)
	var sceneNumbers []int
	for i, beat := range task.Beats {
		if _, ok := scenes[beat.SceneNumber]; !ok {
			sceneNumbers = append(sceneNumbers, beat.SceneNumber)
		}
		scenes[beat.SceneNumber] = append(scenes[beat.SceneNumber], indexedBeat{idx: i, beat: beat})
	}
	sort.Ints(sceneNumbers)

	outcomes := make([]BeatOutcome, len(task.Beats))

	concurrency := p.cfg.Pipeline.SceneConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	var wg sync.WaitGroup
	for _, scene := range sceneNumbers {
		beats := scenes[scene]
		wg.Add(1)
		go func(scene int, beats []indexedBeat) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			for _, ib := range beats {
				if ctx.Err() != nil {
					outcomes[ib.idx] = BeatOutcome{Beat: ib.beat, Status: models.BeatStatusSkipped, Err: ctx.Err()}
					continue
				}
				outcomes[ib.idx] = p.processBeat(ctx, ib.beat, enricher, loop, tracker)
			}
			tracker.Drop(scene)
		}(scene, beats)
	}
	wg.Wait()

	return outcomes
}

// processBeat обрабатывает один бит: обогащение -> fill-in -> repair-цикл ->
// фиксация состояния сцены. Состояние сцены обновляется ровно один раз,
// уже после того, как repair выпустил финального кандидата.
func (p *Processor) processBeat(ctx context.Context, beat models.RawBeat, enricher *enrich.Enricher, loop *repair.Loop, tracker *continuity.Tracker) BeatOutcome {
	log := p.logger.With(zap.String("beat_id", beat.BeatID), zap.Int("scene", beat.SceneNumber))

	sceneState := tracker.Read(beat.SceneNumber)

	vbs, missing, diags, err := enricher.Enrich(beat, sceneState)
	if err != nil {
		if errors.Is(err, enrich.ErrMissingData) {
			log.Warn("Beat skipped: missing required data", zap.Error(err))
			return BeatOutcome{
				Beat:   beat,
				Status: models.BeatStatusSkipped,
				Diagnostics: append(diags, models.Diagnostic{
					Code:   models.DiagMissingData,
					Detail: err.Error(),
				}),
				Err: err,
			}
		}
		return BeatOutcome{Beat: beat, Status: models.BeatStatusSkipped, Err: err}
	}

	// Fill-in вызывается только при наличии незаполненных слотов;
	// не более одного сетевого вызова на бит.
	if len(missing) > 0 {
		values, fillDiags := p.gateway.Fill(ctx, vbs, missing)
		fillin.Apply(vbs, values)
		diags = append(diags, fillDiags...)
	}

	outcome := loop.Run(vbs, sceneState, beat.Departures)
	outcome.Diagnostics = append(diags, outcome.Diagnostics...)

	// Единственная точка записи состояния сцены за весь бит.
	tracker.Update(beat.SceneNumber, outcome.VBS, beat.Departures)

	log.Info("Beat compiled",
		zap.String("status", string(outcome.Status)),
		zap.Int("tokens", outcome.Result.EstimatedTokens),
		zap.Int("repair_attempts", outcome.Attempts),
	)

	return BeatOutcome{
		Beat:        beat,
		Status:      outcome.Status,
		VBS:         outcome.VBS,
		Result:      outcome.Result,
		Diagnostics: outcome.Diagnostics,
		Violations:  outcome.Violations,
		Attempts:    outcome.Attempts,
	}
}

func (p *Processor) tokenBudget(task messaging.EpisodeBeatsTaskPayload) int {
	if task.TokenBudget > 0 {
		return task.TokenBudget
	}
	return p.cfg.Pipeline.TokenBudget
}

// compilerOptions собирает сквозные параметры компиляции: негативный промпт
// и числовые параметры генерации непрозрачны для конвейера и прокидываются
// в результат без изменений.
func (p *Processor) compilerOptions(task messaging.EpisodeBeatsTaskPayload) compiler.Options {
	gen := p.cfg.Generation

	params := messaging.GenerationParams{
		Steps:         gen.Steps,
		GuidanceScale: gen.GuidanceScale,
		GuidanceEnd:   gen.GuidanceEnd,
		Width:         gen.Width,
		Height:        gen.Height,
		SeedPolicy:    gen.SeedPolicy,
	}
	if task.Params != nil {
		params = *task.Params
	}

	negative := gen.NegativePrompt
	if task.NegativePrompt != "" {
		negative = task.NegativePrompt
	}

	return compiler.Options{
		StyleSuffix:    gen.StyleSuffix,
		NegativePrompt: negative,
		Params:         params,
	}
}
