package repair

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"storyteller/prompt-compiler/internal/compiler"
	"storyteller/prompt-compiler/internal/enrich"
	"storyteller/prompt-compiler/internal/fillin"
	"storyteller/prompt-compiler/internal/validator"
	"storyteller/shared/models"
)

// ErrRepairExhausted - repair-цикл исчерпал попытки, не получив кандидата
// без нарушений. Лучший найденный кандидат все равно выпускается с флагами.
var ErrRepairExhausted = errors.New("repair attempts exhausted")

// state - состояние конечного автомата repair-цикла.
type state int

const (
	stateDraft state = iota
	stateCompile
	stateValidate
	stateRepair
	stateDone
)

// Outcome - итог работы цикла для одного бита.
type Outcome struct {
	VBS         *models.VisualBeatSpec
	Result      compiler.Result
	Status      models.BeatStatus
	Diagnostics []models.Diagnostic
	Violations  []validator.Violation // Нарушения, оставшиеся у лучшего кандидата
	Attempts    int                   // Сколько repair-проходов было сделано
}

// candidate - пара VBS/результат с её нарушениями.
type candidate struct {
	vbs        *models.VisualBeatSpec
	result     compiler.Result
	violations []validator.Violation
}

// better сообщает, лучше ли кандидат c, чем other: меньше нарушений,
// при равенстве - меньше токенов.
func (c candidate) better(other *candidate) bool {
	if other == nil {
		return true
	}
	if len(c.violations) != len(other.violations) {
		return len(c.violations) < len(other.violations)
	}
	return c.result.EstimatedTokens < other.result.EstimatedTokens
}

// Loop - ограниченный конечный автомат compile/validate/repair.
type Loop struct {
	maxAttempts int
	opts        compiler.Options
	logger      *zap.Logger
}

// NewLoop создает repair-цикл. maxAttempts ограничивает число repair-проходов
// после первичной компиляции.
func NewLoop(maxAttempts int, opts compiler.Options, logger *zap.Logger) *Loop {
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	return &Loop{
		maxAttempts: maxAttempts,
		opts:        opts,
		logger:      logger.Named("RepairLoop"),
	}
}

// Run прогоняет VBS через автомат Draft -> Compile -> Validate -> {Done|Repair},
// Repair -> Compile, пока кандидат не пройдет валидацию или попытки не
// закончатся. Исходный VBS не изменяется: цикл работает с копией.
func (l *Loop) Run(vbs *models.VisualBeatSpec, sceneState *models.ScenePersistentState, departures []string) Outcome {
	work := vbs.Clone()

	var (
		best            *candidate
		current         candidate
		diags           []models.Diagnostic
		attempts        int
		compactionStage int
	)

	st := stateDraft
	for st != stateDone {
		switch st {
		case stateDraft:
			st = stateCompile

		case stateCompile:
			current = candidate{vbs: work}
			current.result = compiler.Compile(work, l.opts)
			st = stateValidate

		case stateValidate:
			current.violations = validator.Validate(work, current.result, sceneState, departures)
			if current.better(best) {
				snapshot := current
				snapshot.vbs = work.Clone()
				best = &snapshot
			}
			if len(current.violations) == 0 {
				st = stateDone
				break
			}
			if attempts >= l.maxAttempts {
				diags = append(diags, models.Diagnostic{
					Code:   models.DiagRepairExhausted,
					Detail: fmt.Sprintf("%d attempts, %d violations remain", attempts, len(best.violations)),
				})
				st = stateDone
				break
			}
			st = stateRepair

		case stateRepair:
			attempts++
			repairDiags := l.applyRepairs(work, current.violations, sceneState, &compactionStage)
			diags = append(diags, repairDiags...)
			st = stateCompile
		}
	}

	out := Outcome{
		VBS:         best.vbs,
		Result:      best.result,
		Diagnostics: diags,
		Violations:  best.violations,
		Attempts:    attempts,
	}

	if len(best.violations) == 0 {
		out.Status = models.BeatStatusOK
	} else {
		out.Status = models.BeatStatusFlagged
		for _, v := range best.violations {
			if v.Type == validator.ViolationBudget {
				out.Diagnostics = append(out.Diagnostics, models.Diagnostic{
					Code:   models.DiagBudgetOverflow,
					Detail: v.Detail,
				})
			}
		}
		l.logger.Warn("Beat emitted with unresolved violations",
			zap.String("beat_id", vbs.BeatID),
			zap.Int("attempts", attempts),
			zap.Int("violations", len(best.violations)),
		)
	}

	return out
}

// applyRepairs применяет стратегии починки к work в приоритетном порядке
// типов нарушений. За один проход каждая стратегия применяется не более
// одного раза; следующая компиляция покажет, что осталось.
func (l *Loop) applyRepairs(work *models.VisualBeatSpec, violations []validator.Violation, sceneState *models.ScenePersistentState, compactionStage *int) []models.Diagnostic {
	var diags []models.Diagnostic

	byType := make(map[validator.ViolationType][]validator.Violation)
	for _, v := range violations {
		byType[v.Type] = append(byType[v.Type], v)
	}

	if len(byType[validator.ViolationBudget]) > 0 {
		if detail := compact(work, *compactionStage); detail != "" {
			diags = append(diags, models.Diagnostic{Code: models.DiagCompacted, Detail: detail})
		}
		*compactionStage++
	}

	for _, v := range byType[validator.ViolationContinuity] {
		reinsertSubject(work, v.Subject, sceneState)
		diags = append(diags, models.Diagnostic{
			Code:   models.DiagSubjectReinserted,
			Detail: v.Subject,
		})
	}

	for _, v := range byType[validator.ViolationVisibility] {
		// Лицо скрыто шлемом: чиним производный флаг, маркер исчезнет
		// сам на следующей компиляции.
		if subj := work.Subject(v.Subject); subj != nil {
			if subj.HelmetState.FaceObscured() {
				subj.FaceVisible = false
			} else {
				subj.Segments.Face = ""
				diags = append(diags, models.Diagnostic{
					Code:   models.DiagSegmentDropped,
					Detail: "face:" + v.Subject,
				})
			}
		}
	}

	for _, v := range byType[validator.ViolationSegment] {
		dropStraySegments(work, v)
		diags = append(diags, models.Diagnostic{
			Code:   models.DiagSegmentDropped,
			Detail: v.Detail,
		})
	}

	for _, v := range byType[validator.ViolationTemplate] {
		repairTemplateElement(work, v)
	}

	return diags
}

// compact выполняет одну ступень приоритетного сжатия.
// Порядок фиксирован: атмосфера и эффекты -> реквизит -> вторичные якоря ->
// необязательные параметры кадра. Override-тексты, идентичность субъектов
// и сегмент-маркеры не удаляются никогда.
func compact(work *models.VisualBeatSpec, stage int) string {
	switch stage {
	case 0:
		if work.Environment.Atmosphere == "" && len(work.Environment.Effects) == 0 {
			return compact(work, stage+1)
		}
		work.Environment.Atmosphere = ""
		work.Environment.Effects = nil
		return "dropped atmosphere and effects"
	case 1:
		if len(work.Environment.Props) == 0 {
			return compact(work, stage+1)
		}
		work.Environment.Props = nil
		return "dropped props"
	case 2:
		if len(work.Environment.Anchors) <= 1 {
			return compact(work, stage+1)
		}
		work.Environment.Anchors = work.Environment.Anchors[:1]
		return "dropped secondary anchors"
	case 3:
		if work.Shot.DepthOfField == "" && work.Shot.Composition == "" {
			return ""
		}
		work.Shot.DepthOfField = ""
		work.Shot.Composition = ""
		return "dropped shot qualifiers"
	default:
		return ""
	}
}

// reinsertSubject возвращает пропавшего персонажа в кадр с минимальным
// описанием из состояния сцены.
func reinsertSubject(work *models.VisualBeatSpec, name string, sceneState *models.ScenePersistentState) {
	if work.Subject(name) != nil {
		return
	}

	subj := models.SubjectSpec{
		Name:        name,
		HelmetState: models.HelmetOff,
		Action:      fillin.DefaultValue(name+".action", work.TemplateType),
		Position:    "background",
	}
	if prev, ok := sceneState.Subjects[name]; ok {
		subj.HelmetState = prev.HelmetState
		subj.GearNotes = append([]string(nil), prev.Gear...)
		if prev.Position != "" {
			subj.Position = prev.Position
		}
	}
	subj.FaceVisible = !subj.HelmetState.FaceObscured()

	work.Subjects = append(work.Subjects, subj)
}

// dropStraySegments убирает привязки, на которые указало нарушение размещения.
func dropStraySegments(work *models.VisualBeatSpec, v validator.Violation) {
	if v.Subject == "" {
		return
	}
	if subj := work.Subject(v.Subject); subj != nil {
		subj.Segments = models.SegmentBindings{}
	}
}

// repairTemplateElement дозаполняет обязательный элемент шаблона
// детерминированным значением по умолчанию.
func repairTemplateElement(work *models.VisualBeatSpec, v validator.Violation) {
	switch work.TemplateType {
	case models.TemplateVehicle, models.TemplateEstablishing, models.TemplateIndoorDialogue:
		if el := enrich.DefaultTemplateElement(work.TemplateType); el != "" {
			work.Environment.Anchors = append(work.Environment.Anchors, el)
		}
	case models.TemplateCombat:
		if subj := work.Subject(v.Subject); subj != nil && subj.Action == "" {
			subj.Action = fillin.DefaultValue(v.Subject+".action", work.TemplateType)
		}
	}
}
