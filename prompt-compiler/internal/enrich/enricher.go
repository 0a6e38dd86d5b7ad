package enrich

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"storyteller/shared/models"
	"storyteller/shared/utils"
)

// ErrMissingData - отсутствует обязательный статический факт, бит не может
// быть обогащен. Такой бит пропускается с диагностикой, батч продолжается.
var ErrMissingData = errors.New("missing required beat data")

// ContextLookup - read-only доступ к справочникам персонажей и локаций.
type ContextLookup interface {
	// CharacterAt возвращает контекст персонажа в локации.
	CharacterAt(character, location string) (models.CharacterLocationContext, bool)
	// LocationArtifacts возвращает категоризированные визуальные факты локации.
	LocationArtifacts(location string) []models.LocationArtifact
}

// Options - параметры обогащения.
type Options struct {
	TokenBudget      int // Бюджет токенов для Constraints
	ArtifactsPerKind int // Потолок артефактов локации на категорию
	MaxProps         int // Потолок реквизита
}

// Enricher детерминированно собирает частичный VBS из структурных источников.
// Творческие детали (действие, выражение лица) не выдумываются: если их нет,
// слот попадает в список незаполненных и уходит в fill-in шлюз.
type Enricher struct {
	lookup ContextLookup
	opts   Options
	logger *zap.Logger
}

// NewEnricher создает Enricher.
func NewEnricher(lookup ContextLookup, opts Options, logger *zap.Logger) *Enricher {
	if opts.ArtifactsPerKind <= 0 {
		opts.ArtifactsPerKind = 2
	}
	if opts.MaxProps <= 0 {
		opts.MaxProps = 3
	}
	return &Enricher{
		lookup: lookup,
		opts:   opts,
		logger: logger.Named("Enricher"),
	}
}

// Enrich строит частичный VBS для бита с учетом состояния сцены.
// Возвращает VBS, имена незаполненных слотов (формат "<персонаж>.<поле>")
// и накопленные диагностики.
func (e *Enricher) Enrich(beat models.RawBeat, state *models.ScenePersistentState) (*models.VisualBeatSpec, []string, []models.Diagnostic, error) {
	if beat.BeatID == "" {
		return nil, nil, nil, fmt.Errorf("%w: beat id is empty", ErrMissingData)
	}
	if beat.LocationID == "" {
		return nil, nil, nil, fmt.Errorf("%w: beat %s has no location", ErrMissingData, beat.BeatID)
	}

	var diags []models.Diagnostic

	template := ClassifyTemplate(beat)

	vbs := &models.VisualBeatSpec{
		BeatID:       beat.BeatID,
		SceneNumber:  beat.SceneNumber,
		TemplateType: template,
		Shot:         e.shotFor(beat, template),
		Constraints: models.ConstraintSpec{
			TokenBudget:   e.opts.TokenBudget,
			SegmentPolicy: models.SegmentIfFaceVisible,
		},
	}

	// Состав субъектов: явно присутствующие в бите плюс все, кого сцена уже
	// знает как присутствующих, минус явно ушедшие в этом бите.
	names := e.subjectNames(beat, state)

	var missing []string
	for _, name := range names {
		subj, subjMissing := e.buildSubject(name, beat, state)
		vbs.Subjects = append(vbs.Subjects, subj)
		missing = append(missing, subjMissing...)
	}

	e.buildEnvironment(vbs, beat, state)

	// Маршрут модели: альтернативный, когда ни одно лицо не видно.
	if vbs.AnyFaceVisible() {
		vbs.ModelRoute = models.RoutePrimary
	} else {
		vbs.ModelRoute = models.RouteAlternate
	}

	e.logger.Debug("Beat enriched",
		zap.String("beat_id", beat.BeatID),
		zap.String("template", string(template)),
		zap.Int("subjects", len(vbs.Subjects)),
		zap.Strings("missing_slots", missing),
	)

	return vbs, missing, diags, nil
}

// shotFor возвращает кадр бита: подсказка автора перекрывает тип плана
// по умолчанию, остальные параметры кадра берутся из шаблона.
func (e *Enricher) shotFor(beat models.RawBeat, template models.TemplateType) models.ShotSpec {
	shot := DefaultShot(template)
	if beat.ShotHint != "" {
		shot.Type = beat.ShotHint
	}
	return shot
}

// subjectNames возвращает детерминированный список имен субъектов бита:
// порядок из бита сохраняется, унаследованные из состояния сцены идут
// следом по алфавиту.
func (e *Enricher) subjectNames(beat models.RawBeat, state *models.ScenePersistentState) []string {
	departed := make(map[string]bool, len(beat.Departures))
	for _, name := range beat.Departures {
		departed[name] = true
	}

	seen := make(map[string]bool)
	var names []string
	for _, name := range beat.Characters {
		if departed[name] || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	var inherited []string
	for _, name := range state.PresentSubjects() {
		if departed[name] || seen[name] {
			continue
		}
		seen[name] = true
		inherited = append(inherited, name)
	}
	sort.Strings(inherited)

	return append(names, inherited...)
}

// buildSubject собирает субъекта из контекста персонажа и состояния сцены.
func (e *Enricher) buildSubject(name string, beat models.RawBeat, state *models.ScenePersistentState) (models.SubjectSpec, []string) {
	subj := models.SubjectSpec{
		Name:        name,
		HelmetState: models.HelmetOff,
	}

	ctx, hasCtx := e.lookup.CharacterAt(name, beat.LocationID)
	if hasCtx {
		subj.TriggerToken = ctx.TriggerToken
		subj.OverrideText = ctx.OverrideText
		subj.GearNotes = append([]string(nil), ctx.GearFragments...)
		if ctx.HelmetState != "" {
			subj.HelmetState = ctx.HelmetState
		}
		if subj.OverrideText == "" {
			subj.Description = utils.JoinNonEmpty(", ", ctx.PhysicalFragment, ctx.ClothingFragment, ctx.DemeanorFragment)
		}
	}

	// Состояние сцены перекрывает статический контекст: шлем и позиция
	// наследуются из последнего наблюдения, пока бит их явно не сменит.
	if prev, ok := state.Subjects[name]; ok && !prev.Departed {
		subj.HelmetState = prev.HelmetState
		subj.Position = prev.Position
		if len(prev.Gear) > 0 {
			subj.GearNotes = append([]string(nil), prev.Gear...)
		}
	}
	if hint, ok := beat.HelmetHints[name]; ok {
		subj.HelmetState = hint
	}

	subj.FaceVisible = !subj.HelmetState.FaceObscured()

	// Привязка сегмент-маркеров. При правиле "never" привязки не ставятся.
	rule := models.SegmentIfFaceVisible
	if hasCtx && ctx.FaceSegmentRule != "" {
		rule = ctx.FaceSegmentRule
	}
	if rule != models.SegmentNever {
		subj.Segments.Face = segmentLabel(ctx.FaceSegmentLabel, "face", name)
		subj.Segments.Clothing = segmentLabel(ctx.ClothSegmentLabel, "outfit", name)
	}

	// Незаполненные творческие слоты. Для субъекта с override описание
	// не генерируется, но действие и выражение лица все равно нужны кадру.
	var missing []string
	if subj.Action == "" {
		missing = append(missing, name+".action")
	}
	if subj.Expression == "" && subj.FaceVisible {
		missing = append(missing, name+".expression")
	}
	if !hasCtx && subj.OverrideText == "" && subj.Description == "" {
		missing = append(missing, name+".description")
	}

	return subj, missing
}

func segmentLabel(explicit, kind, name string) string {
	if explicit != "" {
		return explicit
	}
	return kind + "_" + name
}

// buildEnvironment заполняет окружение из артефактов локации.
// Якоря, закрепленные сценой ранее, имеют приоритет над повторным отбором.
func (e *Enricher) buildEnvironment(vbs *models.VisualBeatSpec, beat models.RawBeat, state *models.ScenePersistentState) {
	env := models.EnvironmentSpec{LocationTag: beat.LocationID}

	artifacts := e.lookup.LocationArtifacts(beat.LocationID)
	counts := make(map[models.ArtifactCategory]int)
	for _, a := range artifacts {
		if counts[a.Category] >= e.opts.ArtifactsPerKind {
			continue
		}
		counts[a.Category]++
		switch a.Category {
		case models.ArtifactStructural:
			env.Anchors = append(env.Anchors, a.Text)
		case models.ArtifactLighting:
			if env.Lighting == "" {
				env.Lighting = a.Text
			} else {
				env.Lighting += ", " + a.Text
			}
		case models.ArtifactAtmospheric:
			if env.Atmosphere == "" {
				env.Atmosphere = a.Text
			} else {
				env.Atmosphere += ", " + a.Text
			}
		case models.ArtifactProp:
			if len(env.Props) < e.opts.MaxProps {
				env.Props = append(env.Props, a.Text)
			}
		}
	}

	if len(state.Anchors) > 0 {
		env.Anchors = append([]string(nil), state.Anchors...)
	}

	vbs.Environment = env
}

// DefaultTemplateElement возвращает детерминированный элемент окружения,
// добавляемый repair-циклом, когда шаблону не хватает обязательного якоря.
func DefaultTemplateElement(t models.TemplateType) string {
	switch t {
	case models.TemplateVehicle:
		return "vehicle interior"
	case models.TemplateIndoorDialogue:
		return "interior room"
	case models.TemplateEstablishing:
		return "expansive view of the location"
	default:
		return ""
	}
}
