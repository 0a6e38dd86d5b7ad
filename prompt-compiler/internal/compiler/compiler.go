package compiler

import (
	"fmt"
	"strings"

	"storyteller/shared/messaging"
	"storyteller/shared/models"
	"storyteller/shared/utils"
)

// standardDirectives - стандартные композиционные директивы, добавляемые
// каждому промпту после блока окружения.
const standardDirectives = "coherent perspective, consistent character design"

// Options - сквозные параметры компиляции, непрозрачные для сборки.
type Options struct {
	StyleSuffix    string                     // Стилевой суффикс, добавляется к каждому промпту
	NegativePrompt string                     // Прокидывается в результат без изменений
	Params         messaging.GenerationParams // Прокидывается в результат без изменений
}

// Result - результат компиляции одного VBS.
type Result struct {
	Prompt          string
	NegativePrompt  string
	Params          messaging.GenerationParams
	EstimatedTokens int
}

// Compile детерминированно собирает промпт из полного VBS.
// Чистая функция: VBS не изменяется, усечения не происходит - превышение
// бюджета только отражается в EstimatedTokens и решается валидатором
// и repair-циклом выше.
//
// Порядок сборки фиксирован: кадр -> субъекты -> окружение -> стандартные
// директивы -> стилевой суффикс -> сегмент-маркеры.
func Compile(vbs *models.VisualBeatSpec, opts Options) Result {
	var parts []string

	if shot := shotBlock(vbs.Shot); shot != "" {
		parts = append(parts, shot)
	}

	for i := range vbs.Subjects {
		if block := subjectBlock(&vbs.Subjects[i]); block != "" {
			parts = append(parts, block)
		}
	}

	if env := environmentBlock(vbs.Environment); env != "" {
		parts = append(parts, env)
	}

	parts = append(parts, standardDirectives)

	prompt := strings.Join(parts, ". ")
	if opts.StyleSuffix != "" {
		prompt += opts.StyleSuffix
	}

	if markers := segmentMarkers(vbs); markers != "" {
		prompt += " " + markers
	}

	return Result{
		Prompt:          prompt,
		NegativePrompt:  opts.NegativePrompt,
		Params:          opts.Params,
		EstimatedTokens: EstimateTokens(prompt),
	}
}

func shotBlock(shot models.ShotSpec) string {
	return utils.JoinNonEmpty(", ", shot.Type, shot.Angle, shot.DepthOfField, shot.Composition)
}

// subjectBlock собирает описание одного субъекта.
// Override-текст вставляется дословно и ничем не дополняется, кроме
// триггер-токена, действия и позиции; составное описание строится из
// фрагментов. Выражение лица опускается, если лицо не видно.
func subjectBlock(subj *models.SubjectSpec) string {
	fields := []string{subj.TriggerToken}

	if subj.HasOverride() {
		fields = append(fields, subj.OverrideText)
	} else {
		fields = append(fields, subj.Description)
		fields = append(fields, strings.Join(subj.GearNotes, ", "))
	}

	fields = append(fields, helmetNote(subj.HelmetState))
	fields = append(fields, subj.Action)
	if subj.FaceVisible && !subj.HelmetState.FaceObscured() {
		fields = append(fields, subj.Expression)
	}
	fields = append(fields, subj.Position)

	return utils.JoinNonEmpty(", ", fields...)
}

// helmetNote - фиксированный текст для каждого состояния шлема.
func helmetNote(state models.HelmetState) string {
	switch state {
	case models.HelmetVisorDown:
		return "wearing full helmet, visor down, face hidden"
	case models.HelmetVisorUp:
		return "wearing helmet with visor raised"
	case models.HelmetInHand:
		return "helmet carried in hand"
	default:
		return ""
	}
}

func environmentBlock(env models.EnvironmentSpec) string {
	fields := []string{
		strings.Join(env.Anchors, ", "),
		env.Lighting,
		env.Atmosphere,
	}
	if len(env.Props) > 0 {
		fields = append(fields, strings.Join(env.Props, ", "))
	}
	if len(env.Effects) > 0 {
		fields = append(fields, strings.Join(env.Effects, ", "))
	}
	return utils.JoinNonEmpty(", ", fields...)
}

// segmentMarkers добавляет сегмент-маркеры согласно политике бита.
// Маркер лица никогда не ставится субъекту со скрытым лицом - это жесткое
// правило, оно сильнее политики "always".
func segmentMarkers(vbs *models.VisualBeatSpec) string {
	policy := vbs.Constraints.SegmentPolicy
	if policy == models.SegmentNever {
		return ""
	}

	var markers []string
	for i := range vbs.Subjects {
		subj := &vbs.Subjects[i]
		faceAllowed := subj.FaceVisible && !subj.HelmetState.FaceObscured()

		if policy == models.SegmentIfFaceVisible && !faceAllowed {
			continue
		}
		if subj.Segments.Face != "" && faceAllowed {
			markers = append(markers, fmt.Sprintf("[SEG:face:%s]", subj.Segments.Face))
		}
		if subj.Segments.Clothing != "" {
			markers = append(markers, fmt.Sprintf("[SEG:outfit:%s]", subj.Segments.Clothing))
		}
	}
	return strings.Join(markers, " ")
}
