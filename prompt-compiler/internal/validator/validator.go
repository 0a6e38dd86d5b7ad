package validator

import (
	"fmt"
	"strings"

	"storyteller/prompt-compiler/internal/compiler"
	"storyteller/shared/models"
	"storyteller/shared/utils"
)

// ViolationType классифицирует нарушения жестких правил.
type ViolationType string

const (
	ViolationContinuity ViolationType = "continuity"        // Персонаж из состояния сцены пропал из кадра
	ViolationVisibility ViolationType = "visibility"        // Сегмент лица при скрытом лице
	ViolationTemplate   ViolationType = "template_element"   // Не хватает обязательного элемента шаблона
	ViolationSegment    ViolationType = "segment_placement" // Маркер ссылается не на того субъекта или дублируется
	ViolationBudget     ViolationType = "budget"            // Превышен бюджет токенов
)

// Violation - одно типизированное нарушение.
type Violation struct {
	Type    ViolationType
	Subject string // Имя субъекта, если нарушение адресное
	Detail  string
}

func (v Violation) String() string {
	if v.Subject != "" {
		return fmt.Sprintf("%s[%s]: %s", v.Type, v.Subject, v.Detail)
	}
	return fmt.Sprintf("%s: %s", v.Type, v.Detail)
}

// vehicleTerms - признаки транспортного якоря для шаблона vehicle.
var vehicleTerms = []string{"vehicle", "car", "truck", "van", "cockpit", "motorcycle", "helicopter", "dashboard", "windshield"}

// Validate проверяет кандидата за один проход и возвращает все найденные
// нарушения в фиксированном порядке классов: continuity, visibility,
// template, segment, budget. Пустой список означает успех.
func Validate(vbs *models.VisualBeatSpec, result compiler.Result, state *models.ScenePersistentState, departures []string) []Violation {
	var out []Violation

	out = append(out, checkContinuity(vbs, state, departures)...)
	out = append(out, checkVisibility(vbs, result.Prompt)...)
	out = append(out, checkTemplateElements(vbs)...)
	out = append(out, checkSegmentPlacement(vbs, result.Prompt)...)

	if result.EstimatedTokens > vbs.Constraints.TokenBudget {
		out = append(out, Violation{
			Type:   ViolationBudget,
			Detail: fmt.Sprintf("estimated %d tokens, budget %d", result.EstimatedTokens, vbs.Constraints.TokenBudget),
		})
	}

	return out
}

// checkContinuity: каждый известный сцене присутствующий персонаж обязан
// быть в списке субъектов, если бит явно не отметил его уход.
func checkContinuity(vbs *models.VisualBeatSpec, state *models.ScenePersistentState, departures []string) []Violation {
	departed := make(map[string]bool, len(departures))
	for _, name := range departures {
		departed[name] = true
	}

	var out []Violation
	for _, name := range state.PresentSubjects() {
		if departed[name] {
			continue
		}
		if vbs.Subject(name) == nil {
			out = append(out, Violation{
				Type:    ViolationContinuity,
				Subject: name,
				Detail:  "subject known present in scene is missing from the candidate",
			})
		}
	}
	return out
}

// checkVisibility: маркер сегмента лица недопустим для субъекта с опущенным
// визором или невидимым лицом.
func checkVisibility(vbs *models.VisualBeatSpec, prompt string) []Violation {
	var out []Violation
	for i := range vbs.Subjects {
		subj := &vbs.Subjects[i]
		if subj.FaceVisible && !subj.HelmetState.FaceObscured() {
			continue
		}
		if subj.Segments.Face != "" && strings.Contains(prompt, "[SEG:face:"+subj.Segments.Face+"]") {
			out = append(out, Violation{
				Type:    ViolationVisibility,
				Subject: subj.Name,
				Detail:  "face segment marker present while face is not visible",
			})
		}
	}
	return out
}

// checkTemplateElements: обязательные элементы шаблона.
func checkTemplateElements(vbs *models.VisualBeatSpec) []Violation {
	var out []Violation

	switch vbs.TemplateType {
	case models.TemplateVehicle:
		if !hasVehicleAnchor(vbs.Environment) {
			out = append(out, Violation{
				Type:   ViolationTemplate,
				Detail: "vehicle template requires a vehicle-referencing anchor",
			})
		}
	case models.TemplateCombat:
		for i := range vbs.Subjects {
			if strings.TrimSpace(vbs.Subjects[i].Action) == "" {
				out = append(out, Violation{
					Type:    ViolationTemplate,
					Subject: vbs.Subjects[i].Name,
					Detail:  "combat template requires an action descriptor",
				})
			}
		}
	case models.TemplateEstablishing:
		if len(vbs.Environment.Anchors) == 0 {
			out = append(out, Violation{
				Type:   ViolationTemplate,
				Detail: "establishing template requires at least one location anchor",
			})
		}
	}

	return out
}

func hasVehicleAnchor(env models.EnvironmentSpec) bool {
	for _, anchor := range env.Anchors {
		if utils.ContainsAnyFold(anchor, vehicleTerms...) {
			return true
		}
	}
	return false
}

// checkSegmentPlacement: каждый маркер в промпте должен ссылаться на метку,
// привязанную к субъекту из списка, и встречаться не более одного раза.
func checkSegmentPlacement(vbs *models.VisualBeatSpec, prompt string) []Violation {
	known := make(map[string]string) // метка -> имя субъекта
	for i := range vbs.Subjects {
		subj := &vbs.Subjects[i]
		if subj.Segments.Face != "" {
			known["face:"+subj.Segments.Face] = subj.Name
		}
		if subj.Segments.Clothing != "" {
			known["outfit:"+subj.Segments.Clothing] = subj.Name
		}
	}

	var out []Violation
	seen := make(map[string]int)
	for _, marker := range ParseSegmentMarkers(prompt) {
		key := marker.Kind + ":" + marker.Label
		seen[key]++
		if _, ok := known[key]; !ok {
			out = append(out, Violation{
				Type:   ViolationSegment,
				Detail: fmt.Sprintf("marker [SEG:%s] references no subject in the list", key),
			})
		}
	}
	for key, count := range seen {
		if count > 1 {
			out = append(out, Violation{
				Type:    ViolationSegment,
				Subject: known[key],
				Detail:  fmt.Sprintf("marker [SEG:%s] appears %d times", key, count),
			})
		}
	}
	return out
}

// SegmentMarker - разобранный маркер из текста промпта.
type SegmentMarker struct {
	Kind  string // "face" | "outfit"
	Label string
}

// ParseSegmentMarkers извлекает все маркеры вида [SEG:kind:label] из промпта.
func ParseSegmentMarkers(prompt string) []SegmentMarker {
	var out []SegmentMarker
	rest := prompt
	for {
		start := strings.Index(rest, "[SEG:")
		if start == -1 {
			return out
		}
		end := strings.Index(rest[start:], "]")
		if end == -1 {
			return out
		}
		body := rest[start+len("[SEG:") : start+end]
		rest = rest[start+end+1:]

		kind, label, ok := strings.Cut(body, ":")
		if !ok {
			continue
		}
		out = append(out, SegmentMarker{Kind: kind, Label: label})
	}
}
