package fillin

import (
	"strings"

	"storyteller/shared/models"
)

// Детерминированные значения по умолчанию для незаполненных слотов.
// Используются при таймауте шлюза или отбраковке ответа модели, чтобы
// конвейер никогда не блокировался на генеративном шаге.
var defaultActions = map[models.TemplateType]string{
	models.TemplateVehicle:        "seated, eyes on the road",
	models.TemplateIndoorDialogue: "standing in conversation",
	models.TemplateCombat:         "holding position, weapon ready",
	models.TemplateStealth:        "moving low and quiet",
	models.TemplateEstablishing:   "present in the distance",
	models.TemplateSuitUp:         "fastening gear",
	models.TemplateGhost:          "standing motionless",
	models.TemplateGeneric:        "standing naturally",
}

const (
	defaultExpression  = "neutral expression"
	defaultPosition    = "center frame"
	defaultDescription = "unremarkable appearance, practical clothing"
)

// DefaultValue возвращает фиксированное значение для слота вида
// "<персонаж>.<поле>" с учетом шаблона бита.
func DefaultValue(slot string, template models.TemplateType) string {
	field := slot
	if idx := strings.LastIndex(slot, "."); idx >= 0 {
		field = slot[idx+1:]
	}
	switch field {
	case "action":
		if action, ok := defaultActions[template]; ok {
			return action
		}
		return defaultActions[models.TemplateGeneric]
	case "expression":
		return defaultExpression
	case "position":
		return defaultPosition
	case "description":
		return defaultDescription
	default:
		return "unspecified"
	}
}

// Defaults строит полную карту значений по умолчанию для списка слотов.
func Defaults(slots []string, template models.TemplateType) map[string]string {
	out := make(map[string]string, len(slots))
	for _, slot := range slots {
		out[slot] = DefaultValue(slot, template)
	}
	return out
}
