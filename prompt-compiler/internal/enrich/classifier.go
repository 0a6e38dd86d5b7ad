package enrich

import (
	"storyteller/shared/models"
	"storyteller/shared/utils"
)

// templateRule - одна строка таблицы классификации: предикат и шаблон.
type templateRule struct {
	name     string
	match    func(beat models.RawBeat) bool
	template models.TemplateType
}

// templateRules - упорядоченная таблица классификации битов.
// Правила проверяются строго сверху вниз, побеждает первое совпадение.
// Новые шаблоны добавляются строкой в нужную позицию, не трогая остальные.
var templateRules = []templateRule{
	{
		name: "suit_up",
		match: func(b models.RawBeat) bool {
			return utils.ContainsAnyFold(b.Text, "suits up", "suit up", "gears up", "dons the", "straps on", "puts on armor", "puts on the helmet")
		},
		template: models.TemplateSuitUp,
	},
	{
		name: "ghost",
		match: func(b models.RawBeat) bool {
			return utils.ContainsAnyFold(b.Text, "ghost", "apparition", "spectral", "translucent figure", "phantom")
		},
		template: models.TemplateGhost,
	},
	{
		name: "combat",
		match: func(b models.RawBeat) bool {
			return utils.ContainsAnyFold(b.Text, "fires", "gunfire", "shoots", "attack", "fight", "explosion", "muzzle flash", "takes cover", "returns fire")
		},
		template: models.TemplateCombat,
	},
	{
		name: "stealth",
		match: func(b models.RawBeat) bool {
			return utils.ContainsAnyFold(b.Text, "sneaks", "creeps", "silently", "unseen", "slips past", "shadows", "stealth")
		},
		template: models.TemplateStealth,
	},
	{
		name: "vehicle",
		match: func(b models.RawBeat) bool {
			return utils.ContainsAnyFold(b.Text, "drives", "driving", "car", "truck", "van", "motorcycle", "cockpit", "helicopter", "behind the wheel", "passenger seat")
		},
		template: models.TemplateVehicle,
	},
	{
		name: "establishing",
		match: func(b models.RawBeat) bool {
			if len(b.Characters) == 0 {
				return true
			}
			return utils.ContainsAnyFold(b.Text, "establishing", "wide view", "skyline", "exterior of", "aerial view")
		},
		template: models.TemplateEstablishing,
	},
	{
		name: "indoor_dialogue",
		match: func(b models.RawBeat) bool {
			return len(b.Characters) >= 2 && utils.ContainsAnyFold(b.Text, "says", "asks", "replies", "tells", "whispers", "conversation", "\"")
		},
		template: models.TemplateIndoorDialogue,
	},
}

// ClassifyTemplate определяет тип шаблона бита по таблице правил.
// Если ни одно правило не сработало - generic.
func ClassifyTemplate(beat models.RawBeat) models.TemplateType {
	for _, rule := range templateRules {
		if rule.match(beat) {
			return rule.template
		}
	}
	return models.TemplateGeneric
}

// defaultShots - тип плана по умолчанию для каждого шаблона.
var defaultShots = map[models.TemplateType]models.ShotSpec{
	models.TemplateVehicle:        {Type: "medium shot", Angle: "through windshield", DepthOfField: "shallow depth of field"},
	models.TemplateIndoorDialogue: {Type: "medium two-shot", Angle: "eye level", DepthOfField: "shallow depth of field", Composition: "rule of thirds"},
	models.TemplateCombat:         {Type: "dynamic wide shot", Angle: "low angle", Composition: "diagonal composition"},
	models.TemplateStealth:        {Type: "medium shot", Angle: "over-the-shoulder", DepthOfField: "deep focus"},
	models.TemplateEstablishing:   {Type: "wide establishing shot", Angle: "high angle", DepthOfField: "deep focus"},
	models.TemplateSuitUp:         {Type: "medium close-up", Angle: "eye level", DepthOfField: "shallow depth of field"},
	models.TemplateGhost:          {Type: "medium shot", Angle: "slightly low angle", Composition: "centered composition"},
	models.TemplateGeneric:        {Type: "medium shot", Angle: "eye level"},
}

// DefaultShot возвращает кадр по умолчанию для шаблона.
func DefaultShot(t models.TemplateType) models.ShotSpec {
	if shot, ok := defaultShots[t]; ok {
		return shot
	}
	return defaultShots[models.TemplateGeneric]
}
