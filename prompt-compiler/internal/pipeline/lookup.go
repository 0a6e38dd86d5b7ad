package pipeline

import (
	"storyteller/shared/messaging"
	"storyteller/shared/models"
)

// taskLookup - реализация enrich.ContextLookup поверх справочников,
// пришедших вместе с задачей. Ядро не ходит во внешние хранилища:
// все контексты персонажей и локаций поставляет внешний коллаборатор.
type taskLookup struct {
	characters map[string]map[string]models.CharacterLocationContext
	locations  map[string][]models.LocationArtifact
}

func newTaskLookup(task messaging.EpisodeBeatsTaskPayload) *taskLookup {
	return &taskLookup{
		characters: task.CharacterContexts,
		locations:  task.LocationArtifacts,
	}
}

// CharacterAt возвращает контекст персонажа в локации.
// Запасной вариант - контекст персонажа с пустым ключом локации,
// если для конкретной локации записи нет.
func (l *taskLookup) CharacterAt(character, location string) (models.CharacterLocationContext, bool) {
	locs, ok := l.characters[character]
	if !ok {
		return models.CharacterLocationContext{}, false
	}
	if ctx, ok := locs[location]; ok {
		return ctx, true
	}
	ctx, ok := locs[""]
	return ctx, ok
}

// LocationArtifacts возвращает визуальные факты локации как есть.
func (l *taskLookup) LocationArtifacts(location string) []models.LocationArtifact {
	return l.locations[location]
}
