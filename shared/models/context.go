package models

// ArtifactCategory категоризирует визуальные факты локации.
type ArtifactCategory string

const (
	ArtifactStructural  ArtifactCategory = "structural"
	ArtifactLighting    ArtifactCategory = "lighting"
	ArtifactAtmospheric ArtifactCategory = "atmospheric"
	ArtifactProp        ArtifactCategory = "prop"
)

// LocationArtifact — один визуальный факт локации.
// Поставляется внешним источником, читается как есть.
type LocationArtifact struct {
	Category ArtifactCategory `json:"category"`
	Text     string           `json:"text"`
}

// FaceSegmentRule определяет правило простановки сегмента лица для персонажа.
// Значения совпадают с SegmentPolicy.
type FaceSegmentRule = SegmentPolicy

// CharacterLocationContext — неизменяемая справочная информация о персонаже
// в конкретной локации. OverrideText, если задан, попадает в промпт дословно:
// ни fill-in, ни repair не имеют права его переписывать.
type CharacterLocationContext struct {
	Character         string          `json:"character"`
	Location          string          `json:"location"`
	TriggerToken      string          `json:"triggerToken,omitempty"`
	OverrideText      string          `json:"overrideText,omitempty"`      // Дословное описание внешности
	PhysicalFragment  string          `json:"physicalFragment,omitempty"`  // Базовое физическое описание
	ClothingFragment  string          `json:"clothingFragment,omitempty"`  // Описание одежды
	DemeanorFragment  string          `json:"demeanorFragment,omitempty"`  // Манера держаться
	GearFragments     []string        `json:"gearFragments,omitempty"`     // Фрагменты снаряжения
	HelmetState       HelmetState     `json:"helmetState,omitempty"`       // Состояние шлема по умолчанию
	FaceSegmentRule   FaceSegmentRule `json:"faceSegmentRule,omitempty"`   // Правило сегмента лица
	FaceSegmentLabel  string          `json:"faceSegmentLabel,omitempty"`  // Метка сегмента лица
	ClothSegmentLabel string          `json:"clothSegmentLabel,omitempty"` // Метка сегмента одежды
}

// SubjectState — последнее наблюдаемое состояние персонажа в рамках сцены.
type SubjectState struct {
	Name        string      `json:"name"`
	HelmetState HelmetState `json:"helmetState"`
	FaceVisible bool        `json:"faceVisible"`
	Position    string      `json:"position,omitempty"`
	Gear        []string    `json:"gear,omitempty"`
	Departed    bool        `json:"departed"` // Персонаж явно покинул сцену
}

// ScenePersistentState — сквозное состояние одной сцены.
// Создается на первом бите сцены, обновляется после каждого успешно
// провалидированного бита, уничтожается вместе со сценой.
// Владелец — трекер непрерывности; пайплайн только читает.
type ScenePersistentState struct {
	SceneNumber int                     `json:"sceneNumber"`
	Subjects    map[string]SubjectState `json:"subjects"` // Известные присутствующие персонажи
	Anchors     []string                `json:"anchors"`  // Закрепленные якоря локации
}

// NewScenePersistentState создает пустое состояние сцены.
func NewScenePersistentState(scene int) *ScenePersistentState {
	return &ScenePersistentState{
		SceneNumber: scene,
		Subjects:    make(map[string]SubjectState),
	}
}

// PresentSubjects возвращает имена персонажей, считающихся присутствующими
// (известны сцене и не отмечены как ушедшие). Порядок не определен.
func (s *ScenePersistentState) PresentSubjects() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Subjects))
	for name, st := range s.Subjects {
		if !st.Departed {
			names = append(names, name)
		}
	}
	return names
}

// Clone возвращает глубокую копию состояния сцены.
func (s *ScenePersistentState) Clone() *ScenePersistentState {
	if s == nil {
		return nil
	}
	out := &ScenePersistentState{
		SceneNumber: s.SceneNumber,
		Subjects:    make(map[string]SubjectState, len(s.Subjects)),
		Anchors:     append([]string(nil), s.Anchors...),
	}
	for name, st := range s.Subjects {
		cs := st
		cs.Gear = append([]string(nil), st.Gear...)
		out.Subjects[name] = cs
	}
	return out
}
