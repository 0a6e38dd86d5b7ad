package models

// TemplateType определяет классификацию структуры сцены для бита.
// От типа шаблона зависит порядок сборки промпта.
type TemplateType string

const (
	TemplateVehicle        TemplateType = "vehicle"         // Сцена в транспорте / движение
	TemplateIndoorDialogue TemplateType = "indoor_dialogue" // Диалог в помещении
	TemplateCombat         TemplateType = "combat"          // Боевая сцена
	TemplateStealth        TemplateType = "stealth"         // Скрытное проникновение
	TemplateEstablishing   TemplateType = "establishing"    // Установочный (общий) план локации
	TemplateSuitUp         TemplateType = "suit_up"         // Экипировка / надевание снаряжения
	TemplateGhost          TemplateType = "ghost"           // Призрачное / сверхъестественное присутствие
	TemplateGeneric        TemplateType = "generic"         // Шаблон по умолчанию
)

// IsValidTemplateType проверяет, является ли строка допустимым TemplateType.
func IsValidTemplateType(t TemplateType) bool {
	switch t {
	case TemplateVehicle, TemplateIndoorDialogue, TemplateCombat, TemplateStealth,
		TemplateEstablishing, TemplateSuitUp, TemplateGhost, TemplateGeneric:
		return true
	default:
		return false
	}
}

// ModelRoute определяет маршрут генерации изображения.
// Альтернативный маршрут выбирается, когда ни одно лицо не видно в кадре.
type ModelRoute string

const (
	RoutePrimary   ModelRoute = "primary"
	RouteAlternate ModelRoute = "alternate"
)

// HelmetState описывает состояние шлема субъекта.
type HelmetState string

const (
	HelmetOff       HelmetState = "off"        // Шлем снят
	HelmetInHand    HelmetState = "in_hand"    // Шлем в руке
	HelmetVisorUp   HelmetState = "visor_up"   // Шлем надет, визор поднят
	HelmetVisorDown HelmetState = "visor_down" // Шлем надет, визор опущен (лицо скрыто)
)

// FaceObscured сообщает, скрывает ли данное состояние шлема лицо.
func (h HelmetState) FaceObscured() bool {
	return h == HelmetVisorDown
}

// SegmentPolicy управляет добавлением сегмент-маркеров в скомпилированный промпт.
type SegmentPolicy string

const (
	SegmentAlways        SegmentPolicy = "always"
	SegmentIfFaceVisible SegmentPolicy = "if_face_visible"
	SegmentNever         SegmentPolicy = "never"
)

// ShotSpec описывает параметры кадра.
type ShotSpec struct {
	Type         string `json:"type"`                   // Тип плана: wide shot, medium shot, close-up...
	Angle        string `json:"angle,omitempty"`        // Ракурс: low angle, over-the-shoulder...
	DepthOfField string `json:"depthOfField,omitempty"` // Глубина резкости
	Composition  string `json:"composition,omitempty"`  // Композиционная директива
}

// SegmentBindings связывает субъект с сегмент-маркерами лица и одежды.
type SegmentBindings struct {
	Face     string `json:"face,omitempty"`     // Метка сегмента лица
	Clothing string `json:"clothing,omitempty"` // Метка сегмента одежды
}

// SubjectSpec описывает одного персонажа в кадре.
type SubjectSpec struct {
	Name         string          `json:"name"`                   // Имя персонажа
	TriggerToken string          `json:"triggerToken,omitempty"` // Триггер-токен модели (LoRA и т.п.)
	Description  string          `json:"description,omitempty"`  // Текст описания (составной либо override)
	OverrideText string          `json:"overrideText,omitempty"` // Дословный override; копируется в промпт байт-в-байт
	Action       string          `json:"action,omitempty"`       // Действие в кадре
	Expression   string          `json:"expression,omitempty"`   // Выражение лица
	Position     string          `json:"position,omitempty"`     // Положение в кадре
	FaceVisible  bool            `json:"faceVisible"`            // Видно ли лицо
	HelmetState  HelmetState     `json:"helmetState"`            // Состояние шлема
	Segments     SegmentBindings `json:"segments,omitempty"`     // Привязка сегмент-маркеров
	GearNotes    []string        `json:"gearNotes,omitempty"`    // Фрагменты описания снаряжения
}

// HasOverride сообщает, задан ли для субъекта дословный override.
func (s SubjectSpec) HasOverride() bool {
	return s.OverrideText != ""
}

// EnvironmentSpec описывает окружение бита.
type EnvironmentSpec struct {
	LocationTag string   `json:"locationTag"`          // Короткий идентификатор локации
	Anchors     []string `json:"anchors,omitempty"`    // Якорные фразы локации (первая — основная)
	Props       []string `json:"props,omitempty"`      // Реквизит (ограниченный список)
	Lighting    string   `json:"lighting,omitempty"`   // Освещение
	Atmosphere  string   `json:"atmosphere,omitempty"` // Атмосфера
	Effects     []string `json:"effects,omitempty"`    // Визуальные эффекты
}

// ConstraintSpec содержит ограничения компиляции для бита.
type ConstraintSpec struct {
	TokenBudget   int           `json:"tokenBudget"`   // Бюджет токенов итогового промпта
	SegmentPolicy SegmentPolicy `json:"segmentPolicy"` // Политика сегмент-маркеров
}

// VisualBeatSpec (VBS) — промежуточное представление всех фактов, необходимых
// для компиляции промпта одного бита. Создается обогащением, дополняется
// fill-in'ом (только незаполненные слоты) и правится repair-циклом.
// Компилятор читает VBS и никогда его не изменяет.
type VisualBeatSpec struct {
	BeatID       string          `json:"beatId"`
	SceneNumber  int             `json:"sceneNumber"`
	TemplateType TemplateType    `json:"templateType"`
	ModelRoute   ModelRoute      `json:"modelRoute"`
	Shot         ShotSpec        `json:"shot"`
	Subjects     []SubjectSpec   `json:"subjects"` // Порядок субъектов фиксирован
	Environment  EnvironmentSpec `json:"environment"`
	Constraints  ConstraintSpec  `json:"constraints"`
}

// Subject возвращает указатель на субъекта по имени или nil, если его нет.
func (v *VisualBeatSpec) Subject(name string) *SubjectSpec {
	for i := range v.Subjects {
		if v.Subjects[i].Name == name {
			return &v.Subjects[i]
		}
	}
	return nil
}

// AnyFaceVisible сообщает, видно ли лицо хотя бы одного субъекта.
func (v *VisualBeatSpec) AnyFaceVisible() bool {
	for i := range v.Subjects {
		if v.Subjects[i].FaceVisible {
			return true
		}
	}
	return false
}

// Clone возвращает глубокую копию VBS. Используется repair-циклом,
// чтобы промежуточные правки не затрагивали исходный спек.
func (v *VisualBeatSpec) Clone() *VisualBeatSpec {
	out := *v
	out.Subjects = make([]SubjectSpec, len(v.Subjects))
	for i, s := range v.Subjects {
		cs := s
		cs.GearNotes = append([]string(nil), s.GearNotes...)
		out.Subjects[i] = cs
	}
	out.Environment.Anchors = append([]string(nil), v.Environment.Anchors...)
	out.Environment.Props = append([]string(nil), v.Environment.Props...)
	out.Environment.Effects = append([]string(nil), v.Environment.Effects...)
	return &out
}
