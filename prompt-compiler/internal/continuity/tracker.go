package continuity

import (
	"sync"

	"go.uber.org/zap"

	"storyteller/shared/models"
)

// Tracker хранит сквозное состояние сцен эпизода.
// Состояние сцены обновляется строго после того, как бит прошел валидацию
// (или repair выпустил финального кандидата) - промежуточные кандидаты
// repair-цикла сюда не попадают.
//
// Между сценами конкуренции нет по построению: каждая сцена обрабатывается
// одной горутиной, поэтому RWMutex защищает только саму карту сцен.
type Tracker struct {
	mu     sync.RWMutex
	scenes map[int]*models.ScenePersistentState
	logger *zap.Logger
}

// NewTracker создает пустой трекер.
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{
		scenes: make(map[int]*models.ScenePersistentState),
		logger: logger.Named("ContinuityTracker"),
	}
}

// Read возвращает копию состояния сцены. Для неизвестной сцены возвращается
// пустое состояние: первый бит сцены всегда начинает с чистого листа.
func (t *Tracker) Read(scene int) *models.ScenePersistentState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if state, ok := t.scenes[scene]; ok {
		return state.Clone()
	}
	return models.NewScenePersistentState(scene)
}

// Update фиксирует провалидированный VBS в состоянии сцены.
// Присутствие персонажей накапливается монотонно: однажды появившийся
// персонаж остается известным сцене, пока бит явно не отметит его уход.
func (t *Tracker) Update(scene int, vbs *models.VisualBeatSpec, departures []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.scenes[scene]
	if !ok {
		state = models.NewScenePersistentState(scene)
		t.scenes[scene] = state
	}

	for _, subj := range vbs.Subjects {
		state.Subjects[subj.Name] = models.SubjectState{
			Name:        subj.Name,
			HelmetState: subj.HelmetState,
			FaceVisible: subj.FaceVisible,
			Position:    subj.Position,
			Gear:        append([]string(nil), subj.GearNotes...),
		}
	}

	for _, name := range departures {
		if st, ok := state.Subjects[name]; ok {
			st.Departed = true
			state.Subjects[name] = st
		}
	}

	// Якоря локации закрепляются первым битом сцены и далее не переписываются.
	if len(state.Anchors) == 0 && len(vbs.Environment.Anchors) > 0 {
		state.Anchors = append([]string(nil), vbs.Environment.Anchors...)
	}

	t.logger.Debug("Scene state updated",
		zap.Int("scene", scene),
		zap.String("beat_id", vbs.BeatID),
		zap.Int("known_subjects", len(state.Subjects)),
	)
}

// Drop удаляет состояние сцены (сцена закончилась).
func (t *Tracker) Drop(scene int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.scenes, scene)
}
