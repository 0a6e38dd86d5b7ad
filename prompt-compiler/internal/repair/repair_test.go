package repair_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyteller/prompt-compiler/internal/compiler"
	"storyteller/prompt-compiler/internal/repair"
	"storyteller/prompt-compiler/internal/validator"
	"storyteller/shared/models"
)

func newLoop(maxAttempts int) *repair.Loop {
	return repair.NewLoop(maxAttempts, compiler.Options{}, zap.NewNop())
}

func cleanVBS() *models.VisualBeatSpec {
	return &models.VisualBeatSpec{
		BeatID:       "b1",
		SceneNumber:  1,
		TemplateType: models.TemplateGeneric,
		Shot:         models.ShotSpec{Type: "medium shot", Angle: "eye level"},
		Subjects: []models.SubjectSpec{
			{
				Name:        "ira",
				Description: "tall woman with cropped gray hair",
				Action:      "leaning on the railing",
				Expression:  "wary half-smile",
				FaceVisible: true,
				HelmetState: models.HelmetOff,
			},
		},
		Environment: models.EnvironmentSpec{
			LocationTag: "docks",
			Anchors:     []string{"rusted loading crane"},
		},
		Constraints: models.ConstraintSpec{TokenBudget: 200, SegmentPolicy: models.SegmentNever},
	}
}

func TestRun_CleanFirstPass(t *testing.T) {
	vbs := cleanVBS()
	outcome := newLoop(4).Run(vbs, models.NewScenePersistentState(1), nil)

	assert.Equal(t, models.BeatStatusOK, outcome.Status)
	assert.Empty(t, outcome.Violations)
	assert.Zero(t, outcome.Attempts)
	assert.NotEmpty(t, outcome.Result.Prompt)
}

func TestRun_DoesNotMutateInput(t *testing.T) {
	vbs := cleanVBS()
	vbs.Constraints.TokenBudget = 20
	vbs.Environment.Atmosphere = strings.Repeat("long filler phrase ", 30)

	before := vbs.Clone()
	newLoop(4).Run(vbs, models.NewScenePersistentState(1), nil)

	assert.Equal(t, *before, *vbs)
}

// Починка бюджета идет ступенями сжатия: сначала атмосфера и эффекты,
// затем реквизит, затем вторичные якоря.
func TestRun_BudgetCompaction(t *testing.T) {
	vbs := cleanVBS()
	vbs.Environment.Atmosphere = strings.Repeat("dense rolling fog over the waterline ", 25)
	vbs.Environment.Effects = []string{"drifting sparks"}
	vbs.Constraints.TokenBudget = 100

	outcome := newLoop(4).Run(vbs, models.NewScenePersistentState(1), nil)

	assert.Equal(t, models.BeatStatusOK, outcome.Status)
	assert.NotContains(t, outcome.Result.Prompt, "dense rolling fog")
	assert.True(t, models.HasCode(outcome.Diagnostics, models.DiagCompacted))
	assert.GreaterOrEqual(t, outcome.Attempts, 1)

	// Основной якорь сжатие не тронуло.
	assert.Contains(t, outcome.Result.Prompt, "rusted loading crane")
}

func TestRun_BudgetExhaustionFlagsBestCandidate(t *testing.T) {
	vbs := cleanVBS()
	// Бюджет невыполним: даже полностью сжатый промпт крупнее.
	vbs.Constraints.TokenBudget = 3

	outcome := newLoop(2).Run(vbs, models.NewScenePersistentState(1), nil)

	assert.Equal(t, models.BeatStatusFlagged, outcome.Status)
	assert.Equal(t, 2, outcome.Attempts)
	assert.True(t, models.HasCode(outcome.Diagnostics, models.DiagRepairExhausted))
	assert.True(t, models.HasCode(outcome.Diagnostics, models.DiagBudgetOverflow))
	require.NotEmpty(t, outcome.Violations)
	assert.Equal(t, validator.ViolationBudget, outcome.Violations[0].Type)
	// Лучший кандидат все равно выпускается.
	assert.NotEmpty(t, outcome.Result.Prompt)
}

func TestRun_OverrideSurvivesCompaction(t *testing.T) {
	override := "IRA, verbatim reference text that is really quite long and stays byte for byte"
	vbs := cleanVBS()
	vbs.Subjects[0].OverrideText = override
	vbs.Subjects[0].Description = ""
	vbs.Constraints.TokenBudget = 3

	outcome := newLoop(4).Run(vbs, models.NewScenePersistentState(1), nil)

	// Бюджет невыполним, но override не сжимается никогда.
	assert.Equal(t, models.BeatStatusFlagged, outcome.Status)
	assert.Contains(t, outcome.Result.Prompt, override)
}

func TestRun_ContinuityReinsertion(t *testing.T) {
	state := models.NewScenePersistentState(1)
	state.Subjects["val"] = models.SubjectState{
		Name:        "val",
		HelmetState: models.HelmetVisorDown,
		Position:    "by the door",
		Gear:        []string{"carrying a duffel bag"},
	}

	vbs := cleanVBS() // val в кадре отсутствует
	outcome := newLoop(4).Run(vbs, state, nil)

	assert.Equal(t, models.BeatStatusOK, outcome.Status)
	assert.True(t, models.HasCode(outcome.Diagnostics, models.DiagSubjectReinserted))

	val := outcome.VBS.Subject("val")
	require.NotNil(t, val)
	assert.Equal(t, models.HelmetVisorDown, val.HelmetState)
	assert.False(t, val.FaceVisible)
	assert.Equal(t, "by the door", val.Position)
	assert.NotEmpty(t, val.Action)
}

func TestRun_ContinuityWithDeparture(t *testing.T) {
	state := models.NewScenePersistentState(1)
	state.Subjects["val"] = models.SubjectState{Name: "val"}

	outcome := newLoop(4).Run(cleanVBS(), state, []string{"val"})

	assert.Equal(t, models.BeatStatusOK, outcome.Status)
	assert.Nil(t, outcome.VBS.Subject("val"))
	assert.False(t, models.HasCode(outcome.Diagnostics, models.DiagSubjectReinserted))
}

func TestRun_TemplateElementRepair(t *testing.T) {
	t.Run("Establishing anchor is synthesized", func(t *testing.T) {
		vbs := cleanVBS()
		vbs.TemplateType = models.TemplateEstablishing
		vbs.Environment.Anchors = nil

		outcome := newLoop(4).Run(vbs, models.NewScenePersistentState(1), nil)

		assert.Equal(t, models.BeatStatusOK, outcome.Status)
		assert.Contains(t, outcome.VBS.Environment.Anchors, "expansive view of the location")
	})

	t.Run("Combat action is synthesized", func(t *testing.T) {
		vbs := cleanVBS()
		vbs.TemplateType = models.TemplateCombat
		vbs.Subjects[0].Action = ""

		outcome := newLoop(4).Run(vbs, models.NewScenePersistentState(1), nil)

		assert.Equal(t, models.BeatStatusOK, outcome.Status)
		assert.Equal(t, "holding position, weapon ready", outcome.VBS.Subject("ira").Action)
	})

	t.Run("Vehicle anchor is synthesized", func(t *testing.T) {
		vbs := cleanVBS()
		vbs.TemplateType = models.TemplateVehicle

		outcome := newLoop(4).Run(vbs, models.NewScenePersistentState(1), nil)

		assert.Equal(t, models.BeatStatusOK, outcome.Status)
		assert.Contains(t, outcome.VBS.Environment.Anchors, "vehicle interior")
	})
}

// Сценарий с несколькими нарушениями сразу: пропавший персонаж,
// недостающий якорь шаблона и превышенный бюджет сходятся за ограниченное
// число проходов.
func TestRun_MultipleViolationsConverge(t *testing.T) {
	state := models.NewScenePersistentState(1)
	state.Subjects["val"] = models.SubjectState{Name: "val", Position: "by the door"}

	vbs := cleanVBS()
	vbs.TemplateType = models.TemplateEstablishing
	vbs.Environment.Anchors = nil
	vbs.Environment.Atmosphere = strings.Repeat("heavy mist over the bay at first light ", 20)
	vbs.Constraints.TokenBudget = 110

	outcome := newLoop(4).Run(vbs, state, nil)

	assert.Equal(t, models.BeatStatusOK, outcome.Status)
	assert.NotNil(t, outcome.VBS.Subject("val"))
	assert.NotEmpty(t, outcome.VBS.Environment.Anchors)
	assert.LessOrEqual(t, outcome.Attempts, 4)
}
