package enrich_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyteller/prompt-compiler/internal/enrich"
	"storyteller/shared/models"
)

// stubLookup - справочник в памяти для тестов обогащения.
type stubLookup struct {
	characters map[string]models.CharacterLocationContext // ключ "персонаж|локация"
	artifacts  map[string][]models.LocationArtifact
}

func (s *stubLookup) CharacterAt(character, location string) (models.CharacterLocationContext, bool) {
	ctx, ok := s.characters[character+"|"+location]
	return ctx, ok
}

func (s *stubLookup) LocationArtifacts(location string) []models.LocationArtifact {
	return s.artifacts[location]
}

func newTestEnricher(lookup *stubLookup) *enrich.Enricher {
	return enrich.NewEnricher(lookup, enrich.Options{
		TokenBudget:      150,
		ArtifactsPerKind: 2,
		MaxProps:         3,
	}, zap.NewNop())
}

func TestEnrich_MissingRequiredData(t *testing.T) {
	e := newTestEnricher(&stubLookup{})

	t.Run("Empty beat id", func(t *testing.T) {
		_, _, _, err := e.Enrich(models.RawBeat{LocationID: "docks"}, models.NewScenePersistentState(1))
		require.ErrorIs(t, err, enrich.ErrMissingData)
	})

	t.Run("Empty location", func(t *testing.T) {
		_, _, _, err := e.Enrich(models.RawBeat{BeatID: "b1"}, models.NewScenePersistentState(1))
		require.ErrorIs(t, err, enrich.ErrMissingData)
	})
}

func TestEnrich_SubjectComposition(t *testing.T) {
	lookup := &stubLookup{
		characters: map[string]models.CharacterLocationContext{
			"ira|docks": {
				Character:        "ira",
				TriggerToken:     "ira_v2",
				PhysicalFragment: "tall woman with cropped gray hair",
				ClothingFragment: "worn leather jacket",
				DemeanorFragment: "guarded posture",
				GearFragments:    []string{"shoulder holster"},
			},
			"val|docks": {
				Character:    "val",
				TriggerToken: "val_v1",
				OverrideText: "VAL, exactly as rendered in reference sheet 3, scar over left brow",
			},
		},
	}
	e := newTestEnricher(lookup)

	beat := models.RawBeat{
		BeatID:      "b1",
		SceneNumber: 1,
		LocationID:  "docks",
		Text:        "Ira waits by the crane. Val approaches.",
		Characters:  []string{"ira", "val"},
	}

	vbs, missing, _, err := e.Enrich(beat, models.NewScenePersistentState(1))
	require.NoError(t, err)
	require.Len(t, vbs.Subjects, 2)

	ira := vbs.Subject("ira")
	require.NotNil(t, ira)
	assert.Equal(t, "ira_v2", ira.TriggerToken)
	assert.Equal(t, "tall woman with cropped gray hair, worn leather jacket, guarded posture", ira.Description)
	assert.True(t, ira.FaceVisible)
	assert.Equal(t, []string{"shoulder holster"}, ira.GearNotes)

	val := vbs.Subject("val")
	require.NotNil(t, val)
	// Override хранится дословно, составное описание не строится.
	assert.Equal(t, "VAL, exactly as rendered in reference sheet 3, scar over left brow", val.OverrideText)
	assert.Empty(t, val.Description)

	// Действие и выражение лица всегда уходят в fill-in; описание не нужно,
	// потому что у обоих есть контекст.
	assert.ElementsMatch(t, []string{"ira.action", "ira.expression", "val.action", "val.expression"}, missing)
}

func TestEnrich_UnknownCharacterNeedsDescription(t *testing.T) {
	e := newTestEnricher(&stubLookup{})

	beat := models.RawBeat{
		BeatID:     "b1",
		LocationID: "docks",
		Text:       "A stranger watches from the pier.",
		Characters: []string{"stranger"},
	}

	vbs, missing, _, err := e.Enrich(beat, models.NewScenePersistentState(1))
	require.NoError(t, err)
	require.Len(t, vbs.Subjects, 1)
	assert.Contains(t, missing, "stranger.description")
	assert.Contains(t, missing, "stranger.action")
}

func TestEnrich_InheritsSceneState(t *testing.T) {
	e := newTestEnricher(&stubLookup{})

	state := models.NewScenePersistentState(2)
	state.Subjects["ira"] = models.SubjectState{
		Name:        "ira",
		HelmetState: models.HelmetVisorDown,
		Position:    "left of frame",
		Gear:        []string{"rifle slung on back"},
	}
	state.Subjects["val"] = models.SubjectState{Name: "val", Departed: true}

	beat := models.RawBeat{
		BeatID:      "b5",
		SceneNumber: 2,
		LocationID:  "warehouse",
		Text:        "The new arrival, Petra, surveys the room.",
		Characters:  []string{"petra"},
	}

	vbs, missing, _, err := e.Enrich(beat, state)
	require.NoError(t, err)

	// petra из бита, ira унаследована; val ушла и не возвращается.
	require.Len(t, vbs.Subjects, 2)
	assert.Equal(t, "petra", vbs.Subjects[0].Name)
	assert.Equal(t, "ira", vbs.Subjects[1].Name)

	ira := vbs.Subject("ira")
	assert.Equal(t, models.HelmetVisorDown, ira.HelmetState)
	assert.False(t, ira.FaceVisible)
	assert.Equal(t, "left of frame", ira.Position)
	assert.Equal(t, []string{"rifle slung on back"}, ira.GearNotes)

	// Выражение лица не запрашивается для субъекта со скрытым лицом.
	assert.NotContains(t, missing, "ira.expression")
	assert.Contains(t, missing, "ira.action")
}

func TestEnrich_DeparturesExcludeBeatCharacters(t *testing.T) {
	e := newTestEnricher(&stubLookup{})

	beat := models.RawBeat{
		BeatID:     "b2",
		LocationID: "docks",
		Text:       "Val turns and walks away. Ira stays.",
		Characters: []string{"ira", "val"},
		Departures: []string{"val"},
	}

	vbs, _, _, err := e.Enrich(beat, models.NewScenePersistentState(1))
	require.NoError(t, err)
	require.Len(t, vbs.Subjects, 1)
	assert.Equal(t, "ira", vbs.Subjects[0].Name)
}

func TestEnrich_HelmetHintOverridesState(t *testing.T) {
	e := newTestEnricher(&stubLookup{})

	state := models.NewScenePersistentState(1)
	state.Subjects["ira"] = models.SubjectState{Name: "ira", HelmetState: models.HelmetVisorDown}

	beat := models.RawBeat{
		BeatID:      "b3",
		LocationID:  "docks",
		Text:        "Ira flips the visor up.",
		Characters:  []string{"ira"},
		HelmetHints: map[string]models.HelmetState{"ira": models.HelmetVisorUp},
	}

	vbs, _, _, err := e.Enrich(beat, state)
	require.NoError(t, err)

	ira := vbs.Subject("ira")
	assert.Equal(t, models.HelmetVisorUp, ira.HelmetState)
	assert.True(t, ira.FaceVisible)
	assert.Equal(t, models.RoutePrimary, vbs.ModelRoute)
}

func TestEnrich_AlternateRouteWhenNoFaceVisible(t *testing.T) {
	e := newTestEnricher(&stubLookup{})

	beat := models.RawBeat{
		BeatID:      "b4",
		LocationID:  "docks",
		Text:        "Both figures stand sealed in full armor.",
		Characters:  []string{"ira", "val"},
		HelmetHints: map[string]models.HelmetState{"ira": models.HelmetVisorDown, "val": models.HelmetVisorDown},
	}

	vbs, _, _, err := e.Enrich(beat, models.NewScenePersistentState(1))
	require.NoError(t, err)
	assert.Equal(t, models.RouteAlternate, vbs.ModelRoute)
}

func TestEnrich_EnvironmentFromArtifacts(t *testing.T) {
	lookup := &stubLookup{
		artifacts: map[string][]models.LocationArtifact{
			"docks": {
				{Category: models.ArtifactStructural, Text: "rusted loading crane"},
				{Category: models.ArtifactStructural, Text: "stacked shipping containers"},
				{Category: models.ArtifactStructural, Text: "third anchor beyond the cap"},
				{Category: models.ArtifactLighting, Text: "sodium vapor lamps"},
				{Category: models.ArtifactAtmospheric, Text: "thin drizzle"},
				{Category: models.ArtifactProp, Text: "coiled mooring rope"},
			},
		},
	}
	e := newTestEnricher(lookup)

	beat := models.RawBeat{BeatID: "b1", LocationID: "docks", Text: "Quiet night."}

	vbs, _, _, err := e.Enrich(beat, models.NewScenePersistentState(1))
	require.NoError(t, err)

	env := vbs.Environment
	assert.Equal(t, "docks", env.LocationTag)
	// Потолок на категорию: третий структурный якорь отброшен.
	assert.Equal(t, []string{"rusted loading crane", "stacked shipping containers"}, env.Anchors)
	assert.Equal(t, "sodium vapor lamps", env.Lighting)
	assert.Equal(t, "thin drizzle", env.Atmosphere)
	assert.Equal(t, []string{"coiled mooring rope"}, env.Props)
}

func TestEnrich_SceneAnchorsWin(t *testing.T) {
	lookup := &stubLookup{
		artifacts: map[string][]models.LocationArtifact{
			"docks": {{Category: models.ArtifactStructural, Text: "rusted loading crane"}},
		},
	}
	e := newTestEnricher(lookup)

	state := models.NewScenePersistentState(1)
	state.Anchors = []string{"pinned anchor from first beat"}

	beat := models.RawBeat{BeatID: "b2", LocationID: "docks", Text: "Later."}

	vbs, _, _, err := e.Enrich(beat, state)
	require.NoError(t, err)
	assert.Equal(t, []string{"pinned anchor from first beat"}, vbs.Environment.Anchors)
}

func TestEnrich_ShotHintOverridesType(t *testing.T) {
	e := newTestEnricher(&stubLookup{})

	beat := models.RawBeat{
		BeatID:     "b1",
		LocationID: "docks",
		Text:       "Ira waits.",
		Characters: []string{"ira"},
		ShotHint:   "extreme close-up",
	}

	vbs, _, _, err := e.Enrich(beat, models.NewScenePersistentState(1))
	require.NoError(t, err)
	assert.Equal(t, "extreme close-up", vbs.Shot.Type)
	// Остальные параметры кадра берутся из шаблона generic.
	assert.Equal(t, "eye level", vbs.Shot.Angle)
}

func TestEnrich_SegmentRuleNever(t *testing.T) {
	lookup := &stubLookup{
		characters: map[string]models.CharacterLocationContext{
			"ira|docks": {Character: "ira", FaceSegmentRule: models.SegmentNever},
		},
	}
	e := newTestEnricher(lookup)

	beat := models.RawBeat{BeatID: "b1", LocationID: "docks", Text: "Ira waits.", Characters: []string{"ira"}}

	vbs, _, _, err := e.Enrich(beat, models.NewScenePersistentState(1))
	require.NoError(t, err)
	assert.Empty(t, vbs.Subject("ira").Segments.Face)
	assert.Empty(t, vbs.Subject("ira").Segments.Clothing)
}

func TestEnrich_DefaultSegmentLabels(t *testing.T) {
	e := newTestEnricher(&stubLookup{})

	beat := models.RawBeat{BeatID: "b1", LocationID: "docks", Text: "Ira waits.", Characters: []string{"ira"}}

	vbs, _, _, err := e.Enrich(beat, models.NewScenePersistentState(1))
	require.NoError(t, err)
	assert.Equal(t, "face_ira", vbs.Subject("ira").Segments.Face)
	assert.Equal(t, "outfit_ira", vbs.Subject("ira").Segments.Clothing)
}
