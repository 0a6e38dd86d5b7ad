package fillin

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"storyteller/shared/models"
	"storyteller/shared/utils"
)

var fillDegradedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "prompt_compiler_fill_degraded_total",
	Help: "Total number of beats that fell back to deterministic fill defaults.",
})

const fillSystemPrompt = `You add small visual details to a storyboard frame for image generation.
You receive a JSON snapshot of the frame and a list of slot names to fill.
Respond with a single JSON object whose keys are EXACTLY the requested slot names.
Each value must be a short visual phrase (under 12 words), consistent with the snapshot.
Do not add any other keys. Do not restate or modify existing frame data.`

// maxSlotValueLen - потолок длины значения слота; все, что длиннее,
// считается нарушением контракта "короткая описательная фраза".
const maxSlotValueLen = 120

// Gateway - схема-проверяющий адаптер над генеративной моделью.
// Шлюз может только добавить детали в явно перечисленные слоты;
// любая попытка модели затронуть что-то еще отбраковывает весь ответ.
type Gateway struct {
	client  Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewGateway создает шлюз. timeout ограничивает единственный вызов модели.
func NewGateway(client Client, timeout time.Duration, logger *zap.Logger) *Gateway {
	return &Gateway{
		client:  client,
		timeout: timeout,
		logger:  logger.Named("FillGateway"),
	}
}

// fillRequestSnapshot - снимок частичного VBS, отправляемый модели.
// Override-тексты и триггер-токены намеренно не включаются: модели незачем
// их видеть, а изменить их она не может в любом случае.
type fillRequestSnapshot struct {
	Template    models.TemplateType `json:"template"`
	Shot        models.ShotSpec     `json:"shot"`
	Subjects    []snapshotSubject   `json:"subjects"`
	Environment snapshotEnvironment `json:"environment"`
}

type snapshotSubject struct {
	Name        string `json:"name"`
	FaceVisible bool   `json:"faceVisible"`
	Position    string `json:"position,omitempty"`
}

type snapshotEnvironment struct {
	Location   string   `json:"location"`
	Anchors    []string `json:"anchors,omitempty"`
	Lighting   string   `json:"lighting,omitempty"`
	Atmosphere string   `json:"atmosphere,omitempty"`
}

// Fill запрашивает у модели значения для missingSlots и возвращает карту
// слот -> значение. Сетевая попытка ровно одна: при любой ошибке (таймаут,
// нарушение схемы, запрещенные поля) возвращаются детерминированные значения
// по умолчанию и диагностика fill-degraded.
func (g *Gateway) Fill(ctx context.Context, vbs *models.VisualBeatSpec, missingSlots []string) (map[string]string, []models.Diagnostic) {
	if len(missingSlots) == 0 {
		return nil, nil
	}

	values, err := g.tryFill(ctx, vbs, missingSlots)
	if err != nil {
		g.logger.Warn("Fill-in degraded to deterministic defaults",
			zap.String("beat_id", vbs.BeatID),
			zap.Strings("slots", missingSlots),
			zap.Error(err),
		)
		fillDegradedTotal.Inc()
		return Defaults(missingSlots, vbs.TemplateType), []models.Diagnostic{
			{Code: models.DiagFillDegraded, Detail: err.Error()},
		}
	}

	return values, nil
}

func (g *Gateway) tryFill(ctx context.Context, vbs *models.VisualBeatSpec, missingSlots []string) (map[string]string, error) {
	userPrompt, err := g.buildUserPrompt(vbs, missingSlots)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	raw, err := g.client.Complete(callCtx, fillSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	return ParseResponse(raw, missingSlots)
}

func (g *Gateway) buildUserPrompt(vbs *models.VisualBeatSpec, missingSlots []string) (string, error) {
	snapshot := fillRequestSnapshot{
		Template: vbs.TemplateType,
		Shot:     vbs.Shot,
		Environment: snapshotEnvironment{
			Location:   vbs.Environment.LocationTag,
			Anchors:    vbs.Environment.Anchors,
			Lighting:   vbs.Environment.Lighting,
			Atmosphere: vbs.Environment.Atmosphere,
		},
	}
	for _, s := range vbs.Subjects {
		snapshot.Subjects = append(snapshot.Subjects, snapshotSubject{
			Name:        s.Name,
			FaceVisible: s.FaceVisible,
			Position:    s.Position,
		})
	}

	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("%w: marshal snapshot: %v", ErrFillFailed, err)
	}

	sorted := append([]string(nil), missingSlots...)
	sort.Strings(sorted)

	var sb strings.Builder
	sb.WriteString("Frame snapshot:\n")
	sb.Write(snapshotJSON)
	sb.WriteString("\n\nFill these slots: ")
	sb.WriteString(strings.Join(sorted, ", "))
	return sb.String(), nil
}

// ParseResponse разбирает и проверяет ответ модели на уровне схемы:
// ровно запрошенный набор ключей, непустые короткие строковые значения.
// Лишний ключ (в том числе любое запрещенное поле) бракует весь ответ.
func ParseResponse(raw string, requested []string) (map[string]string, error) {
	jsonText, err := utils.ExtractJSONObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFillFailed, err)
	}

	var values map[string]string
	if err := utils.DecodeStrict([]byte(jsonText), &values); err != nil {
		return nil, fmt.Errorf("%w: malformed slot map: %v", ErrFillFailed, err)
	}

	want := make(map[string]bool, len(requested))
	for _, slot := range requested {
		want[slot] = true
	}

	for key, value := range values {
		if !want[key] {
			return nil, fmt.Errorf("%w: response touches field outside requested set: %q", ErrFillFailed, key)
		}
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: empty value for slot %q", ErrFillFailed, key)
		}
		if len(trimmed) > maxSlotValueLen || strings.Contains(trimmed, "\n") {
			return nil, fmt.Errorf("%w: value for slot %q is not a short phrase", ErrFillFailed, key)
		}
		values[key] = trimmed
	}

	for _, slot := range requested {
		if _, ok := values[slot]; !ok {
			return nil, fmt.Errorf("%w: requested slot %q is missing from response", ErrFillFailed, slot)
		}
	}

	return values, nil
}

// Apply записывает значения слотов в VBS. Запись возможна только в четыре
// творческих поля субъекта; override, токены, шлем и сегменты недостижимы
// отсюда по построению.
func Apply(vbs *models.VisualBeatSpec, values map[string]string) {
	for slot, value := range values {
		idx := strings.LastIndex(slot, ".")
		if idx <= 0 {
			continue
		}
		name, field := slot[:idx], slot[idx+1:]
		subj := vbs.Subject(name)
		if subj == nil {
			continue
		}
		switch field {
		case "action":
			subj.Action = value
		case "expression":
			subj.Expression = value
		case "position":
			subj.Position = value
		case "description":
			if subj.OverrideText == "" {
				subj.Description = value
			}
		}
	}
}
