package models

// DiagnosticCode классифицирует диагностические пометки бита.
type DiagnosticCode string

const (
	DiagFillDegraded      DiagnosticCode = "fill-degraded"      // Fill-in не удался, подставлены детерминированные значения
	DiagBudgetOverflow    DiagnosticCode = "budget-overflow"    // Бюджет токенов превышен после исчерпания repair
	DiagRepairExhausted   DiagnosticCode = "repair-exhausted"   // Repair-цикл исчерпал попытки
	DiagMissingData       DiagnosticCode = "missing-data"       // Отсутствует обязательный статический факт
	DiagSubjectReinserted DiagnosticCode = "subject-reinserted" // Персонаж восстановлен из состояния сцены
	DiagCompacted         DiagnosticCode = "compacted"          // Применено сжатие описаний
	DiagSegmentDropped    DiagnosticCode = "segment-dropped"    // Удален некорректный сегмент-маркер
)

// Diagnostic — одна диагностическая пометка, прикрепляемая к выходу бита.
// Ни одна ошибка конвейера не проглатывается без такой записи.
type Diagnostic struct {
	Code   DiagnosticCode `json:"code"`
	Detail string         `json:"detail,omitempty"`
}

// BeatStatus — итоговый статус обработки бита.
type BeatStatus string

const (
	BeatStatusOK      BeatStatus = "ok"      // Промпт прошел валидацию
	BeatStatusFlagged BeatStatus = "flagged" // Промпт выпущен с нарушениями (лучший кандидат)
	BeatStatusSkipped BeatStatus = "skipped" // Бит пропущен (missing data)
)

// HasCode сообщает, присутствует ли код в списке диагностик.
func HasCode(list []Diagnostic, code DiagnosticCode) bool {
	for _, d := range list {
		if d.Code == code {
			return true
		}
	}
	return false
}
