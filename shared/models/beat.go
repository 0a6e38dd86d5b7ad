package models

// RawBeat — входной бит повествования, как его выдает внешний экстрактор.
// Ядро не интерпретирует исходный сценарий: все структурные факты
// (персонажи, уходы, локация) уже извлечены выше по конвейеру.
type RawBeat struct {
	BeatID      string   `json:"beatId"`
	SceneNumber int      `json:"sceneNumber"`
	LocationID  string   `json:"locationId"`
	Text        string   `json:"text"`                  // Текст бита (используется классификатором шаблонов)
	Characters  []string `json:"characters,omitempty"`  // Персонажи, явно присутствующие в бите
	Departures  []string `json:"departures,omitempty"`  // Персонажи, явно покидающие сцену в этом бите
	ShotHint    string   `json:"shotHint,omitempty"`    // Подсказка типа плана от экстрактора
	HelmetHints map[string]HelmetState `json:"helmetHints,omitempty"` // Явные смены состояния шлема в бите
}
