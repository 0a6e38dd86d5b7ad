package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeStrict декодирует JSON-данные в out, запрещая неизвестные поля.
func DecodeStrict(data []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// ExtractJSONObject вырезает первый JSON-объект из текста ответа модели.
// Модели часто оборачивают JSON в markdown-ограждения или пояснения.
func ExtractJSONObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("no JSON object found in response (%d bytes)", len(raw))
	}
	return s[start : end+1], nil
}
