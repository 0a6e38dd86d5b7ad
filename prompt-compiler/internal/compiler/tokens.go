package compiler

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Оценка токенов фиксирована для всего процесса: либо всегда tiktoken,
// либо всегда эвристика. Это гарантирует идемпотентность компиляции.
var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func tokenEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		// Ошибка загрузки словаря переводит счетчик на эвристику.
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// EstimateTokens оценивает количество токенов промпта.
// Основной путь - tiktoken (cl100k_base); запасной - детерминированная
// эвристика: слова плюс взвешенная пунктуация (запятые и скобки дают
// дополнительные токены в большинстве BPE-словарей).
func EstimateTokens(prompt string) int {
	if enc := tokenEncoding(); enc != nil {
		return len(enc.Encode(prompt, nil, nil))
	}

	words := len(strings.Fields(prompt))
	punct := strings.Count(prompt, ",") + strings.Count(prompt, ":") +
		strings.Count(prompt, "[") + strings.Count(prompt, "]") + strings.Count(prompt, "(")
	return words + (punct+1)/2
}
