// Package karma — detector.go распознаёт «+1»/«-1» в ответах на сообщения.
package karma

import "strings"

// reactions — что считается плюсом и минусом. Регистр не важен,
// пунктуация в конце допускается.
var reactions = map[string]int64{
	"+1":      1,
	"+":       1,
	"спасибо": 1,
	"👍":       1,
	"-1":      -1,
	"-":       -1,
	"👎":       -1,
}

// Detect возвращает изменение кармы для текста сообщения.
// ok == false — сообщение не является реакцией.
func Detect(text string) (delta int64, ok bool) {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	cleaned = strings.TrimRight(cleaned, "!.,;:) ")
	delta, ok = reactions[cleaned]
	return delta, ok
}
