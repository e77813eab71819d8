package column

import "strings"

const (
	// ErrorPrefix starts every terminal failure written into a primary cell.
	ErrorPrefix = "错误: "

	// FieldMissing fills predefined fields absent from the model's JSON.
	FieldMissing = "[field missing]"

	// StoppedPayload is the outcome payload of a task skipped after Stop.
	StoppedPayload = "stopped"
)

var errorMarkers = []string{
	"错误:",
	"错误：",
}

// IsErrorValue reports whether a cell holds a failure written by a run.
func IsErrorValue(v string) bool {
	v = strings.TrimSpace(v)
	for _, m := range errorMarkers {
		if strings.HasPrefix(v, m) {
			return true
		}
	}
	return false
}

// ErrorValue renders err as cell content.
func ErrorValue(msg string) string {
	return ErrorPrefix + strings.TrimSpace(msg)
}

func IsBlank(v string) bool {
	return strings.TrimSpace(v) == ""
}
