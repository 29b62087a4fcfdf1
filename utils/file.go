package utils

import (
	"os"
	"strings"
)

func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// ReadArgument returns the argument itself, or the content of the named file when the argument
// starts with '@' (curl style)
func ReadArgument(arg string) ([]byte, error) {
	if !strings.HasPrefix(arg, "@") {
		return []byte(arg), nil
	}

	return os.ReadFile(strings.TrimPrefix(arg, "@"))
}
