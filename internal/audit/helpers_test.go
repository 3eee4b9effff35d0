package audit

import (
	"os"
	"path/filepath"
)

func writeUnit(dir, name, content string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}
