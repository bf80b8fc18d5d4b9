package star

import (
	"fmt"
	"os"
)

func writeAll(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("star: write %s: %w", path, err)
	}
	return nil
}
