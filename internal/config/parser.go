package config

import (
	"fmt"
	"strings"
)

// Parse reads JSONC configuration content and overlays it onto base.
func Parse(content string, base Config) (Config, []Warning, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		validatedWarnings, err := Validate(base)
		if err != nil {
			return Config{}, nil, err
		}
		return base, validatedWarnings, nil
	}

	if !strings.HasPrefix(trimmed, "{") {
		line, _ := offsetToLineCol(content, int64(strings.Index(content, trimmed)+1))
		return Config{}, nil, fmt.Errorf("line %d: config must be a JSONC object", line)
	}

	return parseJSONC(content, base)
}
