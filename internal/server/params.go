package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
)

func parseSnowflake(raw string) (snowflake.ID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func parseOptionalSnowflake(raw string) (*snowflake.ID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	id, ok := parseSnowflake(raw)
	if !ok {
		return nil, false
	}
	return &id, true
}
