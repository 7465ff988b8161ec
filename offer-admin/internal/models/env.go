package models

import (
	"fmt"
	"strings"
)

// Env is a deployment tier. EnvDB means the entity only exists locally.
type Env string

const (
	EnvDB         Env = "DB"
	EnvStaging    Env = "STG"
	EnvProduction Env = "PROD"
)

func ParseEnv(raw string) (Env, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DB", "DRAFT":
		return EnvDB, nil
	case "STG", "STAGING":
		return EnvStaging, nil
	case "PROD", "PRODUCTION":
		return EnvProduction, nil
	}
	return "", fmt.Errorf("unknown environment %q", raw)
}

// Remote reports whether env has remote counterparts.
func (e Env) Remote() bool {
	return e == EnvStaging || e == EnvProduction
}
