package models

import (
	"fmt"
	"strings"
)

// Status is the lifecycle position of a promotable entity. Higher values are
// further along; the numeric bands map to environments.
type Status int

const (
	StatusDraft Status = 1

	StatusStgPending          Status = 10
	StatusStgValidating       Status = 11
	StatusStgValidationFailed Status = 12
	StatusStgRollbackFailed   Status = 13
	StatusStgValid            Status = 14

	StatusProdPending          Status = 20
	StatusProdValidating       Status = 21
	StatusProdValidationFailed Status = 22
	StatusProdRollbackFailed   Status = 23
	StatusProdValid            Status = 24

	StatusRetired Status = 30
)

const (
	StagingThreshold    Status = 10
	ProductionThreshold Status = 20
)

var statusNames = map[Status]string{
	StatusDraft:                "DRAFT",
	StatusStgPending:           "STG_PENDING",
	StatusStgValidating:        "STG_VALIDATING",
	StatusStgValidationFailed:  "STG_VALIDATION_FAILED",
	StatusStgRollbackFailed:    "STG_ROLLBACK_FAILED",
	StatusStgValid:             "STG_VALID",
	StatusProdPending:          "PROD_PENDING",
	StatusProdValidating:       "PROD_VALIDATING",
	StatusProdValidationFailed: "PROD_VALIDATION_FAILED",
	StatusProdRollbackFailed:   "PROD_ROLLBACK_FAILED",
	StatusProdValid:            "PROD_VALID",
	StatusRetired:              "RETIRED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseStatus(raw string) (Status, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	for s, name := range statusNames {
		if name == raw {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", raw)
}

// EnvFor maps a status to the environment the entity currently lives in.
func EnvFor(s Status) Env {
	switch {
	case s < StagingThreshold:
		return EnvDB
	case s < ProductionThreshold:
		return EnvStaging
	default:
		return EnvProduction
	}
}

// Pending returns the *_PENDING status of env's band.
func Pending(env Env) Status {
	if env == EnvProduction {
		return StatusProdPending
	}
	return StatusStgPending
}

func Validating(env Env) Status {
	if env == EnvProduction {
		return StatusProdValidating
	}
	return StatusStgValidating
}

func ValidStatus(env Env) Status {
	if env == EnvProduction {
		return StatusProdValid
	}
	return StatusStgValid
}

func ValidationFailed(env Env) Status {
	if env == EnvProduction {
		return StatusProdValidationFailed
	}
	return StatusStgValidationFailed
}

func RollbackFailed(env Env) Status {
	if env == EnvProduction {
		return StatusProdRollbackFailed
	}
	return StatusStgRollbackFailed
}

// PriorStable is the status an entity returns to when the remote work of its
// current band is reversed.
func PriorStable(s Status) Status {
	if EnvFor(s) == EnvProduction {
		return StatusStgValid
	}
	return StatusDraft
}

func (s Status) IsPending() bool {
	return s == StatusStgPending || s == StatusProdPending
}

func (s Status) IsValidating() bool {
	return s == StatusStgValidating || s == StatusProdValidating
}
