package models

import (
	"fmt"
	"strings"
	"time"
)

// RemoteLock serializes writes to one remote system in one environment.
// Age is computed by the store from its own clock. Token is unique per
// acquire call and lets a caller recognize a row it wrote itself.
type RemoteLock struct {
	System    string        `json:"system"`
	Env       Env           `json:"env"`
	Owner     string        `json:"owner,omitempty"`
	Token     string        `json:"-"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Age       time.Duration `json:"age"`
}

// PendingOperation marks a long-running action as in flight for Key.
// Artifact names a side artifact (an export object) to clean up on expiry.
type PendingOperation struct {
	Key       string        `json:"key"`
	Action    string        `json:"action"`
	Artifact  string        `json:"artifact,omitempty"`
	Token     string        `json:"-"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Age       time.Duration `json:"age"`
}

type ConfigStatus int

const (
	ConfigNew  ConfigStatus = 1
	ConfigStg  ConfigStatus = 2
	ConfigProd ConfigStatus = 3
)

func (s ConfigStatus) String() string {
	switch s {
	case ConfigStg:
		return "STG"
	case ConfigProd:
		return "PROD"
	default:
		return "NEW"
	}
}

func (s ConfigStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConfigStatus) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "NEW":
		*s = ConfigNew
	case "STG":
		*s = ConfigStg
	case "PROD":
		*s = ConfigProd
	default:
		return fmt.Errorf("unknown config status %q", b)
	}
	return nil
}

// VersionedConfig is the local rollback record of a remotely versioned
// configuration document. A nil rollback version means the environment holds
// no change written by this system.
type VersionedConfig struct {
	Name                string       `json:"name"`
	Status              ConfigStatus `json:"status"`
	StgRollbackVersion  *int64       `json:"stgRollbackVersion,omitempty"`
	ProdRollbackVersion *int64       `json:"prodRollbackVersion,omitempty"`
	CreatedBy           string       `json:"createdBy"`
	UpdatedBy           string       `json:"updatedBy,omitempty"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// RollbackVersion returns the version this system last wrote to env.
func (c VersionedConfig) RollbackVersion(env Env) *int64 {
	if env == EnvProduction {
		return c.ProdRollbackVersion
	}
	return c.StgRollbackVersion
}

func (c *VersionedConfig) SetRollbackVersion(env Env, v *int64) {
	if env == EnvProduction {
		c.ProdRollbackVersion = v
		return
	}
	c.StgRollbackVersion = v
}
