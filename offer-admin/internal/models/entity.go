package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Key identifies an entity inside a store scope.
type Key struct {
	Store string `json:"store"`
	Code  string `json:"code"`
}

func (k Key) String() string { return k.Store + "/" + k.Code }

type Kind string

const (
	KindPlan           Kind = "plan"
	KindOffer          Kind = "offer"
	KindRetentionOffer Kind = "retention_offer"
	KindExtensionOffer Kind = "extension_offer"
	KindStoreConfig    Kind = "store_config"
)

// Entity is a promotable record. Payload holds the kind-specific fields.
type Entity struct {
	Key
	Kind           Kind            `json:"kind"`
	Status         Status          `json:"status"`
	Payload        Payload         `json:"-"`
	DraftData      json.RawMessage `json:"draftData,omitempty"`
	BuildKey       string          `json:"buildKey,omitempty"`
	Version        int64           `json:"version"`
	CreatedBy      string          `json:"createdBy"`
	LastModifiedBy string          `json:"lastModifiedBy"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	DeletedAt      *time.Time      `json:"deletedAt,omitempty"`
}

func (e Entity) Env() Env { return EnvFor(e.Status) }

func (e Entity) MarshalJSON() ([]byte, error) {
	type alias Entity
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		alias
		Payload json.RawMessage `json:"payload"`
	}{alias: alias(e), Payload: payload})
}

func (e *Entity) UnmarshalJSON(b []byte) error {
	type alias Entity
	var raw struct {
		alias
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = Entity(raw.alias)
	if len(raw.Payload) == 0 || string(raw.Payload) == "null" {
		return nil
	}
	p, err := DecodePayload(e.Kind, raw.Payload)
	if err != nil {
		return err
	}
	e.Payload = p
	return nil
}

// Transition is one recorded status change.
type Transition struct {
	ID        string    `json:"id"`
	Key       Key       `json:"key"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (t Transition) String() string {
	return fmt.Sprintf("%s %s -> %s", t.Key, t.From, t.To)
}
