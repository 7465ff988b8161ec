package models

import (
	"encoding/json"
	"fmt"
)

// Payload is the kind-specific part of an entity.
type Payload interface {
	Kind() Kind
}

type PlanPayload struct {
	Name               string `json:"name"`
	PriceCents         int64  `json:"priceCents"`
	Currency           string `json:"currency"`
	BillingCycleMonths int    `json:"billingCycleMonths"`
	TrialDays          int    `json:"trialDays,omitempty"`
}

func (PlanPayload) Kind() Kind { return KindPlan }

type OfferPayload struct {
	PlanCode        string `json:"planCode"`
	CouponCode      string `json:"couponCode"`
	DiscountPercent int    `json:"discountPercent"`
	DurationMonths  int    `json:"durationMonths"`
	Headline        string `json:"headline,omitempty"`
}

func (OfferPayload) Kind() Kind { return KindOffer }

type RetentionOfferPayload struct {
	PlanCode          string `json:"planCode"`
	CouponCode        string `json:"couponCode"`
	DiscountPercent   int    `json:"discountPercent"`
	DurationMonths    int    `json:"durationMonths"`
	EligibleAfterDays int    `json:"eligibleAfterDays"`
}

func (RetentionOfferPayload) Kind() Kind { return KindRetentionOffer }

type ExtensionOfferPayload struct {
	PlanCode      string `json:"planCode"`
	ExtensionDays int    `json:"extensionDays"`
}

func (ExtensionOfferPayload) Kind() Kind { return KindExtensionOffer }

type StoreConfigPayload struct {
	Settings map[string]any `json:"settings"`
}

func (StoreConfigPayload) Kind() Kind { return KindStoreConfig }

// DecodePayload decodes raw into the payload variant for kind.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch kind {
	case KindPlan:
		var v PlanPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode plan payload: %w", err)
		}
		p = v
	case KindOffer:
		var v OfferPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode offer payload: %w", err)
		}
		p = v
	case KindRetentionOffer:
		var v RetentionOfferPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode retention offer payload: %w", err)
		}
		p = v
	case KindExtensionOffer:
		var v ExtensionOfferPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode extension offer payload: %w", err)
		}
		p = v
	case KindStoreConfig:
		var v StoreConfigPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode store config payload: %w", err)
		}
		p = v
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	return p, nil
}

// PlanRef returns the plan code an offer-like payload references.
func PlanRef(p Payload) (string, bool) {
	switch v := p.(type) {
	case OfferPayload:
		return v.PlanCode, v.PlanCode != ""
	case RetentionOfferPayload:
		return v.PlanCode, v.PlanCode != ""
	case ExtensionOfferPayload:
		return v.PlanCode, v.PlanCode != ""
	}
	return "", false
}

// ApplyDraft overlays the top-level fields of draft onto p and returns the
// resulting payload of the same variant.
func ApplyDraft(p Payload, draft json.RawMessage) (Payload, error) {
	if len(draft) == 0 || string(draft) == "null" {
		return p, nil
	}
	if p == nil {
		return nil, fmt.Errorf("apply draft: payload required")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	base := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &base); err != nil {
		return nil, fmt.Errorf("decode payload fields: %w", err)
	}
	patch := map[string]json.RawMessage{}
	if err := json.Unmarshal(draft, &patch); err != nil {
		return nil, fmt.Errorf("decode draft data: %w", err)
	}
	for k, v := range patch {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("encode merged payload: %w", err)
	}
	return DecodePayload(p.Kind(), merged)
}

// MergeDraft merges patch into existing draft data, top-level keys only.
func MergeDraft(existing, patch json.RawMessage) (json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	if len(existing) > 0 && string(existing) != "null" {
		if err := json.Unmarshal(existing, &out); err != nil {
			return nil, fmt.Errorf("decode draft data: %w", err)
		}
	}
	in := map[string]json.RawMessage{}
	if err := json.Unmarshal(patch, &in); err != nil {
		return nil, fmt.Errorf("draft patch must be a JSON object: %w", err)
	}
	for k, v := range in {
		out[k] = v
	}
	return json.Marshal(out)
}
