package events

import (
	"context"
	"log"
	"time"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
)

const (
	DefaultTransitionTopic = "offer-admin.transitions"
	DefaultCacheTopic      = "offer-admin.cache-invalidations"
)

type TransitionEvent struct {
	Type       string        `json:"type"`
	Store      string        `json:"store"`
	Code       string        `json:"code"`
	Kind       models.Kind   `json:"kind"`
	From       models.Status `json:"from"`
	To         models.Status `json:"to"`
	Env        models.Env    `json:"env"`
	Actor      string        `json:"actor"`
	Reason     string        `json:"reason,omitempty"`
	OccurredAt time.Time     `json:"occurredAt"`
}

type CacheInvalidation struct {
	Type       string     `json:"type"`
	Store      string     `json:"store"`
	Env        models.Env `json:"env"`
	Reason     string     `json:"reason"`
	OccurredAt time.Time  `json:"occurredAt"`
}

type producer interface {
	ProduceJSON(ctx context.Context, topic string, key []byte, v interface{}) error
}

// Publisher maps domain events onto topics.
type Publisher struct {
	producer        producer
	transitionTopic string
	cacheTopic      string
}

func NewPublisher(p producer, transitionTopic, cacheTopic string) *Publisher {
	if transitionTopic == "" {
		transitionTopic = DefaultTransitionTopic
	}
	if cacheTopic == "" {
		cacheTopic = DefaultCacheTopic
	}
	return &Publisher{producer: p, transitionTopic: transitionTopic, cacheTopic: cacheTopic}
}

func (p *Publisher) PublishTransition(ctx context.Context, e models.Entity, t models.Transition) error {
	return p.producer.ProduceJSON(ctx, p.transitionTopic, []byte(e.Key.String()), TransitionEvent{
		Type:       "promotion.transition",
		Store:      e.Store,
		Code:       e.Code,
		Kind:       e.Kind,
		From:       t.From,
		To:         t.To,
		Env:        models.EnvFor(t.To),
		Actor:      t.Actor,
		Reason:     t.Reason,
		OccurredAt: t.CreatedAt,
	})
}

// Invalidate asks consumers in env to drop cached data for storeCode.
func (p *Publisher) Invalidate(ctx context.Context, env models.Env, storeCode, reason string) error {
	return p.producer.ProduceJSON(ctx, p.cacheTopic, []byte(storeCode), CacheInvalidation{
		Type:       "cache.invalidate",
		Store:      storeCode,
		Env:        env,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	})
}

// LogPublisher stands in when no brokers are configured.
type LogPublisher struct {
	Logger *log.Logger
}

func (l LogPublisher) PublishTransition(ctx context.Context, e models.Entity, t models.Transition) error {
	l.Logger.Printf("[events] transition store=%s code=%s from=%s to=%s actor=%s", e.Store, e.Code, t.From, t.To, t.Actor)
	return nil
}

func (l LogPublisher) Invalidate(ctx context.Context, env models.Env, storeCode, reason string) error {
	l.Logger.Printf("[events] cache invalidate store=%s env=%s reason=%s", storeCode, env, reason)
	return nil
}
