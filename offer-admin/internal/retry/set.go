package retry

import "log"

// Set holds per-system retry policies with a fallback default.
type Set struct {
	Default Policy            `yaml:"default"`
	Systems map[string]Policy `yaml:"systems"`
}

func (s Set) For(system string) Policy {
	if p, ok := s.Systems[system]; ok {
		return p
	}
	return s.Default
}

// Retrier builds a retrier for system.
func (s Set) Retrier(system string, logger *log.Logger) *Retrier {
	return New(s.For(system), logger)
}
