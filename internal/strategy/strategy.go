// Package strategy maps content categories to their curation behavior:
// the evaluation prompt and how much body text the model is shown.
package strategy

import (
	"fmt"

	"github.com/Develata/rss-ai-news/internal/config"
)

// Strategy is the curation behavior for one category.
type Strategy struct {
	Key           string
	DisplayName   string
	Prompt        string
	MaxInputChars int
}

// Registry resolves categories to strategies. It is built once from config
// and read-only afterwards.
type Registry struct {
	byKey    map[string]Strategy
	fallback Strategy
}

// NewRegistry builds the registry from configured categories. The first
// category serves as the fallback for records whose category is no longer
// configured.
func NewRegistry(categories []config.Category) (*Registry, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("no categories configured")
	}

	byKey := make(map[string]Strategy, len(categories))
	for _, cat := range categories {
		byKey[cat.Key] = Strategy{
			Key:           cat.Key,
			DisplayName:   cat.DisplayName,
			Prompt:        cat.Prompt,
			MaxInputChars: cat.MaxInputChars,
		}
	}

	return &Registry{byKey: byKey, fallback: byKey[categories[0].Key]}, nil
}

// For returns the strategy for a category key, falling back to the first
// configured category for unknown keys.
func (r *Registry) For(key string) Strategy {
	if s, ok := r.byKey[key]; ok {
		return s
	}
	return r.fallback
}
