// Package registry maps OCR'd service labels to configured services and
// their alert recipients.
package registry

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// Targets lists the recipients of a DOWN alert for one service.
type Targets struct {
	Email           []string `yaml:"email" json:"email"`
	Messaging       []string `yaml:"whatsapp" json:"whatsapp"`
	MessagingGroups []string `yaml:"whatsapp_groups" json:"whatsapp_groups"`
}

// Empty reports whether no recipient is configured on any channel.
func (t Targets) Empty() bool {
	return len(t.Email) == 0 && len(t.Messaging) == 0 && len(t.MessagingGroups) == 0
}

// ServiceEntry is one configured service.
type ServiceEntry struct {
	Targets     `yaml:",inline"`
	DisplayName string   `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Patterns    []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
}

// Document is the persisted registry.
type Document struct {
	Default  Targets                 `yaml:"default_config" json:"default_config"`
	Services map[string]ServiceEntry `yaml:"services" json:"services"`
}

// Identity is the resolved form of a piece of OCR'd text.
type Identity struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name,omitempty"`
	Key         string  `json:"key"`
	Targets     Targets `json:"-"`
	Registered  bool    `json:"registered"`
}

// Label returns the name used in alert messages.
func (id Identity) Label() string {
	if id.DisplayName != "" {
		return id.DisplayName
	}
	return id.Name
}

// LookupResult is the registry contract consumed by alerting.
type LookupResult struct {
	Matched       bool
	CanonicalName string
	Targets       Targets
}

var nonKey = regexp.MustCompile(`[^a-z0-9-]+`)

// Normalize lowercases raw and strips everything outside [a-z0-9-].
func Normalize(raw string) string {
	return nonKey.ReplaceAllString(strings.ToLower(raw), "")
}

type entry struct {
	name     string
	key      string
	svc      ServiceEntry
	patterns []*regexp.Regexp
}

// Registry resolves labels against a fixed set of services. It is
// immutable after construction and safe for concurrent use.
type Registry struct {
	entries  []entry
	defaults Targets
}

// New builds a registry from doc. Entries are ordered by normalized key.
// Invalid patterns are reported through logger and skipped.
func New(doc Document, logger *slog.Logger) *Registry {
	r := &Registry{defaults: doc.Default}

	for name, svc := range doc.Services {
		e := entry{name: name, key: Normalize(name), svc: svc}
		for _, p := range svc.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				if logger != nil {
					logger.Warn("Skipping invalid service pattern", "service", name, "pattern", p, "error", err)
				}
				continue
			}
			e.patterns = append(e.patterns, re)
		}
		r.entries = append(r.entries, e)
	}

	sort.Slice(r.entries, func(i, j int) bool {
		if r.entries[i].key != r.entries[j].key {
			return r.entries[i].key < r.entries[j].key
		}
		return r.entries[i].name < r.entries[j].name
	})
	return r
}

// Len returns the number of registered services.
func (r *Registry) Len() int { return len(r.entries) }

// Defaults returns the targets used for unregistered services.
func (r *Registry) Defaults() Targets { return r.defaults }

// Resolve maps raw OCR text to an identity. Exact key equality wins over a
// pattern match, which wins over substring containment. Text matching
// nothing resolves to an unregistered identity carrying the default
// targets.
func (r *Registry) Resolve(raw string) Identity {
	key := Normalize(raw)
	if key == "" {
		return Identity{Targets: r.defaults}
	}

	for i := range r.entries {
		if r.entries[i].key == key {
			return r.entries[i].identity(key)
		}
	}

	for i := range r.entries {
		for _, re := range r.entries[i].patterns {
			if re.MatchString(raw) || re.MatchString(key) {
				return r.entries[i].identity(key)
			}
		}
	}

	for i := range r.entries {
		ek := r.entries[i].key
		if ek == "" {
			continue
		}
		if strings.Contains(key, ek) || strings.Contains(ek, key) {
			return r.entries[i].identity(key)
		}
	}

	return Identity{Name: key, Key: key, Targets: r.defaults}
}

// Lookup resolves raw and reports the canonical name and targets.
func (r *Registry) Lookup(raw string) LookupResult {
	id := r.Resolve(raw)
	return LookupResult{Matched: id.Registered, CanonicalName: id.Name, Targets: id.Targets}
}

func (e *entry) identity(key string) Identity {
	return Identity{
		Name:        e.name,
		DisplayName: e.svc.DisplayName,
		Key:         key,
		Targets:     e.svc.Targets,
		Registered:  true,
	}
}

// Store loads the persisted registry document.
type Store interface {
	Load(ctx context.Context) (Document, error)
}

// LoadRegistry loads a registry from store. A store failure is logged and
// yields an empty registry so detection keeps running.
func LoadRegistry(ctx context.Context, store Store, logger *slog.Logger) *Registry {
	doc, err := store.Load(ctx)
	if err != nil {
		logger.Error("Failed to load service registry, continuing with empty registry", "error", err)
		return New(Document{}, logger)
	}
	r := New(doc, logger)
	logger.Info("Service registry loaded", "services", r.Len())
	return r
}
