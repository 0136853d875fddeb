// Package collector is the receiving side of the payload contract: an HTTP
// endpoint that authenticates a project, validates the session payload and
// hands it to a Sink.
package collector

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"github.com/xkilldash9x/invisinsights/internal/config"
	"github.com/xkilldash9x/invisinsights/internal/signal"
)

// Project is a registered embedding site.
type Project struct {
	Key string
	// AllowedDomains restricts the request origin host. Empty allows any.
	AllowedDomains []string
}

// AllowsOrigin reports whether a request from origin (an Origin or Referer
// header value) may post for this project. Requests without an origin are
// allowed, as are all origins when no domain is configured.
func (p Project) AllowsOrigin(origin string) bool {
	if len(p.AllowedDomains) == 0 || origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return false
	}
	return slices.Contains(p.AllowedDomains, strings.ToLower(u.Hostname()))
}

// ProjectDirectory resolves project keys.
type ProjectDirectory interface {
	Lookup(ctx context.Context, key string) (Project, bool, error)
}

// StaticDirectory is a fixed allow-list of projects.
type StaticDirectory struct {
	projects map[string]Project
}

// NewStaticDirectory builds the allow-list from the collector configuration.
func NewStaticDirectory(cfg config.CollectorConfig) *StaticDirectory {
	d := &StaticDirectory{projects: make(map[string]Project)}
	for _, key := range cfg.ProjectKeys {
		if key = strings.TrimSpace(key); key != "" {
			d.projects[key] = Project{Key: key}
		}
	}
	for _, p := range cfg.Projects {
		domains := make([]string, 0, len(p.AllowedDomains))
		for _, dom := range p.AllowedDomains {
			domains = append(domains, strings.ToLower(strings.TrimSpace(dom)))
		}
		key := strings.TrimSpace(p.Key)
		d.projects[key] = Project{Key: key, AllowedDomains: domains}
	}
	return d
}

// Lookup implements ProjectDirectory.
func (d *StaticDirectory) Lookup(_ context.Context, key string) (Project, bool, error) {
	p, ok := d.projects[key]
	return p, ok, nil
}

// Len returns the number of registered projects.
func (d *StaticDirectory) Len() int { return len(d.projects) }

// Sink receives every accepted payload.
type Sink interface {
	Save(ctx context.Context, p signal.Payload) error
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(ctx context.Context, p signal.Payload) error

// Save implements Sink.
func (f SinkFunc) Save(ctx context.Context, p signal.Payload) error { return f(ctx, p) }
