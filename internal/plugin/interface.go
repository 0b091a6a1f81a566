// Package plugin provides the registry of mount kinds used to build sub-apps.
// Every kind is compiled into the router binary; an app directory's manifest
// selects one by name.
package plugin

import (
	"net/http"
	"time"
)

// Factory builds the handler for one sub-app export. The namespace is private
// to the app being loaded.
type Factory func(ns *Namespace, export Export) (http.Handler, error)

// KindInfo contains static information about a registered mount kind.
type KindInfo struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	// Selectable kinds may be named in a manifest.
	Selectable bool `json:"selectable"`
}

// Export is one named export of an app manifest.
type Export struct {
	Kind string `yaml:"kind" json:"kind"`

	// proxy
	Upstream   string        `yaml:"upstream,omitempty" json:"upstream,omitempty"`
	HealthPath string        `yaml:"health_path,omitempty" json:"health_path,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// static
	Root  string `yaml:"root,omitempty" json:"root,omitempty"`
	Index string `yaml:"index,omitempty" json:"index,omitempty"`

	// shared
	StripPrefix string `yaml:"strip_prefix,omitempty" json:"strip_prefix,omitempty"`
}
