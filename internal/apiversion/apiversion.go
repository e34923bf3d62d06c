// Package apiversion resolves which API version a request targets and
// decorates responses with version and deprecation metadata.
//
// Resolution checks, in strict priority order: a /api/v<N>/ path
// segment, the X-API-Version header, then the api_version query
// parameter. Unrecognized tokens fall back to the default version, so
// resolution never fails.
package apiversion

import (
	"net/http"
	"regexp"
	"time"
)

// Version identifies one of the served API versions ("v1", ...).
type Version string

// Meta is the immutable per-version configuration.
type Meta struct {
	Deprecated bool
	// Sunset is the planned removal date, set only for deprecated versions.
	Sunset time.Time
	// MigrationDocs is linked in the Link header for deprecated versions.
	MigrationDocs string
}

const (
	HeaderName = "X-API-Version"
	QueryParam = "api_version"
)

var pathToken = regexp.MustCompile(`^/api/(v[0-9]+)(?:/|$)`)

// Resolver maps requests to a recognized Version.
type Resolver struct {
	def      Version
	versions map[Version]Meta
}

// NewResolver builds a resolver over the known version set. def must be
// a key of versions.
func NewResolver(def Version, versions map[Version]Meta) *Resolver {
	vs := make(map[Version]Meta, len(versions))
	for v, m := range versions {
		vs[v] = m
	}
	if _, ok := vs[def]; !ok {
		vs[def] = Meta{}
	}
	return &Resolver{def: def, versions: vs}
}

// Default returns the fallback version.
func (rs *Resolver) Default() Version { return rs.def }

// Resolve determines the version r targets. Always returns a usable
// version; unknown tokens resolve to the default.
func (rs *Resolver) Resolve(r *http.Request) Version {
	if m := pathToken.FindStringSubmatch(r.URL.Path); m != nil {
		if v := Version(m[1]); rs.known(v) {
			return v
		}
		return rs.def
	}
	if h := r.Header.Get(HeaderName); h != "" {
		if v := Version(h); rs.known(v) {
			return v
		}
		return rs.def
	}
	if q := r.URL.Query().Get(QueryParam); q != "" {
		if v := Version(q); rs.known(v) {
			return v
		}
	}
	return rs.def
}

// Decorate sets version headers on h, plus deprecation metadata when v
// is flagged deprecated. Setting (not adding) keeps it idempotent.
func (rs *Resolver) Decorate(h http.Header, v Version) {
	meta, ok := rs.versions[v]
	if !ok {
		v = rs.def
		meta = rs.versions[v]
	}

	h.Set(HeaderName, string(v))
	if !meta.Deprecated {
		h.Set("X-API-Version-Status", "stable")
		return
	}

	h.Set("X-API-Version-Status", "deprecated")
	if !meta.Sunset.IsZero() {
		h.Set("X-API-Deprecation-Date", meta.Sunset.UTC().Format(time.RFC3339))
		h.Set("Sunset", meta.Sunset.UTC().Format(http.TimeFormat))
	}
	if meta.MigrationDocs != "" {
		h.Set("Link", `<`+meta.MigrationDocs+`>; rel="deprecation"`)
	}
}

func (rs *Resolver) known(v Version) bool {
	_, ok := rs.versions[v]
	return ok
}
