// Package scanauth resolves the credentials and transport used for remote
// probes. Persisted override settings are read through a short-lived cache
// so a burst of probes does not hammer the settings store.
package scanauth

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Transport is the authentication scheme for the remote management session.
type Transport string

const (
	TransportNTLM     Transport = "ntlm"
	TransportKerberos Transport = "kerberos"
	TransportCredSSP  Transport = "credssp"
)

// Source identifies which precedence level produced the effective auth.
type Source string

const (
	SourceConnectionOverride Source = "connection-override"
	SourcePersistedOverride  Source = "persisted-override"
	SourceDefault            Source = "default"
)

const (
	DefaultHTTPPort  = 5985
	DefaultHTTPSPort = 5986

	cacheTTL = 5 * time.Second
)

// Persisted override settings keys.
const (
	KeyEnabled   = "scanAuth.enabled"
	KeyUsername  = "scanAuth.username"
	KeyPassword  = "scanAuth.password"
	KeyTransport = "scanAuth.transport"
	KeyUseHTTPS  = "scanAuth.useHttps"
	KeyPort      = "scanAuth.port"
)

var overrideKeys = []string{KeyEnabled, KeyUsername, KeyPassword, KeyTransport, KeyUseHTTPS, KeyPort}

// EffectiveAuth is the credential/transport tuple used for one probe.
type EffectiveAuth struct {
	Source    Source
	Username  string
	Password  string
	Transport Transport
	UseHTTPS  bool
	Port      int
}

// Override carries call-level credentials supplied for a single probe.
type Override struct {
	Username string
	Password string
}

// Defaults are the process-wide fallback credentials.
type Defaults struct {
	Username string
	Password string
}

// Settings reads flat key/value settings. Implemented by the storage layer.
type Settings interface {
	GetSettings(ctx context.Context, keys []string) (map[string]string, error)
}

type persistedOverride struct {
	Enabled   bool
	Username  string
	Password  string
	Transport Transport
	UseHTTPS  bool
	Port      int // 0 means no explicit override stored
}

// Resolver produces the effective auth for a probe. Resolve never fails:
// unreadable settings degrade to the defaults.
type Resolver struct {
	settings Settings
	defaults Defaults
	logger   *slog.Logger

	mu        sync.Mutex
	cached    *persistedOverride
	fetchedAt time.Time
}

// NewResolver builds a resolver over the given settings store.
func NewResolver(settings Settings, defaults Defaults, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		settings: settings,
		defaults: defaults,
		logger:   logger,
	}
}

// Resolve applies override precedence: call-level override, then persisted
// override, then defaults. Call-level overrides never inherit transport or
// port from persisted settings.
func (r *Resolver) Resolve(ctx context.Context, override *Override) EffectiveAuth {
	if override != nil && (override.Username != "" || override.Password != "") {
		return EffectiveAuth{
			Source:    SourceConnectionOverride,
			Username:  override.Username,
			Password:  override.Password,
			Transport: TransportNTLM,
			UseHTTPS:  false,
			Port:      DefaultHTTPPort,
		}
	}

	if stored := r.persisted(ctx); stored != nil && stored.Enabled && stored.Username != "" {
		port := stored.Port
		if port <= 0 {
			port = defaultPort(stored.UseHTTPS)
		}
		return EffectiveAuth{
			Source:    SourcePersistedOverride,
			Username:  stored.Username,
			Password:  stored.Password,
			Transport: stored.Transport,
			UseHTTPS:  stored.UseHTTPS,
			Port:      port,
		}
	}

	return EffectiveAuth{
		Source:    SourceDefault,
		Username:  r.defaults.Username,
		Password:  r.defaults.Password,
		Transport: TransportNTLM,
		UseHTTPS:  false,
		Port:      DefaultHTTPPort,
	}
}

// Invalidate drops the cached persisted override so the next resolution
// re-reads settings. The settings write path calls this so updated
// credentials take effect without waiting out the TTL.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.fetchedAt = time.Time{}
	r.mu.Unlock()
}

func (r *Resolver) persisted(ctx context.Context) *persistedOverride {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && time.Since(r.fetchedAt) < cacheTTL {
		return r.cached
	}

	values, err := r.settings.GetSettings(ctx, overrideKeys)
	if err != nil {
		// Unreadable settings must never block a probe.
		r.logger.Warn("scan auth settings unreadable, using defaults", "error", err)
		r.cached = &persistedOverride{}
		r.fetchedAt = time.Now()
		return r.cached
	}

	r.cached = &persistedOverride{
		Enabled:   strings.EqualFold(strings.TrimSpace(values[KeyEnabled]), "true"),
		Username:  values[KeyUsername],
		Password:  values[KeyPassword],
		Transport: CoerceTransport(values[KeyTransport]),
		UseHTTPS:  strings.EqualFold(strings.TrimSpace(values[KeyUseHTTPS]), "true"),
		Port:      coercePort(values[KeyPort]),
	}
	r.fetchedAt = time.Now()
	return r.cached
}

// CoerceTransport maps arbitrary input to a supported transport,
// defaulting to NTLM.
func CoerceTransport(raw string) Transport {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(TransportKerberos):
		return TransportKerberos
	case string(TransportCredSSP):
		return TransportCredSSP
	default:
		return TransportNTLM
	}
}

func coercePort(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func defaultPort(useHTTPS bool) int {
	if useHTTPS {
		return DefaultHTTPSPort
	}
	return DefaultHTTPPort
}
