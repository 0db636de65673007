// Package doctor reviews a loaded pushbridge configuration for problems
// that parse cleanly but are likely mistakes.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/mattjoyce/pushbridge/internal/auth"
	"github.com/mattjoyce/pushbridge/internal/config"
)

// minSecretLen is the shortest webhook secret accepted without a warning.
const minSecretLen = 16

// maxWorkers is the largest worker count accepted without a warning.
const maxWorkers = 64

// Result holds the outcome of a review.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor reviews one configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{}

	d.checkProvider(r)
	d.checkBridge(r)
	d.checkAPI(r)
	d.checkTokenScopes(r)
	d.checkWebhooks(r)
	d.checkScript(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (r *Result) addError(category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (r *Result) addWarning(category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) checkProvider(r *Result) {
	p := d.cfg.Provider
	if p.AppID == "" || p.ClientKey == "" {
		r.addWarning("provider", "provider.app_id",
			"no credentials configured; scripts must call initialize with their own app id and client key")
	}
	if p.Kind == config.ProviderREST {
		u, err := url.Parse(p.REST.BaseURL)
		if err != nil || u.Host == "" {
			r.addError("provider", "provider.rest.base_url",
				fmt.Sprintf("base_url %q is not an absolute URL", p.REST.BaseURL))
			return
		}
		if u.Scheme == "http" && !isLoopbackHost(u.Hostname()) {
			r.addWarning("provider", "provider.rest.base_url",
				"client key is sent in clear text over http")
		}
	}
}

func (d *Doctor) checkBridge(r *Result) {
	if d.cfg.Bridge.Workers > maxWorkers {
		r.addWarning("bridge", "bridge.workers",
			fmt.Sprintf("%d workers is unusually high for provider calls", d.cfg.Bridge.Workers))
	}
}

func (d *Doctor) checkAPI(r *Result) {
	api := d.cfg.API
	if !api.Enabled {
		if len(d.cfg.Webhooks.Endpoints) == 0 && d.cfg.Script.Path == "" {
			r.addWarning("api", "api.enabled",
				"API, webhooks and script are all disabled; nothing can drive the bridge")
		}
		return
	}
	if api.Auth.APIKey != "" && len(api.Auth.Tokens) > 0 {
		r.addWarning("api", "api.auth",
			"both api_key and tokens are set; api_key grants full access and bypasses scopes")
	}
	host, _, err := net.SplitHostPort(api.Listen)
	if err != nil {
		r.addError("api", "api.listen", fmt.Sprintf("listen address %q: %v", api.Listen, err))
		return
	}
	if !isLoopbackHost(host) {
		r.addWarning("api", "api.listen",
			fmt.Sprintf("API listens on %q, reachable beyond this host", api.Listen))
	}
}

func (d *Doctor) checkTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if !auth.Known(scope) {
				r.addError("token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected one of %s)", scope, strings.Join(auth.Scopes(), ", ")))
			}
		}
	}
}

func (d *Doctor) checkWebhooks(r *Result) {
	hooks := d.cfg.Webhooks
	if len(hooks.Endpoints) == 0 {
		return
	}
	if d.cfg.API.Enabled && hooks.Listen == d.cfg.API.Listen {
		r.addError("webhooks", "webhooks.listen",
			fmt.Sprintf("webhooks and API both listen on %q", hooks.Listen))
	}
	for i, ep := range hooks.Endpoints {
		if len(ep.Secret) < minSecretLen {
			r.addWarning("webhooks", fmt.Sprintf("webhooks.endpoints[%d].secret", i),
				fmt.Sprintf("secret for %q is shorter than %d characters", ep.Path, minSecretLen))
		}
	}
}

func (d *Doctor) checkScript(r *Result) {
	path := d.cfg.Script.Path
	if path == "" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		r.addError("script", "script.path", fmt.Sprintf("script %s: %v", path, err))
		return
	}
	if info.IsDir() {
		r.addError("script", "script.path", fmt.Sprintf("script %s is a directory", path))
	}
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
