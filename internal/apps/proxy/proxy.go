// Package proxy implements the "proxy" mount kind: the sub-app runs as its
// own process and the router forwards requests, including WebSocket upgrades,
// to it.
package proxy

import (
	"fmt"
	"net"
	"net/http"
	stdhttputil "net/http/httputil"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pitext/router/internal/errors"
	"github.com/pitext/router/internal/httputil"
	"github.com/pitext/router/internal/plugin"
)

// Kind is the manifest name of this mount kind.
const Kind = "proxy"

const defaultDialTimeout = 10 * time.Second

func init() {
	plugin.Register(Kind, plugin.KindInfo{
		Description: "Reverse proxy to a sub-app running as a separate process",
		Selectable:  true,
	}, New)
}

// New builds a reverse proxy for export. The upstream may reference namespace
// variables, e.g. "http://127.0.0.1:${PORT}".
func New(ns *plugin.Namespace, export plugin.Export) (http.Handler, error) {
	target, err := ResolveUpstream(ns, export.Upstream)
	if err != nil {
		return nil, err
	}

	timeout := export.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	app := ns.App()
	log := ns.Logger()
	strip := strings.TrimRight(export.StripPrefix, "/")

	transport := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: time.Second,
	}

	rp := &stdhttputil.ReverseProxy{
		Rewrite: func(pr *stdhttputil.ProxyRequest) {
			if strip != "" {
				stripPath(pr.Out.URL, strip)
				pr.Out.Header.Set("X-Forwarded-Prefix", strip)
			}
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.WithContext(r.Context()).WithError(err).WithField("app", app).Warn("upstream request failed")
			httputil.WriteServiceError(w, errors.BadGateway(app, err))
		},
	}
	return rp, nil
}

// ResolveUpstream expands namespace variables in raw and validates the URL.
func ResolveUpstream(ns *plugin.Namespace, raw string) (*url.URL, error) {
	expanded := os.Expand(raw, func(key string) string {
		v, _ := ns.Get(key)
		return v
	})
	if strings.TrimSpace(expanded) == "" {
		return nil, fmt.Errorf("proxy: upstream is required")
	}
	u, err := url.Parse(expanded)
	if err != nil {
		return nil, fmt.Errorf("proxy: invalid upstream %q: %w", expanded, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("proxy: upstream %q must be an absolute http(s) URL", expanded)
	}
	return u, nil
}

func stripPath(u *url.URL, prefix string) {
	u.Path = trimPrefix(u.Path, prefix)
	if u.RawPath != "" {
		u.RawPath = trimPrefix(u.RawPath, prefix)
	}
}

func trimPrefix(p, prefix string) string {
	if !strings.HasPrefix(p, prefix) {
		return p
	}
	p = strings.TrimPrefix(p, prefix)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
