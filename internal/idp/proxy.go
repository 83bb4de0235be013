package idp

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/rs/zerolog"
)

// Availability is the slice of the supervisor the proxy depends on.
type Availability interface {
	IsRunning() bool
}

// Proxy forwards requests under the issuer path to the loopback provider.
// When the provider is not running it answers 503 without dialing.
type Proxy struct {
	supervisor Availability
	upstream   *httputil.ReverseProxy
	log        zerolog.Logger
	metrics    *Metrics
}

// NewProxy returns a proxy to target (e.g. "http://127.0.0.1:5556").
func NewProxy(target string, supervisor Availability, logger zerolog.Logger, metrics *Metrics) (*Proxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	p := &Proxy{
		supervisor: supervisor,
		log:        logger.With().Str("component", "idp-proxy").Logger(),
		metrics:    metrics,
	}
	p.upstream = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(u)
			r.Out.Host = r.In.Host
			r.SetXForwarded()
			r.Out.Header.Del("Authorization")
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.metrics.proxy("upstream_error")
			p.log.Warn().Err(err).Str("path", r.URL.Path).Msg("identity provider request failed")
			writeJSONError(w, http.StatusBadGateway, "identity provider unreachable")
		},
	}
	return p, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !p.supervisor.IsRunning() {
		p.metrics.proxy("unavailable")
		writeJSONError(w, http.StatusServiceUnavailable, "identity provider unavailable")
		return
	}
	p.metrics.proxy("forwarded")
	p.upstream.ServeHTTP(w, r)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
