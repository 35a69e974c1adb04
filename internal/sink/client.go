package sink

import (
	"net/http"

	cleanhttp "github.com/hashicorp/go-cleanhttp"

	"github.com/ovh/beamium/internal/config"
)

// NewClient builds the HTTP client shared by every sender of one sink
// (spec §5: "HTTP client per sink: shared by all of that sink's
// senders"). cleanhttp's pooled transport gives sane dial/keep-alive
// defaults without inheriting http.DefaultTransport's process-global
// state.
func NewClient(cfg config.SinkConfig) *http.Client {
	transport := cleanhttp.DefaultPooledTransport()
	if !cfg.KeepAlive {
		transport.DisableKeepAlives = true
	} else if d := cfg.KeepAliveTimeout.AsDuration(); d > 0 {
		transport.IdleConnTimeout = d
	}
	return &http.Client{Transport: transport}
}
