package upstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/protocol"
)

// Credentials identify the caller to the upstream service. They are opaque here.
type Credentials struct {
	Token  string
	UserID string
	OrgID  string
}

// WithDefaults fills empty fields from d.
func (c Credentials) WithDefaults(d Credentials) Credentials {
	if strings.TrimSpace(c.Token) == "" {
		c.Token = d.Token
	}
	if strings.TrimSpace(c.UserID) == "" {
		c.UserID = d.UserID
	}
	if strings.TrimSpace(c.OrgID) == "" {
		c.OrgID = d.OrgID
	}
	return c
}

// Client relays one conversation upstream and reports events in arrival order.
//
// Upstream status and transport failures are never returned: they arrive as a
// single synthetic text event whose Err is a *StatusError or *TransportError.
// Stream returns ctx.Err() on cancellation, the handler's error if it aborts,
// or a *protocol.ParseError when the stream ended mid-frame after every
// recovered event was delivered.
type Client interface {
	Stream(ctx context.Context, req protocol.ChatRequest, creds Credentials, onEvent protocol.EventHandler) error
}

// Config controls client construction.
type Config struct {
	Route              config.Route
	URL                string
	Passthrough        bool
	TenantHeaderPrefix string
	Timeout            time.Duration
	ErrorBodyLimit     int64
	MockDelay          time.Duration
}

func NewClient(cfg Config, logger *zap.Logger) (Client, error) {
	switch cfg.Route {
	case config.RouteMock:
		return NewMockClient(cfg.MockDelay), nil
	case config.RouteDirect, config.RouteProxy, config.RouteLegacy:
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("upstream url is required for http routes")
		}
		format := FormatLines
		if cfg.Passthrough || cfg.Route == config.RouteLegacy {
			format = FormatPlain
		}
		return NewHTTPClient(HTTPOptions{
			URL:            cfg.URL,
			Format:         format,
			SendIdentity:   cfg.Route != config.RouteLegacy,
			HeaderPrefix:   cfg.TenantHeaderPrefix,
			Timeout:        cfg.Timeout,
			ErrorBodyLimit: cfg.ErrorBodyLimit,
			Logger:         logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported upstream route %q", cfg.Route)
	}
}
