package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/protocol"
)

// Format is the encoding of a successful upstream body.
type Format int

const (
	FormatLines Format = iota
	FormatPlain
)

const readBufferSize = 32 << 10

type HTTPOptions struct {
	URL            string
	Format         Format
	SendIdentity   bool
	HeaderPrefix   string
	Timeout        time.Duration
	ErrorBodyLimit int64
	Logger         *zap.Logger
	Transport      http.RoundTripper
}

// HTTPClient forwards chat requests to an upstream HTTP endpoint and decodes the streamed body.
type HTTPClient struct {
	url            string
	format         Format
	sendIdentity   bool
	headerPrefix   string
	errorBodyLimit int64
	client         *http.Client
	logger         *zap.Logger
}

func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.ErrorBodyLimit <= 0 {
		opts.ErrorBodyLimit = 4 << 10
	}
	if opts.HeaderPrefix == "" {
		opts.HeaderPrefix = "x-reevo"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &HTTPClient{
		url:            strings.TrimSpace(opts.URL),
		format:         opts.Format,
		sendIdentity:   opts.SendIdentity,
		headerPrefix:   opts.HeaderPrefix,
		errorBodyLimit: opts.ErrorBodyLimit,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: opts.Transport,
		},
		logger: opts.Logger,
	}
}

func (c *HTTPClient) Stream(ctx context.Context, req protocol.ChatRequest, creds Credentials, onEvent protocol.EventHandler) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.sendIdentity {
		if creds.Token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+creds.Token)
		}
		if creds.UserID != "" {
			httpReq.Header.Set(c.headerPrefix+"-user-id", creds.UserID)
		}
		if creds.OrgID != "" {
			httpReq.Header.Set(c.headerPrefix+"-org-id", creds.OrgID)
		}
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return c.transportFailure(err, onEvent)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, c.errorBodyLimit))
		statusErr := &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
		c.logger.Warn("upstream returned error status",
			zap.Int("status", res.StatusCode),
			zap.Int("body_bytes", len(body)),
		)
		return onEvent(protocol.ErrorTextEvent(statusErr.Explanation(), statusErr))
	}

	return c.consume(ctx, res.Body, onEvent)
}

func (c *HTTPClient) newDecoder() protocol.Decoder {
	if c.format == FormatPlain {
		return protocol.NewPlainTextDecoder()
	}
	return protocol.NewLineParser()
}

func (c *HTTPClient) consume(ctx context.Context, body io.Reader, onEvent protocol.EventHandler) error {
	dec := c.newDecoder()
	buf := make([]byte, readBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if herr := onEvent(ev); herr != nil {
					return herr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return c.transportFailure(err, onEvent)
		}
	}

	tail, parseErr := dec.Flush()
	for _, ev := range tail {
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	if parseErr != nil {
		c.logger.Warn("upstream stream ended mid-frame", zap.Error(parseErr))
		return parseErr
	}
	return nil
}

func (c *HTTPClient) transportFailure(err error, onEvent protocol.EventHandler) error {
	terr := newTransportError(err)
	c.logger.Warn("upstream transport failure",
		zap.String("class", string(terr.Class)),
		zap.Error(err),
	)
	return onEvent(protocol.ErrorTextEvent(terr.Explanation(), terr))
}
