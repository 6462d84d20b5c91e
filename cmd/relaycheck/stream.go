package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/reliability"
)

type remoteOptions struct {
	baseURL   string
	token     string
	userID    string
	orgID     string
	retries   int
	baseDelay time.Duration
}

func (o *remoteOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.baseURL, "url", "http://localhost:8080", "Relay base URL")
	cmd.Flags().StringVar(&o.token, "token", "", "Bearer token sent to the relay")
	cmd.Flags().StringVar(&o.userID, "user-id", "", "Value for x-reevo-user-id")
	cmd.Flags().StringVar(&o.orgID, "org-id", "", "Value for x-reevo-org-id")
}

func (o *remoteOptions) header() http.Header {
	h := http.Header{}
	if o.token != "" {
		h.Set("Authorization", "Bearer "+o.token)
	}
	if o.userID != "" {
		h.Set("x-reevo-user-id", o.userID)
	}
	if o.orgID != "" {
		h.Set("x-reevo-org-id", o.orgID)
	}
	return h
}

// retryableError marks failures worth another attempt before any chunk was printed.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func newStreamCommand(root *rootOptions) *cobra.Command {
	opts := &remoteOptions{}
	cmd := &cobra.Command{
		Use:   "stream [text...]",
		Short: "POST a query to a running relay and print chunk arrival offsets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := joinArgs(args)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd, root)
			defer cancel()

			policy := reliability.RetryPolicy{Attempts: opts.retries + 1, Base: opts.baseDelay, Cap: 5 * time.Second}
			return policy.Do(ctx, func(attempt int) (bool, error) {
				if attempt > 0 && root.verbose {
					fmt.Fprintf(cmd.ErrOrStderr(), "retry attempt=%d\n", attempt)
				}
				err := streamOnce(ctx, cmd.OutOrStdout(), opts, text)
				var re *retryableError
				return errors.As(err, &re), err
			})
		},
	}
	opts.bind(cmd)
	cmd.Flags().IntVar(&opts.retries, "retries", 2, "Retries on 429, 5xx and transport failures")
	cmd.Flags().DurationVar(&opts.baseDelay, "retry-base", 200*time.Millisecond, "Base delay for exponential backoff")
	return cmd
}

func streamOnce(ctx context.Context, out io.Writer, opts *remoteOptions, text string) error {
	body, err := json.Marshal(protocol.ChatRequest{Messages: protocol.AppendQuery(nil, text)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(opts.baseURL, "/")+"/api/v1/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header = opts.header()
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &retryableError{err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		err := fmt.Errorf("relay status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
		if reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return &retryableError{err: err}
		}
		return err
	}

	buf := make([]byte, 4096)
	for {
		n, err := res.Body.Read(buf)
		if n > 0 {
			fmt.Fprintf(out, "+%4dms %q\n", time.Since(start).Milliseconds(), string(buf[:n]))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func newWSCommand(root *rootOptions) *cobra.Command {
	opts := &remoteOptions{}
	cmd := &cobra.Command{
		Use:   "ws [text...]",
		Short: "Send a chat_request over the relay websocket and print text_chunk frames",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := joinArgs(args)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd, root)
			defer cancel()
			return wsOnce(ctx, cmd.OutOrStdout(), opts, text)
		},
	}
	opts.bind(cmd)
	return cmd
}

func wsURLFor(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	u.Path += "/v1/chat/ws"
	return u.String(), nil
}

func wsOnce(ctx context.Context, out io.Writer, opts *remoteOptions, text string) error {
	target, err := wsURLFor(opts.baseURL)
	if err != nil {
		return err
	}
	conn, res, err := websocket.DefaultDialer.DialContext(ctx, target, opts.header())
	if err != nil {
		if res != nil {
			return fmt.Errorf("dial %s: status %d: %w", target, res.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	if err := conn.WriteJSON(protocol.ClientChatRequest{
		Type:     protocol.TypeChatRequest,
		Messages: protocol.AppendQuery(nil, text),
	}); err != nil {
		return err
	}

	start := time.Now()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeTextChunk:
			var chunk protocol.TextChunk
			if err := json.Unmarshal(data, &chunk); err == nil {
				fmt.Fprintf(out, "+%4dms #%d %q\n", time.Since(start).Milliseconds(), chunk.Seq, chunk.Text)
			}
		case protocol.TypeTurnEnd:
			var end protocol.TurnEnd
			_ = json.Unmarshal(data, &end)
			fmt.Fprintf(out, "turn_end reason=%s chunks=%d\n", end.Reason, end.Chunks)
			return nil
		case protocol.TypeErrorEvent:
			var ev protocol.ErrorEvent
			_ = json.Unmarshal(data, &ev)
			return fmt.Errorf("relay error %s: %s", ev.Code, ev.Detail)
		}
	}
}
