package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline/retry"
)

type RemoteConfig struct {
	Endpoint   string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
	Retries    int
	Logger     *slog.Logger
}

// Remote talks to a KMS that holds the threshold or HSM key.
type Remote struct {
	endpoint string
	token    string
	client   *http.Client
	timeout  time.Duration
	retries  int
	logger   *slog.Logger
}

var _ Signer = (*Remote)(nil)

func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("signer endpoint required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		token:    cfg.Token,
		client:   client,
		timeout:  timeout,
		retries:  retries,
		logger:   logger.With("component", "remote_signer"),
	}, nil
}

func (r *Remote) Sign(ctx context.Context, digest []byte, path string) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	body, err := json.Marshal(map[string]string{
		"digest_hex": hexutil.Encode(digest),
		"path":       path,
	})
	if err != nil {
		return nil, fmt.Errorf("signer marshal request: %w", err)
	}
	var resp struct {
		SignatureHex string `json:"signature_hex"`
	}
	if err := r.do(ctx, http.MethodPost, r.endpoint+"/sign", body, &resp); err != nil {
		return nil, fmt.Errorf("signer sign: %w", err)
	}
	sig, err := hexutil.Decode(resp.SignatureHex)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %w", retry.ErrDecoding, err)
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: signature is %d bytes", retry.ErrDecoding, len(sig))
	}
	// Some KMS deployments return 27/28.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	return sig, nil
}

func (r *Remote) PublicKey(ctx context.Context, path string) ([]byte, error) {
	var resp struct {
		PublicKeyHex string `json:"public_key_hex"`
	}
	target := r.endpoint + "/public-key?path=" + url.QueryEscape(path)
	if err := r.do(ctx, http.MethodGet, target, nil, &resp); err != nil {
		return nil, fmt.Errorf("signer public key: %w", err)
	}
	pub, err := hexutil.Decode(resp.PublicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %w", retry.ErrDecoding, err)
	}
	return pub, nil
}

var errRejected = errors.New("signer rejected request")

func (r *Remote) do(ctx context.Context, method, target string, body []byte, out interface{}) error {
	attempts := r.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = r.once(ctx, method, target, body, out)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, retry.ErrUnauthorized) || errors.Is(lastErr, errRejected) {
			return lastErr
		}
		r.logger.Warn("signer request failed", "attempt", i+1, "error", lastErr)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
			}
		}
	}
	return lastErr
}

func (r *Remote) once(ctx context.Context, method, target string, body []byte, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", retry.ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: signer returned %s", retry.ErrUnauthorized, resp.Status)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: signer unavailable: %s", retry.ErrTransport, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: %s", errRejected, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", retry.ErrDecoding, err)
	}
	return nil
}
