// Package signer builds authenticated requests against the futures exchange.
//
// Two credential schemes are supported. The wallet scheme signs a canonical
// message with an Ethereum personal-sign signature; the API-key scheme signs
// the same message (or, for Binance-style endpoints, the full query string)
// with HMAC-SHA256. Both walk an ordered fallback table when the primary path
// returns 404.
package signer

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/kjannette/trahn-perps/internal/httputil"
	"github.com/kjannette/trahn-perps/internal/metrics"
)

var (
	ErrNoCredentials = errors.New("no exchange credentials configured")
	ErrNoBaseURL     = errors.New("exchange base URL not configured")
	ErrNoAPIKey      = errors.New("exchange API key/secret not configured")
)

// IsConfigError reports whether err stems from missing configuration rather
// than an upstream failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrNoCredentials) || errors.Is(err, ErrNoBaseURL) || errors.Is(err, ErrNoAPIKey)
}

const (
	HeaderWalletAddress = "X-Wallet-Address"
	HeaderAPIKey        = "X-API-Key"
	HeaderTimestamp     = "X-Timestamp"
	HeaderSignature     = "X-Signature"
	HeaderMBXKey        = "X-MBX-APIKEY"

	DefaultRecvWindow = 5000
)

type Scheme string

const (
	SchemeWallet Scheme = "wallet"
	SchemeAPIKey Scheme = "api_key"
	SchemeQuery  Scheme = "api_key_query"
	SchemePublic Scheme = "public"
)

type Credentials struct {
	PrivateKey string
	APIKey     string
	APISecret  string
}

func (c Credentials) HasWallet() bool { return c.PrivateKey != "" }
func (c Credentials) HasAPIKey() bool { return c.APIKey != "" && c.APISecret != "" }

// Response is the raw upstream answer from whichever attempt ended the chain.
type Response struct {
	Status int
	Body   []byte
	Path   string
	Scheme Scheme
}

func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

type Options struct {
	BaseURL     string
	Credentials Credentials
	Timeout     time.Duration
	Retry       httputil.RetryConfig
	Fallbacks   []FallbackRule
	RecvWindow  int
	HTTPClient  *http.Client
	Logger      *zap.Logger
	Now         func() time.Time
}

type Signer struct {
	baseURL    string
	creds      Credentials
	key        *ecdsa.PrivateKey
	address    common.Address
	client     *http.Client
	retry      httputil.RetryConfig
	fallbacks  []FallbackRule
	recvWindow int
	log        *zap.Logger
	now        func() time.Time
}

// New validates the wallet key (if any) and returns a Signer. Missing base URL
// or credentials are reported per request so the service can still start.
func New(opts Options) (*Signer, error) {
	s := &Signer{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		creds:      opts.Credentials,
		client:     opts.HTTPClient,
		retry:      opts.Retry,
		fallbacks:  opts.Fallbacks,
		recvWindow: opts.RecvWindow,
		log:        opts.Logger,
		now:        opts.Now,
	}
	if s.client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		s.client = &http.Client{Timeout: timeout}
	}
	if s.retry.MaxAttempts == 0 {
		s.retry = httputil.DefaultRetry
	}
	if s.fallbacks == nil {
		s.fallbacks = DefaultFallbacks
	}
	if s.recvWindow <= 0 {
		s.recvWindow = DefaultRecvWindow
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.retry.Logger = s.log
	if s.now == nil {
		s.now = time.Now
	}

	if s.creds.HasWallet() {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(s.creds.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse wallet private key: %w", err)
		}
		s.key = key
		s.address = crypto.PubkeyToAddress(key.PublicKey)
	}
	return s, nil
}

// Address returns the wallet address, or "" when no key is configured.
func (s *Signer) Address() string {
	if s.key == nil {
		return ""
	}
	return s.address.Hex()
}

func (s *Signer) Credentials() Credentials { return s.creds }

// CanonicalMessage is the string both header schemes authenticate over.
func CanonicalMessage(ts, method, path string, body []byte) string {
	sum := sha256.Sum256(body)
	return ts + "\n" + strings.ToUpper(method) + "\n" + path + "\n" + hex.EncodeToString(sum[:])
}

// Do sends a signed request using the wallet scheme first and the API-key
// header scheme second. When every variant under every configured scheme
// fails, the last response is returned as-is.
func (s *Signer) Do(ctx context.Context, method, path string, body []byte) (*Response, error) {
	ctx, span := otel.Tracer("trahn-perps/signer").Start(ctx, "signer.Do")
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("path", path))

	if s.baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if !s.creds.HasWallet() && !s.creds.HasAPIKey() {
		return nil, ErrNoCredentials
	}

	var (
		last    *Response
		lastErr error
	)
	if s.key != nil {
		last, lastErr = s.chain(ctx, method, path, SchemeWallet, func(variant string) (*http.Request, error) {
			return s.walletRequest(ctx, method, variant, body)
		})
		if last.OK() {
			return last, nil
		}
		if s.creds.HasAPIKey() {
			s.log.Info("wallet scheme exhausted, falling back to API key",
				zap.String("path", path), zap.Int("status", statusOf(last)), zap.Error(lastErr))
		}
	}
	if s.creds.HasAPIKey() {
		return s.chain(ctx, method, path, SchemeAPIKey, func(variant string) (*http.Request, error) {
			return s.apiKeyRequest(ctx, method, variant, body)
		})
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return last, nil
}

// DoQuery sends a Binance-style request whose query string carries the
// timestamp, recvWindow and HMAC signature. Order placement uses this scheme.
func (s *Signer) DoQuery(ctx context.Context, method, path string, params url.Values) (*Response, error) {
	ctx, span := otel.Tracer("trahn-perps/signer").Start(ctx, "signer.DoQuery")
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("path", path))

	if s.baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if !s.creds.HasAPIKey() {
		return nil, ErrNoAPIKey
	}
	return s.chain(ctx, method, path, SchemeQuery, func(variant string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+variant+"?"+s.SignQuery(params), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(HeaderMBXKey, s.creds.APIKey)
		return req, nil
	})
}

// Public sends an unsigned request through the same fallback chain.
func (s *Signer) Public(ctx context.Context, path string, params url.Values) (*Response, error) {
	if s.baseURL == "" {
		return nil, ErrNoBaseURL
	}
	full := path
	if len(params) > 0 {
		full += "?" + params.Encode()
	}
	return s.chain(ctx, http.MethodGet, full, SchemePublic, func(variant string) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+variant, nil)
	})
}

// SignQuery appends timestamp and recvWindow to params, signs the encoded
// query with the API secret and returns it with the signature appended.
func (s *Signer) SignQuery(params url.Values) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	q.Set("timestamp", strconv.FormatInt(s.now().UnixMilli(), 10))
	q.Set("recvWindow", strconv.Itoa(s.recvWindow))
	encoded := q.Encode()
	return encoded + "&signature=" + hmacHex(s.creds.APISecret, encoded)
}

// chain walks the fallback variants of path, stopping at the first non-404.
func (s *Signer) chain(ctx context.Context, method, path string, scheme Scheme, build func(variant string) (*http.Request, error)) (*Response, error) {
	retry := s.retry
	if method != http.MethodGet {
		retry = httputil.Once
		retry.Logger = s.log
	}

	var last *Response
	for _, variant := range Variants(path, s.fallbacks) {
		resp, err := httputil.Do(ctx, s.client, retry, func() (*http.Request, error) {
			return build(variant)
		})
		if err != nil {
			metrics.SignerAttempts.WithLabelValues(string(scheme), metrics.StatusClass(0)).Inc()
			return nil, fmt.Errorf("%s %s: %w", method, variant, err)
		}
		body, err := httputil.ReadBody(resp)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", variant, err)
		}
		metrics.SignerAttempts.WithLabelValues(string(scheme), metrics.StatusClass(resp.StatusCode)).Inc()

		last = &Response{Status: resp.StatusCode, Body: body, Path: variant, Scheme: scheme}
		if resp.StatusCode != http.StatusNotFound {
			return last, nil
		}
		s.log.Debug("endpoint variant returned 404", zap.String("scheme", string(scheme)), zap.String("path", variant))
	}
	return last, nil
}

func (s *Signer) walletRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	sig, err := s.SignWallet(CanonicalMessage(ts, method, path, body))
	if err != nil {
		return nil, err
	}
	req, err := newRequest(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(HeaderWalletAddress, s.address.Hex())
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, sig)
	return req, nil
}

func (s *Signer) apiKeyRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	req, err := newRequest(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(HeaderAPIKey, s.creds.APIKey)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, hmacHex(s.creds.APISecret, CanonicalMessage(ts, method, path, body)))
	return req, nil
}

// SignWallet returns the 0x-prefixed personal-sign signature of msg with the
// recovery id shifted to 27/28.
func (s *Signer) SignWallet(msg string) (string, error) {
	if s.key == nil {
		return "", ErrNoCredentials
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), s.key)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

func newRequest(ctx context.Context, method, target string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func hmacHex(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

func statusOf(r *Response) int {
	if r == nil {
		return 0
	}
	return r.Status
}
