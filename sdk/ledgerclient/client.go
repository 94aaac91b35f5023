// Package ledgerclient is an HTTP client for ledgerd. A Client is bound to one
// caller identity and implements authority.Authority, so it can be wrapped in
// authority.Retrying like the in-process authority.
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"drivechain/core/authority"
	ledgererrors "drivechain/core/errors"
	"drivechain/core/feed"
	"drivechain/core/ledger"
	"drivechain/crypto"
	gwmw "drivechain/gateway/middleware"
	"drivechain/native/multiplier"
	"drivechain/native/points"
	"drivechain/native/servicerecord"
	"drivechain/services/ledgerd/api"
	ledgerdmw "drivechain/services/ledgerd/middleware"
)

const maxResponseBytes = 4 << 20

// Client talks to a ledgerd endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	authToken  string
	caller     common.Address
}

var _ authority.Authority = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAuthToken sets the bearer token attached to every request.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// WithCaller sends addr in the identity header. Only servers running with
// authentication disabled honour it.
func WithCaller(addr common.Address) Option {
	return func(c *Client) {
		c.caller = addr
	}
}

// New initialises a client bound to the provided ledgerd base URL.
func New(endpoint string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("ledgerclient: endpoint required")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("ledgerclient: invalid endpoint: %w", err)
	}
	c := &Client{endpoint: trimmed, httpClient: http.DefaultClient}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return c, nil
}

// Token returns the bearer token currently in use.
func (c *Client) Token() string { return c.authToken }

// Login signs a login challenge with key, exchanges it for a bearer token and
// attaches the token to subsequent requests.
func (c *Client) Login(ctx context.Context, key *crypto.PrivateKey) (api.TokenResponse, error) {
	if key == nil {
		return api.TokenResponse{}, fmt.Errorf("ledgerclient: signing key required")
	}
	addr := key.Address()
	now := time.Now().Unix()
	sig, err := key.SignMessage(crypto.LoginMessage(addr, now))
	if err != nil {
		return api.TokenResponse{}, fmt.Errorf("ledgerclient: sign login: %w", err)
	}
	var resp api.TokenResponse
	err = c.do(ctx, http.MethodPost, "/v1/auth/token", api.TokenRequest{
		Address:   addr.Hex(),
		Timestamp: now,
		Signature: "0x" + hex.EncodeToString(sig),
	}, &resp)
	if err != nil {
		return api.TokenResponse{}, err
	}
	c.authToken = resp.Token
	c.caller = addr
	return resp, nil
}

func (c *Client) Mint(ctx context.Context, d servicerecord.Details, beneficiary common.Address) (ledger.MintResult, error) {
	req := api.MintRequest{
		ServiceType:     d.ServiceType,
		ServiceDate:     d.ServiceDate,
		ServiceProvider: d.ServiceProvider,
		VehicleInfo:     d.VehicleInfo,
		ServiceDetails:  d.ServiceDetails,
	}
	if beneficiary != (common.Address{}) {
		req.Beneficiary = beneficiary.Hex()
	}
	var resp api.MintResponse
	if err := c.do(ctx, http.MethodPost, "/v1/mint", req, &resp); err != nil {
		return ledger.MintResult{}, err
	}
	result := ledger.MintResult{ID: resp.ID}
	if resp.CreditedAmount != nil {
		amount, err := parseAmount(*resp.CreditedAmount)
		if err != nil {
			return ledger.MintResult{}, err
		}
		result.Credited = true
		result.Amount = amount
	} else if resp.CreditError != nil {
		result.CreditErr = decodeError(http.StatusOK, resp.CreditError)
	}
	return result, nil
}

func (c *Client) Award(ctx context.Context, id uint64, beneficiary common.Address) (ledger.AwardResult, error) {
	var req api.AwardRequest
	if beneficiary != (common.Address{}) {
		req.Beneficiary = beneficiary.Hex()
	}
	var resp api.AwardResponse
	if err := c.do(ctx, http.MethodPost, "/v1/records/"+strconv.FormatUint(id, 10)+"/award", req, &resp); err != nil {
		return ledger.AwardResult{}, err
	}
	amount, err := parseAmount(resp.Amount)
	if err != nil {
		return ledger.AwardResult{}, err
	}
	result := ledger.AwardResult{RecordID: resp.RecordID, Amount: amount, AlreadyCredited: resp.AlreadyCredited}
	if resp.Beneficiary != "" {
		result.Beneficiary = common.HexToAddress(resp.Beneficiary)
	}
	return result, nil
}

// Verify verifies record id and returns the updated record.
func (c *Client) Verify(ctx context.Context, id uint64) (servicerecord.Record, error) {
	var resp api.VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/v1/records/"+strconv.FormatUint(id, 10)+"/verify", nil, &resp); err != nil {
		return servicerecord.Record{}, err
	}
	return c.Record(ctx, id)
}

func (c *Client) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil {
		return nil, fmt.Errorf("%w: amount required", ledgererrors.ErrInvalidArgument)
	}
	var resp api.TransferResponse
	req := api.TransferRequest{Amount: amount.Dec()}
	if to != (common.Address{}) {
		req.To = to.Hex()
	}
	if err := c.do(ctx, http.MethodPost, "/v1/points/transfer", req, &resp); err != nil {
		return nil, err
	}
	return parseAmount(resp.NewBalanceOfCaller)
}

func (c *Client) SetMultiplier(ctx context.Context, serviceType string, value uint64) error {
	return c.do(ctx, http.MethodPost, "/v1/multipliers/"+url.PathEscape(serviceType), api.SetMultiplierRequest{Multiplier: value}, nil)
}

func (c *Client) SetVerifierStatus(ctx context.Context, addr common.Address, enabled bool) error {
	return c.do(ctx, http.MethodPost, "/v1/verifiers", api.VerifierRequest{Address: addr.Hex(), Enabled: enabled}, nil)
}

func (c *Client) Record(ctx context.Context, id uint64) (servicerecord.Record, error) {
	var resp api.Record
	if err := c.do(ctx, http.MethodGet, "/v1/records/"+strconv.FormatUint(id, 10), nil, &resp); err != nil {
		return servicerecord.Record{}, err
	}
	return resp.ToRecord()
}

// RecordsByOwner lists the ids minted by owner; a zero owner lists the
// caller's records.
func (c *Client) RecordsByOwner(ctx context.Context, owner common.Address) ([]uint64, error) {
	path := "/v1/records"
	if owner != (common.Address{}) {
		path += "?owner=" + owner.Hex()
	}
	var resp api.RecordList
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

func (c *Client) RecordPoints(ctx context.Context, id uint64) (*uint256.Int, bool, error) {
	var resp api.RecordPoints
	if err := c.do(ctx, http.MethodGet, "/v1/records/"+strconv.FormatUint(id, 10)+"/points", nil, &resp); err != nil {
		return nil, false, err
	}
	amount, err := parseAmount(resp.Amount)
	if err != nil {
		return nil, false, err
	}
	return amount, resp.Credited, nil
}

func (c *Client) Account(ctx context.Context, addr common.Address) (points.Account, error) {
	var resp api.Balance
	if err := c.do(ctx, http.MethodGet, "/v1/points/balance/"+addr.Hex(), nil, &resp); err != nil {
		return points.Account{}, err
	}
	balance, err := parseAmount(resp.Balance)
	if err != nil {
		return points.Account{}, err
	}
	earned, err := parseAmount(resp.TotalEarned)
	if err != nil {
		return points.Account{}, err
	}
	return points.Account{Balance: balance, TotalEarned: earned}, nil
}

func (c *Client) Multiplier(ctx context.Context, serviceType string) (uint64, error) {
	var resp api.Multiplier
	if err := c.do(ctx, http.MethodGet, "/v1/multipliers/"+url.PathEscape(serviceType), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Multiplier, nil
}

func (c *Client) Multipliers(ctx context.Context) ([]multiplier.Entry, error) {
	var resp []api.Multiplier
	if err := c.do(ctx, http.MethodGet, "/v1/multipliers", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]multiplier.Entry, 0, len(resp))
	for _, m := range resp {
		out = append(out, multiplier.Entry{ServiceType: m.ServiceType, Multiplier: m.Multiplier})
	}
	return out, nil
}

func (c *Client) IsAuthorizedVerifier(ctx context.Context, addr common.Address) (bool, error) {
	var resp api.VerifierStatus
	if err := c.do(ctx, http.MethodGet, "/v1/verifiers/"+addr.Hex(), nil, &resp); err != nil {
		return false, err
	}
	return resp.Authorized, nil
}

func (c *Client) Events(ctx context.Context, q feed.Query) ([]feed.Entry, error) {
	values := url.Values{}
	if len(q.Kinds) > 0 {
		values.Set("kind", strings.Join(q.Kinds, ","))
	}
	if q.From > 0 {
		values.Set("from", strconv.FormatUint(q.From, 10))
	}
	if q.To > 0 {
		values.Set("to", strconv.FormatUint(q.To, 10))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/v1/events"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var resp api.EventList
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]feed.Entry, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		out = append(out, e.ToEntry())
	}
	return out, nil
}

// do performs one request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ledgererrors.ErrCancelled, err)
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ledgerclient: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ledgererrors.ErrInvalidArgument, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	} else if c.caller != (common.Address{}) {
		req.Header.Set(gwmw.IdentityHeader, c.caller.Hex())
	}
	if key, ok := authority.IdempotencyKey(ctx); ok && method != http.MethodGet {
		req.Header.Set(ledgerdmw.HeaderIdempotencyKey, key)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ledgererrors.ErrCancelled, ctxErr)
		}
		return fmt.Errorf("%w: %s %s: %v", ledgererrors.ErrTransportFailure, method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ledgererrors.ErrTransportFailure, err)
	}
	var env api.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: status %d", ledgererrors.ErrTransportFailure, resp.StatusCode)
		}
		return fmt.Errorf("ledgerclient: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if !env.Success {
		return decodeError(resp.StatusCode, env.Error)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("ledgerclient: decode %s response: %w", path, err)
	}
	return nil
}

// decodeError rebuilds a typed error from the envelope so callers can use
// errors.Is against the core/errors sentinels.
func decodeError(status int, e *api.Error) error {
	if status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests {
		msg := http.StatusText(status)
		if e != nil {
			msg = e.Message
		}
		return fmt.Errorf("%w: %s", ledgererrors.ErrTransportFailure, msg)
	}
	if e == nil {
		return fmt.Errorf("ledgerclient: request failed with status %d", status)
	}
	if sentinel := ledgererrors.Sentinel(ledgererrors.Kind(e.Kind)); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, strings.TrimPrefix(e.Message, sentinel.Error()+": "))
	}
	return errors.New("ledgerclient: " + e.Message)
}

func parseAmount(raw string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("ledgerclient: malformed amount %q: %w", raw, err)
	}
	return amount, nil
}
