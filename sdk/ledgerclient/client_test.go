package ledgerclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"drivechain/core/authority"
	ledgererrors "drivechain/core/errors"
	"drivechain/core/feed"
	"drivechain/core/ledger"
	"drivechain/core/retry"
	"drivechain/crypto"
	gwmw "drivechain/gateway/middleware"
	"drivechain/native/servicerecord"
	ledgerdmw "drivechain/services/ledgerd/middleware"
	"drivechain/services/ledgerd/models"
	"drivechain/services/ledgerd/server"
)

var (
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	garage  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	driverB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func details(serviceType string) servicerecord.Details {
	return servicerecord.Details{
		ServiceType:     serviceType,
		ServiceDate:     "2023-01-01",
		ServiceProvider: "DriveChain Garage",
		VehicleInfo:     "Toyota Camry 2020",
		ServiceDetails:  "Regular maintenance",
	}
}

func newLedgerd(t *testing.T, authEnabled bool, wrap func(http.Handler) http.Handler) (*ledger.Engine, *httptest.Server) {
	t.Helper()
	engine, err := ledger.New(ledger.Config{Owner: owner})
	require.NoError(t, err)
	db, err := models.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	srv := server.New(server.Config{
		Engine: engine,
		DB:     db,
		Auth: gwmw.AuthConfig{
			Enabled:    authEnabled,
			HMACSecret: "client-test-secret",
			Issuer:     "drivechain",
			TokenTTL:   time.Hour,
			ClockSkew:  time.Minute,
		},
		RateLimit: gwmw.RateLimit{RequestsPerSecond: 1000, Burst: 1000},
	})
	handler := srv.Handler()
	if wrap != nil {
		handler = wrap(handler)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return engine, ts
}

func TestClientRoundTrip(t *testing.T) {
	engine, ts := newLedgerd(t, false, nil)
	ctx := context.Background()
	client, err := New(ts.URL, WithCaller(garage))
	require.NoError(t, err)

	result, err := client.Mint(ctx, details("Oil Change"), common.Address{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), result.ID)
	require.True(t, result.Credited)
	require.Equal(t, uint64(20), result.Amount.Uint64())

	record, err := client.Record(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, garage, record.Owner)
	require.True(t, servicerecord.VerifyDigest(record))

	account, err := client.Account(ctx, garage)
	require.NoError(t, err)
	require.Equal(t, "20", account.Balance.Dec())

	remaining, err := client.Transfer(ctx, driverB, uint256.NewInt(5))
	require.NoError(t, err)
	require.Equal(t, "15", remaining.Dec())

	ids, err := client.RecordsByOwner(ctx, garage)
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, ids)

	entries, err := client.Events(ctx, feed.Query{Kinds: []string{"points.transferred"}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint64(3), entries[0].Sequence)

	ownerClient, err := New(ts.URL, WithCaller(owner))
	require.NoError(t, err)
	require.NoError(t, ownerClient.SetMultiplier(ctx, "Wheel Alignment", 4))
	m, err := client.Multiplier(ctx, "Wheel Alignment")
	require.NoError(t, err)
	require.Equal(t, uint64(4), m)
	all, err := client.Multipliers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)

	require.NoError(t, ownerClient.SetVerifierStatus(ctx, driverB, true))
	ok, err := client.IsAuthorizedVerifier(ctx, driverB)
	require.NoError(t, err)
	require.True(t, ok)

	verifierClient, err := New(ts.URL, WithCaller(driverB))
	require.NoError(t, err)
	verified, err := verifierClient.Verify(ctx, 1)
	require.NoError(t, err)
	require.True(t, verified.IsVerified)
	require.Equal(t, driverB, verified.VerifiedBy)

	stored, err := engine.Record(1)
	require.NoError(t, err)
	require.Equal(t, stored.VerificationTimestamp.Unix(), verified.VerificationTimestamp.Unix())
}

func TestClientTypedErrors(t *testing.T) {
	_, ts := newLedgerd(t, false, nil)
	ctx := context.Background()
	client, err := New(ts.URL, WithCaller(garage))
	require.NoError(t, err)

	_, err = client.Record(ctx, 99)
	require.ErrorIs(t, err, ledgererrors.ErrNotFound)

	err = client.SetMultiplier(ctx, "Wash", 2)
	require.ErrorIs(t, err, ledgererrors.ErrUnauthorized)

	_, err = client.Transfer(ctx, driverB, uint256.NewInt(1))
	require.ErrorIs(t, err, ledgererrors.ErrInsufficientBalance)

	result, err := client.Mint(ctx, details("Detailing"), common.Address{})
	require.NoError(t, err)
	require.True(t, result.Partial())
	require.ErrorIs(t, result.CreditErr, ledgererrors.ErrInvalidServiceType)

	_, err = client.Verify(ctx, result.ID)
	require.ErrorIs(t, err, ledgererrors.ErrUnauthorized)

	anonymous, err := New(ts.URL)
	require.NoError(t, err)
	_, err = anonymous.Mint(ctx, details("Oil Change"), common.Address{})
	require.ErrorIs(t, err, ledgererrors.ErrUnauthorized)
}

func TestClientTransportFailures(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer down.Close()
	client, err := New(down.URL, WithCaller(garage))
	require.NoError(t, err)
	_, err = client.Record(context.Background(), 1)
	require.ErrorIs(t, err, ledgererrors.ErrTransportFailure)
	require.True(t, ledgererrors.Retryable(err))

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()
	client, err = New(url, WithCaller(garage))
	require.NoError(t, err)
	_, err = client.Multipliers(context.Background())
	require.ErrorIs(t, err, ledgererrors.ErrTransportFailure)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Multipliers(ctx)
	require.ErrorIs(t, err, ledgererrors.ErrCancelled)
}

// dropFirstAck executes the first mutation but answers 503 as if the
// acknowledgement had been lost.
func dropFirstAck(keys *[]string) func(http.Handler) http.Handler {
	var dropped atomic.Bool
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			*keys = append(*keys, r.Header.Get(ledgerdmw.HeaderIdempotencyKey))
			if dropped.CompareAndSwap(false, true) {
				next.ServeHTTP(httptest.NewRecorder(), r)
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TestRetryingClientMintsOnce(t *testing.T) {
	var keys []string
	engine, ts := newLedgerd(t, false, dropFirstAck(&keys))
	client, err := New(ts.URL, WithCaller(garage))
	require.NoError(t, err)

	retrying := authority.NewRetrying(client, retry.Policy{
		MaxAttempts: 3,
		MinBackoff:  time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}, nil)
	result, err := retrying.Mint(context.Background(), details("Oil Change"), common.Address{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), result.ID)
	require.Equal(t, uint64(1), engine.LastRecordID())
	require.Equal(t, "20", engine.Account(garage).Balance.Dec())

	require.Len(t, keys, 2)
	require.NotEmpty(t, keys[0])
	require.Equal(t, keys[0], keys[1])
}

func TestLoginIssuesToken(t *testing.T) {
	engine, ts := newLedgerd(t, true, nil)
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	client, err := New(ts.URL)
	require.NoError(t, err)

	_, err = client.Mint(context.Background(), details("Oil Change"), common.Address{})
	require.True(t, errors.Is(err, ledgererrors.ErrUnauthorized))

	token, err := client.Login(context.Background(), key)
	require.NoError(t, err)
	require.NotEmpty(t, token.Token)
	require.Equal(t, token.Token, client.Token())

	result, err := client.Mint(context.Background(), details("Oil Change"), common.Address{})
	require.NoError(t, err)
	record, err := engine.Record(result.ID)
	require.NoError(t, err)
	require.Equal(t, key.Address(), record.Owner)
}
