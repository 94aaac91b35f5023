package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"nhooyr.io/websocket"

	ledgererrors "drivechain/core/errors"
	"drivechain/core/events"
	"drivechain/core/ledger"
	"drivechain/core/notify"
	"drivechain/crypto"
	gwmw "drivechain/gateway/middleware"
	"drivechain/services/ledgerd/api"
	ledgerdmw "drivechain/services/ledgerd/middleware"
	"drivechain/services/ledgerd/models"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	garage   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	driverB  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	verifier = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

const testSecret = "test-secret-value"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := models.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	return db
}

type testEnv struct {
	t        *testing.T
	engine   *ledger.Engine
	notifier *notify.Notifier
	db       *gorm.DB
	srv      *Server
}

func newTestEnv(t *testing.T, authEnabled bool) *testEnv {
	t.Helper()
	notifier := notify.New()
	t.Cleanup(notifier.Close)
	engine, err := ledger.New(ledger.Config{Owner: owner}, ledger.WithPublisher(notifier))
	require.NoError(t, err)
	db := setupTestDB(t)
	srv := New(Config{
		Engine:   engine,
		Notifier: notifier,
		DB:       db,
		Auth: gwmw.AuthConfig{
			Enabled:    authEnabled,
			HMACSecret: testSecret,
			Issuer:     "drivechain",
			TokenTTL:   time.Hour,
			ClockSkew:  5 * time.Minute,
		},
		RateLimit: gwmw.RateLimit{RequestsPerSecond: 1000, Burst: 1000},
	})
	return &testEnv{t: t, engine: engine, notifier: notifier, db: db, srv: srv}
}

func (e *testEnv) do(method, path string, as common.Address, body any, headers map[string]string) (*httptest.ResponseRecorder, api.Envelope) {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if as != (common.Address{}) {
		req.Header.Set(gwmw.IdentityHeader, as.Hex())
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	var env api.Envelope
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func decodeData[T any](t *testing.T, env api.Envelope) T {
	t.Helper()
	require.True(t, env.Success, "expected success, got %+v", env.Error)
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func mintRequest(serviceType string) api.MintRequest {
	return api.MintRequest{
		ServiceType:     serviceType,
		ServiceDate:     "2023-01-01",
		ServiceProvider: "DriveChain Garage",
		VehicleInfo:     "Toyota Camry 2020",
		ServiceDetails:  "Regular maintenance",
	}
}

func TestMintThenQuery(t *testing.T) {
	env := newTestEnv(t, false)

	rec, body := env.do(http.MethodPost, "/v1/mint", garage, mintRequest("Oil Change"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	minted := decodeData[api.MintResponse](t, body)
	require.Equal(t, uint64(1), minted.ID)
	require.NotNil(t, minted.CreditedAmount)
	require.Equal(t, "20", *minted.CreditedAmount)

	rec, body = env.do(http.MethodGet, "/v1/records/1", common.Address{}, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	record := decodeData[api.Record](t, body)
	require.Equal(t, garage.Hex(), record.Owner)
	require.Equal(t, "unverified", record.Status)
	require.Nil(t, record.VerifiedBy)
	require.True(t, strings.HasPrefix(record.OwnerBech32, crypto.AddressPrefix+"1"))
	parsed, err := record.ToRecord()
	require.NoError(t, err)
	require.Equal(t, "Oil Change", parsed.ServiceType)

	_, body = env.do(http.MethodGet, "/v1/points/balance/"+garage.Hex(), common.Address{}, nil, nil)
	balance := decodeData[api.Balance](t, body)
	require.Equal(t, "20", balance.Balance)
	require.Equal(t, "20", balance.TotalEarned)

	_, body = env.do(http.MethodGet, "/v1/records/1/points", common.Address{}, nil, nil)
	pts := decodeData[api.RecordPoints](t, body)
	require.True(t, pts.Credited)
	require.Equal(t, "20", pts.Amount)

	_, body = env.do(http.MethodGet, "/v1/records?owner="+garage.Hex(), common.Address{}, nil, nil)
	list := decodeData[api.RecordList](t, body)
	require.Equal(t, []uint64{1}, list.IDs)
}

func TestMintPartialThenAward(t *testing.T) {
	env := newTestEnv(t, false)

	rec, body := env.do(http.MethodPost, "/v1/mint", garage, mintRequest("Detailing"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	minted := decodeData[api.MintResponse](t, body)
	require.Nil(t, minted.CreditedAmount)
	require.NotNil(t, minted.CreditError)
	require.Equal(t, string(ledgererrors.KindInvalidServiceType), minted.CreditError.Kind)

	rec, body = env.do(http.MethodPost, "/v1/records/1/award", garage, api.AwardRequest{}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, string(ledgererrors.KindInvalidServiceType), body.Error.Kind)

	rec, _ = env.do(http.MethodPost, "/v1/multipliers/Detailing", owner, api.SetMultiplierRequest{Multiplier: 4}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, body = env.do(http.MethodPost, "/v1/records/1/award", garage, api.AwardRequest{}, nil)
	award := decodeData[api.AwardResponse](t, body)
	require.Equal(t, "40", award.Amount)
	require.False(t, award.AlreadyCredited)
	require.Equal(t, garage.Hex(), award.Beneficiary)

	_, body = env.do(http.MethodPost, "/v1/records/1/award", garage, api.AwardRequest{}, nil)
	again := decodeData[api.AwardResponse](t, body)
	require.True(t, again.AlreadyCredited)
	require.Equal(t, "40", again.Amount)
	require.Equal(t, "40", env.engine.Account(garage).Balance.Dec())
}

func TestErrorStatusMapping(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(http.MethodPost, "/v1/mint", garage, mintRequest("Oil Change"), nil)

	cases := []struct {
		name   string
		method string
		path   string
		as     common.Address
		body   any
		status int
		kind   ledgererrors.Kind
	}{
		{"missing identity", http.MethodPost, "/v1/mint", common.Address{}, mintRequest("Oil Change"), http.StatusUnauthorized, ledgererrors.KindUnauthorized},
		{"unknown record", http.MethodGet, "/v1/records/42", common.Address{}, nil, http.StatusNotFound, ledgererrors.KindNotFound},
		{"malformed id", http.MethodGet, "/v1/records/abc", common.Address{}, nil, http.StatusBadRequest, ledgererrors.KindInvalidArgument},
		{"non owner multiplier", http.MethodPost, "/v1/multipliers/Wash", garage, api.SetMultiplierRequest{Multiplier: 1}, http.StatusForbidden, ledgererrors.KindUnauthorized},
		{"non owner negative multiplier", http.MethodPost, "/v1/multipliers/Wash", garage, map[string]any{"multiplier": -1}, http.StatusForbidden, ledgererrors.KindUnauthorized},
		{"non owner malformed verifier", http.MethodPost, "/v1/verifiers", garage, api.VerifierRequest{Address: "nope", Enabled: true}, http.StatusForbidden, ledgererrors.KindUnauthorized},
		{"owner negative multiplier", http.MethodPost, "/v1/multipliers/Wash", owner, map[string]any{"multiplier": -1}, http.StatusBadRequest, ledgererrors.KindInvalidArgument},
		{"zero multiplier", http.MethodPost, "/v1/multipliers/Wash", owner, api.SetMultiplierRequest{Multiplier: 0}, http.StatusBadRequest, ledgererrors.KindInvalidArgument},
		{"unauthorized verifier", http.MethodPost, "/v1/records/1/verify", driverB, nil, http.StatusForbidden, ledgererrors.KindUnauthorized},
		{"insufficient balance", http.MethodPost, "/v1/points/transfer", driverB, api.TransferRequest{To: garage.Hex(), Amount: "1"}, http.StatusConflict, ledgererrors.KindInsufficientBalance},
		{"malformed amount", http.MethodPost, "/v1/points/transfer", garage, api.TransferRequest{To: driverB.Hex(), Amount: "-3"}, http.StatusBadRequest, ledgererrors.KindInvalidArgument},
		{"zero recipient", http.MethodPost, "/v1/points/transfer", garage, api.TransferRequest{To: "", Amount: "1"}, http.StatusBadRequest, ledgererrors.KindInvalidArgument},
		{"unknown multiplier", http.MethodGet, "/v1/multipliers/Wash", common.Address{}, nil, http.StatusNotFound, ledgererrors.KindNotFound},
		{"unknown field", http.MethodPost, "/v1/points/transfer", garage, map[string]string{"recipient": driverB.Hex()}, http.StatusBadRequest, ledgererrors.KindInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := env.do(tc.method, tc.path, tc.as, tc.body, nil)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.False(t, body.Success)
			require.NotNil(t, body.Error)
			require.Equal(t, string(tc.kind), body.Error.Kind)
		})
	}
}

func TestVerifyFlow(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(http.MethodPost, "/v1/mint", garage, mintRequest("Brake Service"), nil)

	rec, _ := env.do(http.MethodPost, "/v1/verifiers", owner, api.VerifierRequest{Address: verifier.Hex(), Enabled: true}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, body := env.do(http.MethodGet, "/v1/verifiers/"+verifier.Hex(), common.Address{}, nil, nil)
	require.True(t, decodeData[api.VerifierStatus](t, body).Authorized)

	rec, body = env.do(http.MethodPost, "/v1/records/1/verify", verifier, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	verified := decodeData[api.VerifyResponse](t, body)
	require.Equal(t, verifier.Hex(), verified.VerifiedBy)
	require.False(t, verified.VerificationTimestamp.IsZero())

	rec, body = env.do(http.MethodPost, "/v1/records/1/verify", owner, nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(ledgererrors.KindAlreadyVerified), body.Error.Kind)

	_, body = env.do(http.MethodGet, "/v1/records/1", common.Address{}, nil, nil)
	record := decodeData[api.Record](t, body)
	require.True(t, record.IsVerified)
	require.NotNil(t, record.VerifiedBy)
	require.Equal(t, verifier.Hex(), *record.VerifiedBy)
}

func TestTransferAndMultipliers(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(http.MethodPost, "/v1/mint", garage, mintRequest("Engine Repair"), nil)

	_, body := env.do(http.MethodPost, "/v1/points/transfer", garage, api.TransferRequest{To: driverB.Hex(), Amount: "15"}, nil)
	require.Equal(t, "35", decodeData[api.TransferResponse](t, body).NewBalanceOfCaller)

	_, body = env.do(http.MethodGet, "/v1/points/balance/"+driverB.Hex(), common.Address{}, nil, nil)
	bal := decodeData[api.Balance](t, body)
	require.Equal(t, "15", bal.Balance)
	require.Equal(t, "0", bal.TotalEarned)

	_, body = env.do(http.MethodGet, "/v1/multipliers", common.Address{}, nil, nil)
	list := decodeData[[]api.Multiplier](t, body)
	require.Len(t, list, 4)
	require.Equal(t, "Brake Service", list[0].ServiceType)

	_, body = env.do(http.MethodGet, "/v1/multipliers/Oil%20Change", common.Address{}, nil, nil)
	require.Equal(t, uint64(2), decodeData[api.Multiplier](t, body).Multiplier)
}

func TestIdempotentMint(t *testing.T) {
	env := newTestEnv(t, false)
	headers := map[string]string{ledgerdmw.HeaderIdempotencyKey: "mint-1"}

	first, body := env.do(http.MethodPost, "/v1/mint", garage, mintRequest("Oil Change"), headers)
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, uint64(1), decodeData[api.MintResponse](t, body).ID)

	second, body := env.do(http.MethodPost, "/v1/mint", garage, mintRequest("Oil Change"), headers)
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get(ledgerdmw.HeaderReplayed))
	require.Equal(t, uint64(1), decodeData[api.MintResponse](t, body).ID)
	require.Equal(t, uint64(1), env.engine.LastRecordID())

	// Keys are scoped per caller.
	_, body = env.do(http.MethodPost, "/v1/mint", driverB, mintRequest("Oil Change"), headers)
	require.Equal(t, uint64(2), decodeData[api.MintResponse](t, body).ID)

	var stored int64
	require.NoError(t, env.db.Model(&models.IdempotencyKey{}).Count(&stored).Error)
	require.Equal(t, int64(2), stored)
}

func TestListEvents(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(http.MethodPost, "/v1/mint", garage, mintRequest("Oil Change"), nil)
	env.do(http.MethodPost, "/v1/points/transfer", garage, api.TransferRequest{To: driverB.Hex(), Amount: "5"}, nil)

	_, body := env.do(http.MethodGet, "/v1/events", common.Address{}, nil, nil)
	list := decodeData[api.EventList](t, body)
	require.Equal(t, uint64(3), list.Head)
	require.Len(t, list.Entries, 3)
	require.Equal(t, events.TypeServiceRecordMinted, list.Entries[0].Type)
	require.Equal(t, events.TypePointsAwarded, list.Entries[1].Type)
	require.Equal(t, events.TypePointsTransferred, list.Entries[2].Type)

	_, body = env.do(http.MethodGet, "/v1/events?kind=points.awarded,points.transferred&from=2&limit=1", common.Address{}, nil, nil)
	list = decodeData[api.EventList](t, body)
	require.Len(t, list.Entries, 1)
	require.Equal(t, uint64(2), list.Entries[0].Sequence)

	rec, _ := env.do(http.MethodGet, "/v1/events?from=5&to=2", common.Address{}, nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenLogin(t *testing.T) {
	env := newTestEnv(t, true)
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	addr := key.Address()
	now := time.Now().Unix()
	sig, err := key.SignMessage(crypto.LoginMessage(addr, now))
	require.NoError(t, err)

	rec, body := env.do(http.MethodPost, "/v1/auth/token", common.Address{}, api.TokenRequest{
		Address:   addr.Hex(),
		Timestamp: now,
		Signature: "0x" + hex.EncodeToString(sig),
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token := decodeData[api.TokenResponse](t, body)
	require.Equal(t, addr.Hex(), token.Address)

	rec, _ = env.do(http.MethodPost, "/v1/mint", common.Address{}, mintRequest("Oil Change"), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = env.do(http.MethodPost, "/v1/mint", common.Address{}, mintRequest("Oil Change"),
		map[string]string{"Authorization": "Bearer " + token.Token})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, uint64(1), decodeData[api.MintResponse](t, body).ID)
	record, err := env.engine.Record(1)
	require.NoError(t, err)
	require.Equal(t, addr, record.Owner)

	rec, _ = env.do(http.MethodPost, "/v1/auth/token", common.Address{}, api.TokenRequest{
		Address:   garage.Hex(),
		Timestamp: now,
		Signature: "0x" + hex.EncodeToString(sig),
	}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t, false)
	audit := models.NewAuditRecorder(env.db)
	sub := env.notifier.Subscribe("audit", audit)
	defer sub.Unsubscribe()

	env.do(http.MethodPost, "/v1/mint", garage, mintRequest("Oil Change"), nil)
	env.notifier.Flush()

	rows, err := audit.History(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, events.TypeServiceRecordMinted, rows[0].Type)
	require.Equal(t, garage.Hex(), rows[0].Actor)
	require.Equal(t, events.TypePointsAwarded, rows[1].Type)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(http.MethodPost, "/v1/mint", garage, mintRequest("Oil Change"), nil)

	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/events/stream?from=1", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "test complete")

	read := func() api.EventEntry {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var entry api.EventEntry
		require.NoError(t, json.Unmarshal(data, &entry))
		return entry
	}
	require.Equal(t, uint64(1), read().Sequence)
	require.Equal(t, uint64(2), read().Sequence)

	require.Eventually(t, func() bool { return env.notifier.Subscribers() > 0 }, 2*time.Second, 10*time.Millisecond)
	env.do(http.MethodPost, "/v1/points/transfer", garage, api.TransferRequest{To: driverB.Hex(), Amount: "1"}, nil)
	live := read()
	require.Equal(t, uint64(3), live.Sequence)
	require.Equal(t, events.TypePointsTransferred, live.Type)
	require.Equal(t, "1", live.Attributes["amount"])
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)
	rec, body := env.do(http.MethodGet, "/healthz", common.Address{}, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, body.Success)
}
