package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	ledgererrors "drivechain/core/errors"
	"drivechain/core/ledger"
	gwmw "drivechain/gateway/middleware"
	"drivechain/services/ledgerd/api"
	"drivechain/services/ledgerd/models"
	"drivechain/services/ledgerd/server"
)

const testSecret = "drivectl-test-secret"

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	garage = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func startLedgerd(t *testing.T, authEnabled bool) (*ledger.Engine, string) {
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
			HMACSecret: testSecret,
			Issuer:     "drivechain",
			TokenTTL:   time.Hour,
		},
		RateLimit: gwmw.RateLimit{RequestsPerSecond: 1000, Burst: 1000},
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return engine, ts.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMintAndQuery(t *testing.T) {
	engine, endpoint := startLedgerd(t, false)
	as := []string{"--endpoint", endpoint, "--caller", garage.Hex()}

	out, err := run(t, append(as, "mint", "--type", "Brake Service", "--date", "2023-04-02",
		"--provider", "Corner Garage", "--vehicle", "Civic 2019", "--details", "pads")...)
	require.NoError(t, err)
	var minted api.MintResponse
	require.NoError(t, json.Unmarshal([]byte(out), &minted))
	require.Equal(t, uint64(1), minted.ID)
	require.NotNil(t, minted.CreditedAmount)
	require.Equal(t, "30", *minted.CreditedAmount)

	out, err = run(t, append(as, "record", "get", "1")...)
	require.NoError(t, err)
	var record api.Record
	require.NoError(t, json.Unmarshal([]byte(out), &record))
	require.Equal(t, garage.Hex(), record.Owner)
	require.Equal(t, "Brake Service", record.ServiceType)
	require.False(t, record.IsVerified)

	out, err = run(t, append(as, "record", "list")...)
	require.NoError(t, err)
	var list api.RecordList
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Equal(t, []uint64{1}, list.IDs)

	out, err = run(t, append(as, "points", "balance", garage.Hex())...)
	require.NoError(t, err)
	var balance api.Balance
	require.NoError(t, json.Unmarshal([]byte(out), &balance))
	require.Equal(t, "30", balance.Balance)
	require.Equal(t, "30", balance.TotalEarned)

	_, err = run(t, append(as, "points", "transfer", owner.Hex(), "12")...)
	require.NoError(t, err)
	require.Equal(t, "18", engine.Account(garage).Balance.Dec())
}

func TestPartialMintThenAward(t *testing.T) {
	_, endpoint := startLedgerd(t, false)
	as := []string{"--endpoint", endpoint, "--caller", garage.Hex()}
	asOwner := []string{"--endpoint", endpoint, "--caller", owner.Hex()}

	out, err := run(t, append(as, "mint", "--type", "Detailing")...)
	require.NoError(t, err)
	var minted api.MintResponse
	require.NoError(t, json.Unmarshal([]byte(out), &minted))
	require.Nil(t, minted.CreditedAmount)
	require.NotNil(t, minted.CreditError)
	require.Equal(t, string(ledgererrors.KindInvalidServiceType), minted.CreditError.Kind)

	_, err = run(t, append(asOwner, "multiplier", "set", "Detailing", "4")...)
	require.NoError(t, err)

	out, err = run(t, append(as, "record", "award", "1")...)
	require.NoError(t, err)
	var award api.AwardResponse
	require.NoError(t, json.Unmarshal([]byte(out), &award))
	require.Equal(t, "40", award.Amount)
	require.False(t, award.AlreadyCredited)

	out, err = run(t, append(as, "record", "points", "1")...)
	require.NoError(t, err)
	var points api.RecordPoints
	require.NoError(t, json.Unmarshal([]byte(out), &points))
	require.True(t, points.Credited)
	require.Equal(t, "40", points.Amount)
}

func TestAdminCommands(t *testing.T) {
	_, endpoint := startLedgerd(t, false)
	as := []string{"--endpoint", endpoint, "--caller", garage.Hex()}
	asOwner := []string{"--endpoint", endpoint, "--caller", owner.Hex()}

	_, err := run(t, append(as, "multiplier", "set", "Wash", "2")...)
	require.ErrorIs(t, err, ledgererrors.ErrUnauthorized)

	_, err = run(t, append(as, "multiplier", "get", "Wash")...)
	require.ErrorIs(t, err, ledgererrors.ErrNotFound)

	out, err := run(t, append(as, "multiplier", "list")...)
	require.NoError(t, err)
	var entries []api.Multiplier
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 4)

	_, err = run(t, append(asOwner, "verifier", "set", garage.Hex())...)
	require.NoError(t, err)
	out, err = run(t, append(as, "verifier", "get", garage.Hex())...)
	require.NoError(t, err)
	var status api.VerifierStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.True(t, status.Authorized)

	_, err = run(t, append(as, "mint", "--type", "Oil Change")...)
	require.NoError(t, err)
	out, err = run(t, append(as, "record", "verify", "1")...)
	require.NoError(t, err)
	var record api.Record
	require.NoError(t, json.Unmarshal([]byte(out), &record))
	require.True(t, record.IsVerified)
	require.NotNil(t, record.VerifiedBy)
	require.Equal(t, garage.Hex(), *record.VerifiedBy)

	_, err = run(t, append(as, "record", "verify", "1")...)
	require.ErrorIs(t, err, ledgererrors.ErrAlreadyVerified)

	_, err = run(t, append(asOwner, "verifier", "set", "--disable", garage.Hex())...)
	require.NoError(t, err)
	out, err = run(t, append(as, "verifier", "get", garage.Hex())...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.False(t, status.Authorized)
}

func TestEventsListAndExport(t *testing.T) {
	_, endpoint := startLedgerd(t, false)
	as := []string{"--endpoint", endpoint, "--caller", garage.Hex()}
	for _, serviceType := range []string{"Oil Change", "Tire Rotation"} {
		_, err := run(t, append(as, "mint", "--type", serviceType)...)
		require.NoError(t, err)
	}

	out, err := run(t, append(as, "events", "list", "--kind", "points.awarded")...)
	require.NoError(t, err)
	var list api.EventList
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list.Entries, 2)
	require.Equal(t, "points.awarded", list.Entries[0].Type)

	out, err = run(t, append(as, "events", "export", "--format", "csv")...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	require.True(t, strings.HasPrefix(lines[0], "sequence,time,type"))

	path := filepath.Join(t.TempDir(), "feed.parquet")
	out, err = run(t, append(as, "events", "export", "--format", "parquet", "--out", path)...)
	require.NoError(t, err)
	require.Contains(t, out, "wrote 4 entries")
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Positive(t, info.Size())

	_, err = run(t, append(as, "events", "export", "--format", "parquet")...)
	require.Error(t, err)
}

func TestKeystoreLogin(t *testing.T) {
	engine, endpoint := startLedgerd(t, true)
	t.Setenv(keyPassEnv, "correct horse battery staple")
	path := filepath.Join(t.TempDir(), "garage.keystore")

	out, err := run(t, "keys", "new", path)
	require.NoError(t, err)
	var created keyInfo
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.True(t, strings.HasPrefix(created.Bech32, "drv1"))

	_, err = run(t, "keys", "new", path)
	require.Error(t, err)

	out, err = run(t, "keys", "show", path)
	require.NoError(t, err)
	var shown keyInfo
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	require.Equal(t, created.Address, shown.Address)

	out, err = run(t, "--endpoint", endpoint, "login", path)
	require.NoError(t, err)
	var token api.TokenResponse
	require.NoError(t, json.Unmarshal([]byte(out), &token))
	require.Equal(t, created.Address, token.Address)

	_, err = run(t, "--endpoint", endpoint, "--keystore", path, "mint", "--type", "Engine Repair")
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, engine.RecordsByOwner(common.HexToAddress(created.Address)))
	require.Equal(t, "50", engine.Account(common.HexToAddress(created.Address)).Balance.Dec())

	_, err = run(t, "--endpoint", endpoint, "--token", token.Token, "mint", "--type", "Oil Change")
	require.NoError(t, err)

	_, err = run(t, "--endpoint", endpoint, "--caller", garage.Hex(), "mint", "--type", "Oil Change")
	require.ErrorIs(t, err, ledgererrors.ErrUnauthorized)
}

func TestOfflineToken(t *testing.T) {
	engine, endpoint := startLedgerd(t, true)
	out, err := run(t, "token", "--secret", testSecret, "--address", garage.Hex(), "--ttl", "10m")
	require.NoError(t, err)
	var token api.TokenResponse
	require.NoError(t, json.Unmarshal([]byte(out), &token))
	require.WithinDuration(t, time.Now().Add(10*time.Minute), token.ExpiresAt, time.Minute)

	_, err = run(t, "--endpoint", endpoint, "--token", token.Token, "mint", "--type", "Oil Change")
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, engine.RecordsByOwner(garage))

	_, err = run(t, "token", "--address", garage.Hex())
	require.Error(t, err)
}

func TestArgumentValidation(t *testing.T) {
	_, endpoint := startLedgerd(t, false)
	as := []string{"--endpoint", endpoint, "--caller", garage.Hex()}

	_, err := run(t, append(as, "record", "get", "zero")...)
	require.ErrorIs(t, err, ledgererrors.ErrInvalidArgument)

	_, err = run(t, append(as, "points", "transfer", owner.Hex(), "-1")...)
	require.ErrorIs(t, err, ledgererrors.ErrInvalidArgument)

	_, err = run(t, append(as, "points", "transfer", owner.Hex(), "5")...)
	require.ErrorIs(t, err, ledgererrors.ErrInsufficientBalance)

	_, err = run(t, append(as, "mint")...)
	require.Error(t, err)
}
