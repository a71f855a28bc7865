package network

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/chain"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/crypto"
)

func sealed(t *testing.T) (*chain.Envelope, string) {
	t.Helper()
	signer, err := crypto.NewSecp256k1Signer()
	require.NoError(t, err)
	env, err := chain.Seal(signer, chain.Genesis, []byte{0x01, 0xff, 0x80})
	require.NoError(t, err)
	return env, signer.Address()
}

func respond(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if body != nil {
			_ = json.NewEncoder(w).Encode(body)
		}
	}
}

func TestSubmit_WireFormat(t *testing.T) {
	env, addr := sealed(t)

	var got SignedSnapshot
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ordinal":42}`))
	}))
	defer srv.Close()

	out := New(srv.URL).Submit(context.Background(), addr, env)
	require.Equal(t, Accepted, out.Kind)
	require.NotNil(t, out.Ordinal)
	assert.Equal(t, uint64(42), *out.Ordinal)

	assert.Equal(t, "/state-channels/"+addr+"/snapshot", path)
	assert.Equal(t, chain.Genesis.String(), got.Value.LastSnapshotHash)
	assert.Equal(t, []int8{1, -1, -128}, got.Value.Content)
	require.Len(t, got.Proofs, 1)
	assert.Equal(t, crypto.PublicKeyID(env.PublicKey), got.Proofs[0].ID)
}

func TestSubmit_Classification(t *testing.T) {
	env, addr := sealed(t)
	other := chain.Hash{9}

	cases := []struct {
		name   string
		status int
		body   any
		kind   Kind
		reason Reason
	}{
		{"ok without body", http.StatusAccepted, nil, Accepted, ReasonNone},
		{"duplicate", http.StatusConflict, ErrorBody{Code: "DuplicateSnapshot"}, Accepted, ReasonNone},
		{"lost ack", http.StatusConflict, ErrorBody{Code: "ChainMismatch", LastSnapshotHash: env.Hash().String()}, Accepted, ReasonNone},
		{"chain mismatch", http.StatusConflict, ErrorBody{Code: "ChainMismatch", LastSnapshotHash: other.String()}, Rejected, ReasonChainMismatch},
		{"unauthorized", http.StatusUnauthorized, nil, Rejected, ReasonSignatureRejected},
		{"invalid signature code", http.StatusBadRequest, ErrorBody{Code: "InvalidSignature"}, Rejected, ReasonSignatureRejected},
		{"bad request", http.StatusBadRequest, ErrorBody{Code: "Decode"}, Rejected, ReasonMalformedSchema},
		{"unprocessable", http.StatusUnprocessableEntity, nil, Rejected, ReasonMalformedSchema},
		{"not found", http.StatusNotFound, nil, Rejected, ReasonOther},
		{"rate limited", http.StatusTooManyRequests, nil, TransientFailure, ReasonNone},
		{"server error", http.StatusBadGateway, nil, TransientFailure, ReasonNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(respond(tc.status, tc.body))
			defer srv.Close()

			out := New(srv.URL).Submit(context.Background(), addr, env)
			assert.Equal(t, tc.kind, out.Kind)
			assert.Equal(t, tc.reason, out.Reason)
			assert.Equal(t, tc.status, out.Status)
		})
	}
}

func TestSubmit_ChainMismatchCarriesRemoteHash(t *testing.T) {
	env, addr := sealed(t)
	remote := chain.Hash{0xab}
	srv := httptest.NewServer(respond(http.StatusConflict, ErrorBody{Code: "ChainMismatch", LastSnapshotHash: remote.String()}))
	defer srv.Close()

	out := New(srv.URL).Submit(context.Background(), addr, env)
	require.NotNil(t, out.RemoteHash)
	assert.Equal(t, remote, *out.RemoteHash)
	assert.ErrorIs(t, out.Err, chain.ErrChainMismatch)
}

func TestSubmit_SentinelErrors(t *testing.T) {
	env, addr := sealed(t)

	srv := httptest.NewServer(respond(http.StatusForbidden, nil))
	out := New(srv.URL).Submit(context.Background(), addr, env)
	srv.Close()
	assert.ErrorIs(t, out.Err, ErrSignatureRejected)

	srv = httptest.NewServer(respond(http.StatusServiceUnavailable, nil))
	out = New(srv.URL).Submit(context.Background(), addr, env)
	srv.Close()
	assert.ErrorIs(t, out.Err, ErrTransient)
	assert.True(t, out.Retryable())
}

func TestSubmit_ConnectionRefusedIsTransient(t *testing.T) {
	env, addr := sealed(t)
	srv := httptest.NewServer(respond(http.StatusOK, nil))
	url := srv.URL
	srv.Close()

	out := New(url, WithTimeout(2*time.Second)).Submit(context.Background(), addr, env)
	assert.Equal(t, TransientFailure, out.Kind)
	assert.ErrorIs(t, out.Err, ErrTransient)
}

func TestSubmit_DroppedAfterWriteIsAmbiguous(t *testing.T) {
	env, addr := sealed(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	}))
	defer srv.Close()

	out := New(srv.URL).Submit(context.Background(), addr, env)
	assert.Equal(t, AmbiguousFailure, out.Kind)
	assert.ErrorIs(t, out.Err, ErrAmbiguous)
	assert.True(t, out.Retryable())
}

func TestSubmit_RetriesSendIdenticalBody(t *testing.T) {
	env, addr := sealed(t)

	var mu sync.Mutex
	var bodies [][]byte
	var ids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, b)
		ids = append(ids, r.Header.Get("X-Request-ID"))
		n := len(bodies)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	assert.Equal(t, TransientFailure, c.Submit(context.Background(), addr, env).Kind)
	assert.Equal(t, Accepted, c.Submit(context.Background(), addr, env).Kind)

	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1])
	assert.NotEqual(t, ids[0], ids[1])
}

func TestProbes(t *testing.T) {
	head := chain.Hash{0x42}
	mux := http.NewServeMux()
	mux.HandleFunc("/cluster/info", respond(http.StatusOK, []ClusterNode{{ID: "n1", IP: "10.0.0.1", State: "Ready"}}))
	mux.HandleFunc("/global-snapshots/latest/ordinal", respond(http.StatusOK, ordinalBody{Value: 77}))
	mux.HandleFunc("/state-channels/NETknown/snapshots/latest", respond(http.StatusOK, channelHeadBody{Hash: head.String(), Ordinal: 5}))
	mux.HandleFunc("/state-channels/NETnew/snapshots/latest", respond(http.StatusNotFound, ErrorBody{Code: "NotFound"}))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL + "/")
	ctx := context.Background()

	nodes, err := c.ClusterInfo(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Ready", nodes[0].State)
	assert.True(t, c.Healthy(ctx))

	ord, err := c.LatestOrdinal(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), ord)

	got, err := c.LatestSnapshot(ctx, "NETknown")
	require.NoError(t, err)
	assert.Equal(t, ChannelHead{Hash: head, Ordinal: 5}, got)

	got, err = c.LatestSnapshot(ctx, "NETnew")
	require.NoError(t, err)
	assert.True(t, got.Hash.IsGenesis())
}

func TestProbes_ServerError(t *testing.T) {
	srv := httptest.NewServer(respond(http.StatusInternalServerError, ErrorBody{Code: "Boom", Message: "down"}))
	defer srv.Close()

	_, err := New(srv.URL).LatestSnapshot(context.Background(), "NETx")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "Boom", apiErr.Code)
}

func TestAppData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/global-snapshots/app-data/hive", respond(http.StatusOK, AppInfo{AppName: "hive", AppVersion: "v1.4.0", TokenTicker: "HIVE"}))
	mux.HandleFunc("/global-snapshots/app-data/ghost", respond(http.StatusNotFound, nil))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()

	app, err := c.AppData(ctx, "hive")
	require.NoError(t, err)
	require.NotNil(t, app)
	assert.Equal(t, "HIVE", app.TokenTicker)

	newer, err := app.NewerThan("1.2.3")
	require.NoError(t, err)
	assert.True(t, newer)
	newer, err = app.NewerThan("1.4.0")
	require.NoError(t, err)
	assert.False(t, newer)
	_, err = app.NewerThan("latest")
	assert.Error(t, err)

	missing, err := c.AppData(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
