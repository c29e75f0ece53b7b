package facilitator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSig = "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheck_Valid(t *testing.T) {
	var gotBody checkRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]bool{"valid": true})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, nil, newTestLogger())
	attestation := client.Check(context.Background(), testSig, "sender-wallet")

	assert.Equal(t, AttestationValid, attestation)
	assert.Equal(t, testSig, gotBody.TransactionReference)
	assert.Equal(t, "sender-wallet", gotBody.Sender)
}

func TestCheck_Invalid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"valid": false})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, nil, newTestLogger())
	assert.Equal(t, AttestationInvalid, client.Check(context.Background(), testSig, "sender"))
}

func TestCheck_BearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]bool{"valid": true})
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token", 5*time.Second, nil, newTestLogger())
	client.Check(context.Background(), testSig, "sender")

	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestCheck_Unreachable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := NewClient(server.URL, "", 5*time.Second, nil, newTestLogger())
			assert.Equal(t, AttestationUnreachable, client.Check(context.Background(), testSig, "sender"))
		})
	}
}

func TestCheck_ConnectionRefused(t *testing.T) {
	// A closed server approximates the facilitator being down. Unreachable
	// never escalates to a denial.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(server.URL, "", time.Second, nil, newTestLogger())
	assert.Equal(t, AttestationUnreachable, client.Check(context.Background(), testSig, "sender"))
}

func TestCheck_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]bool{"valid": true})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 50*time.Millisecond, nil, newTestLogger())
	assert.Equal(t, AttestationUnreachable, client.Check(context.Background(), testSig, "sender"))
}
