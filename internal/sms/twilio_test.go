package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func servicoDeTeste(baseURL string) *TwilioService {
	return &TwilioService{
		accountSID: "ACteste",
		authToken:  "token",
		fromNumber: "+5511000000000",
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
}

func TestEnviarSMSSucesso(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+5511999990000", r.PostFormValue("To"))
		assert.Equal(t, "+5511000000000", r.PostFormValue("From"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid": "SM123", "status": "queued"}`))
	}))
	defer srv.Close()

	resultado, err := servicoDeTeste(srv.URL).EnviarSMS(context.Background(), "+5511999990000", "olá")

	require.NoError(t, err)
	assert.True(t, resultado.Sucesso)
	assert.Equal(t, "SM123", resultado.MessageSID)
}

func TestEnviarSMSErroComCorpoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code": 21211, "message": "Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	_, err := servicoDeTeste(srv.URL).EnviarSMS(context.Background(), "abc", "olá")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "twilio respondeu 400")
	assert.Contains(t, err.Error(), "Invalid 'To' Phone Number")
}

func TestEnviarSMSErroComCorpoHTMLPreservaStatus(t *testing.T) {
	// Um gateway no caminho pode devolver uma página HTML; o código HTTP
	// não pode se perder num erro de decodificação.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html><body>502 Bad Gateway</body></html>"))
	}))
	defer srv.Close()

	_, err := servicoDeTeste(srv.URL).EnviarSMS(context.Background(), "+5511999990000", "olá")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "twilio respondeu 502")
	assert.NotContains(t, err.Error(), "decodificar")
}

func TestEnviarSMSRecusadoPeloProvedor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid": "SM456", "status": "failed", "error_code": 30007, "error_message": "Message filtered"}`))
	}))
	defer srv.Close()

	_, err := servicoDeTeste(srv.URL).EnviarSMS(context.Background(), "+5511999990000", "olá")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "30007")
}

func TestEnviarSMSTelefoneVazio(t *testing.T) {
	_, err := servicoDeTeste("http://localhost:0").EnviarSMS(context.Background(), "", "olá")
	require.Error(t, err)
}
