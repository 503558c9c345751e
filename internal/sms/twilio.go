package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dose-mind/internal/config"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioService envia SMS pela API Messages da Twilio. A API REST é
// chamada diretamente via net/http, com timeout limitado para que um
// provedor travado não segure a varredura inteira.
type TwilioService struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpClient *http.Client
}

// ResultadoEnvio espelha o resultado de uma tentativa de entrega.
type ResultadoEnvio struct {
	Sucesso    bool
	MessageSID string
	EnviadoEm  time.Time
}

func NewTwilioService(cfg *config.Config) (*TwilioService, error) {
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioPhoneNumber == "" {
		return nil, fmt.Errorf("twilio credentials not configured")
	}

	timeout := time.Duration(cfg.TimeoutEnvioSegundos) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &TwilioService{
		accountSID: cfg.TwilioAccountSID,
		authToken:  cfg.TwilioAuthToken,
		fromNumber: cfg.TwilioPhoneNumber,
		baseURL:    twilioAPIBase,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type respostaTwilio struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Message      string `json:"message"`
}

// EnviarSMS dispara uma mensagem e devolve o SID do provedor. Qualquer
// falha (timeout incluso) volta como erro; o chamador decide retentar na
// próxima varredura.
func (s *TwilioService) EnviarSMS(ctx context.Context, para, mensagem string) (*ResultadoEnvio, error) {
	if para == "" {
		return nil, fmt.Errorf("telefone vazio")
	}

	form := url.Values{}
	form.Set("To", para)
	form.Set("From", s.fromNumber)
	form.Set("Body", mensagem)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erro ao chamar Twilio: %w", err)
	}
	defer resp.Body.Close()

	// O status vem antes do corpo: um gateway no caminho pode devolver
	// HTML, e aí o código HTTP é a única informação confiável.
	if resp.StatusCode >= 400 {
		var corpo respostaTwilio
		if err := json.NewDecoder(resp.Body).Decode(&corpo); err == nil && corpo.Message != "" {
			return nil, fmt.Errorf("twilio respondeu %d: %s", resp.StatusCode, corpo.Message)
		}
		return nil, fmt.Errorf("twilio respondeu %d", resp.StatusCode)
	}

	var corpo respostaTwilio
	if err := json.NewDecoder(resp.Body).Decode(&corpo); err != nil {
		return nil, fmt.Errorf("erro ao decodificar resposta Twilio: %w", err)
	}

	if corpo.ErrorCode != nil {
		return nil, fmt.Errorf("twilio recusou a mensagem (código %d): %s", *corpo.ErrorCode, corpo.ErrorMessage)
	}

	return &ResultadoEnvio{
		Sucesso:    true,
		MessageSID: corpo.SID,
		EnviadoEm:  time.Now(),
	}, nil
}
