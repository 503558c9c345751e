package config

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port        string
	Environment string

	// Database
	DatabaseURL string

	// Twilio (SMS de lembrete)
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string

	// Motor de lembretes
	IntervaloVarreduraMin int // intervalo entre varreduras (minutos)
	JanelaReativacaoHoras int // janela de recência para detectar reativação
	MaxEnviosSimultaneos  int // paralelismo por varredura
	TimeoutEnvioSegundos  int // timeout de cada chamada ao provedor

	// Assinaturas
	HoraVerificacaoAssinatura int // hora do dia (0-23) do job diário

	// Firebase (push espelhando o SMS, melhor esforço)
	FirebaseCredentialsPath string
	EnablePushMirror        bool

	// Admin (escalonamento)
	AdminEmail       string
	AdminPhone       string
	AdminDeviceToken string

	// SMTP
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPFromName  string
	SMTPFromEmail string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️  Info: Ficheiro .env não encontrado ou não pôde ser carregado. Lendo variáveis de ambiente do sistema.")
	}

	return &Config{
		// Server
		Port:        getEnvWithDefault("PORT", "8080"),
		Environment: getEnvWithDefault("ENVIRONMENT", "development"),

		// Database
		DatabaseURL: os.Getenv("DATABASE_URL"),

		// Twilio
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioPhoneNumber: os.Getenv("TWILIO_PHONE_NUMBER"),

		// Motor de lembretes
		IntervaloVarreduraMin: getEnvInt("INTERVALO_VARREDURA_MIN", 30),
		JanelaReativacaoHoras: getEnvInt("JANELA_REATIVACAO_HORAS", 2),
		MaxEnviosSimultaneos:  getEnvInt("MAX_ENVIOS_SIMULTANEOS", 8),
		TimeoutEnvioSegundos:  getEnvInt("TIMEOUT_ENVIO_SEGUNDOS", 10),

		// Assinaturas
		HoraVerificacaoAssinatura: getEnvInt("HORA_VERIFICACAO_ASSINATURA", 8),

		// Firebase
		FirebaseCredentialsPath: os.Getenv("FIREBASE_CREDENTIALS_PATH"),
		EnablePushMirror:        getEnvBool("ENABLE_PUSH_MIRROR", true),

		// Admin
		AdminEmail:       os.Getenv("ADMIN_EMAIL"),
		AdminPhone:       os.Getenv("ADMIN_PHONE"),
		AdminDeviceToken: os.Getenv("ADMIN_DEVICE_TOKEN"),

		// SMTP
		SMTPHost:      getEnvWithDefault("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:      getEnvInt("SMTP_PORT", 587),
		SMTPUsername:  os.Getenv("SMTP_USERNAME"),
		SMTPPassword:  os.Getenv("SMTP_PASSWORD"),
		SMTPFromName:  getEnvWithDefault("SMTP_FROM_NAME", "DoseCerta"),
		SMTPFromEmail: getEnvWithDefault("SMTP_FROM_EMAIL", "contato@dosecerta.app"),
	}, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// Validate valida se todas as configurações obrigatórias estão presentes
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioPhoneNumber == "" {
		log.Println("⚠️  Credenciais Twilio não configuradas: lembretes SMS não serão enviados")
	}

	if c.AdminEmail == "" {
		log.Println("⚠️  ADMIN_EMAIL não configurado: escalonamento para admin será apenas registrado em log")
	}

	if c.SMTPUsername == "" || c.SMTPPassword == "" {
		log.Println("⚠️  Credenciais SMTP não configuradas: emails de alerta não serão enviados")
	}

	if c.EnablePushMirror && c.FirebaseCredentialsPath == "" {
		log.Println("⚠️  Push habilitado mas FIREBASE_CREDENTIALS_PATH não configurado")
	}

	if c.HoraVerificacaoAssinatura < 0 || c.HoraVerificacaoAssinatura > 23 {
		return fmt.Errorf("HORA_VERIFICACAO_ASSINATURA deve estar entre 0 e 23")
	}

	return nil
}
