package email

import (
	"fmt"
	"log"

	"dose-mind/pkg/models"
)

// EnviarAlertaInatividade envia ao administrador o alerta de paciente
// inativo, com o resumo, as últimas doses e os horários dos lembretes
// já enviados. Disparado no máximo uma vez por episódio de inatividade.
func (s *EmailService) EnviarAlertaInatividade(adminEmail string, paciente *models.Paciente, doses []models.Dose) error {
	subject := fmt.Sprintf("🚨 Paciente sem registrar doses - %s", paciente.Nome)
	htmlBody := AlertaInatividadeTemplate(paciente, doses)

	if err := s.SendEmail(adminEmail, subject, htmlBody); err != nil {
		log.Printf("❌ Erro ao enviar alerta de inatividade: %v", err)
		return err
	}

	log.Printf("📧 Alerta de inatividade enviado para admin: paciente %d", paciente.ID)
	return nil
}

// EnviarAvisoAssinatura envia o aviso de expiração de assinatura ao
// paciente. dias: 7 (aviso), 1 (urgente) ou 0 (expirada).
func (s *EmailService) EnviarAvisoAssinatura(paciente *models.Paciente, dias int) error {
	if paciente.Email == "" {
		log.Printf("⚠️  Paciente %d sem email: aviso de assinatura pulado", paciente.ID)
		return nil
	}

	var subject string
	switch {
	case dias >= 7:
		subject = "📅 Sua assinatura DoseCerta expira em 7 dias"
	case dias == 1:
		subject = "⚠️ Sua assinatura DoseCerta expira amanhã"
	default:
		subject = "🚫 Sua assinatura DoseCerta expirou"
	}

	htmlBody := AvisoAssinaturaTemplate(paciente.Nome, dias)

	if err := s.SendEmail(paciente.Email, subject, htmlBody); err != nil {
		log.Printf("❌ Erro ao enviar aviso de assinatura: %v", err)
		return err
	}

	log.Printf("📧 Aviso de assinatura (%d dia(s)) enviado para paciente %d", dias, paciente.ID)
	return nil
}
