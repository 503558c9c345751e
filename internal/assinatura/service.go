package assinatura

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"dose-mind/internal/database"
	"dose-mind/internal/painel"
	"dose-mind/pkg/models"
)

// PlanFeatures define as features disponíveis por plano
var PlanFeatures = map[string]map[string]bool{
	models.AssinaturaMensal: {
		"registro_doses":     true,
		"lembretes_sms":      true,
		"lembretes_push":     true,
		"alerta_admin":       true,
		"historico_doses":    true,
		"relatorios_mensais": false,
		"exportacao_dados":   false,
	},
	models.AssinaturaAnual: {
		"registro_doses":     true,
		"lembretes_sms":      true,
		"lembretes_push":     true,
		"alerta_admin":       true,
		"historico_doses":    true,
		"relatorios_mensais": true,
		"exportacao_dados":   true,
	},
}

// TemFeature responde se o plano dá acesso à feature. Plano desconhecido
// não dá acesso a nada.
func TemFeature(plano, feature string) bool {
	features, ok := PlanFeatures[plano]
	if !ok {
		return false
	}
	return features[feature]
}

// EnviadorAvisos é o canal de avisos de expiração (email em produção).
type EnviadorAvisos interface {
	EnviarAvisoAssinatura(paciente *models.Paciente, dias int) error
}

// Service é o irmão do motor de lembretes: varredura diária sobre as
// datas de expiração, um aviso por limiar e desativação idempotente.
type Service struct {
	db     *database.DB
	avisos EnviadorAvisos
	hub    *painel.Hub
}

func NewService(db *database.DB, avisos EnviadorAvisos, hub *painel.Hub) *Service {
	return &Service{db: db, avisos: avisos, hub: hub}
}

// DiasAteExpiracao calcula o teto de dias até a expiração. 7 e 1 são os
// limiares de aviso (igualdade estrita: um dia perdido pula aquele aviso
// específico); <= 0 significa expirada.
func DiasAteExpiracao(expiraEm, agora time.Time) int {
	return int(math.Ceil(expiraEm.Sub(agora).Hours() / 24))
}

// VerificarAssinaturas roda uma passada completa. Erro por paciente não
// aborta a varredura; só a falha da consulta inicial volta como erro.
func (s *Service) VerificarAssinaturas(ctx context.Context, agora time.Time) error {
	pacientes, err := s.db.BuscarAssinaturasAtivas(ctx)
	if err != nil {
		return fmt.Errorf("erro ao buscar assinaturas: %w", err)
	}

	log.Printf("📋 Verificando assinatura de %d paciente(s)...", len(pacientes))

	for i := range pacientes {
		s.processar(ctx, &pacientes[i], agora)
	}

	return nil
}

func (s *Service) processar(ctx context.Context, p *models.Paciente, agora time.Time) {
	if p.AssinaturaExpiraEm == nil {
		return
	}

	dias := DiasAteExpiracao(*p.AssinaturaExpiraEm, agora)

	switch {
	case dias == 7:
		s.enviarAviso(p, 7)

	case dias == 1:
		s.enviarAviso(p, 1)

	case dias <= 0:
		if dias == 0 {
			s.enviarAviso(p, 0)
		}
		// Rede de segurança idempotente: mesmo que os avisos tenham
		// sido perdidos, a conta expirada sempre acaba desativada.
		if p.Ativo {
			if err := s.db.DesativarPaciente(ctx, p.ID, models.MotivoAssinaturaExpirada); err != nil {
				log.Printf("❌ Erro ao desativar paciente %d por assinatura expirada: %v", p.ID, err)
				return
			}
			log.Printf("🚫 Paciente %d desativado: assinatura expirada em %s",
				p.ID, p.AssinaturaExpiraEm.Format("02/01/2006"))
		}
	}
}

func (s *Service) enviarAviso(p *models.Paciente, dias int) {
	if s.avisos == nil {
		log.Printf("⚠️  Sem canal de email: aviso de assinatura (%d dia(s)) do paciente %d apenas registrado", dias, p.ID)
		return
	}

	if err := s.avisos.EnviarAvisoAssinatura(p, dias); err != nil {
		// Igualdade estrita nos limiares: um envio falhado hoje não é
		// retentado amanhã. Tradeoff aceito para job diário.
		log.Printf("❌ Erro ao enviar aviso de assinatura (paciente %d, %d dia(s)): %v", p.ID, dias, err)
		return
	}

	if s.hub != nil {
		s.hub.Publicar(models.EventoNotificacao{
			PacienteID: p.ID,
			Tipo:       "aviso_assinatura",
			Nivel:      dias,
			Canal:      "email",
			Mensagem:   fmt.Sprintf("Aviso de assinatura (%d dia(s)) enviado", dias),
		})
	}
}
