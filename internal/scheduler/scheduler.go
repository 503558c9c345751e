package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"dose-mind/internal/config"
	"dose-mind/internal/database"
	"dose-mind/internal/lembrete"
	"dose-mind/internal/painel"
	"dose-mind/internal/push"
	"dose-mind/internal/sms"
	"dose-mind/pkg/models"
)

// EnviadorSMS é o canal de SMS visto pelo motor (Twilio em produção).
type EnviadorSMS interface {
	EnviarSMS(ctx context.Context, para, mensagem string) (*sms.ResultadoEnvio, error)
}

// EnviadorAlertaAdmin entrega o escalonamento ao administrador.
type EnviadorAlertaAdmin interface {
	EnviarAlertaInatividade(adminEmail string, paciente *models.Paciente, doses []models.Dose) error
}

// EnviadorPush espelha lembretes em push, melhor esforço.
type EnviadorPush interface {
	SendLembreteDose(deviceToken, nome, corpo string) error
	SendAlertaAdmin(deviceToken, nomePaciente string) error
}

// Scheduler é o motor de lembretes: a cada intervalo varre os quatro
// conjuntos de candidatos, relê cada paciente, decide pela máquina de
// estados e aplica o resultado. Varreduras nunca se sobrepõem.
type Scheduler struct {
	cfg      *config.Config
	db       *database.DB
	sms      EnviadorSMS
	email    EnviadorAlertaAdmin
	push     EnviadorPush
	hub      *painel.Hub
	stopChan chan struct{}
	mu       sync.Mutex

	// relógio injetável para testes determinísticos
	agora func() time.Time
}

func NewScheduler(cfg *config.Config, db *database.DB, smsSvc EnviadorSMS, emailSvc EnviadorAlertaAdmin, pushSvc EnviadorPush, hub *painel.Hub) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		db:       db,
		sms:      smsSvc,
		email:    emailSvc,
		push:     pushSvc,
		hub:      hub,
		stopChan: make(chan struct{}),
		agora:    time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	intervalo := time.Duration(s.cfg.IntervaloVarreduraMin) * time.Minute
	ticker := time.NewTicker(intervalo)
	defer ticker.Stop()

	log.Printf("⏰ Motor de lembretes iniciado (varredura a cada %v)", intervalo)

	if err := s.ExecutarVarredura(ctx); err != nil {
		log.Printf("❌ Erro na varredura inicial: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			if err := s.ExecutarVarredura(ctx); err != nil {
				log.Printf("❌ Erro na varredura de lembretes: %v", err)
			}
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// ExecutarVarredura roda uma varredura completa e síncrona. O mutex
// serializa varreduras agendadas e disparos manuais do admin: nunca duas
// ao mesmo tempo contra o mesmo conjunto de pacientes.
func (s *Scheduler) ExecutarVarredura(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	inicio := s.agora()
	janela := time.Duration(s.cfg.JanelaReativacaoHoras) * time.Hour

	// A varredura de reativação cruza qualquer ciclo, então um paciente
	// pode aparecer em dois conjuntos; o despacho deduplica por id para
	// que cada paciente entre no máximo uma vez por varredura.
	reativacoes, err := s.db.BuscarCandidatosReativacao(ctx, janela)
	if err != nil {
		return fmt.Errorf("varredura abortada: %w", err)
	}
	boasVindas, err := s.db.BuscarPendentesBoasVindas(ctx)
	if err != nil {
		return fmt.Errorf("varredura abortada: %w", err)
	}
	novos, err := s.db.BuscarCandidatosNovoUsuario(ctx)
	if err != nil {
		return fmt.Errorf("varredura abortada: %w", err)
	}
	ativos, err := s.db.BuscarCandidatosUsuarioAtivo(ctx)
	if err != nil {
		return fmt.Errorf("varredura abortada: %w", err)
	}
	pendentesAdmin, err := s.db.BuscarPendentesAlertaAdmin(ctx)
	if err != nil {
		return fmt.Errorf("varredura abortada: %w", err)
	}

	candidatos := make([]models.Paciente, 0, len(reativacoes)+len(boasVindas)+len(novos)+len(ativos)+len(pendentesAdmin))
	candidatos = append(candidatos, reativacoes...)
	candidatos = append(candidatos, boasVindas...)
	candidatos = append(candidatos, novos...)
	candidatos = append(candidatos, ativos...)
	candidatos = append(candidatos, pendentesAdmin...)

	if len(candidatos) > 0 {
		log.Printf("🔍 Varredura: %d candidato(s) (%d reativação, %d boas-vindas, %d novo, %d ativo, %d admin)",
			len(candidatos), len(reativacoes), len(boasVindas), len(novos), len(ativos), len(pendentesAdmin))
	}

	s.processarLote(ctx, candidatos)

	log.Printf("✅ Varredura concluída em %v", time.Since(inicio))
	return nil
}

// processarLote processa os candidatos em paralelo limitado. Pacientes
// diferentes são independentes; as guardas são monotônicas no tempo e as
// tentativas só avançam, então a ordem não importa. O mesmo paciente
// vindo de duas varreduras entra uma vez só: duas goroutines sobre a
// mesma linha seriam a corrida de envio duplo que o re-read não cobre.
func (s *Scheduler) processarLote(ctx context.Context, candidatos []models.Paciente) {
	limite := s.cfg.MaxEnviosSimultaneos
	if limite <= 0 {
		limite = 1
	}

	sem := make(chan struct{}, limite)
	var wg sync.WaitGroup

	despachados := make(map[int64]bool, len(candidatos))
	for i := range candidatos {
		id := candidatos[i].ID
		if despachados[id] {
			continue
		}
		despachados[id] = true

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.ProcessarPaciente(ctx, id)
		}()
	}

	wg.Wait()
}

// ProcessarPaciente relê o paciente (re-checagem antes de aplicar: a
// linha da varredura pode estar velha se uma dose entrou no meio) e
// executa no máximo uma transição.
func (s *Scheduler) ProcessarPaciente(ctx context.Context, pacienteID int64) {
	p, err := s.db.GetPaciente(ctx, pacienteID)
	if err != nil {
		log.Printf("❌ Erro ao reler paciente %d: %v", pacienteID, err)
		return
	}

	if !p.Ativo || !p.Verificado || p.ExcluidoEm != nil {
		return
	}

	oraculo := func(desde time.Time) (bool, error) {
		return s.db.TemDoseDesde(ctx, p.ID, desde)
	}
	janela := time.Duration(s.cfg.JanelaReativacaoHoras) * time.Hour

	decisao, err := lembrete.Decide(p, s.agora(), janela, oraculo)
	if err == lembrete.ErrSemBaseDose {
		log.Printf("⚠️  Paciente %d em ciclo ativo sem base de dose: pulado nesta varredura", p.ID)
		return
	}
	if err != nil {
		log.Printf("❌ Erro ao decidir paciente %d: %v", p.ID, err)
		return
	}

	switch decisao.Acao {
	case lembrete.AcaoNenhuma:
		return
	case lembrete.AcaoReiniciarCiclo:
		s.aplicarReinicio(ctx, p, decisao)
	case lembrete.AcaoNotificarAdmin:
		s.aplicarAlertaAdmin(ctx, p, decisao)
	default:
		s.aplicarLembrete(ctx, p, decisao)
	}
}

// aplicarLembrete envia o SMS do degrau e só então persiste o avanço de
// estado. Falha de envio deixa tudo como está (retentado na próxima
// varredura); falha de persistência depois do envio é o risco aceito de
// duplicata e é registrada com contexto para reconciliação manual.
func (s *Scheduler) aplicarLembrete(ctx context.Context, p *models.Paciente, decisao lembrete.Decisao) {
	if p.Telefone == "" {
		log.Printf("⚠️  Paciente %d sem telefone: lembrete %s pulado", p.ID, decisao.Acao)
		return
	}
	if s.sms == nil {
		log.Printf("⚠️  SMS não configurado: lembrete %s do paciente %d pulado", decisao.Acao, p.ID)
		return
	}

	mensagem := mensagemLembrete(p.Nome, decisao)

	envioCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutEnvioSegundos)*time.Second)
	defer cancel()

	resultado, err := s.sms.EnviarSMS(envioCtx, p.Telefone, mensagem)
	if err != nil {
		log.Printf("❌ Erro ao enviar SMS (paciente %d, %s tentativa %d): %v", p.ID, decisao.Acao, decisao.Tentativa, err)
		return
	}

	log.Printf("📨 SMS enviado: paciente %d, %s tentativa %d (SID %s)", p.ID, decisao.Acao, decisao.Tentativa, resultado.MessageSID)

	if err := s.db.AtualizarCampos(ctx, p.ID, decisao.Campos); err != nil {
		log.Printf("❌ RISCO DE DUPLICATA: SMS enviado mas estado não persistido (paciente %d, %s tentativa %d): %v",
			p.ID, decisao.Acao, decisao.Tentativa, err)
		return
	}

	s.publicar(p.ID, decisao, "sms", mensagem)
	s.espelharPush(ctx, p, mensagem)
}

// aplicarAlertaAdmin escalona o episódio de inatividade: no máximo um
// alerta por episódio, garantido pelo campo admin_notificado_em.
func (s *Scheduler) aplicarAlertaAdmin(ctx context.Context, p *models.Paciente, decisao lembrete.Decisao) {
	doses, err := s.db.UltimasDoses(ctx, p.ID, 5)
	if err != nil {
		log.Printf("❌ Erro ao buscar últimas doses do paciente %d: %v", p.ID, err)
		return
	}

	if s.email != nil && s.cfg.AdminEmail != "" {
		if err := s.email.EnviarAlertaInatividade(s.cfg.AdminEmail, p, doses); err != nil {
			log.Printf("❌ Erro ao enviar alerta admin (paciente %d): %v", p.ID, err)
			return
		}
	} else {
		// Sem canal de email o alerta vale pelo log; o estado avança
		// mesmo assim para não repetir a cada varredura.
		log.Printf("🚨 ALERTA ADMIN (sem email configurado): paciente %d (%s) esgotou os lembretes sem registrar dose", p.ID, p.Nome)
	}

	if err := s.db.AtualizarCampos(ctx, p.ID, decisao.Campos); err != nil {
		log.Printf("❌ RISCO DE DUPLICATA: alerta admin enviado mas estado não persistido (paciente %d): %v", p.ID, err)
		return
	}

	log.Printf("🚨 Admin notificado sobre paciente %d", p.ID)
	s.publicar(p.ID, decisao, "email", "Alerta de inatividade enviado ao admin")

	// Complementos melhor esforço: push e SMS curto para o admin.
	if s.push != nil && s.cfg.AdminDeviceToken != "" {
		if err := s.push.SendAlertaAdmin(s.cfg.AdminDeviceToken, p.Nome); err != nil {
			log.Printf("⚠️  Push de alerta admin não entregue: %v", err)
		}
	}
	if s.sms != nil && s.cfg.AdminPhone != "" {
		envioCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutEnvioSegundos)*time.Second)
		defer cancel()
		aviso := fmt.Sprintf("DoseCerta: %s esgotou os lembretes sem registrar dose. Detalhes no seu email.", p.Nome)
		if _, err := s.sms.EnviarSMS(envioCtx, s.cfg.AdminPhone, aviso); err != nil {
			log.Printf("⚠️  SMS de alerta admin não entregue: %v", err)
		}
	}
}

// aplicarReinicio trata a borda de reativação. O reinício persiste
// primeiro (a guarda é a recência da borda, não um envio) e o SMS de
// boas-vindas sai depois, melhor esforço.
func (s *Scheduler) aplicarReinicio(ctx context.Context, p *models.Paciente, decisao lembrete.Decisao) {
	if err := s.db.AtualizarCampos(ctx, p.ID, decisao.Campos); err != nil {
		log.Printf("❌ Erro ao reiniciar ciclo do paciente %d: %v", p.ID, err)
		return
	}

	log.Printf("🔄 Ciclo reiniciado para paciente %d (reativação)", p.ID)

	if s.sms != nil && p.Telefone != "" {
		envioCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutEnvioSegundos)*time.Second)
		defer cancel()

		mensagem := fmt.Sprintf("Bem-vindo(a) de volta ao DoseCerta, %s! Vamos retomar o registro das suas doses de insulina.", p.Nome)
		if _, err := s.sms.EnviarSMS(envioCtx, p.Telefone, mensagem); err != nil {
			log.Printf("⚠️  SMS de boas-vindas não enviado (paciente %d): %v", p.ID, err)
		}
	}

	s.publicar(p.ID, decisao, "sms", "Ciclo de lembretes reiniciado")
}

func (s *Scheduler) espelharPush(ctx context.Context, p *models.Paciente, mensagem string) {
	if s.push == nil || p.DeviceToken == "" {
		return
	}
	if err := s.push.SendLembreteDose(p.DeviceToken, p.Nome, mensagem); err != nil {
		if push.IsInvalidTokenError(err) {
			log.Printf("🧹 Token inválido do paciente %d: removendo", p.ID)
			if err := s.db.AtualizarCampos(ctx, p.ID, map[string]interface{}{"device_token": nil}); err != nil {
				log.Printf("⚠️  Erro ao limpar device token do paciente %d: %v", p.ID, err)
			}
			return
		}
		log.Printf("⚠️  Push não entregue (paciente %d): %v", p.ID, err)
	}
}

func (s *Scheduler) publicar(pacienteID int64, decisao lembrete.Decisao, canal, mensagem string) {
	if s.hub == nil {
		return
	}
	s.hub.Publicar(models.EventoNotificacao{
		PacienteID: pacienteID,
		Tipo:       decisao.Acao.String(),
		Nivel:      decisao.Tentativa,
		Canal:      canal,
		Mensagem:   mensagem,
	})
}

func mensagemLembrete(nome string, decisao lembrete.Decisao) string {
	switch decisao.Acao {
	case lembrete.AcaoEnviarBoasVindas:
		return fmt.Sprintf("Bem-vindo(a) ao DoseCerta, %s! Registre sua primeira dose de insulina para começarmos o acompanhamento.", nome)
	case lembrete.AcaoLembreteNovoUsuario:
		if decisao.Tentativa == 1 {
			return fmt.Sprintf("Olá %s! Notamos que você ainda não registrou sua primeira dose no DoseCerta. Que tal registrar agora?", nome)
		}
		return fmt.Sprintf("%s, este é nosso último lembrete: registre sua primeira dose de insulina no DoseCerta para acompanharmos seu tratamento.", nome)
	case lembrete.AcaoLembreteFinal:
		return fmt.Sprintf("%s, não registramos suas doses há mais de 2 dias. Está tudo bem? Registre sua próxima dose no DoseCerta.", nome)
	default:
		if decisao.Tentativa == 1 {
			return fmt.Sprintf("%s, passou da hora da sua dose de insulina. Não esqueça de registrá-la no DoseCerta!", nome)
		}
		return fmt.Sprintf("%s, ainda não vimos o registro da sua dose de insulina. Registre no DoseCerta assim que puder.", nome)
	}
}
