package models

import "time"

// Ciclos de lembrete SMS de um paciente
const (
	CicloNovoUsuario     = "novo_usuario"
	CicloUsuarioAtivo    = "usuario_ativo"
	CicloUsuarioInativo  = "usuario_inativo"
	CicloAdminNotificado = "admin_notificado"
)

// Tipos de dose de insulina
const (
	DoseBasal = "basal"
	DoseBolus = "bolus"
)

// Planos de assinatura
const (
	AssinaturaMensal = "mensal"
	AssinaturaAnual  = "anual"
)

// MotivoAssinaturaExpirada é gravado em motivo_desativacao quando a
// desativação vem do job de assinaturas, e não de uma ação manual.
const MotivoAssinaturaExpirada = "Assinatura expirada"

type Paciente struct {
	ID          int64      `json:"id"`
	Nome        string     `json:"nome"`
	Telefone    string     `json:"telefone"`
	Email       string     `json:"email"`
	DeviceToken string     `json:"device_token"`
	Papel       string     `json:"papel"`
	Ativo       bool       `json:"ativo"`
	Verificado  bool       `json:"verificado"`
	ExcluidoEm  *time.Time `json:"excluido_em,omitempty"`

	// Estado do motor de lembretes
	PrimeiraDoseRegistrada bool       `json:"primeira_dose_registrada"`
	CicloLembreteSMS       string     `json:"ciclo_lembrete_sms"`
	TentativasLembrete     int        `json:"tentativas_lembrete"`
	UltimaDoseEm           *time.Time `json:"ultima_dose_em,omitempty"`
	UltimoLembreteEm       *time.Time `json:"ultimo_lembrete_em,omitempty"`
	ProximoLembreteEm      *time.Time `json:"proximo_lembrete_em,omitempty"`
	SMSBoasVindasEm        *time.Time `json:"sms_boas_vindas_em,omitempty"`
	AdminNotificadoEm      *time.Time `json:"admin_notificado_em,omitempty"`

	// Estado de reativação
	UltimaAtivacaoEm    *time.Time `json:"ultima_ativacao_em,omitempty"`
	EstadoAtivoAnterior *bool      `json:"estado_ativo_anterior,omitempty"`

	// Assinatura
	TipoAssinatura     string     `json:"tipo_assinatura"`
	AssinaturaExpiraEm *time.Time `json:"assinatura_expira_em,omitempty"`
	MotivoDesativacao  string     `json:"motivo_desativacao,omitempty"`
	DesativadoEm       *time.Time `json:"desativado_em,omitempty"`

	CriadoEm     time.Time `json:"criado_em"`
	AtualizadoEm time.Time `json:"atualizado_em"`
}

type Dose struct {
	ID         int64     `json:"id"`
	PacienteID int64     `json:"paciente_id"`
	Tipo       string    `json:"tipo"` // basal | bolus
	AplicadaEm time.Time `json:"aplicada_em"`
	CriadoEm   time.Time `json:"criado_em"`
}

// EventoNotificacao é o frame JSON publicado no painel (/ws/painel)
// sempre que o motor dispara um lembrete ou alerta.
type EventoNotificacao struct {
	ID         string    `json:"id"`
	PacienteID int64     `json:"paciente_id"`
	Tipo       string    `json:"tipo"` // lembrete_sms, lembrete_final, alerta_admin, aviso_assinatura
	Nivel      int       `json:"nivel,omitempty"`
	Canal      string    `json:"canal"` // sms, email, push
	Mensagem   string    `json:"mensagem"`
	EnviadoEm  time.Time `json:"enviado_em"`
}
