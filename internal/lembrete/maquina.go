package lembrete

import (
	"errors"
	"time"

	"dose-mind/pkg/models"
)

// Offsets da escada de lembretes. Todos os gatilhos são "pelo menos"
// (>=): uma varredura atrasada dispara a transição com atraso, nunca
// a perde.
const (
	AtrasoBoasVindas6h     = 6 * time.Hour
	AtrasoBoasVindas24h    = 24 * time.Hour
	AtrasoPrimeiroAviso    = 23*time.Hour + 30*time.Minute
	AtrasoSegundoAviso     = 24*time.Hour + 30*time.Minute
	AtrasoAvisoFinal       = AtrasoSegundoAviso + 24*time.Hour
	JanelaReativacaoPadrao = 2 * time.Hour
)

// Acao é o que o motor deve fazer com um paciente nesta varredura.
type Acao int

const (
	AcaoNenhuma Acao = iota
	AcaoEnviarBoasVindas
	AcaoLembreteNovoUsuario
	AcaoLembreteUsuarioAtivo
	AcaoLembreteFinal
	AcaoNotificarAdmin
	AcaoReiniciarCiclo
)

func (a Acao) String() string {
	switch a {
	case AcaoEnviarBoasVindas:
		return "enviar_boas_vindas"
	case AcaoLembreteNovoUsuario:
		return "lembrete_novo_usuario"
	case AcaoLembreteUsuarioAtivo:
		return "lembrete_usuario_ativo"
	case AcaoLembreteFinal:
		return "lembrete_final"
	case AcaoNotificarAdmin:
		return "notificar_admin"
	case AcaoReiniciarCiclo:
		return "reiniciar_ciclo"
	}
	return "nenhuma"
}

// Decisao carrega a ação escolhida e o conjunto completo de campos a
// persistir (coluna -> valor) caso o envio seja confirmado. O estado só
// avança depois que o canal de entrega confirma; uma falha de envio
// deixa os campos intactos e a mesma transição é retentada na próxima
// varredura.
type Decisao struct {
	Acao      Acao
	Tentativa int
	Campos    map[string]interface{}
}

// OraculoDose responde se existe alguma dose registrada com
// aplicada_em >= desde. O motor injeta a consulta; a máquina de estados
// nunca toca o banco.
type OraculoDose func(desde time.Time) (bool, error)

// ErrSemBaseDose indica ciclo usuario_ativo sem ultima_dose_em — estado
// impossível se o hook de dose foi honrado. O chamador pula o paciente e
// registra um aviso; o worker de reconciliação corrige a base depois.
var ErrSemBaseDose = errors.New("ciclo usuario_ativo sem ultima_dose_em")

// Decide é a máquina de estados dos lembretes: função pura sobre o
// estado persistido do paciente, o relógio injetado e o oráculo de
// doses. No máximo uma transição por varredura; as tentativas travam
// qual ramo é elegível, então não há disparo duplo.
func Decide(p *models.Paciente, agora time.Time, janelaReativacao time.Duration, temDoseDesde OraculoDose) (Decisao, error) {
	if janelaReativacao <= 0 {
		janelaReativacao = JanelaReativacaoPadrao
	}

	// Reativação tem precedência sobre qualquer ciclo: a borda
	// false->true dentro da janela de recência reinicia tudo.
	if reativado(p, agora, janelaReativacao) {
		return Decisao{
			Acao: AcaoReiniciarCiclo,
			Campos: map[string]interface{}{
				"ciclo_lembrete_sms":       models.CicloNovoUsuario,
				"primeira_dose_registrada": false,
				"tentativas_lembrete":      0,
				"ultimo_lembrete_em":       nil,
				"proximo_lembrete_em":      nil,
				"sms_boas_vindas_em":       agora,
				"admin_notificado_em":      nil,
				"estado_ativo_anterior":    true,
			},
		}, nil
	}

	switch p.CicloLembreteSMS {
	case models.CicloNovoUsuario:
		return decideNovoUsuario(p, agora, temDoseDesde)
	case models.CicloUsuarioAtivo:
		return decideUsuarioAtivo(p, agora, temDoseDesde)
	case models.CicloUsuarioInativo:
		if p.TentativasLembrete == 3 && p.AdminNotificadoEm == nil {
			return Decisao{
				Acao: AcaoNotificarAdmin,
				Campos: map[string]interface{}{
					"ciclo_lembrete_sms":  models.CicloAdminNotificado,
					"admin_notificado_em": agora,
				},
			}, nil
		}
	}

	return Decisao{Acao: AcaoNenhuma}, nil
}

// CamposHookDose devolve o conjunto de campos que o hook de registro de
// dose aplica atomicamente: a variante de reinício que coloca o paciente
// no ciclo ativo com a nova base de tempo.
func CamposHookDose(aplicadaEm time.Time) map[string]interface{} {
	return map[string]interface{}{
		"ultima_dose_em":           aplicadaEm,
		"proximo_lembrete_em":      aplicadaEm.Add(AtrasoPrimeiroAviso),
		"tentativas_lembrete":      0,
		"ultimo_lembrete_em":       nil,
		"primeira_dose_registrada": true,
		"ciclo_lembrete_sms":       models.CicloUsuarioAtivo,
	}
}

func reativado(p *models.Paciente, agora time.Time, janela time.Duration) bool {
	if !p.Ativo || p.EstadoAtivoAnterior == nil || *p.EstadoAtivoAnterior {
		return false
	}
	if p.UltimaAtivacaoEm == nil || agora.Sub(*p.UltimaAtivacaoEm) > janela {
		return false
	}
	// Evita reprocessar a mesma borda a cada varredura: depois do
	// primeiro tratamento sms_boas_vindas_em fica à frente da ativação.
	if p.SMSBoasVindasEm != nil && !p.UltimaAtivacaoEm.After(*p.SMSBoasVindasEm) {
		return false
	}
	return true
}

func decideNovoUsuario(p *models.Paciente, agora time.Time, temDoseDesde OraculoDose) (Decisao, error) {
	if p.SMSBoasVindasEm == nil {
		// Boas-vindas nunca confirmou (falha no cadastro). Retenta o
		// envio; a âncora só é gravada quando ele sai, e a escada de
		// lembretes passa a medir a partir dela.
		return Decisao{
			Acao: AcaoEnviarBoasVindas,
			Campos: map[string]interface{}{
				"sms_boas_vindas_em": agora,
			},
		}, nil
	}
	boasVindas := *p.SMSBoasVindasEm

	switch p.TentativasLembrete {
	case 0:
		if agora.Before(boasVindas.Add(AtrasoBoasVindas6h)) {
			return Decisao{Acao: AcaoNenhuma}, nil
		}
		dosado, err := temDoseDesde(boasVindas)
		if err != nil || dosado {
			return Decisao{Acao: AcaoNenhuma}, err
		}
		return Decisao{
			Acao:      AcaoLembreteNovoUsuario,
			Tentativa: 1,
			Campos: map[string]interface{}{
				"tentativas_lembrete": 1,
				"ultimo_lembrete_em":  agora,
			},
		}, nil

	case 1:
		if agora.Before(boasVindas.Add(AtrasoBoasVindas24h)) {
			return Decisao{Acao: AcaoNenhuma}, nil
		}
		dosado, err := temDoseDesde(boasVindas.Add(AtrasoBoasVindas6h))
		if err != nil || dosado {
			return Decisao{Acao: AcaoNenhuma}, err
		}
		// Segundo e último lembrete de boas-vindas: o ciclo já sai
		// como usuario_inativo para não haver terceiro envio.
		return Decisao{
			Acao:      AcaoLembreteNovoUsuario,
			Tentativa: 2,
			Campos: map[string]interface{}{
				"ciclo_lembrete_sms":  models.CicloUsuarioInativo,
				"tentativas_lembrete": 2,
				"ultimo_lembrete_em":  agora,
			},
		}, nil
	}

	return Decisao{Acao: AcaoNenhuma}, nil
}

func decideUsuarioAtivo(p *models.Paciente, agora time.Time, temDoseDesde OraculoDose) (Decisao, error) {
	if p.UltimaDoseEm == nil {
		return Decisao{Acao: AcaoNenhuma}, ErrSemBaseDose
	}
	base := *p.UltimaDoseEm

	// O marco de cada degrau é o próprio horário-limite, não o horário
	// da varredura anterior: uma dose registrada entre duas varreduras
	// satisfaz a condição retroativamente.
	switch p.TentativasLembrete {
	case 0:
		marco := base.Add(AtrasoPrimeiroAviso)
		if agora.Before(marco) {
			return Decisao{Acao: AcaoNenhuma}, nil
		}
		dosado, err := temDoseDesde(marco)
		if err != nil || dosado {
			return Decisao{Acao: AcaoNenhuma}, err
		}
		return Decisao{
			Acao:      AcaoLembreteUsuarioAtivo,
			Tentativa: 1,
			Campos: map[string]interface{}{
				"tentativas_lembrete": 1,
				"ultimo_lembrete_em":  agora,
				"proximo_lembrete_em": base.Add(AtrasoSegundoAviso),
			},
		}, nil

	case 1:
		marco := base.Add(AtrasoSegundoAviso)
		if agora.Before(marco) {
			return Decisao{Acao: AcaoNenhuma}, nil
		}
		dosado, err := temDoseDesde(marco)
		if err != nil || dosado {
			return Decisao{Acao: AcaoNenhuma}, err
		}
		return Decisao{
			Acao:      AcaoLembreteUsuarioAtivo,
			Tentativa: 2,
			Campos: map[string]interface{}{
				"tentativas_lembrete": 2,
				"ultimo_lembrete_em":  agora,
				"proximo_lembrete_em": base.Add(AtrasoAvisoFinal),
			},
		}, nil

	case 2:
		marco := base.Add(AtrasoAvisoFinal)
		if agora.Before(marco) {
			return Decisao{Acao: AcaoNenhuma}, nil
		}
		dosado, err := temDoseDesde(marco)
		if err != nil || dosado {
			return Decisao{Acao: AcaoNenhuma}, err
		}
		return Decisao{
			Acao:      AcaoLembreteFinal,
			Tentativa: 3,
			Campos: map[string]interface{}{
				"ciclo_lembrete_sms":  models.CicloUsuarioInativo,
				"tentativas_lembrete": 3,
				"ultimo_lembrete_em":  agora,
				"proximo_lembrete_em": nil,
			},
		}, nil
	}

	return Decisao{Acao: AcaoNenhuma}, nil
}
