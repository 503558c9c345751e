package scheduler

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dose-mind/internal/config"
	"dose-mind/internal/database"
	"dose-mind/internal/sms"
	"dose-mind/pkg/models"
)

type envioGravado struct {
	para     string
	mensagem string
}

type smsFake struct {
	enviados []envioGravado
	falhar   bool
}

func (s *smsFake) EnviarSMS(ctx context.Context, para, mensagem string) (*sms.ResultadoEnvio, error) {
	if s.falhar {
		return nil, errors.New("twilio indisponível")
	}
	s.enviados = append(s.enviados, envioGravado{para: para, mensagem: mensagem})
	return &sms.ResultadoEnvio{Sucesso: true, MessageSID: "SM123", EnviadoEm: time.Now()}, nil
}

type emailFake struct {
	alertas []int64
}

func (e *emailFake) EnviarAlertaInatividade(adminEmail string, paciente *models.Paciente, doses []models.Dose) error {
	e.alertas = append(e.alertas, paciente.ID)
	return nil
}

var agoraTeste = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func setupScheduler(t *testing.T) (*Scheduler, sqlmock.Sqlmock, *smsFake, *emailFake) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	cfg := &config.Config{
		IntervaloVarreduraMin: 30,
		JanelaReativacaoHoras: 2,
		MaxEnviosSimultaneos:  4,
		TimeoutEnvioSegundos:  5,
		AdminEmail:            "admin@dosecerta.app",
	}

	smsSvc := &smsFake{}
	emailSvc := &emailFake{}
	s := NewScheduler(cfg, database.NewDBFromConnection(conn), smsSvc, emailSvc, nil, nil)
	s.agora = func() time.Time { return agoraTeste }
	return s, mock, smsSvc, emailSvc
}

var colunasPaciente = []string{
	"id", "nome", "telefone", "email", "device_token", "papel", "ativo", "verificado", "excluido_em",
	"primeira_dose_registrada", "ciclo_lembrete_sms", "tentativas_lembrete",
	"ultima_dose_em", "ultimo_lembrete_em", "proximo_lembrete_em", "sms_boas_vindas_em",
	"admin_notificado_em", "ultima_ativacao_em", "estado_ativo_anterior",
	"tipo_assinatura", "assinatura_expira_em", "motivo_desativacao", "desativado_em",
	"criado_em", "atualizado_em",
}

// sqlmock só aceita driver.Values nas linhas; ponteiros viram valor ou
// NULL aqui.
func valorTempo(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func valorBool(b *bool) interface{} {
	if b == nil {
		return nil
	}
	return *b
}

func linhaPaciente(p *models.Paciente) *sqlmock.Rows {
	return sqlmock.NewRows(colunasPaciente).AddRow(
		p.ID, p.Nome, p.Telefone, p.Email, p.DeviceToken, "paciente", p.Ativo, p.Verificado, valorTempo(p.ExcluidoEm),
		p.PrimeiraDoseRegistrada, p.CicloLembreteSMS, p.TentativasLembrete,
		valorTempo(p.UltimaDoseEm), valorTempo(p.UltimoLembreteEm), valorTempo(p.ProximoLembreteEm), valorTempo(p.SMSBoasVindasEm),
		valorTempo(p.AdminNotificadoEm), valorTempo(p.UltimaAtivacaoEm), valorBool(p.EstadoAtivoAnterior),
		p.TipoAssinatura, valorTempo(p.AssinaturaExpiraEm), nil, nil,
		agoraTeste.Add(-30*24*time.Hour), agoraTeste.Add(-time.Hour),
	)
}

func esperarReleitura(mock sqlmock.Sqlmock, p *models.Paciente) {
	mock.ExpectQuery(`SELECT(.|\n)+FROM pacientes WHERE id = \$1`).
		WithArgs(p.ID).
		WillReturnRows(linhaPaciente(p))
}

func esperarOraculo(mock sqlmock.Sqlmock, pacienteID int64, desde time.Time, dosado bool) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM doses WHERE paciente_id = $1 AND aplicada_em >= $2)`)).
		WithArgs(pacienteID, desde).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(dosado))
}

func pacienteAtivoAtrasado(tentativas int, ultimaDose time.Time) *models.Paciente {
	d := ultimaDose
	return &models.Paciente{
		ID:                     7,
		Nome:                   "João",
		Telefone:               "+5511999990000",
		Ativo:                  true,
		Verificado:             true,
		PrimeiraDoseRegistrada: true,
		CicloLembreteSMS:       models.CicloUsuarioAtivo,
		TentativasLembrete:     tentativas,
		UltimaDoseEm:           &d,
	}
}

func TestProcessarPacientePrimeiroAvisoEnviaEPersiste(t *testing.T) {
	s, mock, smsSvc, _ := setupScheduler(t)

	ultimaDose := agoraTeste.Add(-24 * time.Hour)
	p := pacienteAtivoAtrasado(0, ultimaDose)

	esperarReleitura(mock, p)
	esperarOraculo(mock, p.ID, ultimaDose.Add(23*time.Hour+30*time.Minute), false)
	mock.ExpectExec(`UPDATE pacientes SET proximo_lembrete_em = \$1, tentativas_lembrete = \$2, ultimo_lembrete_em = \$3`).
		WithArgs(ultimaDose.Add(24*time.Hour+30*time.Minute), 1, agoraTeste, p.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.ProcessarPaciente(context.Background(), p.ID)

	require.Len(t, smsSvc.enviados, 1)
	assert.Equal(t, "+5511999990000", smsSvc.enviados[0].para)
	assert.Contains(t, smsSvc.enviados[0].mensagem, "João")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessarPacienteDoseNoMarcoNaoEnvia(t *testing.T) {
	s, mock, smsSvc, _ := setupScheduler(t)

	ultimaDose := agoraTeste.Add(-24 * time.Hour)
	p := pacienteAtivoAtrasado(0, ultimaDose)

	esperarReleitura(mock, p)
	esperarOraculo(mock, p.ID, ultimaDose.Add(23*time.Hour+30*time.Minute), true)

	s.ProcessarPaciente(context.Background(), p.ID)

	assert.Empty(t, smsSvc.enviados)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessarPacienteFalhaDeEnvioNaoAvancaEstado(t *testing.T) {
	s, mock, smsSvc, _ := setupScheduler(t)
	smsSvc.falhar = true

	ultimaDose := agoraTeste.Add(-24 * time.Hour)
	p := pacienteAtivoAtrasado(0, ultimaDose)

	esperarReleitura(mock, p)
	esperarOraculo(mock, p.ID, ultimaDose.Add(23*time.Hour+30*time.Minute), false)
	// Nenhum UPDATE esperado: envio falhou, a transição fica para a
	// próxima varredura.

	s.ProcessarPaciente(context.Background(), p.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessarPacienteSemTelefoneNaoAvanca(t *testing.T) {
	s, mock, smsSvc, _ := setupScheduler(t)

	ultimaDose := agoraTeste.Add(-24 * time.Hour)
	p := pacienteAtivoAtrasado(0, ultimaDose)
	p.Telefone = ""

	esperarReleitura(mock, p)
	esperarOraculo(mock, p.ID, ultimaDose.Add(23*time.Hour+30*time.Minute), false)

	s.ProcessarPaciente(context.Background(), p.ID)

	assert.Empty(t, smsSvc.enviados)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessarPacienteInelegivelAposReleitura(t *testing.T) {
	// A linha da varredura pode estar velha: se a releitura mostra conta
	// desativada, nada acontece.
	s, mock, smsSvc, _ := setupScheduler(t)

	ultimaDose := agoraTeste.Add(-24 * time.Hour)
	p := pacienteAtivoAtrasado(0, ultimaDose)
	p.Ativo = false

	esperarReleitura(mock, p)

	s.ProcessarPaciente(context.Background(), p.ID)

	assert.Empty(t, smsSvc.enviados)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessarPacienteCicloAtivoSemBaseDosePula(t *testing.T) {
	s, mock, smsSvc, _ := setupScheduler(t)

	p := pacienteAtivoAtrasado(0, agoraTeste)
	p.UltimaDoseEm = nil

	esperarReleitura(mock, p)

	s.ProcessarPaciente(context.Background(), p.ID)

	assert.Empty(t, smsSvc.enviados)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessarPacienteAlertaAdmin(t *testing.T) {
	s, mock, smsSvc, emailSvc := setupScheduler(t)

	ultimaDose := agoraTeste.Add(-72 * time.Hour)
	p := pacienteAtivoAtrasado(3, ultimaDose)
	p.CicloLembreteSMS = models.CicloUsuarioInativo

	esperarReleitura(mock, p)
	mock.ExpectQuery(`SELECT id, paciente_id, tipo, aplicada_em, criado_em`).
		WithArgs(p.ID, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "paciente_id", "tipo", "aplicada_em", "criado_em"}).
			AddRow(int64(1), p.ID, models.DoseBasal, ultimaDose, ultimaDose))
	mock.ExpectExec(`UPDATE pacientes SET admin_notificado_em = \$1, ciclo_lembrete_sms = \$2`).
		WithArgs(agoraTeste, models.CicloAdminNotificado, p.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.ProcessarPaciente(context.Background(), p.ID)

	assert.Equal(t, []int64{p.ID}, emailSvc.alertas)
	assert.Empty(t, smsSvc.enviados)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessarLotePacienteEmDoisConjuntosProcessaUmaVez(t *testing.T) {
	// Um paciente recém-reativado ainda em novo_usuario aparece tanto na
	// varredura de reativação quanto na do próprio ciclo; o despacho tem
	// que colapsar as duas entradas num único processamento.
	s, mock, smsSvc, _ := setupScheduler(t)

	ativacao := agoraTeste.Add(-30 * time.Minute)
	anterior := false
	p := &models.Paciente{
		ID:                  42,
		Nome:                "Bia",
		Telefone:            "+5511977770000",
		Ativo:               true,
		Verificado:          true,
		CicloLembreteSMS:    models.CicloNovoUsuario,
		UltimaAtivacaoEm:    &ativacao,
		EstadoAtivoAnterior: &anterior,
	}

	esperarReleitura(mock, p)
	mock.ExpectExec(`UPDATE pacientes SET admin_notificado_em = \$1`).
		WithArgs(nil, models.CicloNovoUsuario, true, false, nil, agoraTeste, 0, nil, p.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.processarLote(context.Background(), []models.Paciente{*p, *p})

	require.Len(t, smsSvc.enviados, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessarPacienteBoasVindasPendenteEnviaEAncora(t *testing.T) {
	s, mock, smsSvc, _ := setupScheduler(t)

	p := &models.Paciente{
		ID:               11,
		Nome:             "Carla",
		Telefone:         "+5511966660000",
		Ativo:            true,
		Verificado:       true,
		CicloLembreteSMS: models.CicloNovoUsuario,
	}

	esperarReleitura(mock, p)
	mock.ExpectExec(`UPDATE pacientes SET sms_boas_vindas_em = \$1`).
		WithArgs(agoraTeste, p.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.ProcessarPaciente(context.Background(), p.ID)

	require.Len(t, smsSvc.enviados, 1)
	assert.Contains(t, smsSvc.enviados[0].mensagem, "Bem-vindo")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessarPacienteBoasVindasFalhaNaoGravaAncora(t *testing.T) {
	// Envio falhou: a âncora fica nula e a mesma retentativa volta na
	// próxima varredura.
	s, mock, smsSvc, _ := setupScheduler(t)
	smsSvc.falhar = true

	p := &models.Paciente{
		ID:               11,
		Nome:             "Carla",
		Telefone:         "+5511966660000",
		Ativo:            true,
		Verificado:       true,
		CicloLembreteSMS: models.CicloNovoUsuario,
	}

	esperarReleitura(mock, p)

	s.ProcessarPaciente(context.Background(), p.ID)

	assert.Empty(t, smsSvc.enviados)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessarPacienteReativacaoReiniciaCiclo(t *testing.T) {
	s, mock, smsSvc, _ := setupScheduler(t)

	ativacao := agoraTeste.Add(-30 * time.Minute)
	anterior := false
	p := &models.Paciente{
		ID:                  9,
		Nome:                "Ana",
		Telefone:            "+5511988880000",
		Ativo:               true,
		Verificado:          true,
		CicloLembreteSMS:    models.CicloAdminNotificado,
		TentativasLembrete:  3,
		UltimaAtivacaoEm:    &ativacao,
		EstadoAtivoAnterior: &anterior,
	}

	esperarReleitura(mock, p)
	mock.ExpectExec(`UPDATE pacientes SET admin_notificado_em = \$1, ciclo_lembrete_sms = \$2, estado_ativo_anterior = \$3`).
		WithArgs(nil, models.CicloNovoUsuario, true, false, nil, agoraTeste, 0, nil, p.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.ProcessarPaciente(context.Background(), p.ID)

	// Boas-vindas saem depois do reinício persistido.
	require.Len(t, smsSvc.enviados, 1)
	assert.Contains(t, smsSvc.enviados[0].mensagem, "de volta")
	require.NoError(t, mock.ExpectationsWereMet())
}
