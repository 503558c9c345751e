package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"dose-mind/pkg/models"
)

const colunasPaciente = `
	id, nome, telefone, email, device_token, papel, ativo, verificado, excluido_em,
	primeira_dose_registrada, ciclo_lembrete_sms, tentativas_lembrete,
	ultima_dose_em, ultimo_lembrete_em, proximo_lembrete_em, sms_boas_vindas_em,
	admin_notificado_em, ultima_ativacao_em, estado_ativo_anterior,
	tipo_assinatura, assinatura_expira_em, motivo_desativacao, desativado_em,
	criado_em, atualizado_em`

// Filtro comum a todas as varreduras: só paciente ativo, verificado e
// não excluído entra no motor.
const filtroElegivel = `papel = 'paciente' AND ativo = true AND verificado = true AND excluido_em IS NULL`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPaciente(row scanner) (*models.Paciente, error) {
	var p models.Paciente
	var excluidoEm, ultimaDose, ultimoLembrete, proximoLembrete sql.NullTime
	var boasVindas, adminNotificado, ultimaAtivacao sql.NullTime
	var assinaturaExpira, desativadoEm sql.NullTime
	var estadoAnterior sql.NullBool
	var telefone, email, deviceToken, tipoAssinatura, motivo sql.NullString

	err := row.Scan(
		&p.ID, &p.Nome, &telefone, &email, &deviceToken, &p.Papel, &p.Ativo, &p.Verificado, &excluidoEm,
		&p.PrimeiraDoseRegistrada, &p.CicloLembreteSMS, &p.TentativasLembrete,
		&ultimaDose, &ultimoLembrete, &proximoLembrete, &boasVindas,
		&adminNotificado, &ultimaAtivacao, &estadoAnterior,
		&tipoAssinatura, &assinaturaExpira, &motivo, &desativadoEm,
		&p.CriadoEm, &p.AtualizadoEm,
	)
	if err != nil {
		return nil, err
	}

	p.Telefone = telefone.String
	p.Email = email.String
	p.DeviceToken = deviceToken.String
	p.TipoAssinatura = tipoAssinatura.String
	p.MotivoDesativacao = motivo.String
	p.ExcluidoEm = tempoOuNil(excluidoEm)
	p.UltimaDoseEm = tempoOuNil(ultimaDose)
	p.UltimoLembreteEm = tempoOuNil(ultimoLembrete)
	p.ProximoLembreteEm = tempoOuNil(proximoLembrete)
	p.SMSBoasVindasEm = tempoOuNil(boasVindas)
	p.AdminNotificadoEm = tempoOuNil(adminNotificado)
	p.UltimaAtivacaoEm = tempoOuNil(ultimaAtivacao)
	p.AssinaturaExpiraEm = tempoOuNil(assinaturaExpira)
	p.DesativadoEm = tempoOuNil(desativadoEm)
	if estadoAnterior.Valid {
		p.EstadoAtivoAnterior = &estadoAnterior.Bool
	}

	return &p, nil
}

func tempoOuNil(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	valor := t.Time
	return &valor
}

func (db *DB) GetPaciente(ctx context.Context, id int64) (*models.Paciente, error) {
	query := fmt.Sprintf(`SELECT %s FROM pacientes WHERE id = $1`, colunasPaciente)

	p, err := scanPaciente(db.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("paciente não encontrado: %d", id)
		}
		return nil, fmt.Errorf("erro ao consultar paciente: %w", err)
	}

	return p, nil
}

// CriarPaciente registra um paciente novo já com o estado de lembrete
// padrão (ciclo novo_usuario, zero tentativas).
func (db *DB) CriarPaciente(ctx context.Context, p *models.Paciente) (int64, error) {
	query := `
		INSERT INTO pacientes (
			nome, telefone, email, device_token, papel, ativo, verificado,
			ciclo_lembrete_sms, tentativas_lembrete, primeira_dose_registrada,
			tipo_assinatura, assinatura_expira_em,
			criado_em, atualizado_em
		) VALUES ($1, $2, $3, $4, 'paciente', $5, $6, $7, 0, false, $8, $9, NOW(), NOW())
		RETURNING id
	`

	var id int64
	err := db.conn.QueryRowContext(ctx, query,
		p.Nome, p.Telefone, p.Email, p.DeviceToken, p.Ativo, p.Verificado,
		models.CicloNovoUsuario, p.TipoAssinatura, p.AssinaturaExpiraEm,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("erro ao criar paciente: %w", err)
	}

	return id, nil
}

// AtualizarCampos aplica uma atualização parcial atômica (um único
// UPDATE) dos campos de estado de um paciente. As colunas vêm sempre de
// mapas internos do motor, nunca de entrada do usuário.
func (db *DB) AtualizarCampos(ctx context.Context, pacienteID int64, campos map[string]interface{}) error {
	if len(campos) == 0 {
		return nil
	}

	colunas := make([]string, 0, len(campos))
	for coluna := range campos {
		colunas = append(colunas, coluna)
	}
	sort.Strings(colunas)

	sets := make([]string, 0, len(colunas)+1)
	args := make([]interface{}, 0, len(colunas)+1)
	for i, coluna := range colunas {
		sets = append(sets, fmt.Sprintf("%s = $%d", coluna, i+1))
		args = append(args, campos[coluna])
	}
	sets = append(sets, "atualizado_em = NOW()")
	args = append(args, pacienteID)

	query := fmt.Sprintf("UPDATE pacientes SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("erro ao atualizar paciente %d: %w", pacienteID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("erro ao ler linhas afetadas: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("paciente não encontrado: %d", pacienteID)
	}

	return nil
}

// TemDoseDesde é o oráculo da máquina de estados: existe alguma dose do
// paciente com aplicada_em >= desde?
func (db *DB) TemDoseDesde(ctx context.Context, pacienteID int64, desde time.Time) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM doses WHERE paciente_id = $1 AND aplicada_em >= $2)`

	var existe bool
	if err := db.conn.QueryRowContext(ctx, query, pacienteID, desde).Scan(&existe); err != nil {
		return false, fmt.Errorf("erro ao consultar doses: %w", err)
	}

	return existe, nil
}

func (db *DB) RegistrarDose(ctx context.Context, pacienteID int64, tipo string, aplicadaEm time.Time) (int64, error) {
	query := `
		INSERT INTO doses (paciente_id, tipo, aplicada_em, criado_em)
		VALUES ($1, $2, $3, NOW())
		RETURNING id
	`

	var id int64
	err := db.conn.QueryRowContext(ctx, query, pacienteID, tipo, aplicadaEm).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("erro ao registrar dose: %w", err)
	}

	return id, nil
}

func (db *DB) UltimasDoses(ctx context.Context, pacienteID int64, limite int) ([]models.Dose, error) {
	query := `
		SELECT id, paciente_id, tipo, aplicada_em, criado_em
		FROM doses
		WHERE paciente_id = $1
		ORDER BY aplicada_em DESC
		LIMIT $2
	`

	rows, err := db.conn.QueryContext(ctx, query, pacienteID, limite)
	if err != nil {
		return nil, fmt.Errorf("erro ao consultar doses: %w", err)
	}
	defer rows.Close()

	var doses []models.Dose
	for rows.Next() {
		var d models.Dose
		if err := rows.Scan(&d.ID, &d.PacienteID, &d.Tipo, &d.AplicadaEm, &d.CriadoEm); err != nil {
			return nil, fmt.Errorf("erro ao ler dose: %w", err)
		}
		doses = append(doses, d)
	}

	return doses, rows.Err()
}

// --- Varreduras do motor de lembretes ---
// Cinco conjuntos: reativação, boas-vindas pendentes, novo_usuario,
// usuario_ativo e inativos pendentes de alerta ao admin. Os ciclos
// particionam os três últimos, mas a varredura de reativação cruza
// qualquer ciclo; o motor deduplica por paciente antes de despachar. A
// ordem do resultado é irrelevante; cada paciente é relido antes de
// decidir.

func (db *DB) BuscarCandidatosReativacao(ctx context.Context, janela time.Duration) ([]models.Paciente, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM pacientes
		WHERE %s
		  AND estado_ativo_anterior = false
		  AND ultima_ativacao_em IS NOT NULL
		  AND ultima_ativacao_em > NOW() - $1::interval
		  AND (sms_boas_vindas_em IS NULL OR ultima_ativacao_em > sms_boas_vindas_em)
	`, colunasPaciente, filtroElegivel)

	return db.buscarPacientes(ctx, query, intervaloPG(janela))
}

// BuscarPendentesBoasVindas lista pacientes em novo_usuario cujo SMS de
// boas-vindas nunca confirmou (âncora nula). Sem telefone não há o que
// retentar, então esses ficam de fora.
func (db *DB) BuscarPendentesBoasVindas(ctx context.Context) ([]models.Paciente, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM pacientes
		WHERE %s
		  AND ciclo_lembrete_sms = $1
		  AND sms_boas_vindas_em IS NULL
		  AND telefone IS NOT NULL AND telefone <> ''
	`, colunasPaciente, filtroElegivel)

	return db.buscarPacientes(ctx, query, models.CicloNovoUsuario)
}

func (db *DB) BuscarCandidatosNovoUsuario(ctx context.Context) ([]models.Paciente, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM pacientes
		WHERE %s
		  AND ciclo_lembrete_sms = $1
		  AND tentativas_lembrete < 2
		  AND sms_boas_vindas_em IS NOT NULL
	`, colunasPaciente, filtroElegivel)

	return db.buscarPacientes(ctx, query, models.CicloNovoUsuario)
}

func (db *DB) BuscarCandidatosUsuarioAtivo(ctx context.Context) ([]models.Paciente, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM pacientes
		WHERE %s
		  AND ciclo_lembrete_sms = $1
		  AND tentativas_lembrete < 3
		  AND (proximo_lembrete_em IS NULL OR proximo_lembrete_em <= NOW())
	`, colunasPaciente, filtroElegivel)

	return db.buscarPacientes(ctx, query, models.CicloUsuarioAtivo)
}

func (db *DB) BuscarPendentesAlertaAdmin(ctx context.Context) ([]models.Paciente, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM pacientes
		WHERE %s
		  AND ciclo_lembrete_sms = $1
		  AND tentativas_lembrete = 3
		  AND admin_notificado_em IS NULL
	`, colunasPaciente, filtroElegivel)

	return db.buscarPacientes(ctx, query, models.CicloUsuarioInativo)
}

// BuscarAssinaturasAtivas lista os pacientes elegíveis com data de
// expiração de assinatura, para o job diário.
func (db *DB) BuscarAssinaturasAtivas(ctx context.Context) ([]models.Paciente, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM pacientes
		WHERE %s
		  AND assinatura_expira_em IS NOT NULL
	`, colunasPaciente, filtroElegivel)

	return db.buscarPacientes(ctx, query)
}

func (db *DB) buscarPacientes(ctx context.Context, query string, args ...interface{}) ([]models.Paciente, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("erro ao consultar pacientes: %w", err)
	}
	defer rows.Close()

	var pacientes []models.Paciente
	for rows.Next() {
		p, err := scanPaciente(rows)
		if err != nil {
			return nil, fmt.Errorf("erro ao ler paciente: %w", err)
		}
		pacientes = append(pacientes, *p)
	}

	return pacientes, rows.Err()
}

func intervaloPG(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d.Seconds()))
}

// --- Ativação / desativação ---

// AtivarPaciente liga a conta e grava a âncora da borda de reativação.
// estado_ativo_anterior guarda o estado antes da ativação; a máquina de
// estados o promove para true quando trata a borda.
func (db *DB) AtivarPaciente(ctx context.Context, id int64) error {
	query := `
		UPDATE pacientes
		SET estado_ativo_anterior = ativo,
		    ativo = true,
		    motivo_desativacao = NULL,
		    desativado_em = NULL,
		    ultima_ativacao_em = NOW(),
		    atualizado_em = NOW()
		WHERE id = $1 AND excluido_em IS NULL
	`

	result, err := db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("erro ao ativar paciente %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("paciente não encontrado: %d", id)
	}

	return nil
}

func (db *DB) DesativarPaciente(ctx context.Context, id int64, motivo string) error {
	query := `
		UPDATE pacientes
		SET estado_ativo_anterior = false,
		    ativo = false,
		    motivo_desativacao = $2,
		    desativado_em = NOW(),
		    atualizado_em = NOW()
		WHERE id = $1 AND excluido_em IS NULL
	`

	result, err := db.conn.ExecContext(ctx, query, id, motivo)
	if err != nil {
		return fmt.Errorf("erro ao desativar paciente %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("paciente não encontrado: %d", id)
	}

	return nil
}

// --- Reconciliação ---

// BaseDesatualizada aponta um paciente cuja cópia de ultima_dose_em
// ficou para trás da tabela de doses (hook perdido).
type BaseDesatualizada struct {
	PacienteID   int64
	UltimaDoseEm time.Time
}

// BuscarBasesDesatualizadas encontra pacientes cuja dose mais recente na
// tabela doses (fonte da verdade) é mais nova que o campo cacheado.
func (db *DB) BuscarBasesDesatualizadas(ctx context.Context) ([]BaseDesatualizada, error) {
	query := `
		SELECT p.id, MAX(d.aplicada_em)
		FROM pacientes p
		JOIN doses d ON d.paciente_id = p.id
		WHERE p.excluido_em IS NULL
		GROUP BY p.id, p.ultima_dose_em
		HAVING p.ultima_dose_em IS NULL OR MAX(d.aplicada_em) > p.ultima_dose_em
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("erro ao consultar bases desatualizadas: %w", err)
	}
	defer rows.Close()

	var bases []BaseDesatualizada
	for rows.Next() {
		var b BaseDesatualizada
		if err := rows.Scan(&b.PacienteID, &b.UltimaDoseEm); err != nil {
			return nil, fmt.Errorf("erro ao ler base desatualizada: %w", err)
		}
		bases = append(bases, b)
	}

	return bases, rows.Err()
}
