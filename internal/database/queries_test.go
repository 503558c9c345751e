package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewDBFromConnection(conn), mock
}

func TestAtualizarCamposOrdenaColunas(t *testing.T) {
	db, mock := setupDB(t)

	agora := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// As colunas saem em ordem alfabética, independente da ordem do mapa:
	// a query gerada é estável e os placeholders são previsíveis.
	mock.ExpectExec(`UPDATE pacientes SET tentativas_lembrete = \$1, ultimo_lembrete_em = \$2, atualizado_em = NOW\(\) WHERE id = \$3`).
		WithArgs(1, agora, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.AtualizarCampos(context.Background(), 7, map[string]interface{}{
		"ultimo_lembrete_em":  agora,
		"tentativas_lembrete": 1,
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAtualizarCamposPacienteInexistente(t *testing.T) {
	db, mock := setupDB(t)

	mock.ExpectExec(`UPDATE pacientes`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.AtualizarCampos(context.Background(), 99, map[string]interface{}{"tentativas_lembrete": 1})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "não encontrado")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAtualizarCamposVazioNaoTocaOBanco(t *testing.T) {
	db, mock := setupDB(t)

	require.NoError(t, db.AtualizarCampos(context.Background(), 7, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTemDoseDesde(t *testing.T) {
	db, mock := setupDB(t)

	desde := time.Date(2026, 3, 9, 12, 30, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(7), desde).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	existe, err := db.TemDoseDesde(context.Background(), 7, desde)

	require.NoError(t, err)
	assert.True(t, existe)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDesativarPacienteGravaMotivo(t *testing.T) {
	db, mock := setupDB(t)

	mock.ExpectExec(`UPDATE pacientes`).
		WithArgs(int64(7), "Assinatura expirada").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.DesativarPaciente(context.Background(), 7, "Assinatura expirada"))
	require.NoError(t, mock.ExpectationsWereMet())
}
