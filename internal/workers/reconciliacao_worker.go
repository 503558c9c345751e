package workers

import (
	"context"
	"log"
	"time"

	"dose-mind/internal/database"
	"dose-mind/internal/lembrete"
)

// ReconciliacaoWorker corrige pacientes cujo campo ultima_dose_em ficou
// para trás da tabela de doses (hook de dose perdido por falha parcial).
// A tabela de doses é a fonte da verdade; o worker reaplica o efeito do
// hook a partir da dose mais recente.
type ReconciliacaoWorker struct {
	db *database.DB
}

func NewReconciliacaoWorker(db *database.DB) *ReconciliacaoWorker {
	return &ReconciliacaoWorker{db: db}
}

func (w *ReconciliacaoWorker) Name() string {
	return "reconciliacao-doses"
}

func (w *ReconciliacaoWorker) Interval() time.Duration {
	return 6 * time.Hour
}

func (w *ReconciliacaoWorker) Run(ctx context.Context) error {
	bases, err := w.db.BuscarBasesDesatualizadas(ctx)
	if err != nil {
		return err
	}

	if len(bases) == 0 {
		return nil
	}

	log.Printf("🔧 Reconciliação: %d paciente(s) com base de dose desatualizada", len(bases))

	for _, b := range bases {
		campos := lembrete.CamposHookDose(b.UltimaDoseEm)
		if err := w.db.AtualizarCampos(ctx, b.PacienteID, campos); err != nil {
			log.Printf("❌ Erro ao reconciliar paciente %d: %v", b.PacienteID, err)
			continue
		}
		log.Printf("🔧 Paciente %d reconciliado (última dose %s)", b.PacienteID, b.UltimaDoseEm.Format(time.RFC3339))
	}

	return nil
}
