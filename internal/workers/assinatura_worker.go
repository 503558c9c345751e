package workers

import (
	"context"
	"sync"
	"time"

	"dose-mind/internal/assinatura"
)

// AssinaturaWorker dispara a verificação diária de assinaturas. O tick é
// horário, mas a varredura só roda na hora configurada e no máximo uma
// vez por dia. Reexecução após restart no mesmo dia é inócua: os avisos
// são por igualdade de limiar e a desativação é idempotente.
type AssinaturaWorker struct {
	service *assinatura.Service
	hora    int

	mu              sync.Mutex
	ultimoDiaRodado string

	agora func() time.Time
}

func NewAssinaturaWorker(service *assinatura.Service, horaExecucao int) *AssinaturaWorker {
	return &AssinaturaWorker{
		service: service,
		hora:    horaExecucao,
		agora:   time.Now,
	}
}

func (w *AssinaturaWorker) Name() string {
	return "verificacao-assinaturas"
}

func (w *AssinaturaWorker) Interval() time.Duration {
	return time.Hour
}

func (w *AssinaturaWorker) Run(ctx context.Context) error {
	agora := w.agora()
	if agora.Hour() != w.hora {
		return nil
	}

	dia := agora.Format("2006-01-02")

	w.mu.Lock()
	if w.ultimoDiaRodado == dia {
		w.mu.Unlock()
		return nil
	}
	w.ultimoDiaRodado = dia
	w.mu.Unlock()

	return w.service.VerificarAssinaturas(ctx, agora)
}
