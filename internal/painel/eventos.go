package painel

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dose-mind/pkg/models"
)

// Hub transmite os eventos de notificação do motor para os painéis de
// operação conectados. Canal de observabilidade, melhor esforço: cliente
// lento perde frames, o motor nunca bloqueia aqui.
type Hub struct {
	upgrader websocket.Upgrader
	clientes map[string]*cliente
	mu       sync.RWMutex
}

type cliente struct {
	conn   *websocket.Conn
	sendCh chan []byte
	mu     sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clientes: make(map[string]*cliente),
	}
}

// HandleWebSocket registra um painel e o mantém recebendo eventos até a
// conexão cair.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ Erro upgrade painel: %v", err)
		return
	}

	id := uuid.NewString()
	c := &cliente{
		conn:   conn,
		sendCh: make(chan []byte, 64),
	}

	h.mu.Lock()
	h.clientes[id] = c
	h.mu.Unlock()
	log.Printf("🖥️  Painel conectado: %s", id)

	go h.escritor(c)
	h.leitor(id, c)
}

func (h *Hub) leitor(id string, c *cliente) {
	defer h.removerCliente(id, c)

	for {
		// O painel não envia nada útil; o read serve para detectar o
		// fechamento da conexão.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) escritor(c *cliente) {
	for frame := range c.sendCh {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, frame)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (h *Hub) removerCliente(id string, c *cliente) {
	h.mu.Lock()
	delete(h.clientes, id)
	h.mu.Unlock()
	close(c.sendCh)
	c.conn.Close()
	log.Printf("🔌 Painel desconectado: %s", id)
}

// Publicar envia o evento a todos os painéis conectados.
func (h *Hub) Publicar(evento models.EventoNotificacao) {
	if evento.ID == "" {
		evento.ID = uuid.NewString()
	}
	if evento.EnviadoEm.IsZero() {
		evento.EnviadoEm = time.Now()
	}

	frame, err := json.Marshal(evento)
	if err != nil {
		log.Printf("❌ Erro ao serializar evento do painel: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clientes {
		select {
		case c.sendCh <- frame:
		default:
			// Buffer cheio: painel lento perde este frame.
		}
	}
}

func (h *Hub) ClientesConectados() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clientes)
}
