package middleware

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"dose-mind/internal/assinatura"
	"dose-mind/internal/database"
)

// SubscriptionMiddleware verifica o acesso a features por plano
type SubscriptionMiddleware struct {
	db *database.DB
}

// NewSubscriptionMiddleware cria nova instância do middleware
func NewSubscriptionMiddleware(db *database.DB) *SubscriptionMiddleware {
	return &SubscriptionMiddleware{db: db}
}

// RequireFeature retorna um middleware que verifica se o plano do
// paciente da rota dá acesso à feature
func (sm *SubscriptionMiddleware) RequireFeature(feature string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
			if err != nil {
				http.Error(w, "ID de paciente inválido", http.StatusBadRequest)
				return
			}

			paciente, err := sm.db.GetPaciente(r.Context(), id)
			if err != nil {
				log.Printf("❌ Erro ao verificar feature '%s' para paciente %d: %v", feature, id, err)
				http.Error(w, "Erro ao verificar permissões", http.StatusInternalServerError)
				return
			}

			if !assinatura.TemFeature(paciente.TipoAssinatura, feature) {
				log.Printf("🚫 Acesso negado: paciente %d (plano %s) não tem feature '%s'", id, paciente.TipoAssinatura, feature)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   "Feature não disponível",
					"message": "Esta funcionalidade não está disponível no seu plano atual",
					"feature": feature,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
