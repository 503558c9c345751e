package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"dose-mind/internal/assinatura"
	"dose-mind/internal/config"
	"dose-mind/internal/database"
	"dose-mind/internal/email"
	"dose-mind/internal/lembrete"
	"dose-mind/internal/middleware"
	"dose-mind/internal/painel"
	"dose-mind/internal/push"
	"dose-mind/internal/scheduler"
	"dose-mind/internal/sms"
	"dose-mind/internal/workers"
	"dose-mind/pkg/models"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
)

var (
	cfg           *config.Config
	db            *database.DB
	smsService    *sms.TwilioService
	emailService  *email.EmailService
	pushService   *push.FirebaseService
	hub           *painel.Hub
	motor         *scheduler.Scheduler
	workerManager *workers.WorkerManager
	startTime     time.Time
	serverLogs    []string
	logsMutex     sync.RWMutex
)

const maxLogs = 100

type logWriter struct{}

func (lw logWriter) Write(p []byte) (n int, err error) {
	logsMutex.Lock()
	defer logsMutex.Unlock()

	msg := string(p)
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}

	timestamp := time.Now().Format("15:04:05")
	logEntry := fmt.Sprintf("[%s] %s", timestamp, msg)

	serverLogs = append(serverLogs, logEntry)
	if len(serverLogs) > maxLogs {
		serverLogs = serverLogs[1:]
	}

	// Imprimir no console também
	fmt.Println(logEntry)

	return len(p), nil
}

func addServerLog(msg string) {
	log.Println(msg)
}

func main() {
	log.SetFlags(0)
	log.SetOutput(logWriter{})

	startTime = time.Now()
	addServerLog("🚀 Iniciando Servidor DoseCerta...")

	var err error
	cfg, err = config.Load()
	if err != nil {
		log.Fatalf("❌ Erro config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Configuração inválida: %v", err)
	}

	db, err = database.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Erro DB: %v", err)
	}
	defer db.Close()

	smsService, err = sms.NewTwilioService(cfg)
	if err != nil {
		addServerLog(fmt.Sprintf("⚠️ Aviso: Twilio indisponível: %v", err))
	} else {
		addServerLog("✅ Twilio inicializado")
	}

	emailService, err = email.NewEmailService(cfg)
	if err != nil {
		addServerLog(fmt.Sprintf("⚠️ Aviso: Email indisponível: %v", err))
	} else {
		addServerLog("✅ Email inicializado")
	}

	if cfg.EnablePushMirror && cfg.FirebaseCredentialsPath != "" {
		pushService, err = push.NewFirebaseService(cfg.FirebaseCredentialsPath)
		if err != nil {
			addServerLog(fmt.Sprintf("⚠️ Aviso: Falha ao carregar Firebase: %v", err))
		}
	}

	hub = painel.NewHub()

	// Serviços nulos entram como interface nil de verdade, nunca como
	// ponteiro nil embrulhado.
	var smsCanal scheduler.EnviadorSMS
	if smsService != nil {
		smsCanal = smsService
	}
	var emailCanal scheduler.EnviadorAlertaAdmin
	var avisosCanal assinatura.EnviadorAvisos
	if emailService != nil {
		emailCanal = emailService
		avisosCanal = emailService
	}
	var pushCanal scheduler.EnviadorPush
	if pushService != nil {
		pushCanal = pushService
	}

	motor = scheduler.NewScheduler(cfg, db, smsCanal, emailCanal, pushCanal, hub)
	go motor.Start(context.Background())
	addServerLog("✅ Motor de lembretes iniciado")

	assinaturaService := assinatura.NewService(db, avisosCanal, hub)

	workerManager = workers.NewWorkerManager()
	workerManager.RegisterWorker(workers.NewAssinaturaWorker(assinaturaService, cfg.HoraVerificacaoAssinatura))
	workerManager.RegisterWorker(workers.NewReconciliacaoWorker(db))
	workerManager.Start()
	defer workerManager.Stop()

	subscriptionMw := middleware.NewSubscriptionMiddleware(db)

	router := mux.NewRouter()
	router.HandleFunc("/ws/painel", hub.HandleWebSocket)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/pacientes", criarPacienteHandler).Methods("POST")
	api.HandleFunc("/pacientes/{id}/doses", listarDosesHandler).Methods("GET")
	api.HandleFunc("/pacientes/{id}/ativar", ativarPacienteHandler).Methods("POST")
	api.HandleFunc("/pacientes/{id}/desativar", desativarPacienteHandler).Methods("POST")
	api.HandleFunc("/doses", registrarDoseHandler).Methods("POST")
	api.HandleFunc("/admin/varredura", varreduraManualHandler).Methods("POST")
	api.HandleFunc("/stats", statsHandler).Methods("GET")
	api.HandleFunc("/health", healthCheckHandler).Methods("GET")
	api.HandleFunc("/logs", logsHandler).Methods("GET")

	exportar := api.PathPrefix("/pacientes/{id}/exportar").Subrouter()
	exportar.Use(subscriptionMw.RequireFeature("exportacao_dados"))
	exportar.HandleFunc("", exportarDosesHandler).Methods("GET")

	addServerLog(fmt.Sprintf("✅ Servidor pronto na porta %s", cfg.Port))
	log.Fatal(http.ListenAndServe(":"+cfg.Port, corsMiddleware(router)))
}

// --- API HANDLERS ---

type criarPacienteRequest struct {
	Nome               string     `json:"nome"`
	Telefone           string     `json:"telefone"`
	Email              string     `json:"email"`
	DeviceToken        string     `json:"device_token"`
	Verificado         bool       `json:"verificado"`
	TipoAssinatura     string     `json:"tipo_assinatura"`
	AssinaturaExpiraEm *time.Time `json:"assinatura_expira_em"`
}

// criarPacienteHandler registra o paciente e dispara o SMS de
// boas-vindas. A âncora sms_boas_vindas_em só é gravada quando o envio
// confirma; se ele falha aqui, a varredura de boas-vindas pendentes
// retenta a cada ciclo do motor.
func criarPacienteHandler(w http.ResponseWriter, r *http.Request) {
	var req criarPacienteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "JSON inválido", http.StatusBadRequest)
		return
	}
	if req.Nome == "" {
		http.Error(w, "Nome é obrigatório", http.StatusBadRequest)
		return
	}
	if req.TipoAssinatura == "" {
		req.TipoAssinatura = models.AssinaturaMensal
	}

	p := &models.Paciente{
		Nome:               req.Nome,
		Telefone:           req.Telefone,
		Email:              req.Email,
		DeviceToken:        req.DeviceToken,
		Ativo:              true,
		Verificado:         req.Verificado,
		TipoAssinatura:     req.TipoAssinatura,
		AssinaturaExpiraEm: req.AssinaturaExpiraEm,
	}

	id, err := db.CriarPaciente(r.Context(), p)
	if err != nil {
		log.Printf("❌ Erro ao criar paciente: %v", err)
		http.Error(w, "Erro ao criar paciente", http.StatusInternalServerError)
		return
	}

	boasVindasEnviadas := false
	if smsService != nil && req.Telefone != "" {
		mensagem := fmt.Sprintf("Bem-vindo(a) ao DoseCerta, %s! Registre sua primeira dose de insulina para começarmos o acompanhamento.", req.Nome)
		if _, err := smsService.EnviarSMS(r.Context(), req.Telefone, mensagem); err != nil {
			log.Printf("⚠️  SMS de boas-vindas não enviado (paciente %d): %v", id, err)
		} else {
			boasVindasEnviadas = true
			if err := db.AtualizarCampos(r.Context(), id, map[string]interface{}{"sms_boas_vindas_em": time.Now()}); err != nil {
				log.Printf("❌ Erro ao gravar sms_boas_vindas_em do paciente %d: %v", id, err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":                   id,
		"boas_vindas_enviadas": boasVindasEnviadas,
	})
}

type registrarDoseRequest struct {
	PacienteID int64      `json:"paciente_id"`
	Tipo       string     `json:"tipo"`
	AplicadaEm *time.Time `json:"aplicada_em"`
}

// registrarDoseHandler insere a dose e aplica o hook de estado do motor.
// O hook é melhor esforço: a dose nunca deixa de ser gravada por causa
// dele, e o worker de reconciliação corrige o estado mais tarde se o
// UPDATE falhar aqui.
func registrarDoseHandler(w http.ResponseWriter, r *http.Request) {
	var req registrarDoseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "JSON inválido", http.StatusBadRequest)
		return
	}
	if req.PacienteID == 0 {
		http.Error(w, "paciente_id é obrigatório", http.StatusBadRequest)
		return
	}
	if req.Tipo != models.DoseBasal && req.Tipo != models.DoseBolus {
		http.Error(w, "tipo deve ser 'basal' ou 'bolus'", http.StatusBadRequest)
		return
	}

	aplicadaEm := time.Now()
	if req.AplicadaEm != nil {
		aplicadaEm = *req.AplicadaEm
	}

	id, err := db.RegistrarDose(r.Context(), req.PacienteID, req.Tipo, aplicadaEm)
	if err != nil {
		log.Printf("❌ Erro ao registrar dose: %v", err)
		http.Error(w, "Erro ao registrar dose", http.StatusInternalServerError)
		return
	}

	if err := db.AtualizarCampos(r.Context(), req.PacienteID, lembrete.CamposHookDose(aplicadaEm)); err != nil {
		log.Printf("⚠️  Hook de dose não aplicado (paciente %d, dose %d): %v — reconciliação corrige depois",
			req.PacienteID, id, err)
	}

	hub.Publicar(models.EventoNotificacao{
		PacienteID: req.PacienteID,
		Tipo:       "dose_registrada",
		Canal:      "api",
		Mensagem:   fmt.Sprintf("Dose %s registrada", req.Tipo),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{"id": id})
}

func pacienteIDDaRota(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func listarDosesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pacienteIDDaRota(r)
	if err != nil {
		http.Error(w, "ID de paciente inválido", http.StatusBadRequest)
		return
	}

	limite := 50
	if v := r.URL.Query().Get("limite"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limite = n
		}
	}

	doses, err := db.UltimasDoses(r.Context(), id, limite)
	if err != nil {
		log.Printf("❌ Erro ao listar doses do paciente %d: %v", id, err)
		http.Error(w, "Erro ao listar doses", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"doses": doses})
}

// exportarDosesHandler é a exportação completa do histórico, disponível
// apenas no plano anual (feature exportacao_dados).
func exportarDosesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pacienteIDDaRota(r)
	if err != nil {
		http.Error(w, "ID de paciente inválido", http.StatusBadRequest)
		return
	}

	doses, err := db.UltimasDoses(r.Context(), id, 10000)
	if err != nil {
		log.Printf("❌ Erro ao exportar doses do paciente %d: %v", id, err)
		http.Error(w, "Erro ao exportar doses", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=doses-%d.json", id))
	json.NewEncoder(w).Encode(map[string]interface{}{
		"paciente_id":  id,
		"exportado_em": time.Now().Format(time.RFC3339),
		"doses":        doses,
	})
}

func ativarPacienteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pacienteIDDaRota(r)
	if err != nil {
		http.Error(w, "ID de paciente inválido", http.StatusBadRequest)
		return
	}

	if err := db.AtivarPaciente(r.Context(), id); err != nil {
		log.Printf("❌ Erro ao ativar paciente %d: %v", id, err)
		http.Error(w, "Erro ao ativar paciente", http.StatusInternalServerError)
		return
	}

	addServerLog(fmt.Sprintf("✅ Paciente %d ativado", id))
	w.WriteHeader(http.StatusNoContent)
}

type desativarRequest struct {
	Motivo string `json:"motivo"`
}

func desativarPacienteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pacienteIDDaRota(r)
	if err != nil {
		http.Error(w, "ID de paciente inválido", http.StatusBadRequest)
		return
	}

	var req desativarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Motivo == "" {
		http.Error(w, "motivo é obrigatório", http.StatusBadRequest)
		return
	}

	if err := db.DesativarPaciente(r.Context(), id, req.Motivo); err != nil {
		log.Printf("❌ Erro ao desativar paciente %d: %v", id, err)
		http.Error(w, "Erro ao desativar paciente", http.StatusInternalServerError)
		return
	}

	addServerLog(fmt.Sprintf("🚫 Paciente %d desativado: %s", id, req.Motivo))
	w.WriteHeader(http.StatusNoContent)
}

// varreduraManualHandler dispara uma varredura síncrona fora do horário.
// O mutex do motor garante que ela não atropela a varredura agendada.
func varreduraManualHandler(w http.ResponseWriter, r *http.Request) {
	addServerLog("🔍 Varredura manual solicitada pelo admin")

	if err := motor.ExecutarVarredura(r.Context()); err != nil {
		log.Printf("❌ Erro na varredura manual: %v", err)
		http.Error(w, "Erro na varredura", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "concluida"})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept")

		// Responde preflight imediatamente
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	dbStatus := false
	if db != nil && db.GetConnection() != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := db.GetConnection().PingContext(ctx); err == nil {
			dbStatus = true
		}
	}

	workerStats := workerManager.GetStats()

	response := map[string]interface{}{
		"paineis_conectados": hub.ClientesConectados(),
		"uptime":             formatDuration(time.Since(startTime)),
		"db_status":          dbStatus,
		"twilio_ok":          smsService != nil,
		"firebase_ok":        pushService != nil,
		"workers":            workerStats.WorkerNames,
		"timestamp":          time.Now().Unix(),
	}

	json.NewEncoder(w).Encode(response)
}

func logsHandler(w http.ResponseWriter, r *http.Request) {
	logsMutex.RLock()
	defer logsMutex.RUnlock()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(map[string]interface{}{
		"logs": serverLogs,
	})
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := "healthy"
	httpStatus := http.StatusOK

	if err := db.GetConnection().Ping(); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
