package push

import (
	"context"
	"fmt"
	"log"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FirebaseService espelha os lembretes SMS em push quando o paciente tem
// device token cadastrado. O push é melhor esforço: nunca confirma nem
// bloqueia o avanço do estado do motor.
type FirebaseService struct {
	client *messaging.Client
	ctx    context.Context
}

// NewFirebaseService inicializa o cliente Firebase com suporte a FCM
func NewFirebaseService(credentialsPath string) (*FirebaseService, error) {
	ctx := context.Background()

	opt := option.WithCredentialsFile(credentialsPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Messaging client: %w", err)
	}

	log.Println("✅ Firebase service initialized successfully")

	return &FirebaseService{
		client: client,
		ctx:    ctx,
	}, nil
}

// SendLembreteDose envia o push que acompanha um lembrete de dose.
func (s *FirebaseService) SendLembreteDose(deviceToken, nome, corpo string) error {
	if deviceToken == "" {
		return fmt.Errorf("device token is empty")
	}

	message := &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: "💉 Hora da sua dose",
			Body:  corpo,
		},
		Data: map[string]string{
			"type":      "lembrete_dose",
			"priority":  "high",
			"timestamp": fmt.Sprintf("%d", time.Now().Unix()),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:        "default",
				Priority:     messaging.PriorityHigh,
				ChannelID:    "dosecerta_lembretes",
				DefaultSound: true,
			},
		},
	}

	response, err := s.client.Send(s.ctx, message)
	if err != nil {
		return fmt.Errorf("error sending reminder push: %w", err)
	}

	log.Printf("📲 Push de lembrete enviado para %s: %s", nome, response)
	return nil
}

// SendAlertaAdmin envia o push de escalonamento para o dispositivo do
// administrador, complementando o email.
func (s *FirebaseService) SendAlertaAdmin(deviceToken, nomePaciente string) error {
	if deviceToken == "" {
		return fmt.Errorf("device token is empty")
	}

	message := &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: "🚨 Paciente sem registrar doses",
			Body:  fmt.Sprintf("%s esgotou os lembretes sem registrar nenhuma dose.", nomePaciente),
		},
		Data: map[string]string{
			"type":      "alerta_admin",
			"priority":  "high",
			"timestamp": fmt.Sprintf("%d", time.Now().Unix()),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:        "alert",
				Priority:     messaging.PriorityHigh,
				ChannelID:    "dosecerta_alertas",
				DefaultSound: true,
				Color:        "#FF0000",
			},
		},
	}

	response, err := s.client.Send(s.ctx, message)
	if err != nil {
		return fmt.Errorf("error sending admin push: %w", err)
	}

	log.Printf("⚠️ Push de alerta admin enviado: %s", response)
	return nil
}

// IsInvalidTokenError verifica se o erro retornado pelo Firebase indica que o token é inválido
func IsInvalidTokenError(err error) bool {
	if messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsSenderIDMismatch(err) {
		return true
	}
	return false
}
