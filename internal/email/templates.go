package email

import (
	"fmt"
	"strings"
	"time"

	"dose-mind/pkg/models"
)

// AlertaInatividadeTemplate gera o HTML do alerta enviado ao admin
// quando um paciente esgota a escada de lembretes sem registrar dose.
func AlertaInatividadeTemplate(paciente *models.Paciente, doses []models.Dose) string {
	var linhasDoses strings.Builder
	if len(doses) == 0 {
		linhasDoses.WriteString("<li>Nenhuma dose registrada</li>")
	}
	for _, d := range doses {
		linhasDoses.WriteString(fmt.Sprintf("<li>%s — %s</li>",
			d.AplicadaEm.Format("02/01/2006 15:04"), d.Tipo))
	}

	ultimaDose := "nunca"
	if paciente.UltimaDoseEm != nil {
		ultimaDose = paciente.UltimaDoseEm.Format("02/01/2006 15:04")
	}
	ultimoLembrete := "nenhum"
	if paciente.UltimoLembreteEm != nil {
		ultimoLembrete = paciente.UltimoLembreteEm.Format("02/01/2006 15:04")
	}
	boasVindas := "-"
	if paciente.SMSBoasVindasEm != nil {
		boasVindas = paciente.SMSBoasVindasEm.Format("02/01/2006 15:04")
	}

	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; background-color: #f4f4f4; margin: 0; padding: 20px; }
        .container { max-width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .header { background-color: #DC3545; color: white; padding: 20px; text-align: center; }
        .header h1 { margin: 0; font-size: 24px; }
        .content { padding: 30px; }
        .alert-box { background-color: #F8D7DA; border-left: 4px solid #DC3545; padding: 15px; margin: 20px 0; }
        .footer { background-color: #f8f9fa; padding: 15px; text-align: center; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>🚨 Paciente Sem Registrar Doses</h1>
        </div>
        <div class="content">
            <div class="alert-box">
                <strong>%s</strong> (ID %d) esgotou todos os lembretes de SMS sem registrar nenhuma dose de insulina.
            </div>

            <p><strong>Telefone:</strong> %s</p>
            <p><strong>Última dose registrada:</strong> %s</p>
            <p><strong>Último lembrete enviado:</strong> %s</p>
            <p><strong>SMS de boas-vindas:</strong> %s</p>

            <p><strong>Últimas doses:</strong></p>
            <ul>%s</ul>

            <p><strong>Ações recomendadas:</strong></p>
            <ul>
                <li>Entrar em contato com o paciente por telefone</li>
                <li>Verificar se o número cadastrado está correto</li>
                <li>Confirmar se o paciente ainda usa o aplicativo</li>
            </ul>
        </div>
        <div class="footer">
            <p>Este é um email automático do sistema DoseCerta</p>
            <p>Não responda a este email</p>
        </div>
    </div>
</body>
</html>
    `, paciente.Nome, paciente.ID, paciente.Telefone, ultimaDose, ultimoLembrete, boasVindas, linhasDoses.String())
}

// AvisoAssinaturaTemplate gera o HTML dos avisos de expiração.
func AvisoAssinaturaTemplate(nome string, dias int) string {
	var mensagem, cor string
	switch {
	case dias >= 7:
		mensagem = "Sua assinatura expira em 7 dias. Renove para continuar recebendo os lembretes de dose."
		cor = "#FFC107"
	case dias == 1:
		mensagem = "Sua assinatura expira amanhã! Renove hoje para não perder os lembretes de dose."
		cor = "#FD7E14"
	default:
		mensagem = "Sua assinatura expirou e sua conta foi desativada. Renove para reativar os lembretes."
		cor = "#DC3545"
	}

	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; background-color: #f4f4f4; margin: 0; padding: 20px; }
        .container { max-width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .header { background-color: %s; color: white; padding: 20px; text-align: center; }
        .header h1 { margin: 0; font-size: 24px; }
        .content { padding: 30px; }
        .footer { background-color: #f8f9fa; padding: 15px; text-align: center; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Assinatura DoseCerta</h1>
        </div>
        <div class="content">
            <p>Olá <strong>%s</strong>,</p>
            <p>%s</p>
            <p><strong>Data/Hora:</strong> %s</p>
        </div>
        <div class="footer">
            <p>Este é um email automático do sistema DoseCerta</p>
            <p>Não responda a este email</p>
        </div>
    </div>
</body>
</html>
    `, cor, nome, mensagem, time.Now().Format("02/01/2006 15:04"))
}
