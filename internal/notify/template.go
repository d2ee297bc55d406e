package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

// UnlockCodeData fills the unlock code email.
type UnlockCodeData struct {
	EventName  string
	CardNumber int
	Code       string
}

var unlockHTML = htmltemplate.Must(htmltemplate.New("unlock_html").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="text-align: center; margin-bottom: 30px;">
    <h1 style="color: #9E7FFF; margin: 0;">Contribui&amp;Chá</h1>
  </div>
  <div style="background: linear-gradient(135deg, #9E7FFF, #38bdf8); color: white; padding: 30px; border-radius: 12px; text-align: center; margin-bottom: 30px;">
    <h2 style="margin: 0 0 10px 0;">Código de Desbloqueio</h2>
    <p style="margin: 0; opacity: 0.9;">Card #{{.CardNumber}} - {{.EventName}}</p>
  </div>
  <div style="text-align: center; margin-bottom: 30px;">
    <div style="background: #F3F4F6; padding: 20px; border-radius: 8px; display: inline-block;">
      <div style="font-size: 32px; font-weight: bold; letter-spacing: 4px; color: #1F2937; font-family: monospace;">{{.Code}}</div>
    </div>
  </div>
  <div style="background: #FEF3C7; border: 1px solid #F59E0B; padding: 15px; border-radius: 8px; margin-bottom: 20px;">
    <p style="margin: 0; color: #92400E; font-size: 14px;"><strong>Importante:</strong> Este código é válido apenas para você. Não compartilhe com outras pessoas.</p>
  </div>
  <div style="text-align: center; margin-bottom: 30px;">
    <p style="color: #6B7280; margin: 0;">Digite este código para desbloquear seu card e fazer a contribuição.</p>
  </div>
  <div style="border-top: 1px solid #E5E7EB; padding-top: 20px; text-align: center;">
    <p style="color: #9CA3AF; font-size: 12px; margin: 0;">Se você não solicitou este código, pode ignorar este email.</p>
  </div>
</div>`))

var unlockText = texttemplate.Must(texttemplate.New("unlock_text").Parse(`Código de desbloqueio

Card #{{.CardNumber}} - {{.EventName}}

Seu código: {{.Code}}

Este código é válido apenas para você. Não compartilhe com outras pessoas.
Se você não solicitou este código, pode ignorar este email.
`))

// UnlockCodeMessage renders the unlock code email for to.
func UnlockCodeMessage(to string, data UnlockCodeData) (Message, error) {
	var html, text bytes.Buffer
	if errHTML := unlockHTML.Execute(&html, data); errHTML != nil {
		return Message{}, fmt.Errorf("notify: render html: %w", errHTML)
	}
	if errText := unlockText.Execute(&text, data); errText != nil {
		return Message{}, fmt.Errorf("notify: render text: %w", errText)
	}
	return Message{
		To:      to,
		Subject: "Código de desbloqueio - " + data.EventName,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
