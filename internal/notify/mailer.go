// Package notify envoie le lien d'approbation à l'approbateur. L'envoi est
// best-effort : un échec est journalisé par l'appelant et ne remet jamais en
// cause la création de la demande.
package notify

import (
	"context"
	"fmt"

	"github.com/diewo77/go-signatures/internal/config"
	mail "github.com/wneessen/go-mail"
)

// Sender est la surface de notification exposée au workflow.
type Sender interface {
	SendApprovalLink(ctx context.Context, to, link, documentTitre string) error
}

// NewSender construit l'expéditeur SMTP, ou une implémentation muette
// lorsqu'aucun serveur n'est configuré.
func NewSender(cfg config.MailConfig) Sender {
	if cfg.Host == "" {
		return noopSender{}
	}
	return &smtpSender{cfg: cfg}
}

type noopSender struct{}

func (noopSender) SendApprovalLink(context.Context, string, string, string) error { return nil }

type smtpSender struct {
	cfg config.MailConfig
}

func (s *smtpSender) SendApprovalLink(ctx context.Context, to, link, documentTitre string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return fmt.Errorf("expéditeur invalide : %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("destinataire invalide : %w", err)
	}
	msg.Subject(Subject(documentTitre))
	msg.SetBodyString(mail.TypeTextPlain, Body(documentTitre, link))

	opts := []mail.Option{mail.WithPort(s.cfg.Port), mail.WithTLSPortPolicy(mail.TLSOpportunistic)}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("client SMTP : %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("envoi du mail d'approbation : %w", err)
	}
	return nil
}

// Subject construit le sujet du mail de demande de signature.
func Subject(documentTitre string) string {
	return fmt.Sprintf("[Signature requise] %s", documentTitre)
}

// Body construit le corps texte du mail de demande de signature.
func Body(documentTitre, link string) string {
	return fmt.Sprintf(
		"Bonjour,\n\n"+
			"Un document est en attente de votre approbation pour signature.\n\n"+
			"Titre : %s\n"+
			"Consulter et approuver ou refuser ici : %s\n\n"+
			"Bien cordialement,\n"+
			"L'intranet",
		documentTitre, link,
	)
}
