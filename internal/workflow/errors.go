package workflow

import "errors"

// Erreurs de configuration : non réessayables sans action d'un
// administrateur, toujours tracées dans l'historique du document.
var (
	ErrNoSignatureConfigured = errors.New("aucune_signature_configuree")
	ErrNoStampConfigured     = errors.New("aucun_tampon_configure")
	ErrNoApproverConfigured  = errors.New("aucun_approbateur_configure")
)

// Erreurs de conflit d'état : l'opération est rejetée telle quelle,
// sans écriture d'historique.
var (
	ErrDocumentNotFound      = errors.New("document_introuvable")
	ErrAlreadySigned         = errors.New("document_deja_signe")
	ErrRequestPending        = errors.New("demande_deja_en_attente")
	ErrRequestNotFound       = errors.New("demande_introuvable")
	ErrRequestAlreadyDecided = errors.New("demande_deja_traitee")
	ErrNotRequestApprover    = errors.New("approbateur_non_autorise")
	ErrInvalidPosition       = errors.New("position_invalide")
)
