package models

import "time"

// Statuts du cycle de vie d'un document.
const (
	StatutUpload    = "upload"     // document ajouté
	StatutEnAttente = "en_attente" // en attente de signature
	StatutSigne     = "signe"      // signé
	StatutRefuse    = "refuse"     // refusé
	StatutErreur    = "erreur"     // erreur technique
)

// HistoriqueSignature est le journal en append-only des transitions d'un
// document. Une ligne n'est jamais modifiée ni supprimée ; DateAction est
// posée à l'insertion.
type HistoriqueSignature struct {
	ID          uint      `gorm:"primaryKey"`
	DocumentID  uint      `gorm:"index;not null"`
	Statut      string    `gorm:"size:30;not null"`
	DateAction  time.Time `gorm:"autoCreateTime;index"`
	Commentaire string
}

// DeriveStatus calcule le statut courant d'un document. Le statut n'est
// jamais stocké : il est recalculé à chaque lecture à partir du fichier
// signé, des demandes pending et de la dernière ligne d'historique.
//
// Précédence : fichier signé présent → signe ; demande pending → en_attente ;
// sinon statut de la dernière ligne d'historique ; sinon upload.
func DeriveStatus(signedFileSet, pendingRequestExists bool, latest *HistoriqueSignature) string {
	switch {
	case signedFileSet:
		return StatutSigne
	case pendingRequestExists:
		return StatutEnAttente
	case latest != nil:
		return latest.Statut
	default:
		return StatutUpload
	}
}

// StatusLabel retourne le libellé d'affichage d'un statut.
func StatusLabel(statut string) string {
	switch statut {
	case StatutUpload:
		return "Ajouté"
	case StatutEnAttente:
		return "En attente de signature"
	case StatutSigne:
		return "Signé"
	case StatutRefuse:
		return "Refusé"
	case StatutErreur:
		return "Erreur"
	default:
		return statut
	}
}
