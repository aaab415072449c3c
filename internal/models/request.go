package models

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Statuts d'une demande de signature. pending est le seul état actif ;
// les trois autres sont terminaux.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRefused  = "refused"
	RequestExpired  = "expired"
)

// SignatureRequest est une demande de signature déléguée : un collaborateur
// propose un placement, l'approbateur accepte ou refuse. Au plus une
// demande pending existe par document ; c'est le workflow qui le garantit.
type SignatureRequest struct {
	ID            uint     `gorm:"primaryKey"`
	DocumentID    uint     `gorm:"index;not null"`
	Document      Document `gorm:"foreignKey:DocumentID"`
	RequestedByID uint     `gorm:"not null"`
	RequestedBy   User     `gorm:"foreignKey:RequestedByID"`
	ApproverID    uint     `gorm:"not null"`
	Approver      User     `gorm:"foreignKey:ApproverID"`

	// position choisie par le collaborateur (en %, origine en haut à gauche
	// comme capturée par l'interface)
	PosXPct float64 `gorm:"not null"`
	PosYPct float64 `gorm:"not null"`

	Statut string `gorm:"size:20;not null;default:'pending'"`

	// Token est l'identifiant opaque du lien d'approbation. Généré à la
	// création, jamais modifié.
	Token string `gorm:"uniqueIndex;size:64;not null"`

	CreatedAt              time.Time
	DecidedAt              *time.Time
	CommentaireApprobateur string
}

// Decided indique si la demande a atteint un état terminal.
func (r SignatureRequest) Decided() bool { return r.Statut != RequestPending }

// NewSignatureToken génère un token unique pour les demandes de signature :
// 32 caractères hexadécimaux issus d'un UUID v4 (crypto/rand).
func NewSignatureToken() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
