package models

import "time"

// Document PDF à signer. Fichier référence le PDF original, immuable une
// fois créé. FichierSigne reste vide tant que le document n'est pas signé
// et n'est renseigné qu'une seule fois, toujours vers un nouvel artefact.
type Document struct {
	ID           uint      `gorm:"primaryKey"`
	Titre        string    `gorm:"size:255;not null"`
	Fichier      string    `gorm:"size:500;not null"` // chemin du PDF original
	FichierSigne string    `gorm:"size:500"`          // chemin du PDF signé, vide sinon
	DateUpload   time.Time `gorm:"autoCreateTime"`

	// anciennes positions (peuvent servir encore dans certains écrans)
	StampX *float64
	StampY *float64
	SigX   *float64
	SigY   *float64

	Historique []HistoriqueSignature `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
	Demandes   []SignatureRequest    `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
}

// Signe indique si le document possède un PDF signé.
func (d Document) Signe() bool { return d.FichierSigne != "" }
