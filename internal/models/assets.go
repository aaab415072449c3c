package models

import "time"

// SignatureUser est l'image de signature scannée d'un utilisateur
// (le CEO, typiquement). Au plus une par utilisateur ; son absence est un
// état normal, la plupart des utilisateurs ne signant jamais directement.
type SignatureUser struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"uniqueIndex;not null"`
	User      User   `gorm:"foreignKey:UserID"`
	Image     string `gorm:"size:500;not null"` // chemin de l'image
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tampon est le tampon officiel de l'entreprise. Conceptuellement unique :
// le workflow passe par une recherche dédiée et son absence est une erreur
// de configuration, pas un état normal.
type Tampon struct {
	ID        uint   `gorm:"primaryKey"`
	Nom       string `gorm:"size:200;not null;default:'Tampon officiel'"`
	Image     string `gorm:"size:500;not null"` // chemin de l'image
	CreatedAt time.Time
	UpdatedAt time.Time
}
