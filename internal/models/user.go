package models

import "time"

// User & roles
type User struct {
	ID        uint   `gorm:"primaryKey"`
	Email     string `gorm:"uniqueIndex;size:255;not null"`
	Nom       string `gorm:"size:255;index"`
	Prenom    string `gorm:"size:255;index"`
	RoleID    uint   // clé étrangère vers Role
	Role      Role   `gorm:"foreignKey:RoleID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Role struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex;size:50;not null"` // ceo, employe
	Description string // optionnel
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FullName retourne "Prénom Nom", ou l'email si aucun nom n'est renseigné.
func (u User) FullName() string {
	switch {
	case u.Prenom != "" && u.Nom != "":
		return u.Prenom + " " + u.Nom
	case u.Nom != "":
		return u.Nom
	default:
		return u.Email
	}
}
