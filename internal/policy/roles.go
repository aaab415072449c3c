// Package policy résout les rôles des utilisateurs pour le workflow de
// signature : qui peut signer directement, et qui reçoit les demandes.
package policy

import (
	"context"
	"errors"

	"github.com/diewo77/go-signatures/internal/models"
	"gorm.io/gorm"
)

// DBRoleResolver répond aux questions de rôle depuis la base.
// Il implémente workflow.RoleResolver.
type DBRoleResolver struct {
	db *gorm.DB
	// signerRole est le nom du rôle autorisé à signer directement
	// et à approuver les demandes déléguées.
	signerRole string
}

func NewDBRoleResolver(db *gorm.DB, signerRole string) *DBRoleResolver {
	if signerRole == "" {
		signerRole = "ceo"
	}
	return &DBRoleResolver{db: db, signerRole: signerRole}
}

// IsAuthorizedSigner indique si l'utilisateur porte le rôle signataire.
// Un utilisateur inconnu n'est pas signataire, sans erreur.
func (r *DBRoleResolver) IsAuthorizedSigner(ctx context.Context, userID uint) (bool, error) {
	var user models.User
	err := r.db.WithContext(ctx).Preload("Role").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.Role.Name == r.signerRole, nil
}

// ResolveApprover retourne l'approbateur configuré : le premier utilisateur
// portant le rôle signataire avec une adresse email renseignée. Retourne
// (nil, nil) si aucun n'est configuré.
func (r *DBRoleResolver) ResolveApprover(ctx context.Context) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Joins("JOIN roles ON roles.id = users.role_id").
		Where("roles.name = ? AND users.email <> ''", r.signerRole).
		Order("users.id").
		Preload("Role").
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
