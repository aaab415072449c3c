package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/diewo77/go-signatures/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect ouvre la connexion PostgreSQL avec quelques tentatives pour
// laisser le temps à la base de démarrer.
func Connect(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DSN vide, vérifiez la configuration de l'environnement")
	}
	logLevel := logger.Silent
	if os.Getenv("DB_DEBUG") == "1" {
		logLevel = logger.Info
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logLevel)}

	var db *gorm.DB
	var err error
	for i := 0; i < 5; i++ {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err == nil {
			break
		}
		log.Printf("[DB] tentative %d/5 échouée, retry... (%v)", i+1, err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connexion BDD échouée : %w", err)
	}
	if pingErr := db.Exec("SELECT 1").Error; pingErr != nil {
		return nil, fmt.Errorf("db ping failed: %w", pingErr)
	}
	return db, nil
}

// Migrate applique les migrations GORM de toutes les entités du workflow.
func Migrate(db *gorm.DB) error {
	modelsToMigrate := []interface{}{
		&models.Role{},
		&models.User{},
		&models.Document{},
		&models.HistoriqueSignature{},
		&models.SignatureUser{},
		&models.Tampon{},
		&models.SignatureRequest{},
	}
	for _, m := range modelsToMigrate {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("automigrate %T: %w", m, err)
		}
	}
	return nil
}

// Seed crée les rôles de base s'ils n'existent pas déjà. Le workflow ne
// distingue que signataire et non-signataire : seuls ces deux rôles sont
// semés.
func Seed(db *gorm.DB) error {
	baseRoles := []models.Role{
		{Name: "ceo", Description: "Signataire autorisé et approbateur"},
		{Name: "employe", Description: "Collaborateur"},
	}
	for _, role := range baseRoles {
		var existing models.Role
		err := db.Where("name = ?", role.Name).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			if err := db.Create(&role).Error; err != nil {
				return fmt.Errorf("seed role %s: %w", role.Name, err)
			}
		} else if err != nil {
			return err
		}
	}
	return nil
}
