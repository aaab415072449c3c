package policy

import (
	"context"
	"fmt"
	"testing"

	"github.com/diewo77/go-signatures/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupPolicyTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Role{}, &models.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestIsAuthorizedSigner(t *testing.T) {
	db := setupPolicyTestDB(t)
	ceo := models.Role{Name: "ceo"}
	emp := models.Role{Name: "employe"}
	if err := db.Create(&ceo).Error; err != nil {
		t.Fatalf("role: %v", err)
	}
	if err := db.Create(&emp).Error; err != nil {
		t.Fatalf("role: %v", err)
	}
	boss := models.User{Email: "boss@test", RoleID: ceo.ID}
	worker := models.User{Email: "worker@test", RoleID: emp.ID}
	if err := db.Create(&boss).Error; err != nil {
		t.Fatalf("user: %v", err)
	}
	if err := db.Create(&worker).Error; err != nil {
		t.Fatalf("user: %v", err)
	}

	r := NewDBRoleResolver(db, "ceo")
	ctx := context.Background()

	if ok, err := r.IsAuthorizedSigner(ctx, boss.ID); err != nil || !ok {
		t.Fatalf("boss should be signer: ok=%v err=%v", ok, err)
	}
	if ok, err := r.IsAuthorizedSigner(ctx, worker.ID); err != nil || ok {
		t.Fatalf("worker should not be signer: ok=%v err=%v", ok, err)
	}
	if ok, err := r.IsAuthorizedSigner(ctx, 9999); err != nil || ok {
		t.Fatalf("unknown user should not be signer: ok=%v err=%v", ok, err)
	}
}

func TestResolveApprover(t *testing.T) {
	db := setupPolicyTestDB(t)
	r := NewDBRoleResolver(db, "ceo")
	ctx := context.Background()

	// aucun CEO configuré
	if u, err := r.ResolveApprover(ctx); err != nil || u != nil {
		t.Fatalf("expected no approver, got %v err=%v", u, err)
	}

	ceo := models.Role{Name: "ceo"}
	if err := db.Create(&ceo).Error; err != nil {
		t.Fatalf("role: %v", err)
	}
	first := models.User{Email: "first@test", RoleID: ceo.ID}
	second := models.User{Email: "second@test", RoleID: ceo.ID}
	if err := db.Create(&first).Error; err != nil {
		t.Fatalf("user: %v", err)
	}
	if err := db.Create(&second).Error; err != nil {
		t.Fatalf("user: %v", err)
	}

	u, err := r.ResolveApprover(ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if u == nil || u.ID != first.ID {
		t.Fatalf("expected first ceo, got %+v", u)
	}
}
