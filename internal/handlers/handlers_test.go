package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/diewo77/go-signatures/internal/auth"
	"github.com/diewo77/go-signatures/internal/models"
	"github.com/diewo77/go-signatures/internal/overlay"
	"github.com/diewo77/go-signatures/internal/policy"
	"github.com/diewo77/go-signatures/internal/storage"
	"github.com/diewo77/go-signatures/internal/workflow"
	"github.com/signintech/gopdf"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type noopSender struct{}

func (noopSender) SendApprovalLink(context.Context, string, string, string) error { return nil }

type testApp struct {
	handler http.Handler
	db      *gorm.DB
	store   *storage.Store
	boss    models.User
	worker  models.User
}

func setupHandlerTest(t *testing.T) *testApp {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Role{}, &models.User{}, &models.Document{},
		&models.HistoriqueSignature{}, &models.SignatureUser{}, &models.Tampon{},
		&models.SignatureRequest{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ceo := models.Role{Name: "ceo"}
	emp := models.Role{Name: "employe"}
	for _, role := range []*models.Role{&ceo, &emp} {
		if err := db.Create(role).Error; err != nil {
			t.Fatalf("role: %v", err)
		}
	}
	boss := models.User{Email: "boss@test", Nom: "Boss", RoleID: ceo.ID}
	worker := models.User{Email: "worker@test", Nom: "Worker", RoleID: emp.ID}
	for _, u := range []*models.User{&boss, &worker} {
		if err := db.Create(u).Error; err != nil {
			t.Fatalf("user: %v", err)
		}
	}

	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	roles := policy.NewDBRoleResolver(db, "ceo")
	svc := workflow.NewService(db, overlay.NewEngine(), store, roles, noopSender{}, "http://intranet.test")

	mux := http.NewServeMux()
	Mount(mux,
		NewDocumentHandler(db, svc, store),
		NewSignatureHandler(db, svc),
		NewAssetHandler(db, store, roles))
	return &testApp{handler: auth.Middleware(mux), db: db, store: store, boss: boss, worker: worker}
}

func sessionCookie(t *testing.T, userID uint) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	auth.CreateSession(rec, userID)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	return cookies[0]
}

func (a *testApp) doJSON(t *testing.T, method, path string, userID uint, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.AddCookie(sessionCookie(t, userID))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) doMultipart(t *testing.T, path string, userID uint, fields map[string]string, fileField, fileName string, fileData []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("field %s: %v", k, err)
		}
	}
	fw, err := mw.CreateFormFile(fileField, fileName)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write(fileData); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if userID != 0 {
		req.AddCookie(sessionCookie(t, userID))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return m
}

func samplePDF(t *testing.T) []byte {
	t.Helper()
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{Unit: gopdf.UnitPT, PageSize: *gopdf.PageSizeA4})
	// pages avec contenu dessiné, la couche d'import ne relisant pas les
	// pages sans flux de contenu
	for i := 0; i < 2; i++ {
		pdf.AddPage()
		pdf.SetLineWidth(0.5)
		pdf.Line(40, 40+float64(i)*20, 300, 40+float64(i)*20)
	}
	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		t.Fatalf("pdf: %v", err)
	}
	return buf.Bytes()
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{B: 180, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

func TestUploadRejectsNonPDF(t *testing.T) {
	app := setupHandlerTest(t)
	rec := app.doMultipart(t, "/documents", app.worker.ID,
		map[string]string{"titre": "Pas un PDF"}, "fichier", "notes.txt", []byte("bonjour"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "fichier_non_pdf" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestUploadRequiresTitre(t *testing.T) {
	app := setupHandlerTest(t)
	rec := app.doMultipart(t, "/documents", app.worker.ID,
		map[string]string{}, "fichier", "doc.pdf", samplePDF(t))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "validation_failed" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestPlaceRequiresAuth(t *testing.T) {
	app := setupHandlerTest(t)
	rec := app.doJSON(t, http.MethodPost, "/documents/1/signature", 0,
		map[string]any{"pos_x_pct": 50, "pos_y_pct": 50})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

// Parcours complet : upload, demande par un employé, tableau de bord,
// approbation par token, document signé téléchargeable.
func TestUploadPlaceDecideFlow(t *testing.T) {
	app := setupHandlerTest(t)

	// le signataire configure ses images
	if rec := app.doMultipart(t, "/signatures/ma-signature", app.boss.ID, nil, "image", "sig.png", samplePNG(t)); rec.Code != http.StatusOK {
		t.Fatalf("ma-signature: %d %s", rec.Code, rec.Body.String())
	}
	if rec := app.doMultipart(t, "/signatures/tampon", app.boss.ID,
		map[string]string{"nom": "Tampon SARL"}, "image", "tampon.png", samplePNG(t)); rec.Code != http.StatusOK {
		t.Fatalf("tampon: %d %s", rec.Code, rec.Body.String())
	}

	rec := app.doMultipart(t, "/documents", app.worker.ID,
		map[string]string{"titre": "Contrat fournisseur"}, "fichier", "contrat.pdf", samplePDF(t))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	docID := decodeBody(t, rec)["id"].(float64)

	rec = app.doJSON(t, http.MethodPost, fmt.Sprintf("/documents/%.0f/signature", docID), app.worker.ID,
		map[string]any{"pos_x_pct": 60.0, "pos_y_pct": 85.0})
	if rec.Code != http.StatusCreated {
		t.Fatalf("place: %d %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["signe"] != false {
		t.Fatalf("expected a pending request, got %v", body)
	}

	// le tableau de bord de l'approbateur liste la demande avec son token
	rec = app.doJSON(t, http.MethodGet, "/signatures/dashboard", app.boss.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard: %d %s", rec.Code, rec.Body.String())
	}
	demandes := decodeBody(t, rec)["demandes"].([]any)
	if len(demandes) != 1 {
		t.Fatalf("demandes = %d, want 1", len(demandes))
	}
	token := demandes[0].(map[string]any)["token"].(string)

	rec = app.doJSON(t, http.MethodGet, "/signatures/requests/"+token, app.boss.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("review: %d %s", rec.Code, rec.Body.String())
	}
	review := decodeBody(t, rec)
	if review["demandeur"] != "Worker" || review["pos_x_pct"].(float64) != 60 {
		t.Fatalf("unexpected review payload: %v", review)
	}

	rec = app.doJSON(t, http.MethodPost, "/signatures/requests/"+token, app.boss.ID,
		map[string]any{"action": "approve", "commentaire": "ok"})
	if rec.Code != http.StatusOK {
		t.Fatalf("decide: %d %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["statut"] != models.RequestApproved {
		t.Fatalf("statut = %v", body["statut"])
	}

	rec = app.doJSON(t, http.MethodGet, fmt.Sprintf("/documents/%.0f", docID), app.boss.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("detail: %d %s", rec.Code, rec.Body.String())
	}
	detail := decodeBody(t, rec)
	if detail["statut"] != models.StatutSigne {
		t.Fatalf("statut = %v, want signe", detail["statut"])
	}

	rec = app.doJSON(t, http.MethodGet, fmt.Sprintf("/documents/%.0f/fichier?signe=1", docID), app.boss.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("download is not a pdf")
	}

	// rejouer la décision : conflit et statut terminal, pas de régénération
	rec = app.doJSON(t, http.MethodPost, "/signatures/requests/"+token, app.boss.ID,
		map[string]any{"action": "refuse"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("replay: %d, want 409", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "demande_deja_traitee" {
		t.Fatalf("error = %v", body["error"])
	}
	if details := body["details"].(map[string]any); details["statut"] != models.RequestApproved {
		t.Fatalf("details = %v", details)
	}
}

func TestDecideWrongApproverForbidden(t *testing.T) {
	app := setupHandlerTest(t)
	rec := app.doMultipart(t, "/documents", app.worker.ID,
		map[string]string{"titre": "Contrat"}, "fichier", "c.pdf", samplePDF(t))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d", rec.Code)
	}
	docID := decodeBody(t, rec)["id"].(float64)
	if rec = app.doJSON(t, http.MethodPost, fmt.Sprintf("/documents/%.0f/signature", docID), app.worker.ID,
		map[string]any{"pos_x_pct": 10.0, "pos_y_pct": 10.0}); rec.Code != http.StatusCreated {
		t.Fatalf("place: %d", rec.Code)
	}
	var req models.SignatureRequest
	if err := app.db.Where("document_id = ?", uint(docID)).First(&req).Error; err != nil {
		t.Fatalf("load request: %v", err)
	}

	rec = app.doJSON(t, http.MethodPost, "/signatures/requests/"+req.Token, app.worker.ID,
		map[string]any{"action": "approve"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	rec = app.doJSON(t, http.MethodPost, "/signatures/requests/inconnu", app.boss.ID,
		map[string]any{"action": "approve"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTamponReservedToSigner(t *testing.T) {
	app := setupHandlerTest(t)
	rec := app.doMultipart(t, "/signatures/tampon", app.worker.ID, nil, "image", "t.png", samplePNG(t))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestMaSignatureRejectsNonImage(t *testing.T) {
	app := setupHandlerTest(t)
	rec := app.doMultipart(t, "/signatures/ma-signature", app.boss.ID, nil, "image", "sig.png", []byte("pas une image"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestBulkDelete(t *testing.T) {
	app := setupHandlerTest(t)
	rec := app.doMultipart(t, "/documents", app.worker.ID,
		map[string]string{"titre": "A supprimer"}, "fichier", "a.pdf", samplePDF(t))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d", rec.Code)
	}
	docID := decodeBody(t, rec)["id"].(float64)

	rec = app.doJSON(t, http.MethodPost, "/documents/delete", app.boss.ID,
		map[string]any{"ids": []uint{uint(docID)}})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["deleted"].(float64) != 1 {
		t.Fatalf("deleted = %v", body["deleted"])
	}
	rec = app.doJSON(t, http.MethodGet, fmt.Sprintf("/documents/%.0f", docID), app.boss.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("detail after delete: %d, want 404", rec.Code)
	}
}

func TestPositionsLegacyPlacement(t *testing.T) {
	app := setupHandlerTest(t)
	rec := app.doMultipart(t, "/documents", app.worker.ID,
		map[string]string{"titre": "Ancien écran"}, "fichier", "a.pdf", samplePDF(t))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d", rec.Code)
	}
	docID := decodeBody(t, rec)["id"].(float64)

	rec = app.doJSON(t, http.MethodPost, fmt.Sprintf("/documents/%.0f/positions", docID), app.worker.ID,
		map[string]any{"stamp_x": 20.0, "stamp_y": 30.0, "sig_x": 25.0, "sig_y": 35.0})
	if rec.Code != http.StatusOK {
		t.Fatalf("positions: %d %s", rec.Code, rec.Body.String())
	}
	var doc models.Document
	if err := app.db.First(&doc, uint(docID)).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if doc.StampX == nil || *doc.StampX != 20 || doc.SigY == nil || *doc.SigY != 35 {
		t.Fatalf("positions not stored: %+v", doc)
	}

	rec = app.doJSON(t, http.MethodPost, fmt.Sprintf("/documents/%.0f/positions", docID), app.worker.ID,
		map[string]any{"stamp_x": 120.0, "stamp_y": 30.0, "sig_x": 25.0, "sig_y": 35.0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out of range: %d, want 400", rec.Code)
	}
}

func TestListDerivedStatus(t *testing.T) {
	app := setupHandlerTest(t)
	rec := app.doMultipart(t, "/documents", app.worker.ID,
		map[string]string{"titre": "En cours"}, "fichier", "a.pdf", samplePDF(t))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d", rec.Code)
	}
	docID := decodeBody(t, rec)["id"].(float64)
	if rec = app.doJSON(t, http.MethodPost, fmt.Sprintf("/documents/%.0f/signature", docID), app.worker.ID,
		map[string]any{"pos_x_pct": 10.0, "pos_y_pct": 10.0}); rec.Code != http.StatusCreated {
		t.Fatalf("place: %d", rec.Code)
	}

	rec = app.doJSON(t, http.MethodGet, "/documents", app.boss.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	items := decodeBody(t, rec)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	item := items[0].(map[string]any)
	if item["statut"] != models.StatutEnAttente {
		t.Fatalf("statut = %v, want en_attente", item["statut"])
	}
	if !strings.Contains(item["statut_libelle"].(string), "attente") {
		t.Fatalf("libelle = %v", item["statut_libelle"])
	}
}
