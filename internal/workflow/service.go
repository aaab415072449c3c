// Package workflow orchestre le cycle de vie de signature d'un document :
// signature directe par un signataire autorisé, ou demande déléguée qu'un
// approbateur accepte ou refuse. Chaque transition est tracée dans
// l'historique, dans la même transaction que l'état qu'elle décrit.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/diewo77/go-signatures/internal/models"
	"github.com/diewo77/go-signatures/internal/notify"
	"github.com/diewo77/go-signatures/internal/overlay"
	"github.com/diewo77/go-signatures/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoleResolver répond aux questions d'autorisation du workflow.
// L'authentification et la gestion des rôles restent hors de ce module.
type RoleResolver interface {
	IsAuthorizedSigner(ctx context.Context, userID uint) (bool, error)
	ResolveApprover(ctx context.Context) (*models.User, error)
}

type Service struct {
	db       *gorm.DB
	engine   *overlay.Engine
	store    *storage.Store
	roles    RoleResolver
	notifier notify.Sender
	baseURL  string
}

func NewService(db *gorm.DB, engine *overlay.Engine, store *storage.Store, roles RoleResolver, notifier notify.Sender, baseURL string) *Service {
	return &Service{
		db:       db,
		engine:   engine,
		store:    store,
		roles:    roles,
		notifier: notifier,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// PlacementResult est le résultat de PlaceSignature : soit le document a été
// signé immédiatement, soit une demande a été créée pour l'approbateur.
type PlacementResult struct {
	Signed  bool
	Request *models.SignatureRequest
}

// DocumentState est la vue dérivée d'un document : son statut courant,
// recalculé à chaque lecture, et son historique complet.
type DocumentState struct {
	Document       models.Document
	Statut         string
	Historique     []models.HistoriqueSignature
	PendingRequest *models.SignatureRequest
}

// CreateDocument enregistre un PDF uploadé et initialise son workflow.
// La validation du contenu ("est-ce bien un PDF ?") incombe à l'appelant.
func (s *Service) CreateDocument(ctx context.Context, titre string, pdfBytes []byte) (*models.Document, error) {
	if strings.TrimSpace(titre) == "" {
		return nil, fmt.Errorf("titre vide")
	}
	rel, err := s.store.Save(storage.DirOriginaux, uuid.NewString()+".pdf", pdfBytes)
	if err != nil {
		return nil, err
	}

	doc := models.Document{Titre: titre, Fichier: rel}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&doc).Error; err != nil {
			return err
		}
		return tx.Create(&models.HistoriqueSignature{
			DocumentID:  doc.ID,
			Statut:      models.StatutUpload,
			Commentaire: "Document ajouté",
		}).Error
	})
	if err != nil {
		if rmErr := s.store.Remove(rel); rmErr != nil {
			log.Printf("[Signatures] nettoyage impossible après échec de création : %v", rmErr)
		}
		return nil, err
	}
	return &doc, nil
}

// PlaceSignature est le point d'entrée unique « placer une signature » :
// signature immédiate si l'acteur est un signataire autorisé, création d'une
// demande pour l'approbateur sinon. Les positions sont des pourcentages
// capturés par l'interface (origine en haut à gauche).
func (s *Service) PlaceSignature(ctx context.Context, documentID, actorID uint, posXPct, posYPct float64) (*PlacementResult, error) {
	if posXPct < 0 || posXPct > 100 || posYPct < 0 || posYPct > 100 {
		return nil, ErrInvalidPosition
	}

	var doc models.Document
	if err := s.db.WithContext(ctx).First(&doc, documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	if doc.Signe() {
		return nil, ErrAlreadySigned
	}

	isSigner, err := s.roles.IsAuthorizedSigner(ctx, actorID)
	if err != nil {
		return nil, err
	}

	if !isSigner {
		pending, err := s.pendingExists(ctx, s.db, doc.ID)
		if err != nil {
			return nil, err
		}
		// un collaborateur ne peut pas écraser le placement proposé
		// par un autre tant que la demande n'est pas traitée
		if pending {
			return nil, ErrRequestPending
		}
		return s.createRequest(ctx, &doc, actorID, posXPct, posYPct)
	}

	return s.signDirectly(ctx, &doc, actorID, posXPct, posYPct)
}

// Decide traite la décision de l'approbateur sur une demande identifiée par
// son token. Sur approbation, la signature est générée avec les coordonnées
// stockées dans la demande, jamais avec des coordonnées re-soumises.
// La demande est retournée même sur ErrRequestAlreadyDecided, pour que
// l'appelant puisse afficher le statut terminal existant.
func (s *Service) Decide(ctx context.Context, token string, approverID uint, approve bool, commentaire string) (*models.SignatureRequest, error) {
	var req models.SignatureRequest
	err := s.db.WithContext(ctx).Preload("Document").Preload("RequestedBy").
		Where("token = ?", token).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	if req.ApproverID != approverID {
		return nil, ErrNotRequestApprover
	}
	if req.Decided() {
		return &req, ErrRequestAlreadyDecided
	}

	if !approve {
		return s.refuseRequest(ctx, &req, commentaire)
	}
	return s.approveRequest(ctx, &req, approverID, commentaire)
}

// DocumentStatus retourne le statut dérivé et l'historique d'un document.
// Le statut n'est jamais stocké ; il est recalculé ici à chaque appel.
func (s *Service) DocumentStatus(ctx context.Context, documentID uint) (*DocumentState, error) {
	var doc models.Document
	if err := s.db.WithContext(ctx).First(&doc, documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}

	var hist []models.HistoriqueSignature
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", doc.ID).
		Order("date_action DESC, id DESC").
		Find(&hist).Error; err != nil {
		return nil, err
	}

	var pending models.SignatureRequest
	var pendingPtr *models.SignatureRequest
	err := s.db.WithContext(ctx).Preload("RequestedBy").
		Where("document_id = ? AND statut = ?", doc.ID, models.RequestPending).
		First(&pending).Error
	switch {
	case err == nil:
		pendingPtr = &pending
	case errors.Is(err, gorm.ErrRecordNotFound):
		// pas de demande en cours
	default:
		return nil, err
	}

	var latest *models.HistoriqueSignature
	if len(hist) > 0 {
		latest = &hist[0]
	}
	return &DocumentState{
		Document:       doc,
		Statut:         models.DeriveStatus(doc.Signe(), pendingPtr != nil, latest),
		Historique:     hist,
		PendingRequest: pendingPtr,
	}, nil
}

// MarkAwaiting est l'ancienne action « mettre en attente de signature ».
// Plus exposée dans l'interface principale, conservée pour compatibilité.
func (s *Service) MarkAwaiting(ctx context.Context, documentID uint) error {
	var doc models.Document
	if err := s.db.WithContext(ctx).First(&doc, documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}
	return s.db.WithContext(ctx).Create(&models.HistoriqueSignature{
		DocumentID:  doc.ID,
		Statut:      models.StatutEnAttente,
		Commentaire: "Document en attente de signature.",
	}).Error
}

// DeleteDocuments supprime les documents listés, leur historique et leurs
// demandes (cascade), puis retire les fichiers du dépôt en best-effort.
func (s *Service) DeleteDocuments(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var docs []models.Document
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&docs).Error; err != nil {
		return 0, err
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Document{})
	if res.Error != nil {
		return 0, res.Error
	}
	for _, d := range docs {
		for _, rel := range []string{d.Fichier, d.FichierSigne} {
			if rel == "" {
				continue
			}
			if err := s.store.Remove(rel); err != nil {
				log.Printf("[Signatures] suppression du fichier %s impossible : %v", rel, err)
			}
		}
	}
	return res.RowsAffected, nil
}

// PendingRequestsFor liste les demandes en attente adressées à un
// approbateur, les plus récentes en premier (tableau de bord).
func (s *Service) PendingRequestsFor(ctx context.Context, approverID uint) ([]models.SignatureRequest, error) {
	var reqs []models.SignatureRequest
	err := s.db.WithContext(ctx).
		Preload("Document").Preload("RequestedBy").
		Where("approver_id = ? AND statut = ?", approverID, models.RequestPending).
		Order("created_at DESC").
		Find(&reqs).Error
	return reqs, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Branche signature directe
// ─────────────────────────────────────────────────────────────────────────────

func (s *Service) signDirectly(ctx context.Context, doc *models.Document, signerID uint, posXPct, posYPct float64) (*PlacementResult, error) {
	rel, err := s.renderSigned(ctx, doc, signerID, posXPct, posYPct)
	if err != nil {
		s.appendHistorique(ctx, doc.ID, models.StatutErreur,
			"Erreur lors de la signature directe : "+err.Error())
		return nil, err
	}

	// le moteur a tourné hors verrou ; l'écriture de fichier_signe est
	// revalidée ici, dans la transaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fresh models.Document
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&fresh, doc.ID).Error; err != nil {
			return err
		}
		if fresh.Signe() {
			return ErrAlreadySigned
		}
		if err := tx.Model(&fresh).Update("fichier_signe", rel).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.HistoriqueSignature{
			DocumentID:  doc.ID,
			Statut:      models.StatutSigne,
			Commentaire: "Document signé directement par le signataire.",
		}).Error; err != nil {
			return err
		}
		// une signature directe rend caduques les demandes en attente
		return s.expirePending(tx, doc.ID, 0)
	})
	if err != nil {
		if rmErr := s.store.Remove(rel); rmErr != nil {
			log.Printf("[Signatures] nettoyage du PDF signé impossible : %v", rmErr)
		}
		return nil, err
	}

	doc.FichierSigne = rel
	return &PlacementResult{Signed: true}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Branche demande déléguée
// ─────────────────────────────────────────────────────────────────────────────

func (s *Service) createRequest(ctx context.Context, doc *models.Document, actorID uint, posXPct, posYPct float64) (*PlacementResult, error) {
	approver, err := s.roles.ResolveApprover(ctx)
	if err != nil {
		return nil, err
	}
	if approver == nil || approver.Email == "" {
		s.appendHistorique(ctx, doc.ID, models.StatutErreur,
			"Aucun approbateur configuré pour recevoir la demande.")
		return nil, ErrNoApproverConfigured
	}

	req := &models.SignatureRequest{
		DocumentID:    doc.ID,
		RequestedByID: actorID,
		ApproverID:    approver.ID,
		PosXPct:       posXPct,
		PosYPct:       posYPct,
		Statut:        models.RequestPending,
		Token:         models.NewSignatureToken(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fresh models.Document
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&fresh, doc.ID).Error; err != nil {
			return err
		}
		if fresh.Signe() {
			return ErrAlreadySigned
		}
		// double check : quelqu'un a pu créer une demande entre-temps
		pending, err := s.pendingExists(ctx, tx, doc.ID)
		if err != nil {
			return err
		}
		if pending {
			return ErrRequestPending
		}
		if err := tx.Create(req).Error; err != nil {
			return err
		}
		return tx.Create(&models.HistoriqueSignature{
			DocumentID:  doc.ID,
			Statut:      models.StatutEnAttente,
			Commentaire: fmt.Sprintf("Demande de signature envoyée à l'approbateur (%s).", approver.Email),
		}).Error
	})
	if err != nil {
		return nil, err
	}

	// la notification est best-effort : la demande existe et reste visible
	// depuis le tableau de bord même si l'email échoue
	link := fmt.Sprintf("%s/signatures/requests/%s", s.baseURL, req.Token)
	if err := s.notifier.SendApprovalLink(ctx, approver.Email, link, doc.Titre); err != nil {
		log.Printf("[Signatures] échec de l'envoi du mail d'approbation (demande %d) : %v", req.ID, err)
	}
	return &PlacementResult{Request: req}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Décisions de l'approbateur
// ─────────────────────────────────────────────────────────────────────────────

func (s *Service) refuseRequest(ctx context.Context, req *models.SignatureRequest, commentaire string) (*models.SignatureRequest, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh, err := lockRequest(tx, req.ID)
		if err != nil {
			return err
		}
		if fresh.Decided() {
			return ErrRequestAlreadyDecided
		}
		now := time.Now()
		if err := tx.Model(fresh).Updates(map[string]any{
			"statut":                  models.RequestRefused,
			"decided_at":              now,
			"commentaire_approbateur": commentaire,
		}).Error; err != nil {
			return err
		}
		return tx.Create(&models.HistoriqueSignature{
			DocumentID:  req.DocumentID,
			Statut:      models.StatutRefuse,
			Commentaire: "Demande refusée par l'approbateur.",
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrRequestAlreadyDecided) {
			fresh, _ := s.reload(ctx, req.ID)
			return fresh, ErrRequestAlreadyDecided
		}
		return nil, err
	}
	return s.reload(ctx, req.ID)
}

func (s *Service) approveRequest(ctx context.Context, req *models.SignatureRequest, approverID uint, commentaire string) (*models.SignatureRequest, error) {
	rel, err := s.renderSigned(ctx, &req.Document, approverID, req.PosXPct, req.PosYPct)
	if err != nil {
		// fermeture en échec : une erreur technique ne doit jamais
		// laisser la demande pending indéfiniment
		s.failRequest(ctx, req, err)
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh, err := lockRequest(tx, req.ID)
		if err != nil {
			return err
		}
		if fresh.Decided() {
			return ErrRequestAlreadyDecided
		}
		var doc models.Document
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&doc, req.DocumentID).Error; err != nil {
			return err
		}
		if doc.Signe() {
			return ErrAlreadySigned
		}
		if err := tx.Model(&doc).Update("fichier_signe", rel).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.HistoriqueSignature{
			DocumentID:  req.DocumentID,
			Statut:      models.StatutSigne,
			Commentaire: "Document signé et approuvé par l'approbateur.",
		}).Error; err != nil {
			return err
		}
		now := time.Now()
		if err := tx.Model(fresh).Updates(map[string]any{
			"statut":                  models.RequestApproved,
			"decided_at":              now,
			"commentaire_approbateur": commentaire,
		}).Error; err != nil {
			return err
		}
		return s.expirePending(tx, req.DocumentID, req.ID)
	})
	if err != nil {
		if rmErr := s.store.Remove(rel); rmErr != nil {
			log.Printf("[Signatures] nettoyage du PDF signé impossible : %v", rmErr)
		}
		if errors.Is(err, ErrRequestAlreadyDecided) {
			fresh, _ := s.reload(ctx, req.ID)
			return fresh, ErrRequestAlreadyDecided
		}
		return nil, err
	}
	return s.reload(ctx, req.ID)
}

// failRequest bascule une demande pending en refused suite à une erreur
// technique, avec la trace erreur dans la même transaction.
func (s *Service) failRequest(ctx context.Context, req *models.SignatureRequest, cause error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh, err := lockRequest(tx, req.ID)
		if err != nil {
			return err
		}
		if !fresh.Decided() {
			now := time.Now()
			if err := tx.Model(fresh).Updates(map[string]any{
				"statut":                  models.RequestRefused,
				"decided_at":              now,
				"commentaire_approbateur": "Erreur technique : " + cause.Error(),
			}).Error; err != nil {
				return err
			}
		}
		return tx.Create(&models.HistoriqueSignature{
			DocumentID:  req.DocumentID,
			Statut:      models.StatutErreur,
			Commentaire: "Erreur lors de la signature par l'approbateur : " + cause.Error(),
		}).Error
	})
	if err != nil {
		log.Printf("[Signatures] bascule en refus de la demande %d impossible : %v", req.ID, err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// renderSigned charge les images du signataire et le PDF original, puis fait
// tourner le moteur d'overlay. Calcul pur, aucune écriture d'état : seule la
// sauvegarde du résultat dans le dépôt a lieu ici, et l'appelant la retire
// si sa transaction échoue.
func (s *Service) renderSigned(ctx context.Context, doc *models.Document, signerID uint, posXPct, posYPct float64) (string, error) {
	var profile models.SignatureUser
	err := s.db.WithContext(ctx).Where("user_id = ?", signerID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNoSignatureConfigured
	}
	if err != nil {
		return "", err
	}

	var tampon models.Tampon
	err = s.db.WithContext(ctx).Order("id").First(&tampon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNoStampConfigured
	}
	if err != nil {
		return "", err
	}

	sigImage, err := s.store.Read(profile.Image)
	if err != nil {
		return "", fmt.Errorf("image de signature : %w", err)
	}
	stampImage, err := s.store.Read(tampon.Image)
	if err != nil {
		return "", fmt.Errorf("image de tampon : %w", err)
	}
	source, err := s.store.Read(doc.Fichier)
	if err != nil {
		return "", fmt.Errorf("%w: %v", overlay.ErrSourceUnreadable, err)
	}

	signed, err := s.engine.Overlay(source, sigImage, stampImage, overlay.FromTopLeftPercent(posXPct, posYPct))
	if err != nil {
		return "", err
	}
	// chaque rendu écrit son propre artefact : le nettoyage d'une branche
	// perdante ne peut jamais toucher le fichier_signe déjà commité par
	// une branche concurrente
	name := fmt.Sprintf("%d_%s_signe.pdf", doc.ID, uuid.NewString())
	return s.store.Save(storage.DirSignes, name, signed)
}

func (s *Service) pendingExists(ctx context.Context, db *gorm.DB, documentID uint) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&models.SignatureRequest{}).
		Where("document_id = ? AND statut = ?", documentID, models.RequestPending).
		Count(&count).Error
	return count > 0, err
}

// expirePending marque expirées les demandes pending du document, sauf
// exceptID (0 pour toutes).
func (s *Service) expirePending(tx *gorm.DB, documentID, exceptID uint) error {
	q := tx.Model(&models.SignatureRequest{}).
		Where("document_id = ? AND statut = ?", documentID, models.RequestPending)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	now := time.Now()
	return q.Updates(map[string]any{"statut": models.RequestExpired, "decided_at": now}).Error
}

func lockRequest(tx *gorm.DB, id uint) (*models.SignatureRequest, error) {
	var req models.SignatureRequest
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&req, id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// appendHistorique trace un événement hors transaction d'état (erreurs de
// configuration ou de génération). L'échec d'écriture est journalisé, jamais
// propagé : il ne doit pas masquer l'erreur d'origine.
func (s *Service) appendHistorique(ctx context.Context, documentID uint, statut, commentaire string) {
	err := s.db.WithContext(ctx).Create(&models.HistoriqueSignature{
		DocumentID:  documentID,
		Statut:      statut,
		Commentaire: commentaire,
	}).Error
	if err != nil {
		log.Printf("[Signatures] écriture de l'historique impossible (document %d) : %v", documentID, err)
	}
}

func (s *Service) reload(ctx context.Context, requestID uint) (*models.SignatureRequest, error) {
	var req models.SignatureRequest
	if err := s.db.WithContext(ctx).Preload("Document").First(&req, requestID).Error; err != nil {
		return nil, err
	}
	return &req, nil
}
