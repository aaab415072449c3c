// Package overlay produit un PDF signé à partir d'un PDF source, d'une image
// de signature, d'une image de tampon et d'un placement normalisé. Le bloc
// tampon+signature n'est composé que sur la dernière page ; toutes les autres
// pages sont réimportées telles quelles. La source n'est jamais modifiée et
// aucun octet n'est écrit ailleurs que dans le résultat retourné.
package overlay

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/phpdave11/gofpdi"
	"github.com/signintech/gopdf"
)

// Tailles et décalage en points, repris tels quels du réglage d'origine.
// Ne pas re-dériver : toute modification change le rendu visuel existant.
const (
	stampWidth      = 140.0
	stampHeight     = 140.0
	signatureWidth  = 160.0
	signatureHeight = 70.0

	// la signature chevauche le tampon : décalée à droite et vers le bas
	signatureOffsetX = 30.0
	signatureOffsetY = -10.0
)

var (
	// ErrSourceUnreadable : le PDF source est absent ou malformé.
	ErrSourceUnreadable = errors.New("pdf_source_illisible")
	// ErrImageUnreadable : une des images raster est vide ou corrompue.
	ErrImageUnreadable = errors.New("image_illisible")
)

type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Overlay compose le tampon puis la signature sur la dernière page de source
// et retourne le document complet re-sérialisé. pos est exprimée dans la
// convention PDF (origine en bas à gauche) ; voir FromTopLeftPercent pour la
// conversion depuis l'interface. Toute erreur est levée avant qu'un résultat
// partiel existe.
func (e *Engine) Overlay(source, signatureImage, stampImage []byte, pos Position) (out []byte, err error) {
	// la couche d'import signale les PDF malformés par panic ;
	// on la convertit ici en erreur typée
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrSourceUnreadable, r)
		}
	}()

	if len(source) == 0 {
		return nil, fmt.Errorf("%w: source vide", ErrSourceUnreadable)
	}

	pageCount, sizes, err := measure(source)
	if err != nil {
		return nil, err
	}

	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{Unit: gopdf.UnitPT, PageSize: *gopdf.PageSizeA4})

	var rs io.ReadSeeker = bytes.NewReader(source)
	for page := 1; page <= pageCount; page++ {
		w, h, err := pageDim(sizes, page)
		if err != nil {
			return nil, err
		}
		tpl := pdf.ImportPageStream(&rs, page, "/MediaBox")
		pdf.AddPageWithOption(gopdf.PageOption{PageSize: &gopdf.Rect{W: w, H: h}})
		pdf.UseImportedTemplate(tpl, 0, 0, w, h)

		if page == pageCount {
			if err := drawBlock(pdf, w, h, signatureImage, stampImage, pos); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("sérialisation du PDF signé : %w", err)
	}
	return buf.Bytes(), nil
}

// measure retourne le nombre de pages et les dimensions MediaBox de source.
func measure(source []byte) (int, map[int]map[string]map[string]float64, error) {
	var rs io.ReadSeeker = bytes.NewReader(source)
	imp := gofpdi.NewImporter()
	imp.SetSourceStream(&rs)
	n := imp.GetNumPages()
	if n == 0 {
		return 0, nil, fmt.Errorf("%w: aucune page", ErrSourceUnreadable)
	}
	return n, imp.GetPageSizes(), nil
}

func pageDim(sizes map[int]map[string]map[string]float64, page int) (w, h float64, err error) {
	box, ok := sizes[page]["/MediaBox"]
	if !ok {
		return 0, 0, fmt.Errorf("%w: MediaBox absente page %d", ErrSourceUnreadable, page)
	}
	w, h = box["w"], box["h"]
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%w: dimensions invalides page %d", ErrSourceUnreadable, page)
	}
	return w, h, nil
}

// drawBlock dessine le tampon puis la signature par-dessus, ancrés au point
// (pageW·x/100, pageH·y/100) mesuré depuis le bas de la page. gopdf ancre ses
// images par leur coin haut-gauche avec l'origine en haut de page, d'où le
// retournement d'axe sur la hauteur du bloc.
func drawBlock(pdf *gopdf.GoPdf, pageW, pageH float64, signatureImage, stampImage []byte, pos Position) error {
	stampX := pageW * pos.XPct / 100
	stampBottom := pageH * pos.YPct / 100

	stampHolder, err := gopdf.ImageHolderByBytes(stampImage)
	if err != nil {
		return fmt.Errorf("%w: tampon : %v", ErrImageUnreadable, err)
	}
	if err := pdf.ImageByHolder(stampHolder, stampX, pageH-stampBottom-stampHeight, &gopdf.Rect{W: stampWidth, H: stampHeight}); err != nil {
		return fmt.Errorf("%w: tampon : %v", ErrImageUnreadable, err)
	}

	sigX := stampX + signatureOffsetX
	sigBottom := stampBottom + signatureOffsetY
	sigHolder, err := gopdf.ImageHolderByBytes(signatureImage)
	if err != nil {
		return fmt.Errorf("%w: signature : %v", ErrImageUnreadable, err)
	}
	if err := pdf.ImageByHolder(sigHolder, sigX, pageH-sigBottom-signatureHeight, &gopdf.Rect{W: signatureWidth, H: signatureHeight}); err != nil {
		return fmt.Errorf("%w: signature : %v", ErrImageUnreadable, err)
	}
	return nil
}
