package overlay

// Position est un placement sur la dernière page, en pourcentage de sa
// largeur et de sa hauteur, origine en bas à gauche (convention PDF).
type Position struct {
	XPct float64
	YPct float64
}

// FromTopLeftPercent convertit un placement capturé par l'interface
// (pourcentages, origine en haut à gauche) vers la convention PDF attendue
// par le moteur (origine en bas à gauche). L'axe X est inchangé.
func FromTopLeftPercent(xPct, yPct float64) Position {
	return Position{XPct: xPct, YPct: 100 - yPct}
}
