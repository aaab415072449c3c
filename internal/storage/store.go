// Package storage est le dépôt binaire du module : PDF originaux et signés,
// images de signature et tampons. Les fichiers sont écrits sous un répertoire
// racine, et référencés partout ailleurs par leur chemin relatif.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sous-répertoires du dépôt.
const (
	DirOriginaux  = "documents/originaux"
	DirSignes     = "documents/signes"
	DirSignatures = "signatures"
	DirTampons    = "tampons"
)

type Store struct {
	root string
}

// NewStore crée le dépôt et ses sous-répertoires sous root.
func NewStore(root string) (*Store, error) {
	for _, dir := range []string{DirOriginaux, DirSignes, DirSignatures, DirTampons} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("création du dépôt %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Save écrit data sous dir/name et retourne le chemin relatif stocké en base.
// Le nom est nettoyé pour rester confiné au répertoire cible.
func (s *Store) Save(dir, name string, data []byte) (string, error) {
	name = sanitizeName(name)
	if name == "" {
		return "", fmt.Errorf("nom de fichier vide")
	}
	rel := filepath.Join(dir, name)
	abs := filepath.Join(s.root, rel)
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", fmt.Errorf("écriture %s: %w", rel, err)
	}
	return filepath.ToSlash(rel), nil
}

// Read retourne le contenu du fichier référencé par son chemin relatif.
func (s *Store) Read(rel string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("lecture %s: %w", rel, err)
	}
	return data, nil
}

// Remove supprime le fichier référencé ; l'absence n'est pas une erreur.
func (s *Store) Remove(rel string) error {
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("suppression %s: %w", rel, err)
	}
	return nil
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
