package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML side of the configuration.
type FileConfig struct {
	Books        map[string]string `yaml:"books"`
	OpeningBooks OpeningBooks      `yaml:"opening_books"`
	Messages     Messages          `yaml:"messages"`
	Opponents    []string          `yaml:"opponents"`
}

type OpeningBooks struct {
	Enabled bool                 `yaml:"enabled"`
	Groups  map[string]BookGroup `yaml:"books"`
}

// BookGroup names books from FileConfig.Books in lookup order.
type BookGroup struct {
	Selection string   `yaml:"selection"`
	Names     []string `yaml:"names"`
}

// Group keys inside opening_books.books.
const (
	GroupWhite = "standard_white"
	GroupBlack = "standard_black"
	GroupDraw  = "drawish"
)

type Messages struct {
	Greeting           string `yaml:"greeting"`
	Goodbye            string `yaml:"goodbye"`
	GreetingSpectators string `yaml:"greeting_spectators"`
	GoodbyeSpectators  string `yaml:"goodbye_spectators"`
}

// LoadFile parses path. A missing file is not an error and yields nil.
func LoadFile(path string) (*FileConfig, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}
	for i, name := range fc.Opponents {
		fc.Opponents[i] = strings.TrimSpace(name)
	}
	return &fc, nil
}

// ResolveGroup maps a group's book names to paths, skipping unknown names.
// The selection policy defaults to best_move.
func (fc *FileConfig) ResolveGroup(key string) (paths []string, labels []string, selection string) {
	selection = "best_move"
	if fc == nil || !fc.OpeningBooks.Enabled {
		return nil, nil, selection
	}
	g, ok := fc.OpeningBooks.Groups[key]
	if !ok {
		return nil, nil, selection
	}
	if s := strings.ToLower(strings.TrimSpace(g.Selection)); s != "" {
		selection = s
	}
	for _, name := range g.Names {
		name = strings.TrimSpace(name)
		p := strings.TrimSpace(fc.Books[name])
		if p == "" {
			continue
		}
		paths = append(paths, p)
		labels = append(labels, name)
	}
	return paths, labels, selection
}
