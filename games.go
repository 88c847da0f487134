package main

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed games/catalog.yaml
var builtinCatalog []byte

var gameIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

type Game struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Scoring     string `yaml:"scoring,omitempty" json:"scoring,omitempty"`
}

// Catalog is the ordered, immutable list of playable games.
type Catalog struct {
	games []Game
	byID  map[string]int
}

func parseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Games []Game `yaml:"games"`
	}

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse game catalog: %w", err)
	}

	if len(doc.Games) == 0 {
		return nil, fmt.Errorf("parse game catalog: no games defined")
	}

	c := &Catalog{
		games: doc.Games,
		byID:  make(map[string]int, len(doc.Games)),
	}

	for i, g := range doc.Games {
		if !gameIDPattern.MatchString(g.ID) {
			return nil, fmt.Errorf("parse game catalog: invalid game id %q", g.ID)
		}
		if _, dup := c.byID[g.ID]; dup {
			return nil, fmt.Errorf("parse game catalog: duplicate game id %q", g.ID)
		}
		if g.Name == "" {
			c.games[i].Name = g.ID
		}
		c.byID[g.ID] = i
	}

	return c, nil
}

// loadCatalog reads path, or the built-in catalog when path is empty.
func loadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return parseCatalog(builtinCatalog)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return parseCatalog(data)
}

func (c *Catalog) Games() []Game {
	return append([]Game(nil), c.games...)
}

func (c *Catalog) Lookup(id string) (Game, error) {
	i, ok := c.byID[id]
	if !ok {
		return Game{}, fmt.Errorf("%w: %q", ErrUnknownGame, id)
	}
	return c.games[i], nil
}
