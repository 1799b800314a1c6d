package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dunamismax/pixelpass/internal/domain"
)

// Recipe is a YAML file describing one source and the outputs to render
// from it:
//
//	source: ./photo.jpg
//	output_dir: ./out
//	steps:
//	  - id: thumb
//	    fit: {mode: cover, width: 300, height: 200}
//	    filters:
//	      - kind: sepia
//	    format: webp
type Recipe struct {
	Source    string              `yaml:"source"`
	OutputDir string              `yaml:"output_dir"`
	Steps     []domain.RenderStep `yaml:"steps"`
}

func LoadRecipe(path string) (Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Recipe{}, err
	}
	recipe, err := ParseRecipe(data)
	if err != nil {
		return Recipe{}, fmt.Errorf("%s: %w", path, err)
	}
	return recipe, nil
}

// ParseRecipe rejects unknown keys so typos in step fields do not silently
// drop operations.
func ParseRecipe(data []byte) (Recipe, error) {
	var recipe Recipe
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&recipe); err != nil {
		return Recipe{}, fmt.Errorf("parse recipe: %w", err)
	}

	recipe.Source = strings.TrimSpace(recipe.Source)
	if recipe.Source == "" {
		return Recipe{}, errors.New("recipe source is required")
	}
	if strings.TrimSpace(recipe.OutputDir) == "" {
		recipe.OutputDir = "."
	}
	if err := domain.ValidateSteps(recipe.Steps); err != nil {
		return Recipe{}, err
	}
	return recipe, nil
}
