// Package receipt composes and prints the fortune ("omikuji") receipt.
package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"slices"
)

// Ranks lists the fortune levels from best to worst.
var Ranks = []string{"大吉", "中吉", "小吉", "吉", "末吉", "凶"}

var (
	ErrUnknownRank     = errors.New("unknown fortune rank")
	ErrIncompleteEntry = errors.New("incomplete fortune")
	ErrNoFortune       = errors.New("no fortune for rank")
)

// Fortune is the text printed on one receipt.
type Fortune struct {
	Rank    string `json:"rank"`
	Summary string `json:"summary"`
	Love    string `json:"love"`
	Work    string `json:"work"`
	Health  string `json:"health"`
	Money   string `json:"money"`
}

// Validate checks the rank and that every section has text.
func (f Fortune) Validate() error {
	if !slices.Contains(Ranks, f.Rank) {
		return fmt.Errorf("%w: %q", ErrUnknownRank, f.Rank)
	}
	for name, v := range map[string]string{
		"summary": f.Summary,
		"love":    f.Love,
		"work":    f.Work,
		"health":  f.Health,
		"money":   f.Money,
	} {
		if v == "" {
			return fmt.Errorf("%w: %s is empty", ErrIncompleteEntry, name)
		}
	}
	return nil
}

// RandomRank draws a rank uniformly.
func RandomRank() string {
	return Ranks[rand.Intn(len(Ranks))]
}

// Provider supplies the fortune text for a rank.
type Provider interface {
	Fortune(ctx context.Context, rank string) (Fortune, error)
}

// LoadFortunes reads a JSON array of fortunes and validates each entry.
func LoadFortunes(path string) ([]Fortune, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fortunes: %w", err)
	}

	var fortunes []Fortune
	if err := json.Unmarshal(data, &fortunes); err != nil {
		return nil, fmt.Errorf("parse fortunes %s: %w", path, err)
	}
	for i, f := range fortunes {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("fortune %d: %w", i, err)
		}
	}
	return fortunes, nil
}

// FileProvider picks a random entry of the requested rank from a JSON file.
type FileProvider struct {
	byRank map[string][]Fortune
}

// NewFileProvider loads path.
func NewFileProvider(path string) (*FileProvider, error) {
	fortunes, err := LoadFortunes(path)
	if err != nil {
		return nil, err
	}
	p := &FileProvider{byRank: make(map[string][]Fortune)}
	for _, f := range fortunes {
		p.byRank[f.Rank] = append(p.byRank[f.Rank], f)
	}
	return p, nil
}

func (p *FileProvider) Fortune(ctx context.Context, rank string) (Fortune, error) {
	if err := ctx.Err(); err != nil {
		return Fortune{}, err
	}
	candidates := p.byRank[rank]
	if len(candidates) == 0 {
		return Fortune{}, fmt.Errorf("%w: %s", ErrNoFortune, rank)
	}
	return candidates[rand.Intn(len(candidates))], nil
}

// StaticProvider returns the same text for every rank.
type StaticProvider struct {
	Template Fortune
}

func (p StaticProvider) Fortune(_ context.Context, rank string) (Fortune, error) {
	f := p.Template
	f.Rank = rank
	if err := f.Validate(); err != nil {
		return Fortune{}, err
	}
	return f, nil
}
