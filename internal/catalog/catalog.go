// Package catalog loads the ticket tier catalogue from a YAML file and
// publishes it to a store.
//
// The file lists events with their tiers; prices are in minor units:
//
//	currency: inr
//	events:
//	  - id: techfest-2026
//	    tiers:
//	      - id: general
//	        name: General Admission
//	        price: 25000
//	        capacity: 400
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Shivanand-hulikatti/campus-ticketing/internal/model"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// File is the on-disk catalogue layout.
type File struct {
	Currency string  `yaml:"currency"`
	Events   []Event `yaml:"events"`
}

// Event groups the tiers sold for one event.
type Event struct {
	ID    string       `yaml:"id"`
	Tiers []model.Tier `yaml:"tiers"`
}

// Seeder publishes tiers. Both storage backends implement it.
type Seeder interface {
	UpsertTier(ctx context.Context, tier model.Tier) error
}

// Parse decodes and validates a catalogue. Tiers without a currency take
// the file's currency, or fallbackCurrency when the file has none.
func Parse(r io.Reader, fallbackCurrency string) ([]model.Tier, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}

	currency := f.Currency
	if currency == "" {
		currency = fallbackCurrency
	}

	seen := make(map[model.TierKey]bool)
	var tiers []model.Tier
	for _, ev := range f.Events {
		ev.ID = strings.TrimSpace(ev.ID)
		if ev.ID == "" {
			return nil, errors.New("catalogue event without id")
		}
		for _, t := range ev.Tiers {
			t.EventID = ev.ID
			t.TierID = strings.TrimSpace(t.TierID)
			if t.Currency == "" {
				t.Currency = currency
			}
			t.Currency = strings.ToLower(t.Currency)
			if err := validate(t); err != nil {
				return nil, err
			}
			if seen[t.Key()] {
				return nil, fmt.Errorf("tier %s listed twice", t.Key())
			}
			seen[t.Key()] = true
			tiers = append(tiers, t)
		}
	}
	return tiers, nil
}

func validate(t model.Tier) error {
	switch {
	case t.TierID == "":
		return fmt.Errorf("event %s: tier without id", t.EventID)
	case t.Price < 0:
		return fmt.Errorf("tier %s: negative price", t.Key())
	case t.Capacity < 0:
		return fmt.Errorf("tier %s: negative capacity", t.Key())
	case t.Currency == "":
		return fmt.Errorf("tier %s: currency is required", t.Key())
	}
	return nil
}

// LoadFile parses the catalogue at path.
func LoadFile(path, fallbackCurrency string) ([]model.Tier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	return Parse(bytes.NewReader(data), fallbackCurrency)
}

// Seed publishes every tier. Capacity is fixed by the first publication,
// so reseeding only updates names and prices.
func Seed(ctx context.Context, s Seeder, tiers []model.Tier, log *zap.Logger) error {
	for _, t := range tiers {
		if err := s.UpsertTier(ctx, t); err != nil {
			return fmt.Errorf("seed tier %s: %w", t.Key(), err)
		}
	}
	log.Info("catalogue seeded", zap.Int("tiers", len(tiers)))
	return nil
}
