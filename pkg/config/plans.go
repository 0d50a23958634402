package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/mihaimyh/paysync/pkg/billing"
)

type planSeedFile struct {
	Plans []planSeed `yaml:"plans"`
}

type planSeed struct {
	ExternalPriceID string `yaml:"externalPriceId" validate:"required"`
	Name            string `yaml:"name" validate:"required"`
	DisplayName     string `yaml:"displayName"`
	Interval        string `yaml:"interval" validate:"omitempty,oneof=day week month year one_time"`
	Price           string `yaml:"price" validate:"required"`
	Currency        string `yaml:"currency" validate:"required,len=3"`
	IsActive        *bool  `yaml:"isActive"`
}

// LoadPlanSeed reads a YAML plan catalogue:
//
//	plans:
//	  - externalPriceId: price_basic_monthly
//	    name: basic
//	    interval: month
//	    price: "9.99"
//	    currency: usd
func LoadPlanSeed(path string) ([]billing.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan seed: %w", err)
	}
	return ParsePlanSeed(data)
}

// ParsePlanSeed decodes and validates a plan catalogue document.
func ParsePlanSeed(data []byte) ([]billing.Plan, error) {
	var doc planSeedFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode plan seed: %w", err)
	}

	plans := make([]billing.Plan, 0, len(doc.Plans))
	seen := make(map[string]struct{}, len(doc.Plans))
	for i, seed := range doc.Plans {
		if err := validate.Struct(seed); err != nil {
			return nil, fmt.Errorf("plan %d: %w", i, err)
		}
		if _, dup := seen[seed.ExternalPriceID]; dup {
			return nil, fmt.Errorf("plan %d: duplicate price id %q", i, seed.ExternalPriceID)
		}
		seen[seed.ExternalPriceID] = struct{}{}

		price, err := decimal.NewFromString(strings.TrimSpace(seed.Price))
		if err != nil {
			return nil, fmt.Errorf("plan %d: invalid price %q: %w", i, seed.Price, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("plan %d: negative price", i)
		}

		display := seed.DisplayName
		if display == "" {
			display = seed.Name
		}
		active := true
		if seed.IsActive != nil {
			active = *seed.IsActive
		}
		plans = append(plans, billing.Plan{
			ExternalPriceID: seed.ExternalPriceID,
			Name:            seed.Name,
			DisplayName:     display,
			Interval:        seed.Interval,
			Price:           price,
			Currency:        strings.ToLower(seed.Currency),
			IsActive:        active,
		})
	}
	return plans, nil
}
