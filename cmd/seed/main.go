// Package main loads products and collections from a YAML fixture file into
// Postgres. It is meant for local development and demo environments:
//
//	DATABASE_URL=postgres://... go run ./cmd/seed -file fixtures/catalog.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rowanvale/shopshelf/internal/logging"
	"github.com/rowanvale/shopshelf/internal/repository"
)

type fixture struct {
	Products    []fixtureProduct    `yaml:"products"`
	Collections []fixtureCollection `yaml:"collections"`
}

type fixtureProduct struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Brand         string   `yaml:"brand"`
	Category      string   `yaml:"category"`
	Tags          []string `yaml:"tags"`
	Price         string   `yaml:"price"`
	OriginalPrice string   `yaml:"original_price"`
	Stock         int      `yaml:"stock"`
	SalesCount    int      `yaml:"sales_count"`
}

type fixtureCollection struct {
	ID          string        `yaml:"id"`
	Title       string        `yaml:"title"`
	Type        string        `yaml:"type"`
	MatchPolicy string        `yaml:"match_policy"`
	Rules       []fixtureRule `yaml:"rules"`
	DefaultSort string        `yaml:"default_sort"`
	Visible     *bool         `yaml:"visible"`
	StartsAt    string        `yaml:"starts_at"`
	EndsAt      string        `yaml:"ends_at"`
	Members     []string      `yaml:"members"`
}

type fixtureRule struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	file := flag.String("file", "fixtures/catalog.yaml", "path to the YAML fixture file")
	flag.Parse()

	slog.SetDefault(logging.New(os.Getenv("LOG_LEVEL")))

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read fixture: %w", err)
	}

	fix, err := parseFixture(raw)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	repo := repository.NewPostgresRepository(pool)

	for _, p := range fix.Products {
		product, err := p.toRepository()
		if err != nil {
			return fmt.Errorf("product %q: %w", p.ID, err)
		}
		if _, err := repo.CreateProduct(ctx, product); err != nil {
			return fmt.Errorf("create product %q: %w", p.ID, err)
		}
	}
	slog.Info("products seeded", "count", len(fix.Products))

	var members int
	for _, c := range fix.Collections {
		collection, err := c.toRepository()
		if err != nil {
			return fmt.Errorf("collection %q: %w", c.ID, err)
		}
		if _, err := repo.CreateCollection(ctx, collection); err != nil {
			return fmt.Errorf("create collection %q: %w", c.ID, err)
		}
		for _, productID := range c.Members {
			if err := repo.AddCollectionMember(ctx, collection.ID, productID); err != nil {
				return fmt.Errorf("add member %q to %q: %w", productID, c.ID, err)
			}
			members++
		}
	}
	slog.Info("collections seeded", "count", len(fix.Collections), "members", members)

	return nil
}

func parseFixture(raw []byte) (fixture, error) {
	var fix fixture
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&fix); err != nil {
		return fixture{}, fmt.Errorf("parse fixture: %w", err)
	}
	return fix, nil
}

func (p fixtureProduct) toRepository() (repository.Product, error) {
	if p.ID == "" || p.Name == "" {
		return repository.Product{}, fmt.Errorf("id and name are required")
	}

	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return repository.Product{}, fmt.Errorf("parse price %q: %w", p.Price, err)
	}

	product := repository.Product{
		ID:         p.ID,
		Name:       p.Name,
		Brand:      p.Brand,
		Category:   p.Category,
		Tags:       p.Tags,
		Price:      price,
		Stock:      p.Stock,
		SalesCount: p.SalesCount,
	}
	if p.OriginalPrice != "" {
		original, err := decimal.NewFromString(p.OriginalPrice)
		if err != nil {
			return repository.Product{}, fmt.Errorf("parse original_price %q: %w", p.OriginalPrice, err)
		}
		product.OriginalPrice = &original
	}
	return product, nil
}

func (c fixtureCollection) toRepository() (repository.Collection, error) {
	if c.ID == "" || c.Title == "" {
		return repository.Collection{}, fmt.Errorf("id and title are required")
	}

	collection := repository.Collection{
		ID:          c.ID,
		Title:       c.Title,
		Type:        c.Type,
		MatchPolicy: c.MatchPolicy,
		DefaultSort: c.DefaultSort,
		Visible:     true,
	}
	if c.Visible != nil {
		collection.Visible = *c.Visible
	}

	if len(c.Rules) > 0 {
		rules, err := json.Marshal(c.rulesWire())
		if err != nil {
			return repository.Collection{}, fmt.Errorf("encode rules: %w", err)
		}
		collection.Rules = rules
	}

	var err error
	collection.StartsAt, err = parseFixtureTime(c.StartsAt)
	if err != nil {
		return repository.Collection{}, fmt.Errorf("parse starts_at: %w", err)
	}
	collection.EndsAt, err = parseFixtureTime(c.EndsAt)
	if err != nil {
		return repository.Collection{}, fmt.Errorf("parse ends_at: %w", err)
	}

	return collection, nil
}

// rulesWire converts fixture rules to the wire shape stored in the rules
// column.
func (c fixtureCollection) rulesWire() []map[string]string {
	out := make([]map[string]string, len(c.Rules))
	for i, r := range c.Rules {
		out[i] = map[string]string{
			"field":    r.Field,
			"operator": r.Operator,
			"value":    r.Value,
		}
	}
	return out
}

func parseFixtureTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
