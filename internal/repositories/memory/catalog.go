package memory

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/repositories"
)

//go:embed seed/catalog.yaml
var defaultCatalogSeed []byte

// DefaultCatalogSeed returns the bundled catalog seed document.
func DefaultCatalogSeed() []byte {
	return bytes.Clone(defaultCatalogSeed)
}

type catalogSeed struct {
	Products []productSeed `yaml:"products"`
}

type productSeed struct {
	ID                  string   `yaml:"id"`
	Name                string   `yaml:"name"`
	ShortDescription    string   `yaml:"shortDescription"`
	LongDescription     string   `yaml:"longDescription"`
	Type                string   `yaml:"type"`
	Price               string   `yaml:"price"`
	CreditCost          int      `yaml:"creditCost"`
	ImageURL            string   `yaml:"imageUrl"`
	Tags                []string `yaml:"tags"`
	AlertTypesAvailable []string `yaml:"alertTypesAvailable"`
}

// ParseCatalogSeed decodes a YAML catalog document and validates every entry.
func ParseCatalogSeed(r io.Reader) ([]domain.Product, error) {
	var seed catalogSeed
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&seed); err != nil {
		return nil, fmt.Errorf("catalog seed: decode: %w", err)
	}

	products := make([]domain.Product, 0, len(seed.Products))
	seen := make(map[string]struct{}, len(seed.Products))
	var problems []error
	for idx, entry := range seed.Products {
		product, err := entry.toDomain()
		if err != nil {
			problems = append(problems, fmt.Errorf("products[%d]: %w", idx, err))
			continue
		}
		if _, dup := seen[product.ID]; dup {
			problems = append(problems, fmt.Errorf("products[%d]: duplicate id %q", idx, product.ID))
			continue
		}
		seen[product.ID] = struct{}{}
		products = append(products, product)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("catalog seed: %w", errors.Join(problems...))
	}
	return products, nil
}

func (s productSeed) toDomain() (domain.Product, error) {
	id := strings.TrimSpace(s.ID)
	if id == "" {
		return domain.Product{}, errors.New("id is required")
	}
	productType, ok := domain.ParseProductType(s.Type)
	if !ok {
		return domain.Product{}, fmt.Errorf("unknown type %q", s.Type)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(s.Price))
	if err != nil {
		return domain.Product{}, fmt.Errorf("invalid price %q: %w", s.Price, err)
	}
	if price.IsNegative() {
		return domain.Product{}, errors.New("price must not be negative")
	}
	if s.CreditCost < 0 {
		return domain.Product{}, errors.New("creditCost must not be negative")
	}

	var alertTypes []domain.MaritimeAlertType
	for _, raw := range s.AlertTypesAvailable {
		alertType := domain.MaritimeAlertType(strings.ToUpper(strings.TrimSpace(raw)))
		if !alertType.Valid() {
			return domain.Product{}, fmt.Errorf("unknown alert type %q", raw)
		}
		alertTypes = append(alertTypes, alertType)
	}
	if len(alertTypes) > 0 && productType != domain.ProductTypeMaritimeAlert {
		return domain.Product{}, errors.New("alertTypesAvailable only applies to MARITIME_ALERT products")
	}

	return domain.Product{
		ID:                  id,
		Name:                strings.TrimSpace(s.Name),
		ShortDescription:    strings.TrimSpace(s.ShortDescription),
		LongDescription:     strings.TrimSpace(s.LongDescription),
		Type:                productType,
		Price:               price,
		CreditCost:          s.CreditCost,
		ImageURL:            strings.TrimSpace(s.ImageURL),
		Tags:                s.Tags,
		AlertTypesAvailable: alertTypes,
	}, nil
}

// CatalogRepository serves products from memory. It is safe for concurrent readers.
type CatalogRepository struct {
	mu       sync.RWMutex
	order    []string
	products map[string]domain.Product
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a catalog from already parsed products.
func NewCatalogRepository(products []domain.Product) *CatalogRepository {
	repo := &CatalogRepository{
		products: make(map[string]domain.Product, len(products)),
	}
	repo.Replace(products)
	return repo
}

// NewCatalogRepositoryFromYAML parses a seed document and builds the catalog.
func NewCatalogRepositoryFromYAML(seed []byte) (*CatalogRepository, error) {
	products, err := ParseCatalogSeed(bytes.NewReader(seed))
	if err != nil {
		return nil, err
	}
	return NewCatalogRepository(products), nil
}

// Replace swaps the full product set, used when the seed is reloaded.
func (r *CatalogRepository) Replace(products []domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = r.order[:0]
	r.products = make(map[string]domain.Product, len(products))
	for _, product := range products {
		if _, exists := r.products[product.ID]; !exists {
			r.order = append(r.order, product.ID)
		}
		r.products[product.ID] = product
	}
}

func (r *CatalogRepository) List(_ context.Context, filter domain.CatalogFilter) ([]domain.Product, error) {
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(filter.Search))

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Product, 0, len(r.order))
	for _, id := range r.order {
		product := r.products[id]
		if filter.Type != "" && product.Type != filter.Type {
			continue
		}
		if needle != "" && !matches(fold, product, needle) {
			continue
		}
		out = append(out, product)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return domainTypeRank(out[i].Type) < domainTypeRank(out[j].Type)
	})
	return out, nil
}

func (r *CatalogRepository) Get(_ context.Context, productID string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	product, ok := r.products[strings.TrimSpace(productID)]
	if !ok {
		return domain.Product{}, notFound("catalog.get", "product %q not found", productID)
	}
	return product, nil
}

func matches(fold cases.Caser, product domain.Product, needle string) bool {
	fields := append([]string{product.Name, product.ShortDescription, product.LongDescription}, product.Tags...)
	for _, field := range fields {
		if strings.Contains(fold.String(field), needle) {
			return true
		}
	}
	return false
}

func domainTypeRank(t domain.ProductType) int {
	for idx, known := range domain.ProductTypes() {
		if known == t {
			return idx
		}
	}
	return len(domain.ProductTypes())
}
