package valuation

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"rigscout/internal/specs"
)

// PriceTable is the reference data the engine prices components against. Keys are
// canonical model names; lookups ignore case, spaces and dashes.
type PriceTable struct {
	Version      string                         `json:"version"`
	Currency     string                         `json:"currency"`
	CPU          map[string]decimal.Decimal     `json:"cpu"`
	GPU          map[string]decimal.Decimal     `json:"gpu"`
	RAMPerGB     decimal.Decimal                `json:"ram_per_gb"`
	StoragePerTB map[string]decimal.Decimal     `json:"storage_per_tb"`
	Reference    map[specs.Kind]decimal.Decimal `json:"reference"`
}

type priceTableFile struct {
	Version      string             `yaml:"version"`
	Currency     string             `yaml:"currency"`
	CPU          map[string]float64 `yaml:"cpu"`
	GPU          map[string]float64 `yaml:"gpu"`
	RAMPerGB     float64            `yaml:"ram_per_gb"`
	StoragePerTB map[string]float64 `yaml:"storage_per_tb"`
	Reference    map[string]float64 `yaml:"reference"`
}

// DefaultReference holds the typical value of each component kind. It weights an
// unmatched component when computing confidence.
func DefaultReference() map[specs.Kind]decimal.Decimal {
	return map[specs.Kind]decimal.Decimal{
		specs.KindGPU:     decimal.NewFromInt(350),
		specs.KindCPU:     decimal.NewFromInt(150),
		specs.KindRAM:     decimal.NewFromInt(60),
		specs.KindStorage: decimal.NewFromInt(40),
	}
}

// LoadPriceTable reads a YAML price table from path.
func LoadPriceTable(path string) (*PriceTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price table: %w", err)
	}
	return ParsePriceTable(data)
}

// ParsePriceTable decodes YAML price table content.
func ParsePriceTable(data []byte) (*PriceTable, error) {
	var raw priceTableFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode price table: %w", err)
	}

	table := &PriceTable{
		Version:      strings.TrimSpace(raw.Version),
		Currency:     strings.ToUpper(strings.TrimSpace(raw.Currency)),
		CPU:          toDecimals(raw.CPU),
		GPU:          toDecimals(raw.GPU),
		RAMPerGB:     decimal.NewFromFloat(raw.RAMPerGB),
		StoragePerTB: toDecimals(raw.StoragePerTB),
		Reference:    DefaultReference(),
	}
	for kind, v := range raw.Reference {
		table.Reference[specs.Kind(strings.ToLower(kind))] = decimal.NewFromFloat(v)
	}
	if table.Currency == "" {
		table.Currency = "USD"
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

func toDecimals(in map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = decimal.NewFromFloat(v)
	}
	return out
}

// Validate rejects tables without a version or with negative prices.
func (t *PriceTable) Validate() error {
	if t.Version == "" {
		return fmt.Errorf("price table version is required")
	}
	check := func(section string, m map[string]decimal.Decimal) error {
		for k, v := range m {
			if v.IsNegative() {
				return fmt.Errorf("price table %s[%s] is negative", section, k)
			}
		}
		return nil
	}
	if err := check("cpu", t.CPU); err != nil {
		return err
	}
	if err := check("gpu", t.GPU); err != nil {
		return err
	}
	if err := check("storage_per_tb", t.StoragePerTB); err != nil {
		return err
	}
	if t.RAMPerGB.IsNegative() {
		return fmt.Errorf("price table ram_per_gb is negative")
	}
	return nil
}

// modelKey folds case, spaces and dashes so "i7-10700K" and "i7 10700k" collide.
func modelKey(model string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(model) {
		if r == ' ' || r == '-' || r == '_' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func indexPrices(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[modelKey(k)] = v
	}
	return out
}
