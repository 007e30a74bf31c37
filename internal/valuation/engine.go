package valuation

import (
	"errors"

	"github.com/shopspring/decimal"

	"rigscout/internal/specs"
)

var thousand = decimal.NewFromInt(1000)

// FMVResult is the fair-market estimate for one ComponentSet. Unknown is set when
// no component could be priced; Total then holds the configured floor and
// Confidence is zero.
type FMVResult struct {
	Total             decimal.Decimal                `json:"total"`
	ByComponent       map[specs.Kind]decimal.Decimal `json:"by_component"`
	Confidence        float64                        `json:"confidence"`
	PriceTableVersion string                         `json:"price_table_version"`
	Unknown           bool                           `json:"unknown"`
}

// Options tune the engine.
type Options struct {
	FloorValue decimal.Decimal
}

// Engine prices ComponentSets against a PriceTable. It is immutable once built.
type Engine struct {
	version   string
	cpu       map[string]decimal.Decimal
	gpu       map[string]decimal.Decimal
	ramPerGB  decimal.Decimal
	storage   map[string]decimal.Decimal
	reference map[specs.Kind]decimal.Decimal
	floor     decimal.Decimal
}

// NewEngine indexes table for lookups.
func NewEngine(table *PriceTable, opts Options) (*Engine, error) {
	if table == nil {
		return nil, errors.New("price table is required")
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if opts.FloorValue.IsNegative() {
		return nil, errors.New("floor value cannot be negative")
	}

	reference := DefaultReference()
	for k, v := range table.Reference {
		reference[k] = v
	}
	storage := make(map[string]decimal.Decimal, len(table.StoragePerTB))
	for k, v := range table.StoragePerTB {
		storage[modelKey(k)] = v
	}

	return &Engine{
		version:   table.Version,
		cpu:       indexPrices(table.CPU),
		gpu:       indexPrices(table.GPU),
		ramPerGB:  table.RAMPerGB,
		storage:   storage,
		reference: reference,
		floor:     opts.FloorValue,
	}, nil
}

// Version returns the price table version the engine was built from.
func (e *Engine) Version() string {
	return e.version
}

// Floor returns the value reported for listings that cannot be priced.
func (e *Engine) Floor() decimal.Decimal {
	return e.floor
}

type componentValue struct {
	value      decimal.Decimal
	confidence float64
	matched    bool
}

// Appraise computes the FMV of cs. The result is a pure function of cs and the
// price table.
func (e *Engine) Appraise(cs specs.ComponentSet) FMVResult {
	values := map[specs.Kind]componentValue{
		specs.KindGPU:     e.priceModel(cs.GPU, e.gpu),
		specs.KindCPU:     e.priceModel(cs.CPU, e.cpu),
		specs.KindRAM:     e.priceRAM(cs.RAM),
		specs.KindStorage: e.priceStorage(cs.Storage),
	}

	result := FMVResult{
		Total:             decimal.Zero,
		ByComponent:       make(map[specs.Kind]decimal.Decimal),
		PriceTableVersion: e.version,
	}

	weighted := 0.0
	weights := 0.0
	anyMatched := false
	for _, kind := range specs.Kinds() {
		cv := values[kind]
		weight := e.reference[kind]
		if cv.matched {
			anyMatched = true
			result.Total = result.Total.Add(cv.value)
			result.ByComponent[kind] = cv.value
			weight = cv.value
		}
		w := weight.InexactFloat64()
		if w <= 0 {
			continue
		}
		weights += w
		weighted += w * cv.confidence
	}

	if !anyMatched {
		result.Total = e.floor
		result.Unknown = true
		return result
	}

	if result.Total.LessThan(e.floor) {
		result.Total = e.floor
	}
	if weights > 0 {
		result.Confidence = clamp01(weighted / weights)
	}
	return result
}

func (e *Engine) priceModel(c *specs.Component, prices map[string]decimal.Decimal) componentValue {
	if c == nil {
		return componentValue{}
	}
	price, ok := prices[modelKey(c.Model)]
	if !ok || !price.IsPositive() {
		return componentValue{}
	}
	return componentValue{value: price, confidence: c.Confidence, matched: true}
}

func (e *Engine) priceRAM(m *specs.Memory) componentValue {
	if m == nil || m.TotalGB <= 0 || !e.ramPerGB.IsPositive() {
		return componentValue{}
	}
	return componentValue{
		value:      e.ramPerGB.Mul(decimal.NewFromInt(int64(m.TotalGB))),
		confidence: m.Confidence,
		matched:    true,
	}
}

// priceStorage sums every priced drive; its confidence is the value-weighted
// confidence of those drives.
func (e *Engine) priceStorage(devices []specs.StorageDevice) componentValue {
	total := decimal.Zero
	weighted := 0.0
	for _, d := range devices {
		perTB, ok := e.storage[modelKey(d.Kind)]
		if !ok || d.CapacityGB <= 0 || !perTB.IsPositive() {
			continue
		}
		v := perTB.Mul(decimal.NewFromInt(int64(d.CapacityGB))).Div(thousand)
		total = total.Add(v)
		weighted += v.InexactFloat64() * d.Confidence
	}
	if !total.IsPositive() {
		return componentValue{}
	}
	return componentValue{
		value:      total,
		confidence: clamp01(weighted / total.InexactFloat64()),
		matched:    true,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
