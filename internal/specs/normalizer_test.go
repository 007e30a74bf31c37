package specs

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rigscout/internal/listing"
)

func TestNormalizeExactModels(t *testing.T) {
	n := NewNormalizer(0)
	cs := n.Normalize(
		"Gaming PC RTX 3070 i7-10700K 32GB RAM",
		"Runs great. 1TB NVMe SSD plus 2TB HDD for games.",
	)

	if cs.GPU == nil || cs.GPU.Model != "RTX 3070" || cs.GPU.Confidence != ConfidenceExact {
		t.Fatalf("unexpected gpu: %#v", cs.GPU)
	}
	if cs.CPU == nil || cs.CPU.Model != "i7-10700K" || cs.CPU.Confidence != ConfidenceExact {
		t.Fatalf("unexpected cpu: %#v", cs.CPU)
	}
	if cs.RAM == nil || cs.RAM.TotalGB != 32 {
		t.Fatalf("unexpected ram: %#v", cs.RAM)
	}
	if len(cs.Storage) != 2 {
		t.Fatalf("expected two drives, got %#v", cs.Storage)
	}
	if cs.Storage[0].Kind != "nvme" || cs.Storage[0].CapacityGB != 1000 {
		t.Errorf("unexpected first drive: %#v", cs.Storage[0])
	}
	if cs.Storage[1].Kind != "hdd" || cs.Storage[1].CapacityGB != 2000 {
		t.Errorf("unexpected second drive: %#v", cs.Storage[1])
	}
	if cs.StorageGB() != 3000 {
		t.Errorf("expected 3000GB total storage, got %d", cs.StorageGB())
	}
}

func TestNormalizeModelVariants(t *testing.T) {
	tests := []struct {
		name string
		text string
		cpu  string
		gpu  string
	}{
		{"ryzen x3d", "AMD Ryzen 7 5800X3D with Radeon RX 6800 XT", "Ryzen 7 5800X3D", "RX 6800 XT"},
		{"ti super", "i5 12400f and a GeForce RTX 4070 Ti Super", "i5-12400F", "RTX 4070 Ti SUPER"},
		{"compact spelling", "ryzen5 3600 rtx3060ti", "Ryzen 5 3600", "RTX 3060 Ti"},
		{"arc", "Intel Arc A770 build, core ultra 7 155H", "Core Ultra 7 155H", "Arc A770"},
	}

	n := NewNormalizer(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := n.Normalize(tt.text, "")
			if cs.CPU == nil || cs.CPU.Model != tt.cpu {
				t.Errorf("cpu = %#v, want %s", cs.CPU, tt.cpu)
			}
			if cs.GPU == nil || cs.GPU.Model != tt.gpu {
				t.Errorf("gpu = %#v, want %s", cs.GPU, tt.gpu)
			}
		})
	}
}

func TestNormalizePartialMatches(t *testing.T) {
	n := NewNormalizer(0)
	cs := n.Normalize("Intel Core i7 gaming tower", "nvidia rtx graphics, fast ssd")

	if cs.CPU == nil || cs.CPU.Model != "i7" || cs.CPU.Confidence != ConfidencePartial {
		t.Fatalf("unexpected cpu: %#v", cs.CPU)
	}
	if cs.GPU == nil || cs.GPU.Model != "GeForce RTX" || cs.GPU.Confidence != ConfidencePartial {
		t.Fatalf("unexpected gpu: %#v", cs.GPU)
	}
	if len(cs.Storage) != 1 || cs.Storage[0].CapacityGB != 0 || cs.Storage[0].Confidence != ConfidencePartial {
		t.Fatalf("unexpected storage: %#v", cs.Storage)
	}
}

func TestNormalizeAbsentFieldsStayNil(t *testing.T) {
	n := NewNormalizer(0)
	cs := n.Normalize("Desk chair", "Barely used, pickup only")
	if !cs.Empty() {
		t.Fatalf("expected no components, got %#v", cs)
	}
}

func TestNormalizeSumsRAMModules(t *testing.T) {
	n := NewNormalizer(0)
	cs := n.Normalize("Gaming PC 2x16GB", "Memory: 2x16GB + 2x8GB DDR4 3200")
	if cs.RAM == nil {
		t.Fatal("expected ram")
	}
	if cs.RAM.TotalGB != 48 {
		t.Fatalf("expected 48GB from description modules, got %d", cs.RAM.TotalGB)
	}
}

func TestNormalizeBareCapacityIsPartialRAM(t *testing.T) {
	n := NewNormalizer(0)
	cs := n.Normalize("Ryzen 5 3600 build", "16gb, 500gb ssd")
	if cs.RAM == nil || cs.RAM.TotalGB != 16 || cs.RAM.Confidence != ConfidencePartial {
		t.Fatalf("unexpected ram: %#v", cs.RAM)
	}
}

func TestNormalizeStripsHTML(t *testing.T) {
	n := NewNormalizer(0)
	cs := n.Normalize("<b>RTX&nbsp;3080</b>", "<p>i9-9900K &amp; 64GB RAM</p>")
	if cs.GPU == nil || cs.GPU.Model != "RTX 3080" {
		t.Fatalf("unexpected gpu: %#v", cs.GPU)
	}
	if cs.CPU == nil || cs.CPU.Model != "i9-9900K" {
		t.Fatalf("unexpected cpu: %#v", cs.CPU)
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	n := NewNormalizer(0)
	title := "RTX 2070 Super / Ryzen 7 3700X / 2x8GB / 1TB SSD"
	first := n.Normalize(title, "")
	for i := 0; i < 5; i++ {
		if got := n.Normalize(title, ""); !reflect.DeepEqual(first, got) {
			t.Fatalf("run %d differs: %#v vs %#v", i, first, got)
		}
	}
}

func TestMinMatchLengthFiltersShortMatches(t *testing.T) {
	n := NewNormalizer(20)
	cs := n.Normalize("RTX 3070", "")
	if cs.GPU != nil {
		t.Fatalf("short match should be ignored, got %#v", cs.GPU)
	}
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (ComponentSet, bool, error) {
	return ComponentSet{}, false, errors.New("down")
}

func (failingCache) Set(context.Context, string, ComponentSet) error {
	return errors.New("down")
}

func TestCachedNormalizer(t *testing.T) {
	cache := NewMemoryCache()
	cn := NewCachedNormalizer(NewNormalizer(0), cache, zerolog.Nop())
	draft := listing.Draft{
		ExternalID: "42",
		Platform:   listing.PlatformCraigslist,
		Title:      "RTX 3060 gaming pc",
		Price:      decimal.NewFromInt(500),
	}

	cs := cn.Normalize(context.Background(), draft)
	if cs.GPU == nil {
		t.Fatal("expected gpu")
	}
	if cache.Len() != 1 {
		t.Fatalf("expected one cached entry, got %d", cache.Len())
	}

	cached, ok, _ := cache.Get(context.Background(), draft.Key())
	if !ok || cached.GPU.Model != "RTX 3060" {
		t.Fatalf("unexpected cached value: %#v", cached)
	}
}

func TestCachedNormalizerSurvivesCacheFailure(t *testing.T) {
	cn := NewCachedNormalizer(NewNormalizer(0), failingCache{}, zerolog.Nop())
	cs := cn.Normalize(context.Background(), listing.Draft{ExternalID: "1", Title: "GTX 1080 Ti"})
	if cs.GPU == nil || cs.GPU.Model != "GTX 1080 Ti" {
		t.Fatalf("unexpected gpu: %#v", cs.GPU)
	}
}
