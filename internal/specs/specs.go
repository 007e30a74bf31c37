package specs

// Confidence levels assigned to a matched component.
const (
	ConfidenceExact   = 1.0
	ConfidencePartial = 0.6
)

// Kind names a component family.
type Kind string

// Component kinds priced by the valuation engine.
const (
	KindCPU     Kind = "cpu"
	KindGPU     Kind = "gpu"
	KindRAM     Kind = "ram"
	KindStorage Kind = "storage"
)

// Kinds lists component kinds in valuation order.
func Kinds() []Kind {
	return []Kind{KindGPU, KindCPU, KindRAM, KindStorage}
}

// Component is a single matched part. Raw is the text that matched, Model the
// canonical name used for price lookups.
type Component struct {
	Raw        string  `json:"raw"`
	Model      string  `json:"model"`
	Confidence float64 `json:"confidence"`
}

// Memory is the summed RAM capacity.
type Memory struct {
	Raw        string  `json:"raw"`
	TotalGB    int     `json:"total_gb"`
	Confidence float64 `json:"confidence"`
}

// StorageDevice is one drive. CapacityGB is zero when only the drive type was mentioned.
type StorageDevice struct {
	Raw        string  `json:"raw"`
	Kind       string  `json:"kind"`
	CapacityGB int     `json:"capacity_gb"`
	Confidence float64 `json:"confidence"`
}

// ComponentSet is the structured hardware found in a listing. A nil field means no
// match at all, which is distinct from a low-confidence guess.
type ComponentSet struct {
	CPU     *Component      `json:"cpu,omitempty"`
	GPU     *Component      `json:"gpu,omitempty"`
	RAM     *Memory         `json:"ram,omitempty"`
	Storage []StorageDevice `json:"storage,omitempty"`
}

// Empty reports whether nothing was recognised.
func (cs ComponentSet) Empty() bool {
	return cs.CPU == nil && cs.GPU == nil && cs.RAM == nil && len(cs.Storage) == 0
}

// StorageGB sums the known storage capacity.
func (cs ComponentSet) StorageGB() int {
	total := 0
	for _, d := range cs.Storage {
		total += d.CapacityGB
	}
	return total
}
