package specs

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"rigscout/internal/listing"
)

// DefaultMinMatchLength rejects matches this short or shorter.
const DefaultMinMatchLength = 2

type pattern struct {
	re         *regexp.Regexp
	confidence float64
	canonical  func(m []string) string
}

var cpuPatterns = []pattern{
	{
		re:         regexp.MustCompile(`(?i)\b(?:intel\s+)?(?:core\s+)?(i[3579])\s*-?\s*(\d{4,5})([a-z]{0,2})\b`),
		confidence: ConfidenceExact,
		canonical: func(m []string) string {
			return strings.ToLower(m[1]) + "-" + m[2] + strings.ToUpper(m[3])
		},
	},
	{
		re:         regexp.MustCompile(`(?i)\b(?:intel\s+)?core\s+ultra\s+([579])\s*-?\s*(\d{3})([a-z]?)\b`),
		confidence: ConfidenceExact,
		canonical: func(m []string) string {
			return "Core Ultra " + m[1] + " " + m[2] + strings.ToUpper(m[3])
		},
	},
	{
		re:         regexp.MustCompile(`(?i)\b(?:amd\s+)?ryzen\s*([3579])\s*-?\s*(\d{4})(x3d|xt|x|ge|g|f)?\b`),
		confidence: ConfidenceExact,
		canonical: func(m []string) string {
			return "Ryzen " + m[1] + " " + m[2] + strings.ToUpper(m[3])
		},
	},
	{
		re:         regexp.MustCompile(`(?i)\b(i[3579])\s+(\d{1,2})(?:st|nd|rd|th)?\s*gen\b`),
		confidence: ConfidencePartial,
		canonical: func(m []string) string {
			return strings.ToLower(m[1])
		},
	},
	{
		re:         regexp.MustCompile(`(?i)\b(?:intel\s+)?core\s+(i[3579])\b`),
		confidence: ConfidencePartial,
		canonical: func(m []string) string {
			return strings.ToLower(m[1])
		},
	},
	{
		re:         regexp.MustCompile(`(?i)\b(i[3579])\s+(?:cpu|processor)\b`),
		confidence: ConfidencePartial,
		canonical: func(m []string) string {
			return strings.ToLower(m[1])
		},
	},
	{
		re:         regexp.MustCompile(`(?i)\b(?:amd\s+)?ryzen\s*([3579])\b`),
		confidence: ConfidencePartial,
		canonical: func(m []string) string {
			return "Ryzen " + m[1]
		},
	},
}

var gpuPatterns = []pattern{
	{
		re:         regexp.MustCompile(`(?i)\b(?:nvidia\s+)?(?:geforce\s+)?(rtx|gtx)\s*-?\s*(\d{3,4})(?:\s*(ti\s*super|ti|super))?\b`),
		confidence: ConfidenceExact,
		canonical: func(m []string) string {
			return strings.ToUpper(m[1]) + " " + m[2] + nvidiaSuffix(m[3])
		},
	},
	{
		re:         regexp.MustCompile(`(?i)\b(?:amd\s+)?(?:radeon\s+)?rx\s*-?\s*(\d{3,4})(?:\s*(xtx|xt|gre))?\b`),
		confidence: ConfidenceExact,
		canonical: func(m []string) string {
			model := "RX " + m[1]
			if m[2] != "" {
				model += " " + strings.ToUpper(m[2])
			}
			return model
		},
	},
	{
		re:         regexp.MustCompile(`(?i)\b(?:intel\s+)?arc\s+([ab])(\d{3})\b`),
		confidence: ConfidenceExact,
		canonical: func(m []string) string {
			return "Arc " + strings.ToUpper(m[1]) + m[2]
		},
	},
	{
		re:         regexp.MustCompile(`(?i)\b(?:nvidia\s+)?geforce\s+(rtx|gtx)\b`),
		confidence: ConfidencePartial,
		canonical: func(m []string) string {
			return "GeForce " + strings.ToUpper(m[1])
		},
	},
	{
		re:         regexp.MustCompile(`(?i)\bnvidia\s+(rtx|gtx)\b`),
		confidence: ConfidencePartial,
		canonical: func(m []string) string {
			return "GeForce " + strings.ToUpper(m[1])
		},
	},
	{
		re:         regexp.MustCompile(`(?i)\b(?:amd\s+)?radeon\b`),
		confidence: ConfidencePartial,
		canonical: func(m []string) string {
			return "Radeon"
		},
	},
}

var (
	ramModuleRe   = regexp.MustCompile(`(?i)\b([1-8])\s*x\s*(\d{1,3})\s*gb\b`)
	ramExplicitRe = regexp.MustCompile(`(?i)\b(\d{1,3})\s*gb\s*(?:of\s+)?(?:ddr[345]|ram|memory)\b`)
	ramPartialRe  = regexp.MustCompile(`(?i)\b(8|16|32|64|128)\s*gb\b`)

	storageRe        = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(tb|gb)\s*(?:(?:m\.2|pcie|sata|gen\s*[345])\s*)*(nvme|ssd|hdd|hard\s*drive)\b`)
	storagePartialRe = regexp.MustCompile(`(?i)\b(nvme|ssd|hdd)\b`)

	// words that mark a bare "NN GB" as something other than system memory
	nonRAMContext = []string{"ssd", "hdd", "nvme", "storage", "vram", "gddr", "drive", "m.2", "rtx", "gtx", "rx ", "radeon", "gpu", "graphics"}
)

const maxPlausibleRAMGB = 512

func nvidiaSuffix(raw string) string {
	s := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	switch s {
	case "ti super", "tisuper":
		return " Ti SUPER"
	case "ti":
		return " Ti"
	case "super":
		return " SUPER"
	}
	return ""
}

// Normalizer turns listing text into a ComponentSet. It holds no mutable state and
// is safe for concurrent use.
type Normalizer struct {
	minMatchLen int
	policy      *bluemonday.Policy
}

// NewNormalizer builds a Normalizer. Matches no longer than minMatchLen are ignored.
func NewNormalizer(minMatchLen int) *Normalizer {
	if minMatchLen <= 0 {
		minMatchLen = DefaultMinMatchLength
	}
	return &Normalizer{minMatchLen: minMatchLen, policy: bluemonday.StrictPolicy()}
}

// NormalizeDraft extracts components from a draft's title and description.
func (n *Normalizer) NormalizeDraft(d listing.Draft) ComponentSet {
	return n.Normalize(d.Title, d.Description)
}

// Normalize extracts components from a title and description. The same input always
// yields the same ComponentSet.
func (n *Normalizer) Normalize(title, description string) ComponentSet {
	title = n.clean(title)
	description = n.clean(description)
	text := strings.TrimSpace(title + "\n" + description)

	var cs ComponentSet
	cs.CPU = n.firstMatch(text, cpuPatterns)
	cs.GPU = n.firstMatch(text, gpuPatterns)
	cs.RAM = n.memory(title, description)
	cs.Storage = n.storage(title, description)
	return cs
}

func (n *Normalizer) clean(s string) string {
	if s == "" {
		return ""
	}
	stripped := html.UnescapeString(n.policy.Sanitize(s))
	return strings.Join(strings.Fields(stripped), " ")
}

func (n *Normalizer) long(match string) bool {
	return len(match) > n.minMatchLen
}

func (n *Normalizer) firstMatch(text string, family []pattern) *Component {
	for _, p := range family {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			if !n.long(m[0]) {
				continue
			}
			return &Component{
				Raw:        strings.TrimSpace(m[0]),
				Model:      p.canonical(m),
				Confidence: p.confidence,
			}
		}
	}
	return nil
}

// memory sums module notation ("2x16GB") within one text segment, preferring the
// description so a title repeating the same kit is not counted twice.
func (n *Normalizer) memory(title, description string) *Memory {
	for _, segment := range []string{description, title} {
		total := 0
		var raws []string
		for _, m := range ramModuleRe.FindAllStringSubmatch(segment, -1) {
			if !n.long(m[0]) {
				continue
			}
			count, _ := strconv.Atoi(m[1])
			size, _ := strconv.Atoi(m[2])
			total += count * size
			raws = append(raws, m[0])
		}
		if total > 0 && total <= maxPlausibleRAMGB {
			return &Memory{Raw: strings.Join(raws, " + "), TotalGB: total, Confidence: ConfidenceExact}
		}
	}

	text := title + "\n" + description
	for _, m := range ramExplicitRe.FindAllStringSubmatch(text, -1) {
		if !n.long(m[0]) {
			continue
		}
		size, _ := strconv.Atoi(m[1])
		if size <= 0 || size > maxPlausibleRAMGB {
			continue
		}
		return &Memory{Raw: m[0], TotalGB: size, Confidence: ConfidenceExact}
	}

	for _, idx := range ramPartialRe.FindAllStringSubmatchIndex(text, -1) {
		raw := text[idx[0]:idx[1]]
		if !n.long(raw) || nearStorageWord(text, idx[0], idx[1]) {
			continue
		}
		size, _ := strconv.Atoi(text[idx[2]:idx[3]])
		return &Memory{Raw: raw, TotalGB: size, Confidence: ConfidencePartial}
	}
	return nil
}

func nearStorageWord(text string, start, end int) bool {
	from := start - 12
	if from < 0 {
		from = 0
	}
	to := end + 8
	if to > len(text) {
		to = len(text)
	}
	window := strings.ToLower(text[from:to])
	for _, w := range nonRAMContext {
		if strings.Contains(window, w) {
			return true
		}
	}
	return false
}

// storage collects every drive. Drives in the title are skipped when the description
// already lists one with the same size and type.
func (n *Normalizer) storage(title, description string) []StorageDevice {
	devices := n.drives(description)
	for _, d := range n.drives(title) {
		if !containsDrive(devices, d) {
			devices = append(devices, d)
		}
	}
	if len(devices) > 0 {
		return devices
	}

	text := title + "\n" + description
	for _, m := range storagePartialRe.FindAllStringSubmatch(text, -1) {
		if !n.long(m[0]) {
			continue
		}
		return []StorageDevice{{Raw: m[0], Kind: driveKind(m[1]), Confidence: ConfidencePartial}}
	}
	return nil
}

func (n *Normalizer) drives(segment string) []StorageDevice {
	var out []StorageDevice
	for _, m := range storageRe.FindAllStringSubmatch(segment, -1) {
		if !n.long(m[0]) {
			continue
		}
		size, err := strconv.ParseFloat(m[1], 64)
		if err != nil || size <= 0 {
			continue
		}
		capacity := int(size)
		if strings.EqualFold(m[2], "tb") {
			capacity = int(size * 1000)
		}
		out = append(out, StorageDevice{
			Raw:        m[0],
			Kind:       driveKind(m[3]),
			CapacityGB: capacity,
			Confidence: ConfidenceExact,
		})
	}
	return out
}

func containsDrive(devices []StorageDevice, d StorageDevice) bool {
	for _, existing := range devices {
		if existing.Kind == d.Kind && existing.CapacityGB == d.CapacityGB {
			return true
		}
	}
	return false
}

func driveKind(raw string) string {
	s := strings.ToLower(strings.Join(strings.Fields(raw), ""))
	switch s {
	case "nvme":
		return "nvme"
	case "ssd":
		return "ssd"
	default:
		return "hdd"
	}
}
