package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a trackable variant.
type Kind int

const (
	KindSquare Kind = iota
	KindSquareBarcode
	KindMultimarker
	KindNFT
	KindTwoD
)

// String returns the variant name used in configuration strings and logs.
func (k Kind) String() string {
	switch k {
	case KindSquare:
		return "single_buffer"
	case KindSquareBarcode:
		return "single_barcode"
	case KindMultimarker:
		return "multi"
	case KindNFT:
		return "nft"
	case KindTwoD:
		return "2d"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Config is the variant-tagged trackable configuration. Exactly one
// concrete type exists per variant; the sealed interface forces every
// consumer switch to enumerate all of them.
type Config interface {
	Kind() Kind

	// String renders the canonical configuration string. The format is
	// stable and shared with existing asset pipelines; Parse(c.String())
	// reproduces c.
	String() string

	validate() error
}

// SquareConfig describes a single template pattern marker.
type SquareConfig struct {
	WidthMM float64
	Pattern string // ASCII pattern buffer
}

// BarcodeConfig describes a single matrix/ID-coded marker.
type BarcodeConfig struct {
	BarcodeID int
	WidthMM   float64
}

// MultiConfig describes a set of barcode markers fused into one rigid body,
// laid out by a config file.
type MultiConfig struct {
	Path string
}

// NFTConfig describes a natural-feature tracking dataset.
type NFTConfig struct {
	Path string
}

// TwoDConfig describes a planar textured image target.
type TwoDConfig struct {
	Path    string
	WidthMM float64
}

func (c SquareConfig) Kind() Kind  { return KindSquare }
func (c BarcodeConfig) Kind() Kind { return KindSquareBarcode }
func (c MultiConfig) Kind() Kind   { return KindMultimarker }
func (c NFTConfig) Kind() Kind     { return KindNFT }
func (c TwoDConfig) Kind() Kind    { return KindTwoD }

func (c SquareConfig) String() string {
	return fmt.Sprintf("single_buffer;%s;buffer=%s", formatWidth(c.WidthMM), c.Pattern)
}

func (c BarcodeConfig) String() string {
	return fmt.Sprintf("single_barcode;%d;%s", c.BarcodeID, formatWidth(c.WidthMM))
}

func (c MultiConfig) String() string { return "multi;" + c.Path }

func (c NFTConfig) String() string { return "nft;" + c.Path }

func (c TwoDConfig) String() string {
	return fmt.Sprintf("2d;%s;%s", c.Path, formatWidth(c.WidthMM))
}

func (c SquareConfig) validate() error {
	if c.Pattern == "" {
		return fmt.Errorf("%w: single_buffer requires a pattern buffer", ErrConfigInvalid)
	}
	if c.WidthMM <= 0 {
		return fmt.Errorf("%w: single_buffer width must be positive, got %v", ErrConfigInvalid, c.WidthMM)
	}
	return nil
}

func (c BarcodeConfig) validate() error {
	if c.BarcodeID < 0 {
		return fmt.Errorf("%w: single_barcode ID must be non-negative, got %d", ErrConfigInvalid, c.BarcodeID)
	}
	if c.WidthMM <= 0 {
		return fmt.Errorf("%w: single_barcode width must be positive, got %v", ErrConfigInvalid, c.WidthMM)
	}
	return nil
}

func (c MultiConfig) validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: multi requires a config path", ErrConfigInvalid)
	}
	return nil
}

func (c NFTConfig) validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: nft requires a dataset path", ErrConfigInvalid)
	}
	return nil
}

func (c TwoDConfig) validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: 2d requires an image path", ErrConfigInvalid)
	}
	if c.WidthMM <= 0 {
		return fmt.Errorf("%w: 2d width must be positive, got %v", ErrConfigInvalid, c.WidthMM)
	}
	return nil
}

// Parse parses a trackable configuration string:
//
//	single_buffer;<width_mm>;buffer=<pattern-ascii>
//	single_barcode;<id>;<width_mm>
//	multi;<path>
//	nft;<path>
//	2d;<path>;<width_mm>
func Parse(s string) (Config, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty trackable configuration", ErrConfigInvalid)
	}

	variant, rest, _ := strings.Cut(s, ";")
	switch variant {
	case "single_buffer":
		widthStr, bufferField, found := strings.Cut(rest, ";")
		if !found {
			return nil, fmt.Errorf("%w: single_buffer wants 3 fields", ErrConfigInvalid)
		}
		width, err := parseWidth(widthStr)
		if err != nil {
			return nil, err
		}
		pattern, ok := strings.CutPrefix(bufferField, "buffer=")
		if !ok {
			return nil, fmt.Errorf("%w: single_buffer third field must be buffer=", ErrConfigInvalid)
		}
		cfg := SquareConfig{WidthMM: width, Pattern: pattern}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		return cfg, nil

	case "single_barcode":
		idStr, widthStr, found := strings.Cut(rest, ";")
		if !found {
			return nil, fmt.Errorf("%w: single_barcode wants 3 fields", ErrConfigInvalid)
		}
		id, err := strconv.Atoi(strings.TrimSpace(idStr))
		if err != nil {
			return nil, fmt.Errorf("%w: bad barcode ID %q", ErrConfigInvalid, idStr)
		}
		width, err := parseWidth(widthStr)
		if err != nil {
			return nil, err
		}
		cfg := BarcodeConfig{BarcodeID: id, WidthMM: width}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		return cfg, nil

	case "multi":
		cfg := MultiConfig{Path: strings.TrimSpace(rest)}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		return cfg, nil

	case "nft":
		cfg := NFTConfig{Path: strings.TrimSpace(rest)}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		return cfg, nil

	case "2d":
		path, widthStr, found := strings.Cut(rest, ";")
		if !found {
			return nil, fmt.Errorf("%w: 2d wants 3 fields", ErrConfigInvalid)
		}
		width, err := parseWidth(widthStr)
		if err != nil {
			return nil, err
		}
		cfg := TwoDConfig{Path: strings.TrimSpace(path), WidthMM: width}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		return cfg, nil

	default:
		return nil, fmt.Errorf("%w: unknown trackable variant %q", ErrConfigInvalid, variant)
	}
}

func parseWidth(s string) (float64, error) {
	width, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad width %q", ErrConfigInvalid, s)
	}
	return width, nil
}

// formatWidth renders widths without a trailing exponent or spurious
// zeroes so that Parse/String round-trips are exact.
func formatWidth(w float64) string {
	return strconv.FormatFloat(w, 'f', -1, 64)
}
