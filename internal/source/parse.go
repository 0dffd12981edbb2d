package source

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Text wire format shared by the serial and replay providers (and by
// synthetic script files). One frame is a block of lines:
//
//	FRAME <width> <height>
//	HIST <bin>:<count> <bin>:<count> ...     (optional, sparse, may repeat)
//	OBS <kind>;<key>;<confidence>;<borderLuma>;<backgroundLuma>;<m0,...,m15>
//	END
//
// Lines outside a FRAME/END block and lines starting with '#' are ignored.

// recordParser assembles frames from a stream of wire-format lines.
// Feed one line at a time; a completed frame is returned on END.
type recordParser struct {
	current *Frame
}

// feed consumes one line. It returns a non-nil frame when the line
// completes a block, and an error for malformed lines (the current block
// is abandoned so a corrupted stream resynchronises at the next FRAME).
func (p *recordParser) feed(line string) (*Frame, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}

	keyword, rest, _ := strings.Cut(line, " ")
	switch keyword {
	case "FRAME":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			p.current = nil
			return nil, fmt.Errorf("FRAME wants 2 fields, got %d", len(fields))
		}
		width, err := strconv.Atoi(fields[0])
		if err != nil {
			p.current = nil
			return nil, fmt.Errorf("bad frame width %q", fields[0])
		}
		height, err := strconv.Atoi(fields[1])
		if err != nil {
			p.current = nil
			return nil, fmt.Errorf("bad frame height %q", fields[1])
		}
		p.current = &Frame{Width: width, Height: height, Timestamp: time.Now()}
		return nil, nil

	case "HIST":
		if p.current == nil {
			return nil, fmt.Errorf("HIST outside FRAME block")
		}
		for _, entry := range strings.Fields(rest) {
			binStr, countStr, found := strings.Cut(entry, ":")
			if !found {
				return nil, fmt.Errorf("malformed HIST entry %q", entry)
			}
			bin, err := strconv.Atoi(binStr)
			if err != nil || bin < 0 || bin > 255 {
				return nil, fmt.Errorf("bad HIST bin %q", binStr)
			}
			count, err := strconv.Atoi(countStr)
			if err != nil || count < 0 {
				return nil, fmt.Errorf("bad HIST count %q", countStr)
			}
			p.current.LumaHistogram[bin] += count
		}
		return nil, nil

	case "OBS":
		if p.current == nil {
			return nil, fmt.Errorf("OBS outside FRAME block")
		}
		obs, err := parseObservation(rest)
		if err != nil {
			return nil, err
		}
		p.current.Observations = append(p.current.Observations, obs)
		return nil, nil

	case "END":
		if p.current == nil {
			return nil, fmt.Errorf("END outside FRAME block")
		}
		frame := p.current
		p.current = nil
		return frame, nil

	default:
		return nil, fmt.Errorf("unknown record keyword %q", keyword)
	}
}

// parseObservation parses the semicolon-separated OBS payload.
func parseObservation(payload string) (Observation, error) {
	var obs Observation

	segments := strings.Split(payload, ";")
	if len(segments) != 6 {
		return obs, fmt.Errorf("OBS wants 6 segments, got %d", len(segments))
	}

	kind := ObservationKind(strings.TrimSpace(segments[0]))
	switch kind {
	case KindSquare, KindBarcode, KindNFT, KindTwoD:
	default:
		return obs, fmt.Errorf("unknown observation kind %q", segments[0])
	}
	obs.Kind = kind
	obs.Key = strings.TrimSpace(segments[1])
	if obs.Key == "" {
		return obs, fmt.Errorf("empty observation key")
	}

	confidence, err := strconv.ParseFloat(strings.TrimSpace(segments[2]), 64)
	if err != nil {
		return obs, fmt.Errorf("bad confidence %q", segments[2])
	}
	obs.Confidence = confidence

	border, err := strconv.ParseUint(strings.TrimSpace(segments[3]), 10, 8)
	if err != nil {
		return obs, fmt.Errorf("bad border luma %q", segments[3])
	}
	obs.BorderLuma = uint8(border)

	background, err := strconv.ParseUint(strings.TrimSpace(segments[4]), 10, 8)
	if err != nil {
		return obs, fmt.Errorf("bad background luma %q", segments[4])
	}
	obs.BackgroundLuma = uint8(background)

	cells := strings.Split(segments[5], ",")
	if len(cells) != 16 {
		return obs, fmt.Errorf("pose wants 16 cells, got %d", len(cells))
	}
	for i, cell := range cells {
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return obs, fmt.Errorf("bad pose cell %d %q", i, cell)
		}
		obs.Pose[i] = v
	}

	return obs, nil
}

// FormatFrame renders a frame back into the wire format. Used by tooling
// that generates replay fixtures and by tests.
func FormatFrame(f Frame) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FRAME %d %d\n", f.Width, f.Height)

	var hist []string
	for bin, count := range f.LumaHistogram {
		if count > 0 {
			hist = append(hist, fmt.Sprintf("%d:%d", bin, count))
		}
	}
	if len(hist) > 0 {
		fmt.Fprintf(&b, "HIST %s\n", strings.Join(hist, " "))
	}

	for _, obs := range f.Observations {
		cells := make([]string, 16)
		for i, v := range obs.Pose {
			cells[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		fmt.Fprintf(&b, "OBS %s;%s;%g;%d;%d;%s\n",
			obs.Kind, obs.Key, obs.Confidence, obs.BorderLuma, obs.BackgroundLuma,
			strings.Join(cells, ","))
	}

	b.WriteString("END\n")
	return b.String()
}
