package satellites

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

const tleLineLen = 69

// Element is one parsed two-line element set.
type Element struct {
	Name   string
	Line1  string
	Line2  string
	NORAD  int
	IntlID string // international designator, e.g. "1998-067A"
}

// ParseTLE parses two or three line element sets. Name lines are optional.
// Every line pair is validated before it reaches the propagator.
func ParseTLE(text string) ([]Element, error) {
	var (
		out  []Element
		name string
		l1   string
		n    int
	)
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		n++
		line := strings.TrimRight(sc.Text(), " \t\r")
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "1 ") && l1 == "":
			l1 = line
		case strings.HasPrefix(line, "2 ") && l1 != "":
			el, err := parseElement(name, l1, line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
			out = append(out, el)
			name, l1 = "", ""
		case l1 != "":
			return nil, fmt.Errorf("line %d: expected line 2 after line 1", n)
		case strings.HasPrefix(line, "2 ") && len(line) == tleLineLen:
			return nil, fmt.Errorf("line %d: line 2 without line 1", n)
		default:
			name = strings.TrimSpace(strings.TrimPrefix(line, "0 "))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if l1 != "" {
		return nil, fmt.Errorf("line %d: truncated element set", n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no element sets")
	}
	return out, nil
}

func parseElement(name, l1, l2 string) (Element, error) {
	for i, l := range []string{l1, l2} {
		if len(l) != tleLineLen {
			return Element{}, fmt.Errorf("line %d: length %d, want %d", i+1, len(l), tleLineLen)
		}
		if want := int(l[68] - '0'); l[68] < '0' || l[68] > '9' || checksum(l) != want {
			return Element{}, fmt.Errorf("line %d: bad checksum", i+1)
		}
	}
	norad, err := strconv.Atoi(strings.TrimSpace(l1[2:7]))
	if err != nil {
		return Element{}, fmt.Errorf("catalog number: %w", err)
	}
	if n2, err := strconv.Atoi(strings.TrimSpace(l2[2:7])); err != nil || n2 != norad {
		return Element{}, fmt.Errorf("catalog number mismatch between lines")
	}
	// The propagator parses these columns without error handling.
	fields := []struct {
		line       string
		start, end int
		what       string
	}{
		{l1, 18, 20, "epoch year"},
		{l1, 20, 32, "epoch day"},
		{l2, 8, 16, "inclination"},
		{l2, 17, 25, "right ascension"},
		{l2, 26, 33, "eccentricity"},
		{l2, 34, 42, "argument of perigee"},
		{l2, 43, 51, "mean anomaly"},
		{l2, 52, 63, "mean motion"},
	}
	for _, f := range fields {
		if _, err := strconv.ParseFloat(strings.TrimSpace(f.line[f.start:f.end]), 64); err != nil {
			return Element{}, fmt.Errorf("%s: %w", f.what, err)
		}
	}
	return Element{
		Name:   name,
		Line1:  l1,
		Line2:  l2,
		NORAD:  norad,
		IntlID: intlDesignator(l1[9:17]),
	}, nil
}

// checksum is the modulo 10 sum of the digits of the first 68 columns,
// minus signs counting as one.
func checksum(line string) int {
	sum := 0
	for _, ch := range line[:tleLineLen-1] {
		switch {
		case ch >= '0' && ch <= '9':
			sum += int(ch - '0')
		case ch == '-':
			sum++
		}
	}
	return sum % 10
}

func intlDesignator(field string) string {
	f := strings.TrimSpace(field)
	if len(f) < 5 {
		return ""
	}
	yy, err := strconv.Atoi(f[:2])
	if err != nil {
		return ""
	}
	year := 1900 + yy
	if yy < 57 {
		year = 2000 + yy
	}
	return fmt.Sprintf("%d-%s", year, f[2:])
}
