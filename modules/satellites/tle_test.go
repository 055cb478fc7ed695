package satellites

import (
	"strings"
	"testing"
)

const (
	issName  = "ISS (ZARYA)"
	issLine1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	issLine2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"
)

func TestParseTLE(t *testing.T) {
	els, err := ParseTLE(issName + "\n" + issLine1 + "\n" + issLine2 + "\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(els) != 1 {
		t.Fatalf("expected 1 element set, got %d", len(els))
	}
	el := els[0]
	if el.NORAD != 25544 || el.Name != issName || el.IntlID != "1998-067A" {
		t.Fatalf("unexpected element %+v", el)
	}

	els, err = ParseTLE(issLine1 + "\r\n" + issLine2)
	if err != nil || len(els) != 1 || els[0].Name != "" {
		t.Fatalf("two line form: %+v, %v", els, err)
	}
}

func TestParseTLERejects(t *testing.T) {
	badChecksum := issLine1[:68] + "0"
	cases := []struct {
		name string
		text string
		want string
	}{
		{"empty", "", "no element sets"},
		{"checksum", badChecksum + "\n" + issLine2, "checksum"},
		{"short", issLine1[:60] + "\n" + issLine2, "length"},
		{"truncated", issName + "\n" + issLine1, "truncated"},
		{"orphan line 2", issLine2, "without line 1"},
		{"mismatch", issLine1 + "\n" + strings.Replace(issLine2, "25544", "25545", 1), "checksum"},
		{"garbage after line 1", issLine1 + "\nhello", "expected line 2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTLE(tc.text)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestChecksum(t *testing.T) {
	if got := checksum(issLine1); got != 7 {
		t.Fatalf("line 1 checksum = %d", got)
	}
	if got := checksum(issLine2); got != 7 {
		t.Fatalf("line 2 checksum = %d", got)
	}
}
