package csvimport

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplitLinePlainFields(t *testing.T) {
	got := SplitLine("a,b,c")
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSplitLineRoundTripWithoutQuotes(t *testing.T) {
	lines := []string{
		"a,b,c",
		"one field",
		",,",
		"x,,z",
	}
	for _, line := range lines {
		if got := strings.Join(SplitLine(line), ","); got != line {
			t.Fatalf("round trip of %q produced %q", line, got)
		}
	}
}

func TestSplitLineQuotedComma(t *testing.T) {
	got := SplitLine(`A,"B,C",D`)
	want := []string{"A", "B,C", "D"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSplitLineEscapedQuote(t *testing.T) {
	got := SplitLine(`"He said ""hi"""`)
	if len(got) != 1 || got[0] != `He said "hi"` {
		t.Fatalf("unexpected fields: %#v", got)
	}
}

func TestSplitLineUnterminatedQuoteIsPermissive(t *testing.T) {
	got := SplitLine(`a,"b,c`)
	want := []string{"a", "b,c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSplitLineTrailingComma(t *testing.T) {
	got := SplitLine("a,b,")
	want := []string{"a", "b", ""}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSplitLineEmptyLine(t *testing.T) {
	got := SplitLine("")
	if len(got) != 1 || got[0] != "" {
		t.Fatalf("expected single empty field, got %#v", got)
	}
}
