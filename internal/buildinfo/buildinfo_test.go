package buildinfo

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	if Info.Name() != Name {
		t.Errorf("Name, got: %s, expected: %s", Info.Name(), Name)
	}
	if Info.Tag() == "" {
		t.Error("Tag is empty")
	}
	if s := Info.String(); !strings.Contains(s, Name) || !strings.Contains(s, Info.Tag()) {
		t.Errorf("String, got: %q", s)
	}
}
