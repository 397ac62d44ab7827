package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsThroughWrapping(t *testing.T) {
	base := errors.New("no such file")
	err := fmt.Errorf("load bars: %w", Setup("csv open", base))

	if !Is(err, KindSetup) {
		t.Fatalf("expected setup failure, got %v", err)
	}
	if Is(err, KindPersistence) {
		t.Fatalf("unexpected persistence kind")
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped base error")
	}
	if KindOf(err) != KindSetup {
		t.Fatalf("unexpected kind %q", KindOf(err))
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("expected empty kind")
	}
}
