package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	missing := fmt.Errorf("normalize a.npz: %w", &MissingFieldError{Key: "trans", Available: []string{"betas", "poses"}})
	if !errors.Is(missing, ErrMissingField) {
		t.Fatal("MissingFieldError should match ErrMissingField")
	}
	if !strings.Contains(missing.Error(), `"trans"`) || !strings.Contains(missing.Error(), "betas, poses") {
		t.Fatalf("message should carry the key and the available keys: %s", missing)
	}
	var mf *MissingFieldError
	if !errors.As(missing, &mf) || mf.Key != "trans" {
		t.Fatal("errors.As should recover the key")
	}

	bounds := fmt.Errorf("gather: %w", &BoundsError{Index: 122, Width: 99})
	if !errors.Is(bounds, ErrBounds) || errors.Is(bounds, ErrMissingField) {
		t.Fatal("BoundsError should match ErrBounds only")
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(fmt.Errorf("joint %q: %w", "left_hand", ErrConfiguration)) {
		t.Fatal("configuration errors are fatal")
	}
	for _, err := range []error{ErrCorrupt, ErrNotFound, &BoundsError{}, nil} {
		if IsFatal(err) {
			t.Fatalf("%v should not be fatal", err)
		}
	}
}

func TestMetrics(t *testing.T) {
	mt := NewMetrics()
	for i := 0; i < AVG_COUNT; i++ {
		mt.Record(time.Second, true)
	}
	if got := mt.AverageDuration(); got != time.Second {
		t.Fatalf("want 1s, got %s", got)
	}
	// older samples fall out of the window
	for i := 0; i < AVG_COUNT; i++ {
		mt.Record(3*time.Second, false)
	}
	if got := mt.AverageDuration(); got != 3*time.Second {
		t.Fatalf("want 3s, got %s", got)
	}
	ok, failed := mt.Counts()
	if ok != AVG_COUNT || failed != AVG_COUNT {
		t.Fatalf("unexpected counts %d/%d", ok, failed)
	}
	if mt.FilesPerSecond() <= 0 {
		t.Fatal("throughput should be positive")
	}
}

func TestShortID(t *testing.T) {
	id := NewRunID()
	short := ShortID(id)
	if len(short) != 8 || !strings.HasPrefix(id, short) {
		t.Fatalf("unexpected short id %q for %q", short, id)
	}
	if ShortID("plain") != "plain" {
		t.Fatal("ids without dashes are returned as is")
	}
}

func TestSetLogLevel(t *testing.T) {
	if err := SetLogLevel("debug"); err != nil {
		t.Fatal(err)
	}
	if err := SetLogLevel("loud"); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
	_ = SetLogLevel("info")
}
