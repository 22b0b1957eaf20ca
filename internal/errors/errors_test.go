package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAgentError_Error(t *testing.T) {
	err := NewValidation("entry_type out of range")
	want := "VALIDATION: entry_type out of range"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIs(t *testing.T) {
	err := NewCapabilityDenied("ambient", "shell")
	if !Is(err, ErrCapabilityDenied) {
		t.Error("Is should match ErrCapabilityDenied")
	}
	if Is(err, ErrStorage) {
		t.Error("Is should not match ErrStorage")
	}
	if Is(errors.New("plain"), ErrStorage) {
		t.Error("Is should not match a plain error")
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewStorage("insert journal entry", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestCapabilityDenied_Details(t *testing.T) {
	err := NewCapabilityDenied("ambient", "write_file")
	if err.Status != 403 {
		t.Errorf("Status = %d, want 403", err.Status)
	}
	if err.Details["tool"] != "write_file" {
		t.Errorf("Details[tool] = %v, want write_file", err.Details["tool"])
	}
}
