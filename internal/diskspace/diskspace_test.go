package diskspace

import (
	"fmt"
	"strings"
	"testing"
)

func TestCheckAvailableSpace(t *testing.T) {
	dir := t.TempDir()

	t.Run("SmallFile", func(t *testing.T) {
		if err := CheckAvailableSpace(dir, 1024, 1.1); err != nil {
			t.Errorf("Expected no error for small file, got: %v", err)
		}
	})

	t.Run("NothingRequired", func(t *testing.T) {
		if err := CheckAvailableSpace(dir, 0, 1.1); err != nil {
			t.Errorf("Expected no error for zero bytes, got: %v", err)
		}
	})

	t.Run("VeryLargeFile", func(t *testing.T) {
		if GetAvailableSpace(dir) == 0 {
			t.Skip("Could not determine available space")
		}
		// 1 EiB exceeds any real filesystem
		err := CheckAvailableSpace(dir, 1<<60, 1.1)
		if !IsInsufficientSpaceError(err) {
			t.Errorf("Expected InsufficientSpaceError, got: %v", err)
		}
	})

	t.Run("MissingDirectoryPasses", func(t *testing.T) {
		if err := CheckAvailableSpace(dir+"/does/not/exist", 1<<60, 1.1); err != nil {
			t.Errorf("Expected unknown free space to pass, got: %v", err)
		}
	})
}

func TestIsInsufficientSpaceError(t *testing.T) {
	err := &InsufficientSpaceError{Dir: "/downloads", RequiredBytes: 1000, AvailableBytes: 500}

	if !IsInsufficientSpaceError(err) {
		t.Error("Expected IsInsufficientSpaceError to return true")
	}
	if !IsInsufficientSpaceError(fmt.Errorf("download: %w", err)) {
		t.Error("Expected wrapped error to match")
	}
	if IsInsufficientSpaceError(fmt.Errorf("some other error")) {
		t.Error("Expected IsInsufficientSpaceError to return false for non-disk-space error")
	}
	if IsInsufficientSpaceError(nil) {
		t.Error("Expected IsInsufficientSpaceError to return false for nil")
	}
}

func TestInsufficientSpaceErrorMessage(t *testing.T) {
	err := &InsufficientSpaceError{
		Dir:            "/downloads",
		RequiredBytes:  1024 * 1024 * 100,
		AvailableBytes: 1024 * 1024 * 50,
	}

	msg := err.Error()
	for _, want := range []string{"/downloads", "100.00", "50.00"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error message %q should contain %q", msg, want)
		}
	}
}
