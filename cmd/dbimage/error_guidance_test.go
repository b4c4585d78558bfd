package main

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"dbimage/internal/api"
	"dbimage/internal/migrate"
	"dbimage/internal/store"
)

func TestFormatCLIError_NetworkGuidance(t *testing.T) {
	err := &net.DNSError{Err: "dial tcp: connection refused", Name: "127.0.0.1", IsTemporary: true}
	lines := formatCLIError(err)
	if !containsLine(lines, "hint: ensure a dbimage server is running at DBIMAGE_API_URL.") {
		t.Fatalf("expected connectivity guidance, got %v", lines)
	}
	if !containsLine(lines, "hint: start a local server with: dbimage srv") {
		t.Fatalf("expected manual-start guidance, got %v", lines)
	}
}

func TestFormatCLIError_APIUnknownServiceGuidance(t *testing.T) {
	err := &api.APIError{Status: 404, Message: "api error: 404 Not Found"}
	lines := formatCLIError(err)
	if !containsLine(lines, "hint: verify DBIMAGE_API_URL points to a dbimage server.") {
		t.Fatalf("expected api-url guidance, got %v", lines)
	}
}

func TestFormatCLIError_APIAuthGuidance(t *testing.T) {
	err := &api.APIError{Status: 401, Code: "unauthorized", Message: "unauthorized"}
	lines := formatCLIError(err)
	if len(lines) != 2 {
		t.Fatalf("expected error plus one hint, got %v", lines)
	}
}

func TestFormatCLIError_StoreUnavailableGuidance(t *testing.T) {
	err := &api.APIError{Status: 503, Code: "unavailable", ErrorCode: 4002, Message: "internal error"}
	lines := formatCLIError(err)
	if !containsLine(lines, "hint: the server cannot reach its database; check DATABASE_URL on the server.") {
		t.Fatalf("expected database guidance, got %v", lines)
	}
	if !containsLine(lines, "hint: server returned an internal error; check server logs for details.") {
		t.Fatalf("expected internal-error guidance, got %v", lines)
	}
}

func TestFormatCLIError_AbortedSweep(t *testing.T) {
	err := fmt.Errorf("%w: %w", migrate.ErrAborted, errors.Join(store.ErrUnavailable, errors.New("refused")))
	lines := formatCLIError(err)
	if !containsLine(lines, "hint: files not yet processed were left in place; rerun sweep once the database is reachable.") {
		t.Fatalf("expected rerun guidance, got %v", lines)
	}
	if !containsLine(lines, "hint: verify DATABASE_URL and that the database is reachable.") {
		t.Fatalf("expected database guidance, got %v", lines)
	}
}

func TestFormatCLIError_Nil(t *testing.T) {
	if lines := formatCLIError(nil); lines != nil {
		t.Fatalf("expected nil, got %v", lines)
	}
}

func containsLine(lines []string, expected string) bool {
	for _, line := range lines {
		if line == expected {
			return true
		}
	}
	return false
}
