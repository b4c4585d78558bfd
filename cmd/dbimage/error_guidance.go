package main

import (
	"context"
	"errors"
	"net"

	"dbimage/internal/api"
	"dbimage/internal/migrate"
	"dbimage/internal/store"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "unauthorized":
			lines = append(lines, "hint: set DBIMAGE_UPLOAD_TOKEN to the token whose hash the server has in uploads.token_hash.")
		case "resource_exhausted":
			lines = append(lines, "hint: the server is at its upload limit; retry shortly.")
		case "payload_too_large":
			lines = append(lines, "hint: the file exceeds the size limit for this upload kind.")
		case "unsupported_media_type":
			lines = append(lines, "hint: accepted types are image/jpeg, image/png, image/webp and image/gif; override detection with --type.")
		case "unavailable":
			lines = append(lines, "hint: the server cannot reach its database; check DATABASE_URL on the server.")
		}
		if apiErr.Code == "" {
			lines = append(lines, "hint: verify DBIMAGE_API_URL points to a dbimage server.")
		}
		if apiErr.Status >= 500 {
			lines = append(lines, "hint: server returned an internal error; check server logs for details.")
		}
		return uniqueLines(lines)
	}

	if errors.Is(err, migrate.ErrAborted) {
		lines = append(lines, "hint: files not yet processed were left in place; rerun sweep once the database is reachable.")
	}
	if errors.Is(err, store.ErrUnavailable) {
		lines = append(lines, "hint: verify DATABASE_URL and that the database is reachable.")
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; check server health or increase DBIMAGE_HTTP_TIMEOUT.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: ensure a dbimage server is running at DBIMAGE_API_URL.",
			"hint: start a local server with: dbimage srv",
		)
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
