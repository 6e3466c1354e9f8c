// Package ingest streams the two uploaded artifacts of a job-creation
// request into bounded temporary storage.
package ingest

import (
	"errors"
	"io"
	"io/fs"
	"mime/multipart"
	"os"

	"github.com/benchrunr/api/internal/apperrors"
	"github.com/sirupsen/logrus"
)

const copyChunk = 32 * 1024

var logger = logrus.WithField("component", "ingest")

// Staged holds the two artifact files after a successful ingest. Ownership
// passes to the job on spawn; until then Cleanup discards them.
type Staged struct {
	WasmPath   string
	ConfigPath string
}

// Cleanup removes any staged files. Safe to call after ownership has moved.
func (s *Staged) Cleanup() {
	for _, path := range []string{s.WasmPath, s.ConfigPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.WithError(err).Warnf("Failed to remove staged file %s", path)
		}
	}
}

// Ingest reads the multipart upload stream and stages exactly one "wasm"
// part and one "toml" part to dir. The wasm part must declare
// application/wasm and stay within wasmLimit; the toml part must declare no
// content type and stay within configMax. Sizes are enforced as bytes
// arrive, never after full buffering. Unknown parts are skipped. On any
// rejection nothing staged survives.
func Ingest(mr *multipart.Reader, wasmLimit, configMax int64, dir string) (*Staged, error) {
	staged := &Staged{}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			staged.Cleanup()
			return nil, apperrors.Validation("malformed upload: " + err.Error())
		}

		switch part.FormName() {
		case "wasm":
			if ct := part.Header.Get("Content-Type"); ct != "application/wasm" {
				staged.Cleanup()
				return nil, apperrors.UnsupportedMedia("wasm", ct)
			}
			if staged.WasmPath != "" {
				staged.Cleanup()
				return nil, apperrors.Validation("duplicate wasm part")
			}
			path, err := stage(part, dir, "wasm-*.wasm", wasmLimit)
			if err != nil {
				staged.Cleanup()
				return nil, err
			}
			staged.WasmPath = path

		case "toml":
			if ct := part.Header.Get("Content-Type"); ct != "" {
				staged.Cleanup()
				return nil, apperrors.Validation("toml part must not declare a content type")
			}
			if staged.ConfigPath != "" {
				staged.Cleanup()
				return nil, apperrors.Validation("duplicate toml part")
			}
			path, err := stage(part, dir, "config-*.toml", configMax)
			if err != nil {
				staged.Cleanup()
				return nil, err
			}
			staged.ConfigPath = path

		default:
			// Unknown parts are ignored, but must still be drained.
			_, _ = io.Copy(io.Discard, part)
		}
	}

	if staged.WasmPath == "" || staged.ConfigPath == "" {
		staged.Cleanup()
		return nil, apperrors.Validation("upload must contain exactly one wasm part and one toml part")
	}

	return staged, nil
}

// stage copies one part into a temp file, aborting the moment the
// cumulative size exceeds limit.
func stage(part *multipart.Part, dir, pattern string, limit int64) (string, error) {
	out, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", apperrors.Internal("ingest.stage", err)
	}

	var written int64
	buf := make([]byte, copyChunk)
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > limit {
				out.Close()
				os.Remove(out.Name())
				return "", apperrors.PayloadTooLarge(part.FormName(), limit)
			}
			if _, err := out.Write(buf[:n]); err != nil {
				out.Close()
				os.Remove(out.Name())
				return "", apperrors.Internal("ingest.stage", err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			os.Remove(out.Name())
			return "", apperrors.Validation("malformed upload: " + readErr.Error())
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", apperrors.Internal("ingest.stage", err)
	}
	return out.Name(), nil
}
