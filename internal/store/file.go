// Package store persists snapshots as JSON documents and in an optional SQLite archive.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/naka-gawa/github-community/internal/domain"
)

// Stdout is the output path that writes to standard output instead of a file.
const Stdout = "-"

// Encode writes v as indented JSON followed by a newline.
func Encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteJSON writes v to path. The document is written to a temporary file in
// the same directory and renamed into place, so readers never see a partial file.
func WriteJSON(path string, v any) error {
	if path == Stdout || path == "" {
		return Encode(os.Stdout, v)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmp := f.Name()

	w := bufio.NewWriter(f)
	if err := Encode(w, v); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

// ReadCommunity loads a community snapshot written by WriteJSON.
func ReadCommunity(path string) (*domain.CommunitySnapshot, error) {
	var s domain.CommunitySnapshot
	if err := readJSON(path, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ReadDistro loads a distribution snapshot written by WriteJSON.
func ReadDistro(path string) (*domain.DistroSnapshot, error) {
	var s domain.DistroSnapshot
	if err := readJSON(path, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func readJSON(path string, v any) error {
	var r io.Reader
	if path == Stdout {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
