package model

import (
	"encoding/gob"
	"fmt"
	"io"
)

// Encode writes f in gob encoding. Only fitted forests can be encoded.
func (f *RandomForest) Encode(w io.Writer) error {
	if len(f.Trees) == 0 {
		return ErrNotFitted
	}
	if err := gob.NewEncoder(w).Encode(f); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	return nil
}

// Decode reads a forest written by Encode.
func Decode(r io.Reader) (*RandomForest, error) {
	var f RandomForest
	if err := gob.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	return &f, nil
}
