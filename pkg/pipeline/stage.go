package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/malbeclabs/medallion/pkg/duck"
)

// Stage builds one relation from the relations of its dependencies.
type Stage interface {
	// Name identifies the stage in logs, metrics, and build markers.
	Name() string
	// Relation is the single relation the stage owns.
	Relation() duck.Relation
	// Dependencies are ensured, in order, before the stage builds.
	Dependencies() []Stage
	// RequiredColumns maps an input relation to the columns Build reads from it.
	RequiredColumns() map[duck.Relation][]string
	// Fingerprint summarizes everything the stage's output depends on,
	// given the fingerprints of its dependencies keyed by stage name.
	Fingerprint(ctx context.Context, upstream map[string]string) (string, error)
	// Build (re)materializes Relation using conn.
	Build(ctx context.Context, conn duck.Connection) error
}

// RelationHandle identifies a built relation.
type RelationHandle struct {
	Relation duck.Relation
	Rows     int64
	// Fresh is true when the relation was reused rather than rebuilt.
	Fresh       bool
	Fingerprint string
}

func (h RelationHandle) String() string {
	return h.Relation.String()
}

// DerivedFingerprint hashes a stage version together with its upstream
// fingerprints, in stage-name order.
func DerivedFingerprint(version string, upstream map[string]string) string {
	names := make([]string, 0, len(upstream))
	for name := range upstream {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	io.WriteString(h, version)
	for _, name := range names {
		fmt.Fprintf(h, "\x00%s=%s", name, upstream[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FileFingerprint hashes version and the contents of paths. A missing or
// unreadable file is an ingestion failure.
func FileFingerprint(version string, paths ...string) (string, error) {
	h := sha256.New()
	io.WriteString(h, version)
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrIngestion, err)
		}
		fmt.Fprintf(h, "\x00%s\x00", p)
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("%w: failed to read %s: %w", ErrIngestion, p, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SQLVersion derives a stage version from the text of its transformation so
// editing the SQL invalidates previously built relations.
func SQLVersion(name string, statements ...string) string {
	h := sha256.New()
	io.WriteString(h, name)
	for _, s := range statements {
		io.WriteString(h, "\x00")
		io.WriteString(h, strings.TrimSpace(s))
	}
	return name + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}
