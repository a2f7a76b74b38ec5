package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

type Kind string

const (
	KindAppSecConfig Kind = "appsec-config"
	KindAppSecRules  Kind = "appsec-rules"
	KindScenario     Kind = "scenario"
	KindParser       Kind = "parser"
	KindAcquisition  Kind = "acquisition"
)

// Artifact is one generated document and the remote path it belongs at.
type Artifact struct {
	Name       string
	Kind       Kind
	RemotePath string
	Content    []byte
}

func (a Artifact) Digest() string {
	sum := sha256.Sum256(a.Content)
	return hex.EncodeToString(sum[:])
}

// Set is a batch of artifacts ordered by remote path.
type Set []Artifact

func (s Set) sorted() Set {
	sort.Slice(s, func(i, j int) bool { return s[i].RemotePath < s[j].RemotePath })
	return s
}

func (s Set) Paths() []string {
	out := make([]string, 0, len(s))
	for _, a := range s {
		out = append(out, a.RemotePath)
	}
	return out
}

func (s Set) Find(remotePath string) (Artifact, bool) {
	for _, a := range s {
		if a.RemotePath == remotePath {
			return a, true
		}
	}
	return Artifact{}, false
}

// Encode renders one or more YAML documents with a fixed indent.
func Encode(docs ...any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}
