package snapshot

import (
	"encoding/json"
	"strings"

	"golang.org/x/crypto/bcrypt"

	qerrors "github.com/rqure/qcore/pkg/errors"
)

// JSONDocument is the human-oriented factory snapshot: the schema list
// plus the entity tree from Root. Only configuration-scope fields
// appear; entity references are slash-separated name paths from the
// root rather than opaque ids, so the document is portable across
// instances.
type JSONDocument struct {
	Schemas []JSONSchema `json:"schemas"`
	Tree    *JSONEntity  `json:"tree"`
}

// JSONSchema is one single schema with every id replaced by its name.
type JSONSchema struct {
	EntityType string      `json:"entityType"`
	Inherit    []string    `json:"inherit,omitempty"`
	Fields     []JSONField `json:"fields"`
}

// JSONField is one field schema; Default uses the same loose typing as
// entity fields in the tree.
type JSONField struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Default any      `json:"default,omitempty"`
	Rank    int64    `json:"rank"`
	Scope   string   `json:"scope"`
	Choices []string `json:"choices,omitempty"`
}

// JSONEntity is one node of the tree. Fields holds the
// configuration-scope field values keyed by field name; Children nest
// recursively in the order they appear in the parent's Children list.
type JSONEntity struct {
	EntityType string         `json:"entityType"`
	Name       string         `json:"Name"`
	Children   []*JSONEntity  `json:"Children,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// EncodeJSON renders the document with stable indentation for human
// diffing.
func EncodeJSON(doc JSONDocument) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// DecodeJSON parses a factory snapshot document.
func DecodeJSON(blob []byte) (JSONDocument, error) {
	var doc JSONDocument
	if err := json.Unmarshal(blob, &doc); err != nil {
		return JSONDocument{}, qerrors.Wrap(qerrors.KindInvalidFieldValue, "bad json snapshot", err)
	}
	return doc, nil
}

const hashSigilPrefix = "__hashpw__("

// ApplySigil recognises the password-hashing sigil __hashpw__(raw) in
// a string field during restore and replaces it with the bcrypt hash
// of raw. Any other string passes through unchanged.
func ApplySigil(s string) (string, error) {
	if !strings.HasPrefix(s, hashSigilPrefix) || !strings.HasSuffix(s, ")") {
		return s, nil
	}
	raw := s[len(hashSigilPrefix) : len(s)-1]
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", qerrors.Wrap(qerrors.KindInvalidPassword, "hash sigil failed", err)
	}
	return string(hashed), nil
}

// RefPathSeparator joins entity names in a portable reference path.
const RefPathSeparator = "/"

// SplitRefPath splits a slash-separated reference path into its name
// elements. An empty path yields nil.
func SplitRefPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, RefPathSeparator)
}

// JoinRefPath renders name elements as a portable reference path.
func JoinRefPath(names []string) string {
	return strings.Join(names, RefPathSeparator)
}
