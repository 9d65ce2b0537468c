// Package contentid implements the canonical content identifier (§4.5):
// a deterministic hash derived from a normalized, whitelisted subset of
// provider metadata, plus the URL normalization and piece-size selection
// helpers the identifier depends on.
package contentid

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ValueKind tags a MetadataValue's underlying type, per §9's "polymorphic
// dictionary values" redesign note: a tagged variant instead of dynamic
// typing.
type ValueKind uint8

const (
	KindEmpty ValueKind = iota
	KindString
	KindInteger
)

// MetadataValue is a scalar field value in ProviderMetadata: a string, an
// integer, or empty. Never both.
type MetadataValue struct {
	Kind ValueKind
	Str  string
	Int  int64
}

func StringValue(s string) MetadataValue { return MetadataValue{Kind: KindString, Str: s} }
func IntValue(i int64) MetadataValue     { return MetadataValue{Kind: KindInteger, Int: i} }
func EmptyValue() MetadataValue          { return MetadataValue{Kind: KindEmpty} }

// AsString returns the string defaulting to "" for missing/empty/integer
// fields, matching §4.5 step 2's "missing string keys default to ''".
func (v MetadataValue) AsString() string {
	if v.Kind == KindString {
		return v.Str
	}
	return ""
}

// AsInt returns the integer value, defaulting to 0 for missing/empty/string
// fields, matching §4.5 step 2's "missing numeric keys default to 0".
func (v MetadataValue) AsInt() int64 {
	if v.Kind == KindInteger {
		return v.Int
	}
	return 0
}

// ProviderMetadata is the mapping from field name to scalar value (§3).
// Always contains "provider"; remaining fields are whitelisted per provider.
type ProviderMetadata map[string]MetadataValue

// Provider key constants, matching provider_key() across the handler set (C).
const (
	ProviderDirectHTTP = "direct"
	ProviderModIndex   = "modindex"
	ProviderMeshSite   = "meshsite"
	ProviderAnonCloud  = "anoncloud"
	ProviderJSGated    = "jsgated"
)

// Whitelist is the ordered set of per-provider fields that participate in
// ContentId derivation, beyond "provider" and "url_canonical" (§4.3 table).
var Whitelist = map[string][]string{
	ProviderDirectHTTP: {"contentLength", "lastModified", "etag", "fileName", "url"},
	ProviderModIndex:   {"fileId", "fileName", "size", "uploadedTimestamp", "md5Hash"},
	ProviderMeshSite:   {"filePageId", "changelogId", "fileId", "version", "updated", "size"},
	ProviderAnonCloud:  {"nodeId", "hash", "size", "mtime", "name"},
	ProviderJSGated:    {},
}

// DirectHTTPMetadata is the typed, validated form of DirectHTTP's fields
// before they are flattened into a ProviderMetadata map for hashing.
type DirectHTTPMetadata struct {
	ContentLength int64  `validate:"gte=0"`
	LastModified  string `validate:"omitempty"`
	ETag          string `validate:"omitempty"`
	FileName      string `validate:"omitempty"`
	URL           string `validate:"required,url"`
}

// ModIndexMetadata is the typed, validated form of ModIndexAPI's fields.
type ModIndexMetadata struct {
	FileID            string `validate:"required"`
	FileName          string `validate:"omitempty"`
	Size              int64  `validate:"gte=0"`
	UploadedTimestamp int64  `validate:"gte=0"`
	MD5Hash           string `validate:"omitempty,len=32|len=0"`
}

// MeshSiteMetadata is the typed, validated form of MeshProtectedSite's fields.
type MeshSiteMetadata struct {
	FilePageID  string `validate:"required"`
	ChangelogID string `validate:"omitempty"`
	FileID      string `validate:"omitempty"`
	Version     string `validate:"omitempty"`
	Updated     string `validate:"omitempty,datetime=2006-01-02"`
	Size        int64  `validate:"gte=0"`
}

// AnonCloudMetadata is the typed, validated form of AnonymousCloud's fields.
type AnonCloudMetadata struct {
	NodeID string `validate:"required"`
	Hash   string `validate:"omitempty"`
	Size   int64  `validate:"gte=0"`
	MTime  int64  `validate:"gte=0"`
	Name   string `validate:"omitempty"`
}

var metaValidator = validator.New()

// ValidateStruct runs struct-tag validation over a typed per-provider
// metadata struct before it is flattened into a ProviderMetadata map,
// catching malformed handler output before it reaches ContentId derivation.
func ValidateStruct(v interface{}) error {
	if err := metaValidator.Struct(v); err != nil {
		return fmt.Errorf("contentid: metadata validation failed: %w", err)
	}
	return nil
}

// FlattenDirectHTTP converts a validated DirectHTTPMetadata into the generic map form.
func FlattenDirectHTTP(m DirectHTTPMetadata) ProviderMetadata {
	return ProviderMetadata{
		"contentLength": IntValue(m.ContentLength),
		"lastModified":  StringValue(m.LastModified),
		"etag":          StringValue(m.ETag),
		"fileName":      StringValue(m.FileName),
		"url":           StringValue(m.URL),
	}
}

// FlattenModIndex converts a validated ModIndexMetadata into the generic map form.
func FlattenModIndex(m ModIndexMetadata) ProviderMetadata {
	return ProviderMetadata{
		"fileId":            StringValue(m.FileID),
		"fileName":          StringValue(m.FileName),
		"size":              IntValue(m.Size),
		"uploadedTimestamp": IntValue(m.UploadedTimestamp),
		"md5Hash":           StringValue(m.MD5Hash),
	}
}

// FlattenMeshSite converts a validated MeshSiteMetadata into the generic map form.
func FlattenMeshSite(m MeshSiteMetadata) ProviderMetadata {
	return ProviderMetadata{
		"filePageId":  StringValue(m.FilePageID),
		"changelogId": StringValue(m.ChangelogID),
		"fileId":      StringValue(m.FileID),
		"version":     StringValue(m.Version),
		"updated":     StringValue(m.Updated),
		"size":        IntValue(m.Size),
	}
}

// FlattenAnonCloud converts a validated AnonCloudMetadata into the generic map form.
func FlattenAnonCloud(m AnonCloudMetadata) ProviderMetadata {
	return ProviderMetadata{
		"nodeId": StringValue(m.NodeID),
		"hash":   StringValue(m.Hash),
		"size":   IntValue(m.Size),
		"mtime":  IntValue(m.MTime),
		"name":   StringValue(m.Name),
	}
}
