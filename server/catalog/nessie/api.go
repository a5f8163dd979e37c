package nessie

// Wire types of the Nessie REST API v2 subset used by the client and the
// nessietest server.

const (
	TypeIcebergTable = "ICEBERG_TABLE"
	TypeNamespace    = "NAMESPACE"

	OpPut    = "PUT"
	OpDelete = "DELETE"

	RefBranch = "BRANCH"
)

// Config is the response of GET /config
type Config struct {
	DefaultBranch          string `json:"defaultBranch"`
	MinSupportedAPIVersion int    `json:"minSupportedApiVersion"`
	MaxSupportedAPIVersion int    `json:"maxSupportedApiVersion"`
}

// Reference is a named branch at a commit hash
type Reference struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// ReferenceResponse is the response of GET /trees/{ref}
type ReferenceResponse struct {
	Reference Reference `json:"reference"`
}

// ContentKey addresses one entry in the tree
type ContentKey struct {
	Elements []string `json:"elements"`
}

// Content is a table or a namespace
type Content struct {
	Type             string            `json:"type"`
	ID               string            `json:"id,omitempty"`
	MetadataLocation string            `json:"metadataLocation,omitempty"`
	SnapshotID       int64             `json:"snapshotId"`
	SchemaID         int               `json:"schemaId"`
	SpecID           int               `json:"specId"`
	SortOrderID      int               `json:"sortOrderId"`
	Elements         []string          `json:"elements,omitempty"`
	Properties       map[string]string `json:"properties,omitempty"`
}

// ContentResponse is the response of GET /trees/{ref}/contents/{key}
type ContentResponse struct {
	Content            Content    `json:"content"`
	EffectiveReference *Reference `json:"effectiveReference,omitempty"`
}

// Entry is one element of an entries listing
type Entry struct {
	Type      string     `json:"type"`
	Name      ContentKey `json:"name"`
	ContentID string     `json:"contentId,omitempty"`
}

// EntriesResponse is the response of GET /trees/{ref}/entries
type EntriesResponse struct {
	Entries            []Entry    `json:"entries"`
	HasMore            bool       `json:"hasMore"`
	Token              string     `json:"token,omitempty"`
	EffectiveReference *Reference `json:"effectiveReference,omitempty"`
}

// CommitMeta describes a commit
type CommitMeta struct {
	Message    string            `json:"message"`
	Author     string            `json:"author,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Operation is one change in a commit
type Operation struct {
	Type    string     `json:"type"`
	Key     ContentKey `json:"key"`
	Content *Content   `json:"content,omitempty"`
}

// Operations is the body of POST /trees/{branch}@{hash}/history/commit
type Operations struct {
	CommitMeta CommitMeta  `json:"commitMeta"`
	Operations []Operation `json:"operations"`
}

// AddedContent reports the id the server gave a new content object
type AddedContent struct {
	Key       ContentKey `json:"key"`
	ContentID string     `json:"contentId"`
}

// CommitResponse is the response of a commit
type CommitResponse struct {
	TargetBranch  Reference      `json:"targetBranch"`
	AddedContents []AddedContent `json:"addedContents,omitempty"`
}

// ErrorResponse is the body of non-2xx responses
type ErrorResponse struct {
	Status    int    `json:"status"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}
