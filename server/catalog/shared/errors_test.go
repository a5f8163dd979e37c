package shared

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/stretchr/testify/assert"
)

func TestTaxonomyCarriesContext(t *testing.T) {
	id, _ := ParseIdentifier("missing.table")

	err := NewTableNotFound(config.TypeNessie, id, nil)
	assert.True(t, IsTableNotFound(err))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsUnavailable(err))
	assert.Equal(t, "missing.table", err.Context["identifier"])
	assert.Equal(t, "nessie", err.Context["backend"])

	conflict := NewCommitConflict(config.TypeHive, id, "v1", "v2")
	assert.True(t, IsConflict(fmt.Errorf("attempt 1: %w", conflict)))
	assert.Equal(t, "v1", conflict.Context["base_token"])
	assert.Equal(t, "v2", conflict.Context["live_token"])

	ns := NewNamespaceNotFound(config.TypeGlue, Namespace{"tpch"}, nil)
	assert.True(t, IsNotFound(ns))
	assert.False(t, IsTableNotFound(ns))

	assert.True(t, IsUnavailable(NewConnection(config.TypeREST, "http://h", nil)))
	assert.True(t, IsCorrupt(NewCorruptMetadata(config.TypeFilesystem, id, "/w/v1.metadata.json", nil)))
	assert.True(t, IsAccessDenied(NewAccessDenied(config.TypeREST, "t", nil)))
	assert.True(t, IsAlreadyExists(NewAlreadyExists(config.TypeREST, "t", nil)))
	assert.True(t, IsUnsupported(NewUnsupported(config.TypeREST, "drop")))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifyTransport(t *testing.T) {
	assert.Nil(t, ClassifyTransport(config.TypeNessie, "op", nil))

	err := ClassifyTransport(config.TypeNessie, "commit", context.DeadlineExceeded)
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, "commit", errors.GetContext(err)["operation"])

	err = ClassifyTransport(config.TypeNessie, "commit", fmt.Errorf("post: %w", timeoutErr{}))
	assert.True(t, IsUnavailable(err))

	id, _ := ParseIdentifier("a.b")
	notFound := NewTableNotFound(config.TypeNessie, id, nil)
	assert.Same(t, notFound, ClassifyTransport(config.TypeNessie, "load", notFound))
}
