package shared

import (
	"strings"

	"github.com/gear6io/ranger-catalog/pkg/errors"
)

// Namespace is an ordered sequence of non-empty segments
type Namespace []string

// ParseNamespace splits a dotted namespace
func ParseNamespace(s string) (Namespace, error) {
	if s == "" {
		return nil, nil
	}
	ns := Namespace(strings.Split(s, "."))
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	return ns, nil
}

func (ns Namespace) String() string {
	return strings.Join(ns, ".")
}

// Validate rejects empty segments and characters that cannot appear in paths
func (ns Namespace) Validate() error {
	for _, seg := range ns {
		if err := validateSegment(seg); err != nil {
			return err.AddContext("namespace", ns.String())
		}
	}
	return nil
}

func (ns Namespace) Equal(other Namespace) bool {
	if len(ns) != len(other) {
		return false
	}
	for i := range ns {
		if ns[i] != other[i] {
			return false
		}
	}
	return true
}

func validateSegment(seg string) *errors.Error {
	if strings.TrimSpace(seg) == "" {
		return errors.New(ErrInvalidIdentifier, "identifier has an empty segment", nil)
	}
	if strings.ContainsAny(seg, "/\\\x00\x1f") {
		return errors.New(ErrInvalidIdentifier, "identifier segment contains a reserved character", nil).AddContext("segment", seg)
	}
	return nil
}

// TableIdentifier names a table: namespace plus table name
type TableIdentifier struct {
	Namespace Namespace
	Name      string
}

// NewIdentifier validates and builds an identifier
func NewIdentifier(namespace []string, name string) (TableIdentifier, error) {
	id := TableIdentifier{Namespace: append(Namespace(nil), namespace...), Name: name}
	if err := id.Validate(); err != nil {
		return TableIdentifier{}, err
	}
	return id, nil
}

// ParseIdentifier parses "ns1.ns2.table". A single segment is only accepted
// when defaultNamespace is non-empty.
func ParseIdentifier(s string, defaultNamespace ...string) (TableIdentifier, error) {
	parts := strings.Split(s, ".")
	if len(parts) == 1 {
		if len(defaultNamespace) == 0 {
			return TableIdentifier{}, errors.New(ErrInvalidIdentifier, "identifier has no namespace", nil).AddContext("identifier", s)
		}
		return NewIdentifier(defaultNamespace, parts[0])
	}
	return NewIdentifier(parts[:len(parts)-1], parts[len(parts)-1])
}

func (id TableIdentifier) Validate() error {
	if len(id.Namespace) == 0 {
		return errors.New(ErrInvalidIdentifier, "identifier has no namespace", nil).AddContext("identifier", id.String())
	}
	if err := id.Namespace.Validate(); err != nil {
		return err
	}
	if err := validateSegment(id.Name); err != nil {
		return err.AddContext("identifier", id.String())
	}
	return nil
}

func (id TableIdentifier) String() string {
	if len(id.Namespace) == 0 {
		return id.Name
	}
	return id.Namespace.String() + "." + id.Name
}

// Key is a comparable form for map keys; segments cannot contain the separator
func (id TableIdentifier) Key() string {
	return strings.Join(id.Namespace, "\x1f") + "\x1f\x1f" + id.Name
}

func (id TableIdentifier) Equal(other TableIdentifier) bool {
	return id.Name == other.Name && id.Namespace.Equal(other.Namespace)
}
