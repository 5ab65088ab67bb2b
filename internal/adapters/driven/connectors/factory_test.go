package connectors

import (
	"errors"
	"testing"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

func TestFactory_Create(t *testing.T) {
	f := NewFactory()

	src := &domain.Source{
		Name:   "crm-a",
		Kind:   domain.SourceKindHTTPAPI,
		Config: domain.SourceConfig{BaseURL: "https://crm-a.example.com"},
	}
	c, err := f.Create(src, domain.Endpoint{Name: "contacts", Path: "/contacts"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Kind() != domain.SourceKindHTTPAPI {
		t.Errorf("Kind = %s", c.Kind())
	}
}

func TestFactory_UnknownKind(t *testing.T) {
	f := NewFactory()

	_, err := f.Create(&domain.Source{Name: "x", Kind: "ftp"}, domain.Endpoint{})
	if !errors.Is(err, domain.ErrConnectorNotFound) {
		t.Fatalf("err = %v, want ErrConnectorNotFound", err)
	}
}

func TestFactory_SupportedKinds(t *testing.T) {
	kinds := NewFactory().SupportedKinds()
	if len(kinds) != 2 {
		t.Fatalf("kinds = %v", kinds)
	}
	// Sorted for stable CLI output.
	if kinds[0] != domain.SourceKindHTTPAPI || kinds[1] != domain.SourceKindSQLTable {
		t.Fatalf("kinds = %v", kinds)
	}
}
