package migration_test

import (
	"testing"

	"github.com/migrato/migrato/migration"
	"github.com/migrato/migrato/migration/spec"
)

func TestMemStore(t *testing.T) {
	spec.AssertStore(t, migration.NewMemStore())
}
