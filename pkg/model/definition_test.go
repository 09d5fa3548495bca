package model_test

import (
	"strings"
	"testing"

	"github.com/everpan/idorm/pkg/model"
	"github.com/everpan/idorm/pkg/model/modeltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definitionsYAML = `
models:
  - name: Person
    table: person
    naming: snake
    columns: [id, first_name, parent_id]
    primary_key: [id]
    schema:
      type: object
      required: [firstName]
      properties:
        firstName: {type: string}
    relations:
      - name: parent
        kind: belongs_to_one
        related: Person
        from: [parent_id]
        to: [id]
      - name: pets
        kind: has_many
        related: Pet
        from: [id]
        to: [owner_id]
  - name: Pet
    table: pet
    columns:
      - id
      - name: owner_id
        property: ownerId
    primary_key: [id]
`

func TestLoadDefinitions(t *testing.T) {
	defs, err := model.LoadDefinitions(strings.NewReader(definitionsYAML))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, []model.ColumnDef{{Name: "id"}, {Name: "owner_id", Property: "ownerId"}}, defs[1].Columns)

	reg := model.NewRegistry()
	require.NoError(t, reg.Register(defs...))

	person, err := reg.Class("Person")
	require.NoError(t, err)
	col, ok := person.Column("firstName")
	assert.True(t, ok)
	assert.Equal(t, "first_name", col)
	assert.Equal(t, "parentId", person.Property("parent_id"))
	assert.Equal(t, []any{"firstName"}, person.Schema()["required"])

	pets, err := reg.Relation(person, "pets")
	require.NoError(t, err)
	assert.Equal(t, "pet", pets.Related.Table())

	_, err = model.LoadDefinitions(strings.NewReader("models:\n  - name: X\n    bogus: 1\n"))
	assert.Error(t, err)
}

func TestSnakeNaming(t *testing.T) {
	reg := modeltest.NewRegistry(t)
	acc, err := reg.Class("Account")
	require.NoError(t, err)
	tests := []struct {
		column   string
		property string
	}{
		{"tenant_id", "tenantId"},
		{"user_id", "userId"},
		{"name", "name"},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			assert.Equal(t, tt.property, acc.Property(tt.column))
			col, ok := acc.Column(tt.property)
			assert.True(t, ok)
			assert.Equal(t, tt.column, col)
		})
	}
	assert.Equal(t, []string{"account.tenant_id", "account.user_id"}, acc.QualifyAll(acc.PrimaryKey()))
}
