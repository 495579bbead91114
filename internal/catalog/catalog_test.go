package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is an in-memory SchemaSource used to exercise the cache without
// a database.
type fakeSource struct {
	entities      map[string]*RawEntity
	describeCalls map[string]int
}

func newFakeSource(entities ...*RawEntity) *fakeSource {
	s := &fakeSource{
		entities:      make(map[string]*RawEntity),
		describeCalls: make(map[string]int),
	}
	for _, e := range entities {
		s.entities[e.Name] = e
	}
	return s
}

func (s *fakeSource) EnumerateEntities(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(s.entities))
	for name := range s.entities {
		names = append(names, name)
	}
	return names, nil
}

func (s *fakeSource) DescribeEntity(_ context.Context, id string) (*RawEntity, error) {
	s.describeCalls[id]++
	raw, ok := s.entities[id]
	if !ok {
		return nil, &NotFoundError{Entity: id}
	}
	return raw, nil
}

func ordersEntity() *RawEntity {
	return &RawEntity{
		Name:   "orders",
		Table:  "orders",
		Schema: "public",
		Columns: []RawColumn{
			{Name: "id", DataType: "bigint"},
			{Name: "customer_id", DataType: "bigint", RefEntity: "customers", RefKey: "id"},
			{Name: "total", DataType: "numeric", Nullable: true},
		},
		PrimaryKeys: []string{"id"},
		Associations: []RawAssociation{
			{Alias: "customer", Target: "customers", Kind: AssocManyToOne, ForeignKey: "customer_id", SourceKey: "id"},
		},
	}
}

func TestDescribe_BuildsDescriptor(t *testing.T) {
	cat := New(newFakeSource(ordersEntity()))

	desc, err := cat.Describe(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", desc.ID)
	assert.Equal(t, "Order (public.orders)", desc.DisplayName)
	assert.Equal(t, []string{"id"}, desc.PrimaryKeys)
	require.Len(t, desc.Fields, 3)

	id, ok := desc.Field("id")
	require.True(t, ok)
	assert.True(t, id.PrimaryKey)
	assert.True(t, id.Unique)

	fk, ok := desc.Field("customer_id")
	require.True(t, ok)
	require.NotNil(t, fk.References)
	assert.Equal(t, "customers", fk.References.Entity)
	assert.Equal(t, "id", fk.References.Key)

	require.Len(t, desc.Associations, 1)
	assert.Equal(t, AssocManyToOne, desc.Associations[0].Kind)
	assert.Equal(t, "customer", desc.Associations[0].Alias)
}

func TestDescribe_Memoizes(t *testing.T) {
	source := newFakeSource(ordersEntity())
	cat := New(source)

	first, err := cat.Describe(context.Background(), "orders")
	require.NoError(t, err)
	second, err := cat.Describe(context.Background(), "orders")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, source.describeCalls["orders"])
	assert.Equal(t, first, second, "repeated describes must be structurally equal")
}

func TestDescribe_ClearForcesReintrospection(t *testing.T) {
	source := newFakeSource(ordersEntity())
	cat := New(source)

	_, err := cat.Describe(context.Background(), "orders")
	require.NoError(t, err)
	cat.Clear()
	_, err = cat.Describe(context.Background(), "orders")
	require.NoError(t, err)

	assert.Equal(t, 2, source.describeCalls["orders"])
}

func TestDescribe_NotFound(t *testing.T) {
	cat := New(newFakeSource())

	_, err := cat.Describe(context.Background(), "ghosts")
	require.Error(t, err)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghosts", notFound.Entity)
}

func TestField_LookupByLogicalOrColumnName(t *testing.T) {
	desc := &EntityDescriptor{
		Fields: []FieldDescriptor{
			{Name: "customerName", Column: "customer_name"},
			{Name: "total", Column: "total"},
		},
	}

	byLogical, ok := desc.Field("customerName")
	require.True(t, ok)
	assert.Equal(t, "customer_name", byLogical.Column)

	byColumn, ok := desc.Field("customer_name")
	require.True(t, ok)
	assert.Equal(t, "customerName", byColumn.Name)

	_, ok = desc.Field("missing")
	assert.False(t, ok)
}

func TestQualifiedTable(t *testing.T) {
	public := &EntityDescriptor{Table: "orders", Schema: "public"}
	assert.Equal(t, `"orders"`, public.QualifiedTable())

	reporting := &EntityDescriptor{Table: "orders", Schema: "reporting"}
	assert.Equal(t, `"reporting"."orders"`, reporting.QualifiedTable())
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Order Item (public.order_items)", displayName("order_items", "order_items", "public"))
	assert.Equal(t, "Customer (customers)", displayName("customers", "customers", ""))
}
