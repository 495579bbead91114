package joingraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignature_InputOrderStability(t *testing.T) {
	edgeA := Edge{LeftEntity: "orders", LeftField: "customer_id", RightEntity: "customers", RightField: "id"}
	edgeB := Edge{LeftEntity: "orders", LeftField: "id", RightEntity: "order_items", RightField: "order_id", Kind: KindInner}

	first := Signature([]string{"orders", "customers", "order_items"}, []Edge{edgeA, edgeB})
	second := Signature([]string{"order_items", "orders", "customers"}, []Edge{edgeB, edgeA})
	assert.Equal(t, first, second)
}

func TestSignature_OrientationInvariance(t *testing.T) {
	declared := Edge{LeftEntity: "orders", LeftField: "customer_id", RightEntity: "customers", RightField: "id"}
	flipped := Edge{LeftEntity: "customers", LeftField: "id", RightEntity: "orders", RightField: "customer_id"}

	assert.Equal(t,
		Signature([]string{"orders", "customers"}, []Edge{declared}),
		Signature([]string{"orders", "customers"}, []Edge{flipped}),
	)
}

func TestSignature_DuplicateEntitiesCollapse(t *testing.T) {
	assert.Equal(t,
		Signature([]string{"orders", "orders", "customers"}, nil),
		Signature([]string{"customers", "orders"}, nil),
	)
}

func TestSignature_KindChangesHash(t *testing.T) {
	left := Edge{LeftEntity: "orders", LeftField: "customer_id", RightEntity: "customers", RightField: "id", Kind: KindLeft}
	inner := left
	inner.Kind = KindInner

	entities := []string{"orders", "customers"}
	assert.NotEqual(t,
		Signature(entities, []Edge{left}),
		Signature(entities, []Edge{inner}),
	)
}

func TestSignature_DefaultKindIsLeft(t *testing.T) {
	implicit := Edge{LeftEntity: "orders", LeftField: "customer_id", RightEntity: "customers", RightField: "id"}
	explicit := implicit
	explicit.Kind = KindLeft

	entities := []string{"orders", "customers"}
	assert.Equal(t,
		Signature(entities, []Edge{implicit}),
		Signature(entities, []Edge{explicit}),
	)
}

func TestSignature_EntityPresenceChangesHash(t *testing.T) {
	assert.NotEqual(t,
		Signature([]string{"orders", "customers"}, nil),
		Signature([]string{"orders", "customers", "vendors"}, nil),
	)
}
