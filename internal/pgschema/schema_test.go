package pgschema

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSchema() Schema {
	def := "nextval('employees_employee_id_seq')"
	return Schema{
		Tables: []Table{
			{Name: "departments", Columns: []Column{
				{Name: "department_id", Type: "integer"},
				{Name: "name", Type: "text"},
			}},
			{Name: "employees", Columns: []Column{
				{Name: "employee_id", Type: "integer", Default: &def},
				{Name: "name", Type: "text"},
				{Name: "department_id", Type: "integer", Nullable: true},
			}},
		},
		Relationships: []Relationship{{From: "employees.department_id", To: "departments.department_id"}},
	}
}

func TestSchema_Describe(t *testing.T) {
	got := sampleSchema().Describe()
	want := "- Table: departments\n  Columns: department_id (integer), name (text)\n\n" +
		"- Table: employees\n  Columns: employee_id (integer), name (text), department_id (integer)"
	assert.Equal(t, want, got)
}

func TestSchema_DescribeRelationships(t *testing.T) {
	assert.Equal(t, "- employees.department_id -> departments.department_id", sampleSchema().DescribeRelationships())
	assert.Empty(t, Schema{}.DescribeRelationships())
}

func TestSchema_Table(t *testing.T) {
	tbl, ok := sampleSchema().Table("Employees")
	require.True(t, ok)
	assert.Len(t, tbl.Columns, 3)

	_, ok = sampleSchema().Table("payroll")
	assert.False(t, ok)
}

func TestParsePlan(t *testing.T) {
	raw := []byte(`[{"Plan":{"Node Type":"Seq Scan","Relation Name":"employees","Total Cost":12.5,"Actual Rows":42},
		"Planning Time":0.08,"Execution Time":1.25}]`)

	exec, err := ParsePlan(raw)
	require.NoError(t, err)
	assert.Equal(t, Execution{
		ExecutionTime: 1.25,
		PlanningTime:  0.08,
		Rows:          42,
		TotalCost:     12.5,
		NodeType:      "Seq Scan",
	}, exec)
}

func TestParsePlan_Errors(t *testing.T) {
	_, err := ParsePlan([]byte(`[]`))
	assert.True(t, errors.Is(err, ErrEmptyPlan))

	_, err = ParsePlan([]byte(`{not json`))
	assert.Error(t, err)
}

// TestLive exercises the introspector and executor against a real database
// when REFINE_TEST_DATABASE_URL is set.
func TestLive(t *testing.T) {
	url := os.Getenv("REFINE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("REFINE_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	in := NewIntrospector(pool, nil)
	s, err := in.Schema(ctx)
	require.NoError(t, err)
	again, err := in.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, s, again)

	exec, err := NewExecutor(pool, time.Second).Execute(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, 1, exec.Rows)
}
