package sqladapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/qrefine/internal/artifact"
	"github.com/danielpatrickdp/qrefine/internal/eval"
	"github.com/danielpatrickdp/qrefine/internal/llm"
	"github.com/danielpatrickdp/qrefine/internal/objective"
	"github.com/danielpatrickdp/qrefine/internal/optimizer"
	"github.com/danielpatrickdp/qrefine/internal/pgschema"
)

// ErrNoSQL means the model produced nothing once fences were stripped.
var ErrNoSQL = errors.New("model returned no SQL")

const systemPrompt = "You are a PostgreSQL expert. Return ONLY valid SQL queries."

var fenceRe = regexp.MustCompile("```(?:sql)?\n?")

// #region generator

// Generator asks a completion backend for a query. The run context must be
// a pgschema.Schema.
type Generator struct {
	completer   llm.Completer
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// NewGenerator wraps a completer. logger may be nil.
func NewGenerator(c llm.Completer, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{completer: c, temperature: 0.1, logger: logger.Named("sqladapter")}
}

// WithSampling overrides the default temperature of 0.1 and sets a token
// limit. Zero maxTokens leaves the backend default.
func (g *Generator) WithSampling(temperature float64, maxTokens int) *Generator {
	g.temperature = temperature
	g.maxTokens = maxTokens
	return g
}

func (g *Generator) Generate(ctx context.Context, req optimizer.GenerateRequest) (artifact.Artifact, error) {
	schema, err := schemaFrom(req.Context)
	if err != nil {
		return nil, err
	}
	var previous string
	if req.Previous != nil {
		previous = req.Previous.String()
	}
	prompt, err := BuildPrompt(req.Objective, schema, previous, req.Feedback)
	if err != nil {
		return nil, err
	}

	out, err := g.completer.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generate sql: %w", err)
	}
	sql := StripFences(out)
	if sql == "" {
		return nil, ErrNoSQL
	}
	g.logger.Debug("generated", zap.Bool("refining", previous != ""), zap.String("sql", sql))
	return artifact.Text(sql), nil
}

func schemaFrom(v any) (pgschema.Schema, error) {
	switch s := v.(type) {
	case pgschema.Schema:
		return s, nil
	case *pgschema.Schema:
		if s != nil {
			return *s, nil
		}
	case map[string]any:
		// a schema that crossed the gRPC transport
		var out pgschema.Schema
		b, err := json.Marshal(s)
		if err != nil {
			return out, fmt.Errorf("sql generator: %w", err)
		}
		if err := json.Unmarshal(b, &out); err != nil {
			return out, fmt.Errorf("sql generator: decode schema: %w", err)
		}
		return out, nil
	case nil:
		return pgschema.Schema{}, nil
	}
	return pgschema.Schema{}, fmt.Errorf("sql generator: unexpected context %T", v)
}

// StripFences removes markdown code fences around a query.
func StripFences(s string) string {
	return strings.TrimSpace(fenceRe.ReplaceAllString(strings.TrimSpace(s), ""))
}

// #endregion

// #region prompt

// BuildPrompt composes the instruction sent to the model.
func BuildPrompt(obj objective.Objective, schema pgschema.Schema, previous string, feedback *eval.Feedback) (string, error) {
	objJSON, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode objective: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are an autonomous SQL query generator for a PostgreSQL database.\n\n")
	fmt.Fprintf(&b, "OBJECTIVE:\n%s\n\n", objJSON)
	fmt.Fprintf(&b, "DATABASE SCHEMA (LIVE FROM PostgreSQL):\n%s\n\n", schema.Describe())
	if len(schema.Relationships) > 0 {
		fmt.Fprintf(&b, "FOREIGN KEY RELATIONSHIPS:\n%s\n\n", schema.DescribeRelationships())
	}
	if previous != "" {
		fmt.Fprintf(&b, "PREVIOUS SQL:\n%s\n\n", previous)
	}
	if feedback != nil {
		fb, err := json.MarshalIndent(feedback, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode feedback: %w", err)
		}
		fmt.Fprintf(&b, "CRITIC FEEDBACK:\n%s\n\n", fb)
	}
	b.WriteString(instructions)
	return b.String(), nil
}

const instructions = `INSTRUCTIONS:
1. Analyze the objective to understand what data is requested
2. Identify which tables need to be joined based on the dataSource and relationships
3. Use proper JOIN syntax with table aliases
4. Apply filters from objective.scope.filters array
5. Select only the columns mentioned in objective.constraints.mustInclude
6. If filtering by a specific entity (like a department name), add appropriate WHERE clause
7. Use PostgreSQL syntax
8. Return ONLY the SQL query, no explanations or markdown

CRITICAL RULES:
- Study the LIVE schema above - don't assume column names
- Use proper JOINs based on foreign key relationships
- Apply ALL filters from the objective
- Select ALL columns from mustInclude
- Use clear table aliases (e.g., e for employees, d for departments, c for compensation)

OPTIMIZATION GUIDELINES (for highest quality):
- PREFER JOINs over subqueries
- For one-to-many relationships (e.g., employees with multiple teams):
  * USE ARRAY_AGG with GROUP BY to aggregate related data
  * Example: ARRAY_AGG(t.team_name ORDER BY t.team_name) AS teams, then GROUP BY e.employee_id, e.name, ...
- Use LEFT JOIN for optional relationships
- Include ORDER BY for consistent, predictable results
- When JOINing multiple tables, always GROUP BY all non-aggregated columns to avoid duplicates
`

// #endregion
