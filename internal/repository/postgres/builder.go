package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/jwalitptl/clinic-ops/internal/repository"
)

const documentsTable = "documents"

var dialect = goqu.Dialect("postgres")

type documentRow struct {
	ID        string    `db:"id"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r documentRow) toDocument() (repository.Document, error) {
	fields := make(map[string]interface{})
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &fields); err != nil {
			return repository.Document{}, fmt.Errorf("failed to decode document %s: %w", r.ID, err)
		}
	}
	return repository.Document{
		ID:         r.ID,
		Fields:     fields,
		CreateTime: r.CreatedAt.UTC(),
		UpdateTime: r.UpdatedAt.UTC(),
	}, nil
}

// fieldExpr addresses a top-level JSONB field.
func fieldExpr(field string) exp.LiteralExpression {
	return goqu.L("data -> ?::text", field)
}

func jsonValue(v interface{}) (exp.LiteralExpression, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter value: %w", err)
	}
	return goqu.L("?::jsonb", string(raw)), nil
}

var jsonNull = goqu.L("'null'::jsonb")

func filterExpression(f repository.Filter) (exp.Expression, error) {
	value, err := repository.NormalizeValue(f.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid value for %s: %w", f.Field, err)
	}
	field := fieldExpr(f.Field)

	if value == nil {
		switch f.Op {
		case repository.OpEqual:
			return goqu.Or(field.IsNull(), field.Eq(jsonNull)), nil
		case repository.OpNotEqual:
			return goqu.And(field.IsNotNull(), field.Neq(jsonNull)), nil
		default:
			return nil, fmt.Errorf("operator %s does not accept null", f.Op)
		}
	}

	if f.Op == repository.OpIn {
		items, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("operator in on %s needs a list", f.Field)
		}
		if len(items) == 0 {
			return goqu.L("FALSE"), nil
		}
		alternatives := make([]exp.Expression, 0, len(items))
		for _, item := range items {
			lit, err := jsonValue(item)
			if err != nil {
				return nil, err
			}
			alternatives = append(alternatives, field.Eq(lit))
		}
		return goqu.Or(alternatives...), nil
	}

	lit, err := jsonValue(value)
	if err != nil {
		return nil, err
	}
	switch f.Op {
	case repository.OpEqual:
		return field.Eq(lit), nil
	case repository.OpNotEqual:
		return goqu.L("? IS DISTINCT FROM ?", field, lit), nil
	case repository.OpLess:
		return field.Lt(lit), nil
	case repository.OpLessEqual:
		return field.Lte(lit), nil
	case repository.OpGreater:
		return field.Gt(lit), nil
	case repository.OpGreaterEqual:
		return field.Gte(lit), nil
	}
	return nil, fmt.Errorf("unsupported operator %q", f.Op)
}

func selectDocuments(collection string) *goqu.SelectDataset {
	return dialect.From(documentsTable).Prepared(true).
		Select("id", "data", "created_at", "updated_at").
		Where(goqu.C("collection").Eq(collection))
}

func buildGet(collection, id string, forUpdate bool) (string, []interface{}, error) {
	ds := selectDocuments(collection).Where(goqu.C("id").Eq(id))
	if forUpdate {
		ds = ds.ForUpdate(exp.Wait)
	}
	return ds.ToSQL()
}

func buildQuery(collection string, q repository.Query) (string, []interface{}, error) {
	ds := selectDocuments(collection)
	for _, f := range q.Filters {
		expr, err := filterExpression(f)
		if err != nil {
			return "", nil, err
		}
		ds = ds.Where(expr)
	}

	if q.OrderBy != nil {
		field := fieldExpr(q.OrderBy.Field)
		if q.OrderBy.Desc {
			ds = ds.Order(field.Desc().NullsLast(), goqu.C("id").Asc())
		} else {
			ds = ds.Order(field.Asc().NullsFirst(), goqu.C("id").Asc())
		}
	} else {
		ds = ds.Order(goqu.C("id").Asc())
	}

	if q.Limit > 0 {
		ds = ds.Limit(uint(q.Limit))
	}
	return ds.ToSQL()
}

func encodeData(fields map[string]interface{}) (string, error) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode fields: %w", err)
	}
	return string(raw), nil
}

func buildSet(collection, id string, fields map[string]interface{}, merge bool, now time.Time) (string, []interface{}, error) {
	data, err := encodeData(fields)
	if err != nil {
		return "", nil, err
	}

	onConflictData := goqu.L("EXCLUDED.data")
	if merge {
		onConflictData = goqu.L(`"documents"."data" || EXCLUDED.data`)
	}

	return dialect.Insert(documentsTable).Prepared(true).
		Rows(goqu.Record{
			"collection": collection,
			"id":         id,
			"data":       goqu.L("?::jsonb", data),
			"created_at": now,
			"updated_at": now,
		}).
		OnConflict(goqu.DoUpdate("collection, id", goqu.Record{
			"data":       onConflictData,
			"updated_at": goqu.L("EXCLUDED.updated_at"),
		})).
		ToSQL()
}

func buildUpdate(collection, id string, fields map[string]interface{}, now time.Time) (string, []interface{}, error) {
	data, err := encodeData(fields)
	if err != nil {
		return "", nil, err
	}
	return dialect.Update(documentsTable).Prepared(true).
		Set(goqu.Record{
			"data":       goqu.L(`"data" || ?::jsonb`, data),
			"updated_at": now,
		}).
		Where(goqu.Ex{"collection": collection, "id": id}).
		ToSQL()
}

func buildDelete(collection, id string) (string, []interface{}, error) {
	return dialect.Delete(documentsTable).Prepared(true).
		Where(goqu.Ex{"collection": collection, "id": id}).
		ToSQL()
}
