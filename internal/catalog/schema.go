package catalog

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fenceworks/estimator/internal/db"
)

// Schema is the Postgres DDL for the catalog tables. The partial unique
// indexes enforce one active formula per (product, style, component) and one
// default code per (product, labor group) at write time.
const Schema = `
CREATE SCHEMA IF NOT EXISTS catalog;

CREATE TABLE IF NOT EXISTS catalog.product_types (
	id            TEXT PRIMARY KEY,
	code          TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	display_order INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS catalog.product_styles (
	id              TEXT PRIMARY KEY,
	product_type_id TEXT NOT NULL REFERENCES catalog.product_types(id),
	code            TEXT NOT NULL,
	name            TEXT NOT NULL,
	UNIQUE (product_type_id, code)
);

CREATE TABLE IF NOT EXISTS catalog.product_variables (
	id              TEXT PRIMARY KEY,
	product_type_id TEXT NOT NULL REFERENCES catalog.product_types(id),
	name            TEXT NOT NULL,
	kind            TEXT NOT NULL CHECK (kind IN ('numeric', 'select')),
	allowed_values  TEXT[] NOT NULL DEFAULT '{}',
	default_value   JSONB,
	UNIQUE (product_type_id, name)
);

CREATE TABLE IF NOT EXISTS catalog.component_types (
	id            TEXT PRIMARY KEY,
	code          TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	unit          TEXT NOT NULL,
	output        TEXT,
	aggregate_key TEXT
);

ALTER TABLE catalog.component_types ADD COLUMN IF NOT EXISTS aggregate_key TEXT;

CREATE TABLE IF NOT EXISTS catalog.formula_templates (
	id                TEXT PRIMARY KEY,
	product_type_id   TEXT NOT NULL REFERENCES catalog.product_types(id),
	style_id          TEXT REFERENCES catalog.product_styles(id),
	component_type_id TEXT NOT NULL REFERENCES catalog.component_types(id),
	formula           TEXT NOT NULL,
	rounding_level    TEXT NOT NULL DEFAULT 'component' CHECK (rounding_level IN ('component', 'project')),
	active            BOOLEAN NOT NULL DEFAULT true
);

CREATE UNIQUE INDEX IF NOT EXISTS formula_templates_one_active
	ON catalog.formula_templates (product_type_id, COALESCE(style_id, ''), component_type_id)
	WHERE active;

CREATE TABLE IF NOT EXISTS catalog.component_assignments (
	id                TEXT PRIMARY KEY,
	product_type_id   TEXT NOT NULL REFERENCES catalog.product_types(id),
	component_type_id TEXT NOT NULL REFERENCES catalog.component_types(id),
	optional          BOOLEAN NOT NULL DEFAULT false,
	display_order     INT NOT NULL DEFAULT 0,
	visibility        JSONB,
	UNIQUE (product_type_id, component_type_id)
);

CREATE TABLE IF NOT EXISTS catalog.labor_groups (
	id            TEXT PRIMARY KEY,
	code          TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	multi_select  BOOLEAN NOT NULL DEFAULT false,
	required      BOOLEAN NOT NULL DEFAULT false,
	display_order INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS catalog.labor_codes (
	id   TEXT PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	unit TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS catalog.labor_group_eligibility (
	id               TEXT PRIMARY KEY,
	product_type_id  TEXT NOT NULL REFERENCES catalog.product_types(id),
	labor_group_id   TEXT NOT NULL REFERENCES catalog.labor_groups(id),
	labor_code_id    TEXT NOT NULL REFERENCES catalog.labor_codes(id),
	condition        TEXT,
	quantity_formula TEXT,
	is_default       BOOLEAN NOT NULL DEFAULT false,
	display_order    INT NOT NULL DEFAULT 0,
	UNIQUE (product_type_id, labor_group_id, labor_code_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS labor_group_eligibility_one_default
	ON catalog.labor_group_eligibility (product_type_id, labor_group_id)
	WHERE is_default;
`

// Migrate applies Schema.
func Migrate(ctx context.Context, pool db.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return eris.Wrap(err, "catalog: migrate")
	}
	zap.L().Info("catalog: schema migrated")
	return nil
}
