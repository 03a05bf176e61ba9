// Package aralia provides the REST client and domain model for Aralia data
// planets: dataset discovery through the galaxy search endpoint, column
// metadata, filter value domains, and chart exploration queries.
package aralia

// ColumnType classifies a dataset column as reported by the planet API.
type ColumnType string

const (
	TypeDate      ColumnType = "date"
	TypeDateTime  ColumnType = "datetime"
	TypeSpace     ColumnType = "space"
	TypePoint     ColumnType = "point"
	TypeLine      ColumnType = "line"
	TypePolygon   ColumnType = "polygon"
	TypeNominal   ColumnType = "nominal"
	TypeOrdinal   ColumnType = "ordinal"
	TypeInteger   ColumnType = "integer"
	TypeFloat     ColumnType = "float"
	TypeUndefined ColumnType = "undefined"
)

// IsNumeric reports whether the column holds measurable numbers.
func (t ColumnType) IsNumeric() bool {
	return t == TypeInteger || t == TypeFloat
}

// IsFormatted reports whether fields of this type carry a format
// (a date granularity or a spatial administrative level).
func (t ColumnType) IsFormatted() bool {
	return t == TypeDate || t == TypeDateTime || t == TypeSpace
}

// UsesInOperator reports whether filters on this type select from a
// discrete value domain with the "in" operator.
func (t ColumnType) UsesInOperator() bool {
	switch t {
	case TypeDate, TypeDateTime, TypeNominal, TypeSpace:
		return true
	}
	return false
}

// Calculation is a y-axis aggregation.
type Calculation string

const (
	CalcCount         Calculation = "count"
	CalcSum           Calculation = "sum"
	CalcAvg           Calculation = "avg"
	CalcMin           Calculation = "min"
	CalcMax           Calculation = "max"
	CalcDistinctCount Calculation = "distinct_count"
)

// Operator is a filter comparison operator.
type Operator string

const (
	OpEq    Operator = "eq"
	OpLt    Operator = "lt"
	OpGt    Operator = "gt"
	OpLte   Operator = "lte"
	OpGte   Operator = "gte"
	OpIn    Operator = "in"
	OpRange Operator = "range"
)

// Dataset is a data planet dataset. Columns is nil until metadata has been
// fetched; an enriched dataset always has a non-nil column map.
type Dataset struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	SourceURL   string             `json:"sourceURL"`
	Columns     map[string]*Column `json:"columns,omitempty"`
}

// Column describes one dataset column. Format, when present, is the source
// format reported by the planet, not a query granularity.
type Column struct {
	ColumnID    string     `json:"columnID"`
	DisplayName string     `json:"displayName"`
	Type        ColumnType `json:"type"`
	Format      string     `json:"format,omitempty"`
}

// AxisField places a column on a chart axis. Format holds the requested
// granularity for date and space columns; Calculation is set on y-axis
// fields only.
type AxisField struct {
	ColumnID    string      `json:"columnID"`
	DisplayName string      `json:"displayName"`
	Type        ColumnType  `json:"type"`
	Format      string      `json:"format,omitempty"`
	Calculation Calculation `json:"calculation,omitempty"`
}

// FilterField restricts a chart query on one column. Values holds the
// distinct value domain fetched from the planet for the LLM to choose
// from; Operator and Value are the decided restriction.
type FilterField struct {
	AxisField
	Values   []string `json:"values,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Value    []string `json:"value,omitempty"`
}

// ChartSpec is one executable chart query against a dataset. ID and
// SourceURL address the dataset on its planet; JSONData is filled by
// execution with the records projection of the result table.
type ChartSpec struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	SourceURL   string         `json:"sourceURL"`
	X           []*AxisField   `json:"x"`
	Y           []*AxisField   `json:"y"`
	Filter      []*FilterField `json:"filter"`
	JSONData    string         `json:"json_data,omitempty"`
}

// Row is one grouped row of an exploration result. Each X entry is the
// value group for one x-axis field; Values carries one aggregate per
// y-axis field.
type Row struct {
	X      [][]any `json:"x"`
	Values []any   `json:"values"`
}

// Clone returns a deep copy of the spec.
func (c *ChartSpec) Clone() *ChartSpec {
	out := *c
	out.X = cloneAxes(c.X)
	out.Y = cloneAxes(c.Y)
	out.Filter = make([]*FilterField, len(c.Filter))
	for i, f := range c.Filter {
		ff := *f
		ff.Values = append([]string(nil), f.Values...)
		ff.Value = append([]string(nil), f.Value...)
		out.Filter[i] = &ff
	}
	return &out
}

func cloneAxes(in []*AxisField) []*AxisField {
	out := make([]*AxisField, len(in))
	for i, a := range in {
		aa := *a
		out[i] = &aa
	}
	return out
}
