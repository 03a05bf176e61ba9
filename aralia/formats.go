package aralia

// DateFormats lists the granularities accepted for date and datetime
// fields, coarsest to finest.
var DateFormats = []string{
	"year", "quarter", "month", "week", "date", "day", "weekday",
	"year_month", "year_quarter", "year_week", "month_day", "day_hour",
	"hour", "minute", "second", "hour_minute", "time",
}

// SpaceFormats lists the administrative levels accepted for space fields.
var SpaceFormats = []string{
	"admin_level_2", "admin_level_3", "admin_level_4", "admin_level_5",
	"admin_level_6", "admin_level_7", "admin_level_8", "admin_level_9",
	"admin_level_10",
}

// Calculations lists every y-axis aggregation the planet accepts.
var Calculations = []Calculation{
	CalcCount, CalcSum, CalcAvg, CalcMin, CalcMax, CalcDistinctCount,
}

// Operators lists every filter operator the planet accepts.
var Operators = []Operator{OpEq, OpLt, OpGt, OpLte, OpGte, OpIn, OpRange}

// ValidFormat reports whether format is a known granularity for the given
// column type. Types without a format catalog accept any value.
func ValidFormat(t ColumnType, format string) bool {
	switch t {
	case TypeDate, TypeDateTime:
		return contains(DateFormats, format)
	case TypeSpace:
		return contains(SpaceFormats, format)
	}
	return true
}

// ValidCalculation reports whether the aggregation is legal for a y-axis
// field of the given column type. Numeric columns take every aggregation;
// nominal columns can only be counted.
func ValidCalculation(t ColumnType, c Calculation) bool {
	if t.IsNumeric() {
		for _, known := range Calculations {
			if c == known {
				return true
			}
		}
		return false
	}
	if t == TypeNominal {
		return c == CalcCount || c == CalcDistinctCount
	}
	return false
}

// ValidOperator reports whether the operator is legal for a filter on the
// given column type.
func ValidOperator(t ColumnType, op Operator) bool {
	if t.UsesInOperator() {
		return op == OpIn
	}
	if t.IsNumeric() {
		switch op {
		case OpEq, OpLt, OpGt, OpLte, OpGte, OpRange:
			return true
		}
		return false
	}
	return op != ""
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
