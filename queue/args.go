package queue

import (
	"database/sql"
	"database/sql/driver"

	"github.com/pkg/errors"
	"go.gazette.dev/dbqueue/row"
)

// namedValues converts statement arguments into driver.NamedValues.
// Arguments may be row.Values, sql.NamedArgs, or any value accepted by
// driver.DefaultParameterConverter.
func namedValues(args []interface{}) ([]driver.NamedValue, error) {
	if len(args) == 0 {
		return nil, nil
	}
	var out = make([]driver.NamedValue, len(args))

	for i, arg := range args {
		out[i].Ordinal = i + 1

		if na, ok := arg.(sql.NamedArg); ok {
			out[i].Name, arg = na.Name, na.Value
		}
		var err error
		if out[i].Value, err = convertArg(arg); err != nil {
			return nil, errors.WithMessagef(err, "converting argument %d", i+1)
		}
	}
	return out, nil
}

func convertArg(arg interface{}) (driver.Value, error) {
	switch v := arg.(type) {
	case row.Value:
		return v.Driver(), nil
	case *row.Value:
		if v == nil {
			return nil, nil
		}
		return v.Driver(), nil
	default:
		return driver.DefaultParameterConverter.ConvertValue(arg)
	}
}
