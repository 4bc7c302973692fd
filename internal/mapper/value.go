package mapper

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/stitch/internal/ir"
)

// fieldValue returns the stringified, trimmed value of field. Absent and
// nil fields are ("", false). Nested objects and lists cannot stand in for
// a scalar and yield a RecordError.
func fieldValue(rec ir.Record, ix int, field string) (string, bool, error) {
	raw, ok := rec.Get(field)
	if !ok || raw == nil {
		return "", false, nil
	}
	s, err := stringify(raw)
	if err != nil {
		return "", false, &RecordError{Index: ix, Field: field, Reason: err.Error()}
	}
	s = strings.TrimSpace(s)
	return s, s != "", nil
}

func stringify(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case time.Time:
		return val.Format(time.RFC3339), nil
	case []byte:
		return string(val), nil
	case fmt.Stringer:
		return val.String(), nil
	case map[string]any, []any, []string:
		return "", fmt.Errorf("unsupported nested value of type %T", v)
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}
