package output

import (
	"encoding/json"
	"fmt"

	"github.com/chris-regnier/vigil/internal/audit"
)

// JSONFormatter renders the whole report as indented JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(r *audit.Report) ([]byte, error) {
	if r == nil || r.Verdict == nil {
		return nil, fmt.Errorf("json formatter: verdict is required")
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
