package cmds

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v2"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

// printOutput writes v in the selected format. YAML goes through JSON first so
// the field names match the API.
func printOutput(w io.Writer, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if outputFormat == outputYAML {
		var generic any
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return err
		}
		out, err := yaml.Marshal(generic)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	}

	_, err = fmt.Fprintln(w, string(raw))
	return err
}
