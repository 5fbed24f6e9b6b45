package artifact

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const metadataSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["model_id", "name", "training_time", "config", "status"],
  "properties": {
    "model_id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "training_time": {"type": "string", "minLength": 1},
    "status": {"enum": ["ready"]},
    "weights_sha256": {"type": "string"},
    "config": {
      "type": "object",
      "required": ["model_name", "training_steps", "learning_rate", "resolution"],
      "properties": {
        "model_name": {"type": "string"},
        "training_steps": {"type": "integer", "minimum": 1},
        "learning_rate": {"type": "number", "exclusiveMinimum": 0},
        "resolution": {"type": "integer", "minimum": 1},
        "image_count": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

var metadataSchema = jsonschema.MustCompileString("metadata.schema.json", metadataSchemaJSON)
