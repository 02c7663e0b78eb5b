package bundle

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// bundleSchema is the wire-format contract checked before anything else at
// import time. Shape only; digests and seq continuity are verified later.
const bundleSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["bundle_version", "decision", "events", "template_snapshot", "integrity"],
  "properties": {
    "bundle_version": {"type": "string", "minLength": 1},
    "decision": {
      "type": "object",
      "required": ["decision_id", "mode", "created_at", "status"],
      "properties": {
        "decision_id": {"type": "string", "minLength": 1},
        "goal": {"type": "string"},
        "mode": {"type": "string"},
        "created_at": {"type": "string"},
        "status": {"type": "string"}
      }
    },
    "events": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["event_id", "decision_id", "seq", "type", "payload", "ts", "actor", "digest"],
        "properties": {
          "seq": {"type": "integer", "minimum": 0},
          "type": {"type": "string"},
          "payload": {"type": "object"},
          "ts": {"type": "string"},
          "actor": {
            "type": "object",
            "required": ["type", "id"],
            "properties": {
              "type": {"enum": ["human", "system"]},
              "id": {"type": "string"}
            }
          },
          "digest": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
        }
      }
    },
    "template_snapshot": {
      "type": "object",
      "required": ["present"],
      "properties": {"present": {"type": "boolean"}}
    },
    "router_link": {"type": ["object", "null"]},
    "integrity": {
      "type": "object",
      "required": ["alg", "canonical_digest"],
      "properties": {
        "alg": {"const": "sha256"},
        "canonical_digest": {"type": "string", "pattern": "^sha256:[0-9a-f]{64}$"}
      }
    }
  }
}`

var compiledBundleSchema = jsonschema.MustCompileString("nexus://schemas/decision-bundle.json", bundleSchema)
