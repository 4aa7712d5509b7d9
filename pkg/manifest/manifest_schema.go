package manifest

// ManifestSchema is the JSON Schema for the manifest envelope.
//
// It only checks shape; api attribute trees are validated by the schema
// package because they are recursive.
const ManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "name", "version"],
  "properties": {
    "type": {
      "type": "string",
      "enum": ["app", "extension", "protocol", "addon_loader", "system"]
    },
    "name": {
      "type": "string",
      "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"
    },
    "version": {
      "type": "string",
      "minLength": 1
    },
    "dependencies": {
      "type": "array",
      "items": {
        "type": "object",
        "oneOf": [
          {
            "required": ["type", "name"],
            "properties": {
              "type": {
                "type": "string",
                "enum": ["app", "extension", "protocol", "addon_loader", "system"]
              },
              "name": { "type": "string", "minLength": 1 },
              "version": { "type": "string" }
            },
            "not": { "required": ["path"] }
          },
          {
            "required": ["path"],
            "properties": {
              "path": { "type": "string", "minLength": 1 }
            },
            "not": {
              "anyOf": [
                { "required": ["type"] },
                { "required": ["name"] },
                { "required": ["version"] }
              ]
            }
          }
        ]
      }
    },
    "supports": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "os": { "type": "string", "enum": ["linux", "mac", "win"] },
          "arch": { "type": "string", "enum": ["x86", "x64", "arm", "arm64"] }
        }
      }
    },
    "api": {
      "type": "object"
    },
    "scripts": {
      "type": "object",
      "additionalProperties": { "type": "string" }
    }
  }
}`
