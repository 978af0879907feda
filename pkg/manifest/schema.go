package manifest

// Schema is the JSON Schema used for structural manifest validation.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "version", "type"],
  "properties": {
    "id": {
      "type": "string",
      "pattern": "^[a-z0-9]([a-z0-9-_.]*[a-z0-9])?$",
      "description": "Unique URL-safe plugin identifier"
    },
    "name": {
      "type": "string",
      "description": "Human-readable plugin name"
    },
    "version": {
      "type": "string",
      "minLength": 1,
      "description": "Semver version"
    },
    "description": { "type": "string" },
    "author": { "type": "string" },
    "type": {
      "type": "string",
      "enum": ["frontend", "backend-script", "hybrid"]
    },
    "main": { "type": "string" },
    "scriptMain": { "type": "string" },
    "capabilities": {
      "type": "array",
      "items": { "type": "string" }
    },
    "permissions": {
      "type": "array",
      "items": { "type": "string" }
    },
    "tools": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": { "type": "string", "minLength": 1 },
          "description": { "type": "string" },
          "parameters": { "type": "object" }
        }
      }
    },
    "modes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": { "type": "string", "minLength": 1 },
          "label": { "type": "string" },
          "icon": { "type": "string" }
        }
      }
    },
    "commands": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": { "type": "string", "minLength": 1 },
          "title": { "type": "string" }
        }
      }
    },
    "activationEvents": {
      "type": "array",
      "items": { "type": "string" }
    },
    "dependencies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["pluginId"],
        "properties": {
          "pluginId": { "type": "string", "minLength": 1 },
          "version": { "type": "string" }
        }
      }
    },
    "configSchema": {
      "type": "object",
      "description": "JSON Schema for plugin configuration values"
    }
  }
}`
