// Package config loads and merges toolgate configuration.
//
// Configuration is searched in priority order:
//
//  1. Global config (~/.config/toolgate/toolgate.json or .jsonc)
//  2. Project config (toolgate.json, toolgate.jsonc, or the same names
//     under .toolgate/)
//  3. TOOLGATE_CONFIG file path override
//  4. TOOLGATE_CONFIG_CONTENT inline JSON
//  5. Environment variables (TOOLGATE_LOG_LEVEL)
//
// Later sources override earlier ones key by key; server entries merge by
// name with the whole entry replaced.
//
// Both JSON and JSONC formats are accepted; comments are stripped with
// tidwall/jsonc before parsing. String values support {env:VAR} and
// {file:path} placeholders, so credentials can be referenced from the
// environment or from files instead of being committed inline:
//
//	{
//	  "servers": {
//	    "search": {
//	      "type": "http",
//	      "url": "http://localhost:9200/mcp",
//	      "headers": {"Authorization": "Bearer {env:SEARCH_TOKEN}"}
//	    }
//	  }
//	}
//
// Relative {file:...} paths resolve against the directory containing the
// config file; ~/ expands to the home directory.
package config
