// Package mcp defines the Model Context Protocol wire types and method
// names used by this server: initialization, tools, resources, and logging.
// The shapes follow the 2025-06-18 protocol revision.
package mcp
