// Package mcp exposes the memory engine as an MCP tool server on the
// stdio transport.
//
// This implementation uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and calls the engine directly; every tool returns a short text
// outcome alongside its structured result, and failures surface as
// "Error: <kind>" lines rather than protocol errors so agent callers
// always get something they can read.
package mcp
