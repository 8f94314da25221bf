// Package mcp implements MCP (Model Context Protocol) client support,
// allowing Wren to connect to an external MCP server and use its tools
// and resources from the agent loop.
//
// MCP uses JSON-RPC 2.0 over a stdio transport: the server runs as a
// subprocess and exchanges newline-delimited JSON with the client over
// its standard streams. The client performs the initialize handshake,
// discovers capabilities via tools/list and resources/list, and invokes
// them via tools/call and resources/read.
//
// The protocol is strictly synchronous — one request in flight per
// connection. This implementation covers the client/host side only;
// Wren does not act as an MCP server.
package mcp
