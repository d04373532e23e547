// Command engram is a conversational assistant with tiered long-term memory.
//
// Usage:
//
//	engram chat                 interactive session
//	engram chat "hello"         single turn
//	engram serve                HTTP and WebSocket API
//	engram memories --kind fact list what is remembered
//	engram remember fact city Lisbon
//	engram turn 3               show one turn record
//	engram stats
//	engram reset --yes
//	engram backup               snapshot the database now
//	engram backup restore engram-20260101-030000.000000.db --yes
//	engram mcp                  MCP tools over stdio
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
