// Relay is a local intercepting proxy for AI coding tools.
//
// Each tool (Claude Code, Codex, Gemini CLI) is pointed at its own local
// port. The relay identifies the session behind every request, looks up the
// upstream configured for that session and forwards the request there with
// the right credentials, streaming the response back.
//
// Usage:
//
//	# Start every enabled tool listener and the management API
//	relay run
//
//	# Start with a custom configuration file
//	relay run --config /path/to/relay.yaml
//
//	# List the sessions seen by Codex
//	relay sessions list --tool codex
//
//	# Route one session to a named profile
//	relay sessions config <session-id> --name work
//
//	# Show version information
//	relay version
package main

func main() {
	Execute()
}
