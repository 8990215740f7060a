// Package proxy implements the transparent per-tool HTTP proxy.
//
// A Handler serves one tool (claude-code, codex, gemini-cli). For every
// request it
//
//  1. checks the optional local protection key,
//  2. reads the body up to a size limit,
//  3. derives the session from metadata.user_id, a session header or the
//     client connection,
//  4. resolves the session's route (profile, session override or global
//     default),
//  5. forwards the request with the upstream credential substituted for the
//     client's, and
//  6. relays the response, flushing text/event-stream bodies per chunk.
//
// Session activity is queued as soon as the response headers are written,
// so the request path never waits for a database write. Failures produced by
// the proxy itself use the Anthropic error envelope (see package types);
// upstream responses are relayed untouched.
//
// Listeners install ConnContext so requests without any session token are
// grouped per client connection.
package proxy
