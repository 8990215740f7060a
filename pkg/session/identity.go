package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Source identifies where a session id was derived from.
type Source string

const (
	SourceBody       Source = "body"
	SourceHeader     Source = "header"
	SourceConnection Source = "connection"
)

const (
	// sessionMarker separates the account part of Claude Code's
	// metadata.user_id from the per-session UUID.
	sessionMarker = "_session_"

	maxUserIDLength = 512
	displayIDLength = 8
)

var headerTokenPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RawIdentity is what the proxy can observe about a client without
// interpreting it.
type RawIdentity struct {
	// BodyUserID is metadata.user_id from a JSON request body.
	BodyUserID string

	// HeaderToken is the value of the tool's session header.
	HeaderToken string

	// ConnID is a nonce assigned to the client's TCP connection.
	ConnID string

	RemoteAddr string
}

// Handle identifies a session for the rest of a request's lifetime.
type Handle struct {
	SessionID string
	DisplayID string
	ToolID    string
	Source    Source
}

// DeriveHandle derives the session id of a request.
//
// Sources are tried in order body user id, header token, connection nonce.
// The id hashes the tool id together with the source kind, so identities
// from different sources or different tools never collide.
func DeriveHandle(toolID string, raw RawIdentity) (Handle, error) {
	if toolID == "" {
		return Handle{}, fmt.Errorf("%w: empty tool id", ErrUnidentified)
	}

	if token := bodyToken(raw.BodyUserID); token != "" {
		return newHandle(toolID, SourceBody, token, displayFromToken(token)), nil
	}
	if token := strings.TrimSpace(raw.HeaderToken); headerTokenPattern.MatchString(token) {
		return newHandle(toolID, SourceHeader, token, displayFromToken(token)), nil
	}
	if raw.ConnID != "" {
		return newHandle(toolID, SourceConnection, raw.ConnID, randomDisplayID()), nil
	}
	return Handle{}, ErrUnidentified
}

func newHandle(toolID string, source Source, value, displayID string) Handle {
	return Handle{
		SessionID: sessionID(toolID, source, value),
		DisplayID: displayID,
		ToolID:    toolID,
		Source:    source,
	}
}

func sessionID(toolID string, source Source, value string) string {
	h := sha256.New()
	h.Write([]byte(toolID))
	h.Write([]byte{0})
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// bodyToken extracts the per-session part of a user id shaped like
// user_<hash>_account_<uuid>_session_<uuid>. Other non-empty values are used
// whole.
func bodyToken(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" || len(userID) > maxUserIDLength {
		return ""
	}
	if i := strings.LastIndex(userID, sessionMarker); i >= 0 {
		if token := userID[i+len(sessionMarker):]; token != "" {
			return token
		}
	}
	return userID
}

func displayFromToken(token string) string {
	var b strings.Builder
	for _, r := range token {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == displayIDLength {
				break
			}
		}
	}
	if b.Len() == 0 {
		return randomDisplayID()
	}
	return b.String()
}

func randomDisplayID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:displayIDLength]
}
