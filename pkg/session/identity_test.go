package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveHandleSources(t *testing.T) {
	tests := []struct {
		name        string
		raw         RawIdentity
		wantSource  Source
		wantDisplay string
	}{
		{
			name:        "claude code user id",
			raw:         RawIdentity{BodyUserID: "user_9f8e_account_1234_session_ab12cd34-5678-90ef-aaaa-bbbbccccdddd", HeaderToken: "hdr", ConnID: "c"},
			wantSource:  SourceBody,
			wantDisplay: "ab12cd34",
		},
		{
			name:        "opaque user id",
			raw:         RawIdentity{BodyUserID: "some-user"},
			wantSource:  SourceBody,
			wantDisplay: "someuser",
		},
		{
			name:        "header token",
			raw:         RawIdentity{HeaderToken: "sess-42", ConnID: "c"},
			wantSource:  SourceHeader,
			wantDisplay: "sess42",
		},
		{
			name:       "invalid header falls back to connection",
			raw:        RawIdentity{HeaderToken: "bad token with spaces", ConnID: "c"},
			wantSource: SourceConnection,
		},
		{
			name:       "connection nonce",
			raw:        RawIdentity{ConnID: "9b1deb4d"},
			wantSource: SourceConnection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := DeriveHandle("claude-code", tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSource, h.Source)
			assert.Len(t, h.SessionID, 32)
			assert.Equal(t, "claude-code", h.ToolID)
			if tt.wantDisplay != "" {
				assert.Equal(t, tt.wantDisplay, h.DisplayID)
			} else {
				assert.Len(t, h.DisplayID, 8)
			}
		})
	}
}

func TestDeriveHandleStable(t *testing.T) {
	raw := RawIdentity{BodyUserID: "user_x_account_y_session_z1"}
	a, err := DeriveHandle("claude-code", raw)
	require.NoError(t, err)
	b, err := DeriveHandle("claude-code", raw)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDeriveHandleNeverMerges(t *testing.T) {
	same := "shared-value"

	body, err := DeriveHandle("claude-code", RawIdentity{BodyUserID: same})
	require.NoError(t, err)
	header, err := DeriveHandle("claude-code", RawIdentity{HeaderToken: same})
	require.NoError(t, err)
	conn, err := DeriveHandle("claude-code", RawIdentity{ConnID: same})
	require.NoError(t, err)
	otherTool, err := DeriveHandle("codex", RawIdentity{BodyUserID: same})
	require.NoError(t, err)

	ids := map[string]bool{
		body.SessionID:      true,
		header.SessionID:    true,
		conn.SessionID:      true,
		otherTool.SessionID: true,
	}
	assert.Len(t, ids, 4)

	c1, err := DeriveHandle("claude-code", RawIdentity{ConnID: "conn-1"})
	require.NoError(t, err)
	c2, err := DeriveHandle("claude-code", RawIdentity{ConnID: "conn-2"})
	require.NoError(t, err)
	assert.NotEqual(t, c1.SessionID, c2.SessionID)
}

func TestDeriveHandleUnidentified(t *testing.T) {
	_, err := DeriveHandle("claude-code", RawIdentity{RemoteAddr: "127.0.0.1:5000"})
	assert.ErrorIs(t, err, ErrUnidentified)

	_, err = DeriveHandle("", RawIdentity{ConnID: "c"})
	assert.ErrorIs(t, err, ErrUnidentified)
}

func TestBodyToken(t *testing.T) {
	assert.Equal(t, "abc", bodyToken("user_1_account_2_session_abc"))
	assert.Equal(t, "user_1_session_", bodyToken("user_1_session_"))
	assert.Equal(t, "", bodyToken("   "))
	long := make([]byte, maxUserIDLength+1)
	for i := range long {
		long[i] = 'a'
	}
	assert.Equal(t, "", bodyToken(string(long)))
}

func TestConfigOverride(t *testing.T) {
	var nilCfg *Config
	assert.Empty(t, nilCfg.Override())

	global := &Config{ConfigName: ConfigGlobal, URL: "https://stale", APIKey: "stale"}
	assert.Empty(t, global.Override())

	custom := &Config{ConfigName: ConfigCustom, URL: "https://u", APIKey: "k", CustomProfileName: strPtr("p")}
	o := custom.Override()
	assert.Equal(t, "p", o.ProfileName)
	assert.Equal(t, "https://u", o.URL)

	named := &Config{ConfigName: "work"}
	assert.Equal(t, "work", named.Override().ProfileName)
}

func TestConfigNormalize(t *testing.T) {
	cfg, err := Config{ConfigName: "", URL: "x"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, Config{ConfigName: ConfigGlobal}, cfg)

	cfg, err = Config{ConfigName: ConfigCustom, CustomProfileName: strPtr(""), URL: "https://u"}.Normalize()
	require.NoError(t, err)
	assert.Nil(t, cfg.CustomProfileName)

	_, err = Config{ConfigName: ConfigCustom, CustomProfileName: strPtr("")}.Normalize()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
