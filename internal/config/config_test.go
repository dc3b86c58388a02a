package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validParams() Params {
	return Params{
		ServerAddr:     "localhost:8080",
		DatabaseDriver: "postgres",
		DatabaseDSN:    "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable",
		SigningKey:     "c29tZV9zZWNyZXQ=",
		AllowedOrigins: []string{"http://localhost:3000"},
		MediaDir:       "/var/lib/go-messenger/media",
		MediaBaseURL:   "/media",
		NodeId:         1,
	}
}

func TestNewConfig(t *testing.T) {
	tcases := []struct {
		name   string
		modify func(p *Params)
		err    bool
	}{
		{
			name:   "valid config",
			modify: func(p *Params) {},
		},
		{
			name:   "sqlite driver",
			modify: func(p *Params) { p.DatabaseDriver = "sqlite3"; p.DatabaseDSN = "file:test.db" },
		},
		{
			name:   "empty address",
			modify: func(p *Params) { p.ServerAddr = "" },
			err:    true,
		},
		{
			name:   "unsupported driver",
			modify: func(p *Params) { p.DatabaseDriver = "mysql" },
			err:    true,
		},
		{
			name:   "empty DSN",
			modify: func(p *Params) { p.DatabaseDSN = "" },
			err:    true,
		},
		{
			name:   "empty signing key",
			modify: func(p *Params) { p.SigningKey = "" },
			err:    true,
		},
		{
			name:   "invalid signing key",
			modify: func(p *Params) { p.SigningKey = "invalid_base64" },
			err:    true,
		},
		{
			name:   "empty media dir",
			modify: func(p *Params) { p.MediaDir = "" },
			err:    true,
		},
		{
			name:   "node id out of range",
			modify: func(p *Params) { p.NodeId = 1024 },
			err:    true,
		},
		{
			name:   "negative attachment size",
			modify: func(p *Params) { p.MaxAttachmentSize = -1 },
			err:    true,
		},
		{
			name:   "negative typing timeout",
			modify: func(p *Params) { p.TypingTimeout = -time.Second },
			err:    true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.modify(&p)

			config, err := NewConfig(p)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, p.ServerAddr, config.ServerAddr, "expected server address to match")
			assert.Equal(t, p.DatabaseDriver, config.DatabaseDriver, "expected database driver to match")
			assert.Equal(t, p.DatabaseDSN, config.DatabaseDSN, "expected database DSN to match")
			assert.Equal(t, p.AllowedOrigins, config.AllowedOrigins, "expected allowed origins to match")
			assert.Equal(t, []byte("some_secret"), config.SigningKey, "expected signing key to be decoded")
		})
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	config, err := NewConfig(validParams())
	assert.NoError(t, err)
	assert.Equal(t, int64(DefaultMaxAttachmentSize), config.MaxAttachmentSize, "expected default attachment ceiling")
	assert.Equal(t, DefaultTypingTimeout, config.TypingTimeout, "expected default typing timeout")

	p := validParams()
	p.MaxAttachmentSize = 1024
	p.TypingTimeout = time.Second
	config, err = NewConfig(p)
	assert.NoError(t, err)
	assert.Equal(t, int64(1024), config.MaxAttachmentSize, "expected attachment ceiling override")
	assert.Equal(t, time.Second, config.TypingTimeout, "expected typing timeout override")
}

func Test_decodeSigningSecret(t *testing.T) {
	tcases := []struct {
		name         string
		base64Secret string
		expectedKey  []byte
		expectError  bool
	}{
		{
			name:         "valid base64 secret",
			base64Secret: "c29tZV9zZWNyZXQ=",
			expectedKey:  []byte("some_secret"),
			expectError:  false,
		},
		{
			name:         "invalid base64 secret",
			base64Secret: "invalid_base64",
			expectedKey:  nil,
			expectError:  true,
		},
		{
			name:         "empty base64 secret",
			base64Secret: "",
			expectedKey:  nil,
			expectError:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := decodeSigningSecret(tc.base64Secret)
			if tc.expectError {
				assert.Error(t, err, "expected error for base64 secret: %s", tc.base64Secret)
			} else {
				assert.NoError(t, err, "expected no error for base64 secret: %s", tc.base64Secret)
				assert.Equal(t, tc.expectedKey, key, "expected decoded key to match for base64 secret: %s", tc.base64Secret)
			}
		})
	}
}
