package config

import (
	"encoding/base64"
	"fmt"
	"slices"
	"time"
)

const (
	DefaultMaxAttachmentSize = 8 << 20
	DefaultTypingTimeout     = 3500 * time.Millisecond
	maxNodeId                = 1023
)

var supportedDrivers = []string{"postgres", "sqlite3"}

type Config struct {
	ServerAddr        string
	DatabaseDriver    string
	DatabaseDSN       string
	SigningKey        []byte
	AllowedOrigins    []string
	MediaDir          string
	MediaBaseURL      string
	RedisURL          string
	NodeId            int64
	MaxAttachmentSize int64
	TypingTimeout     time.Duration
}

// Params holds the raw values collected from flags and the environment.
type Params struct {
	ServerAddr        string
	DatabaseDriver    string
	DatabaseDSN       string
	SigningKey        string
	AllowedOrigins    []string
	MediaDir          string
	MediaBaseURL      string
	RedisURL          string
	NodeId            int64
	MaxAttachmentSize int64
	TypingTimeout     time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty signing secret")
	}

	return key, nil
}

func NewConfig(p Params) (*Config, error) {
	if p.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if !slices.Contains(supportedDrivers, p.DatabaseDriver) {
		return nil, fmt.Errorf("unsupported database driver %q", p.DatabaseDriver)
	}
	if p.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if p.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if p.MediaDir == "" {
		return nil, fmt.Errorf("media directory cannot be empty")
	}
	if p.NodeId < 0 || p.NodeId > maxNodeId {
		return nil, fmt.Errorf("node id must be between 0 and %d", maxNodeId)
	}

	signingKey, err := decodeSigningSecret(p.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	maxSize := p.MaxAttachmentSize
	if maxSize == 0 {
		maxSize = DefaultMaxAttachmentSize
	}
	if maxSize < 0 {
		return nil, fmt.Errorf("max attachment size must be positive")
	}

	typingTimeout := p.TypingTimeout
	if typingTimeout == 0 {
		typingTimeout = DefaultTypingTimeout
	}
	if typingTimeout < 0 {
		return nil, fmt.Errorf("typing timeout must be positive")
	}

	return &Config{
		ServerAddr:        p.ServerAddr,
		DatabaseDriver:    p.DatabaseDriver,
		DatabaseDSN:       p.DatabaseDSN,
		SigningKey:        signingKey,
		AllowedOrigins:    p.AllowedOrigins,
		MediaDir:          p.MediaDir,
		MediaBaseURL:      p.MediaBaseURL,
		RedisURL:          p.RedisURL,
		NodeId:            p.NodeId,
		MaxAttachmentSize: maxSize,
		TypingTimeout:     typingTimeout,
	}, nil
}
