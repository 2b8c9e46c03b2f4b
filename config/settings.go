package config

import (
	"os"
	"strconv"
	"strings"
)

var (
	AppPort  = "3000"
	AppDebug = false

	// RedisURL accepts either a redis:// or the Valkey-branded equivalent;
	// both are wire-compatible, so one DSN shape covers both.
	RedisURL string = "redis://127.0.0.1:6379/0"

	LockTTLMs     int64 = 10000
	PresenceTTLMs int64 = 30000

	RoomDBURI           = "file:storages/rooms.db?_foreign_keys=on"
	RoomDefaultMaxUsers = 0 // 0 means unlimited

	// ServerID overrides the auto-derived persistent server ID used to tag
	// this process's broadcast-bus publishes. Leave empty to auto-derive.
	ServerID string

	StoragePath = "storages"
)

func init() {
	if v := strings.TrimSpace(os.Getenv("APP_PORT")); v != "" {
		AppPort = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_DEBUG")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			AppDebug = b
		}
	}

	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		RedisURL = v
	} else if v := strings.TrimSpace(os.Getenv("VALKEY_URL")); v != "" {
		RedisURL = v
	}

	if v := strings.TrimSpace(os.Getenv("LOCK_TTL_MS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			LockTTLMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("PRESENCE_TTL_MS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			PresenceTTLMs = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("ROOM_DB_URI")); v != "" {
		RoomDBURI = v
	}
	if v := strings.TrimSpace(os.Getenv("ROOM_DEFAULT_MAX_USERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			RoomDefaultMaxUsers = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("SERVER_ID")); v != "" {
		ServerID = v
	}
	if v := strings.TrimSpace(os.Getenv("STORAGE_PATH")); v != "" {
		StoragePath = v
	}
}
