package leaderboard

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// PlaceholderProjectID marks a config that was never filled in.
	PlaceholderProjectID = "YOUR_PROJECT_ID"

	DefaultAppID = "default-app-id"
)

// RemoteConfig describes the hosted project that stores scores.
type RemoteConfig struct {
	APIKey            string `json:"apiKey"`
	AuthDomain        string `json:"authDomain"`
	ProjectID         string `json:"projectId"`
	StorageBucket     string `json:"storageBucket"`
	MessagingSenderID string `json:"messagingSenderId"`
	AppID             string `json:"appId"`
}

// PlaceholderConfig is the shipped local config with nothing filled in.
func PlaceholderConfig() RemoteConfig {
	return RemoteConfig{
		APIKey:            "YOUR_API_KEY",
		AuthDomain:        "YOUR_PROJECT.firebaseapp.com",
		ProjectID:         PlaceholderProjectID,
		StorageBucket:     "YOUR_PROJECT.firebasestorage.app",
		MessagingSenderID: "SENDER_ID",
		AppID:             "APP_ID",
	}
}

// Configured reports whether remote operations are allowed.
func (c RemoteConfig) Configured() bool {
	id := strings.TrimSpace(c.ProjectID)
	return id != "" && id != PlaceholderProjectID
}

func ParseRemoteConfig(raw string) (RemoteConfig, error) {
	var c RemoteConfig
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return RemoteConfig{}, fmt.Errorf("parse remote config: %w", err)
	}
	return c, nil
}

// Config is everything a Client needs besides its collaborators.
type Config struct {
	Remote RemoteConfig

	// AppID namespaces the collections of one deployment.
	AppID string
}
