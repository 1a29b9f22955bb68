package models

import "time"

// SettingsID is the fixed key of the single settings row.
const SettingsID = "global"

// Settings is the singleton configuration record holding external
// service endpoints and credentials. Secrets are never returned to
// clients in plaintext.
type Settings struct {
	ID                string
	ImageAPIURL       string
	ImageAPIKey       string
	ImageModel        string
	ModerationAPIURL  string
	ModerationAPIKey  string
	ModerationModel   string
	SpeechAPIURL      string
	SpeechAPIKey      string
	ImagebedURL       string
	ImagebedToken     string
	AdminPasswordHash string
	UpdatedAt         time.Time
}
