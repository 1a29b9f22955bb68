package settings

import "picchat/internal/models"

// MaskPrefix marks secrets in admin responses; values submitted back
// with this prefix are treated as unchanged.
const MaskPrefix = "••••••"

// Masked is the admin-facing view of the settings row: endpoints in
// plaintext, secrets reduced to a masked suffix plus a configured flag.
type Masked struct {
	ImageAPIURL         string `json:"imageApiUrl"`
	ImageAPIKey         string `json:"imageApiKey"`
	ImageModel          string `json:"imageModel"`
	HasImageAPIKey      bool   `json:"hasImageApiKey"`
	ModerationAPIURL    string `json:"moderationApiUrl"`
	ModerationAPIKey    string `json:"moderationApiKey"`
	ModerationModel     string `json:"moderationModel"`
	HasModerationAPIKey bool   `json:"hasModerationApiKey"`
	SpeechAPIURL        string `json:"speechApiUrl"`
	SpeechAPIKey        string `json:"speechApiKey"`
	HasSpeechAPIKey     bool   `json:"hasSpeechApiKey"`
	ImagebedURL         string `json:"imagebedUrl"`
	ImagebedToken       string `json:"imagebedToken"`
	HasImagebedToken    bool   `json:"hasImagebedToken"`
	HasAdminPassword    bool   `json:"hasAdminPassword"`
}

// Mask builds the client-safe view of a settings row.
func Mask(st *models.Settings) Masked {
	return Masked{
		ImageAPIURL:         st.ImageAPIURL,
		ImageAPIKey:         maskSecret(st.ImageAPIKey),
		ImageModel:          st.ImageModel,
		HasImageAPIKey:      st.ImageAPIKey != "",
		ModerationAPIURL:    st.ModerationAPIURL,
		ModerationAPIKey:    maskSecret(st.ModerationAPIKey),
		ModerationModel:     st.ModerationModel,
		HasModerationAPIKey: st.ModerationAPIKey != "",
		SpeechAPIURL:        st.SpeechAPIURL,
		SpeechAPIKey:        maskSecret(st.SpeechAPIKey),
		HasSpeechAPIKey:     st.SpeechAPIKey != "",
		ImagebedURL:         st.ImagebedURL,
		ImagebedToken:       maskSecret(st.ImagebedToken),
		HasImagebedToken:    st.ImagebedToken != "",
		HasAdminPassword:    st.AdminPasswordHash != "",
	}
}

func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	suffix := secret
	if len(secret) > 4 {
		suffix = secret[len(secret)-4:]
	}
	return MaskPrefix + suffix
}
