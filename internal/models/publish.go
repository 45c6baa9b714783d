package models

import "time"

// ImageTask is one image prepared for upload. Index is the position of the
// occurrence in the scanned document.
type ImageTask struct {
	Index             int
	SourceRef         string
	Payload           []byte
	SuggestedFilename string
}

// UploadResult maps an original image reference to its hosted URL.
type UploadResult map[string]string

// Account is one set of publishing credentials.
type Account struct {
	Name          string `yaml:"name" json:"name"`
	AppID         string `yaml:"app_id" json:"app_id"`
	AppSecret     string `yaml:"app_secret" json:"-"`
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	DefaultAuthor string `yaml:"default_author" json:"default_author,omitempty"`
}

// DisplayName falls back to the app id when no name is configured.
func (a Account) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.AppID
}

// PublishRecord is a stored entry of a successful draft creation.
type PublishRecord struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Account   string    `json:"account"`
	AppID     string    `json:"app_id"`
	MediaID   string    `json:"media_id"`
	Title     string    `json:"title"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}
