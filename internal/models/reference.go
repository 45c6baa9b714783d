package models

import "strings"

// LinkKind classifies a reference found in document text.
type LinkKind int

const (
	KindWikiLink LinkKind = iota
	KindEmbed
	KindImage
)

func (k LinkKind) String() string {
	switch k {
	case KindWikiLink:
		return "wikilink"
	case KindEmbed:
		return "embed"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// Reference is a link occurrence in a document. Start and End are byte
// offsets into the text the reference was found in.
type Reference struct {
	Raw    string   `json:"raw"`
	Target string   `json:"target"`
	Alias  string   `json:"alias,omitempty"`
	Kind   LinkKind `json:"kind"`
	Start  int      `json:"start"`
	End    int      `json:"end"`
}

// FolderMode tells how the attachment folder setting is interpreted.
type FolderMode int

const (
	// FolderNone disables the attachment-folder lookup.
	FolderNone FolderMode = iota
	// FolderFixed is a folder relative to the vault root.
	FolderFixed
	// FolderRelative is a folder relative to the referencing file.
	FolderRelative
)

// AttachmentFolderConfig is the parsed form of the attachment folder setting.
type AttachmentFolderConfig struct {
	Mode  FolderMode
	Value string
}

// ParseAttachmentFolder interprets a raw setting. A leading "./" selects
// FolderRelative; "/" or a plain folder name selects FolderFixed.
func ParseAttachmentFolder(raw string) AttachmentFolderConfig {
	s := strings.TrimSpace(raw)
	if s == "" {
		return AttachmentFolderConfig{Mode: FolderNone}
	}
	if s == "." || s == "./" || strings.HasPrefix(s, "./") {
		v := strings.Trim(strings.TrimPrefix(strings.TrimPrefix(s, "."), "/"), "/")
		return AttachmentFolderConfig{Mode: FolderRelative, Value: v}
	}
	return AttachmentFolderConfig{Mode: FolderFixed, Value: strings.Trim(s, "/")}
}
