package profiles

import (
	"fmt"
	"net/url"
	"strings"
)

// AvatarStyle is a DiceBear avatar style offered in profile settings.
type AvatarStyle struct {
	ID    string
	Label string
}

// AvatarStyles lists the selectable styles.
var AvatarStyles = []AvatarStyle{
	{ID: "adventurer", Label: "Avventuriero"},
	{ID: "avataaars", Label: "Cartoon"},
	{ID: "bottts", Label: "Robot"},
	{ID: "fun-emoji", Label: "Emoji"},
	{ID: "lorelei", Label: "Moderno"},
	{ID: "personas", Label: "Persona"},
}

// AvatarSeeds are the predefined seeds offered alongside the user's name.
var AvatarSeeds = []string{
	"Felix", "Aneka", "Zoey", "Lucky", "Shadow", "Buddy", "Max", "Luna",
	"Charlie", "Bella", "Milo", "Lucy", "Oliver", "Molly", "Leo", "Daisy",
	"Toby", "Rosie", "Jack", "Ruby", "Finn", "Coco", "Oscar", "Lily",
}

// PlaceholderAvatarURL is shown for users without an avatar.
const PlaceholderAvatarURL = "https://picsum.photos/100/100"

const avatarBackgrounds = "b6e3f4,c0aede,d1d4f9,ffd5dc,ffdfbf"

// AvatarURL builds a DiceBear avatar URL for style and seed.
func AvatarURL(style, seed string) string {
	return fmt.Sprintf("https://api.dicebear.com/7.x/%s/svg?seed=%s&size=100&backgroundColor=%s",
		url.PathEscape(style), strings.ReplaceAll(url.QueryEscape(seed), "+", "%20"), avatarBackgrounds)
}

// PreviewAvatars returns up to count avatar URLs for style using the first seeds.
func PreviewAvatars(style string, count int) []string {
	if count <= 0 || count > 8 {
		count = 6
	}
	out := make([]string, 0, count)
	for _, seed := range AvatarSeeds[:count] {
		out = append(out, AvatarURL(style, seed))
	}
	return out
}

// IsAvatarStyle reports whether id names a known style.
func IsAvatarStyle(id string) bool {
	for _, s := range AvatarStyles {
		if s.ID == id {
			return true
		}
	}
	return false
}
