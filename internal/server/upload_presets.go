package server

import "sort"

const (
	PresetCover        = "cover"
	PresetAvatar       = "avatar"
	PresetProfileCover = "profile-cover"

	coverMaxBytes  = 15 << 20
	avatarMaxBytes = 5 << 20
)

// DefaultAllowedMediaTypes is the accepted upload set.
var DefaultAllowedMediaTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

// UploadPresets returns the named single-file compositions, one per logical
// upload kind. limits overrides MaxFileBytes per preset name when positive.
func UploadPresets(limits map[string]int64) map[string]UploadOptions {
	presets := map[string]UploadOptions{
		PresetCover:        singleImageUpload("capa", coverMaxBytes),
		PresetAvatar:       singleImageUpload("avatar", avatarMaxBytes),
		PresetProfileCover: singleImageUpload("capa", coverMaxBytes),
	}
	for name, limit := range limits {
		preset, ok := presets[name]
		if !ok || limit <= 0 {
			continue
		}
		preset.MaxFileBytes = limit
		presets[name] = preset
	}
	return presets
}

// PresetNames lists preset names in sorted order.
func PresetNames(presets map[string]UploadOptions) []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func singleImageUpload(field string, maxBytes int64) UploadOptions {
	return UploadOptions{
		Fields:            []string{field},
		AttachReferences:  true,
		MaxFileBytes:      maxBytes,
		MaxFiles:          1,
		AllowedMediaTypes: append([]string(nil), DefaultAllowedMediaTypes...),
	}
}
