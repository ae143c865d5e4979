package generation

// GroupKey names the logical image an asset is a variant of. Regenerations
// inherit the key of their source so adopt can switch between them.
func GroupKey(a *ImageAsset) string {
	switch {
	case a.Type == ImageStoryboard && a.ShotID != "":
		return "storyboard:" + a.ShotID
	case a.SubjectID != "" && a.Type == ImageCharacterSheet:
		return "subject:" + a.SubjectID + ":" + ImageCharacterSheet
	case a.SubjectID != "" && a.View != "":
		return "subject:" + a.SubjectID + ":view:" + a.View
	case a.SceneID != "":
		return "scene:" + a.SceneID
	default:
		return "single:" + a.ID.String()
	}
}
