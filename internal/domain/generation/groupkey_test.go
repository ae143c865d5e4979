package generation

import (
	"testing"

	"github.com/google/uuid"
)

func TestGroupKey(t *testing.T) {
	id := uuid.MustParse("7f0c1c7e-4c1b-4f7e-9d55-0a7d1f3c9e10")
	cases := []struct {
		name string
		img  ImageAsset
		want string
	}{
		{"storyboard by shot", ImageAsset{Type: ImageStoryboard, ShotID: "shot_2", SceneID: "scene_1"}, "storyboard:shot_2"},
		{"character sheet", ImageAsset{Type: ImageCharacterSheet, SubjectID: "char_1"}, "subject:char_1:character_sheet"},
		{"character view", ImageAsset{Type: ImageCharacterView, SubjectID: "char_1", View: "side"}, "subject:char_1:view:side"},
		{"scene", ImageAsset{Type: ImageScene, SceneID: "scene_3"}, "scene:scene_3"},
		{"storyboard without shot falls to scene", ImageAsset{Type: ImageStoryboard, SceneID: "scene_1"}, "scene:scene_1"},
		{"single", ImageAsset{ID: id, Type: ImageScene}, "single:" + id.String()},
	}
	for _, tc := range cases {
		if got := GroupKey(&tc.img); got != tc.want {
			t.Fatalf("%s: want=%q got=%q", tc.name, tc.want, got)
		}
	}
}
