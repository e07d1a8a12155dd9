package proc

import "github.com/leeineian/gtatunes/catalog"

type variantFunc func(song catalog.Song, settings *Settings, intn func(int) int) catalog.PlayOptions

// playVariants selects the audio variant of a song per game. Games without an
// entry play the bare song.
var playVariants = map[catalog.GameKey]variantFunc{
	catalog.GameSanAndreas: sanAndreasVariant,
}

func playOptions(song catalog.Song, settings *Settings, intn func(int) int) catalog.PlayOptions {
	if fn, ok := playVariants[song.GameKey]; ok {
		return fn(song, settings, intn)
	}
	return catalog.PlayOptions{}
}

func sanAndreasVariant(song catalog.Song, settings *Settings, intn func(int) int) catalog.PlayOptions {
	if !settings.Get(SettingEnableDjs) {
		return catalog.PlayOptions{}
	}
	return catalog.PlayOptions{
		Intro: randomVariant(song.IntroCount, intn),
		Outro: randomVariant(song.OutroCount, intn),
	}
}

// randomVariant picks a variant in [1, count], or 0 when the song has none.
func randomVariant(count int, intn func(int) int) int {
	if count <= 0 {
		return 0
	}
	return 1 + intn(count)
}
