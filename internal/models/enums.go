package models

import "strings"

type Sport string

const (
	SportFootball   Sport = "football"
	SportTennis     Sport = "tennis"
	SportPadel      Sport = "padel"
	SportVolleyball Sport = "volleyball"
	SportBasketball Sport = "basketball"
	SportBadminton  Sport = "badminton"
)

var sportNames = map[Sport]string{
	SportFootball:   "Fútbol",
	SportTennis:     "Tenis",
	SportPadel:      "Pádel",
	SportVolleyball: "Voleibol",
	SportBasketball: "Baloncesto",
	SportBadminton:  "Bádminton",
}

// ParseSport accepts any casing ("Padel", "PADEL").
func ParseSport(s string) (Sport, bool) {
	sp := Sport(strings.ToLower(strings.TrimSpace(s)))
	_, ok := sportNames[sp]
	return sp, ok
}

func (s Sport) Valid() bool {
	_, ok := sportNames[s]
	return ok
}

// DisplayName is the label shown in the app. Unknown values show as-is.
func (s Sport) DisplayName() string {
	if name, ok := sportNames[s]; ok {
		return name
	}
	return string(s)
}

type SkillLevel string

const (
	SkillBeginner     SkillLevel = "beginner"
	SkillIntermediate SkillLevel = "intermediate"
	SkillAdvanced     SkillLevel = "advanced"
	SkillExpert       SkillLevel = "expert"

	DefaultSkillLevel = SkillBeginner
)

var skillNames = map[SkillLevel]string{
	SkillBeginner:     "Principiante",
	SkillIntermediate: "Intermedio",
	SkillAdvanced:     "Avanzado",
	SkillExpert:       "Experto",
}

func (l SkillLevel) Valid() bool {
	_, ok := skillNames[l]
	return ok
}

// DisplayName treats an empty level as the default (beginner).
func (l SkillLevel) DisplayName() string {
	if l == "" {
		return skillNames[DefaultSkillLevel]
	}
	if name, ok := skillNames[l]; ok {
		return name
	}
	return string(l)
}

// FavoriteSportNames maps a profile's favorite sports to display labels.
func FavoriteSportNames(sports []Sport) []string {
	names := make([]string, 0, len(sports))
	for _, s := range sports {
		names = append(names, s.DisplayName())
	}
	return names
}
