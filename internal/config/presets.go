package config

import "sort"

// DefaultPreset is used when no preset, or an unknown one, is configured.
const DefaultPreset = "multilingual"

// Preset is a language mode for the agent. Language is the STT hint; empty
// lets the provider detect it.
type Preset struct {
	Label       string
	Language    string
	Instruction string
}

const multilingualInstruction = "Detect the caller's language from their first message and reply in that SAME language for the entire call. " +
	"Supported: Hindi, Hinglish, English, Tamil, Telugu, Gujarati, Bengali, Marathi, Kannada, Malayalam. " +
	"Switch if caller switches."

var presets = map[string]Preset{
	"hinglish": {
		Label:       "Hinglish (Hindi+English)",
		Instruction: "Speak in natural Hinglish, mixing Hindi and English like educated Indians do. Default to Hindi but use English words when more natural.",
	},
	"hindi": {
		Label:       "Hindi",
		Language:    "hi",
		Instruction: "Speak only in pure Hindi. Avoid English words wherever a Hindi equivalent exists.",
	},
	"english": {
		Label:       "English (India)",
		Language:    "en",
		Instruction: "Speak only in Indian English with a warm, professional tone.",
	},
	"tamil": {
		Label:       "Tamil",
		Language:    "ta",
		Instruction: "Speak only in Tamil. Use standard spoken Tamil for a professional context.",
	},
	"telugu": {
		Label:       "Telugu",
		Language:    "te",
		Instruction: "Speak only in Telugu. Use clear, polite spoken Telugu.",
	},
	"gujarati": {
		Label:       "Gujarati",
		Language:    "gu",
		Instruction: "Speak only in Gujarati. Use polite, professional Gujarati.",
	},
	"bengali": {
		Label:       "Bengali",
		Language:    "bn",
		Instruction: "Speak only in Bengali (Bangla). Use standard, polite spoken Bengali.",
	},
	"marathi": {
		Label:       "Marathi",
		Language:    "mr",
		Instruction: "Speak only in Marathi. Use polite, standard spoken Marathi.",
	},
	"kannada": {
		Label:       "Kannada",
		Language:    "kn",
		Instruction: "Speak only in Kannada. Use clear, professional spoken Kannada.",
	},
	"malayalam": {
		Label:       "Malayalam",
		Language:    "ml",
		Instruction: "Speak only in Malayalam. Use polite, professional spoken Malayalam.",
	},
	"multilingual": {
		Label:       "Multilingual (Auto)",
		Instruction: multilingualInstruction,
	},
}

// LookupPreset returns the named preset, falling back to DefaultPreset.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	if !ok {
		return presets[DefaultPreset], false
	}
	return p, true
}

// PresetNames lists the known presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
