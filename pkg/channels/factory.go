package channels

import "strings"

type constructor func(name string) Channel

var moduleTypes = map[string]constructor{
	"VQWK":  func(name string) Channel { return NewIntegratingChannel(name) },
	"ADC18": func(name string) Channel { return NewADC18Channel(name) },
	"SIS3801D24": func(name string) Channel {
		return NewScalerChannel(name, ScalerMaskD24, 0)
	},
	"SIS3801D32": func(name string) Channel {
		return NewScalerChannel(name, ScalerMaskD32, 0)
	},
	"SIS3801": func(name string) Channel {
		return NewScalerChannel(name, ScalerMaskD32, 0)
	},
	"STR7200": func(name string) Channel {
		return NewScalerChannel(name, ScalerMaskD32, 0)
	},
}

// NewChannel builds a channel by its module type name as written in the
// channel map, case-insensitively.
func NewChannel(moduleType, name string) (Channel, error) {
	build, ok := moduleTypes[strings.ToUpper(moduleType)]
	if !ok {
		return nil, &ErrUnknownModule{ModuleType: moduleType}
	}
	return build(name), nil
}

// WordsPerChannel and ChannelsPerModule give the buffer layout of a
// module type; ok is false for unknown types.
func WordsPerChannel(moduleType string) (words int, ok bool) {
	switch strings.ToUpper(moduleType) {
	case "VQWK":
		return IntegratingWordsPerChannel, true
	case "ADC18":
		return ADC18WordsPerChannel, true
	case "SIS3801D24", "SIS3801D32", "SIS3801", "STR7200":
		return ScalerWordsPerChannel, true
	}
	return 0, false
}

func ChannelsPerModule(moduleType string) (channels int, ok bool) {
	switch strings.ToUpper(moduleType) {
	case "VQWK":
		return IntegratingChannelsPerModule, true
	case "ADC18":
		return ADC18ChannelsPerModule, true
	case "SIS3801D24", "SIS3801D32", "SIS3801", "STR7200":
		return ScalerChannelsPerModule, true
	}
	return 0, false
}
