package configloader

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// decode maps viper settings onto target. Environment values always
// arrive as strings, so durations, comma lists and bools are parsed here.
func decode(input map[string]interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "mapstructure",
		Result:  target,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToTrimmedSliceHook,
			stringToBoolHook,
			mapstructure.TextUnmarshallerHookFunc(),
		),
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// stringToTrimmedSliceHook splits "a, b,,c" into [a b c].
func stringToTrimmedSliceHook(f, t reflect.Kind, data interface{}) (interface{}, error) {
	if f != reflect.String || t != reflect.Slice {
		return data, nil
	}
	var out []string
	for _, part := range strings.Split(data.(string), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}

// stringToBoolHook treats an empty string as false.
func stringToBoolHook(f, t reflect.Kind, data interface{}) (interface{}, error) {
	if f != reflect.String || t != reflect.Bool {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
